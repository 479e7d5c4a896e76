package engine

import (
	"context"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okkul/relive/internal/models"
	"github.com/okkul/relive/internal/state"
)

func videoRep() *models.Representation {
	return &models.Representation{
		ID:        "v-hd",
		MimeType:  "video/mp4",
		Bandwidth: 800000,
		MediaPath: "v-hd/seg-$Time$.m4v",
		InitPath:  "v-hd/init.m4v",
	}
}

func audioRep() *models.Representation {
	return &models.Representation{
		ID:        "a0",
		MimeType:  "audio/mp4",
		Bandwidth: 64000,
		MediaPath: "a0/seg-$Time$.m4a",
		InitPath:  "a0/init.m4a",
	}
}

// newTestBackfiller wires a backfiller against a fake origin. A small
// searchRange keeps exhaustion-driven scenarios fast.
func newTestBackfiller(t *testing.T, st *state.State, srv *httptest.Server, rep *models.Representation, searchRange int64) (*backfiller, *recordSink) {
	t.Helper()

	base, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)

	sink := &recordSink{}
	return &backfiller{
		fetcher:     &Fetcher{St: st, Client: srv.Client()},
		st:          st,
		base:        base,
		rep:         rep,
		sink:        sink,
		dir:         t.TempDir(),
		parallel:    10,
		searchRange: searchRange,
	}, sink
}

// prime marks the newest segment as already downloaded, the way the live
// tail does before the backward search starts.
func prime(st *state.State, m models.MediaType, t int64) {
	st.RecordDownload(m, t)
	st.SetBackPTS(m, t)
}

func hasLine(lines []string, substr string) bool {
	for _, l := range lines {
		if strings.Contains(l, substr) {
			return true
		}
	}
	return false
}

func TestBackfillIdealStream(t *testing.T) {
	origin := newFakeOrigin()
	origin.addGrid(t, "m4v", 90000, 100000, 2000)
	srv := origin.serve(t)

	st := state.New()
	prime(st, models.MediaVideo, 100000)

	b, _ := newTestBackfiller(t, st, srv, videoRep(), defaultSearchRange)
	require.NoError(t, b.run(context.Background(), 90000))

	assert.Equal(t, int64(90000), b.latest)
	assert.Equal(t, 0, b.skipped)
	for ts := int64(90000); ts < 100000; ts += 2000 {
		assert.True(t, st.Downloaded(models.MediaVideo, ts), "segment %d", ts)
	}

	// Five successes, all with delta 2000, on top of the seeded prior.
	snap := st.DeltasSnapshot(models.MediaVideo)
	assert.Equal(t, int64(2000), snap[0].Delta)
	assert.Equal(t, 105, snap[0].Count)

	// No timestamp is ever probed twice within a session.
	seen := make(map[int64]int)
	for _, ts := range origin.requested() {
		seen[ts]++
		assert.Equal(t, 1, seen[ts], "timestamp %d probed twice", ts)
	}
}

func TestBackfillSingleGap(t *testing.T) {
	origin := newFakeOrigin()
	origin.addGrid(t, "m4v", 92000, 100000, 2000)
	origin.remove("m4v", 96000)
	srv := origin.serve(t)

	st := state.New()
	prime(st, models.MediaVideo, 100000)

	b, sink := newTestBackfiller(t, st, srv, videoRep(), 0)
	require.NoError(t, b.run(context.Background(), 92000))

	assert.Equal(t, int64(92000), b.latest)
	assert.Equal(t, 0, b.skipped, "skipped resets on the next success")
	assert.False(t, st.Downloaded(models.MediaVideo, 96000))
	assert.True(t, st.Downloaded(models.MediaVideo, 94000))
	assert.True(t, st.Downloaded(models.MediaVideo, 92000))
	assert.True(t, hasLine(sink.all(), "assuming missing segment"))
}

func TestBackfillVariableRate(t *testing.T) {
	origin := newFakeOrigin()
	for _, ts := range []int64{97967, 95967, 93934} {
		origin.add(t, "m4v", ts, uint64(ts))
	}
	srv := origin.serve(t)

	st := state.New()
	prime(st, models.MediaVideo, 100000)

	b, sink := newTestBackfiller(t, st, srv, videoRep(), 0)
	require.NoError(t, b.run(context.Background(), 93934))

	assert.Equal(t, int64(93934), b.latest)
	assert.False(t, hasLine(sink.all(), "giving up"))

	// The 2033 delta was observed twice on top of its seeded prior.
	snap := st.DeltasSnapshot(models.MediaVideo)
	c := 0
	for _, dc := range snap {
		if dc.Delta == 2033 {
			c = dc.Count
		}
	}
	assert.GreaterOrEqual(t, c, 3)
}

func TestBackfillPtsRejectionThenRecovery(t *testing.T) {
	origin := newFakeOrigin()
	origin.add(t, "m4v", 95500, 50000) // decodes far before the watermark
	srv := origin.serve(t)

	st := state.New()
	prime(st, models.MediaVideo, 96000)
	// Make 500 the dominant delta so 95500 is the first candidate probed.
	for i := 0; i < 200; i++ {
		st.RecordDelta(models.MediaVideo, 500)
	}

	b, sink := newTestBackfiller(t, st, srv, videoRep(), 0)
	require.NoError(t, b.run(context.Background(), 95000))

	// The rejection raised the lower bound, the search dried up, and one
	// gap-recovery step reopened everything.
	assert.True(t, hasLine(sink.all(), "PTS too early"))
	assert.Equal(t, int64(94000), b.latest)
	assert.Equal(t, 1, b.skipped)
	assert.Zero(t, b.lowerBound)
	assert.Empty(t, b.ptsTooEarly)

	// The rejected timestamp is eligible for future batches again.
	_, stillVisited := b.visited[95500]
	assert.False(t, stillVisited)
}

func TestBackfillCatastrophicSparsity(t *testing.T) {
	origin := newFakeOrigin()
	srv := origin.serve(t)

	st := state.New()
	prime(st, models.MediaVideo, 100000)

	b, sink := newTestBackfiller(t, st, srv, videoRep(), 0)
	require.NoError(t, b.run(context.Background(), 0))

	assert.Equal(t, skipCeiling+1, b.skipped)
	assert.Equal(t, int64(100000-6*assumedMissingDelta), b.latest)
	assert.Equal(t, 1, st.DownloadedCount(models.MediaVideo))
	assert.True(t, hasLine(sink.all(), "giving up"))
}

func TestBackfillNothingDownloaded(t *testing.T) {
	origin := newFakeOrigin()
	srv := origin.serve(t)

	b, _ := newTestBackfiller(t, state.New(), srv, videoRep(), 0)
	err := b.run(context.Background(), 0)
	assert.Error(t, err)
}

func TestBackfillCancellation(t *testing.T) {
	origin := newFakeOrigin()
	origin.addGrid(t, "m4v", 0, 100000, 2000)
	srv := origin.serve(t)

	st := state.New()
	prime(st, models.MediaVideo, 100000)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b, _ := newTestBackfiller(t, st, srv, videoRep(), 0)
	err := b.run(ctx, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDownloadBackwardsTwoRepresentations(t *testing.T) {
	origin := newFakeOrigin()
	origin.addGrid(t, "m4v", 90000, 100000, 2000)
	origin.addGrid(t, "m4a", 90500, 100000, 1900)
	srv := origin.serve(t)

	st := state.New()
	prime(st, models.MediaVideo, 100000)
	prime(st, models.MediaAudio, 100000)

	base, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)

	reps := []RepSink{
		{Rep: videoRep(), Sink: &recordSink{}},
		{Rep: audioRep(), Sink: &recordSink{}},
	}
	dir := t.TempDir()
	require.NoError(t, DownloadBackwards(context.Background(), st, srv.Client(), base, reps, 90500, dir, 10))

	videoSnap := st.DeltasSnapshot(models.MediaVideo)
	audioSnap := st.DeltasSnapshot(models.MediaAudio)
	count := func(snap []state.DeltaCount, delta int64) int {
		for _, dc := range snap {
			if dc.Delta == delta {
				return dc.Count
			}
		}
		return 0
	}

	// Each loop learned only its own stream's cadence.
	assert.Equal(t, 105, count(videoSnap, 2000))
	assert.Equal(t, 10, count(videoSnap, 1900))
	assert.Equal(t, 15, count(audioSnap, 1900))
	assert.Equal(t, 100, count(audioSnap, 2000))

	assert.True(t, st.Downloaded(models.MediaVideo, 90000))
	assert.True(t, st.Downloaded(models.MediaAudio, 90500))
}
