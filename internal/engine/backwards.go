package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/okkul/relive/internal/models"
	"github.com/okkul/relive/internal/state"
)

// Tunables for the backward discovery loop.
const (
	// assumedMissingDelta is how far latest jumps back when no candidate
	// within the search range addresses a real segment.
	assumedMissingDelta = 2000

	// skipCeiling bounds consecutive assumed-missing segments before the
	// loop gives up on the stream's tail.
	skipCeiling = 5

	// concurrencyLimit caps in-flight probes per representation.
	concurrencyLimit = 10
)

// RepSink pairs a representation with the progress sink its loop reports
// through.
type RepSink struct {
	Rep  *models.Representation
	Sink ProgressSink
}

// DownloadBackwards runs one backward discovery loop per representation in
// parallel until every loop has reached startFrame or given up. The first
// unrecoverable error cancels the peer loops.
func DownloadBackwards(ctx context.Context, st *state.State, client *http.Client, base *url.URL, reps []RepSink, startFrame int64, dir string, parallelCandidates int) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, rs := range reps {
		b := &backfiller{
			fetcher:     &Fetcher{St: st, Client: client},
			st:          st,
			base:        base,
			rep:         rs.Rep,
			sink:        rs.Sink,
			dir:         dir,
			parallel:    parallelCandidates,
			searchRange: defaultSearchRange,
		}
		g.Go(func() error {
			return b.run(ctx, startFrame)
		})
	}
	return g.Wait()
}

// backfiller walks one representation's segments backwards from the oldest
// known timestamp toward startFrame, inferring each predecessor from the
// delta histogram.
type backfiller struct {
	fetcher     *Fetcher
	st          *state.State
	base        *url.URL
	rep         *models.Representation
	sink        ProgressSink
	dir         string
	parallel    int
	searchRange int64

	// Loop state, initialized by run. Candidates ever proposed this
	// session stay in visited; candidates rejected for an early PTS are
	// tracked separately so a confirmed gap can reinstate them.
	latest      int64
	visited     map[int64]struct{}
	ptsTooEarly map[int64]struct{}
	lowerBound  int64
	prevDelta   int64
	skipped     int
}

type probeResult struct {
	cand candidate
	err  error
}

func (b *backfiller) run(ctx context.Context, startFrame int64) error {
	m := b.rep.MediaType()

	latest, ok := b.st.MinDownloaded(m)
	if !ok {
		return fmt.Errorf("%s: no downloaded segment to search backwards from", m)
	}
	b.latest = latest
	b.visited = make(map[int64]struct{})
	b.ptsTooEarly = make(map[int64]struct{})

	for b.latest > startFrame {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch := generateCandidates(b.latest, b.visited, b.lowerBound, b.st.DeltasSnapshot(m), b.parallel, b.searchRange)
		if len(batch) == 0 {
			if b.recoverGap(m) {
				continue
			}
			break
		}

		b.sink.SetMessage(fmt.Sprintf("%s: oldest %d, probing %d candidates, last delta %d", m, b.latest, len(batch), b.prevDelta))
		b.sink.Tick()

		// After a confirmed gap the watermark is stale by at least one
		// segment and would reject the legitimate predecessor.
		results := b.probeBatch(ctx, m, batch, b.skipped > 0)

		found := false
		var bestT, bestDelta int64
		for _, r := range results {
			switch {
			case r.err == nil:
				b.st.RecordDelta(m, r.cand.delta)
				if !found || r.cand.t > bestT {
					found, bestT, bestDelta = true, r.cand.t, r.cand.delta
				}
			case errors.Is(r.err, ErrStatusNotFound):
				// The common miss; nothing to do.
			case errors.Is(r.err, ErrPtsTooEarly):
				b.ptsTooEarly[r.cand.t] = struct{}{}
				if r.cand.t > b.lowerBound {
					b.lowerBound = r.cand.t
				}
				b.sink.Println(fmt.Sprintf("%s: found %d but PTS too early, lower bound now %d", m, r.cand.t, b.lowerBound))
			case errors.Is(r.err, context.Canceled), errors.Is(r.err, context.DeadlineExceeded):
				return r.err
			default:
				b.sink.Println(fmt.Sprintf("%s: probe %d failed: %v", m, r.cand.t, r.err))
			}
		}

		if found {
			b.prevDelta = bestDelta
			b.latest = bestT
			b.skipped = 0
			b.reinstatePtsRejected()
		}
	}

	b.sink.FinishWithMessage(fmt.Sprintf("%s: archive reaches back to %d", m, b.latest))
	return nil
}

// recoverGap assumes a segment is genuinely missing at the current
// position: jump latest backwards by a fixed amount, reopen the search
// space, and give PTS-rejected candidates another chance. Returns false
// once too many consecutive segments have been written off.
func (b *backfiller) recoverGap(m models.MediaType) bool {
	b.latest -= assumedMissingDelta
	b.lowerBound = 0
	b.visited[b.latest] = struct{}{}
	b.reinstatePtsRejected()

	b.skipped++
	if b.skipped > skipCeiling {
		b.sink.Println(fmt.Sprintf("%s: %d segments missing in a row, giving up at %d", m, b.skipped, b.latest))
		return false
	}
	b.sink.Println(fmt.Sprintf("%s: assuming missing segment, skipping back to %d", m, b.latest))
	return true
}

// reinstatePtsRejected makes candidates previously rejected for an early
// PTS eligible for future batches; the watermark that rejected them is
// stale once a gap is confirmed or a predecessor lands.
func (b *backfiller) reinstatePtsRejected() {
	for t := range b.ptsTooEarly {
		delete(b.visited, t)
		delete(b.ptsTooEarly, t)
	}
}

// probeBatch issues all candidate fetches concurrently under the probe
// semaphore and drains every result: even after a hit, the remaining
// probes still carry delta and watermark signal.
func (b *backfiller) probeBatch(ctx context.Context, m models.MediaType, batch []candidate, ignorePTS bool) []probeResult {
	results := make([]probeResult, len(batch))
	sem := make(chan struct{}, concurrencyLimit)
	var wg sync.WaitGroup

	for i, c := range batch {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = probeResult{cand: c, err: b.probe(ctx, m, c, ignorePTS)}
		}()
	}
	wg.Wait()
	return results
}

func (b *backfiller) probe(ctx context.Context, m models.MediaType, c candidate, ignorePTS bool) error {
	u, err := b.rep.DownloadURL(b.base, c.t)
	if err != nil {
		return err
	}
	name, err := SegmentFilename(u)
	if err != nil {
		return err
	}
	return b.fetcher.FetchSegment(ctx, m, c.t, ignorePTS, u, filepath.Join(b.dir, name))
}
