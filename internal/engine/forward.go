package engine

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"time"

	"github.com/okkul/relive/internal/models"
	"github.com/okkul/relive/internal/parser"
	"github.com/okkul/relive/internal/state"
)

// manifestPollInterval paces live-tail manifest refreshes. The origin
// publishes a new segment every couple of seconds.
const manifestPollInterval = 2 * time.Second

// DownloadTimelines fetches every not-yet-downloaded segment the given
// representations currently enumerate, init segments included, and feeds
// the timeline gaps into the delta histogram. Per-segment failures are
// reported and skipped; init failures are fatal.
func DownloadTimelines(ctx context.Context, st *state.State, client *http.Client, base *url.URL, reps []*models.Representation, dir string, sink ProgressSink) error {
	f := &Fetcher{St: st, Client: client}
	for _, rep := range reps {
		if err := downloadTimeline(ctx, f, st, base, rep, dir, sink); err != nil {
			return err
		}
	}
	return nil
}

func downloadTimeline(ctx context.Context, f *Fetcher, st *state.State, base *url.URL, rep *models.Representation, dir string, sink ProgressSink) error {
	m := rep.MediaType()

	if !st.HasInit(m) {
		u, err := rep.InitURL(base)
		if err != nil {
			return fmt.Errorf("%s: resolve init URL: %w", m, err)
		}
		name, err := SegmentFilename(u)
		if err != nil {
			return fmt.Errorf("%s: init segment: %w", m, err)
		}
		if err := f.FetchInit(ctx, m, u, filepath.Join(dir, name)); err != nil {
			return fmt.Errorf("%s: download init segment: %w", m, err)
		}
	}

	st.RecordTimelineDeltas(m, rep.Timeline)

	for _, seg := range rep.Timeline {
		if err := ctx.Err(); err != nil {
			return err
		}
		if st.Downloaded(m, seg.T) {
			continue
		}
		u, err := rep.DownloadURL(base, seg.T)
		if err != nil {
			return fmt.Errorf("%s: resolve segment URL: %w", m, err)
		}
		name, err := SegmentFilename(u)
		if err != nil {
			return fmt.Errorf("%s: segment %d: %w", m, seg.T, err)
		}
		// Timeline timestamps come from the manifest itself, so the
		// backward watermark check does not apply.
		if err := f.FetchSegment(ctx, m, seg.T, true, u, filepath.Join(dir, name)); err != nil {
			sink.Println(fmt.Sprintf("%s: live segment %d failed: %v", m, seg.T, err))
			continue
		}
		sink.SetMessage(fmt.Sprintf("%s: live segment %d", m, seg.T))
		sink.Tick()
	}
	return nil
}

// DownloadLive tails the rolling manifest, downloading new segments as they
// are published, until the broadcast ends or ctx is cancelled.
func DownloadLive(ctx context.Context, st *state.State, client *http.Client, mpdURL string, base *url.URL, dir string, sink ProgressSink) error {
	for {
		manifest, err := parser.FetchMpd(ctx, client, mpdURL)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Transient origin hiccups are common near the end of a
			// broadcast; keep polling.
			sink.Println(fmt.Sprintf("manifest refresh failed: %v", err))
		} else {
			video, audio, err := manifest.BestMedia()
			if err != nil {
				return err
			}
			reps := []*models.Representation{video, audio}
			if err := DownloadTimelines(ctx, st, client, base, reps, dir, sink); err != nil {
				return err
			}
			if manifest.Finished {
				sink.FinishWithMessage("broadcast ended")
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(manifestPollInterval):
		}
	}
}
