package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"

	"github.com/Eyevinn/mp4ff/bits"
	"github.com/Eyevinn/mp4ff/mp4"

	"github.com/okkul/relive/internal/models"
	"github.com/okkul/relive/internal/state"
)

// backPtsSlack widens the PTS-too-early check so a legitimate immediate
// predecessor is never rejected. The largest inter-segment delta the origin
// produces is just above 9000 PTS units.
const backPtsSlack = 10_000

// Fetcher downloads individual media segments and records them in the
// shared state. Concurrent calls on distinct timestamps are safe.
type Fetcher struct {
	St     *state.State
	Client *http.Client
}

// SegmentFilename returns the on-disk name for a segment URL: the last path
// segment, verbatim.
func SegmentFilename(u *url.URL) (string, error) {
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		return "", ErrInvalidURL
	}
	return name, nil
}

// FetchSegment downloads the segment with start timestamp t from u into
// destPath. An HTTP 404 maps to ErrStatusNotFound. Unless ignorePTS is set,
// a decoded PTS far below the accepted watermark maps to ErrPtsTooEarly and
// nothing is persisted. A nil return means the file is fully written and
// the state records the segment; on any error no state mutation survives.
func (f *Fetcher) FetchSegment(ctx context.Context, m models.MediaType, t int64, ignorePTS bool, u *url.URL, destPath string) error {
	data, err := f.get(ctx, u)
	if err != nil {
		return err
	}

	pts, err := segmentDecodeTime(data)
	if err != nil {
		return fmt.Errorf("parse segment %d: %w", t, err)
	}
	if !ignorePTS {
		if wm, ok := f.St.BackPTS(m); ok && pts < wm-backPtsSlack {
			return fmt.Errorf("segment %d (pts %d): %w", t, pts, ErrPtsTooEarly)
		}
	}

	if err := os.WriteFile(destPath, data, 0o644); err != nil {
		return fmt.Errorf("write segment %d: %w", t, err)
	}
	f.St.RecordDownload(m, t)
	f.St.SetBackPTS(m, pts)
	return nil
}

// FetchInit downloads the initialization segment from u into destPath and
// stores its bytes in the state. Repeated calls are no-ops once stored.
func (f *Fetcher) FetchInit(ctx context.Context, m models.MediaType, u *url.URL, destPath string) error {
	if f.St.HasInit(m) {
		return nil
	}

	data, err := f.get(ctx, u)
	if err != nil {
		return err
	}
	if err := os.WriteFile(destPath, data, 0o644); err != nil {
		return fmt.Errorf("write init segment: %w", err)
	}
	f.St.SetInit(m, data)
	return nil
}

func (f *Fetcher) get(ctx context.Context, u *url.URL) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrStatusNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// segmentDecodeTime extracts the first fragment's tfdt decode time from an
// fMP4 media segment.
func segmentDecodeTime(data []byte) (int64, error) {
	sr := bits.NewFixedSliceReader(data)
	segFile, err := mp4.DecodeFileSR(sr)
	if err != nil {
		return 0, err
	}
	for _, seg := range segFile.Segments {
		for _, frag := range seg.Fragments {
			if frag.Moof != nil && frag.Moof.Traf != nil && frag.Moof.Traf.Tfdt != nil {
				return int64(frag.Moof.Traf.Tfdt.BaseMediaDecodeTime()), nil
			}
		}
	}
	return 0, fmt.Errorf("no tfdt box in segment")
}
