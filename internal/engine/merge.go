package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Merge assembles a session directory into one playable MP4: each media
// type's init segment followed by its segments in timestamp order, then an
// ffmpeg remux of the two elementary streams. When ffmpeg is not installed
// the concatenated streams are kept and the caller is told where they are.
// Returns the path of the final output.
func Merge(ctx context.Context, dir string, sink ProgressSink) (string, error) {
	videoPath, err := concatTrack(dir, videoTrack)
	if err != nil {
		return "", fmt.Errorf("assemble video track: %w", err)
	}
	audioPath, err := concatTrack(dir, audioTrack)
	if err != nil {
		return "", fmt.Errorf("assemble audio track: %w", err)
	}

	output := filepath.Join(dir, filepath.Base(dir)+".mp4")

	ffmpeg, err := exec.LookPath("ffmpeg")
	if err != nil {
		sink.Println(fmt.Sprintf("ffmpeg not found, leaving elementary streams in %s", dir))
		return dir, nil
	}

	sink.SetMessage("muxing tracks")
	sink.Tick()

	args := []string{"-y", "-i", videoPath, "-i", audioPath, "-c", "copy", output}
	cmd := exec.CommandContext(ctx, ffmpeg, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("ffmpeg: %w\n%s", err, stderr.String())
	}

	sink.FinishWithMessage(fmt.Sprintf("merged into %s", output))
	return output, nil
}

// Track classification. Origin filenames keep their URL basename, so the
// extension tells the media type apart and the embedded $Time$ value gives
// the ordering.
type trackKind int

const (
	videoTrack trackKind = iota
	audioTrack
)

func (k trackKind) matches(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	switch k {
	case videoTrack:
		return ext == ".m4v" || strings.Contains(name, "video")
	case audioTrack:
		return ext == ".m4a" || strings.Contains(name, "audio")
	}
	return false
}

func (k trackKind) String() string {
	if k == videoTrack {
		return "video"
	}
	return "audio"
}

var trailingNumber = regexp.MustCompile(`(\d+)\D*$`)

// segmentOrder extracts the timestamp embedded in a segment filename. The
// extension is dropped first so the digit in ".m4v"/".m4a" is not taken.
func segmentOrder(name string) (int64, bool) {
	m := trailingNumber.FindStringSubmatch(strings.TrimSuffix(name, filepath.Ext(name)))
	if m == nil {
		return 0, false
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// concatTrack writes init + timestamp-ordered segments of one media type
// into a single elementary stream file and returns its path.
func concatTrack(dir string, kind trackKind) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}

	var initName string
	type seg struct {
		name string
		t    int64
	}
	var segs []seg
	for _, e := range entries {
		if e.IsDir() || !kind.matches(e.Name()) {
			continue
		}
		// Outputs of a previous merge run.
		if strings.HasSuffix(e.Name(), ".stream") || strings.HasSuffix(e.Name(), ".mp4") {
			continue
		}
		if strings.Contains(e.Name(), "init") {
			initName = e.Name()
			continue
		}
		if t, ok := segmentOrder(e.Name()); ok {
			segs = append(segs, seg{name: e.Name(), t: t})
		}
	}
	if initName == "" {
		return "", fmt.Errorf("no %s init segment in %s", kind, dir)
	}
	if len(segs) == 0 {
		return "", fmt.Errorf("no %s segments in %s", kind, dir)
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].t < segs[j].t })

	outPath := filepath.Join(dir, kind.String()+".stream")
	out, err := os.Create(outPath)
	if err != nil {
		return "", err
	}
	defer out.Close()

	names := make([]string, 0, len(segs)+1)
	names = append(names, initName)
	for _, s := range segs {
		names = append(names, s.name)
	}
	for _, name := range names {
		in, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			return "", err
		}
		_, err = io.Copy(out, in)
		in.Close()
		if err != nil {
			return "", fmt.Errorf("concat %s: %w", name, err)
		}
	}
	return outPath, nil
}
