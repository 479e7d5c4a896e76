// Package models defines core data structures for live media streams.
package models

import (
	"net/url"
	"strconv"
	"strings"
)

// timeToken is the placeholder the origin puts in media path templates.
const timeToken = "$Time$"

// MediaType partitions download state between the stream variants.
type MediaType int

const (
	MediaVideo MediaType = iota
	MediaAudio
	MediaUnknown
)

func (m MediaType) String() string {
	switch m {
	case MediaVideo:
		return "video"
	case MediaAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// SegmentTime is one timeline entry from the rolling manifest: the segment
// start timestamp and its duration, both in the stream's native PTS units.
type SegmentTime struct {
	T int64
	D int64
}

// Representation describes one encoded variant of the stream. It is
// immutable once parsed; the download engine only reads it.
type Representation struct {
	ID        string
	MimeType  string
	Bandwidth int64
	Width     int
	Height    int
	FrameRate int

	InitPath  string
	MediaPath string
	Timeline  []SegmentTime
}

// MediaType derives the stream kind from the representation's MIME type.
func (r *Representation) MediaType() MediaType {
	switch {
	case strings.HasPrefix(r.MimeType, "video/"):
		return MediaVideo
	case strings.HasPrefix(r.MimeType, "audio/"):
		return MediaAudio
	default:
		return MediaUnknown
	}
}

// DownloadURL substitutes t for the $Time$ marker in the media path
// template and resolves the result against base.
func (r *Representation) DownloadURL(base *url.URL, t int64) (*url.URL, error) {
	return base.Parse(strings.ReplaceAll(r.MediaPath, timeToken, strconv.FormatInt(t, 10)))
}

// InitURL resolves the initialization segment path against base.
func (r *Representation) InitURL(base *url.URL) (*url.URL, error) {
	return base.Parse(r.InitPath)
}
