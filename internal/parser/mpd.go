// Package parser fetches and parses the rolling MPD manifest.
package parser

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/okkul/relive/internal/models"
)

// ErrEmptyManifest is returned when the manifest lacks a usable video or
// audio representation.
var ErrEmptyManifest = errors.New("manifest has no usable representation")

// broadcastEndedHeader is set to "1" by the origin once the live broadcast
// has finished.
const broadcastEndedHeader = "x-fb-video-broadcast-ended"

// Mpd is the parsed rolling manifest. It describes only the most recent
// segments; older ones stay fetchable by URL but are not enumerated.
type Mpd struct {
	ID         string
	StartFrame int64
	Finished   bool
	Reps       []*models.Representation
}

// XML mapping structs.

type xmlMPD struct {
	XMLName          xml.Name   `xml:"MPD"`
	ID               string     `xml:"loapStreamId,attr"`
	PublishFrameTime int64      `xml:"publishFrameTime,attr"`
	Period           *xmlPeriod `xml:"Period"`
}

type xmlPeriod struct {
	AdaptationSets []xmlAdaptationSet `xml:"AdaptationSet"`
}

type xmlAdaptationSet struct {
	Representations []xmlRepresentation `xml:"Representation"`
}

type xmlRepresentation struct {
	ID              string              `xml:"id,attr"`
	MimeType        string              `xml:"mimeType,attr"`
	Bandwidth       int64               `xml:"bandwidth,attr"`
	Width           int                 `xml:"width,attr"`
	Height          int                 `xml:"height,attr"`
	FrameRate       int                 `xml:"frameRate,attr"`
	SegmentTemplate *xmlSegmentTemplate `xml:"SegmentTemplate"`
}

type xmlSegmentTemplate struct {
	Initialization string       `xml:"initialization,attr"`
	Media          string       `xml:"media,attr"`
	Timeline       *xmlTimeline `xml:"SegmentTimeline"`
}

type xmlTimeline struct {
	S []xmlSegmentTime `xml:"S"`
}

type xmlSegmentTime struct {
	T int64 `xml:"t,attr"`
	D int64 `xml:"d,attr"`
}

// FetchMpd downloads and parses the manifest at mpdURL.
func FetchMpd(ctx context.Context, client *http.Client, mpdURL string) (*Mpd, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mpdURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch manifest: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch manifest: HTTP %d", resp.StatusCode)
	}

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	m, err := Parse(content)
	if err != nil {
		return nil, err
	}
	if resp.Header.Get(broadcastEndedHeader) == "1" {
		m.Finished = true
	}
	return m, nil
}

// Parse decodes manifest XML into the domain model.
func Parse(content []byte) (*Mpd, error) {
	var raw xmlMPD
	if err := xml.Unmarshal(content, &raw); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	m := &Mpd{
		ID:         raw.ID,
		StartFrame: raw.PublishFrameTime,
	}
	if raw.Period == nil {
		return m, nil
	}

	for _, as := range raw.Period.AdaptationSets {
		for _, xr := range as.Representations {
			if xr.SegmentTemplate == nil {
				continue
			}
			rep := &models.Representation{
				ID:        xr.ID,
				MimeType:  xr.MimeType,
				Bandwidth: xr.Bandwidth,
				Width:     xr.Width,
				Height:    xr.Height,
				FrameRate: xr.FrameRate,
				InitPath:  xr.SegmentTemplate.Initialization,
				MediaPath: xr.SegmentTemplate.Media,
			}
			if tl := xr.SegmentTemplate.Timeline; tl != nil {
				rep.Timeline = make([]models.SegmentTime, 0, len(tl.S))
				for _, s := range tl.S {
					rep.Timeline = append(rep.Timeline, models.SegmentTime{T: s.T, D: s.D})
				}
			}
			m.Reps = append(m.Reps, rep)
		}
	}
	return m, nil
}

// BestMedia returns the highest-bandwidth video and audio representations.
func (m *Mpd) BestMedia() (video, audio *models.Representation, err error) {
	for _, r := range m.Reps {
		switch r.MediaType() {
		case models.MediaVideo:
			if video == nil || r.Bandwidth > video.Bandwidth {
				video = r
			}
		case models.MediaAudio:
			if audio == nil || r.Bandwidth > audio.Bandwidth {
				audio = r
			}
		}
	}
	if video == nil || audio == nil {
		return nil, nil, ErrEmptyManifest
	}
	return video, audio, nil
}
