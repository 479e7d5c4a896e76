// Package state holds the download session state shared by all loops.
package state

import (
	"sort"
	"sync"

	"github.com/okkul/relive/internal/models"
)

// DeltaCount is one observed inter-segment delta and its frequency.
type DeltaCount struct {
	Delta int64
	Count int
}

// State records, per media type, which segments have been downloaded, which
// inter-segment deltas have been observed, the initialization segment, and
// the lowest accepted decode PTS. Every access goes through one exclusive
// lock; critical sections are point queries and small updates.
type State struct {
	mu sync.Mutex

	downloadedInit map[models.MediaType][]byte
	downloadedSegs map[models.MediaType]map[int64]struct{}
	deltas         map[models.MediaType]map[int64]int
	backPTS        map[models.MediaType]int64
}

// New constructs session state with the delta histogram seeded so the
// backward search has a usable prior before any segment is observed. The
// clusters mirror the segment durations the origin actually produces.
func New() *State {
	mediaTypes := []models.MediaType{models.MediaVideo, models.MediaAudio}

	s := &State{
		downloadedInit: make(map[models.MediaType][]byte),
		downloadedSegs: make(map[models.MediaType]map[int64]struct{}),
		deltas:         make(map[models.MediaType]map[int64]int),
		backPTS:        make(map[models.MediaType]int64),
	}
	for _, m := range mediaTypes {
		s.downloadedSegs[m] = make(map[int64]struct{})
		s.deltas[m] = defaultDeltas()
	}
	return s
}

func defaultDeltas() map[int64]int {
	d := make(map[int64]int)
	for x := int64(16); x <= 24; x++ {
		d[x*100] = 10
		d[x*100+33] = 2
		d[x*100+67] = 2
	}
	for _, r := range [][2]int64{{10, 15}, {25, 30}, {70, 90}} {
		for x := r[0]; x <= r[1]; x++ {
			d[x*100] = 1
			d[x*100+33] = 1
			d[x*100+67] = 1
		}
	}
	d[2000] = 100
	d[100] = 2
	return d
}

// MinDownloaded returns the oldest downloaded segment timestamp for m.
func (s *State) MinDownloaded(m models.MediaType) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var min int64
	found := false
	for t := range s.downloadedSegs[m] {
		if !found || t < min {
			min = t
			found = true
		}
	}
	return min, found
}

// RecordDownload registers a successfully persisted segment. Timestamps are
// only ever inserted, never removed.
func (s *State) RecordDownload(m models.MediaType, t int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.downloadedSegs[m] == nil {
		s.downloadedSegs[m] = make(map[int64]struct{})
	}
	s.downloadedSegs[m][t] = struct{}{}
}

// Downloaded reports whether the segment at t has already been fetched.
func (s *State) Downloaded(m models.MediaType, t int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.downloadedSegs[m][t]
	return ok
}

// DownloadedCount returns how many segments have been fetched for m.
func (s *State) DownloadedCount(m models.MediaType) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.downloadedSegs[m])
}

// SetInit stores the initialization segment bytes. Only the first call per
// media type takes effect.
func (s *State) SetInit(m models.MediaType, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.downloadedInit[m]; ok {
		return
	}
	s.downloadedInit[m] = data
}

// HasInit reports whether the initialization segment has been stored.
func (s *State) HasInit(m models.MediaType) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.downloadedInit[m]
	return ok
}

// Init returns the stored initialization segment bytes, or nil.
func (s *State) Init(m models.MediaType) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.downloadedInit[m]
}

// RecordDelta increments the observation count for delta.
func (s *State) RecordDelta(m models.MediaType, delta int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.deltas[m] == nil {
		s.deltas[m] = make(map[int64]int)
	}
	s.deltas[m][delta]++
}

// RecordTimelineDeltas feeds the gaps between consecutive manifest timeline
// entries into the histogram. Timeline segments are the only ground truth
// the search ever gets, so every refresh sharpens the prior.
func (s *State) RecordTimelineDeltas(m models.MediaType, timeline []models.SegmentTime) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := 1; i < len(timeline); i++ {
		delta := timeline[i].T - timeline[i-1].T
		if delta > 0 {
			s.deltas[m][delta]++
		}
	}
}

// DeltasSnapshot returns an owned copy of the histogram ordered by
// descending count, ties broken by ascending delta so identical state
// always yields an identical ordering.
func (s *State) DeltasSnapshot(m models.MediaType) []DeltaCount {
	s.mu.Lock()
	snap := make([]DeltaCount, 0, len(s.deltas[m]))
	for delta, count := range s.deltas[m] {
		snap = append(snap, DeltaCount{Delta: delta, Count: count})
	}
	s.mu.Unlock()

	sort.Slice(snap, func(i, j int) bool {
		if snap[i].Count != snap[j].Count {
			return snap[i].Count > snap[j].Count
		}
		return snap[i].Delta < snap[j].Delta
	})
	return snap
}

// SetBackPTS lowers the accepted decode PTS watermark for m. The watermark
// only ever moves down; forward-tail segments with higher decode times
// cannot disturb a backward search in flight.
func (s *State) SetBackPTS(m models.MediaType, pts int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.backPTS[m]; ok && cur <= pts {
		return
	}
	s.backPTS[m] = pts
}

// BackPTS returns the accepted decode PTS watermark for m.
func (s *State) BackPTS(m models.MediaType) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pts, ok := s.backPTS[m]
	return pts, ok
}
