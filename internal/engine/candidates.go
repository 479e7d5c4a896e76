package engine

import "github.com/okkul/relive/internal/state"

// defaultSearchRange bounds the jitter explored around each known delta
// when proposing candidates, in PTS units.
const defaultSearchRange = 1000

// candidate pairs a proposed segment timestamp with its delta from the
// oldest downloaded segment at the time it was generated.
type candidate struct {
	t     int64
	delta int64
}

// generateCandidates turns the delta histogram into a ranked batch of up to
// max plausible predecessors of latest. The offset loop is the outer one:
// every delta is tried exactly before any is jittered, so an exact hit on a
// rare delta comes before a near-miss on a frequent one. Admitted
// candidates are marked in visited so no timestamp is ever proposed twice
// within a session. Output is deterministic for identical inputs.
func generateCandidates(latest int64, visited map[int64]struct{}, lowerBound int64, deltas []state.DeltaCount, max int, searchRange int64) []candidate {
	if max <= 0 {
		return nil
	}

	batch := make([]candidate, 0, max)
	for offset := int64(0); offset <= searchRange; offset++ {
		for _, dc := range deltas {
			for _, t := range [2]int64{latest - (dc.Delta + offset), latest - (dc.Delta - offset)} {
				if t <= lowerBound || t >= latest {
					continue
				}
				if _, seen := visited[t]; seen {
					continue
				}
				visited[t] = struct{}{}
				batch = append(batch, candidate{t: t, delta: latest - t})
				if len(batch) == max {
					return batch
				}
			}
		}
	}
	return batch
}
