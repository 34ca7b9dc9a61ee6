package analytics

import (
	"time"

	"github.com/google/uuid"
)

// HeatmapCell is the activity recorded in one minute-of-day bucket.
type HeatmapCell struct {
	Actions       int `json:"actions"`
	UniqueViewers int `json:"unique_viewers"`
}

// HeatmapKey formats the minute-of-day bucket for t ("15:04").
func HeatmapKey(t time.Time) string {
	return t.UTC().Format("15:04")
}

func (s *State) recordAction(viewer uuid.UUID, now time.Time) {
	key := HeatmapKey(now)
	cell := s.heatmap[key]
	if cell == nil {
		cell = &heatCell{viewers: make(map[uuid.UUID]struct{})}
		s.heatmap[key] = cell
	}
	cell.actions++
	cell.viewers[viewer] = struct{}{}
}

// Heatmap returns the per-minute activity of the session.
func (s *State) Heatmap() map[string]HeatmapCell {
	out := make(map[string]HeatmapCell, len(s.heatmap))
	for k, c := range s.heatmap {
		out[k] = HeatmapCell{Actions: c.actions, UniqueViewers: len(c.viewers)}
	}
	return out
}
