package analytics

import (
	"time"

	"github.com/google/uuid"
)

// Join adds viewer to the stream. It returns false when the viewer was already
// present; in that case membership, device stats and peak are untouched and
// only the viewer's activity is refreshed.
func (s *State) Join(viewer uuid.UUID, deviceHint string, now time.Time) bool {
	s.lastSeen[viewer] = now
	s.recordAction(viewer, now)
	if _, ok := s.viewers[viewer]; ok {
		s.active[viewer] = struct{}{}
		return false
	}

	s.viewers[viewer] = struct{}{}
	s.active[viewer] = struct{}{}
	s.viewStart[viewer] = now
	s.devices[ClassifyDevice(deviceHint)]++
	if n := len(s.viewers); n > s.peak {
		s.peak = n
	}
	return true
}

// Leave removes viewer and books the completed session into the retention
// buckets. Unknown viewers are ignored and reported with ok=false.
func (s *State) Leave(viewer uuid.UUID, now time.Time) (watched time.Duration, joinedAt time.Time, ok bool) {
	if _, present := s.viewers[viewer]; !present {
		return 0, time.Time{}, false
	}
	delete(s.viewers, viewer)
	delete(s.active, viewer)
	delete(s.lastSeen, viewer)

	start, hadStart := s.viewStart[viewer]
	if !hadStart {
		return 0, time.Time{}, true
	}
	delete(s.viewStart, viewer)

	watched = now.Sub(start)
	if watched < 0 {
		watched = 0
	}
	s.RecordDeparture(watched)
	return watched, start, true
}

// SetActive moves a connected viewer in or out of the engaged set. Events for
// viewers that are not connected are stale and ignored.
func (s *State) SetActive(viewer uuid.UUID, active bool, now time.Time) bool {
	if _, ok := s.viewers[viewer]; !ok {
		return false
	}
	if active {
		s.active[viewer] = struct{}{}
		s.lastSeen[viewer] = now
	} else {
		delete(s.active, viewer)
	}
	return true
}

// Touch records an interaction by viewer (chat, vote, question, order) for
// the heatmap and, when the viewer is connected, refreshes its last activity.
func (s *State) Touch(viewer uuid.UUID, now time.Time) {
	s.recordAction(viewer, now)
	if _, ok := s.viewers[viewer]; ok {
		s.lastSeen[viewer] = now
	}
}

// DemoteIdle marks every engaged viewer whose last activity is at least
// timeout old as idle and returns them.
func (s *State) DemoteIdle(now time.Time, timeout time.Duration) []uuid.UUID {
	if timeout <= 0 {
		return nil
	}
	var demoted []uuid.UUID
	for v := range s.active {
		seen, ok := s.lastSeen[v]
		if !ok || now.Sub(seen) >= timeout {
			delete(s.active, v)
			demoted = append(demoted, v)
		}
	}
	return demoted
}
