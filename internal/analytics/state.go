// Package analytics holds the per-stream live analytics engine: viewer presence,
// retention and engagement aggregation, sales attribution and the facade that
// serializes every mutation of a stream's state.
package analytics

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Device is the coarse device class reported by a viewer on join.
type Device string

const (
	DeviceDesktop Device = "desktop"
	DeviceMobile  Device = "mobile"
	DeviceTablet  Device = "tablet"
)

// ClassifyDevice maps a client-supplied hint onto a device class.
// Unknown or empty hints count as desktop.
func ClassifyDevice(hint string) Device {
	h := strings.ToLower(hint)
	switch {
	case strings.Contains(h, "mobile"):
		return DeviceMobile
	case strings.Contains(h, "tablet"):
		return DeviceTablet
	default:
		return DeviceDesktop
	}
}

// Windows bounds the time series and sales lookbacks kept per stream.
type Windows struct {
	ViewerSeries     time.Duration
	EngagementSeries time.Duration
	Sales            time.Duration
	TrendBuckets     int
	TrendBucketWidth time.Duration
}

// DefaultWindows returns the standard retention windows: 1h of viewer counts,
// 30m of engagement rates, a 1h sales lookback and ten 1m trend buckets.
func DefaultWindows() Windows {
	return Windows{
		ViewerSeries:     time.Hour,
		EngagementSeries: 30 * time.Minute,
		Sales:            time.Hour,
		TrendBuckets:     10,
		TrendBucketWidth: time.Minute,
	}
}

func (w Windows) withDefaults() Windows {
	d := DefaultWindows()
	if w.ViewerSeries <= 0 {
		w.ViewerSeries = d.ViewerSeries
	}
	if w.EngagementSeries <= 0 {
		w.EngagementSeries = d.EngagementSeries
	}
	if w.Sales <= 0 {
		w.Sales = d.Sales
	}
	if w.TrendBuckets <= 0 {
		w.TrendBuckets = d.TrendBuckets
	}
	if w.TrendBucketWidth <= 0 {
		w.TrendBucketWidth = d.TrendBucketWidth
	}
	return w
}

// salesRetention is how far back sales_history must reach to answer both the
// trailing window and the trend buckets.
func (w Windows) salesRetention() time.Duration {
	trend := time.Duration(w.TrendBuckets) * w.TrendBucketWidth
	if trend > w.Sales {
		return trend
	}
	return w.Sales
}

// Point is one (timestamp, value) sample of a time series.
type Point struct {
	At    time.Time `json:"at"`
	Value float64   `json:"value"`
}

type sale struct {
	at     time.Time
	amount decimal.Decimal
}

type heatCell struct {
	actions int
	viewers map[uuid.UUID]struct{}
}

// State is the in-memory analytics of one live stream session. It is not safe
// for concurrent use; the Engine confines each State to a single goroutine.
//
// Invariants: active ⊆ viewers, len(viewers) == len(viewStart), peak never
// decreases.
type State struct {
	streamID  uuid.UUID
	startedAt time.Time
	windows   Windows

	viewers   map[uuid.UUID]struct{}
	active    map[uuid.UUID]struct{}
	viewStart map[uuid.UUID]time.Time
	lastSeen  map[uuid.UUID]time.Time
	peak      int

	retention        map[string]int
	viewerSeries     []Point
	engagementSeries []Point
	devices          map[Device]int

	sales         map[uuid.UUID][]sale
	totalRevenue  decimal.Decimal
	totalOrders   int
	hourlyRevenue map[string]decimal.Decimal
	hourlyOrders  map[string]int
	durableOrders int

	heatmap map[string]*heatCell
}

// NewState returns an empty state for streamID created at now.
func NewState(streamID uuid.UUID, now time.Time, windows Windows) *State {
	s := &State{
		streamID:      streamID,
		startedAt:     now,
		windows:       windows.withDefaults(),
		viewers:       make(map[uuid.UUID]struct{}),
		active:        make(map[uuid.UUID]struct{}),
		viewStart:     make(map[uuid.UUID]time.Time),
		lastSeen:      make(map[uuid.UUID]time.Time),
		retention:     make(map[string]int, len(RetentionBuckets)),
		devices:       map[Device]int{DeviceDesktop: 0, DeviceMobile: 0, DeviceTablet: 0},
		sales:         make(map[uuid.UUID][]sale),
		hourlyRevenue: make(map[string]decimal.Decimal),
		hourlyOrders:  make(map[string]int),
		heatmap:       make(map[string]*heatCell),
	}
	for _, b := range RetentionBuckets {
		s.retention[b] = 0
	}
	return s
}

// StreamID returns the stream this state belongs to.
func (s *State) StreamID() uuid.UUID { return s.streamID }

// ViewerCount returns |viewers|.
func (s *State) ViewerCount() int { return len(s.viewers) }

// ActiveCount returns |active_viewers|.
func (s *State) ActiveCount() int { return len(s.active) }

// PeakViewers returns the highest viewer count observed.
func (s *State) PeakViewers() int { return s.peak }

// HasViewer reports whether viewer is currently connected.
func (s *State) HasViewer(viewer uuid.UUID) bool {
	_, ok := s.viewers[viewer]
	return ok
}

// IsActive reports whether viewer is currently engaged.
func (s *State) IsActive(viewer uuid.UUID) bool {
	_, ok := s.active[viewer]
	return ok
}

// Viewers returns the connected viewer ids in a stable order.
func (s *State) Viewers() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(s.viewers))
	for v := range s.viewers {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
