package analytics

import (
	"time"
)

// Retention bucket labels, shortest first.
const (
	Bucket0To5   = "0-5m"
	Bucket5To15  = "5-15m"
	Bucket15To30 = "15-30m"
	Bucket30Plus = "30m+"
)

// RetentionBuckets lists the bucket labels in order.
var RetentionBuckets = []string{Bucket0To5, Bucket5To15, Bucket15To30, Bucket30Plus}

// RetentionBucket classifies a completed viewing session by its length.
// Bounds are inclusive: exactly 300s is still 0-5m.
func RetentionBucket(watched time.Duration) string {
	secs := watched.Seconds()
	switch {
	case secs <= 300:
		return Bucket0To5
	case secs <= 900:
		return Bucket5To15
	case secs <= 1800:
		return Bucket15To30
	default:
		return Bucket30Plus
	}
}

// RecordDeparture books one completed session into exactly one bucket.
func (s *State) RecordDeparture(watched time.Duration) string {
	b := RetentionBucket(watched)
	s.retention[b]++
	return b
}

// RecordSample appends the current viewer count and engagement rate to their
// series and drops samples that fell out of the retention windows.
func (s *State) RecordSample(now time.Time) {
	s.viewerSeries = append(s.viewerSeries, Point{At: now, Value: float64(len(s.viewers))})
	s.engagementSeries = append(s.engagementSeries, Point{At: now, Value: s.EngagementRate()})
	s.viewerSeries = prunePoints(s.viewerSeries, now.Add(-s.windows.ViewerSeries))
	s.engagementSeries = prunePoints(s.engagementSeries, now.Add(-s.windows.EngagementSeries))
}

// prunePoints drops samples strictly older than cutoff. Series are appended in
// time order so the survivors are a suffix.
func prunePoints(series []Point, cutoff time.Time) []Point {
	i := 0
	for i < len(series) && series[i].At.Before(cutoff) {
		i++
	}
	if i == 0 {
		return series
	}
	return append(series[:0:0], series[i:]...)
}

// EngagementRate is active/total*100, or 0 with no viewers.
func (s *State) EngagementRate() float64 {
	total := len(s.viewers)
	if total == 0 {
		return 0
	}
	return float64(len(s.active)) / float64(total) * 100
}

// AvgWatchTime is the mean time-in-stream of the viewers connected right now.
// Completed sessions are not included; they only feed the retention buckets.
func (s *State) AvgWatchTime(now time.Time) time.Duration {
	if len(s.viewStart) == 0 {
		return 0
	}
	var total time.Duration
	for _, start := range s.viewStart {
		if d := now.Sub(start); d > 0 {
			total += d
		}
	}
	return total / time.Duration(len(s.viewStart))
}

// RetentionSegments returns a copy of the completed-session counts.
func (s *State) RetentionSegments() map[string]int {
	out := make(map[string]int, len(s.retention))
	for k, v := range s.retention {
		out[k] = v
	}
	return out
}

// RetentionRates returns each bucket's share of completed sessions in percent.
func (s *State) RetentionRates() map[string]float64 {
	sum := 0
	for _, n := range s.retention {
		sum += n
	}
	out := make(map[string]float64, len(RetentionBuckets))
	for _, b := range RetentionBuckets {
		if sum == 0 {
			out[b] = 0
			continue
		}
		out[b] = float64(s.retention[b]) / float64(sum) * 100
	}
	return out
}

// DeviceStats returns a copy of the join counts per device class.
func (s *State) DeviceStats() map[Device]int {
	out := make(map[Device]int, len(s.devices))
	for k, v := range s.devices {
		out[k] = v
	}
	return out
}

// ViewerSeries returns a copy of the retained viewer-count samples.
func (s *State) ViewerSeries() []Point { return append([]Point(nil), s.viewerSeries...) }

// EngagementSeries returns a copy of the retained engagement-rate samples.
func (s *State) EngagementSeries() []Point { return append([]Point(nil), s.engagementSeries...) }
