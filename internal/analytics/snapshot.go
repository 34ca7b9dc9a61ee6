package analytics

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/livecart/backend/internal/models"
)

// ProductMetrics is the live sales picture of one product.
type ProductMetrics struct {
	Orders  int               `json:"orders"`
	Revenue decimal.Decimal   `json:"revenue"`
	Trend   []decimal.Decimal `json:"trend"`
}

// Snapshot is a consistent point-in-time view of a stream's analytics. It is
// the payload of analytics_update and of the metrics query.
type Snapshot struct {
	StreamID          uuid.UUID                  `json:"stream_id"`
	At                time.Time                  `json:"at"`
	ViewerCount       int                        `json:"viewer_count"`
	ActiveViewers     int                        `json:"active_viewers"`
	PeakViewers       int                        `json:"peak_viewers"`
	EngagementRate    float64                    `json:"engagement_rate"`
	AvgWatchTime      int64                      `json:"avg_watch_time"` // seconds
	RetentionSegments map[string]int             `json:"retention_segments"`
	RetentionRates    map[string]float64         `json:"retention_rates"`
	DeviceStats       map[Device]int             `json:"device_stats"`
	ConversionRate    float64                    `json:"conversion_rate"`
	TotalRevenue      decimal.Decimal            `json:"total_revenue"`
	TotalOrders       int                        `json:"total_orders"`
	Products          map[string]ProductMetrics  `json:"products"`
	HourlyRevenue     map[string]decimal.Decimal `json:"hourly_revenue"`
	HourlyOrders      map[string]int             `json:"hourly_orders"`
	ViewerSeries      []Point                    `json:"viewer_series"`
	EngagementSeries  []Point                    `json:"engagement_series"`
}

// RetentionReport is the payload of the retention query.
type RetentionReport struct {
	Segments map[string]int     `json:"segments"`
	Rates    map[string]float64 `json:"rates"`
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// Snapshot composes presence, retention and sales metrics at now.
func (s *State) Snapshot(now time.Time) Snapshot {
	products := make(map[string]ProductMetrics, len(s.sales))
	for p := range s.sales {
		w := s.TrailingWindow(p, now, s.windows.Sales)
		products[p.String()] = ProductMetrics{
			Orders:  w.Orders,
			Revenue: w.Revenue,
			Trend:   s.SalesTrend(p, now),
		}
	}
	hourlyRevenue := make(map[string]decimal.Decimal, len(s.hourlyRevenue))
	for k, v := range s.hourlyRevenue {
		hourlyRevenue[k] = v
	}
	hourlyOrders := make(map[string]int, len(s.hourlyOrders))
	for k, v := range s.hourlyOrders {
		hourlyOrders[k] = v
	}

	return Snapshot{
		StreamID:          s.streamID,
		At:                now,
		ViewerCount:       len(s.viewers),
		ActiveViewers:     len(s.active),
		PeakViewers:       s.peak,
		EngagementRate:    round2(s.EngagementRate()),
		AvgWatchTime:      int64(math.Round(s.AvgWatchTime(now).Seconds())),
		RetentionSegments: s.RetentionSegments(),
		RetentionRates:    s.RetentionRates(),
		DeviceStats:       s.DeviceStats(),
		ConversionRate:    round2(s.ConversionRate()),
		TotalRevenue:      s.totalRevenue,
		TotalOrders:       s.totalOrders,
		Products:          products,
		HourlyRevenue:     hourlyRevenue,
		HourlyOrders:      hourlyOrders,
		ViewerSeries:      s.ViewerSeries(),
		EngagementSeries:  s.EngagementSeries(),
	}
}

// Retention returns the completed-session breakdown.
func (s *State) Retention() RetentionReport {
	return RetentionReport{Segments: s.RetentionSegments(), Rates: s.RetentionRates()}
}

// Summary is the terminal record flushed when the stream ends.
func (s *State) Summary(now time.Time) models.StreamSummary {
	devices := make(map[string]int, len(s.devices))
	for k, v := range s.devices {
		devices[string(k)] = v
	}
	return models.StreamSummary{
		StreamID:          s.streamID,
		StartedAt:         s.startedAt,
		EndedAt:           now,
		PeakViewers:       s.peak,
		TotalRevenue:      s.totalRevenue,
		TotalOrders:       s.totalOrders,
		RetentionSegments: s.RetentionSegments(),
		DeviceStats:       devices,
	}
}
