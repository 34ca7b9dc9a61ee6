package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// StreamStatus is the lifecycle state of a stream session.
type StreamStatus string

const (
	StreamStatusActive StreamStatus = "active"
	StreamStatusEnded  StreamStatus = "ended"
)

// StreamSession is a live broadcast owned by one seller.
type StreamSession struct {
	ID        uuid.UUID    `json:"id"`
	SellerID  uuid.UUID    `json:"seller_id"`
	Title     string       `json:"title"`
	Status    StreamStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
	EndedAt   *time.Time   `json:"ended_at,omitempty"`
}

// IsOwnedBy reports whether userID is the seller running the stream.
func (s *StreamSession) IsOwnedBy(userID uuid.UUID) bool {
	return s != nil && s.SellerID == userID
}

// StreamSummary is the terminal record flushed when a stream ends.
type StreamSummary struct {
	StreamID          uuid.UUID       `json:"stream_id"`
	StartedAt         time.Time       `json:"started_at"`
	EndedAt           time.Time       `json:"ended_at"`
	PeakViewers       int             `json:"peak_viewers"`
	TotalRevenue      decimal.Decimal `json:"total_revenue"`
	TotalOrders       int             `json:"total_orders"`
	RetentionSegments map[string]int  `json:"retention_segments"`
	DeviceStats       map[string]int  `json:"device_stats"`
}
