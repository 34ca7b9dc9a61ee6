package models

import (
	"time"

	"github.com/google/uuid"
)

// ViewerSession is one completed join/leave interval of a viewer in a stream.
type ViewerSession struct {
	StreamID     uuid.UUID `json:"stream_id"`
	UserID       uuid.UUID `json:"user_id"`
	JoinedAt     time.Time `json:"joined_at"`
	LeftAt       time.Time `json:"left_at"`
	WatchSeconds int64     `json:"watch_seconds"`
	Bucket       string    `json:"bucket"`
}
