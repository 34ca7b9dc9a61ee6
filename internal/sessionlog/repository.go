package sessionlog

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/livecart/backend/internal/models"
)

// Repository handles viewer_sessions, one row per completed watch interval.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a session log repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// RecordDeparture stores a completed join/leave interval.
func (r *Repository) RecordDeparture(ctx context.Context, s models.ViewerSession) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO viewer_sessions (stream_id, user_id, joined_at, left_at, watch_seconds, bucket)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		s.StreamID, s.UserID, s.JoinedAt, s.LeftAt, s.WatchSeconds, s.Bucket)
	return models.NewStoreError("record_departure", err)
}

// WatchTimeAggregates holds the sum of watch seconds and distinct viewer count for a stream.
type WatchTimeAggregates struct {
	TotalWatchSeconds int64 `json:"total_watch_seconds"`
	DistinctViewers   int   `json:"distinct_viewers"`
}

// GetWatchTimeAggregates returns total watch time and distinct viewers from completed sessions.
func (r *Repository) GetWatchTimeAggregates(ctx context.Context, streamID uuid.UUID) (*WatchTimeAggregates, error) {
	const q = `SELECT COALESCE(SUM(watch_seconds), 0), COUNT(DISTINCT user_id) FROM viewer_sessions WHERE stream_id = $1`
	var agg WatchTimeAggregates
	err := r.pool.QueryRow(ctx, q, streamID).Scan(&agg.TotalWatchSeconds, &agg.DistinctViewers)
	if err != nil {
		return nil, models.NewStoreError("watch_time_aggregates", err)
	}
	return &agg, nil
}

// ListByStream returns a stream's completed sessions, latest join first.
func (r *Repository) ListByStream(ctx context.Context, streamID uuid.UUID) ([]models.ViewerSession, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT stream_id, user_id, joined_at, left_at, watch_seconds, bucket
		 FROM viewer_sessions WHERE stream_id = $1 ORDER BY joined_at DESC`,
		streamID)
	if err != nil {
		return nil, models.NewStoreError("list_viewer_sessions", err)
	}
	defer rows.Close()
	var list []models.ViewerSession
	for rows.Next() {
		var s models.ViewerSession
		if err := rows.Scan(&s.StreamID, &s.UserID, &s.JoinedAt, &s.LeftAt, &s.WatchSeconds, &s.Bucket); err != nil {
			return nil, models.NewStoreError("list_viewer_sessions", err)
		}
		list = append(list, s)
	}
	if err := rows.Err(); err != nil {
		return nil, models.NewStoreError("list_viewer_sessions", err)
	}
	return list, nil
}
