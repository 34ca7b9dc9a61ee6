package streams

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/livecart/backend/internal/models"
)

// Repository handles stream_sessions persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a stream sessions repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByID returns a stream session by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.StreamSession, error) {
	const q = `SELECT id, seller_id, title, status, created_at, ended_at FROM stream_sessions WHERE id = $1`
	var s models.StreamSession
	var status string
	err := r.pool.QueryRow(ctx, q, id).Scan(&s.ID, &s.SellerID, &s.Title, &status, &s.CreatedAt, &s.EndedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, models.NewStoreError("get_stream", err)
	}
	s.Status = models.StreamStatus(status)
	return &s, nil
}

// SaveSummary marks the session ended and stores its terminal summary. A
// session that already ended keeps its summary and yields models.ErrInvalidState.
func (r *Repository) SaveSummary(ctx context.Context, sum models.StreamSummary) error {
	retention, err := json.Marshal(sum.RetentionSegments)
	if err != nil {
		return err
	}
	devices, err := json.Marshal(sum.DeviceStats)
	if err != nil {
		return err
	}
	const q = `UPDATE stream_sessions SET
		status = 'ended',
		started_at = $2,
		ended_at = $3,
		peak_viewers = GREATEST(peak_viewers, $4),
		total_revenue = $5,
		total_orders = $6,
		retention_segments = $7,
		device_stats = $8
		WHERE id = $1 AND status <> 'ended'`
	tag, err := r.pool.Exec(ctx, q, sum.StreamID, sum.StartedAt, sum.EndedAt, sum.PeakViewers,
		sum.TotalRevenue.String(), sum.TotalOrders, retention, devices)
	if err != nil {
		return models.NewStoreError("save_summary", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var exists bool
	err = r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM stream_sessions WHERE id = $1)`, sum.StreamID).Scan(&exists)
	if err != nil {
		return models.NewStoreError("save_summary", err)
	}
	if !exists {
		return models.ErrNotFound
	}
	return models.ErrInvalidState
}

// PeakSample is the peak audience of one ended stream.
type PeakSample struct {
	StartedAt   time.Time
	PeakViewers int
}

// PeakHistory returns the peak viewers of a seller's ended streams started
// since the given time, oldest first.
func (r *Repository) PeakHistory(ctx context.Context, sellerID uuid.UUID, since time.Time) ([]PeakSample, error) {
	const q = `SELECT COALESCE(started_at, created_at), peak_viewers FROM stream_sessions
		WHERE seller_id = $1 AND status = 'ended' AND COALESCE(started_at, created_at) >= $2
		ORDER BY 1 ASC`
	rows, err := r.pool.Query(ctx, q, sellerID, since)
	if err != nil {
		return nil, models.NewStoreError("peak_history", err)
	}
	defer rows.Close()
	var out []PeakSample
	for rows.Next() {
		var s PeakSample
		if err := rows.Scan(&s.StartedAt, &s.PeakViewers); err != nil {
			return nil, models.NewStoreError("peak_history", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, models.NewStoreError("peak_history", err)
	}
	return out, nil
}

// RecentSellers returns the sellers with at least one stream ended since the given time.
func (r *Repository) RecentSellers(ctx context.Context, since time.Time) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT seller_id FROM stream_sessions WHERE status = 'ended' AND ended_at >= $1`, since)
	if err != nil {
		return nil, models.NewStoreError("recent_sellers", err)
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, models.NewStoreError("recent_sellers", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, models.NewStoreError("recent_sellers", err)
	}
	return ids, nil
}
