package polls

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

// Repository handles poll persistence. Options and tallies are stored as JSONB.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a polls repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new poll.
func (r *Repository) Create(ctx context.Context, p *models.Poll) error {
	options, err := json.Marshal(p.Options)
	if err != nil {
		return err
	}
	votes, err := json.Marshal(p.Votes)
	if err != nil {
		return err
	}
	const query = `INSERT INTO polls (id, stream_id, question, options, votes, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err = r.pool.Exec(ctx, query, p.ID, p.StreamID, p.Question, options, votes, string(p.Status), p.CreatedAt)
	return models.NewStoreError("create_poll", err)
}

// GetByID returns a poll by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Poll, error) {
	const query = `SELECT id, stream_id, question, options, votes, status, created_at, closed_at
		FROM polls WHERE id = $1`
	p, err := scanPoll(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, models.NewStoreError("get_poll", err)
	}
	return p, nil
}

// IncrementVote atomically adds one vote for option to an active poll.
func (r *Repository) IncrementVote(ctx context.Context, id uuid.UUID, option string) error {
	const query = `UPDATE polls
		SET votes = jsonb_set(votes, ARRAY[$2::text], to_jsonb(COALESCE((votes->>$2)::int, 0) + 1), true)
		WHERE id = $1 AND status = 'active'`
	tag, err := r.pool.Exec(ctx, query, id, option)
	if err != nil {
		return models.NewStoreError("vote_poll", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrInvalidState
	}
	return nil
}

// Close marks a poll closed.
func (r *Repository) Close(ctx context.Context, id uuid.UUID, closedAt time.Time) error {
	const query = `UPDATE polls SET status = 'closed', closed_at = $2 WHERE id = $1 AND status = 'active'`
	tag, err := r.pool.Exec(ctx, query, id, closedAt)
	if err != nil {
		return models.NewStoreError("close_poll", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrInvalidState
	}
	return nil
}

// ListByStream returns the polls of a stream, newest first.
func (r *Repository) ListByStream(ctx context.Context, streamID uuid.UUID) ([]models.Poll, error) {
	const query = `SELECT id, stream_id, question, options, votes, status, created_at, closed_at
		FROM polls WHERE stream_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query, streamID)
	if err != nil {
		return nil, models.NewStoreError("list_polls", err)
	}
	defer rows.Close()
	var list []models.Poll
	for rows.Next() {
		p, err := scanPoll(rows)
		if err != nil {
			return nil, models.NewStoreError("list_polls", err)
		}
		list = append(list, *p)
	}
	return list, models.NewStoreError("list_polls", rows.Err())
}

func scanPoll(row pgx.Row) (*models.Poll, error) {
	var (
		p       models.Poll
		status  string
		options []byte
		votes   []byte
	)
	if err := row.Scan(&p.ID, &p.StreamID, &p.Question, &options, &votes, &status, &p.CreatedAt, &p.ClosedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(options, &p.Options); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(votes, &p.Votes); err != nil {
		return nil, err
	}
	p.Status = models.PollStatus(status)
	return &p, nil
}
