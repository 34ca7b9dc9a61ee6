package questions

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/livecart/backend/internal/models"
)

// Repository handles question persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a questions repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const selectQuestion = `SELECT id, stream_id, user_id, text, answer, votes_count, status, created_at, answered_at
	FROM questions`

// Create inserts a new question.
func (r *Repository) Create(ctx context.Context, q *models.Question) error {
	const query = `INSERT INTO questions (id, stream_id, user_id, text, votes_count, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.pool.Exec(ctx, query, q.ID, q.StreamID, q.UserID, q.Text, q.VotesCount, string(q.Status), q.CreatedAt)
	return models.NewStoreError("create_question", err)
}

// GetByID returns a question by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Question, error) {
	q, err := scanQuestion(r.pool.QueryRow(ctx, selectQuestion+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, models.NewStoreError("get_question", err)
	}
	return q, nil
}

// IncrementVotes adds one to a question's vote count.
func (r *Repository) IncrementVotes(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `UPDATE questions SET votes_count = votes_count + 1 WHERE id = $1`, id)
	if err != nil {
		return models.NewStoreError("vote_question", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// Answer stores the seller's answer on a pending question.
func (r *Repository) Answer(ctx context.Context, id uuid.UUID, answer string, answeredAt time.Time) error {
	const query = `UPDATE questions SET answer = $2, status = 'answered', answered_at = $3
		WHERE id = $1 AND status = 'pending'`
	tag, err := r.pool.Exec(ctx, query, id, answer, answeredAt)
	if err != nil {
		return models.NewStoreError("answer_question", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrInvalidState
	}
	return nil
}

// ListByStream returns a stream's questions in display order.
func (r *Repository) ListByStream(ctx context.Context, streamID uuid.UUID) ([]models.Question, error) {
	rows, err := r.pool.Query(ctx, selectQuestion+` WHERE stream_id = $1 ORDER BY votes_count DESC, created_at DESC`, streamID)
	if err != nil {
		return nil, models.NewStoreError("list_questions", err)
	}
	defer rows.Close()
	var list []models.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, models.NewStoreError("list_questions", err)
		}
		list = append(list, *q)
	}
	return list, models.NewStoreError("list_questions", rows.Err())
}

func scanQuestion(row pgx.Row) (*models.Question, error) {
	var (
		q      models.Question
		status string
	)
	if err := row.Scan(&q.ID, &q.StreamID, &q.UserID, &q.Text, &q.Answer, &q.VotesCount, &status, &q.CreatedAt, &q.AnsweredAt); err != nil {
		return nil, err
	}
	q.Status = models.QuestionStatus(status)
	return &q, nil
}
