package orders

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/livecart/backend/internal/models"
)

// Repository handles order persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an orders repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Record stores an order and reports whether it was new. Recording an order
// ID twice keeps the first row.
func (r *Repository) Record(ctx context.Context, o *models.Order) (bool, error) {
	const q = `INSERT INTO orders (id, stream_id, user_id, product_id, amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (id) DO NOTHING`
	tag, err := r.pool.Exec(ctx, q, o.ID, o.StreamID, o.UserID, o.ProductID, o.Amount.String(), o.CreatedAt)
	if err != nil {
		return false, models.NewStoreError("record_order", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CountByStream returns the number of distinct orders attributed to a stream.
func (r *Repository) CountByStream(ctx context.Context, streamID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(DISTINCT id) FROM orders WHERE stream_id = $1`, streamID).Scan(&n)
	if err != nil {
		return 0, models.NewStoreError("count_orders", err)
	}
	return n, nil
}

// ListByStream returns a stream's orders, newest first.
func (r *Repository) ListByStream(ctx context.Context, streamID uuid.UUID) ([]models.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, stream_id, user_id, product_id, amount::text, created_at
		 FROM orders WHERE stream_id = $1 ORDER BY created_at DESC`, streamID)
	if err != nil {
		return nil, models.NewStoreError("list_orders", err)
	}
	defer rows.Close()
	var list []models.Order
	for rows.Next() {
		var o models.Order
		var amount string
		if err := rows.Scan(&o.ID, &o.StreamID, &o.UserID, &o.ProductID, &amount, &o.CreatedAt); err != nil {
			return nil, models.NewStoreError("list_orders", err)
		}
		if o.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, models.NewStoreError("list_orders", err)
		}
		list = append(list, o)
	}
	if err := rows.Err(); err != nil {
		return nil, models.NewStoreError("list_orders", err)
	}
	return list, nil
}
