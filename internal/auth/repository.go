package auth

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/livecart/backend/internal/models"
)

// Repository reads user accounts owned by the account service.
type Repository struct {
	pool *pgxpool.Pool

	mu    sync.RWMutex
	names map[uuid.UUID]string
}

// NewRepository creates a user repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, names: make(map[uuid.UUID]string)}
}

// GetByID returns a user by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	const q = `SELECT id, username, is_seller, created_at FROM users WHERE id = $1`
	var u models.User
	err := r.pool.QueryRow(ctx, q, id).Scan(&u.ID, &u.Username, &u.IsSeller, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, models.NewStoreError("get_user", err)
	}
	return &u, nil
}

// DisplayName returns the username shown next to a user's chat lines and
// questions. Names are cached for the life of the process.
func (r *Repository) DisplayName(ctx context.Context, id uuid.UUID) (string, error) {
	r.mu.RLock()
	name, ok := r.names[id]
	r.mu.RUnlock()
	if ok {
		return name, nil
	}
	u, err := r.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	r.names[id] = u.Username
	r.mu.Unlock()
	return u.Username, nil
}
