package models

import (
	"time"

	"github.com/google/uuid"
)

// User is the subset of a platform account the live engine reads.
type User struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	IsSeller  bool      `json:"is_seller"`
	CreatedAt time.Time `json:"created_at"`
}
