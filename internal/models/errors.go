package models

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the live engine. None of these are fatal; inbound
// events that fail with them are dropped.
var (
	ErrUnauthorized  = errors.New("caller is not the stream owner")
	ErrInvalidState  = errors.New("operation not allowed in current state")
	ErrInvalidOption = errors.New("option is not part of the poll")
	ErrNotFound      = errors.New("not found")
	ErrInvalidInput  = errors.New("invalid input")
)

// StoreError wraps a failed durable-store call.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("store %s: %v", e.Op, e.Err) }
func (e *StoreError) Unwrap() error { return e.Err }

// NewStoreError wraps err unless it is nil or already a domain error.
func NewStoreError(op string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// IsStoreError reports whether err came from the durable store.
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}
