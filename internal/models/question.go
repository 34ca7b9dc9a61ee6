package models

import (
	"time"

	"github.com/google/uuid"
)

// QuestionStatus is the lifecycle state of a question. Answered is terminal.
type QuestionStatus string

const (
	QuestionStatusPending  QuestionStatus = "pending"
	QuestionStatusAnswered QuestionStatus = "answered"
)

// Question is a viewer question asked during a stream.
type Question struct {
	ID         uuid.UUID      `json:"id"`
	StreamID   uuid.UUID      `json:"stream_id"`
	UserID     uuid.UUID      `json:"user_id"`
	Text       string         `json:"text"`
	Answer     *string        `json:"answer,omitempty"`
	VotesCount int            `json:"votes_count"`
	Status     QuestionStatus `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
	AnsweredAt *time.Time     `json:"answered_at,omitempty"`
}
