package questions

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/livecart/backend/internal/metrics"
	"github.com/livecart/backend/internal/models"
)

// Outbound question events.
const (
	EventNewQuestion      = "new_question"
	EventQuestionVoted    = "question_voted"
	EventQuestionAnswered = "question_answered"
)

const (
	maxTextLen   = 500
	maxAnswerLen = 1000
)

// Store is the durable question storage.
type Store interface {
	Create(ctx context.Context, q *models.Question) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Question, error)
	IncrementVotes(ctx context.Context, id uuid.UUID) error
	Answer(ctx context.Context, id uuid.UUID, answer string, answeredAt time.Time) error
	ListByStream(ctx context.Context, streamID uuid.UUID) ([]models.Question, error)
}

// StreamLookup resolves a stream session to check seller ownership.
type StreamLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.StreamSession, error)
}

// NameResolver returns the display name of a user.
type NameResolver interface {
	DisplayName(ctx context.Context, id uuid.UUID) (string, error)
}

// Broadcaster fans an event out to a stream's subscribers.
type Broadcaster interface {
	BroadcastToStream(streamID uuid.UUID, event string, payload interface{})
}

// NewQuestionEvent is the payload of new_question.
type NewQuestionEvent struct {
	ID         uuid.UUID `json:"id"`
	StreamID   uuid.UUID `json:"stream_id"`
	Username   string    `json:"username"`
	Question   string    `json:"question"`
	Time       string    `json:"time"`
	IsOwner    bool      `json:"is_owner"`
	VotesCount int       `json:"votes_count"`
}

// VoteEvent is the payload of question_voted.
type VoteEvent struct {
	QuestionID uuid.UUID `json:"question_id"`
	StreamID   uuid.UUID `json:"stream_id"`
	Votes      int       `json:"votes"`
}

// AnswerEvent is the payload of question_answered.
type AnswerEvent struct {
	QuestionID uuid.UUID `json:"question_id"`
	Answer     string    `json:"answer"`
}

type entry struct {
	mu sync.Mutex
	q  *models.Question
}

// Service runs the question state machine (pending -> answered) for live
// streams. Mutations of one question are serialized on its cache entry.
type Service struct {
	store   Store
	streams StreamLookup
	names   NameResolver
	hub     Broadcaster
	clock   clockwork.Clock
	logger  *zap.Logger

	mu    sync.Mutex
	cache map[uuid.UUID]*entry
}

// NewService creates a question service.
func NewService(store Store, streams StreamLookup, names NameResolver, hub Broadcaster, clock clockwork.Clock, logger *zap.Logger) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:   store,
		streams: streams,
		names:   names,
		hub:     hub,
		clock:   clock,
		logger:  logger,
		cache:   make(map[uuid.UUID]*entry),
	}
}

func validText(s string, max int) (string, bool) {
	s = strings.TrimSpace(s)
	return s, s != "" && utf8.RuneCountInString(s) <= max
}

// Submit creates a pending question from user on a stream.
func (s *Service) Submit(ctx context.Context, user, streamID uuid.UUID, text string) (NewQuestionEvent, error) {
	text, ok := validText(text, maxTextLen)
	if !ok {
		return NewQuestionEvent{}, fmt.Errorf("question text: %w", models.ErrInvalidInput)
	}
	stream, err := s.streams.GetByID(ctx, streamID)
	if err != nil {
		return NewQuestionEvent{}, err
	}
	username, err := s.names.DisplayName(ctx, user)
	if err != nil {
		return NewQuestionEvent{}, err
	}

	q := &models.Question{
		ID:        uuid.New(),
		StreamID:  streamID,
		UserID:    user,
		Text:      text,
		Status:    models.QuestionStatusPending,
		CreatedAt: s.clock.Now(),
	}
	e := &entry{q: q}
	e.mu.Lock()
	defer e.mu.Unlock()
	s.mu.Lock()
	s.cache[q.ID] = e
	s.mu.Unlock()

	if err := s.store.Create(ctx, q); err != nil {
		s.storeFailed("create_question", q, err)
	}
	ev := NewQuestionEvent{
		ID:         q.ID,
		StreamID:   streamID,
		Username:   username,
		Question:   q.Text,
		Time:       q.CreatedAt.Format("15:04"),
		IsOwner:    stream.IsOwnedBy(user),
		VotesCount: 0,
	}
	s.hub.BroadcastToStream(streamID, EventNewQuestion, ev)
	return ev, nil
}

// Vote adds one vote to a question. There is no per-voter limit.
func (s *Service) Vote(ctx context.Context, voter, questionID uuid.UUID) (VoteEvent, error) {
	e, err := s.load(ctx, questionID)
	if err != nil {
		return VoteEvent{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := s.store.IncrementVotes(ctx, questionID); err != nil {
		s.storeFailed("vote_question", e.q, err)
	}
	e.q.VotesCount++

	ev := VoteEvent{QuestionID: questionID, StreamID: e.q.StreamID, Votes: e.q.VotesCount}
	s.hub.BroadcastToStream(e.q.StreamID, EventQuestionVoted, ev)
	s.logger.Debug("question vote", zap.String("question_id", questionID.String()), zap.String("voter", voter.String()))
	return ev, nil
}

// Answer sets the seller's answer on a pending question. Answered is terminal.
func (s *Service) Answer(ctx context.Context, caller, questionID uuid.UUID, answer string) (AnswerEvent, error) {
	answer, ok := validText(answer, maxAnswerLen)
	if !ok {
		return AnswerEvent{}, fmt.Errorf("answer text: %w", models.ErrInvalidInput)
	}
	e, err := s.load(ctx, questionID)
	if err != nil {
		return AnswerEvent{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	q := e.q

	stream, err := s.streams.GetByID(ctx, q.StreamID)
	if err != nil {
		return AnswerEvent{}, err
	}
	if !stream.IsOwnedBy(caller) {
		return AnswerEvent{}, models.ErrUnauthorized
	}
	if q.Status == models.QuestionStatusAnswered {
		return AnswerEvent{}, models.ErrInvalidState
	}

	now := s.clock.Now()
	if err := s.store.Answer(ctx, questionID, answer, now); err != nil {
		s.storeFailed("answer_question", q, err)
	}
	q.Answer = &answer
	q.Status = models.QuestionStatusAnswered
	q.AnsweredAt = &now

	ev := AnswerEvent{QuestionID: questionID, Answer: answer}
	s.hub.BroadcastToStream(q.StreamID, EventQuestionAnswered, ev)
	return ev, nil
}

// List returns a stream's questions in display order.
func (s *Service) List(ctx context.Context, streamID uuid.UUID) ([]models.Question, error) {
	stored, err := s.store.ListByStream(ctx, streamID)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]models.Question, len(stored))
	for _, q := range stored {
		byID[q.ID] = q
	}

	s.mu.Lock()
	entries := make([]*entry, 0, len(s.cache))
	for _, e := range s.cache {
		entries = append(entries, e)
	}
	s.mu.Unlock()
	for _, e := range entries {
		e.mu.Lock()
		if e.q.StreamID == streamID {
			byID[e.q.ID] = *e.q
		}
		e.mu.Unlock()
	}

	out := make([]models.Question, 0, len(byID))
	for _, q := range byID {
		out = append(out, q)
	}
	Rank(out)
	return out, nil
}

// Rank orders questions by votes, most first; ties go to the newest question.
func Rank(qs []models.Question) {
	sort.SliceStable(qs, func(i, j int) bool {
		if qs[i].VotesCount != qs[j].VotesCount {
			return qs[i].VotesCount > qs[j].VotesCount
		}
		return qs[i].CreatedAt.After(qs[j].CreatedAt)
	})
}

// Forget drops a stream's questions from the cache once the stream has ended.
func (s *Service) Forget(streamID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.cache {
		if e.q.StreamID == streamID {
			delete(s.cache, id)
		}
	}
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (*entry, error) {
	s.mu.Lock()
	e := s.cache[id]
	s.mu.Unlock()
	if e != nil {
		return e, nil
	}

	q, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing := s.cache[id]; existing != nil {
		return existing, nil
	}
	e = &entry{q: q}
	s.cache[id] = e
	return e, nil
}

func (s *Service) storeFailed(op string, q *models.Question, err error) {
	metrics.StoreErrorsTotal.WithLabelValues(op).Inc()
	s.logger.Warn("question store write failed, keeping in-memory state",
		zap.String("op", op),
		zap.String("question_id", q.ID.String()),
		zap.String("stream_id", q.StreamID.String()),
		zap.Error(err),
	)
}
