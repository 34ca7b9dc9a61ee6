package polls

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/livecart/backend/internal/metrics"
	"github.com/livecart/backend/internal/models"
)

// Outbound poll events.
const (
	EventNewPoll     = "new_poll"
	EventPollUpdated = "poll_updated"
	EventPollClosed  = "poll_closed"
)

const (
	maxQuestionLen = 300
	maxOptionLen   = 100
	maxOptions     = 10
)

// Store is the durable poll storage.
type Store interface {
	Create(ctx context.Context, p *models.Poll) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Poll, error)
	IncrementVote(ctx context.Context, id uuid.UUID, option string) error
	Close(ctx context.Context, id uuid.UUID, closedAt time.Time) error
	ListByStream(ctx context.Context, streamID uuid.UUID) ([]models.Poll, error)
}

// StreamLookup resolves a stream session to check seller ownership.
type StreamLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.StreamSession, error)
}

// Broadcaster fans an event out to a stream's subscribers.
type Broadcaster interface {
	BroadcastToStream(streamID uuid.UUID, event string, payload interface{})
}

// VoteResult is the tally after a vote.
type VoteResult struct {
	PollID     uuid.UUID      `json:"poll_id"`
	StreamID   uuid.UUID      `json:"stream_id"`
	Votes      map[string]int `json:"votes"`
	TotalVotes int            `json:"total_votes"`
}

type entry struct {
	mu   sync.Mutex
	poll *models.Poll
}

// Service runs the poll state machine (active -> closed) for live streams.
// Live polls are cached so votes do not wait on a store read; every mutation
// of one poll holds that poll's lock across the store write and broadcast.
type Service struct {
	store   Store
	streams StreamLookup
	hub     Broadcaster
	clock   clockwork.Clock
	logger  *zap.Logger

	mu    sync.Mutex
	cache map[uuid.UUID]*entry
}

// NewService creates a poll service.
func NewService(store Store, streams StreamLookup, hub Broadcaster, clock clockwork.Clock, logger *zap.Logger) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:   store,
		streams: streams,
		hub:     hub,
		clock:   clock,
		logger:  logger,
		cache:   make(map[uuid.UUID]*entry),
	}
}

// normalizeOptions trims options and rejects empty or duplicate ones. A poll
// needs at least two choices.
func normalizeOptions(options []string) ([]string, error) {
	if len(options) < 2 || len(options) > maxOptions {
		return nil, fmt.Errorf("poll needs 2 to %d options: %w", maxOptions, models.ErrInvalidInput)
	}
	seen := make(map[string]struct{}, len(options))
	out := make([]string, 0, len(options))
	for _, o := range options {
		o = strings.TrimSpace(o)
		if o == "" || len(o) > maxOptionLen {
			return nil, fmt.Errorf("empty or oversized option: %w", models.ErrInvalidInput)
		}
		if _, dup := seen[o]; dup {
			return nil, fmt.Errorf("duplicate option %q: %w", o, models.ErrInvalidInput)
		}
		seen[o] = struct{}{}
		out = append(out, o)
	}
	return out, nil
}

func (s *Service) requireOwner(ctx context.Context, streamID, caller uuid.UUID) error {
	stream, err := s.streams.GetByID(ctx, streamID)
	if err != nil {
		return err
	}
	if !stream.IsOwnedBy(caller) {
		return models.ErrUnauthorized
	}
	return nil
}

// Create opens a new poll on a stream. Only the stream's seller may create polls.
func (s *Service) Create(ctx context.Context, caller, streamID uuid.UUID, question string, options []string) (*models.Poll, error) {
	question = strings.TrimSpace(question)
	if question == "" || len(question) > maxQuestionLen {
		return nil, fmt.Errorf("poll question: %w", models.ErrInvalidInput)
	}
	opts, err := normalizeOptions(options)
	if err != nil {
		return nil, err
	}
	if err := s.requireOwner(ctx, streamID, caller); err != nil {
		return nil, err
	}

	p := &models.Poll{
		ID:        uuid.New(),
		StreamID:  streamID,
		Question:  question,
		Options:   opts,
		Votes:     make(map[string]int, len(opts)),
		Status:    models.PollStatusActive,
		CreatedAt: s.clock.Now(),
	}
	for _, o := range opts {
		p.Votes[o] = 0
	}

	e := &entry{poll: p}
	e.mu.Lock()
	defer e.mu.Unlock()
	s.mu.Lock()
	s.cache[p.ID] = e
	s.mu.Unlock()

	if err := s.store.Create(ctx, p); err != nil {
		s.storeFailed("create_poll", p, err)
	}
	s.hub.BroadcastToStream(streamID, EventNewPoll, map[string]interface{}{
		"id":       p.ID,
		"question": p.Question,
		"options":  p.Options,
		"status":   p.Status,
	})
	return p.Clone(), nil
}

// Vote adds one vote for option. Votes are additive per call; the same voter
// may vote again.
func (s *Service) Vote(ctx context.Context, voter, pollID uuid.UUID, option string) (VoteResult, error) {
	e, err := s.load(ctx, pollID)
	if err != nil {
		return VoteResult{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.poll

	if p.Status != models.PollStatusActive {
		return VoteResult{}, models.ErrInvalidState
	}
	if !p.HasOption(option) {
		return VoteResult{}, models.ErrInvalidOption
	}

	if err := s.store.IncrementVote(ctx, pollID, option); err != nil {
		s.storeFailed("vote_poll", p, err)
	}
	if p.Votes == nil {
		p.Votes = make(map[string]int)
	}
	p.Votes[option]++

	res := VoteResult{PollID: p.ID, StreamID: p.StreamID, Votes: p.Clone().Votes, TotalVotes: p.TotalVotes()}
	s.hub.BroadcastToStream(p.StreamID, EventPollUpdated, res)
	s.logger.Debug("poll vote", zap.String("poll_id", pollID.String()), zap.String("voter", voter.String()), zap.String("option", option))
	return res, nil
}

// Close ends voting on a poll. Only the stream's seller may close it.
func (s *Service) Close(ctx context.Context, caller, pollID uuid.UUID) (*models.Poll, error) {
	e, err := s.load(ctx, pollID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.poll

	if err := s.requireOwner(ctx, p.StreamID, caller); err != nil {
		return nil, err
	}
	if p.Status != models.PollStatusActive {
		return nil, models.ErrInvalidState
	}

	now := s.clock.Now()
	if err := s.store.Close(ctx, pollID, now); err != nil {
		s.storeFailed("close_poll", p, err)
	}
	p.Status = models.PollStatusClosed
	p.ClosedAt = &now

	s.hub.BroadcastToStream(p.StreamID, EventPollClosed, map[string]interface{}{
		"poll_id":     p.ID,
		"votes":       p.Clone().Votes,
		"total_votes": p.TotalVotes(),
	})
	return p.Clone(), nil
}

// List returns the polls of a stream, newest first. Cached live polls take
// precedence over their stored copy.
func (s *Service) List(ctx context.Context, streamID uuid.UUID) ([]models.Poll, error) {
	stored, err := s.store.ListByStream(ctx, streamID)
	if err != nil {
		return nil, err
	}
	seen := make(map[uuid.UUID]struct{}, len(stored))
	out := make([]models.Poll, 0, len(stored))
	for _, p := range stored {
		seen[p.ID] = struct{}{}
		if cached := s.cached(p.ID); cached != nil {
			p = *cached
		}
		out = append(out, p)
	}

	s.mu.Lock()
	var extra []*entry
	for id, e := range s.cache {
		if _, ok := seen[id]; !ok {
			extra = append(extra, e)
		}
	}
	s.mu.Unlock()
	for _, e := range extra {
		e.mu.Lock()
		if e.poll.StreamID == streamID {
			out = append(out, *e.poll.Clone())
		}
		e.mu.Unlock()
	}
	sortNewestFirst(out)
	return out, nil
}

// Forget drops a stream's polls from the cache once the stream has ended.
func (s *Service) Forget(streamID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.cache {
		// StreamID never changes after creation
		if e.poll.StreamID == streamID {
			delete(s.cache, id)
		}
	}
}

func (s *Service) cached(id uuid.UUID) *models.Poll {
	s.mu.Lock()
	e := s.cache[id]
	s.mu.Unlock()
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.poll.Clone()
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (*entry, error) {
	s.mu.Lock()
	e := s.cache[id]
	s.mu.Unlock()
	if e != nil {
		return e, nil
	}

	p, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing := s.cache[id]; existing != nil {
		return existing, nil
	}
	e = &entry{poll: p}
	s.cache[id] = e
	return e, nil
}

func (s *Service) storeFailed(op string, p *models.Poll, err error) {
	metrics.StoreErrorsTotal.WithLabelValues(op).Inc()
	s.logger.Warn("poll store write failed, keeping in-memory state",
		zap.String("op", op),
		zap.String("poll_id", p.ID.String()),
		zap.String("stream_id", p.StreamID.String()),
		zap.Error(err),
	)
}

func sortNewestFirst(polls []models.Poll) {
	sort.SliceStable(polls, func(i, j int) bool {
		return polls[i].CreatedAt.After(polls[j].CreatedAt)
	})
}
