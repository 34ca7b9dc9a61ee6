package questions

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livecart/backend/internal/models"
)

type fakeStore struct {
	mu        sync.Mutex
	questions map[uuid.UUID]*models.Question
	writeErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{questions: make(map[uuid.UUID]*models.Question)}
}

func (f *fakeStore) Create(_ context.Context, q *models.Question) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	cp := *q
	f.questions[q.ID] = &cp
	return nil
}

func (f *fakeStore) GetByID(_ context.Context, id uuid.UUID) (*models.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.questions[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *q
	return &cp, nil
}

func (f *fakeStore) IncrementVotes(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.questions[id].VotesCount++
	return nil
}

func (f *fakeStore) Answer(_ context.Context, id uuid.UUID, answer string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	q := f.questions[id]
	q.Answer = &answer
	q.Status = models.QuestionStatusAnswered
	q.AnsweredAt = &at
	return nil
}

func (f *fakeStore) ListByStream(_ context.Context, streamID uuid.UUID) ([]models.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Question
	for _, q := range f.questions {
		if q.StreamID == streamID {
			out = append(out, *q)
		}
	}
	return out, nil
}

type fakeStreams map[uuid.UUID]*models.StreamSession

func (f fakeStreams) GetByID(_ context.Context, id uuid.UUID) (*models.StreamSession, error) {
	s, ok := f[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return s, nil
}

type fakeNames map[uuid.UUID]string

func (f fakeNames) DisplayName(_ context.Context, id uuid.UUID) (string, error) {
	n, ok := f[id]
	if !ok {
		return "", models.ErrNotFound
	}
	return n, nil
}

type fakeHub struct {
	mu     sync.Mutex
	events []string
	last   interface{}
}

func (f *fakeHub) BroadcastToStream(_ uuid.UUID, event string, payload interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	f.last = payload
}

func (f *fakeHub) count(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e == event {
			n++
		}
	}
	return n
}

type fixture struct {
	svc    *Service
	store  *fakeStore
	hub    *fakeHub
	clock  *clockwork.FakeClock
	stream uuid.UUID
	seller uuid.UUID
	viewer uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:  newFakeStore(),
		hub:    &fakeHub{},
		clock:  clockwork.NewFakeClockAt(time.Date(2026, 3, 14, 20, 15, 0, 0, time.UTC)),
		stream: uuid.New(),
		seller: uuid.New(),
		viewer: uuid.New(),
	}
	streams := fakeStreams{f.stream: {ID: f.stream, SellerID: f.seller}}
	names := fakeNames{f.seller: "shopkeeper", f.viewer: "maya"}
	f.svc = NewService(f.store, streams, names, f.hub, f.clock, nil)
	return f
}

func TestService_Submit(t *testing.T) {
	f := newFixture(t)

	ev, err := f.svc.Submit(context.Background(), f.viewer, f.stream, "  Does it come in blue? ")
	require.NoError(t, err)

	assert.Equal(t, "maya", ev.Username)
	assert.Equal(t, "Does it come in blue?", ev.Question)
	assert.Equal(t, "20:15", ev.Time)
	assert.False(t, ev.IsOwner)
	assert.Equal(t, 0, ev.VotesCount)
	assert.Equal(t, 1, f.hub.count(EventNewQuestion))

	stored, err := f.store.GetByID(context.Background(), ev.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QuestionStatusPending, stored.Status)
}

func TestService_SubmitRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, f.viewer, f.stream, "   ")
	assert.ErrorIs(t, err, models.ErrInvalidInput)
	_, err = f.svc.Submit(ctx, f.viewer, f.stream, strings.Repeat("ä", maxTextLen+1))
	assert.ErrorIs(t, err, models.ErrInvalidInput)
	_, err = f.svc.Submit(ctx, f.viewer, uuid.New(), "hello?")
	assert.ErrorIs(t, err, models.ErrNotFound)

	assert.Equal(t, 0, f.hub.count(EventNewQuestion))
}

func TestService_VoteThreeTimesRanksFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	popular, err := f.svc.Submit(ctx, f.viewer, f.stream, "first")
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	runnerUp, err := f.svc.Submit(ctx, f.viewer, f.stream, "second")
	require.NoError(t, err)

	var ev VoteEvent
	for i := 0; i < 3; i++ {
		ev, err = f.svc.Vote(ctx, f.viewer, popular.ID)
		require.NoError(t, err)
	}
	for i := 0; i < 2; i++ {
		_, err = f.svc.Vote(ctx, uuid.New(), runnerUp.ID)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, ev.Votes)

	list, err := f.svc.List(ctx, f.stream)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, popular.ID, list[0].ID)
	assert.Equal(t, 3, list[0].VotesCount)
	assert.Equal(t, runnerUp.ID, list[1].ID)
	assert.Equal(t, 5, f.hub.count(EventQuestionVoted))
}

func TestRank_TiesNewestFirst(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	older := models.Question{ID: uuid.New(), VotesCount: 1, CreatedAt: base}
	newer := models.Question{ID: uuid.New(), VotesCount: 1, CreatedAt: base.Add(time.Second)}
	top := models.Question{ID: uuid.New(), VotesCount: 4, CreatedAt: base.Add(-time.Hour)}

	qs := []models.Question{older, top, newer}
	Rank(qs)

	assert.Equal(t, []uuid.UUID{top.ID, newer.ID, older.ID}, []uuid.UUID{qs[0].ID, qs[1].ID, qs[2].ID})
}

func TestService_Answer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q, err := f.svc.Submit(ctx, f.viewer, f.stream, "shipping to Canada?")
	require.NoError(t, err)

	_, err = f.svc.Answer(ctx, f.viewer, q.ID, "sure")
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	ev, err := f.svc.Answer(ctx, f.seller, q.ID, "Yes, 3-5 days")
	require.NoError(t, err)
	assert.Equal(t, "Yes, 3-5 days", ev.Answer)

	_, err = f.svc.Answer(ctx, f.seller, q.ID, "again")
	assert.ErrorIs(t, err, models.ErrInvalidState)
	assert.Equal(t, 1, f.hub.count(EventQuestionAnswered))

	stored, err := f.store.GetByID(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QuestionStatusAnswered, stored.Status)
	require.NotNil(t, stored.Answer)
	assert.Equal(t, "Yes, 3-5 days", *stored.Answer)
}

func TestService_StoreFailureStillBroadcasts(t *testing.T) {
	f := newFixture(t)
	f.store.writeErr = models.NewStoreError("create_question", errors.New("pool closed"))

	ev, err := f.svc.Submit(context.Background(), f.viewer, f.stream, "still there?")
	require.NoError(t, err)

	vote, err := f.svc.Vote(context.Background(), f.viewer, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, vote.Votes)
	assert.Equal(t, 1, f.hub.count(EventNewQuestion))
	assert.Equal(t, 1, f.hub.count(EventQuestionVoted))

	list, err := f.svc.List(context.Background(), f.stream)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].VotesCount)
}

func TestService_VoteUnknown(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Vote(context.Background(), f.viewer, uuid.New())
	assert.ErrorIs(t, err, models.ErrNotFound)
}
