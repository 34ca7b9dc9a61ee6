package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livecart/backend/internal/forecast"
	"github.com/livecart/backend/internal/models"
	"github.com/livecart/backend/pkg/queue"
)

type fakeStreams struct {
	stream  *models.StreamSession
	saveErr error
	saved   []models.StreamSummary
}

func (f *fakeStreams) GetByID(_ context.Context, id uuid.UUID) (*models.StreamSession, error) {
	if f.stream == nil || f.stream.ID != id {
		return nil, models.ErrNotFound
	}
	return f.stream, nil
}

func (f *fakeStreams) SaveSummary(_ context.Context, s models.StreamSummary) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, s)
	return nil
}

type fakeObjects struct {
	bucket string
	keys   []string
	bodies [][]byte
}

func (f *fakeObjects) SummaryBucket() string { return f.bucket }

func (f *fakeObjects) Upload(_ context.Context, bucket, key, _ string, body io.Reader) (string, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	f.keys = append(f.keys, key)
	f.bodies = append(f.bodies, raw)
	return "https://" + bucket + "/" + key, nil
}

type fakeScheduler struct {
	mu      sync.Mutex
	sellers []uuid.UUID
}

func (f *fakeScheduler) EnqueueForecast(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sellers = append(f.sellers, id)
	return nil
}

func (f *fakeScheduler) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sellers)
}

type fakeForecasts struct {
	err   error
	calls []uuid.UUID
}

func (f *fakeForecasts) Refresh(_ context.Context, id uuid.UUID) (forecast.Result, error) {
	f.calls = append(f.calls, id)
	return forecast.Result{SellerID: id}, f.err
}

type fakeSource struct {
	mu      sync.Mutex
	jobs    []*queue.Job
	retried []*queue.Job
	drained chan struct{}
}

func (f *fakeSource) Dequeue(ctx context.Context) (*queue.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.jobs) == 0 {
		select {
		case <-f.drained:
		default:
			close(f.drained)
		}
		return nil, ctx.Err()
	}
	job := f.jobs[0]
	f.jobs = f.jobs[1:]
	return job, nil
}

func (f *fakeSource) Retry(_ context.Context, job *queue.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job.Attempt++
	f.retried = append(f.retried, job)
	return nil
}

func summaryJob(t *testing.T, summary models.StreamSummary, persisted bool) *queue.Job {
	t.Helper()
	job, err := queue.NewJob(queue.JobTypeSummaryArchive, queue.SummaryArchivePayload{Summary: summary, Persisted: persisted}, time.Now())
	require.NoError(t, err)
	return job
}

func fixture() (*fakeStreams, models.StreamSummary) {
	stream := &models.StreamSession{ID: uuid.New(), SellerID: uuid.New(), Status: models.StreamStatusEnded}
	return &fakeStreams{stream: stream}, models.StreamSummary{
		StreamID:     stream.ID,
		PeakViewers:  42,
		TotalRevenue: decimal.RequireFromString("99.90"),
		TotalOrders:  3,
	}
}

func TestProcess_SummaryArchive(t *testing.T) {
	streams, summary := fixture()
	objects := &fakeObjects{bucket: "archive"}
	sched := &fakeScheduler{}
	p := NewProcessor(Deps{Streams: streams, Objects: objects, Scheduler: sched})

	require.NoError(t, p.Process(context.Background(), summaryJob(t, summary, true)))

	assert.Empty(t, streams.saved, "already persisted summaries are not rewritten")
	require.Len(t, objects.keys, 1)
	assert.Equal(t, "summaries/"+streams.stream.SellerID.String()+"/"+summary.StreamID.String()+".json", objects.keys[0])
	var archived models.StreamSummary
	require.NoError(t, json.Unmarshal(objects.bodies[0], &archived))
	assert.Equal(t, 42, archived.PeakViewers)
	assert.Equal(t, []uuid.UUID{streams.stream.SellerID}, sched.sellers)
}

func TestProcess_SummaryNotPersistedIsSaved(t *testing.T) {
	streams, summary := fixture()
	p := NewProcessor(Deps{Streams: streams})

	require.NoError(t, p.Process(context.Background(), summaryJob(t, summary, false)))
	require.Len(t, streams.saved, 1)
	assert.Equal(t, summary.StreamID, streams.saved[0].StreamID)
}

func TestProcess_SummarySaveFailure(t *testing.T) {
	streams, summary := fixture()
	streams.saveErr = models.NewStoreError("save_summary", errors.New("connection refused"))
	objects := &fakeObjects{bucket: "archive"}
	p := NewProcessor(Deps{Streams: streams, Objects: objects})

	err := p.Process(context.Background(), summaryJob(t, summary, false))
	assert.True(t, models.IsStoreError(err))
	assert.Empty(t, objects.keys)
}

func TestProcess_SummaryAlreadyStoredStillArchives(t *testing.T) {
	streams, summary := fixture()
	streams.saveErr = models.ErrInvalidState
	objects := &fakeObjects{bucket: "archive"}
	p := NewProcessor(Deps{Streams: streams, Objects: objects})

	require.NoError(t, p.Process(context.Background(), summaryJob(t, summary, false)))
	assert.Empty(t, streams.saved)
	assert.Len(t, objects.keys, 1)
}

func TestProcess_ArchiveSkippedWithoutBucket(t *testing.T) {
	streams, summary := fixture()
	objects := &fakeObjects{}
	p := NewProcessor(Deps{Streams: streams, Objects: objects})

	require.NoError(t, p.Process(context.Background(), summaryJob(t, summary, true)))
	assert.Empty(t, objects.keys)
}

func TestProcess_Forecast(t *testing.T) {
	seller := uuid.New()
	job, err := queue.NewJob(queue.JobTypeForecast, queue.ForecastPayload{SellerID: seller}, time.Now())
	require.NoError(t, err)

	forecasts := &fakeForecasts{}
	p := NewProcessor(Deps{Forecasts: forecasts})
	require.NoError(t, p.Process(context.Background(), job))
	assert.Equal(t, []uuid.UUID{seller}, forecasts.calls)

	forecasts.err = models.ErrNotFound
	assert.NoError(t, p.Process(context.Background(), job), "sellers without history are not a failure")

	forecasts.err = errors.New("redis down")
	assert.Error(t, p.Process(context.Background(), job))
}

func TestProcess_UnknownType(t *testing.T) {
	p := NewProcessor(Deps{})
	err := p.Process(context.Background(), &queue.Job{ID: "1", Type: "email"})
	assert.ErrorIs(t, err, queue.ErrUnknownJobType)
}

func TestRun_RetriesFailedJobs(t *testing.T) {
	streams, summary := fixture()
	streams.saveErr = models.NewStoreError("save_summary", errors.New("timeout"))
	good := summaryJob(t, summary, true)
	bad := summaryJob(t, summary, false)
	source := &fakeSource{jobs: []*queue.Job{good, bad}, drained: make(chan struct{})}
	clock := clockwork.NewFakeClock()
	p := NewProcessor(Deps{Source: source, Streams: streams, Clock: clock})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	// The failed job parks the loop in backoff until the clock moves.
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(queue.RetryBackoff)
	<-source.drained
	cancel()
	<-done

	source.mu.Lock()
	defer source.mu.Unlock()
	require.Len(t, source.retried, 1)
	assert.Equal(t, bad.ID, source.retried[0].ID)
	assert.Equal(t, 1, source.retried[0].Attempt)
}

func TestScheduleForecasts(t *testing.T) {
	clock := clockwork.NewFakeClock()
	sched := &fakeScheduler{}
	ids := []uuid.UUID{uuid.New(), uuid.New()}
	sellers := func(context.Context) ([]uuid.UUID, error) { return ids, nil }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ScheduleForecasts(ctx, clock, time.Hour, sellers, sched, nil)

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Hour)
	assert.Eventually(t, func() bool { return sched.count() == 2 }, time.Second, 5*time.Millisecond)
}
