package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/livecart/backend/internal/models"
)

const (
	// QueueSummaries is the Redis list key for stream summary archive jobs.
	QueueSummaries = "worker:summaries"
	// QueueForecasts is the Redis list key for best-time forecast refresh jobs.
	QueueForecasts = "worker:forecasts"
	// QueueDLQ is the dead-letter queue for failed jobs after retries.
	QueueDLQ = "worker:dlq"
	// MaxRetries is the number of times to retry a job before moving to DLQ.
	MaxRetries = 3
	// RetryBackoff is the delay between retries.
	RetryBackoff = 10 * time.Second
	// PollTimeout bounds a single blocking pop so shutdown is noticed.
	PollTimeout = 5 * time.Second
)

// JobType identifies the job kind.
type JobType string

const (
	JobTypeSummaryArchive JobType = "summary_archive"
	JobTypeForecast       JobType = "forecast_refresh"
)

// SummaryArchivePayload carries an ended stream's summary. Persisted is false
// when the live save failed and the worker must write the row itself.
type SummaryArchivePayload struct {
	Summary   models.StreamSummary `json:"summary"`
	Persisted bool                 `json:"persisted"`
}

// ForecastPayload asks for a seller's best-time forecast to be recomputed.
type ForecastPayload struct {
	SellerID uuid.UUID `json:"seller_id"`
}

// Job is a generic job envelope.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
}

// ErrUnknownJobType is returned for envelopes with a type no queue serves.
var ErrUnknownJobType = errors.New("unknown job type")

// ListFor returns the Redis list a job type is queued on.
func ListFor(t JobType) (string, error) {
	switch t {
	case JobTypeSummaryArchive:
		return QueueSummaries, nil
	case JobTypeForecast:
		return QueueForecasts, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownJobType, t)
}

// NewJob wraps payload in a fresh envelope.
func NewJob(t JobType, payload any, now time.Time) (*Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Job{
		ID:        uuid.New().String(),
		Type:      t,
		Payload:   body,
		CreatedAt: now,
	}, nil
}

// Queue enqueues and dequeues jobs via Redis.
type Queue struct {
	client *redis.Client
	logger *zap.Logger
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client *redis.Client, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger}
}

func (q *Queue) push(ctx context.Context, job *Job) error {
	list, err := ListFor(job.Type)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, list, raw).Err(); err != nil {
		return fmt.Errorf("rpush: %w", err)
	}
	return nil
}

// EnqueueSummary schedules archival of an ended stream's summary.
func (q *Queue) EnqueueSummary(ctx context.Context, summary models.StreamSummary, persisted bool) error {
	job, err := NewJob(JobTypeSummaryArchive, SummaryArchivePayload{Summary: summary, Persisted: persisted}, time.Now())
	if err != nil {
		return err
	}
	if err := q.push(ctx, job); err != nil {
		return err
	}
	q.logger.Debug("enqueued summary archive job",
		zap.String("job_id", job.ID),
		zap.String("stream_id", summary.StreamID.String()),
		zap.Bool("persisted", persisted),
	)
	return nil
}

// EnqueueForecast schedules a best-time forecast refresh for a seller.
func (q *Queue) EnqueueForecast(ctx context.Context, sellerID uuid.UUID) error {
	job, err := NewJob(JobTypeForecast, ForecastPayload{SellerID: sellerID}, time.Now())
	if err != nil {
		return err
	}
	if err := q.push(ctx, job); err != nil {
		return err
	}
	q.logger.Debug("enqueued forecast job", zap.String("job_id", job.ID), zap.String("seller_id", sellerID.String()))
	return nil
}

// Dequeue waits up to PollTimeout for a job on any work queue. It returns a
// nil job when nothing arrived or the envelope was unreadable.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	result, err := q.client.BLPop(ctx, PollTimeout, QueueSummaries, QueueForecasts).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(result) < 2 {
		return nil, nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid job payload", zap.String("queue", result[0]), zap.String("raw", result[1]), zap.Error(err))
		return nil, nil
	}
	return &job, nil
}

// Retry re-enqueues a job with incremented attempt. If attempt >= MaxRetries, pushes to DLQ instead.
func (q *Queue) Retry(ctx context.Context, job *Job) error {
	job.Attempt++
	if job.Attempt >= MaxRetries {
		raw, err := json.Marshal(job)
		if err != nil {
			return err
		}
		if err := q.client.RPush(ctx, QueueDLQ, raw).Err(); err != nil {
			q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
			return err
		}
		q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
		return nil
	}
	if err := q.push(ctx, job); err != nil {
		return err
	}
	q.logger.Info("job retried", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	return nil
}
