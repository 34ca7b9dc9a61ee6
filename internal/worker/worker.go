package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/livecart/backend/internal/forecast"
	"github.com/livecart/backend/internal/metrics"
	"github.com/livecart/backend/internal/models"
	"github.com/livecart/backend/pkg/queue"
	"github.com/livecart/backend/pkg/storage"
)

// JobSource hands out jobs and takes back failed ones.
type JobSource interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// StreamStore reads streams and writes their summaries.
type StreamStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.StreamSession, error)
	SaveSummary(ctx context.Context, summary models.StreamSummary) error
}

// ObjectStore uploads archive objects.
type ObjectStore interface {
	SummaryBucket() string
	Upload(ctx context.Context, bucket, key, contentType string, body io.Reader) (string, error)
}

// ForecastRefresher recomputes a seller's best-time forecast.
type ForecastRefresher interface {
	Refresh(ctx context.Context, sellerID uuid.UUID) (forecast.Result, error)
}

// ForecastScheduler queues a forecast refresh.
type ForecastScheduler interface {
	EnqueueForecast(ctx context.Context, sellerID uuid.UUID) error
}

// Deps wires a Processor. Objects and Scheduler may be nil.
type Deps struct {
	Source    JobSource
	Streams   StreamStore
	Objects   ObjectStore
	Forecasts ForecastRefresher
	Scheduler ForecastScheduler
	Clock     clockwork.Clock
	Logger    *zap.Logger
}

// Processor runs summary archive and forecast refresh jobs.
type Processor struct {
	Deps
}

// NewProcessor creates a job processor.
func NewProcessor(deps Deps) *Processor {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Processor{Deps: deps}
}

// Process executes one job.
func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case queue.JobTypeSummaryArchive:
		var payload queue.SummaryArchivePayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
		return p.archiveSummary(ctx, payload)
	case queue.JobTypeForecast:
		var payload queue.ForecastPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
		return p.refreshForecast(ctx, payload.SellerID)
	}
	return fmt.Errorf("%w: %s", queue.ErrUnknownJobType, job.Type)
}

// archiveSummary writes the summary row if the live save failed, uploads a
// JSON copy and schedules the seller's forecast refresh.
func (p *Processor) archiveSummary(ctx context.Context, payload queue.SummaryArchivePayload) error {
	summary := payload.Summary
	if !payload.Persisted {
		err := p.Streams.SaveSummary(ctx, summary)
		switch {
		case errors.Is(err, models.ErrInvalidState):
			// the live save landed after all
			p.Logger.Info("stream summary already stored", zap.String("stream_id", summary.StreamID.String()))
		case err != nil:
			return fmt.Errorf("save summary: %w", err)
		}
	}
	stream, err := p.Streams.GetByID(ctx, summary.StreamID)
	if err != nil {
		return fmt.Errorf("get stream: %w", err)
	}

	if p.Objects != nil && p.Objects.SummaryBucket() != "" {
		body, err := json.Marshal(summary)
		if err != nil {
			return fmt.Errorf("marshal summary: %w", err)
		}
		key := storage.SummaryKey(stream.SellerID.String(), summary.StreamID.String())
		url, err := p.Objects.Upload(ctx, p.Objects.SummaryBucket(), key, "application/json", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("s3 upload: %w", err)
		}
		p.Logger.Info("stream summary archived", zap.String("stream_id", summary.StreamID.String()), zap.String("url", url))
	}

	if p.Scheduler != nil {
		if err := p.Scheduler.EnqueueForecast(ctx, stream.SellerID); err != nil {
			p.Logger.Warn("enqueue forecast refresh failed", zap.Error(err), zap.String("seller_id", stream.SellerID.String()))
		}
	}
	return nil
}

func (p *Processor) refreshForecast(ctx context.Context, sellerID uuid.UUID) error {
	_, err := p.Forecasts.Refresh(ctx, sellerID)
	if errors.Is(err, models.ErrNotFound) {
		p.Logger.Info("no stream history for forecast", zap.String("seller_id", sellerID.String()))
		return nil
	}
	return err
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *Processor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.Logger.Info("worker stopping")
			return
		default:
		}

		job, err := p.Source.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.Logger.Warn("dequeue error", zap.Error(err))
			p.backoff(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.Logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			metrics.JobsProcessedTotal.WithLabelValues(string(job.Type), "error").Inc()
			p.Logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
			if reErr := p.Source.Retry(ctx, job); reErr != nil {
				p.Logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.backoff(ctx)
			continue
		}
		metrics.JobsProcessedTotal.WithLabelValues(string(job.Type), "ok").Inc()
	}
}

func (p *Processor) backoff(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-p.Clock.After(queue.RetryBackoff):
	}
}

// ScheduleForecasts enqueues a forecast refresh for every seller returned by
// sellers once per interval until ctx is done.
func ScheduleForecasts(ctx context.Context, clock clockwork.Clock, interval time.Duration,
	sellers func(context.Context) ([]uuid.UUID, error), sched ForecastScheduler, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}
		ids, err := sellers(ctx)
		if err != nil {
			logger.Warn("list sellers for forecast failed", zap.Error(err))
			continue
		}
		for _, id := range ids {
			if err := sched.EnqueueForecast(ctx, id); err != nil {
				logger.Warn("enqueue forecast refresh failed", zap.Error(err), zap.String("seller_id", id.String()))
			}
		}
		logger.Info("forecast refresh scheduled", zap.Int("sellers", len(ids)))
	}
}
