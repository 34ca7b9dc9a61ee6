// Package forecast predicts a seller's best hour of day to go live from the
// peak audience of past streams. It is a batch feature: results are cached
// and refreshed by the worker, never computed on the live event path.
package forecast

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/livecart/backend/internal/models"
	"github.com/livecart/backend/internal/streams"
)

const (
	defaultLookback = 90 * 24 * time.Hour
	defaultTTL      = 6 * time.Hour
	day             = 24 * time.Hour
)

// HistoryStore returns the peak audience of a seller's ended streams.
type HistoryStore interface {
	PeakHistory(ctx context.Context, sellerID uuid.UUID, since time.Time) ([]streams.PeakSample, error)
}

// Cache stores computed results. A miss is reported as (nil, nil).
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// HourPrediction is the fitted audience for streams starting in one UTC hour.
type HourPrediction struct {
	Hour      int     `json:"hour"`
	Predicted float64 `json:"predicted_viewers"`
	Samples   int     `json:"samples"`
}

// Result is the best-time forecast for one seller.
type Result struct {
	SellerID   uuid.UUID        `json:"seller_id"`
	BestHour   int              `json:"best_hour"`
	Predicted  float64          `json:"predicted_viewers"`
	Hours      []HourPrediction `json:"hours"`
	Samples    int              `json:"samples"`
	ComputedAt time.Time        `json:"computed_at"`
}

// Fit runs an ordinary least-squares line per UTC hour of day, with x the age
// of each sample in days since the window start, and extrapolates every hour
// to now. Hours without history are left out. ok is false when there are no
// samples at all.
func Fit(samples []streams.PeakSample, since, now time.Time) (hours []HourPrediction, ok bool) {
	type sums struct{ n, x, y, xx, xy float64 }
	var byHour [24]sums
	for _, s := range samples {
		h := s.StartedAt.UTC().Hour()
		x := s.StartedAt.Sub(since).Hours() / 24
		y := float64(s.PeakViewers)
		b := &byHour[h]
		b.n++
		b.x += x
		b.y += y
		b.xx += x * x
		b.xy += x * y
	}

	xNow := now.Sub(since).Hours() / 24
	for h, b := range byHour {
		if b.n == 0 {
			continue
		}
		mean := b.y / b.n
		predicted := mean
		denom := b.n*b.xx - b.x*b.x
		if b.n > 1 && math.Abs(denom) > 1e-9 {
			slope := (b.n*b.xy - b.x*b.y) / denom
			intercept := (b.y - slope*b.x) / b.n
			predicted = intercept + slope*xNow
		}
		if predicted < 0 {
			predicted = 0
		}
		hours = append(hours, HourPrediction{
			Hour:      h,
			Predicted: math.Round(predicted*100) / 100,
			Samples:   int(b.n),
		})
	}
	return hours, len(hours) > 0
}

// Best returns the hour with the highest prediction; ties go to the earlier hour.
func Best(hours []HourPrediction) HourPrediction {
	best := hours[0]
	for _, h := range hours[1:] {
		if h.Predicted > best.Predicted {
			best = h
		}
	}
	return best
}

// Service computes and caches best-time forecasts.
type Service struct {
	history  HistoryStore
	cache    Cache
	clock    clockwork.Clock
	logger   *zap.Logger
	lookback time.Duration
	ttl      time.Duration
	inflight singleflight.Group
}

// NewService creates a forecast service. cache may be nil.
func NewService(history HistoryStore, cache Cache, clock clockwork.Clock, logger *zap.Logger) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		history:  history,
		cache:    cache,
		clock:    clock,
		logger:   logger,
		lookback: defaultLookback,
		ttl:      defaultTTL,
	}
}

// CacheKey is the cache key of a seller's forecast.
func CacheKey(sellerID uuid.UUID) string {
	return "forecast:best_time:" + sellerID.String()
}

// BestTime returns the cached forecast for a seller, computing it on a miss.
// Concurrent misses for one seller share a single computation.
func (s *Service) BestTime(ctx context.Context, sellerID uuid.UUID) (Result, error) {
	if s.cache != nil {
		raw, err := s.cache.Get(ctx, CacheKey(sellerID))
		if err != nil {
			s.logger.Warn("forecast cache read failed", zap.Error(err), zap.String("seller_id", sellerID.String()))
		} else if raw != nil {
			var res Result
			if err := json.Unmarshal(raw, &res); err == nil {
				return res, nil
			}
		}
	}
	v, err, _ := s.inflight.Do(sellerID.String(), func() (any, error) {
		return s.Refresh(ctx, sellerID)
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

// Refresh recomputes a seller's forecast and stores it in the cache.
func (s *Service) Refresh(ctx context.Context, sellerID uuid.UUID) (Result, error) {
	now := s.clock.Now()
	since := now.Add(-s.lookback)
	samples, err := s.history.PeakHistory(ctx, sellerID, since)
	if err != nil {
		return Result{}, err
	}
	hours, ok := Fit(samples, since, now)
	if !ok {
		return Result{}, fmt.Errorf("no ended streams in the last %d days: %w", int(s.lookback/day), models.ErrNotFound)
	}
	best := Best(hours)
	res := Result{
		SellerID:   sellerID,
		BestHour:   best.Hour,
		Predicted:  best.Predicted,
		Hours:      hours,
		Samples:    len(samples),
		ComputedAt: now,
	}

	if s.cache != nil {
		raw, err := json.Marshal(res)
		if err == nil {
			err = s.cache.Set(ctx, CacheKey(sellerID), raw, s.ttl)
		}
		if err != nil {
			s.logger.Warn("forecast cache write failed", zap.Error(err), zap.String("seller_id", sellerID.String()))
		}
	}
	s.logger.Info("best time forecast computed",
		zap.String("seller_id", sellerID.String()),
		zap.Int("best_hour", res.BestHour),
		zap.Int("samples", res.Samples),
	)
	return res, nil
}
