package forecast

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livecart/backend/internal/middleware"
	"github.com/livecart/backend/internal/models"
	"github.com/livecart/backend/internal/streams"
)

type fakeHistory struct {
	samples []streams.PeakSample
	calls   int
}

func (f *fakeHistory) PeakHistory(_ context.Context, _ uuid.UUID, since time.Time) ([]streams.PeakSample, error) {
	f.calls++
	var out []streams.PeakSample
	for _, s := range f.samples {
		if !s.StartedAt.Before(since) {
			out = append(out, s)
		}
	}
	return out, nil
}

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memCache) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key], nil
}

func (m *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = make(map[string][]byte)
	}
	m.data[key] = value
	return nil
}

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func at(days, hour, peak int) streams.PeakSample {
	return streams.PeakSample{StartedAt: epoch.AddDate(0, 0, days).Add(time.Duration(hour) * time.Hour), PeakViewers: peak}
}

func TestFit_LinearTrendExtrapolates(t *testing.T) {
	// 20:00 audiences grow by 10 a day: 100, 110, 120.
	samples := []streams.PeakSample{at(0, 20, 100), at(1, 20, 110), at(2, 20, 120)}
	now := epoch.AddDate(0, 0, 4).Add(20 * time.Hour)

	hours, ok := Fit(samples, epoch, now)

	require.True(t, ok)
	require.Len(t, hours, 1)
	assert.Equal(t, 20, hours[0].Hour)
	assert.Equal(t, 3, hours[0].Samples)
	assert.InDelta(t, 140, hours[0].Predicted, 0.01)
}

func TestFit_SingleSampleUsesMean(t *testing.T) {
	hours, ok := Fit([]streams.PeakSample{at(3, 9, 42)}, epoch, epoch.AddDate(0, 0, 10))
	require.True(t, ok)
	assert.Equal(t, []HourPrediction{{Hour: 9, Predicted: 42, Samples: 1}}, hours)
}

func TestFit_DecliningHourClampsAtZero(t *testing.T) {
	samples := []streams.PeakSample{at(0, 8, 30), at(1, 8, 20), at(2, 8, 10)}
	hours, ok := Fit(samples, epoch, epoch.AddDate(0, 0, 30))
	require.True(t, ok)
	assert.Equal(t, 0.0, hours[0].Predicted)
}

func TestFit_Empty(t *testing.T) {
	_, ok := Fit(nil, epoch, epoch.AddDate(0, 0, 1))
	assert.False(t, ok)
}

func TestBest_TiesGoToEarlierHour(t *testing.T) {
	best := Best([]HourPrediction{{Hour: 10, Predicted: 50}, {Hour: 18, Predicted: 80}, {Hour: 21, Predicted: 80}})
	assert.Equal(t, 18, best.Hour)
}

func TestService_BestTimeCachesResult(t *testing.T) {
	history := &fakeHistory{samples: []streams.PeakSample{
		at(0, 12, 40), at(1, 12, 45),
		at(0, 20, 90), at(1, 20, 95),
	}}
	clock := clockwork.NewFakeClockAt(epoch.AddDate(0, 0, 3))
	cache := &memCache{}
	svc := NewService(history, cache, clock, nil)
	seller := uuid.New()

	first, err := svc.BestTime(context.Background(), seller)
	require.NoError(t, err)
	second, err := svc.BestTime(context.Background(), seller)
	require.NoError(t, err)

	assert.Equal(t, 20, first.BestHour)
	assert.Equal(t, 4, first.Samples)
	assert.Equal(t, first.BestHour, second.BestHour)
	assert.Equal(t, 1, history.calls)
	assert.Contains(t, cache.data, CacheKey(seller))
}

func TestService_NoHistory(t *testing.T) {
	svc := NewService(&fakeHistory{}, nil, clockwork.NewFakeClockAt(epoch), nil)
	_, err := svc.BestTime(context.Background(), uuid.New())
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestHandler_BestTime(t *testing.T) {
	gin.SetMode(gin.TestMode)
	seller := uuid.New()
	history := &fakeHistory{samples: []streams.PeakSample{at(0, 19, 70)}}
	h := NewHandler(NewService(history, nil, clockwork.NewFakeClockAt(epoch.AddDate(0, 0, 1)), nil))

	serve := func(caller uuid.UUID, path string) *httptest.ResponseRecorder {
		r := gin.New()
		r.Use(func(c *gin.Context) { c.Set(middleware.ContextUserID, caller) })
		r.GET("/sellers/:id/best-time", h.BestTime)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w
	}

	w := serve(seller, "/sellers/"+seller.String()+"/best-time")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data Result `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 19, body.Data.BestHour)

	assert.Equal(t, http.StatusForbidden, serve(uuid.New(), "/sellers/"+seller.String()+"/best-time").Code)
	assert.Equal(t, http.StatusBadRequest, serve(seller, "/sellers/x/best-time").Code)
}
