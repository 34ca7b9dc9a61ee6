package analytics

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestState(t *testing.T) (*State, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC))
	return NewState(uuid.New(), clock.Now(), DefaultWindows()), clock
}

func TestClassifyDevice(t *testing.T) {
	tests := []struct {
		hint string
		want Device
	}{
		{"Mozilla/5.0 (iPhone) Mobile Safari", DeviceMobile},
		{"MOBILE", DeviceMobile},
		{"tablet", DeviceTablet},
		{"android tablet mobile", DeviceMobile},
		{"", DeviceDesktop},
		{"smart-tv", DeviceDesktop},
	}
	for _, tt := range tests {
		t.Run(tt.hint, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyDevice(tt.hint))
		})
	}
}

func TestRetentionBucket_Boundaries(t *testing.T) {
	tests := []struct {
		secs int
		want string
	}{
		{0, Bucket0To5},
		{250, Bucket0To5},
		{300, Bucket0To5},
		{301, Bucket5To15},
		{900, Bucket5To15},
		{901, Bucket15To30},
		{1800, Bucket15To30},
		{1801, Bucket30Plus},
		{7200, Bucket30Plus},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RetentionBucket(time.Duration(tt.secs)*time.Second), "secs=%d", tt.secs)
	}
}

func TestState_ActiveNeverExceedsViewers(t *testing.T) {
	st, clock := newTestState(t)
	viewers := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}

	steps := []func(){
		func() { st.Join(viewers[0], "mobile", clock.Now()) },
		func() { st.Join(viewers[1], "", clock.Now()) },
		func() { st.SetActive(viewers[1], false, clock.Now()) },
		func() { st.Join(viewers[1], "", clock.Now()) },
		func() { st.Leave(viewers[0], clock.Now()) },
		func() { st.SetActive(viewers[0], true, clock.Now()) },
		func() { st.Join(viewers[2], "tablet", clock.Now()) },
		func() { st.Leave(viewers[2], clock.Now()) },
		func() { st.Leave(viewers[2], clock.Now()) },
		func() { st.Leave(viewers[1], clock.Now()) },
	}
	for i, step := range steps {
		clock.Advance(10 * time.Second)
		step()
		assert.LessOrEqual(t, st.ActiveCount(), st.ViewerCount(), "step %d", i)
		assert.GreaterOrEqual(t, st.ViewerCount(), 0, "step %d", i)
	}
}

func TestState_PeakNeverDecreases(t *testing.T) {
	st, clock := newTestState(t)
	a, b := uuid.New(), uuid.New()

	peaks := []int{}
	st.Join(a, "", clock.Now())
	peaks = append(peaks, st.PeakViewers())
	st.Join(b, "", clock.Now())
	peaks = append(peaks, st.PeakViewers())
	st.Leave(a, clock.Now())
	peaks = append(peaks, st.PeakViewers())
	st.Leave(b, clock.Now())
	peaks = append(peaks, st.PeakViewers())
	st.Join(a, "", clock.Now())
	peaks = append(peaks, st.PeakViewers())

	assert.Equal(t, []int{1, 2, 2, 2, 2}, peaks)
}

func TestState_DoubleJoinDoesNotDoubleCount(t *testing.T) {
	st, clock := newTestState(t)
	v := uuid.New()

	require.True(t, st.Join(v, "mobile", clock.Now()))
	clock.Advance(time.Minute)
	assert.False(t, st.Join(v, "mobile", clock.Now()))

	assert.Equal(t, 1, st.ViewerCount())
	assert.Equal(t, 1, st.PeakViewers())
	assert.Equal(t, 1, st.DeviceStats()[DeviceMobile])
	// watch time still counts from the first join
	assert.Equal(t, time.Minute, st.AvgWatchTime(clock.Now()))
}

func TestState_LeaveUnknownViewerIsNoop(t *testing.T) {
	st, clock := newTestState(t)
	st.Join(uuid.New(), "", clock.Now())
	before := st.Snapshot(clock.Now())

	_, _, ok := st.Leave(uuid.New(), clock.Now())

	assert.False(t, ok)
	assert.Equal(t, before, st.Snapshot(clock.Now()))
}

func TestState_DepartureBooksExactlyOneBucket(t *testing.T) {
	st, clock := newTestState(t)
	v := uuid.New()
	st.Join(v, "", clock.Now())
	clock.Advance(250 * time.Second)

	watched, _, ok := st.Leave(v, clock.Now())

	require.True(t, ok)
	assert.Equal(t, 250*time.Second, watched)
	assert.Equal(t, map[string]int{Bucket0To5: 1, Bucket5To15: 0, Bucket15To30: 0, Bucket30Plus: 0}, st.RetentionSegments())
	assert.Equal(t, 100.0, st.RetentionRates()[Bucket0To5])
	assert.Equal(t, 0.0, st.RetentionRates()[Bucket30Plus])
}

func TestState_EngagementRate(t *testing.T) {
	st, clock := newTestState(t)
	assert.Equal(t, 0.0, st.EngagementRate())

	a, b := uuid.New(), uuid.New()
	st.Join(a, "", clock.Now())
	st.Join(b, "", clock.Now())
	assert.Equal(t, 100.0, st.EngagementRate())

	st.SetActive(b, false, clock.Now())
	assert.Equal(t, 50.0, st.EngagementRate())
}

func TestState_SetActiveIgnoresNonMembers(t *testing.T) {
	st, clock := newTestState(t)
	stranger := uuid.New()

	assert.False(t, st.SetActive(stranger, true, clock.Now()))
	assert.False(t, st.IsActive(stranger))
	assert.Equal(t, 0, st.ActiveCount())
}

func TestState_AvgWatchTimeCoversConnectedViewersOnly(t *testing.T) {
	st, clock := newTestState(t)
	a, b, c := uuid.New(), uuid.New(), uuid.New()

	st.Join(a, "", clock.Now())
	clock.Advance(2 * time.Minute)
	st.Join(b, "", clock.Now())
	st.Join(c, "", clock.Now())
	clock.Advance(time.Minute)
	st.Leave(c, clock.Now())

	// a: 3m, b: 1m; c has left and only feeds retention
	assert.Equal(t, 2*time.Minute, st.AvgWatchTime(clock.Now()))
	assert.Equal(t, 1, st.RetentionSegments()[Bucket0To5])
}

func TestState_RecordSamplePrunesWindows(t *testing.T) {
	st, clock := newTestState(t)
	st.Join(uuid.New(), "", clock.Now())

	for i := 0; i < 7; i++ {
		st.RecordSample(clock.Now())
		clock.Advance(10 * time.Minute)
	}
	// samples at 0,10,...,60m; now is 70m
	st.RecordSample(clock.Now())

	viewers := st.ViewerSeries()
	engagement := st.EngagementSeries()
	require.NotEmpty(t, viewers)
	assert.False(t, viewers[0].At.Before(clock.Now().Add(-time.Hour)))
	assert.Len(t, viewers, 7)
	assert.Len(t, engagement, 4)
	assert.Equal(t, 1.0, viewers[len(viewers)-1].Value)
	assert.Equal(t, 100.0, engagement[len(engagement)-1].Value)
}

func TestState_DemoteIdle(t *testing.T) {
	st, clock := newTestState(t)
	quiet, chatty := uuid.New(), uuid.New()
	st.Join(quiet, "", clock.Now())
	st.Join(chatty, "", clock.Now())

	clock.Advance(4 * time.Minute)
	st.Touch(chatty, clock.Now())
	clock.Advance(time.Minute)

	demoted := st.DemoteIdle(clock.Now(), 5*time.Minute)

	assert.Equal(t, []uuid.UUID{quiet}, demoted)
	assert.False(t, st.IsActive(quiet))
	assert.True(t, st.IsActive(chatty))
	assert.True(t, st.HasViewer(quiet))
	assert.Nil(t, st.DemoteIdle(clock.Now(), 0))
}

func TestState_SalesWindows(t *testing.T) {
	st, clock := newTestState(t)
	product := uuid.New()

	st.RecordSale(product, decimal.RequireFromString("10.00"), clock.Now())
	clock.Advance(30 * time.Second)
	st.RecordSale(product, decimal.RequireFromString("5.50"), clock.Now())
	clock.Advance(3 * time.Minute)
	st.RecordSale(product, decimal.RequireFromString("2.25"), clock.Now())
	clock.Advance(30 * time.Second)

	w := st.TrailingWindow(product, clock.Now(), time.Hour)
	assert.Equal(t, 3, w.Orders)
	assert.True(t, decimal.RequireFromString("17.75").Equal(w.Revenue))

	trend := st.SalesTrend(product, clock.Now())
	require.Len(t, trend, 10)
	// ages: 4m, 3m30s, 30s
	assert.True(t, decimal.RequireFromString("2.25").Equal(trend[9]))
	assert.True(t, decimal.RequireFromString("5.50").Equal(trend[6]))
	assert.True(t, decimal.RequireFromString("10.00").Equal(trend[5]))
	assert.True(t, decimal.Zero.Equal(trend[0]))

	clock.Advance(time.Hour)
	assert.Equal(t, 0, st.TrailingWindow(product, clock.Now(), time.Hour).Orders)
	assert.Equal(t, 3, st.TotalOrders())
	assert.True(t, decimal.RequireFromString("17.75").Equal(st.TotalRevenue()))
}

func TestState_HourlySeries(t *testing.T) {
	st, clock := newTestState(t)
	product := uuid.New()

	st.RecordSale(product, decimal.NewFromInt(3), clock.Now())
	clock.Advance(59 * time.Minute)
	st.RecordSale(product, decimal.NewFromInt(4), clock.Now())
	clock.Advance(2 * time.Minute)
	st.RecordSale(product, decimal.NewFromInt(5), clock.Now())

	snap := st.Snapshot(clock.Now())
	assert.Equal(t, map[string]int{
		"2026-03-14T18:00:00Z": 2,
		"2026-03-14T19:00:00Z": 1,
	}, snap.HourlyOrders)
	assert.True(t, decimal.NewFromInt(7).Equal(snap.HourlyRevenue["2026-03-14T18:00:00Z"]))
}

func TestState_ConversionRate(t *testing.T) {
	st, clock := newTestState(t)
	st.SetDurableOrderCount(3)
	assert.Equal(t, 0.0, st.ConversionRate())

	for i := 0; i < 4; i++ {
		st.Join(uuid.New(), "", clock.Now())
	}
	assert.Equal(t, 75.0, st.ConversionRate())

	st.SetDurableOrderCount(-1)
	assert.Equal(t, 75.0, st.ConversionRate())
}

func TestState_Heatmap(t *testing.T) {
	st, clock := newTestState(t)
	a, b := uuid.New(), uuid.New()

	st.Join(a, "", clock.Now())
	st.Touch(a, clock.Now())
	st.Touch(b, clock.Now())
	clock.Advance(time.Minute)
	st.Touch(a, clock.Now())

	assert.Equal(t, map[string]HeatmapCell{
		"18:00": {Actions: 3, UniqueViewers: 2},
		"18:01": {Actions: 1, UniqueViewers: 1},
	}, st.Heatmap())
}

func TestState_TwoViewersOneLeavesAfterSevenMinutes(t *testing.T) {
	st, clock := newTestState(t)
	v1, v2 := uuid.New(), uuid.New()

	st.Join(v1, "mobile", clock.Now())
	assert.Equal(t, map[Device]int{DeviceMobile: 1, DeviceDesktop: 0, DeviceTablet: 0}, st.DeviceStats())
	assert.Equal(t, []uuid.UUID{v1}, st.Viewers())
	assert.Equal(t, 1, st.PeakViewers())

	st.Join(v2, "desktop", clock.Now())
	assert.Equal(t, 2, st.PeakViewers())

	clock.Advance(400 * time.Second)
	st.Leave(v1, clock.Now())
	assert.Equal(t, 1, st.RetentionSegments()[Bucket5To15])
	assert.Equal(t, 0, st.RetentionSegments()[Bucket0To5])

	snap := st.Snapshot(clock.Now())
	assert.Equal(t, []uuid.UUID{v2}, st.Viewers())
	assert.Equal(t, 1, snap.ViewerCount)
	assert.Equal(t, 2, snap.PeakViewers)
	assert.Equal(t, int64(400), snap.AvgWatchTime)
}

func TestState_Summary(t *testing.T) {
	st, clock := newTestState(t)
	start := clock.Now()
	v := uuid.New()
	st.Join(v, "tablet", clock.Now())
	st.RecordSale(uuid.New(), decimal.RequireFromString("19.99"), clock.Now())
	clock.Advance(20 * time.Minute)
	st.Leave(v, clock.Now())

	sum := st.Summary(clock.Now())

	assert.Equal(t, st.StreamID(), sum.StreamID)
	assert.Equal(t, start, sum.StartedAt)
	assert.Equal(t, clock.Now(), sum.EndedAt)
	assert.Equal(t, 1, sum.PeakViewers)
	assert.Equal(t, 1, sum.TotalOrders)
	assert.True(t, decimal.RequireFromString("19.99").Equal(sum.TotalRevenue))
	assert.Equal(t, 1, sum.RetentionSegments[Bucket15To30])
	assert.Equal(t, 1, sum.DeviceStats["tablet"])
}
