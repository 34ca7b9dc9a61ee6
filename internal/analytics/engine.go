package analytics

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/livecart/backend/internal/metrics"
	"github.com/livecart/backend/internal/models"
)

// Outbound event names published by the engine.
const (
	EventAnalyticsUpdate   = "analytics_update"
	EventViewerCountUpdate = "viewer_count_update"
	EventStreamEnded       = "stream_ended"
)

const storeTimeout = 5 * time.Second

// ErrEngineClosed is returned for events submitted after Close.
var ErrEngineClosed = errors.New("analytics engine closed")

var errActorStopped = errors.New("stream actor stopped")

// Broadcaster fans an event out to every subscriber of a stream. It must not
// block on slow subscribers.
type Broadcaster interface {
	BroadcastToStream(streamID uuid.UUID, event string, payload interface{})
}

// OrderCounter returns the number of distinct durable orders for a stream.
type OrderCounter interface {
	CountByStream(ctx context.Context, streamID uuid.UUID) (int, error)
}

// SummaryStore persists the terminal summary of an ended stream.
type SummaryStore interface {
	SaveSummary(ctx context.Context, summary models.StreamSummary) error
}

// SummaryArchiver schedules background archival of a summary. persisted is
// false when the synchronous save failed and the job must retry it.
type SummaryArchiver interface {
	EnqueueSummary(ctx context.Context, summary models.StreamSummary, persisted bool) error
}

// DepartureRecorder stores completed viewer sessions.
type DepartureRecorder interface {
	RecordDeparture(ctx context.Context, session models.ViewerSession) error
}

// Options configures an Engine. Zero values fall back to defaults; nil
// collaborators are skipped.
type Options struct {
	Windows        Windows
	SampleInterval time.Duration // 0 disables the sampler
	IdleTimeout    time.Duration // 0 disables idle demotion
	Clock          clockwork.Clock
	Logger         *zap.Logger

	Broadcaster Broadcaster
	Orders      OrderCounter
	Summaries   SummaryStore
	Archiver    SummaryArchiver
	Departures  DepartureRecorder
}

// Engine is the single point of mutation for every live stream's analytics.
// Each stream gets its own goroutine that owns the State; events for one
// stream are applied one at a time while different streams run in parallel.
type Engine struct {
	opts   Options
	clock  clockwork.Clock
	logger *zap.Logger

	mu     sync.Mutex
	actors map[uuid.UUID]*actor
	ended  map[uuid.UUID]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewEngine creates an engine with no live streams.
func NewEngine(opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	opts.Windows = opts.Windows.withDefaults()
	return &Engine{
		opts:   opts,
		clock:  opts.Clock,
		logger: opts.Logger,
		actors: make(map[uuid.UUID]*actor),
		ended:  make(map[uuid.UUID]struct{}),
	}
}

type command struct {
	kind  string
	fn    func(st *State, now time.Time)
	final bool // stop the actor once applied
	done  chan struct{}
}

type actor struct {
	engine   *Engine
	streamID uuid.UUID
	state    *State
	cmds     chan command
	quit     chan struct{}
	stopped  chan struct{}
}

func (e *Engine) newActor(streamID uuid.UUID) *actor {
	a := &actor{
		engine:   e,
		streamID: streamID,
		state:    NewState(streamID, e.clock.Now(), e.opts.Windows),
		cmds:     make(chan command),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	e.wg.Add(1)
	go a.run()
	metrics.StreamsActive.Inc()
	e.logger.Debug("stream state created", zap.String("stream_id", streamID.String()))
	if e.opts.Orders != nil {
		go e.refreshOrders(streamID)
	}
	return a
}

func (a *actor) run() {
	defer a.engine.wg.Done()
	defer close(a.stopped)
	defer metrics.StreamsActive.Dec()

	var tick <-chan time.Time
	if a.engine.opts.SampleInterval > 0 {
		ticker := a.engine.clock.NewTicker(a.engine.opts.SampleInterval)
		defer ticker.Stop()
		tick = ticker.Chan()
	}

	for {
		select {
		case cmd := <-a.cmds:
			a.exec(cmd)
			if cmd.final {
				return
			}
		case <-tick:
			a.exec(command{kind: "sample", fn: a.engine.sample})
		case <-a.quit:
			metrics.ViewersConnected.Sub(float64(a.state.ViewerCount()))
			return
		}
	}
}

func (a *actor) exec(cmd command) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			metrics.StreamActorPanics.Inc()
			a.engine.logger.Error("stream event panicked",
				zap.String("stream_id", a.streamID.String()),
				zap.String("kind", cmd.kind),
				zap.Any("panic", r),
			)
		}
		metrics.StreamEventDuration.Observe(time.Since(start).Seconds())
		if cmd.done != nil {
			close(cmd.done)
		}
	}()
	cmd.fn(a.state, a.engine.clock.Now())
}

// submit hands cmd to the actor and waits until it has been applied.
func (a *actor) submit(cmd command) error {
	cmd.done = make(chan struct{})
	select {
	case a.cmds <- cmd:
	case <-a.stopped:
		return errActorStopped
	}
	<-cmd.done
	return nil
}

// lookup returns the actor for streamID, creating it when create is set.
// It returns nil without error when the stream has no state and create is false.
// Ended streams never get state again.
func (e *Engine) lookup(streamID uuid.UUID, create bool) (*actor, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrEngineClosed
	}
	a := e.actors[streamID]
	if a == nil && create {
		if _, gone := e.ended[streamID]; gone {
			return nil, models.ErrInvalidState
		}
		a = e.newActor(streamID)
		e.actors[streamID] = a
	}
	return a, nil
}

// do applies fn to the stream's state inside its serialized section. It
// reports whether the stream had (or was given) state.
func (e *Engine) do(streamID uuid.UUID, kind string, create bool, fn func(*State, time.Time)) (bool, error) {
	metrics.StreamEventsTotal.WithLabelValues(kind).Inc()
	// An actor can stop between lookup and submit when the stream ends; the
	// retry then sees the stream as ended.
	for attempt := 0; attempt < 2; attempt++ {
		a, err := e.lookup(streamID, create)
		if err != nil {
			return false, err
		}
		if a == nil {
			return false, nil
		}
		err = a.submit(command{kind: kind, fn: fn})
		if errors.Is(err, errActorStopped) {
			continue
		}
		return true, err
	}
	return false, fmt.Errorf("stream %s: %w", streamID, errActorStopped)
}

// read runs fn against the stream's state, or against an empty state when the
// stream has none. It never creates state.
func (e *Engine) read(streamID uuid.UUID, kind string, fn func(*State, time.Time)) error {
	ok, err := e.do(streamID, kind, false, fn)
	if err != nil {
		return err
	}
	if !ok {
		now := e.clock.Now()
		fn(NewState(streamID, now, e.opts.Windows), now)
	}
	return nil
}

// publish broadcasts the current snapshot. Called from inside the actor so the
// payload is consistent with the mutation that triggered it.
func (e *Engine) publish(st *State, now time.Time, presenceChanged bool) {
	if e.opts.Broadcaster == nil {
		return
	}
	e.opts.Broadcaster.BroadcastToStream(st.StreamID(), EventAnalyticsUpdate, st.Snapshot(now))
	if presenceChanged {
		e.opts.Broadcaster.BroadcastToStream(st.StreamID(), EventViewerCountUpdate, map[string]int{"count": st.ViewerCount()})
	}
}

// Join adds viewer to the stream and broadcasts the new snapshot. A repeated
// join only refreshes the viewer's activity.
func (e *Engine) Join(streamID, viewer uuid.UUID, deviceHint string) (Snapshot, error) {
	var snap Snapshot
	_, err := e.do(streamID, "join", true, func(st *State, now time.Time) {
		added := st.Join(viewer, deviceHint, now)
		if added {
			metrics.ViewersConnected.Inc()
		}
		e.publish(st, now, added)
		snap = st.Snapshot(now)
	})
	return snap, err
}

// Leave removes viewer from the stream. It is a no-op for streams without
// state and for viewers that are not present.
func (e *Engine) Leave(streamID, viewer uuid.UUID) (Snapshot, error) {
	var snap Snapshot
	ok, err := e.do(streamID, "leave", false, func(st *State, now time.Time) {
		e.leave(st, viewer, now)
		snap = st.Snapshot(now)
	})
	if err == nil && !ok {
		now := e.clock.Now()
		snap = NewState(streamID, now, e.opts.Windows).Snapshot(now)
	}
	return snap, err
}

func (e *Engine) leave(st *State, viewer uuid.UUID, now time.Time) bool {
	watched, joinedAt, ok := st.Leave(viewer, now)
	if !ok {
		return false
	}
	metrics.ViewersConnected.Dec()
	e.publish(st, now, true)
	if e.opts.Departures != nil && !joinedAt.IsZero() {
		session := models.ViewerSession{
			StreamID:     st.StreamID(),
			UserID:       viewer,
			JoinedAt:     joinedAt,
			LeftAt:       now,
			WatchSeconds: int64(watched.Seconds()),
			Bucket:       RetentionBucket(watched),
		}
		go e.recordDeparture(session)
	}
	return true
}

func (e *Engine) recordDeparture(session models.ViewerSession) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := e.opts.Departures.RecordDeparture(ctx, session); err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("record_departure").Inc()
		e.logger.Warn("record viewer departure failed",
			zap.Error(err),
			zap.String("stream_id", session.StreamID.String()),
			zap.String("user_id", session.UserID.String()),
		)
	}
}

// SetActive marks viewer engaged or idle. Events for viewers that are not
// present are ignored.
func (e *Engine) SetActive(streamID, viewer uuid.UUID, active bool) error {
	_, err := e.do(streamID, "set_active", false, func(st *State, now time.Time) {
		if st.SetActive(viewer, active, now) {
			e.publish(st, now, false)
		}
	})
	return err
}

// DisconnectAll removes viewer from every stream it is present in and returns
// those streams. Called once per lost connection.
func (e *Engine) DisconnectAll(viewer uuid.UUID) ([]uuid.UUID, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrEngineClosed
	}
	ids := make([]uuid.UUID, 0, len(e.actors))
	for id := range e.actors {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	var left []uuid.UUID
	for _, id := range ids {
		removed := false
		if _, err := e.do(id, "disconnect", false, func(st *State, now time.Time) {
			removed = e.leave(st, viewer, now)
		}); err != nil {
			return left, err
		}
		if removed {
			left = append(left, id)
		}
	}
	return left, nil
}

// Touch records an interaction (chat, question, vote) by viewer for the
// heatmap and idle tracking.
func (e *Engine) Touch(streamID, viewer uuid.UUID, kind string) error {
	_, err := e.do(streamID, kind, true, func(st *State, now time.Time) {
		st.Touch(viewer, now)
	})
	return err
}

// RecordSale attributes a sale to the stream and broadcasts the new snapshot.
// The durable order count used for the conversion rate is refreshed first.
func (e *Engine) RecordSale(ctx context.Context, streamID, buyer, product uuid.UUID, amount decimal.Decimal) error {
	count, haveCount := -1, false
	if e.opts.Orders != nil {
		n, err := e.opts.Orders.CountByStream(ctx, streamID)
		if err != nil {
			metrics.StoreErrorsTotal.WithLabelValues("count_orders").Inc()
			e.logger.Warn("count stream orders failed", zap.Error(err), zap.String("stream_id", streamID.String()))
		} else {
			count, haveCount = n, true
		}
	}
	_, err := e.do(streamID, "order", true, func(st *State, now time.Time) {
		if haveCount {
			st.SetDurableOrderCount(count)
		}
		st.Touch(buyer, now)
		st.RecordSale(product, amount, now)
		e.publish(st, now, false)
	})
	return err
}

// Metrics returns the current snapshot of the stream.
func (e *Engine) Metrics(streamID uuid.UUID) (Snapshot, error) {
	var snap Snapshot
	err := e.read(streamID, "get_metrics", func(st *State, now time.Time) {
		snap = st.Snapshot(now)
	})
	return snap, err
}

// Heatmap returns the per-minute activity of the stream.
func (e *Engine) Heatmap(streamID uuid.UUID) (map[string]HeatmapCell, error) {
	var out map[string]HeatmapCell
	err := e.read(streamID, "get_heatmap", func(st *State, _ time.Time) {
		out = st.Heatmap()
	})
	return out, err
}

// Retention returns the completed-session breakdown of the stream.
func (e *Engine) Retention(streamID uuid.UUID) (RetentionReport, error) {
	var out RetentionReport
	err := e.read(streamID, "get_retention", func(st *State, _ time.Time) {
		out = st.Retention()
	})
	return out, err
}

// Viewers returns the viewers currently present in the stream.
func (e *Engine) Viewers(streamID uuid.UUID) ([]uuid.UUID, error) {
	var out []uuid.UUID
	err := e.read(streamID, "get_viewers", func(st *State, _ time.Time) {
		out = st.Viewers()
	})
	return out, err
}

// End tears the stream's state down and flushes its terminal summary. A stream
// ends once: a second End and any later event that would create state fail
// with models.ErrInvalidState.
func (e *Engine) End(ctx context.Context, streamID uuid.UUID) (models.StreamSummary, error) {
	metrics.StreamEventsTotal.WithLabelValues("end").Inc()
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return models.StreamSummary{}, ErrEngineClosed
	}
	if _, gone := e.ended[streamID]; gone {
		e.mu.Unlock()
		return models.StreamSummary{}, models.ErrInvalidState
	}
	e.ended[streamID] = struct{}{}
	a := e.actors[streamID]
	delete(e.actors, streamID)
	e.mu.Unlock()

	var summary models.StreamSummary
	finalize := func(st *State, now time.Time) {
		summary = st.Summary(now)
		metrics.ViewersConnected.Sub(float64(st.ViewerCount()))
		if e.opts.Broadcaster != nil {
			e.opts.Broadcaster.BroadcastToStream(streamID, EventStreamEnded, summary)
		}
	}
	if a == nil || a.submit(command{kind: "end", fn: finalize, final: true}) != nil {
		now := e.clock.Now()
		finalize(NewState(streamID, now, e.opts.Windows), now)
	}

	e.flush(ctx, summary)
	e.logger.Info("stream ended",
		zap.String("stream_id", streamID.String()),
		zap.Int("peak_viewers", summary.PeakViewers),
		zap.String("total_revenue", summary.TotalRevenue.String()),
	)
	return summary, nil
}

func (e *Engine) flush(ctx context.Context, summary models.StreamSummary) {
	persisted := false
	if e.opts.Summaries != nil {
		if err := e.opts.Summaries.SaveSummary(ctx, summary); err != nil {
			metrics.StoreErrorsTotal.WithLabelValues("save_summary").Inc()
			e.logger.Error("save stream summary failed, deferring to worker",
				zap.Error(err), zap.String("stream_id", summary.StreamID.String()))
		} else {
			persisted = true
		}
	}
	if e.opts.Archiver == nil {
		return
	}
	if err := e.opts.Archiver.EnqueueSummary(ctx, summary, persisted); err != nil {
		e.logger.Error("enqueue summary archive failed", zap.Error(err), zap.String("stream_id", summary.StreamID.String()))
	}
}

// sample runs on every sampler tick.
func (e *Engine) sample(st *State, now time.Time) {
	st.RecordSample(now)
	demoted := st.DemoteIdle(now, e.opts.IdleTimeout)
	if len(demoted) > 0 {
		e.logger.Debug("viewers marked idle", zap.String("stream_id", st.StreamID().String()), zap.Int("count", len(demoted)))
	}
	if e.opts.Orders != nil {
		go e.refreshOrders(st.StreamID())
	}
	e.publish(st, now, false)
}

func (e *Engine) refreshOrders(streamID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	n, err := e.opts.Orders.CountByStream(ctx, streamID)
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("count_orders").Inc()
		e.logger.Warn("refresh stream orders failed", zap.Error(err), zap.String("stream_id", streamID.String()))
		return
	}
	_, _ = e.do(streamID, "refresh_orders", false, func(st *State, _ time.Time) {
		st.SetDurableOrderCount(n)
	})
}

// ActiveStreams returns the number of streams holding state.
func (e *Engine) ActiveStreams() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.actors)
}

// Close stops every stream actor without flushing summaries. Further events
// fail with ErrEngineClosed.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	actors := e.actors
	e.actors = make(map[uuid.UUID]*actor)
	e.mu.Unlock()

	for _, a := range actors {
		close(a.quit)
	}
	e.wg.Wait()
}
