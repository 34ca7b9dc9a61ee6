package realtime

import (
	"context"
	"errors"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/livecart/backend/internal/analytics"
	"github.com/livecart/backend/internal/metrics"
	"github.com/livecart/backend/internal/models"
	"github.com/livecart/backend/internal/polls"
	"github.com/livecart/backend/internal/questions"
)

// EventChatMessage is the outbound chat broadcast.
const EventChatMessage = "chat_message"

const (
	maxChatLen    = 500
	handleTimeout = 5 * time.Second
	heatmapChat   = "chat"
	heatmapVote   = "vote"
	heatmapAsk    = "question"
)

// Analytics is the live analytics engine as seen by the gateway.
type Analytics interface {
	Join(streamID, viewer uuid.UUID, deviceHint string) (analytics.Snapshot, error)
	Leave(streamID, viewer uuid.UUID) (analytics.Snapshot, error)
	SetActive(streamID, viewer uuid.UUID, active bool) error
	DisconnectAll(viewer uuid.UUID) ([]uuid.UUID, error)
	Touch(streamID, viewer uuid.UUID, kind string) error
	RecordSale(ctx context.Context, streamID, buyer, product uuid.UUID, amount decimal.Decimal) error
}

// PollService runs poll commands.
type PollService interface {
	Create(ctx context.Context, caller, streamID uuid.UUID, question string, options []string) (*models.Poll, error)
	Vote(ctx context.Context, voter, pollID uuid.UUID, option string) (polls.VoteResult, error)
	Close(ctx context.Context, caller, pollID uuid.UUID) (*models.Poll, error)
}

// QuestionService runs question commands.
type QuestionService interface {
	Submit(ctx context.Context, user, streamID uuid.UUID, text string) (questions.NewQuestionEvent, error)
	Vote(ctx context.Context, voter, questionID uuid.UUID) (questions.VoteEvent, error)
	Answer(ctx context.Context, caller, questionID uuid.UUID, answer string) (questions.AnswerEvent, error)
}

// OrderRecorder durably records orders. inserted is false when the order ID
// was already recorded.
type OrderRecorder interface {
	Record(ctx context.Context, o *models.Order) (inserted bool, err error)
}

// StreamLookup resolves stream sessions.
type StreamLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.StreamSession, error)
}

// RouterDeps are the collaborators of a Router.
type RouterDeps struct {
	Hub       *Hub
	Engine    Analytics
	Polls     PollService
	Questions QuestionService
	Orders    OrderRecorder
	Streams   StreamLookup
	Clock     clockwork.Clock
	Logger    *zap.Logger
}

// Router validates inbound messages and dispatches them to the engine and
// the interaction services. Failures are dropped and reported to the sender
// only; they never reach other viewers.
type Router struct {
	hub       *Hub
	engine    Analytics
	polls     PollService
	questions QuestionService
	orders    OrderRecorder
	streams   StreamLookup
	clock     clockwork.Clock
	logger    *zap.Logger

	// presence decisions for one user (hub membership check plus engine
	// call) run under the user's stripe
	userLocks [64]sync.Mutex
}

// NewRouter creates a gateway router.
func NewRouter(deps RouterDeps) *Router {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Router{
		hub:       deps.Hub,
		engine:    deps.Engine,
		polls:     deps.Polls,
		questions: deps.Questions,
		orders:    deps.Orders,
		streams:   deps.Streams,
		clock:     deps.Clock,
		logger:    deps.Logger,
	}
}

// Handle processes one inbound envelope from c.
func (r *Router) Handle(ctx context.Context, c *Client, msg WSMessage) {
	in, err := DecodeInbound(msg)
	if err != nil {
		r.reject(c, msg.Event, err)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	switch m := in.(type) {
	case *JoinMsg:
		err = r.join(ctx, c, m)
	case *LeaveMsg:
		err = r.leave(c, m.StreamID)
	case *SetActiveMsg:
		err = r.engine.SetActive(m.StreamID, c.UserID, *m.Active)
	case *ChatMsg:
		err = r.chat(c, m)
	case *SubmitQuestionMsg:
		if _, err = r.questions.Submit(ctx, c.UserID, m.StreamID, m.Text); err == nil {
			r.touch(m.StreamID, c.UserID, heatmapAsk)
		}
	case *VoteQuestionMsg:
		var ev questions.VoteEvent
		if ev, err = r.questions.Vote(ctx, c.UserID, m.QuestionID); err == nil {
			r.touch(ev.StreamID, c.UserID, heatmapVote)
		}
	case *SubmitAnswerMsg:
		_, err = r.questions.Answer(ctx, c.UserID, m.QuestionID, m.Answer)
	case *CreatePollMsg:
		_, err = r.polls.Create(ctx, c.UserID, m.StreamID, m.Question, m.Options)
	case *VotePollMsg:
		var res polls.VoteResult
		if res, err = r.polls.Vote(ctx, c.UserID, m.PollID, m.Option); err == nil {
			r.touch(res.StreamID, c.UserID, heatmapVote)
		}
	case *ClosePollMsg:
		_, err = r.polls.Close(ctx, c.UserID, m.PollID)
	case *OrderPlacedMsg:
		err = r.order(ctx, c, m)
	}
	if err != nil {
		r.reject(c, in.Kind(), err)
	}
}

func (r *Router) lockUser(id uuid.UUID) func() {
	mu := &r.userLocks[int(id[15])%len(r.userLocks)]
	mu.Lock()
	return mu.Unlock
}

func (r *Router) join(ctx context.Context, c *Client, m *JoinMsg) error {
	stream, err := r.streams.GetByID(ctx, m.StreamID)
	if err != nil {
		return err
	}
	if stream.Status == models.StreamStatusEnded {
		return models.ErrInvalidState
	}
	unlock := r.lockUser(c.UserID)
	added := r.hub.Subscribe(c, m.StreamID)
	snap, err := r.engine.Join(m.StreamID, c.UserID, m.DeviceHint)
	if err != nil && added {
		r.hub.Unsubscribe(c, m.StreamID)
	}
	unlock()
	if err != nil {
		return err
	}
	r.hub.SendToClient(c, EventJoined, snap)
	return nil
}

// leave drops the connection from the stream. The viewer leaves the
// analytics only when none of its other connections is still watching.
func (r *Router) leave(c *Client, streamID uuid.UUID) error {
	defer r.lockUser(c.UserID)()
	if !r.hub.Unsubscribe(c, streamID) {
		return nil
	}
	if r.hub.UserSubscribed(c.UserID, streamID) {
		return nil
	}
	_, err := r.engine.Leave(streamID, c.UserID)
	return err
}

func (r *Router) chat(c *Client, m *ChatMsg) error {
	if !r.hub.IsSubscribed(c, m.StreamID) {
		return models.ErrInvalidState
	}
	if utf8.RuneCountInString(m.Text) > maxChatLen {
		return models.ErrInvalidInput
	}
	r.hub.BroadcastToStream(m.StreamID, EventChatMessage, map[string]string{
		"username": c.Username,
		"text":     m.Text,
	})
	r.touch(m.StreamID, c.UserID, heatmapChat)
	return nil
}

func (r *Router) order(ctx context.Context, c *Client, m *OrderPlacedMsg) error {
	stream, err := r.streams.GetByID(ctx, m.StreamID)
	if err != nil {
		return err
	}
	if stream.Status == models.StreamStatusEnded {
		return models.ErrInvalidState
	}
	o := &models.Order{
		ID:        m.OrderID,
		StreamID:  m.StreamID,
		UserID:    c.UserID,
		ProductID: m.ProductID,
		Amount:    m.Amount,
		CreatedAt: r.clock.Now(),
	}
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	inserted, err := r.orders.Record(ctx, o)
	switch {
	case err != nil:
		metrics.StoreErrorsTotal.WithLabelValues("record_order").Inc()
		r.logger.Warn("record order failed, applying sale in memory",
			zap.Error(err),
			zap.String("order_id", o.ID.String()),
			zap.String("stream_id", o.StreamID.String()),
		)
	case !inserted:
		r.logger.Debug("duplicate order ignored", zap.String("order_id", o.ID.String()))
		return nil
	}
	return r.engine.RecordSale(ctx, m.StreamID, c.UserID, m.ProductID, m.Amount)
}

func (r *Router) touch(streamID, viewer uuid.UUID, kind string) {
	if err := r.engine.Touch(streamID, viewer, kind); err != nil {
		r.logger.Debug("touch failed", zap.Error(err), zap.String("stream_id", streamID.String()))
	}
}

// Disconnect tears down a lost connection. Called exactly once per client.
func (r *Router) Disconnect(c *Client) {
	defer r.lockUser(c.UserID)()
	left := r.hub.Unregister(c)
	if !r.hub.UserConnected(c.UserID) {
		if _, err := r.engine.DisconnectAll(c.UserID); err != nil {
			r.logger.Debug("disconnect viewer", zap.Error(err), zap.String("user_id", c.UserID.String()))
		}
		return
	}
	for _, id := range left {
		if r.hub.UserSubscribed(c.UserID, id) {
			continue
		}
		if _, err := r.engine.Leave(id, c.UserID); err != nil {
			r.logger.Debug("leave on disconnect", zap.Error(err), zap.String("stream_id", id.String()))
		}
	}
}

func dropReason(err error) string {
	var storeErr *models.StoreError
	switch {
	case errors.Is(err, models.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, models.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, models.ErrInvalidOption):
		return "invalid_option"
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	case errors.Is(err, models.ErrInvalidInput), errors.Is(err, ErrUnknownKind):
		return "invalid_input"
	case errors.As(err, &storeErr):
		return "store_error"
	default:
		return "internal"
	}
}

// reject drops a message and tells only the sender why.
func (r *Router) reject(c *Client, kind string, err error) {
	reason := dropReason(err)
	metrics.StreamEventsDropped.WithLabelValues(reason).Inc()
	r.logger.Debug("inbound message dropped",
		zap.String("kind", kind),
		zap.String("reason", reason),
		zap.String("user_id", c.UserID.String()),
		zap.Error(err),
	)
	r.hub.SendToClient(c, EventError, map[string]string{"kind": kind, "error": reason})
}
