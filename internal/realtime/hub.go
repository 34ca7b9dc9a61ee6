package realtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/livecart/backend/internal/analytics"
	"github.com/livecart/backend/internal/metrics"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60
)

// RedisPublisher publishes stream events for cross-instance broadcast.
type RedisPublisher interface {
	PublishStreamEvent(streamID uuid.UUID, event string, payload []byte) error
}

// RedisSubscriber subscribes to stream channels and invokes handler for incoming events.
type RedisSubscriber interface {
	SubscribeStream(streamID uuid.UUID, handler func(event string, payload []byte)) (cancel func(), err error)
}

// Hub maintains stream_id -> set of connections and broadcasts messages. One
// connection may be subscribed to many streams. With Redis configured every
// broadcast goes through the stream's channel, so each instance (this one
// included) delivers it to its local subscribers exactly once.
type Hub struct {
	streams map[uuid.UUID]map[*Client]struct{}
	joined  map[*Client]map[uuid.UUID]struct{}
	users   map[uuid.UUID]int    // open connections per user
	subs    map[uuid.UUID]func() // cancel Redis subscription per stream
	mu      sync.RWMutex
	logger  *zap.Logger
	redis   RedisPublisher
	sub     RedisSubscriber
}

// NewHub creates a new WebSocket hub. Redis collaborators may be nil for a
// single instance.
func NewHub(logger *zap.Logger, redisPub RedisPublisher, redisSub RedisSubscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		streams: make(map[uuid.UUID]map[*Client]struct{}),
		joined:  make(map[*Client]map[uuid.UUID]struct{}),
		users:   make(map[uuid.UUID]int),
		subs:    make(map[uuid.UUID]func()),
		logger:  logger,
		redis:   redisPub,
		sub:     redisSub,
	}
}

// Register tracks a new connection.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.joined[c] = make(map[uuid.UUID]struct{})
	h.users[c.UserID]++
	h.mu.Unlock()
	metrics.WebSocketConnectionsCurrent.Inc()
}

// Unregister removes a connection from every stream and closes its send
// channel. It returns the streams the connection was subscribed to.
func (h *Hub) Unregister(c *Client) []uuid.UUID {
	h.mu.Lock()
	streams, ok := h.joined[c]
	if !ok {
		h.mu.Unlock()
		return nil
	}
	left := make([]uuid.UUID, 0, len(streams))
	for id := range streams {
		h.removeLocked(c, id)
		left = append(left, id)
	}
	delete(h.joined, c)
	if h.users[c.UserID]--; h.users[c.UserID] <= 0 {
		delete(h.users, c.UserID)
	}
	close(c.send)
	h.mu.Unlock()

	metrics.WebSocketConnectionsCurrent.Dec()
	h.logger.Debug("client disconnected", zap.String("client_id", c.ID), zap.Int("streams", len(left)))
	return left
}

// Subscribe adds the connection to a stream room and reports whether it was
// newly added. The first local subscriber starts the stream's Redis
// subscription.
func (h *Hub) Subscribe(c *Client, streamID uuid.UUID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	streams, ok := h.joined[c]
	if !ok {
		return false
	}
	if _, already := streams[streamID]; already {
		return false
	}
	if h.streams[streamID] == nil {
		h.streams[streamID] = make(map[*Client]struct{})
		if h.sub != nil {
			cancel, err := h.sub.SubscribeStream(streamID, func(event string, payload []byte) {
				h.deliver(streamID, WSMessage{Event: event, Data: payload})
			})
			if err != nil {
				h.logger.Warn("redis subscribe failed", zap.Error(err), zap.String("stream_id", streamID.String()))
			} else {
				h.subs[streamID] = cancel
			}
		}
	}
	h.streams[streamID][c] = struct{}{}
	streams[streamID] = struct{}{}
	h.logger.Debug("client joined stream", zap.String("client_id", c.ID), zap.String("stream_id", streamID.String()))
	return true
}

// Unsubscribe removes the connection from a stream room and reports whether
// it was subscribed.
func (h *Hub) Unsubscribe(c *Client, streamID uuid.UUID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	streams, ok := h.joined[c]
	if !ok {
		return false
	}
	if _, in := streams[streamID]; !in {
		return false
	}
	delete(streams, streamID)
	h.removeLocked(c, streamID)
	return true
}

// IsSubscribed reports whether the connection has joined the stream.
func (h *Hub) IsSubscribed(c *Client, streamID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.joined[c][streamID]
	return ok
}

// UserConnected reports whether the user has any open connection.
func (h *Hub) UserConnected(userID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.users[userID] > 0
}

// UserSubscribed reports whether any connection of the user has joined the stream.
func (h *Hub) UserSubscribed(userID, streamID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.streams[streamID] {
		if c.UserID == userID {
			return true
		}
	}
	return false
}

func (h *Hub) removeLocked(c *Client, streamID uuid.UUID) {
	m, ok := h.streams[streamID]
	if !ok {
		return
	}
	delete(m, c)
	if len(m) > 0 {
		return
	}
	delete(h.streams, streamID)
	if cancel, ok := h.subs[streamID]; ok {
		cancel()
		delete(h.subs, streamID)
	}
}

// BroadcastToStream sends an event to every subscriber of a stream on every
// instance. It never blocks on slow subscribers.
func (h *Hub) BroadcastToStream(streamID uuid.UUID, event string, payload interface{}) {
	data, err := encode(payload)
	if err != nil {
		h.logger.Error("encode broadcast payload", zap.Error(err), zap.String("event", event))
		return
	}
	if h.redis != nil {
		err := h.redis.PublishStreamEvent(streamID, event, data)
		if err == nil {
			return
		}
		h.logger.Warn("redis publish failed, delivering locally", zap.Error(err), zap.String("stream_id", streamID.String()))
	}
	h.deliver(streamID, WSMessage{Event: event, Data: data})
}

// deliver sends msg to this instance's subscribers of a stream. The
// stream_ended event is the last one a room receives.
func (h *Hub) deliver(streamID uuid.UUID, msg WSMessage) {
	h.mu.RLock()
	for c := range h.streams[streamID] {
		select {
		case c.send <- msg:
		default:
			metrics.StreamEventsDropped.WithLabelValues("slow_consumer").Inc()
		}
	}
	h.mu.RUnlock()
	if msg.Event == analytics.EventStreamEnded {
		h.CloseStream(streamID)
	}
}

// CloseStream removes every local connection from a stream room and returns
// how many were subscribed.
func (h *Hub) CloseStream(streamID uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.streams[streamID]
	for c := range room {
		delete(h.joined[c], streamID)
	}
	delete(h.streams, streamID)
	if cancel, ok := h.subs[streamID]; ok {
		cancel()
		delete(h.subs, streamID)
	}
	if len(room) > 0 {
		h.logger.Debug("stream room closed", zap.String("stream_id", streamID.String()), zap.Int("clients", len(room)))
	}
	return len(room)
}

// SendToClient sends an event to a single connection.
func (h *Hub) SendToClient(c *Client, event string, payload interface{}) {
	data, err := encode(payload)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.joined[c]; !ok {
		return
	}
	select {
	case c.send <- WSMessage{Event: event, Data: data}:
	default:
		metrics.StreamEventsDropped.WithLabelValues("slow_consumer").Inc()
	}
}

// SubscriberCount returns the number of local connections subscribed to a stream.
func (h *Hub) SubscriberCount(streamID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.streams[streamID])
}

func encode(payload interface{}) ([]byte, error) {
	switch v := payload.(type) {
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	default:
		return json.Marshal(payload)
	}
}
