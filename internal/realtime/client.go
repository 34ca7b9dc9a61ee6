package realtime

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/livecart/backend/internal/auth"
	"github.com/livecart/backend/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 16384
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // callers authenticate with ?token=
	},
}

// TokenValidator validates a caller's JWT.
type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// ClientConfig holds per-connection limits.
type ClientConfig struct {
	MessagesPerSecond float64
	Burst             int
	SendBuffer        int
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.MessagesPerSecond <= 0 {
		c.MessagesPerSecond = 20
	}
	if c.Burst <= 0 {
		c.Burst = 40
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	return c
}

// Client represents a single WebSocket connection. It may be subscribed to
// any number of streams.
type Client struct {
	ID       string
	UserID   uuid.UUID
	Username string
	IsSeller bool
	conn     *websocket.Conn
	send     chan WSMessage
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// ServeWs handles GET /ws?token=..., upgrades the connection and runs the
// client loop until the connection drops.
func ServeWs(hub *Hub, router *Router, tokens TokenValidator, cfg ClientConfig, logger *zap.Logger) gin.HandlerFunc {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "token required"})
			return
		}
		claims, err := tokens.Validate(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		id := uuid.New().String()
		client := &Client{
			ID:       id,
			UserID:   claims.UserID,
			Username: claims.Username,
			IsSeller: claims.IsSeller,
			conn:     conn,
			send:     make(chan WSMessage, cfg.SendBuffer),
			limiter:  rate.NewLimiter(rate.Limit(cfg.MessagesPerSecond), cfg.Burst),
			logger:   logger.With(zap.String("client_id", id), zap.String("user_id", claims.UserID.String())),
		}
		hub.Register(client)
		go client.writePump()
		client.readPump(router)
	}
}

func (c *Client) readPump(router *Router) {
	defer func() {
		router.Disconnect(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read failed", zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))

		if !c.limiter.Allow() {
			metrics.StreamEventsDropped.WithLabelValues("rate_limited").Inc()
			c.logger.Debug("inbound message rate limited", zap.String("event", msg.Event))
			continue
		}
		router.Handle(context.Background(), c, msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
