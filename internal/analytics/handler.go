package analytics

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/livecart/backend/internal/middleware"
	"github.com/livecart/backend/internal/models"
	"github.com/livecart/backend/pkg/response"
)

// StreamLookup resolves a stream session to check seller ownership.
type StreamLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.StreamSession, error)
}

// Forgetter drops the cached interaction state of an ended stream.
type Forgetter interface {
	Forget(streamID uuid.UUID)
}

// Handler serves live analytics to the stream's seller.
type Handler struct {
	engine  *Engine
	streams StreamLookup
	forget  []Forgetter
	logger  *zap.Logger
}

// NewHandler creates an analytics handler. forget is called for every stream
// ended through the handler.
func NewHandler(engine *Engine, streams StreamLookup, logger *zap.Logger, forget ...Forgetter) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{engine: engine, streams: streams, forget: forget, logger: logger}
}

// ownedStream parses :id and checks the caller owns the stream. It writes the
// error response and returns false on failure.
func (h *Handler) ownedStream(c *gin.Context) (*models.StreamSession, bool) {
	streamID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid stream id")
		return nil, false
	}
	userID, _ := middleware.UserID(c)
	stream, err := h.streams.GetByID(c.Request.Context(), streamID)
	if err != nil {
		response.FromError(c, err)
		return nil, false
	}
	if !stream.IsOwnedBy(userID) {
		response.Forbidden(c, "not the stream owner")
		return nil, false
	}
	return stream, true
}

// GetMetrics handles GET /streams/:id/analytics.
func (h *Handler) GetMetrics(c *gin.Context) {
	stream, ok := h.ownedStream(c)
	if !ok {
		return
	}
	streamID := stream.ID
	snap, err := h.engine.Metrics(streamID)
	if err != nil {
		response.ServiceUnavailable(c, err.Error())
		return
	}
	response.OK(c, snap)
}

// GetHeatmap handles GET /streams/:id/heatmap.
func (h *Handler) GetHeatmap(c *gin.Context) {
	stream, ok := h.ownedStream(c)
	if !ok {
		return
	}
	streamID := stream.ID
	heat, err := h.engine.Heatmap(streamID)
	if err != nil {
		response.ServiceUnavailable(c, err.Error())
		return
	}
	response.OK(c, heat)
}

// GetRetention handles GET /streams/:id/retention.
func (h *Handler) GetRetention(c *gin.Context) {
	stream, ok := h.ownedStream(c)
	if !ok {
		return
	}
	streamID := stream.ID
	rep, err := h.engine.Retention(streamID)
	if err != nil {
		response.ServiceUnavailable(c, err.Error())
		return
	}
	response.OK(c, rep)
}

// End handles POST /streams/:id/end. The summary is flushed before the
// response; archival continues in the worker.
func (h *Handler) End(c *gin.Context) {
	stream, ok := h.ownedStream(c)
	if !ok {
		return
	}
	streamID := stream.ID
	if stream.Status == models.StreamStatusEnded {
		response.FromError(c, models.ErrInvalidState)
		return
	}
	summary, err := h.engine.End(c.Request.Context(), streamID)
	if errors.Is(err, ErrEngineClosed) {
		response.ServiceUnavailable(c, err.Error())
		return
	}
	if err != nil {
		response.FromError(c, err)
		return
	}
	for _, f := range h.forget {
		f.Forget(streamID)
	}
	h.logger.Info("stream ended by seller", zap.String("stream_id", streamID.String()))
	response.OK(c, summary)
}
