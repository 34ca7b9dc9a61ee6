package orders

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/livecart/backend/internal/middleware"
	"github.com/livecart/backend/internal/models"
	"github.com/livecart/backend/pkg/response"
)

// StreamLookup resolves a stream session to check seller ownership.
type StreamLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.StreamSession, error)
}

// Handler serves a stream's orders to its seller.
type Handler struct {
	repo    *Repository
	streams StreamLookup
}

// NewHandler creates an orders handler.
func NewHandler(repo *Repository, streams StreamLookup) *Handler {
	return &Handler{repo: repo, streams: streams}
}

// ListByStream handles GET /streams/:id/orders.
func (h *Handler) ListByStream(c *gin.Context) {
	streamID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid stream id")
		return
	}
	userID, _ := middleware.UserID(c)
	stream, err := h.streams.GetByID(c.Request.Context(), streamID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	if !stream.IsOwnedBy(userID) {
		response.Forbidden(c, "not the stream owner")
		return
	}
	list, err := h.repo.ListByStream(c.Request.Context(), streamID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, gin.H{"orders": list})
}
