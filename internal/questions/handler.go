package questions

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/livecart/backend/internal/middleware"
	"github.com/livecart/backend/pkg/response"
)

// CreateRequest is the body for POST /streams/:id/questions.
type CreateRequest struct {
	Text string `json:"text" binding:"required"`
}

// AnswerRequest is the body for POST /questions/:id/answer.
type AnswerRequest struct {
	Answer string `json:"answer" binding:"required"`
}

// Handler handles question HTTP endpoints. The live gateway calls the same
// Service for the realtime path.
type Handler struct {
	svc *Service
}

// NewHandler creates a questions handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// ListByStream handles GET /streams/:id/questions (ranked by votes, newest first on ties).
func (h *Handler) ListByStream(c *gin.Context) {
	streamID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid stream id")
		return
	}
	list, err := h.svc.List(c.Request.Context(), streamID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, gin.H{"questions": list})
}

// Create handles POST /streams/:id/questions.
func (h *Handler) Create(c *gin.Context) {
	streamID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid stream id")
		return
	}
	userID, _ := middleware.UserID(c)

	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	ev, err := h.svc.Submit(c.Request.Context(), userID, streamID, req.Text)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, ev)
}

// Upvote handles POST /questions/:id/upvote.
func (h *Handler) Upvote(c *gin.Context) {
	questionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid question id")
		return
	}
	userID, _ := middleware.UserID(c)

	ev, err := h.svc.Vote(c.Request.Context(), userID, questionID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, ev)
}

// Answer handles POST /questions/:id/answer (stream owner).
func (h *Handler) Answer(c *gin.Context) {
	questionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid question id")
		return
	}
	userID, _ := middleware.UserID(c)

	var req AnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	ev, err := h.svc.Answer(c.Request.Context(), userID, questionID, req.Answer)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, ev)
}
