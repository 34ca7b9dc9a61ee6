package polls

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/livecart/backend/internal/middleware"
	"github.com/livecart/backend/pkg/response"
)

// CreateRequest is the body for POST /streams/:id/polls.
type CreateRequest struct {
	Question string   `json:"question" binding:"required"`
	Options  []string `json:"options" binding:"required,min=2"`
}

// VoteRequest is the body for POST /polls/:id/vote.
type VoteRequest struct {
	Option string `json:"option" binding:"required"`
}

// Handler exposes polls over HTTP for the seller dashboard. Viewers normally
// vote over the live gateway; both paths go through the same Service.
type Handler struct {
	svc *Service
}

// NewHandler creates a polls handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// List handles GET /streams/:id/polls.
func (h *Handler) List(c *gin.Context) {
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
	out := make([]gin.H, 0, len(list))
	for _, p := range list {
		out = append(out, gin.H{
			"id":          p.ID,
			"question":    p.Question,
			"options":     p.Options,
			"votes":       p.Votes,
			"total_votes": p.TotalVotes(),
			"status":      p.Status,
			"created_at":  p.CreatedAt,
			"closed_at":   p.ClosedAt,
		})
	}
	response.OK(c, out)
}

// Create handles POST /streams/:id/polls (stream owner).
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
	p, err := h.svc.Create(c.Request.Context(), userID, streamID, req.Question, req.Options)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, p)
}

// Vote handles POST /polls/:id/vote.
func (h *Handler) Vote(c *gin.Context) {
	pollID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid poll id")
		return
	}
	userID, _ := middleware.UserID(c)

	var req VoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	res, err := h.svc.Vote(c.Request.Context(), userID, pollID, req.Option)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, res)
}

// Close handles POST /polls/:id/close (stream owner).
func (h *Handler) Close(c *gin.Context) {
	pollID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid poll id")
		return
	}
	userID, _ := middleware.UserID(c)

	p, err := h.svc.Close(c.Request.Context(), userID, pollID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, gin.H{"id": p.ID, "closed": true, "votes": p.Votes, "total_votes": p.TotalVotes()})
}
