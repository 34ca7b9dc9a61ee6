package forecast

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/livecart/backend/internal/middleware"
	"github.com/livecart/backend/pkg/response"
)

// Handler serves best-time forecasts.
type Handler struct {
	svc *Service
}

// NewHandler creates a forecast handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// BestTime handles GET /sellers/:id/best-time. Sellers may only read their own forecast.
func (h *Handler) BestTime(c *gin.Context) {
	sellerID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid seller id")
		return
	}
	if caller, _ := middleware.UserID(c); caller != sellerID {
		response.Forbidden(c, "not your forecast")
		return
	}
	res, err := h.svc.BestTime(c.Request.Context(), sellerID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, res)
}
