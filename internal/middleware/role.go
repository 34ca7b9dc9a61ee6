package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/livecart/backend/pkg/response"
)

// RequireSeller returns a middleware that allows only seller accounts.
func RequireSeller() gin.HandlerFunc {
	return func(c *gin.Context) {
		v, ok := c.Get(ContextIsSeller)
		if !ok {
			response.Unauthorized(c, "missing user context")
			c.Abort()
			return
		}
		if isSeller, _ := v.(bool); !isSeller {
			response.Forbidden(c, "seller account required")
			c.Abort()
			return
		}
		c.Next()
	}
}
