package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livecart/backend/internal/models"
)

func TestFromError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"unauthorized", models.ErrUnauthorized, http.StatusForbidden, models.ErrUnauthorized.Error()},
		{"wrapped not found", fmt.Errorf("poll %d: %w", 7, models.ErrNotFound), http.StatusNotFound, "poll 7: not found"},
		{"invalid state", models.ErrInvalidState, http.StatusConflict, models.ErrInvalidState.Error()},
		{"invalid option", models.ErrInvalidOption, http.StatusBadRequest, models.ErrInvalidOption.Error()},
		{"invalid input", models.ErrInvalidInput, http.StatusBadRequest, models.ErrInvalidInput.Error()},
		{"store", models.NewStoreError("get_stream", errors.New("dial tcp: refused")), http.StatusInternalServerError, "internal error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)

			FromError(c, tt.err)

			assert.Equal(t, tt.status, w.Code)
			var body Body
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.False(t, body.Success)
			assert.Equal(t, tt.message, body.Error)
		})
	}
}
