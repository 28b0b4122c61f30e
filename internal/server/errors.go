package server

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/modelgate/modelgate/internal/apperrors"
)

// writeError renders a typed apperrors.Error as the OpenAI-style
// {"error": {...}} envelope at its mapped HTTP status (§7).
func writeError(c *gin.Context, err error) {
	appErr := apperrors.AsAppError(err)
	if appErr.Kind == apperrors.KindRateLimit && appErr.RetryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(appErr.RetryAfter))
	}
	c.JSON(appErr.StatusCode, appErr.Envelope())
}
