package middleware

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"prosumer-p2p/internal/api/models"
	"prosumer-p2p/internal/peer"
)

// ErrorHandler middleware turns panics into the JSON error envelope.
func ErrorHandler(logger *slog.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logger.Error("handler panic",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"panic", fmt.Sprint(recovered))
		if msg, ok := recovered.(string); ok {
			c.JSON(http.StatusInternalServerError, models.NewError(peer.CodeInternal, msg))
		} else {
			c.JSON(http.StatusInternalServerError, models.NewError(peer.CodeInternal, "An unexpected error occurred"))
		}
		c.Abort()
	})
}
