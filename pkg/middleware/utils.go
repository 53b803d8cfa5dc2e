package middleware

import (
	"github.com/gin-gonic/gin"

	"chatworks/pkg/ctxkeys"
	"chatworks/pkg/logging"
)

// SetupCommonMiddleware installs the default middleware stack on r.
func SetupCommonMiddleware(r *gin.Engine, logger logging.Logger) {
	r.Use(RequestIDMiddleware())
	r.Use(LoggingMiddleware(logger))
	r.Use(RecoveryMiddleware(logger))
	r.Use(CORSMiddleware())
}

// GetRequestID returns the ID tagged on the request, or "" before
// RequestIDMiddleware has run.
func GetRequestID(c *gin.Context) string {
	if id, exists := c.Get(string(ctxkeys.KeyRequestID)); exists {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return ""
}
