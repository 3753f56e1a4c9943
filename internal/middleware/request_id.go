package middleware

import (
	"regexp"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-engine/internal/response"
)

const headerRequestID = "X-Request-ID"

// Upstream ids are echoed into logs and responses, so only accept short
// token-like values.
var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{8,64}$`)

// RequestID tags every request with an id, reusing the caller's
// X-Request-ID when it looks sane.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(headerRequestID)
		if !requestIDPattern.MatchString(id) {
			id = uuid.NewString()
		}
		c.Set(response.ContextKeyRequestID, id)
		c.Header(headerRequestID, id)
		c.Next()
	}
}
