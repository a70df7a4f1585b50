package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// HeaderUserID carries the caller id resolved by the upstream auth layer.
const HeaderUserID = "X-User-ID"

// ctxKeyUserID is where Identity stores the caller id.
const ctxKeyUserID = "userID"

// maxUserIDLen bounds the header so junk never reaches the database.
const maxUserIDLen = 64

// Identity copies X-User-ID into the Gin context. It never rejects; routes
// that need a caller add RequireIdentity.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := strings.TrimSpace(c.GetHeader(HeaderUserID)); id != "" && len(id) <= maxUserIDLen {
			c.Set(ctxKeyUserID, id)
		}
		c.Next()
	}
}

// RequireIdentity answers 401 when Identity found no caller.
func RequireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if UserID(c) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "unauthorized",
				"message":    "missing " + HeaderUserID,
			})
			return
		}
		c.Next()
	}
}

// UserID returns the caller id stored by Identity, or "".
func UserID(c *gin.Context) string {
	if v, ok := c.Get(ctxKeyUserID); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
