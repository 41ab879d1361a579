package server

import (
	"strconv"
	"strings"

	"github.com/agentforge/tokengate/internal/userctx"
	"github.com/gin-gonic/gin"
)

const headerUserID = "X-User-ID"

// UserRequired resolves the caller identity from the X-User-ID header and
// stores it on the request context. Session establishment lives upstream;
// this layer only needs a stable user ID to meter against.
func (s *Server) UserRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(headerUserID))
		if raw == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		userID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || userID <= 0 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Set("user_id", userID)
		ctx := userctx.WithUserID(c.Request.Context(), userID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
