package server

import (
	"net/http"

	usagelogdomain "github.com/agentforge/tokengate/internal/usagelog/domain"
	"github.com/agentforge/tokengate/internal/userctx"
	"github.com/gin-gonic/gin"
)

func (s *Server) ListUsageLogs(c *gin.Context) {
	userID, ok := userctx.UserIDFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req usagelogdomain.ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, newValidationError("query", "invalid_request", "invalid query parameters"))
		return
	}
	req.UserID = userID

	resp, err := s.usageLogSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
