package server

import (
	"net/http"

	"github.com/agentforge/tokengate/internal/userctx"
	"github.com/gin-gonic/gin"
)

func (s *Server) GetBalance(c *gin.Context) {
	userID, ok := userctx.UserIDFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	balance, err := s.walletSvc.GetBalance(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":          userID.String(),
		"tokens_remaining": balance,
	})
}
