package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) ListOperations(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"operations": s.catalogSvc.List(),
	})
}
