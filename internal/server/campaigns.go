package server

import (
	"net/http"
	"strings"

	campaigndomain "github.com/agentforge/tokengate/internal/campaign/domain"
	"github.com/agentforge/tokengate/internal/userctx"
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

func (s *Server) CreateCampaign(c *gin.Context) {
	userID, ok := userctx.UserIDFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req campaigndomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid request body"))
		return
	}
	req.UserID = userID

	created, err := s.campaignSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, created)
}

func (s *Server) ListCampaigns(c *gin.Context) {
	userID, ok := userctx.UserIDFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	campaigns, err := s.campaignSvc.List(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"campaigns": campaigns})
}

type attachCampaignRequest struct {
	LogEntryID snowflake.ID `json:"log_entry_id"`
}

// AttachCampaign links an existing usage-log entry to one of the caller's
// campaigns after the fact.
func (s *Server) AttachCampaign(c *gin.Context) {
	userID, ok := userctx.UserIDFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	campaignID, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_campaign_id", "invalid campaign id"))
		return
	}

	var req attachCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.LogEntryID == 0 {
		AbortWithError(c, newValidationError("log_entry_id", "invalid_log_entry_id", "log entry id is required"))
		return
	}

	if err := s.campaignSvc.Attach(c.Request.Context(), campaigndomain.AttachRequest{
		UserID:     userID,
		CampaignID: campaignID,
		LogEntryID: req.LogEntryID,
	}); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"attached": true})
}
