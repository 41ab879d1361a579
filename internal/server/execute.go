package server

import (
	"net/http"
	"strings"

	executiondomain "github.com/agentforge/tokengate/internal/execution/domain"
	"github.com/agentforge/tokengate/internal/userctx"
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type executeAgentRequest struct {
	Multiplier    int64          `json:"multiplier"`
	Payload       map[string]any `json:"payload"`
	OutputSummary string         `json:"output_summary"`
	CampaignID    *snowflake.ID  `json:"campaign_id"`
}

// ExecuteAgent runs one token-metered agent invocation. The response status
// mirrors the settlement outcome: 200 for billable success, 402 when the
// balance cannot cover the cost, 502 when the remote agent failed.
func (s *Server) ExecuteAgent(c *gin.Context) {
	userID, ok := userctx.UserIDFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	code := strings.TrimSpace(c.Param("code"))
	c.Set("operation_code", code)

	var req executeAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid request body"))
		return
	}
	if req.Multiplier < 0 {
		AbortWithError(c, newValidationError("multiplier", "invalid_multiplier", "multiplier must be positive"))
		return
	}

	operation, err := s.catalogSvc.Resolve(code)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.executeLimiter != nil {
		allowed, limitErr := s.executeLimiter.Allow(c.Request.Context(), userID)
		if limitErr != nil {
			s.log.Warn("execute rate limiter unavailable", zap.Error(limitErr))
		}
		if !allowed {
			s.obsMetrics.RecordRateLimitDenied(c.Request.Context(), "execute", "user_bucket")
			c.JSON(http.StatusTooManyRequests, errorResponse{Error: errorPayload{
				Type:    "rate_limited",
				Message: "too many executions, slow down",
			}})
			return
		}
		s.obsMetrics.RecordRateLimitAllowed(c.Request.Context(), "execute")
	}

	result, err := s.executionSvc.Execute(c.Request.Context(), executiondomain.ExecuteRequest{
		UserID:         userID,
		OperationCode:  operation.Code,
		Multiplier:     req.Multiplier,
		RequestPayload: req.Payload,
		OutputSummary:  req.OutputSummary,
		CampaignID:     req.CampaignID,
	}, s.invoker.Operation(*operation, req.Payload))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(executionStatus(result), result)
}

func executionStatus(result *executiondomain.ExecutionResult) int {
	if result.Success {
		return http.StatusOK
	}
	switch result.ErrorCode {
	case executiondomain.ErrorCodeInsufficientTokens:
		return http.StatusPaymentRequired
	case executiondomain.ErrorCodeRemoteFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
