package server

import (
	"errors"
	"net/http"
	"strings"

	campaigndomain "github.com/agentforge/tokengate/internal/campaign/domain"
	catalogdomain "github.com/agentforge/tokengate/internal/catalog/domain"
	executiondomain "github.com/agentforge/tokengate/internal/execution/domain"
	usagelogdomain "github.com/agentforge/tokengate/internal/usagelog/domain"
	walletdomain "github.com/agentforge/tokengate/internal/wallet/domain"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInternal       = errors.New("internal_error")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, walletdomain.ErrInsufficientTokens):
		return http.StatusPaymentRequired, errorPayload{
			Type:    "insufficient_tokens",
			Message: "insufficient tokens",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, executiondomain.ErrLedgerWriteFailed):
		// Deliberately generic: internal ledger details never leave the API.
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "billing system error",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, executiondomain.ErrInvalidRequest),
		errors.Is(err, walletdomain.ErrInvalidUser),
		errors.Is(err, walletdomain.ErrInvalidMultiplier),
		errors.Is(err, walletdomain.ErrInvalidTokens),
		errors.Is(err, walletdomain.ErrInvalidOutcome),
		errors.Is(err, usagelogdomain.ErrInvalidUser),
		errors.Is(err, usagelogdomain.ErrInvalidOperation),
		errors.Is(err, usagelogdomain.ErrInvalidStatus),
		errors.Is(err, campaigndomain.ErrInvalidUser),
		errors.Is(err, campaigndomain.ErrInvalidName):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, catalogdomain.ErrUnknownOperation),
		errors.Is(err, walletdomain.ErrAccountNotFound),
		errors.Is(err, campaigndomain.ErrCampaignNotFound),
		errors.Is(err, usagelogdomain.ErrEntryNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	if errors.Is(err, ErrInvalidRequest) || errors.Is(err, executiondomain.ErrInvalidRequest) {
		return "invalid_request"
	}
	return err.Error()
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	default:
		return "invalid value"
	}
}

// classifyErrorForLog feeds the request logger the same buckets the error
// responder uses, without rendering a body.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	if vErr := asValidationErrors(err); vErr != nil {
		code := ""
		if len(vErr.Errors) > 0 {
			code = vErr.Errors[0].Code
		}
		return "validation_error", code
	}
	switch {
	case isValidationError(err):
		return "validation_error", validationErrorCode(err)
	case errors.Is(err, walletdomain.ErrInsufficientTokens):
		return "insufficient_tokens", "insufficient_tokens"
	case isNotFoundError(err):
		return "not_found", "not_found"
	case errors.Is(err, executiondomain.ErrLedgerWriteFailed):
		return "internal_error", "ledger_write_failed"
	default:
		return "internal_error", "internal_error"
	}
}
