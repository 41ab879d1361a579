package domain

import (
	"context"
	"errors"
	"math"

	"github.com/bwmarrin/snowflake"
)

// AffordabilityResult is a non-binding snapshot comparison. It does not
// reserve tokens; only Debit re-validates sufficiency atomically.
type AffordabilityResult struct {
	Affordable     bool   `json:"affordable"`
	CurrentBalance int64  `json:"current_balance"`
	RequiredCost   int64  `json:"required_cost"`
	Message        string `json:"message"`
}

type DebitRequest struct {
	UserID         snowflake.ID
	OperationCode  string
	Outcome        TransactionOutcome
	Tokens         int64
	ErrorDetail    string
	RequestPayload map[string]any
}

type DebitResult struct {
	TransactionID   snowflake.ID `json:"transaction_id"`
	TokensDeducted  int64        `json:"tokens_deducted"`
	TokensRemaining int64        `json:"tokens_remaining"`
}

type Service interface {
	// CheckAffordability resolves the operation cost and compares it to a
	// balance snapshot. Unknown operations and missing accounts are errors.
	CheckAffordability(ctx context.Context, userID snowflake.ID, operationCode string, multiplier int64) (*AffordabilityResult, error)

	// Debit performs the check-and-decrement and transaction insert as one
	// atomic unit of work. Failure outcomes insert an audit row without
	// decrementing. Not idempotent: every call creates a new row.
	Debit(ctx context.Context, req DebitRequest) (*DebitResult, error)

	// Grant credits tokens to a user, creating the balance row if needed.
	Grant(ctx context.Context, userID snowflake.ID, tokens int64, reason string) (*DebitResult, error)

	// GetBalance returns the current balance snapshot.
	GetBalance(ctx context.Context, userID snowflake.ID) (int64, error)
}

var (
	ErrAccountNotFound    = errors.New("account_not_found")
	ErrInsufficientTokens = errors.New("insufficient_tokens")
	ErrInvalidUser        = errors.New("invalid_user")
	ErrInvalidMultiplier  = errors.New("invalid_multiplier")
	ErrInvalidTokens      = errors.New("invalid_tokens")
	ErrInvalidOutcome     = errors.New("invalid_outcome")
)

// RequiredCost computes the effective token cost of one invocation,
// rounded up to a whole token count.
func RequiredCost(baseCost, multiplier int64) int64 {
	return int64(math.Ceil(float64(baseCost) * float64(multiplier)))
}
