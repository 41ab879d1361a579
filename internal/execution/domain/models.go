// Package domain defines the token-metered execution contract.
package domain

import (
	"context"
	"encoding/json"

	"github.com/bwmarrin/snowflake"
)

// Phase names the states of one execution attempt.
type Phase string

const (
	PhaseChecking    Phase = "checking"
	PhaseRunning     Phase = "running"
	PhaseSettling    Phase = "settling"
	PhaseDone        Phase = "done"
	PhaseFailedEarly Phase = "failed_early"
)

// RemoteOperation is an opaque unit of remote work. Returning a value is
// the billable success condition; returning an error means no charge.
// Callers must reduce transport ambiguity (non-2xx, empty body, bad JSON)
// into an error before returning.
type RemoteOperation func(ctx context.Context) (json.RawMessage, error)

type ExecuteRequest struct {
	UserID         snowflake.ID
	OperationCode  string
	Multiplier     int64
	RequestPayload map[string]any
	OutputSummary  string
	CampaignID     *snowflake.ID
}

// ExecutionResult is returned for every attempt that is not a
// configuration error, success or failure alike.
type ExecutionResult struct {
	Success         bool            `json:"success"`
	Data            json.RawMessage `json:"data,omitempty"`
	TokensDeducted  int64           `json:"tokens_deducted"`
	TokensRemaining int64           `json:"tokens_remaining"`
	RequiredCost    int64           `json:"required_cost"`
	LogEntryID      *snowflake.ID   `json:"log_entry_id,omitempty"`
	ErrorCode       string          `json:"error_code,omitempty"`
	ErrorMessage    string          `json:"error_message,omitempty"`
}
