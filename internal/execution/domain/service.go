package domain

import (
	"context"
	"errors"
)

// Service gates a remote operation behind the token balance, runs it, and
// settles ledger and usage-log writes on a single well-defined success
// condition.
type Service interface {
	Execute(ctx context.Context, req ExecuteRequest, op RemoteOperation) (*ExecutionResult, error)
}

var (
	ErrInvalidRequest        = errors.New("invalid_request")
	ErrRemoteOperationFailed = errors.New("remote_operation_failed")
	ErrLedgerWriteFailed     = errors.New("ledger_write_failed")
)

// Result error codes surfaced to callers.
const (
	ErrorCodeInsufficientTokens = "insufficient_tokens"
	ErrorCodeRemoteFailed       = "remote_operation_failed"
)
