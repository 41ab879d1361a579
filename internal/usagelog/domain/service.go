package domain

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/agentforge/tokengate/pkg/db/pagination"
	"github.com/bwmarrin/snowflake"
)

type AppendRequest struct {
	UserID         snowflake.ID
	OperationCode  string
	Status         EntryStatus
	TokensCharged  int64
	CampaignID     *snowflake.ID
	RequestPayload map[string]any
	OutputSummary  string
	OutputPayload  json.RawMessage
	ErrorDetail    string
}

type ListRequest struct {
	UserID    snowflake.ID
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size"`
}

type ListResponse struct {
	pagination.PageInfo
	Entries []*UsageLogEntry `json:"entries"`
}

// Service appends and lists usage history. Callers on the execution path
// must treat Append failures as non-fatal.
type Service interface {
	Append(ctx context.Context, req AppendRequest) (*UsageLogEntry, error)
	List(ctx context.Context, req ListRequest) (*ListResponse, error)
	AttachCampaign(ctx context.Context, userID, entryID, campaignID snowflake.ID) error
}

var (
	ErrInvalidUser      = errors.New("invalid_user")
	ErrInvalidOperation = errors.New("invalid_operation")
	ErrInvalidStatus    = errors.New("invalid_status")
	ErrEntryNotFound    = errors.New("log_entry_not_found")
)
