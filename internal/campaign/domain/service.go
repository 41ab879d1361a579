package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type CreateRequest struct {
	UserID snowflake.ID
	Name   string `json:"name"`
}

type AttachRequest struct {
	UserID     snowflake.ID
	CampaignID snowflake.ID
	LogEntryID snowflake.ID
}

// Service manages campaigns and attaches usage-log entries to them.
// The log entry ID handed back by an execution is the only handle needed.
type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Campaign, error)
	List(ctx context.Context, userID snowflake.ID) ([]*Campaign, error)
	Attach(ctx context.Context, req AttachRequest) error
}

var (
	ErrInvalidUser      = errors.New("invalid_user")
	ErrInvalidName      = errors.New("invalid_name")
	ErrCampaignNotFound = errors.New("campaign_not_found")
)
