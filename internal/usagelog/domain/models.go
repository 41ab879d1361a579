// Package domain contains persistence models for the usage history log.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// EntryStatus mirrors the execution outcome for display purposes.
type EntryStatus string

const (
	EntryStatusSuccess EntryStatus = "success"
	EntryStatusError   EntryStatus = "error"
)

// UsageLogEntry is the best-effort audit record of one execution attempt.
// It is never authoritative for balance correctness.
type UsageLogEntry struct {
	ID             snowflake.ID   `gorm:"primaryKey" json:"id"`
	UserID         snowflake.ID   `gorm:"not null;index" json:"user_id"`
	OperationCode  string         `gorm:"type:text;not null;index" json:"operation_code"`
	Status         EntryStatus    `gorm:"type:text;not null" json:"status"`
	TokensCharged  int64          `gorm:"not null" json:"tokens_charged"`
	CampaignID     *snowflake.ID  `gorm:"index" json:"campaign_id,omitempty"`
	RequestPayload datatypes.JSON `gorm:"type:jsonb" json:"request_payload,omitempty"`
	OutputSummary  string         `gorm:"type:text" json:"output_summary,omitempty"`
	OutputPayload  datatypes.JSON `gorm:"type:jsonb" json:"output_payload,omitempty"`
	ErrorDetail    *string        `gorm:"type:text" json:"error_detail,omitempty"`
	CreatedAt      time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (UsageLogEntry) TableName() string { return "usage_log_entries" }
