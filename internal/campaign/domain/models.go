// Package domain contains persistence models for campaigns.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Campaign groups successful execution artifacts for a user.
type Campaign struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID    snowflake.ID `gorm:"not null;index" json:"user_id"`
	Name      string       `gorm:"type:text;not null" json:"name"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Campaign) TableName() string { return "campaigns" }
