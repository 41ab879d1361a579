// Package domain contains persistence models for the token wallet.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// TokenBalance is the single authoritative balance row per user.
// It is mutated only inside the wallet service's atomic debit/grant paths.
type TokenBalance struct {
	UserID          snowflake.ID `gorm:"primaryKey"`
	TokensRemaining int64        `gorm:"not null;default:0"`
	CreatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (TokenBalance) TableName() string { return "token_balances" }

// TransactionDirection separates charges from top-ups.
type TransactionDirection string

const (
	TransactionDirectionDebit  TransactionDirection = "debit"
	TransactionDirectionCredit TransactionDirection = "credit"
)

// TransactionOutcome records whether the underlying attempt succeeded.
type TransactionOutcome string

const (
	TransactionOutcomeSuccess TransactionOutcome = "success"
	TransactionOutcomeFailure TransactionOutcome = "failure"
)

// TokenTransaction is the immutable billing record of one attempt.
// Rows are inserted once and never updated.
type TokenTransaction struct {
	ID             snowflake.ID         `gorm:"primaryKey"`
	UserID         snowflake.ID         `gorm:"not null;index"`
	OperationCode  string               `gorm:"type:text;not null;index"`
	Direction      TransactionDirection `gorm:"type:text;not null"`
	Outcome        TransactionOutcome   `gorm:"type:text;not null"`
	TokensCharged  int64                `gorm:"not null"`
	ErrorDetail    *string              `gorm:"type:text"`
	RequestPayload datatypes.JSON       `gorm:"type:jsonb"`
	CreatedAt      time.Time            `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (TokenTransaction) TableName() string { return "token_transactions" }
