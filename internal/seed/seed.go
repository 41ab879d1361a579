package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	walletdomain "github.com/agentforge/tokengate/internal/wallet/domain"
	"gorm.io/gorm"
)

// EnsureDemoBalance seeds a starter token balance for the demo user so a
// fresh install can execute operations immediately. It never tops up an
// existing account; re-running the seed is a no-op.
func EnsureDemoBalance(db *gorm.DB, userID, tokens int64) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}
	if userID == 0 || tokens <= 0 {
		return nil
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing walletdomain.TokenBalance
		err := tx.WithContext(ctx).
			Where("user_id = ?", userID).
			First(&existing).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		now := time.Now().UTC()
		balance := walletdomain.TokenBalance{
			UserID:          snowflake.ID(userID),
			TokensRemaining: tokens,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		return tx.WithContext(ctx).Create(&balance).Error
	})
}
