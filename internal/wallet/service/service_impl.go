package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	catalogdomain "github.com/agentforge/tokengate/internal/catalog/domain"
	"github.com/agentforge/tokengate/internal/clock"
	walletdomain "github.com/agentforge/tokengate/internal/wallet/domain"
	"github.com/agentforge/tokengate/pkg/db"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Catalog catalogdomain.Service
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	catalog catalogdomain.Service
}

func NewService(p Params) walletdomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("wallet.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		catalog: p.Catalog,
	}
}

func (s *Service) CheckAffordability(
	ctx context.Context,
	userID snowflake.ID,
	operationCode string,
	multiplier int64,
) (*walletdomain.AffordabilityResult, error) {
	if userID == 0 {
		return nil, walletdomain.ErrInvalidUser
	}
	if multiplier < 1 {
		return nil, walletdomain.ErrInvalidMultiplier
	}

	op, err := s.catalog.Resolve(operationCode)
	if err != nil {
		return nil, err
	}

	balance, err := s.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}

	required := walletdomain.RequiredCost(op.BaseCost, multiplier)
	result := &walletdomain.AffordabilityResult{
		Affordable:     balance >= required,
		CurrentBalance: balance,
		RequiredCost:   required,
	}
	result.Message = affordabilityMessage(op, multiplier, required, balance, result.Affordable)
	return result, nil
}

func (s *Service) GetBalance(ctx context.Context, userID snowflake.ID) (int64, error) {
	if userID == 0 {
		return 0, walletdomain.ErrInvalidUser
	}

	var balance walletdomain.TokenBalance
	err := s.db.WithContext(ctx).First(&balance, "user_id = ?", userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, walletdomain.ErrAccountNotFound
		}
		return 0, err
	}
	return balance.TokensRemaining, nil
}

// Debit runs the conditional decrement and the transaction insert inside a
// single database transaction. The WHERE guard on tokens_remaining is the
// only thing standing between concurrent callers and a negative balance.
func (s *Service) Debit(ctx context.Context, req walletdomain.DebitRequest) (*walletdomain.DebitResult, error) {
	if req.UserID == 0 {
		return nil, walletdomain.ErrInvalidUser
	}
	switch req.Outcome {
	case walletdomain.TransactionOutcomeSuccess, walletdomain.TransactionOutcomeFailure:
	default:
		return nil, walletdomain.ErrInvalidOutcome
	}
	if req.Outcome == walletdomain.TransactionOutcomeSuccess && req.Tokens <= 0 {
		return nil, walletdomain.ErrInvalidTokens
	}

	payload, err := marshalPayload(req.RequestPayload)
	if err != nil {
		return nil, err
	}

	result := &walletdomain.DebitResult{}
	insufficient := false

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now()
		charged := int64(0)
		outcome := req.Outcome
		errorDetail := normalizeDetail(req.ErrorDetail)

		if req.Outcome == walletdomain.TransactionOutcomeSuccess {
			update := tx.Exec(
				`UPDATE token_balances
				 SET tokens_remaining = tokens_remaining - ?, updated_at = ?
				 WHERE user_id = ? AND tokens_remaining >= ?`,
				req.Tokens, now, req.UserID, req.Tokens,
			)
			if update.Error != nil {
				return update.Error
			}
			if update.RowsAffected == 0 {
				var exists int64
				if err := tx.Model(&walletdomain.TokenBalance{}).
					Where("user_id = ?", req.UserID).
					Count(&exists).Error; err != nil {
					return err
				}
				if exists == 0 {
					return walletdomain.ErrAccountNotFound
				}
				// Sufficient at check time, insufficient at debit time.
				// Record the attempt as a failure without decrementing.
				insufficient = true
				outcome = walletdomain.TransactionOutcomeFailure
				detail := walletdomain.ErrInsufficientTokens.Error()
				errorDetail = &detail
			} else {
				charged = req.Tokens
			}
		}

		transactionID := s.genID.Generate()
		if err := tx.Exec(
			`INSERT INTO token_transactions (
				id, user_id, operation_code, direction, outcome, tokens_charged, error_detail, request_payload, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			transactionID,
			req.UserID,
			strings.TrimSpace(req.OperationCode),
			string(walletdomain.TransactionDirectionDebit),
			string(outcome),
			charged,
			errorDetail,
			payload,
			now,
		).Error; err != nil {
			return err
		}

		var remaining int64
		if err := tx.Raw(
			`SELECT tokens_remaining FROM token_balances WHERE user_id = ?`,
			req.UserID,
		).Scan(&remaining).Error; err != nil {
			return err
		}

		result.TransactionID = transactionID
		result.TokensDeducted = charged
		result.TokensRemaining = remaining
		return nil
	})
	if err != nil {
		return nil, err
	}
	if insufficient {
		return result, walletdomain.ErrInsufficientTokens
	}

	s.log.Debug("debit settled",
		zap.String("user_id", req.UserID.String()),
		zap.String("operation_code", req.OperationCode),
		zap.String("outcome", string(req.Outcome)),
		zap.Int64("tokens_charged", result.TokensDeducted),
		zap.Int64("tokens_remaining", result.TokensRemaining),
	)
	return result, nil
}

func (s *Service) Grant(ctx context.Context, userID snowflake.ID, tokens int64, reason string) (*walletdomain.DebitResult, error) {
	if userID == 0 {
		return nil, walletdomain.ErrInvalidUser
	}
	if tokens <= 0 {
		return nil, walletdomain.ErrInvalidTokens
	}

	payload, err := marshalPayload(map[string]any{"reason": strings.TrimSpace(reason)})
	if err != nil {
		return nil, err
	}

	result := &walletdomain.DebitResult{}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now()

		update := tx.Exec(
			`UPDATE token_balances
			 SET tokens_remaining = tokens_remaining + ?, updated_at = ?
			 WHERE user_id = ?`,
			tokens, now, userID,
		)
		if update.Error != nil {
			return update.Error
		}
		if update.RowsAffected == 0 {
			createErr := tx.Create(&walletdomain.TokenBalance{
				UserID:          userID,
				TokensRemaining: tokens,
				CreatedAt:       now,
				UpdatedAt:       now,
			}).Error
			if createErr != nil {
				if !db.IsDuplicateKeyErr(createErr) {
					return createErr
				}
				// Lost the insert race; the row exists now.
				if err := tx.Exec(
					`UPDATE token_balances
					 SET tokens_remaining = tokens_remaining + ?, updated_at = ?
					 WHERE user_id = ?`,
					tokens, now, userID,
				).Error; err != nil {
					return err
				}
			}
		}

		transactionID := s.genID.Generate()
		if err := tx.Exec(
			`INSERT INTO token_transactions (
				id, user_id, operation_code, direction, outcome, tokens_charged, error_detail, request_payload, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			transactionID,
			userID,
			"grant",
			string(walletdomain.TransactionDirectionCredit),
			string(walletdomain.TransactionOutcomeSuccess),
			tokens,
			nil,
			payload,
			now,
		).Error; err != nil {
			return err
		}

		var remaining int64
		if err := tx.Raw(
			`SELECT tokens_remaining FROM token_balances WHERE user_id = ?`,
			userID,
		).Scan(&remaining).Error; err != nil {
			return err
		}

		result.TransactionID = transactionID
		result.TokensDeducted = 0
		result.TokensRemaining = remaining
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("tokens granted",
		zap.String("user_id", userID.String()),
		zap.Int64("tokens", tokens),
	)
	return result, nil
}

func affordabilityMessage(op *catalogdomain.Operation, multiplier, required, balance int64, affordable bool) string {
	if affordable {
		return fmt.Sprintf("%s costs %d tokens, %d available", op.Title, required, balance)
	}
	if multiplier > 1 {
		return fmt.Sprintf("%s requires %d tokens (%d per unit × %d), only %d available",
			op.Title, required, op.BaseCost, multiplier, balance)
	}
	return fmt.Sprintf("%s requires %d tokens, only %d available", op.Title, required, balance)
}

func marshalPayload(payload map[string]any) (datatypes.JSON, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

func normalizeDetail(detail string) *string {
	detail = strings.TrimSpace(detail)
	if detail == "" {
		return nil
	}
	return &detail
}
