package service

import (
	"context"
	"errors"
	"fmt"

	executiondomain "github.com/agentforge/tokengate/internal/execution/domain"
	obsmetrics "github.com/agentforge/tokengate/internal/observability/metrics"
	usagelogdomain "github.com/agentforge/tokengate/internal/usagelog/domain"
	walletdomain "github.com/agentforge/tokengate/internal/wallet/domain"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	Wallet     walletdomain.Service
	UsageLog   usagelogdomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log        *zap.Logger
	wallet     walletdomain.Service
	usageLog   usagelogdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) executiondomain.Service {
	return &Service{
		log:        p.Log.Named("execution.service"),
		wallet:     p.Wallet,
		usageLog:   p.UsageLog,
		obsMetrics: p.ObsMetrics,
	}
}

// Execute drives one attempt through CHECKING, RUNNING and SETTLING.
// Exactly one token transaction is written per attempt that passes the
// affordability check; the user is never charged for a failed operation.
func (s *Service) Execute(
	ctx context.Context,
	req executiondomain.ExecuteRequest,
	op executiondomain.RemoteOperation,
) (*executiondomain.ExecutionResult, error) {
	if req.UserID == 0 || op == nil {
		return nil, executiondomain.ErrInvalidRequest
	}
	multiplier := req.Multiplier
	if multiplier == 0 {
		multiplier = 1
	}

	log := s.log.With(
		zap.String("user_id", req.UserID.String()),
		zap.String("operation_code", req.OperationCode),
		zap.Int64("multiplier", multiplier),
	)

	log.Debug("execution phase", zap.String("phase", string(executiondomain.PhaseChecking)))
	affordability, err := s.wallet.CheckAffordability(ctx, req.UserID, req.OperationCode, multiplier)
	if err != nil {
		return nil, err
	}

	if !affordability.Affordable {
		// FAILED_EARLY: the paid action was never attempted, so no ledger
		// row and no log row are written.
		log.Info("execution rejected",
			zap.String("phase", string(executiondomain.PhaseFailedEarly)),
			zap.Int64("required_cost", affordability.RequiredCost),
			zap.Int64("current_balance", affordability.CurrentBalance),
		)
		s.obsMetrics.RecordExecution(ctx, req.OperationCode, "rejected")
		return &executiondomain.ExecutionResult{
			Success:         false,
			TokensRemaining: affordability.CurrentBalance,
			RequiredCost:    affordability.RequiredCost,
			ErrorCode:       executiondomain.ErrorCodeInsufficientTokens,
			ErrorMessage:    affordability.Message,
		}, nil
	}

	log.Debug("execution phase", zap.String("phase", string(executiondomain.PhaseRunning)))
	data, opErr := op(ctx)
	if opErr == nil && len(data) == 0 {
		opErr = errors.New("empty result payload")
	}

	// Settlement must not be skipped because the caller went away mid
	// remote call; the attempt still has to be recorded.
	settleCtx := context.WithoutCancel(ctx)

	log.Debug("execution phase", zap.String("phase", string(executiondomain.PhaseSettling)))
	if opErr != nil {
		return s.settleFailure(settleCtx, log, req, affordability.RequiredCost, opErr)
	}
	return s.settleSuccess(settleCtx, log, req, affordability.RequiredCost, data)
}

func (s *Service) settleSuccess(
	ctx context.Context,
	log *zap.Logger,
	req executiondomain.ExecuteRequest,
	requiredCost int64,
	data []byte,
) (*executiondomain.ExecutionResult, error) {
	debit, err := s.wallet.Debit(ctx, walletdomain.DebitRequest{
		UserID:         req.UserID,
		OperationCode:  req.OperationCode,
		Outcome:        walletdomain.TransactionOutcomeSuccess,
		Tokens:         requiredCost,
		RequestPayload: req.RequestPayload,
	})
	if err != nil {
		if errors.Is(err, walletdomain.ErrInsufficientTokens) {
			// The affordability snapshot went stale under a concurrent
			// debit. The wallet already recorded the failed attempt.
			log.Warn("debit rejected at settle time",
				zap.Int64("required_cost", requiredCost),
			)
			s.obsMetrics.RecordExecution(ctx, req.OperationCode, "rejected")
			result := &executiondomain.ExecutionResult{
				Success:      false,
				RequiredCost: requiredCost,
				ErrorCode:    executiondomain.ErrorCodeInsufficientTokens,
				ErrorMessage: "token balance changed before debit could complete",
			}
			if debit != nil {
				result.TokensRemaining = debit.TokensRemaining
			}
			return result, nil
		}
		log.Error("ledger write failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", executiondomain.ErrLedgerWriteFailed, err)
	}

	logEntryID := s.appendLog(ctx, log, usagelogdomain.AppendRequest{
		UserID:         req.UserID,
		OperationCode:  req.OperationCode,
		Status:         usagelogdomain.EntryStatusSuccess,
		TokensCharged:  debit.TokensDeducted,
		CampaignID:     req.CampaignID,
		RequestPayload: req.RequestPayload,
		OutputSummary:  req.OutputSummary,
		OutputPayload:  data,
	})

	log.Info("execution settled",
		zap.String("phase", string(executiondomain.PhaseDone)),
		zap.String("outcome", "success"),
		zap.Int64("tokens_deducted", debit.TokensDeducted),
		zap.Int64("tokens_remaining", debit.TokensRemaining),
	)
	s.obsMetrics.RecordExecution(ctx, req.OperationCode, "success")
	s.obsMetrics.RecordTokensCharged(ctx, req.OperationCode, debit.TokensDeducted)

	return &executiondomain.ExecutionResult{
		Success:         true,
		Data:            data,
		TokensDeducted:  debit.TokensDeducted,
		TokensRemaining: debit.TokensRemaining,
		RequiredCost:    requiredCost,
		LogEntryID:      logEntryID,
	}, nil
}

func (s *Service) settleFailure(
	ctx context.Context,
	log *zap.Logger,
	req executiondomain.ExecuteRequest,
	requiredCost int64,
	opErr error,
) (*executiondomain.ExecutionResult, error) {
	debit, err := s.wallet.Debit(ctx, walletdomain.DebitRequest{
		UserID:         req.UserID,
		OperationCode:  req.OperationCode,
		Outcome:        walletdomain.TransactionOutcomeFailure,
		ErrorDetail:    opErr.Error(),
		RequestPayload: req.RequestPayload,
	})
	if err != nil {
		log.Error("ledger write failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", executiondomain.ErrLedgerWriteFailed, err)
	}

	logEntryID := s.appendLog(ctx, log, usagelogdomain.AppendRequest{
		UserID:         req.UserID,
		OperationCode:  req.OperationCode,
		Status:         usagelogdomain.EntryStatusError,
		CampaignID:     req.CampaignID,
		RequestPayload: req.RequestPayload,
		OutputSummary:  req.OutputSummary,
		ErrorDetail:    opErr.Error(),
	})

	log.Info("execution settled",
		zap.String("phase", string(executiondomain.PhaseDone)),
		zap.String("outcome", "failure"),
		zap.String("error_detail", opErr.Error()),
		zap.Int64("tokens_remaining", debit.TokensRemaining),
	)
	s.obsMetrics.RecordExecution(ctx, req.OperationCode, "failure")

	return &executiondomain.ExecutionResult{
		Success:         false,
		TokensDeducted:  0,
		TokensRemaining: debit.TokensRemaining,
		RequiredCost:    requiredCost,
		LogEntryID:      logEntryID,
		ErrorCode:       executiondomain.ErrorCodeRemoteFailed,
		ErrorMessage:    fmt.Sprintf("%s: %s", executiondomain.ErrRemoteOperationFailed.Error(), opErr.Error()),
	}, nil
}

// appendLog writes the best-effort history entry. Any error or panic is
// swallowed: the log store must never change the execution outcome or
// unwind the ledger write.
func (s *Service) appendLog(
	ctx context.Context,
	log *zap.Logger,
	req usagelogdomain.AppendRequest,
) (id *snowflake.ID) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn("usage log append panicked", zap.Any("panic", r))
			s.obsMetrics.RecordUsageLogFailure(ctx, req.OperationCode)
			id = nil
		}
	}()

	entry, err := s.usageLog.Append(ctx, req)
	if err != nil {
		log.Warn("usage log append failed", zap.Error(err))
		s.obsMetrics.RecordUsageLogFailure(ctx, req.OperationCode)
		return nil
	}
	return &entry.ID
}
