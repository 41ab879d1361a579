package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	catalogservice "github.com/agentforge/tokengate/internal/catalog/service"
	"github.com/agentforge/tokengate/internal/clock"
	walletdomain "github.com/agentforge/tokengate/internal/wallet/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestDebitChargesExactCost(t *testing.T) {
	svc, db, node := setupWalletService(t)
	ctx := context.Background()

	userID := node.Generate()
	seedBalance(t, db, userID, 500)

	affordability, err := svc.CheckAffordability(ctx, userID, "ad_generation", 1)
	if err != nil {
		t.Fatalf("check affordability: %v", err)
	}
	if !affordability.Affordable {
		t.Fatalf("expected affordable, got %+v", affordability)
	}
	if affordability.RequiredCost != 75 {
		t.Fatalf("expected required cost 75, got %d", affordability.RequiredCost)
	}

	result, err := svc.Debit(ctx, walletdomain.DebitRequest{
		UserID:        userID,
		OperationCode: "ad_generation",
		Outcome:       walletdomain.TransactionOutcomeSuccess,
		Tokens:        affordability.RequiredCost,
	})
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if result.TokensDeducted != 75 {
		t.Fatalf("expected 75 deducted, got %d", result.TokensDeducted)
	}
	if result.TokensRemaining != 425 {
		t.Fatalf("expected 425 remaining, got %d", result.TokensRemaining)
	}

	rows := loadTransactions(t, db, userID)
	if len(rows) != 1 {
		t.Fatalf("expected 1 transaction row, got %d", len(rows))
	}
	if rows[0].Outcome != walletdomain.TransactionOutcomeSuccess || rows[0].TokensCharged != 75 {
		t.Fatalf("unexpected transaction row %+v", rows[0])
	}
}

func TestFailureOutcomeDoesNotCharge(t *testing.T) {
	svc, db, node := setupWalletService(t)
	ctx := context.Background()

	userID := node.Generate()
	seedBalance(t, db, userID, 300)

	result, err := svc.Debit(ctx, walletdomain.DebitRequest{
		UserID:        userID,
		OperationCode: "lead_scraper",
		Outcome:       walletdomain.TransactionOutcomeFailure,
		ErrorDetail:   "webhook returned status 500",
	})
	if err != nil {
		t.Fatalf("debit failure: %v", err)
	}
	if result.TokensDeducted != 0 {
		t.Fatalf("expected 0 deducted, got %d", result.TokensDeducted)
	}
	if result.TokensRemaining != 300 {
		t.Fatalf("expected balance untouched, got %d", result.TokensRemaining)
	}

	rows := loadTransactions(t, db, userID)
	if len(rows) != 1 {
		t.Fatalf("expected 1 transaction row, got %d", len(rows))
	}
	if rows[0].Outcome != walletdomain.TransactionOutcomeFailure || rows[0].TokensCharged != 0 {
		t.Fatalf("unexpected transaction row %+v", rows[0])
	}
	if rows[0].ErrorDetail == nil || *rows[0].ErrorDetail != "webhook returned status 500" {
		t.Fatalf("expected error detail preserved, got %+v", rows[0].ErrorDetail)
	}
}

func TestDebitInsufficientRecordsFailureRow(t *testing.T) {
	svc, db, node := setupWalletService(t)
	ctx := context.Background()

	userID := node.Generate()
	seedBalance(t, db, userID, 10)

	result, err := svc.Debit(ctx, walletdomain.DebitRequest{
		UserID:        userID,
		OperationCode: "ad_generation",
		Outcome:       walletdomain.TransactionOutcomeSuccess,
		Tokens:        75,
	})
	if !errors.Is(err, walletdomain.ErrInsufficientTokens) {
		t.Fatalf("expected insufficient tokens, got %v", err)
	}
	if result == nil || result.TokensDeducted != 0 {
		t.Fatalf("expected zero deduction, got %+v", result)
	}
	if result.TokensRemaining != 10 {
		t.Fatalf("expected balance untouched, got %d", result.TokensRemaining)
	}

	rows := loadTransactions(t, db, userID)
	if len(rows) != 1 {
		t.Fatalf("expected 1 failure row, got %d", len(rows))
	}
	if rows[0].Outcome != walletdomain.TransactionOutcomeFailure {
		t.Fatalf("expected failure outcome, got %s", rows[0].Outcome)
	}
	if rows[0].ErrorDetail == nil || *rows[0].ErrorDetail != "insufficient_tokens" {
		t.Fatalf("expected insufficient_tokens detail, got %+v", rows[0].ErrorDetail)
	}
}

func TestCheckAffordabilityInsufficient(t *testing.T) {
	svc, db, node := setupWalletService(t)
	ctx := context.Background()

	userID := node.Generate()
	seedBalance(t, db, userID, 30)

	affordability, err := svc.CheckAffordability(ctx, userID, "lead_scraper", 1)
	if err != nil {
		t.Fatalf("check affordability: %v", err)
	}
	if affordability.Affordable {
		t.Fatalf("expected not affordable, got %+v", affordability)
	}
	if affordability.RequiredCost != 50 || affordability.CurrentBalance != 30 {
		t.Fatalf("unexpected result %+v", affordability)
	}
	if affordability.Message == "" {
		t.Fatal("expected a human-readable message")
	}

	// Rejection leaves no trace in the ledger.
	if rows := loadTransactions(t, db, userID); len(rows) != 0 {
		t.Fatalf("expected no transaction rows, got %d", len(rows))
	}
}

func TestCheckAffordabilityMultiplier(t *testing.T) {
	svc, db, node := setupWalletService(t)
	ctx := context.Background()

	userID := node.Generate()
	seedBalance(t, db, userID, 100)

	// 5 units of email outreach at 5 tokens each.
	first, err := svc.CheckAffordability(ctx, userID, "email_outreach", 5)
	if err != nil {
		t.Fatalf("check affordability: %v", err)
	}
	if first.RequiredCost != 25 {
		t.Fatalf("expected required cost 25, got %d", first.RequiredCost)
	}

	// Same inputs always price the same.
	second, err := svc.CheckAffordability(ctx, userID, "email_outreach", 5)
	if err != nil {
		t.Fatalf("check affordability repeat: %v", err)
	}
	if second.RequiredCost != first.RequiredCost {
		t.Fatalf("pricing is not deterministic: %d vs %d", first.RequiredCost, second.RequiredCost)
	}
}

func TestRequiredCostRounding(t *testing.T) {
	if got := walletdomain.RequiredCost(75, 1); got != 75 {
		t.Fatalf("expected 75, got %d", got)
	}
	if got := walletdomain.RequiredCost(5, 20); got != 100 {
		t.Fatalf("expected 100, got %d", got)
	}
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	svc, db, node := setupWalletService(t)
	ctx := context.Background()

	userID := node.Generate()
	seedBalance(t, db, userID, 200)

	const attempts = 10
	const cost = 75

	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Debit(ctx, walletdomain.DebitRequest{
				UserID:        userID,
				OperationCode: "ad_generation",
				Outcome:       walletdomain.TransactionOutcomeSuccess,
				Tokens:        cost,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	successes := 0
	for err := range errs {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, walletdomain.ErrInsufficientTokens):
		default:
			t.Fatalf("unexpected debit error: %v", err)
		}
	}

	// floor(200 / 75) = 2 winners, everyone else is rejected.
	if successes != 2 {
		t.Fatalf("expected 2 successful debits, got %d", successes)
	}

	var remaining int64
	if err := db.Raw(`SELECT tokens_remaining FROM token_balances WHERE user_id = ?`, userID).Scan(&remaining).Error; err != nil {
		t.Fatalf("read balance: %v", err)
	}
	if remaining != 200-2*cost {
		t.Fatalf("expected remaining %d, got %d", 200-2*cost, remaining)
	}
	if remaining < 0 {
		t.Fatalf("balance went negative: %d", remaining)
	}

	var chargedTotal int64
	if err := db.Raw(
		`SELECT COALESCE(SUM(tokens_charged), 0) FROM token_transactions WHERE user_id = ? AND outcome = 'success'`,
		userID,
	).Scan(&chargedTotal).Error; err != nil {
		t.Fatalf("sum charges: %v", err)
	}
	if chargedTotal != 2*cost {
		t.Fatalf("expected total charges %d, got %d", 2*cost, chargedTotal)
	}
}

func TestGrantCreatesAndTopsUp(t *testing.T) {
	svc, db, node := setupWalletService(t)
	ctx := context.Background()

	userID := node.Generate()

	first, err := svc.Grant(ctx, userID, 1000, "starter grant")
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if first.TokensRemaining != 1000 {
		t.Fatalf("expected 1000 after first grant, got %d", first.TokensRemaining)
	}

	second, err := svc.Grant(ctx, userID, 250, "top up")
	if err != nil {
		t.Fatalf("second grant: %v", err)
	}
	if second.TokensRemaining != 1250 {
		t.Fatalf("expected 1250 after top up, got %d", second.TokensRemaining)
	}

	rows := loadTransactions(t, db, userID)
	if len(rows) != 2 {
		t.Fatalf("expected 2 credit rows, got %d", len(rows))
	}
	for _, row := range rows {
		if row.Direction != walletdomain.TransactionDirectionCredit {
			t.Fatalf("expected credit direction, got %s", row.Direction)
		}
	}
}

func TestDebitUnknownAccount(t *testing.T) {
	svc, _, node := setupWalletService(t)
	ctx := context.Background()

	_, err := svc.Debit(ctx, walletdomain.DebitRequest{
		UserID:        node.Generate(),
		OperationCode: "ad_generation",
		Outcome:       walletdomain.TransactionOutcomeSuccess,
		Tokens:        75,
	})
	if !errors.Is(err, walletdomain.ErrAccountNotFound) {
		t.Fatalf("expected account not found, got %v", err)
	}
}

func TestCheckAffordabilityValidation(t *testing.T) {
	svc, db, node := setupWalletService(t)
	ctx := context.Background()

	userID := node.Generate()
	seedBalance(t, db, userID, 100)

	if _, err := svc.CheckAffordability(ctx, userID, "no_such_operation", 1); err == nil {
		t.Fatal("expected unknown operation error")
	}
	if _, err := svc.CheckAffordability(ctx, userID, "ad_generation", 0); !errors.Is(err, walletdomain.ErrInvalidMultiplier) {
		t.Fatalf("expected invalid multiplier, got %v", err)
	}
	if _, err := svc.CheckAffordability(ctx, 0, "ad_generation", 1); !errors.Is(err, walletdomain.ErrInvalidUser) {
		t.Fatalf("expected invalid user, got %v", err)
	}
}

func setupWalletService(t *testing.T) (walletdomain.Service, *gorm.DB, *snowflake.Node) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	_ = db.Exec("PRAGMA busy_timeout = 5000").Error

	if err := db.AutoMigrate(&walletdomain.TokenBalance{}, &walletdomain.TokenTransaction{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node := mustNode(t)
	catalogSvc, err := catalogservice.NewService(zap.NewNop())
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}

	svc := NewService(Params{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
		Catalog: catalogSvc,
	})

	return svc, db, node
}

func seedBalance(t *testing.T, db *gorm.DB, userID snowflake.ID, tokens int64) {
	t.Helper()
	now := time.Now().UTC()
	if err := db.Create(&walletdomain.TokenBalance{
		UserID:          userID,
		TokensRemaining: tokens,
		CreatedAt:       now,
		UpdatedAt:       now,
	}).Error; err != nil {
		t.Fatalf("seed balance: %v", err)
	}
}

func loadTransactions(t *testing.T, db *gorm.DB, userID snowflake.ID) []walletdomain.TokenTransaction {
	t.Helper()
	var rows []walletdomain.TokenTransaction
	if err := db.Where("user_id = ?", userID).Order("id ASC").Find(&rows).Error; err != nil {
		t.Fatalf("load transactions: %v", err)
	}
	return rows
}

func mustNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return node
}
