package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/agentforge/tokengate/internal/agent"
	campaigndomain "github.com/agentforge/tokengate/internal/campaign/domain"
	campaignservice "github.com/agentforge/tokengate/internal/campaign/service"
	catalogservice "github.com/agentforge/tokengate/internal/catalog/service"
	"github.com/agentforge/tokengate/internal/clock"
	"github.com/agentforge/tokengate/internal/config"
	executionservice "github.com/agentforge/tokengate/internal/execution/service"
	"github.com/agentforge/tokengate/internal/observability"
	usagelogdomain "github.com/agentforge/tokengate/internal/usagelog/domain"
	usagelogservice "github.com/agentforge/tokengate/internal/usagelog/service"
	walletdomain "github.com/agentforge/tokengate/internal/wallet/domain"
	walletservice "github.com/agentforge/tokengate/internal/wallet/service"
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type testEnv struct {
	server *Server
	db     *gorm.DB
	node   *snowflake.Node
	wallet walletdomain.Service
}

func setupTestServer(t *testing.T, webhookURL string) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

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

	if err := db.AutoMigrate(
		&walletdomain.TokenBalance{},
		&walletdomain.TokenTransaction{},
		&usagelogdomain.UsageLogEntry{},
		&campaigndomain.Campaign{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(4)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	log := zap.NewNop()
	fake := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	catalogSvc, err := catalogservice.NewService(log)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	walletSvc := walletservice.NewService(walletservice.Params{
		DB:      db,
		Log:     log,
		GenID:   node,
		Clock:   fake,
		Catalog: catalogSvc,
	})
	usageLogSvc := usagelogservice.NewService(usagelogservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: fake,
	})
	executionSvc := executionservice.NewService(executionservice.Params{
		Log:      log,
		Wallet:   walletSvc,
		UsageLog: usageLogSvc,
	})
	campaignSvc := campaignservice.NewService(campaignservice.Params{
		DB:       db,
		Log:      log,
		GenID:    node,
		Clock:    fake,
		UsageLog: usageLogSvc,
	})
	invoker := agent.NewInvoker(config.Config{
		WebhookBaseURL: webhookURL,
		WebhookTimeout: 5 * time.Second,
	}, log)

	engine := NewEngine(observability.Config{LogLevel: "info"})
	srv := NewServer(ServerParams{
		Gin:          engine,
		Cfg:          config.Config{},
		Log:          log,
		CatalogSvc:   catalogSvc,
		WalletSvc:    walletSvc,
		UsageLogSvc:  usageLogSvc,
		ExecutionSvc: executionSvc,
		CampaignSvc:  campaignSvc,
		Invoker:      invoker,
	})

	return &testEnv{server: srv, db: db, node: node, wallet: walletSvc}
}

func (e *testEnv) request(t *testing.T, method, path string, userID snowflake.ID, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != 0 {
		req.Header.Set("X-User-ID", userID.String())
	}

	rec := httptest.NewRecorder()
	e.server.Engine().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) seedBalance(t *testing.T, userID snowflake.ID, tokens int64) {
	t.Helper()
	now := time.Now().UTC()
	if err := e.db.Create(&walletdomain.TokenBalance{
		UserID:          userID,
		TokensRemaining: tokens,
		CreatedAt:       now,
		UpdatedAt:       now,
	}).Error; err != nil {
		t.Fatalf("seed balance: %v", err)
	}
}

func TestExecuteEndpointSuccess(t *testing.T) {
	webhook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ads":["headline one"]}`))
	}))
	defer webhook.Close()

	env := setupTestServer(t, webhook.URL)
	userID := env.node.Generate()
	env.seedBalance(t, userID, 500)

	rec := env.request(t, http.MethodPost, "/api/agents/ad_generation/execute", userID, map[string]any{
		"payload": map[string]any{"prompt": "spring sale"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var result struct {
		Success         bool  `json:"success"`
		TokensDeducted  int64 `json:"tokens_deducted"`
		TokensRemaining int64 `json:"tokens_remaining"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !result.Success || result.TokensDeducted != 75 || result.TokensRemaining != 425 {
		t.Fatalf("unexpected result %+v", result)
	}

	balanceRec := env.request(t, http.MethodGet, "/api/balance", userID, nil)
	if balanceRec.Code != http.StatusOK {
		t.Fatalf("expected 200 balance, got %d", balanceRec.Code)
	}
	var balance struct {
		TokensRemaining int64 `json:"tokens_remaining"`
	}
	if err := json.Unmarshal(balanceRec.Body.Bytes(), &balance); err != nil {
		t.Fatalf("decode balance: %v", err)
	}
	if balance.TokensRemaining != 425 {
		t.Fatalf("expected 425 remaining, got %d", balance.TokensRemaining)
	}
}

func TestExecuteEndpointInsufficientTokens(t *testing.T) {
	webhook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("webhook must not be called when unaffordable")
	}))
	defer webhook.Close()

	env := setupTestServer(t, webhook.URL)
	userID := env.node.Generate()
	env.seedBalance(t, userID, 10)

	rec := env.request(t, http.MethodPost, "/api/agents/ad_generation/execute", userID, map[string]any{})
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d: %s", rec.Code, rec.Body.String())
	}

	var result struct {
		Success   bool   `json:"success"`
		ErrorCode string `json:"error_code"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Success || result.ErrorCode != "insufficient_tokens" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestExecuteEndpointRemoteFailure(t *testing.T) {
	webhook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "workflow crashed", http.StatusInternalServerError)
	}))
	defer webhook.Close()

	env := setupTestServer(t, webhook.URL)
	userID := env.node.Generate()
	env.seedBalance(t, userID, 500)

	rec := env.request(t, http.MethodPost, "/api/agents/lead_scraper/execute", userID, map[string]any{})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", rec.Code, rec.Body.String())
	}

	balance, err := env.wallet.GetBalance(context.Background(), userID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 500 {
		t.Fatalf("failed run must not charge, got %d", balance)
	}
}

func TestExecuteEndpointUnknownOperation(t *testing.T) {
	env := setupTestServer(t, "http://127.0.0.1:0")
	userID := env.node.Generate()
	env.seedBalance(t, userID, 500)

	rec := env.request(t, http.MethodPost, "/api/agents/crypto_miner/execute", userID, map[string]any{})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAPIRequiresUserHeader(t *testing.T) {
	env := setupTestServer(t, "http://127.0.0.1:0")

	rec := env.request(t, http.MethodGet, "/api/balance", 0, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestUsageLogAndCampaignFlow(t *testing.T) {
	webhook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"leads":[{"name":"Acme"}]}`))
	}))
	defer webhook.Close()

	env := setupTestServer(t, webhook.URL)
	userID := env.node.Generate()
	env.seedBalance(t, userID, 500)

	execRec := env.request(t, http.MethodPost, "/api/agents/lead_scraper/execute", userID, map[string]any{})
	if execRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", execRec.Code, execRec.Body.String())
	}
	var execResult struct {
		LogEntryID string `json:"log_entry_id"`
	}
	if err := json.Unmarshal(execRec.Body.Bytes(), &execResult); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if execResult.LogEntryID == "" {
		t.Fatal("expected a log entry id")
	}

	logsRec := env.request(t, http.MethodGet, "/api/usage-logs", userID, nil)
	if logsRec.Code != http.StatusOK {
		t.Fatalf("expected 200 logs, got %d", logsRec.Code)
	}
	var logs struct {
		Entries []struct {
			OperationCode string `json:"operation_code"`
		} `json:"entries"`
	}
	if err := json.Unmarshal(logsRec.Body.Bytes(), &logs); err != nil {
		t.Fatalf("decode logs: %v", err)
	}
	if len(logs.Entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(logs.Entries))
	}

	createRec := env.request(t, http.MethodPost, "/api/campaigns", userID, map[string]any{"name": "Q3 Leads"})
	if createRec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", createRec.Code, createRec.Body.String())
	}
	var campaign struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(createRec.Body.Bytes(), &campaign); err != nil {
		t.Fatalf("decode campaign: %v", err)
	}

	attachRec := env.request(t, http.MethodPost, "/api/campaigns/"+campaign.ID+"/attach", userID, map[string]any{
		"log_entry_id": execResult.LogEntryID,
	})
	if attachRec.Code != http.StatusOK {
		t.Fatalf("expected 200 attach, got %d: %s", attachRec.Code, attachRec.Body.String())
	}
}
