// Package agent adapts catalog operations into remote webhook calls.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	catalogdomain "github.com/agentforge/tokengate/internal/catalog/domain"
	"github.com/agentforge/tokengate/internal/config"
	executiondomain "github.com/agentforge/tokengate/internal/execution/domain"
	"go.uber.org/zap"
)

// Workflow responses can be large but are bounded to keep a misbehaving
// agent from exhausting memory.
const maxResponseBytes = 16 << 20

var ErrNotConfigured = errors.New("webhook_base_url_not_configured")

// Invoker builds RemoteOperations that call agent workflow webhooks.
// Transport ambiguity (non-2xx, empty body, unparseable JSON) is reduced
// to an error so that only a usable result counts as billable success.
type Invoker struct {
	baseURL string
	client  *http.Client
	log     *zap.Logger
}

func NewInvoker(cfg config.Config, log *zap.Logger) *Invoker {
	timeout := cfg.WebhookTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Invoker{
		baseURL: strings.TrimRight(cfg.WebhookBaseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		log:     log.Named("agent.invoker"),
	}
}

// Operation returns the remote operation for one catalog entry.
func (i *Invoker) Operation(op catalogdomain.Operation, payload map[string]any) executiondomain.RemoteOperation {
	return func(ctx context.Context) (json.RawMessage, error) {
		return i.invoke(ctx, op, payload)
	}
}

func (i *Invoker) invoke(ctx context.Context, op catalogdomain.Operation, payload map[string]any) (json.RawMessage, error) {
	if i.baseURL == "" {
		return nil, ErrNotConfigured
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request payload: %w", err)
	}

	url := i.baseURL + op.WebhookPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := i.client.Do(req)
	if err != nil {
		i.log.Warn("webhook request failed",
			zap.String("operation_code", op.Code),
			zap.Error(err),
		)
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read webhook response: %w", err)
	}

	i.log.Debug("webhook responded",
		zap.String("operation_code", op.Code),
		zap.Int("status", resp.StatusCode),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		zap.Int("bytes", len(raw)),
	)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, snippet(raw))
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, errors.New("webhook returned empty body")
	}
	if !json.Valid(raw) {
		return nil, errors.New("webhook returned unparseable JSON")
	}

	return json.RawMessage(raw), nil
}

func snippet(raw []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(raw))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
