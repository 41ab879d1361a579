package agent

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	catalogdomain "github.com/agentforge/tokengate/internal/catalog/domain"
	"github.com/agentforge/tokengate/internal/config"
	"go.uber.org/zap"
)

var testOperation = catalogdomain.Operation{
	Code:        "ad_generation",
	Title:       "Ad Generation",
	BaseCost:    75,
	WebhookPath: "/webhook/ad-generation",
}

func newTestInvoker(t *testing.T, handler http.HandlerFunc) *Invoker {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewInvoker(config.Config{
		WebhookBaseURL: srv.URL,
		WebhookTimeout: 5 * time.Second,
	}, zap.NewNop())
}

func TestInvokeSuccess(t *testing.T) {
	var gotPath, gotContentType string
	invoker := newTestInvoker(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotContentType = r.Header.Get("Content-Type")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ads":["one","two"]}`))
	})

	op := invoker.Operation(testOperation, map[string]any{"prompt": "spring sale"})
	data, err := op(context.Background())
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if string(data) != `{"ads":["one","two"]}` {
		t.Fatalf("unexpected payload %s", data)
	}
	if gotPath != "/webhook/ad-generation" {
		t.Fatalf("expected webhook path, got %s", gotPath)
	}
	if gotContentType != "application/json" {
		t.Fatalf("expected json content type, got %s", gotContentType)
	}
}

func TestInvokeNon2xxIsError(t *testing.T) {
	invoker := newTestInvoker(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "workflow crashed", http.StatusInternalServerError)
	})

	op := invoker.Operation(testOperation, nil)
	if _, err := op(context.Background()); err == nil {
		t.Fatal("expected error for 500 response")
	} else if !strings.Contains(err.Error(), "500") {
		t.Fatalf("expected status in error, got %v", err)
	}
}

func TestInvokeEmptyBodyIsError(t *testing.T) {
	invoker := newTestInvoker(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	op := invoker.Operation(testOperation, nil)
	if _, err := op(context.Background()); err == nil {
		t.Fatal("expected error for empty body")
	}
}

func TestInvokeUnparseableJSONIsError(t *testing.T) {
	invoker := newTestInvoker(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>oops</html>"))
	})

	op := invoker.Operation(testOperation, nil)
	if _, err := op(context.Background()); err == nil {
		t.Fatal("expected error for non-JSON body")
	}
}

func TestInvokeContextCancellation(t *testing.T) {
	invoker := newTestInvoker(t, func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server can detect the client disconnect
		// and cancel the request context; otherwise srv.Close deadlocks.
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	op := invoker.Operation(testOperation, nil)
	if _, err := op(ctx); err == nil {
		t.Fatal("expected error when context expires")
	}
}

func TestInvokeWithoutBaseURL(t *testing.T) {
	invoker := NewInvoker(config.Config{}, zap.NewNop())

	op := invoker.Operation(testOperation, nil)
	if _, err := op(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected not configured error, got %v", err)
	}
}
