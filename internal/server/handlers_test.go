package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"routecache/internal/core"
	"routecache/internal/pipeline"
	"routecache/internal/router"
)

// mockCompleter implements Completer for testing
type mockCompleter struct {
	result *pipeline.Result
	err    error
}

func (m *mockCompleter) Handle(ctx context.Context, req *core.CompletionRequest) (*pipeline.Result, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func testRouter() *router.Router {
	return router.New(router.Table{
		Version: 1,
		Descriptors: []core.ModelDescriptor{
			{ID: "claude-sonnet-4", Family: "anthropic", Provider: "anthropic", CostClass: 3, LatencyClass: 2},
		},
	}, true)
}

func newTestHandler(c Completer) *Handler {
	return NewHandler(c, testRouter(), "", nil)
}

func TestCompletion(t *testing.T) {
	mock := &mockCompleter{
		result: &pipeline.Result{
			Response: &core.ProviderResponse{
				Model:   "claude-sonnet-4",
				Content: "Hello!",
				Usage:   core.Usage{PromptTokens: 10, CompletionTokens: 5},
			},
			Fingerprint: "abc123",
			FromCache:   true,
			CacheTier:   "l1",
		},
	}

	e := echo.New()
	handler := newTestHandler(mock)

	reqBody := `{"messages": [{"role": "user", "content": "Hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/completions", strings.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := handler.Completion(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}

	body := rec.Body.String()
	for _, want := range []string{"Hello!", `"cached":true`, `"cache_tier":"l1"`, `"fingerprint":"abc123"`} {
		if !strings.Contains(body, want) {
			t.Errorf("response missing %s, got: %s", want, body)
		}
	}
}

func TestCompletionEmptyMessages(t *testing.T) {
	e := echo.New()
	handler := newTestHandler(&mockCompleter{})

	req := httptest.NewRequest(http.MethodPost, "/v1/completions", strings.NewReader(`{"messages": []}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := handler.Completion(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rec.Code)
	}
}

func TestCompletionErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantInBody string
	}{
		{
			name:       "throttled",
			err:        core.NewThrottledError("anthropic", "rate limited"),
			wantStatus: http.StatusTooManyRequests,
			wantInBody: "throttled",
		},
		{
			name:       "timeout",
			err:        core.NewTimeoutError("bedrock", nil),
			wantStatus: http.StatusGatewayTimeout,
			wantInBody: "timeout",
		},
		{
			name:       "terminal",
			err:        &core.TerminalError{Attempts: 3, LastErr: core.NewInternalError("mock", "down", nil)},
			wantStatus: http.StatusBadGateway,
			wantInBody: "fallback_exhausted",
		},
		{
			name:       "validation fields",
			err:        core.ValidationErrors{{Field: "cache_ttl_seconds", Message: "out of range"}},
			wantStatus: http.StatusBadRequest,
			wantInBody: "cache_ttl_seconds",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			handler := newTestHandler(&mockCompleter{err: tt.err})

			req := httptest.NewRequest(http.MethodPost, "/v1/completions",
				strings.NewReader(`{"messages": [{"role": "user", "content": "Hi"}]}`))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			if err := handler.Completion(c); err != nil {
				t.Fatalf("handler returned error: %v", err)
			}
			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if !strings.Contains(rec.Body.String(), tt.wantInBody) {
				t.Errorf("body missing %q: %s", tt.wantInBody, rec.Body.String())
			}
		})
	}
}

func TestListModels(t *testing.T) {
	e := echo.New()
	handler := newTestHandler(&mockCompleter{})

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := handler.ListModels(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "claude-sonnet-4") {
		t.Errorf("models listing missing descriptor: %s", rec.Body.String())
	}
}

func TestHealth(t *testing.T) {
	e := echo.New()
	handler := newTestHandler(&mockCompleter{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := handler.Health(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ok") {
		t.Errorf("unexpected health response: %d %s", rec.Code, rec.Body.String())
	}
}

func TestReloadBumpsVersion(t *testing.T) {
	rt := testRouter()
	loaded := []core.ModelDescriptor{
		{ID: "claude-sonnet-4", Family: "anthropic", Provider: "anthropic", CostClass: 3, LatencyClass: 2},
		{ID: "claude-haiku-3-5", Family: "anthropic", Provider: "anthropic", CostClass: 1, LatencyClass: 1},
	}
	handler := NewHandler(&mockCompleter{}, rt, "models.yaml", func(string) ([]core.ModelDescriptor, error) {
		return loaded, nil
	})

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/admin/reload", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := handler.Reload(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}

	table := rt.Snapshot()
	if table.Version != 2 {
		t.Errorf("expected version 2, got %d", table.Version)
	}
	if len(table.Descriptors) != 2 {
		t.Errorf("expected 2 descriptors after reload, got %d", len(table.Descriptors))
	}
}

func TestServerRoutes(t *testing.T) {
	srv := New(&mockCompleter{
		result: &pipeline.Result{
			Response:    &core.ProviderResponse{Model: "claude-sonnet-4", Content: "hi"},
			Fingerprint: "fp",
		},
	}, testRouter(), &Config{})

	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health returned %d", resp.StatusCode)
	}

	resp, err = http.Post(ts.URL+"/v1/completions", "application/json",
		strings.NewReader(`{"messages":[{"role":"user","content":"Hi"}]}`))
	if err != nil {
		t.Fatalf("completion request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("completion returned %d", resp.StatusCode)
	}
}
