package bedrock

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"routecache/internal/core"
	"routecache/internal/providers"
)

// headerSigner mimics request signing by stamping a header.
type headerSigner struct{}

func (headerSigner) Sign(req *http.Request) error {
	req.Header.Set("Authorization", "AWS4-HMAC-SHA256 test")
	return nil
}

func claudeDescriptor() core.ModelDescriptor {
	return core.ModelDescriptor{
		ID:              "anthropic.claude-3-5-sonnet-20241022-v2:0",
		Family:          "anthropic",
		Provider:        "bedrock",
		Region:          "us-east-1",
		SupportsCaching: true,
		MinCacheTokens:  1024,
		MaxCheckpoints:  4,
	}
}

func newTestAdapter(t *testing.T, srv *httptest.Server) *Adapter {
	t.Helper()
	adapter, err := New(providers.Config{
		Type:       "bedrock",
		Region:     "us-east-1",
		Signer:     headerSigner{},
		HTTPClient: srv.Client(),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	a := adapter.(*Adapter)
	a.SetBaseURL(srv.URL)
	return a
}

func TestNewRequiresSigner(t *testing.T) {
	if _, err := New(providers.Config{Type: "bedrock", Region: "us-east-1"}); err == nil {
		t.Error("expected an error without a signer")
	}
}

func TestNewRequiresRegionOrBaseURL(t *testing.T) {
	if _, err := New(providers.Config{Type: "bedrock", Signer: headerSigner{}}); err == nil {
		t.Error("expected an error without region or base URL")
	}
	if _, err := New(providers.Config{Type: "bedrock", Signer: headerSigner{}, BaseURL: "http://localhost:9999"}); err != nil {
		t.Errorf("explicit base URL should not require a region: %v", err)
	}
}

func TestInvokeClaudeBodyShape(t *testing.T) {
	var captured []byte
	var signed bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signed = strings.HasPrefix(r.Header.Get("Authorization"), "AWS4-HMAC-SHA256")
		if !strings.HasSuffix(r.URL.Path, "/invoke") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		captured, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{"completion":" Hello","stop_reason":"stop_sequence","usage":{"input_tokens":9,"output_tokens":3}}`))
	}))
	defer srv.Close()

	adapter := newTestAdapter(t, srv)

	resp, err := adapter.Invoke(context.Background(), &core.ProviderRequest{
		Descriptor:  claudeDescriptor(),
		Messages:    []core.Message{{Role: "user", Content: "Hi"}},
		MaxTokens:   128,
		Temperature: 0.2,
	})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if !signed {
		t.Error("request was not signed")
	}
	if resp.Content != " Hello" || resp.StopReason != "stop_sequence" {
		t.Errorf("unexpected response: %+v", resp)
	}

	var body map[string]any
	if err := json.Unmarshal(captured, &body); err != nil {
		t.Fatalf("failed to parse captured body: %v", err)
	}
	prompt, _ := body["prompt"].(string)
	if !strings.HasPrefix(prompt, "Human: ") || !strings.HasSuffix(prompt, "\n\nAssistant:") {
		t.Errorf("claude prompt not framed: %q", prompt)
	}
	if body["anthropic_version"] != "bedrock-2023-05-31" {
		t.Errorf("missing anthropic_version: %v", body["anthropic_version"])
	}
	if _, ok := body["cacheConfig"]; ok {
		t.Error("cacheConfig must be absent without a caching policy")
	}
}

func TestInvokeTitanBodyShape(t *testing.T) {
	var captured []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{"results":[{"outputText":"done","completionReason":"FINISH"}]}`))
	}))
	defer srv.Close()

	adapter := newTestAdapter(t, srv)

	resp, err := adapter.Invoke(context.Background(), &core.ProviderRequest{
		Descriptor: core.ModelDescriptor{ID: "amazon.titan-text-express-v1", Family: "amazon", Provider: "bedrock"},
		Messages:   []core.Message{{Role: "user", Content: "Hi"}},
		MaxTokens:  64,
	})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if resp.Content != "done" || resp.StopReason != "FINISH" {
		t.Errorf("unexpected response: %+v", resp)
	}

	var body map[string]any
	if err := json.Unmarshal(captured, &body); err != nil {
		t.Fatalf("failed to parse captured body: %v", err)
	}
	if body["inputText"] != "Hi" {
		t.Errorf("inputText = %v", body["inputText"])
	}
	cfg, _ := body["textGenerationConfig"].(map[string]any)
	if cfg == nil || cfg["maxTokenCount"] != float64(64) {
		t.Errorf("textGenerationConfig = %v", body["textGenerationConfig"])
	}
}

func TestInvokeCacheConfigForwarded(t *testing.T) {
	var captured []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{"completion":"ok"}`))
	}))
	defer srv.Close()

	adapter := newTestAdapter(t, srv)

	_, err := adapter.Invoke(context.Background(), &core.ProviderRequest{
		Descriptor:   claudeDescriptor(),
		Messages:     []core.Message{{Role: "user", Content: "big prompt"}},
		PromptTokens: 5000,
		Caching: &core.CachingPolicy{
			TTL:            5 * time.Minute,
			MinTokens:      1024,
			MaxCheckpoints: 1,
		},
	})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	var body map[string]any
	if err := json.Unmarshal(captured, &body); err != nil {
		t.Fatalf("failed to parse captured body: %v", err)
	}
	cacheCfg, _ := body["cacheConfig"].(map[string]any)
	if cacheCfg == nil {
		t.Fatal("cacheConfig missing")
	}
	if cacheCfg["enabled"] != true {
		t.Error("cacheConfig.enabled not true")
	}
	if cacheCfg["ttl"] != float64(300) {
		t.Errorf("cacheConfig.ttl = %v, want 300", cacheCfg["ttl"])
	}
}

func TestInvokeBelowFloorOmitsCacheConfig(t *testing.T) {
	var captured []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{"completion":"ok"}`))
	}))
	defer srv.Close()

	adapter := newTestAdapter(t, srv)

	_, err := adapter.Invoke(context.Background(), &core.ProviderRequest{
		Descriptor:   claudeDescriptor(),
		Messages:     []core.Message{{Role: "user", Content: "small"}},
		PromptTokens: 100,
		Caching: &core.CachingPolicy{
			TTL:            5 * time.Minute,
			MinTokens:      1024,
			MaxCheckpoints: 1,
		},
	})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	var body map[string]any
	if err := json.Unmarshal(captured, &body); err != nil {
		t.Fatalf("failed to parse captured body: %v", err)
	}
	if _, ok := body["cacheConfig"]; ok {
		t.Error("below-floor request must omit cacheConfig")
	}
}

func TestInvokeUnsupportedFamily(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request should reach the server")
	}))
	defer srv.Close()

	adapter := newTestAdapter(t, srv)

	_, err := adapter.Invoke(context.Background(), &core.ProviderRequest{
		Descriptor: core.ModelDescriptor{ID: "cohere.command-text-v14", Provider: "bedrock"},
		Messages:   []core.Message{{Role: "user", Content: "Hi"}},
	})
	if core.TypeOf(err) != core.ErrorTypeInvalidRequest {
		t.Fatalf("expected invalid_request, got %v", err)
	}
}

func TestInvokeThrottlingMapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"message":"Too many requests, please wait before trying again."}`))
	}))
	defer srv.Close()

	adapter := newTestAdapter(t, srv)

	_, err := adapter.Invoke(context.Background(), &core.ProviderRequest{
		Descriptor: claudeDescriptor(),
		Messages:   []core.Message{{Role: "user", Content: "Hi"}},
	})
	if core.TypeOf(err) != core.ErrorTypeThrottled {
		t.Fatalf("expected throttled, got %v", err)
	}
}

func TestHealthCheckTreatsRejectionAsReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"message":"Missing Authentication Token"}`))
	}))
	defer srv.Close()

	adapter := newTestAdapter(t, srv)
	if err := adapter.HealthCheck(context.Background()); err != nil {
		t.Errorf("auth rejection should count as reachable: %v", err)
	}
}
