package ollama

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"routecache/internal/core"
	"routecache/internal/providers"
)

func testDescriptor() core.ModelDescriptor {
	return core.ModelDescriptor{
		ID:       "llama3.1:8b",
		Family:   "llama",
		Provider: "ollama",
	}
}

func newTestAdapter(t *testing.T, srv *httptest.Server) *Adapter {
	t.Helper()
	adapter, err := New(providers.Config{
		Type:       "ollama",
		HTTPClient: srv.Client(),
		Models:     []core.ModelDescriptor{testDescriptor()},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	a := adapter.(*Adapter)
	a.SetBaseURL(srv.URL)
	return a
}

const chatResponse = `{
	"model": "llama3.1:8b",
	"message": {"role": "assistant", "content": "Local hello"},
	"done_reason": "stop",
	"prompt_eval_count": 30,
	"eval_count": 6
}`

func TestInvoke(t *testing.T) {
	var captured []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		captured, _ = io.ReadAll(r.Body)
		w.Write([]byte(chatResponse))
	}))
	defer srv.Close()

	adapter := newTestAdapter(t, srv)

	resp, err := adapter.Invoke(context.Background(), &core.ProviderRequest{
		Descriptor:  testDescriptor(),
		Messages:    []core.Message{{Role: "user", Content: "Hi"}},
		MaxTokens:   64,
		Temperature: 0.7,
	})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	if resp.Content != "Local hello" {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.Usage.PromptTokens != 30 || resp.Usage.CompletionTokens != 6 {
		t.Errorf("usage = %+v", resp.Usage)
	}
	if resp.Provider != "ollama" {
		t.Errorf("provider = %q", resp.Provider)
	}

	var body map[string]any
	if err := json.Unmarshal(captured, &body); err != nil {
		t.Fatalf("request body: %v", err)
	}
	if body["stream"] != false {
		t.Error("streaming must be disabled")
	}
	opts, ok := body["options"].(map[string]any)
	if !ok {
		t.Fatal("missing options")
	}
	if opts["num_predict"] != float64(64) {
		t.Errorf("num_predict = %v", opts["num_predict"])
	}
}

func TestHealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/version" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"version": "0.5.0"}`))
	}))
	defer srv.Close()

	if err := newTestAdapter(t, srv).HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck failed: %v", err)
	}
}
