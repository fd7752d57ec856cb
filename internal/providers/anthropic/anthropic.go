// Package anthropic provides the adapter for the Anthropic Messages API,
// including native prompt-cache breakpoints.
package anthropic

import (
	"context"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"

	"routecache/internal/core"
	"routecache/internal/providers"
)

const (
	defaultBaseURL   = "https://api.anthropic.com"
	apiVersion       = "2023-06-01"
	defaultMaxTokens = 4096
)

func init() {
	providers.Register("anthropic", New)
}

// Adapter implements providers.Adapter for Anthropic.
type Adapter struct {
	api    *providers.HTTPAPI
	models []core.ModelDescriptor
}

// New creates the Anthropic adapter.
func New(cfg providers.Config) (providers.Adapter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	apiKey := cfg.APIKey
	setHeaders := func(req *http.Request) error {
		req.Header.Set("x-api-key", apiKey)
		req.Header.Set("anthropic-version", apiVersion)
		if id := core.GetRequestID(req.Context()); id != "" {
			req.Header.Set("x-client-request-id", id)
		}
		return nil
	}

	return &Adapter{
		api:    providers.NewHTTPAPI("anthropic", baseURL, cfg.HTTPClient, setHeaders, providers.DefaultRetryConfig()),
		models: cfg.Models,
	}, nil
}

type contentBlock struct {
	Type         string        `json:"type"`
	Text         string        `json:"text"`
	CacheControl *cacheControl `json:"cache_control,omitempty"`
}

type cacheControl struct {
	Type string `json:"type"`
}

type message struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Messages    []message `json:"messages"`
	System      string    `json:"system,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
}

// Invoke executes a Messages API call. When the cache plan allows, the
// last N message boundaries carry ephemeral cache_control breakpoints, N
// capped at the descriptor's checkpoint ceiling.
func (a *Adapter) Invoke(ctx context.Context, req *core.ProviderRequest) (*core.ProviderResponse, error) {
	body := a.buildRequest(req)

	respBody, err := a.api.Post(ctx, "/v1/messages", body)
	if err != nil {
		return nil, err
	}

	content := gjson.GetBytes(respBody, "content.0.text").Str
	return &core.ProviderResponse{
		Model:      gjson.GetBytes(respBody, "model").Str,
		Content:    content,
		StopReason: gjson.GetBytes(respBody, "stop_reason").Str,
		Usage: core.Usage{
			PromptTokens:     int(gjson.GetBytes(respBody, "usage.input_tokens").Int()),
			CompletionTokens: int(gjson.GetBytes(respBody, "usage.output_tokens").Int()),
		},
		Provider: "anthropic",
	}, nil
}

func (a *Adapter) buildRequest(req *core.ProviderRequest) messagesRequest {
	plan := providers.PlanCaching(req)

	var system string
	msgs := make([]message, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = m.Content
			continue
		}
		msgs = append(msgs, message{
			Role:    m.Role,
			Content: []contentBlock{{Type: "text", Text: m.Content}},
		})
	}

	if plan.Enabled {
		// Place breakpoints on the last N turns so the stable prefix is
		// cached while the newest turns stay uncached.
		marked := 0
		for i := len(msgs) - 1; i >= 0 && marked < plan.Checkpoints; i-- {
			blocks := msgs[i].Content
			blocks[len(blocks)-1].CacheControl = &cacheControl{Type: "ephemeral"}
			marked++
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	out := messagesRequest{
		Model:     req.Descriptor.ID,
		MaxTokens: maxTokens,
		Messages:  msgs,
		System:    system,
	}
	if req.Temperature > 0 {
		t := req.Temperature
		out.Temperature = &t
	}
	if req.TopP > 0 {
		p := req.TopP
		out.TopP = &p
	}
	return out
}

// HealthCheck verifies the API is reachable with the configured key.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	_, err := a.api.Get(ctx, "/v1/models")
	return err
}

// Describe returns the descriptors this adapter serves.
func (a *Adapter) Describe() []core.ModelDescriptor {
	return a.models
}

// SetBaseURL points the adapter at a custom endpoint (tests, proxies).
func (a *Adapter) SetBaseURL(url string) {
	a.api.SetBaseURL(url)
}
