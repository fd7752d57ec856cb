// Package openai provides the adapter for the OpenAI Chat Completions API.
package openai

import (
	"context"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"

	"routecache/internal/core"
	"routecache/internal/providers"
)

const defaultBaseURL = "https://api.openai.com/v1"

func init() {
	providers.Register("openai", New)
}

// Adapter implements providers.Adapter for OpenAI.
type Adapter struct {
	api    *providers.HTTPAPI
	models []core.ModelDescriptor
}

// New creates the OpenAI adapter.
func New(cfg providers.Config) (providers.Adapter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	apiKey := cfg.APIKey
	setHeaders := func(req *http.Request) error {
		req.Header.Set("Authorization", "Bearer "+apiKey)
		if id := core.GetRequestID(req.Context()); id != "" {
			req.Header.Set("X-Client-Request-Id", id)
		}
		return nil
	}

	return &Adapter{
		api:    providers.NewHTTPAPI("openai", baseURL, cfg.HTTPClient, setHeaders, providers.DefaultRetryConfig()),
		models: cfg.Models,
	}, nil
}

type chatRequest struct {
	Model       string         `json:"model"`
	Messages    []core.Message `json:"messages"`
	MaxTokens   int            `json:"max_tokens,omitempty"`
	Temperature float64        `json:"temperature,omitempty"`
	TopP        float64        `json:"top_p,omitempty"`
}

// Invoke executes a chat completion. OpenAI applies prompt caching
// automatically above its own threshold, so no directive is forwarded.
func (a *Adapter) Invoke(ctx context.Context, req *core.ProviderRequest) (*core.ProviderResponse, error) {
	body := chatRequest{
		Model:       req.Descriptor.ID,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	}

	respBody, err := a.api.Post(ctx, "/chat/completions", body)
	if err != nil {
		return nil, err
	}

	return &core.ProviderResponse{
		Model:      gjson.GetBytes(respBody, "model").Str,
		Content:    gjson.GetBytes(respBody, "choices.0.message.content").Str,
		StopReason: gjson.GetBytes(respBody, "choices.0.finish_reason").Str,
		Usage: core.Usage{
			PromptTokens:     int(gjson.GetBytes(respBody, "usage.prompt_tokens").Int()),
			CompletionTokens: int(gjson.GetBytes(respBody, "usage.completion_tokens").Int()),
		},
		Provider: "openai",
	}, nil
}

// HealthCheck verifies the API is reachable with the configured key.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	_, err := a.api.Get(ctx, "/models")
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
