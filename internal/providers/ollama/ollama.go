// Package ollama provides the adapter for a local Ollama runtime. No
// credentials are involved; the runtime is assumed to be on localhost or a
// trusted network.
package ollama

import (
	"context"

	"github.com/tidwall/gjson"

	"routecache/internal/core"
	"routecache/internal/providers"
)

const defaultBaseURL = "http://localhost:11434"

func init() {
	providers.Register("ollama", New)
}

// Adapter implements providers.Adapter for Ollama.
type Adapter struct {
	api    *providers.HTTPAPI
	models []core.ModelDescriptor
}

// New creates the Ollama adapter.
func New(cfg providers.Config) (providers.Adapter, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &Adapter{
		api:    providers.NewHTTPAPI("ollama", baseURL, cfg.HTTPClient, nil, providers.DefaultRetryConfig()),
		models: cfg.Models,
	}, nil
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []core.Message `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  chatOptions    `json:"options,omitempty"`
}

type chatOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	TopP        float64 `json:"top_p,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

// Invoke executes a non-streaming chat request against the local runtime.
func (a *Adapter) Invoke(ctx context.Context, req *core.ProviderRequest) (*core.ProviderResponse, error) {
	body := chatRequest{
		Model:    req.Descriptor.ID,
		Messages: req.Messages,
		Stream:   false,
		Options: chatOptions{
			Temperature: req.Temperature,
			TopP:        req.TopP,
			NumPredict:  req.MaxTokens,
		},
	}

	respBody, err := a.api.Post(ctx, "/api/chat", body)
	if err != nil {
		return nil, err
	}

	return &core.ProviderResponse{
		Model:      gjson.GetBytes(respBody, "model").Str,
		Content:    gjson.GetBytes(respBody, "message.content").Str,
		StopReason: gjson.GetBytes(respBody, "done_reason").Str,
		Usage: core.Usage{
			PromptTokens:     int(gjson.GetBytes(respBody, "prompt_eval_count").Int()),
			CompletionTokens: int(gjson.GetBytes(respBody, "eval_count").Int()),
		},
		Provider: "ollama",
	}, nil
}

// HealthCheck verifies the local runtime is up.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	_, err := a.api.Get(ctx, "/api/version")
	return err
}

// Describe returns the descriptors this adapter serves.
func (a *Adapter) Describe() []core.ModelDescriptor {
	return a.models
}

// SetBaseURL points the adapter at a custom runtime address.
func (a *Adapter) SetBaseURL(url string) {
	a.api.SetBaseURL(url)
}
