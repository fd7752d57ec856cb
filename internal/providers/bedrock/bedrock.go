// Package bedrock provides the adapter for the AWS Bedrock runtime API.
//
// Request bodies are shaped per model family (anthropic.claude,
// amazon.titan, ai21), and the prompt-cache directive is only forwarded
// when the plan clears the model's token floor. Credential resolution is
// external: the adapter applies a Signer supplied at construction and
// never touches key material itself.
package bedrock

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"routecache/internal/core"
	"routecache/internal/providers"
)

const defaultMaxTokens = 2048

func init() {
	providers.Register("bedrock", New)
}

// Adapter implements providers.Adapter for Bedrock.
type Adapter struct {
	api    *providers.HTTPAPI
	models []core.ModelDescriptor
}

// New creates the Bedrock adapter. A Signer is required; the region
// selects the default runtime endpoint.
func New(cfg providers.Config) (providers.Adapter, error) {
	if cfg.Signer == nil {
		return nil, fmt.Errorf("bedrock adapter requires a request signer")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		if cfg.Region == "" {
			return nil, fmt.Errorf("bedrock adapter requires a region or an explicit base URL")
		}
		baseURL = fmt.Sprintf("https://bedrock-runtime.%s.amazonaws.com", cfg.Region)
	}

	signer := cfg.Signer
	setHeaders := func(req *http.Request) error {
		return signer.Sign(req)
	}

	// Bedrock exception types map onto HTTP status codes the shared
	// client already classifies: ThrottlingException arrives as 429,
	// ValidationException as 400, InternalServerException as 500.
	return &Adapter{
		api:    providers.NewHTTPAPI("bedrock", baseURL, cfg.HTTPClient, setHeaders, providers.DefaultRetryConfig()),
		models: cfg.Models,
	}, nil
}

// Invoke executes an invoke-model call with family-specific body shaping.
func (a *Adapter) Invoke(ctx context.Context, req *core.ProviderRequest) (*core.ProviderResponse, error) {
	modelID := req.Descriptor.ID
	body, err := buildRequestBody(req)
	if err != nil {
		return nil, err
	}

	respBody, err := a.api.Post(ctx, "/model/"+modelID+"/invoke", body)
	if err != nil {
		return nil, err
	}

	content, stopReason := parseResponse(modelID, respBody)
	return &core.ProviderResponse{
		Model:      modelID,
		Content:    content,
		StopReason: stopReason,
		Usage: core.Usage{
			PromptTokens:     int(gjson.GetBytes(respBody, "usage.input_tokens").Int()),
			CompletionTokens: int(gjson.GetBytes(respBody, "usage.output_tokens").Int()),
		},
		Provider: "bedrock",
	}, nil
}

// buildRequestBody shapes the request per model family.
func buildRequestBody(req *core.ProviderRequest) (map[string]any, error) {
	modelID := req.Descriptor.ID
	prompt := flattenMessages(req.Messages)

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	var body map[string]any
	switch {
	case strings.HasPrefix(modelID, "anthropic.claude"):
		body = map[string]any{
			"prompt":            fmt.Sprintf("Human: %s\n\nAssistant:", prompt),
			"temperature":       req.Temperature,
			"top_p":             req.TopP,
			"max_tokens":        maxTokens,
			"anthropic_version": "bedrock-2023-05-31",
		}
	case strings.HasPrefix(modelID, "amazon.titan"):
		body = map[string]any{
			"inputText": prompt,
			"textGenerationConfig": map[string]any{
				"temperature":   req.Temperature,
				"topP":          req.TopP,
				"maxTokenCount": maxTokens,
			},
		}
	case strings.HasPrefix(modelID, "ai21"):
		body = map[string]any{
			"prompt":      prompt,
			"temperature": req.Temperature,
			"topP":        req.TopP,
			"maxTokens":   maxTokens,
		}
	default:
		return nil, core.NewInvalidRequestError("bedrock", fmt.Sprintf("unsupported model: %s", modelID), nil)
	}

	if plan := providers.PlanCaching(req); plan.Enabled {
		body["cacheConfig"] = map[string]any{
			"enabled": true,
			"ttl":     int(plan.TTL.Seconds()),
		}
	}

	return body, nil
}

// parseResponse extracts the completion per model family.
func parseResponse(modelID string, body []byte) (content, stopReason string) {
	switch {
	case strings.HasPrefix(modelID, "anthropic.claude"):
		return gjson.GetBytes(body, "completion").Str, gjson.GetBytes(body, "stop_reason").Str
	case strings.HasPrefix(modelID, "amazon.titan"):
		return gjson.GetBytes(body, "results.0.outputText").Str, gjson.GetBytes(body, "results.0.completionReason").Str
	case strings.HasPrefix(modelID, "ai21"):
		return gjson.GetBytes(body, "completions.0.data.text").Str, gjson.GetBytes(body, "completions.0.finishReason.reason").Str
	}
	return "", ""
}

func flattenMessages(messages []core.Message) string {
	var b strings.Builder
	for i, m := range messages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(m.Content)
	}
	return b.String()
}

// HealthCheck verifies the runtime endpoint is reachable. Any HTTP
// response (including auth rejections) proves reachability; only
// transport failures count as unhealthy.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	_, err := a.api.Get(ctx, "/")
	if err != nil && core.TypeOf(err) == core.ErrorTypeInvalidRequest {
		return nil
	}
	return err
}

// Describe returns the descriptors this adapter serves.
func (a *Adapter) Describe() []core.ModelDescriptor {
	return a.models
}

// SetBaseURL points the adapter at a custom endpoint (tests, VPC
// endpoints).
func (a *Adapter) SetBaseURL(url string) {
	a.api.SetBaseURL(url)
}
