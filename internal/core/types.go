// Package core defines the shared types for the routing and caching layer:
// model descriptors, routing and caching policies, and the request/response
// shapes exchanged between the pipeline, the router, and provider adapters.
package core

import (
	"fmt"
	"time"
)

// RoutingStrategy names a preference ordering over model descriptors.
type RoutingStrategy string

const (
	StrategyBalanced           RoutingStrategy = "balanced"
	StrategyPerformanceFocused RoutingStrategy = "performance_focused"
	StrategyCostFocused        RoutingStrategy = "cost_focused"
)

// ValidRoutingStrategy reports whether s is a recognized routing strategy.
func ValidRoutingStrategy(s RoutingStrategy) bool {
	switch s {
	case StrategyBalanced, StrategyPerformanceFocused, StrategyCostFocused:
		return true
	}
	return false
}

// CacheStrategy controls how aggressively prompt caching directives are
// forwarded to providers.
type CacheStrategy string

const (
	CacheStrategyDefault      CacheStrategy = "default"
	CacheStrategyAggressive   CacheStrategy = "aggressive"
	CacheStrategyConservative CacheStrategy = "conservative"
)

// ValidCacheStrategy reports whether s is a recognized cache strategy.
func ValidCacheStrategy(s CacheStrategy) bool {
	switch s {
	case CacheStrategyDefault, CacheStrategyAggressive, CacheStrategyConservative:
		return true
	}
	return false
}

// ModelDescriptor is the static metadata record for a callable model.
// Descriptors are immutable once loaded; the active set is swapped
// atomically on administrative reload.
type ModelDescriptor struct {
	// ID is the provider-native model identifier (e.g. "claude-sonnet-4").
	ID string `yaml:"id" json:"id"`

	// Family is the provider family ("anthropic", "amazon", "meta", ...).
	Family string `yaml:"family" json:"family"`

	// Provider is the adapter type that serves this model
	// ("anthropic", "bedrock", "openai", "ollama").
	Provider string `yaml:"provider" json:"provider"`

	// Region the model is served from. Empty means region-agnostic.
	Region string `yaml:"region,omitempty" json:"region,omitempty"`

	// ContextWindow is the maximum prompt size in tokens.
	ContextWindow int `yaml:"context_window" json:"context_window"`

	// SupportsCaching indicates native prompt caching on the provider side.
	SupportsCaching bool `yaml:"supports_caching" json:"supports_caching"`

	// SupportsCrossRegion indicates the model may be reached via
	// cross-region inference profiles.
	SupportsCrossRegion bool `yaml:"supports_cross_region" json:"supports_cross_region"`

	// MinCacheTokens is the provider-enforced floor below which prompt
	// caching directives are ignored (e.g. 1024 for most Claude models,
	// 2048 for Haiku-class models on Bedrock).
	MinCacheTokens int `yaml:"min_cache_tokens,omitempty" json:"min_cache_tokens,omitempty"`

	// MaxCheckpoints is the provider-enforced ceiling on prompt cache
	// checkpoints per request (4 on Bedrock).
	MaxCheckpoints int `yaml:"max_checkpoints,omitempty" json:"max_checkpoints,omitempty"`

	// CostClass ranks relative cost, 1 = cheapest.
	CostClass int `yaml:"cost_class" json:"cost_class"`

	// LatencyClass ranks expected latency, 1 = fastest. Used as a prior
	// before observed latency samples exist.
	LatencyClass int `yaml:"latency_class" json:"latency_class"`
}

// Qualified returns "family/id" for logging and comparison.
func (d ModelDescriptor) Qualified() string {
	if d.Family == "" {
		return d.ID
	}
	return d.Family + "/" + d.ID
}

// RoutingPolicy maps request attributes to a preference ordering over
// descriptors. Policies are read-only at request time.
type RoutingPolicy struct {
	Strategy RoutingStrategy

	// Scoring weights. Lower composite score wins.
	CostWeight       float64
	LatencyWeight    float64
	CapabilityWeight float64

	// FamilyFilter restricts candidates to one provider family when set.
	FamilyFilter string

	// CrossRegion widens the candidate set to descriptors in other
	// regions. Only permitted when metrics collection is enabled.
	CrossRegion bool

	// MaxFallbacks bounds the fallback chain length. Zero means all
	// ranked survivors remain eligible.
	MaxFallbacks int
}

// PolicyFor returns the weight set for a named strategy.
func PolicyFor(strategy RoutingStrategy) RoutingPolicy {
	switch strategy {
	case StrategyCostFocused:
		return RoutingPolicy{Strategy: strategy, CostWeight: 3.0, LatencyWeight: 0.5, CapabilityWeight: 1.0}
	case StrategyPerformanceFocused:
		return RoutingPolicy{Strategy: strategy, CostWeight: 0.5, LatencyWeight: 3.0, CapabilityWeight: 1.0}
	default:
		return RoutingPolicy{Strategy: StrategyBalanced, CostWeight: 1.0, LatencyWeight: 1.0, CapabilityWeight: 1.0}
	}
}

// CachingPolicy holds per-request prompt caching parameters. The policy is
// constrained by the target descriptor's capability flags.
type CachingPolicy struct {
	TTL            time.Duration
	MinTokens      int
	MaxCheckpoints int
	Strategy       CacheStrategy
}

// Validate checks the policy against a descriptor's constraints.
// Violations are rejected, never coerced.
func (p CachingPolicy) Validate(d ModelDescriptor) error {
	if !d.SupportsCaching {
		return fmt.Errorf("model %s does not support prompt caching", d.Qualified())
	}
	if d.MinCacheTokens > 0 && p.MinTokens < d.MinCacheTokens {
		return fmt.Errorf("min_tokens %d below model floor %d for %s", p.MinTokens, d.MinCacheTokens, d.Qualified())
	}
	if d.MaxCheckpoints > 0 && p.MaxCheckpoints > d.MaxCheckpoints {
		return fmt.Errorf("max_checkpoints %d above model ceiling %d for %s", p.MaxCheckpoints, d.MaxCheckpoints, d.Qualified())
	}
	return nil
}

// Message is a single turn of a completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the normalized inbound request shape. Only the
// fields that affect the produced completion participate in the cache
// fingerprint; everything else (request IDs, arrival time) lives in the
// request context.
type CompletionRequest struct {
	// Model optionally pins a specific model ID, bypassing policy ranking.
	Model string `json:"model,omitempty"`

	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	TopP        float64   `json:"top_p,omitempty"`
}

// EstimatePromptTokens approximates the prompt size for routing and
// caching-floor decisions. Providers report exact counts after the fact;
// routing only needs the right order of magnitude (~4 bytes per token).
func (r *CompletionRequest) EstimatePromptTokens() int {
	var n int
	for _, m := range r.Messages {
		n += len(m.Role) + len(m.Content)
	}
	return n / 4
}

// Usage reports token consumption as counted by the provider.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// ProviderRequest is the normalized request handed to an adapter after
// routing. Caching is nil when no caching directive should be forwarded.
type ProviderRequest struct {
	Descriptor   ModelDescriptor
	Messages     []Message
	MaxTokens    int
	Temperature  float64
	TopP         float64
	PromptTokens int
	Caching      *CachingPolicy
}

// ProviderResponse is the normalized adapter response.
type ProviderResponse struct {
	Model      string `json:"model"`
	Content    string `json:"content"`
	StopReason string `json:"stop_reason,omitempty"`
	Usage      Usage  `json:"usage"`
	Provider   string `json:"provider,omitempty"`
}
