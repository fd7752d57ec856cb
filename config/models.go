package config

import "routecache/internal/core"

// DefaultModels returns the built-in descriptor table used when no models
// file is configured. Cache floors and checkpoint ceilings follow the
// providers' published constraints: most Claude-class models require 1024
// prompt tokens before a cache checkpoint applies, Haiku-class models
// 2048, and Bedrock caps checkpoints at 4 per request.
func DefaultModels() []core.ModelDescriptor {
	return []core.ModelDescriptor{
		{
			ID:              "claude-sonnet-4",
			Family:          "anthropic",
			Provider:        "anthropic",
			ContextWindow:   200000,
			SupportsCaching: true,
			MinCacheTokens:  1024,
			MaxCheckpoints:  4,
			CostClass:       3,
			LatencyClass:    2,
		},
		{
			ID:              "claude-haiku-3-5",
			Family:          "anthropic",
			Provider:        "anthropic",
			ContextWindow:   200000,
			SupportsCaching: true,
			MinCacheTokens:  2048,
			MaxCheckpoints:  4,
			CostClass:       1,
			LatencyClass:    1,
		},
		{
			ID:                  "anthropic.claude-3-5-sonnet-20241022-v2:0",
			Family:              "anthropic",
			Provider:            "bedrock",
			Region:              "us-east-1",
			ContextWindow:       200000,
			SupportsCaching:     true,
			SupportsCrossRegion: true,
			MinCacheTokens:      1024,
			MaxCheckpoints:      4,
			CostClass:           3,
			LatencyClass:        2,
		},
		{
			ID:                  "amazon.titan-text-express-v1",
			Family:              "amazon",
			Provider:            "bedrock",
			Region:              "us-east-1",
			ContextWindow:       8000,
			SupportsCrossRegion: true,
			CostClass:           1,
			LatencyClass:        1,
		},
		{
			ID:            "gpt-4o",
			Family:        "openai",
			Provider:      "openai",
			ContextWindow: 128000,
			CostClass:     3,
			LatencyClass:  2,
		},
		{
			ID:            "gpt-4o-mini",
			Family:        "openai",
			Provider:      "openai",
			ContextWindow: 128000,
			CostClass:     1,
			LatencyClass:  1,
		},
		{
			ID:            "llama3.1:8b",
			Family:        "meta",
			Provider:      "ollama",
			ContextWindow: 32000,
			CostClass:     1,
			LatencyClass:  3,
		},
	}
}
