package providers

import (
	"time"

	"routecache/internal/core"
)

// CachePlan is the resolved prompt-caching directive for one invocation.
// Requests below a model's token floor proceed without caching rather
// than failing.
type CachePlan struct {
	Enabled     bool
	TTL         time.Duration
	Checkpoints int
}

// PlanCaching reconciles the request's caching policy with the target
// descriptor's constraints.
func PlanCaching(req *core.ProviderRequest) CachePlan {
	policy := req.Caching
	d := req.Descriptor

	if policy == nil || !d.SupportsCaching {
		return CachePlan{}
	}

	floor := policy.MinTokens
	if d.MinCacheTokens > floor {
		floor = d.MinCacheTokens
	}
	if floor > 0 && req.PromptTokens < floor {
		return CachePlan{}
	}

	checkpoints := policy.MaxCheckpoints
	switch policy.Strategy {
	case core.CacheStrategyConservative:
		checkpoints = 1
	case core.CacheStrategyAggressive:
		if d.MaxCheckpoints > 0 {
			checkpoints = d.MaxCheckpoints
		}
	}
	if d.MaxCheckpoints > 0 && checkpoints > d.MaxCheckpoints {
		checkpoints = d.MaxCheckpoints
	}
	if checkpoints < 1 {
		checkpoints = 1
	}

	return CachePlan{
		Enabled:     true,
		TTL:         policy.TTL,
		Checkpoints: checkpoints,
	}
}
