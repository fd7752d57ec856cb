// Package router selects a target model for each request by filtering the
// descriptor table on hard constraints and ranking survivors under the
// active routing policy. It also produces the fallback chain consumed on
// provider failure.
package router

import (
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"routecache/internal/core"
)

// Table is the immutable descriptor snapshot the router works from.
// Administrative reconfiguration builds a new Table and swaps it in
// atomically; in-place mutation is never visible mid-update.
type Table struct {
	Version     int
	HomeRegion  string
	Descriptors []core.ModelDescriptor
}

// Request carries the attributes routing decisions depend on.
type Request struct {
	// Model pins a specific model ID, bypassing policy ranking.
	Model string

	// PromptTokens is the estimated prompt size, checked against each
	// descriptor's context window.
	PromptTokens int

	// RequireCaching makes native prompt caching a hard constraint.
	RequireCaching bool

	// PreferCaching biases ranking toward caching-capable models without
	// excluding the rest.
	PreferCaching bool
}

// Router ranks descriptors under a policy. The descriptor table is
// read-mostly; Reload swaps it atomically.
type Router struct {
	table          atomic.Pointer[Table]
	tracker        *LatencyTracker
	metricsEnabled bool
	sticky         bool
	stickyRegion   atomic.Pointer[string]
}

// New creates a router over the given table. metricsEnabled gates
// cross-region candidate widening: region-hopping decisions need latency
// feedback to avoid oscillation.
func New(table Table, metricsEnabled bool) *Router {
	r := &Router{
		tracker:        NewLatencyTracker(),
		metricsEnabled: metricsEnabled,
	}
	r.table.Store(&table)
	return r
}

// SetCrossRegionSticky controls whether a cross-region selection latches
// its region for subsequent requests. The latch clears on Reload. Must be
// called before the router starts serving selections.
func (r *Router) SetCrossRegionSticky(enabled bool) {
	r.sticky = enabled
}

// Reload atomically replaces the descriptor table and clears any latched
// cross-region preference.
func (r *Router) Reload(table Table) {
	r.table.Store(&table)
	r.stickyRegion.Store(nil)
	slog.Info("descriptor table reloaded",
		"version", table.Version,
		"models", len(table.Descriptors),
	)
}

// Snapshot returns the current descriptor table.
func (r *Router) Snapshot() Table {
	return *r.table.Load()
}

// Observe feeds one invocation latency into the tracker.
func (r *Router) Observe(modelID string, elapsed time.Duration) {
	r.tracker.Observe(modelID, elapsed)
}

// Select returns the best descriptor for the request under the policy,
// plus the fallback chain of remaining ranked candidates.
func (r *Router) Select(req Request, policy core.RoutingPolicy) (core.ModelDescriptor, []core.ModelDescriptor, error) {
	table := r.table.Load()

	if policy.CrossRegion && !r.metricsEnabled {
		return core.ModelDescriptor{}, nil, &core.RouteError{
			Type:    core.ErrorTypeValidation,
			Message: "cross-region routing requires metrics collection",
		}
	}

	candidates := r.filter(table, req, policy)
	if len(candidates) == 0 {
		if req.Model != "" {
			return core.ModelDescriptor{}, nil, core.NewInvalidRequestError("", fmt.Sprintf("no eligible provider for model %q", req.Model), nil)
		}
		return core.ModelDescriptor{}, nil, core.NewInvalidRequestError("", "no model satisfies the request constraints", nil)
	}

	ranked := r.rank(candidates, req, policy)
	if r.sticky && policy.CrossRegion && req.Model == "" {
		ranked = r.applySticky(ranked, table.HomeRegion)
	}

	chain := ranked[1:]
	if policy.MaxFallbacks > 0 && len(chain) > policy.MaxFallbacks {
		chain = chain[:policy.MaxFallbacks]
	}
	return ranked[0], chain, nil
}

// NextFallback returns the next candidate after current in the chain, or
// false when the chain is exhausted.
func NextFallback(current core.ModelDescriptor, chain []core.ModelDescriptor) (core.ModelDescriptor, bool) {
	for i, d := range chain {
		if d.ID == current.ID && d.Region == current.Region {
			if i+1 < len(chain) {
				return chain[i+1], true
			}
			return core.ModelDescriptor{}, false
		}
	}
	// current was the primary selection; the chain starts after it.
	if len(chain) > 0 {
		return chain[0], true
	}
	return core.ModelDescriptor{}, false
}

// applySticky moves the best candidate in the latched region to the front
// of the ranking, then latches the winner's region when it is outside the
// home region.
func (r *Router) applySticky(ranked []core.ModelDescriptor, home string) []core.ModelDescriptor {
	if region := r.stickyRegion.Load(); region != nil {
		for i, d := range ranked {
			if d.Region != *region {
				continue
			}
			if i > 0 {
				copy(ranked[1:i+1], ranked[:i])
				ranked[0] = d
			}
			break
		}
	}
	if pick := ranked[0]; !inRegion(pick, home) {
		region := pick.Region
		r.stickyRegion.Store(&region)
	}
	return ranked
}

// filter applies the hard constraints: explicit model pin, family filter,
// context length sufficiency, capability requirements, and region.
func (r *Router) filter(table *Table, req Request, policy core.RoutingPolicy) []core.ModelDescriptor {
	out := make([]core.ModelDescriptor, 0, len(table.Descriptors))
	for _, d := range table.Descriptors {
		if req.Model != "" && d.ID != req.Model {
			continue
		}
		if policy.FamilyFilter != "" && d.Family != policy.FamilyFilter {
			continue
		}
		if req.PromptTokens > 0 && d.ContextWindow > 0 && req.PromptTokens > d.ContextWindow {
			continue
		}
		if req.RequireCaching && !d.SupportsCaching {
			continue
		}
		if !inRegion(d, table.HomeRegion) {
			if !policy.CrossRegion || !d.SupportsCrossRegion {
				continue
			}
		}
		out = append(out, d)
	}
	return out
}

func inRegion(d core.ModelDescriptor, home string) bool {
	return d.Region == "" || home == "" || d.Region == home
}

// rank sorts candidates by composite score (lower wins) with the
// deterministic tie-break: cost class, then observed p95, then lexical
// model ID. Under the cost-focused strategy cost class is the primary
// key, so observed latency only orders models within a cost class.
func (r *Router) rank(candidates []core.ModelDescriptor, req Request, policy core.RoutingPolicy) []core.ModelDescriptor {
	type scored struct {
		d     core.ModelDescriptor
		score float64
		p95   float64
	}

	items := make([]scored, len(candidates))
	for i, d := range candidates {
		lat := r.latencyScore(d)
		items[i] = scored{d: d, score: r.score(d, req, policy, lat), p95: lat}
	}

	sort.Slice(items, func(i, j int) bool {
		const epsilon = 1e-9
		a, b := items[i], items[j]
		if policy.Strategy == core.StrategyCostFocused && a.d.CostClass != b.d.CostClass {
			return a.d.CostClass < b.d.CostClass
		}
		if diff := a.score - b.score; diff < -epsilon || diff > epsilon {
			return a.score < b.score
		}
		if a.d.CostClass != b.d.CostClass {
			return a.d.CostClass < b.d.CostClass
		}
		if a.p95 != b.p95 {
			return a.p95 < b.p95
		}
		return a.d.ID < b.d.ID
	})

	out := make([]core.ModelDescriptor, len(items))
	for i, it := range items {
		out[i] = it.d
	}
	return out
}

// latencyScore returns the observed p95 in seconds, falling back to the
// descriptor's static latency class (scaled to roughly half-second steps)
// before any samples exist.
func (r *Router) latencyScore(d core.ModelDescriptor) float64 {
	if p95, ok := r.tracker.P95(d.ID); ok {
		return p95.Seconds()
	}
	return float64(d.LatencyClass) * 0.5
}

func (r *Router) score(d core.ModelDescriptor, req Request, policy core.RoutingPolicy, latency float64) float64 {
	var capPenalty float64
	if req.PreferCaching && !d.SupportsCaching {
		capPenalty = 1.0
	}
	return policy.CostWeight*float64(d.CostClass) +
		policy.LatencyWeight*latency +
		policy.CapabilityWeight*capPenalty
}
