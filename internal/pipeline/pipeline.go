// Package pipeline composes the cache orchestrator, the model router, and
// the provider adapters into the per-request state machine:
//
//	Received → CacheLookup → {CacheHit → Respond}
//	                       | {CacheMiss → RouteSelect → ProviderInvoke
//	                          → {Success → CacheStore → Respond}
//	                          | {Failure → FallbackCheck → (ProviderInvoke | TerminalFailure)}}
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"routecache/internal/cache"
	"routecache/internal/core"
	"routecache/internal/observability"
	"routecache/internal/providers"
	"routecache/internal/router"
)

// State names a pipeline stage for transition logging.
type State string

const (
	StateReceived        State = "received"
	StateCacheLookup     State = "cache_lookup"
	StateCacheHit        State = "cache_hit"
	StateCacheMiss       State = "cache_miss"
	StateRouteSelect     State = "route_select"
	StateProviderInvoke  State = "provider_invoke"
	StateCacheStore      State = "cache_store"
	StateFallbackCheck   State = "fallback_check"
	StateRespond         State = "respond"
	StateTerminalFailure State = "terminal_failure"
)

// DefaultInvokeTimeout bounds a single provider invocation.
const DefaultInvokeTimeout = 120 * time.Second

// Config holds the per-pipeline policies, fixed at construction and
// replaced wholesale on administrative reconfiguration.
type Config struct {
	CachingEnabled bool
	RoutingEnabled bool
	CachingPolicy  core.CachingPolicy
	RoutingPolicy  core.RoutingPolicy
	InvokeTimeout  time.Duration
}

// Result is the terminal output of a successful pipeline run.
type Result struct {
	Response    *core.ProviderResponse
	Fingerprint string
	FromCache   bool
	CacheTier   string
}

// Pipeline is safe for concurrent use; each request runs independently
// except for the per-fingerprint single-flight constraint enforced by the
// cache orchestrator.
type Pipeline struct {
	cache    *cache.Orchestrator
	router   *router.Router
	adapters map[string]providers.Adapter // keyed by provider type
	cfg      Config
	metrics  *observability.Metrics
}

// New creates a pipeline. Metrics may be nil.
func New(orch *cache.Orchestrator, rt *router.Router, adapters map[string]providers.Adapter, cfg Config, metrics *observability.Metrics) *Pipeline {
	if cfg.InvokeTimeout <= 0 {
		cfg.InvokeTimeout = DefaultInvokeTimeout
	}
	return &Pipeline{
		cache:    orch,
		router:   rt,
		adapters: adapters,
		cfg:      cfg,
		metrics:  metrics,
	}
}

// Handle runs one request through the state machine.
func (p *Pipeline) Handle(ctx context.Context, req *core.CompletionRequest) (*Result, error) {
	ctx = core.EnsureRequestID(ctx)
	fingerprint := core.Fingerprint(req)
	started := time.Now()

	p.transition(ctx, fingerprint, StateReceived, "model", req.Model)

	if !p.cfg.RoutingEnabled && req.Model == "" {
		return nil, &core.RouteError{
			Type:    core.ErrorTypeValidation,
			Message: "routing is disabled: requests must name a model",
		}
	}

	if !p.cfg.CachingEnabled {
		resp, err := p.routeAndInvoke(ctx, fingerprint, req)
		if err != nil {
			p.metrics.PipelineResult(string(StateTerminalFailure))
			return nil, err
		}
		p.metrics.PipelineResult(string(StateRespond))
		p.transition(ctx, fingerprint, StateRespond,
			"model", resp.Model, "cached", false, "elapsed", time.Since(started))
		return &Result{Response: resp, Fingerprint: fingerprint}, nil
	}

	entry, err := p.cache.Do(ctx, fingerprint, func(callCtx context.Context) (*cache.Entry, error) {
		return p.lookupOrInvoke(callCtx, fingerprint, req)
	})
	if err != nil {
		p.metrics.PipelineResult(string(StateTerminalFailure))
		return nil, err
	}

	var resp core.ProviderResponse
	if err := json.Unmarshal(entry.Payload, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode cached response for %s: %w", fingerprint, err)
	}

	p.metrics.PipelineResult(string(StateRespond))
	p.transition(ctx, fingerprint, StateRespond,
		"model", resp.Model, "cached", entry.Tier != "", "tier", entry.Tier, "elapsed", time.Since(started))

	return &Result{
		Response:    &resp,
		Fingerprint: fingerprint,
		FromCache:   entry.Tier != "",
		CacheTier:   entry.Tier,
	}, nil
}

// lookupOrInvoke is the body of the single-flight slot: concurrent
// requests for the same fingerprint collapse into one execution.
func (p *Pipeline) lookupOrInvoke(ctx context.Context, fingerprint string, req *core.CompletionRequest) (*cache.Entry, error) {
	p.transition(ctx, fingerprint, StateCacheLookup)

	if entry, ok := p.cache.Lookup(ctx, fingerprint); ok {
		p.transition(ctx, fingerprint, StateCacheHit, "tier", entry.Tier)
		return entry, nil
	}
	p.transition(ctx, fingerprint, StateCacheMiss)

	resp, err := p.routeAndInvoke(ctx, fingerprint, req)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to encode response for caching: %w", err)
	}

	entry := &cache.Entry{
		Fingerprint: fingerprint,
		Payload:     payload,
		Model:       resp.Model,
		CreatedAt:   time.Now().UTC(),
		TTL:         p.cfg.CachingPolicy.TTL,
	}

	p.transition(ctx, fingerprint, StateCacheStore, "model", resp.Model, "ttl", entry.TTL)
	if err := p.cache.Store(ctx, entry); err != nil {
		// Cache trouble never fails the request.
		slog.Warn("failed to store response in cache",
			"fingerprint", fingerprint, "error", err)
	}
	return entry, nil
}

// routeAndInvoke walks the fallback chain until a provider succeeds or
// the chain is exhausted.
func (p *Pipeline) routeAndInvoke(ctx context.Context, fingerprint string, req *core.CompletionRequest) (*core.ProviderResponse, error) {
	routeReq := router.Request{
		Model:         req.Model,
		PromptTokens:  req.EstimatePromptTokens(),
		PreferCaching: p.cfg.CachingEnabled,
	}

	p.transition(ctx, fingerprint, StateRouteSelect, "strategy", p.cfg.RoutingPolicy.Strategy)
	current, chain, err := p.router.Select(routeReq, p.cfg.RoutingPolicy)
	if err != nil {
		return nil, err
	}

	var caching *core.CachingPolicy
	if p.cfg.CachingEnabled {
		policy := p.cfg.CachingPolicy
		caching = &policy
	}

	attempts := 0
	var lastErr error
	for {
		attempts++
		resp, err := p.invokeOne(ctx, fingerprint, current, routeReq.PromptTokens, req, caching)
		if err == nil {
			return resp, nil
		}
		if !core.TriggersFallback(core.TypeOf(err)) {
			return nil, err
		}
		lastErr = err

		p.transition(ctx, fingerprint, StateFallbackCheck,
			"failed_model", current.ID, "error_type", core.TypeOf(err))
		p.metrics.Fallback(current.Provider)

		next, ok := router.NextFallback(current, chain)
		if !ok {
			p.transition(ctx, fingerprint, StateTerminalFailure,
				"attempts", attempts, "last_error", lastErr)
			return nil, &core.TerminalError{Attempts: attempts, LastErr: lastErr}
		}
		current = next
	}
}

// invokeOne calls a single provider. The invocation context is detached
// from the caller's cancellation: a client disconnect must not abort a
// call other waiters on the same fingerprint share. The per-call timeout
// still bounds it.
func (p *Pipeline) invokeOne(ctx context.Context, fingerprint string, d core.ModelDescriptor, promptTokens int, req *core.CompletionRequest, caching *core.CachingPolicy) (*core.ProviderResponse, error) {
	adapter, ok := p.adapters[d.Provider]
	if !ok {
		return nil, core.NewInternalError(d.Provider, fmt.Sprintf("no adapter registered for provider %q", d.Provider), nil)
	}

	p.transition(ctx, fingerprint, StateProviderInvoke, "model", d.ID, "provider", d.Provider)

	invokeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.InvokeTimeout)
	defer cancel()

	started := time.Now()
	resp, err := adapter.Invoke(invokeCtx, &core.ProviderRequest{
		Descriptor:   d,
		Messages:     req.Messages,
		MaxTokens:    req.MaxTokens,
		Temperature:  req.Temperature,
		TopP:         req.TopP,
		PromptTokens: promptTokens,
		Caching:      caching,
	})
	elapsed := time.Since(started)
	p.router.Observe(d.ID, elapsed)

	if err != nil {
		p.metrics.ProviderRequest(d.Provider, string(core.TypeOf(err)), elapsed)
		return nil, err
	}
	p.metrics.ProviderRequest(d.Provider, "success", elapsed)

	if resp.Model == "" {
		resp.Model = d.ID
	}
	if resp.Provider == "" {
		resp.Provider = d.Provider
	}
	return resp, nil
}

func (p *Pipeline) transition(ctx context.Context, fingerprint string, state State, attrs ...any) {
	args := append([]any{
		"request_id", core.GetRequestID(ctx),
		"fingerprint", fingerprint,
		"state", state,
	}, attrs...)
	slog.Debug("pipeline transition", args...)
}
