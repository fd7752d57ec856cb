package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"routecache/internal/core"
	"routecache/internal/observability"
)

// promotionTimeout bounds the detached write-through after a lower-tier
// hit so a slow tier cannot pin goroutines indefinitely.
const promotionTimeout = 10 * time.Second

// Orchestrator is the single entry point to the tiered cache. It probes
// tiers in order, promotes hits toward the faster tiers, and serializes
// provider calls per fingerprint through its in-flight table.
//
// Tier failures never fail a request: a broken tier degrades to the next
// one, and a miss at all tiers is simply a miss.
type Orchestrator struct {
	tiers   []Tier // fastest first
	metrics *observability.Metrics

	mu       sync.Mutex
	inflight map[string]*call

	// async tracks detached promotion and write-behind goroutines so
	// Close can drain them.
	async sync.WaitGroup
}

type call struct {
	done  chan struct{}
	entry *Entry
	err   error
}

// NewOrchestrator creates an orchestrator over the given tiers, fastest
// first. Metrics may be nil.
func NewOrchestrator(metrics *observability.Metrics, tiers ...Tier) *Orchestrator {
	return &Orchestrator{
		tiers:    tiers,
		metrics:  metrics,
		inflight: make(map[string]*call),
	}
}

// Lookup probes tiers in order and returns the first unexpired entry. A
// hit at a slower tier triggers an asynchronous promotion into all faster
// tiers before returning; promotion failures are logged, never blocking.
// The second return value is false on a miss at every tier.
func (o *Orchestrator) Lookup(ctx context.Context, fingerprint string) (*Entry, bool) {
	now := time.Now()

	for i, tier := range o.tiers {
		entry, err := tier.Get(ctx, fingerprint)
		if err != nil {
			o.metrics.CacheTierError(tier.Name())
			slog.Warn("cache tier lookup failed, degrading",
				"tier", tier.Name(),
				"fingerprint", fingerprint,
				"error", core.NewCacheUnavailableError(tier.Name(), err),
			)
			continue
		}
		if entry == nil {
			continue
		}
		if entry.Expired(now) {
			// Stale entries are never returned; drop lazily.
			_ = tier.Delete(ctx, fingerprint)
			continue
		}

		entry.Tier = tier.Name()
		o.metrics.CacheHit(tier.Name())
		if i > 0 {
			faster := o.tiers[:i]
			o.async.Add(1)
			go func() {
				defer o.async.Done()
				o.promote(entry, faster)
			}()
		}
		return entry, true
	}

	o.metrics.CacheMiss()
	return nil, false
}

// promote writes the entry through all faster tiers. Set is idempotent,
// so a promotion racing a concurrent eviction just restores the entry.
func (o *Orchestrator) promote(entry *Entry, faster []Tier) {
	ctx, cancel := context.WithTimeout(context.Background(), promotionTimeout)
	defer cancel()

	for _, tier := range faster {
		if err := tier.Set(ctx, entry); err != nil {
			o.metrics.CacheTierError(tier.Name())
			slog.Warn("cache promotion failed",
				"tier", tier.Name(),
				"fingerprint", entry.Fingerprint,
				"error", err,
			)
			continue
		}
		o.metrics.CachePromotion(tier.Name())
	}
}

// Store writes the entry to the fastest tier synchronously; writes to the
// slower tiers are detached and best-effort, since they are optimizations
// rather than correctness-critical.
func (o *Orchestrator) Store(ctx context.Context, entry *Entry) error {
	if len(o.tiers) == 0 {
		return nil
	}

	if err := o.tiers[0].Set(ctx, entry); err != nil {
		o.metrics.CacheTierError(o.tiers[0].Name())
		return core.NewCacheUnavailableError(o.tiers[0].Name(), err)
	}

	if len(o.tiers) > 1 {
		o.async.Add(1)
		go func(slower []Tier) {
			defer o.async.Done()
			wctx, cancel := context.WithTimeout(context.Background(), promotionTimeout)
			defer cancel()
			for _, tier := range slower {
				if err := tier.Set(wctx, entry); err != nil {
					o.metrics.CacheTierError(tier.Name())
					slog.Warn("cache write-behind failed",
						"tier", tier.Name(),
						"fingerprint", entry.Fingerprint,
						"error", err,
					)
				}
			}
		}(o.tiers[1:])
	}

	return nil
}

// Do runs fn under the fingerprint's in-flight slot: at most one fn runs
// per fingerprint system-wide. Concurrent callers for the same
// fingerprint wait for the running call's result instead of issuing a
// duplicate. A waiter whose context is cancelled abandons the wait; the
// shared call continues to completion for the remaining waiters.
func (o *Orchestrator) Do(ctx context.Context, fingerprint string, fn func(context.Context) (*Entry, error)) (*Entry, error) {
	o.mu.Lock()
	if c, ok := o.inflight[fingerprint]; ok {
		o.mu.Unlock()
		select {
		case <-c.done:
			return c.entry, c.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c := &call{done: make(chan struct{})}
	o.inflight[fingerprint] = c
	o.mu.Unlock()

	c.entry, c.err = fn(ctx)

	o.mu.Lock()
	delete(o.inflight, fingerprint)
	o.mu.Unlock()
	close(c.done)

	return c.entry, c.err
}

// Close drains in-flight async writes and closes all tiers, fastest first.
func (o *Orchestrator) Close() error {
	o.async.Wait()

	var firstErr error
	for _, tier := range o.tiers {
		if err := tier.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
