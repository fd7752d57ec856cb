// Package cache implements the tiered response cache: an in-process L1, a
// shared Redis L2, a durable L3, and the orchestrator that probes them in
// order and promotes hits toward the faster tiers.
package cache

import (
	"context"
	"time"
)

// Entry is a cached response payload keyed by request fingerprint.
type Entry struct {
	Fingerprint string        `json:"fingerprint"`
	Payload     []byte        `json:"payload"`
	Model       string        `json:"model"`
	CreatedAt   time.Time     `json:"created_at"`
	TTL         time.Duration `json:"ttl"`

	// Tier records the tier the entry was served from. Empty on freshly
	// stored entries; set by the orchestrator on lookup.
	Tier string `json:"-"`
}

// ExpiresAt returns the absolute expiry time.
func (e *Entry) ExpiresAt() time.Time {
	return e.CreatedAt.Add(e.TTL)
}

// Expired reports whether the entry is past its TTL at the given time.
func (e *Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt())
}

// Tier is a single cache level. Implementations must be safe for
// concurrent use. Get returns (nil, nil) on a miss; expired entries are
// the orchestrator's concern and may still be returned by a tier.
type Tier interface {
	// Name identifies the tier in logs and metrics ("l1", "l2", "l3").
	Name() string

	Get(ctx context.Context, fingerprint string) (*Entry, error)
	Set(ctx context.Context, entry *Entry) error
	Delete(ctx context.Context, fingerprint string) error

	// Close releases any resources held by the tier.
	Close() error
}
