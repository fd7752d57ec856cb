// Package providers defines the adapter contract that normalizes
// heterogeneous model backends behind one capability set, and the factory
// through which adapter packages register themselves.
package providers

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"routecache/internal/core"
)

// Adapter is the single capability set every provider implements. New
// providers are added by implementing this set and registering a builder;
// the router and orchestrator never change.
type Adapter interface {
	// Invoke executes one completion request against the backend.
	// Provider-specific failures are normalized into the core error
	// taxonomy before being returned.
	Invoke(ctx context.Context, req *core.ProviderRequest) (*core.ProviderResponse, error)

	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error

	// Describe returns the model descriptors this adapter serves.
	Describe() []core.ModelDescriptor
}

// Signer signs an outbound request with externally resolved credentials.
// Credential resolution (static keys, profiles, role assumption, federated
// tokens) belongs to the auth subsystem; adapters only apply its output.
type Signer interface {
	Sign(req *http.Request) error
}

// Config carries everything a builder needs to construct an adapter.
type Config struct {
	// Type selects the registered builder ("anthropic", "bedrock", ...).
	Type string

	APIKey  string
	BaseURL string
	Region  string

	// Models are the descriptors this adapter instance serves.
	Models []core.ModelDescriptor

	// Timeout bounds each provider invocation.
	Timeout time.Duration

	// HTTPClient overrides the default transport (used by tests).
	HTTPClient *http.Client

	// Signer is required by adapters that sign requests (bedrock).
	Signer Signer
}

// Builder creates an adapter instance from configuration.
type Builder func(cfg Config) (Adapter, error)

// registry holds all registered adapter builders.
var registry = make(map[string]Builder)

// Register is called from adapter package init() functions.
func Register(providerType string, builder Builder) {
	registry[providerType] = builder
}

// Create instantiates an adapter based on configuration.
func Create(cfg Config) (Adapter, error) {
	builder, ok := registry[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("unknown provider type: %s", cfg.Type)
	}
	return builder(cfg)
}

// ListRegistered returns all registered provider types, sorted.
func ListRegistered() []string {
	types := make([]string, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
