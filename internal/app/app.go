// Package app assembles the cache tiers, router, provider adapters, and
// HTTP server, and owns their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"routecache/config"
	"routecache/internal/cache"
	"routecache/internal/core"
	"routecache/internal/observability"
	"routecache/internal/pipeline"
	"routecache/internal/providers"
	"routecache/internal/router"
	"routecache/internal/server"
	"routecache/internal/storage"
)

const sweepInterval = time.Minute

// Options carries collaborators the environment cannot provide on its own.
type Options struct {
	// Signer signs Bedrock requests. When nil, Bedrock-backed models are
	// skipped at startup.
	Signer providers.Signer
}

// App holds all initialized components. The caller must call Shutdown to
// release resources.
type App struct {
	config   *config.Config
	store    storage.Storage
	cache    *cache.Orchestrator
	router   *router.Router
	pipeline *pipeline.Pipeline
	server   *server.Server

	sweepStop func()

	shutdownMu sync.Mutex
	shutdown   bool
}

// New wires the application from a validated configuration.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	app := &App{config: cfg}

	// Metrics registry. A nil *observability.Metrics disables recording
	// without branching at every call site.
	var metrics *observability.Metrics
	var registry *prometheus.Registry
	if cfg.Routing.MetricsEnabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector())
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = observability.New(registry)
	}

	// Cache tiers, fastest first.
	tiers := []cache.Tier{cache.NewMemoryTier(cfg.Cache.MemoryCapacity)}

	if cfg.Cache.Enabled && cfg.Cache.RedisURL != "" {
		redisTier, err := cache.NewRedisTier(cache.RedisConfig{URL: cfg.Cache.RedisURL})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize redis tier: %w", err)
		}
		tiers = append(tiers, redisTier)
		slog.Info("redis cache tier enabled")
	}

	if cfg.Cache.Enabled && cfg.StorageEnabled {
		store, err := storage.New(ctx, cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		app.store = store

		durableTier, err := cache.NewDurableTier(ctx, store)
		if err != nil {
			closeErr := store.Close()
			if closeErr != nil {
				return nil, fmt.Errorf("failed to initialize durable tier: %w (also: storage close error: %v)", err, closeErr)
			}
			return nil, fmt.Errorf("failed to initialize durable tier: %w", err)
		}
		app.sweepStop = durableTier.StartSweep(sweepInterval)
		tiers = append(tiers, durableTier)
		slog.Info("durable cache tier enabled", "storage_type", cfg.Storage.Type)
	}

	app.cache = cache.NewOrchestrator(metrics, tiers...)

	// Routing table snapshot.
	app.router = router.New(router.Table{
		Version:     1,
		HomeRegion:  cfg.Routing.HomeRegion,
		Descriptors: cfg.Models,
	}, cfg.Routing.MetricsEnabled)
	app.router.SetCrossRegionSticky(cfg.Routing.CrossRegionSticky)

	// Provider adapters, one per provider named in the descriptor table.
	adapters, err := buildAdapters(cfg, opts.Signer)
	if err != nil {
		closeErr := app.closeCache()
		if closeErr != nil {
			return nil, fmt.Errorf("failed to initialize providers: %w (also: close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize providers: %w", err)
	}
	if len(adapters) == 0 {
		closeErr := app.closeCache()
		if closeErr != nil {
			return nil, fmt.Errorf("no provider adapters could be configured (also: close error: %v)", closeErr)
		}
		return nil, fmt.Errorf("no provider adapters could be configured")
	}

	app.pipeline = pipeline.New(app.cache, app.router, adapters, pipeline.Config{
		CachingEnabled: cfg.Cache.Enabled,
		RoutingEnabled: cfg.Routing.Enabled,
		CachingPolicy:  cfg.Cache.Policy(),
		RoutingPolicy:  cfg.Routing.Policy(),
		InvokeTimeout:  cfg.InvokeTimeout(),
	}, metrics)

	app.logStartupInfo(len(adapters), len(tiers))

	app.server = server.New(app.pipeline, app.router, &server.Config{
		MasterKey:       cfg.Server.MasterKey,
		MetricsEnabled:  cfg.Routing.MetricsEnabled,
		MetricsGatherer: registry,
		BodySizeLimit:   cfg.Server.BodySizeLimit,
		ModelsFile:      cfg.ModelsFile,
	})

	return app, nil
}

// Pipeline exposes the request pipeline for embedding.
func (a *App) Pipeline() *pipeline.Pipeline { return a.pipeline }

// Router exposes the model router for embedding.
func (a *App) Router() *router.Router { return a.router }

// Start starts the HTTP server on the given address.
// This is a blocking call that returns when the server stops.
func (a *App) Start(addr string) error {
	if a.server == nil {
		return fmt.Errorf("server is not initialized")
	}
	slog.Info("starting server", "address", addr)
	if err := a.server.Start(addr); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			slog.Info("server stopped gracefully")
			return nil
		}
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

// Shutdown tears down components in dependency order: the HTTP server stops
// accepting requests, the cache orchestrator drains its async promotion and
// write-behind work, then the storage backend closes. Safe to call more
// than once.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownMu.Lock()
	if a.shutdown {
		a.shutdownMu.Unlock()
		return nil
	}
	a.shutdown = true
	a.shutdownMu.Unlock()

	slog.Info("shutting down application...")

	var errs []error

	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			slog.Error("server shutdown error", "error", err)
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
	}

	if err := a.closeCache(); err != nil {
		slog.Error("cache close error", "error", err)
		errs = append(errs, fmt.Errorf("cache close: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	slog.Info("application shutdown complete")
	return nil
}

// closeCache stops the expiry sweeper, drains the orchestrator, and closes
// the storage backend.
func (a *App) closeCache() error {
	if a.sweepStop != nil {
		a.sweepStop()
		a.sweepStop = nil
	}

	var errs []error
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, err)
		}
		a.store = nil
	}
	return errors.Join(errs...)
}

// buildAdapters creates one adapter per provider present in the descriptor
// table. Providers without usable credentials are skipped with a warning so
// a partially configured environment still serves its remaining models.
func buildAdapters(cfg *config.Config, signer providers.Signer) (map[string]providers.Adapter, error) {
	grouped := make(map[string][]core.ModelDescriptor)
	for _, d := range cfg.Models {
		grouped[d.Provider] = append(grouped[d.Provider], d)
	}

	adapters := make(map[string]providers.Adapter, len(grouped))
	for providerType, models := range grouped {
		pc, ok := providerSettings(cfg, providerType)
		if !ok {
			slog.Warn("descriptor table names unknown provider, skipping", "provider", providerType)
			continue
		}

		adapterCfg := providers.Config{
			Type:    providerType,
			APIKey:  pc.APIKey,
			BaseURL: pc.BaseURL,
			Region:  pc.Region,
			Models:  models,
			Timeout: cfg.InvokeTimeout(),
		}

		switch providerType {
		case "anthropic", "openai":
			if pc.APIKey == "" {
				slog.Warn("provider has no API key, skipping", "provider", providerType, "models", len(models))
				continue
			}
		case "bedrock":
			if signer == nil {
				slog.Warn("no request signer configured, skipping bedrock", "models", len(models))
				continue
			}
			adapterCfg.Signer = signer
		}

		adapter, err := providers.Create(adapterCfg)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", providerType, err)
		}
		adapters[providerType] = adapter
		slog.Info("provider adapter configured", "provider", providerType, "models", len(models))
	}

	return adapters, nil
}

func providerSettings(cfg *config.Config, providerType string) (config.ProviderConfig, bool) {
	switch providerType {
	case "anthropic":
		return cfg.Anthropic, true
	case "openai":
		return cfg.OpenAI, true
	case "bedrock":
		return cfg.Bedrock, true
	case "ollama":
		return cfg.Ollama, true
	}
	return config.ProviderConfig{}, false
}

// logStartupInfo logs the effective configuration on startup.
func (a *App) logStartupInfo(adapterCount, tierCount int) {
	cfg := a.config

	if cfg.Server.MasterKey == "" {
		slog.Warn("ROUTECACHE_MASTER_KEY not set, server accepts unauthenticated requests")
	} else {
		slog.Info("authentication enabled", "mode", "master_key")
	}

	if cfg.Cache.Enabled {
		slog.Info("response caching enabled",
			"tiers", tierCount,
			"ttl_seconds", cfg.Cache.TTLSeconds,
			"strategy", cfg.Cache.Strategy,
		)
	} else {
		slog.Info("response caching disabled")
	}

	if cfg.Routing.Enabled {
		slog.Info("model routing enabled",
			"strategy", cfg.Routing.Strategy,
			"cross_region", cfg.Routing.CrossRegion,
			"models", len(cfg.Models),
			"providers", adapterCount,
		)
	} else {
		slog.Info("model routing disabled, requests must pin a model")
	}

	if cfg.Routing.MetricsEnabled {
		slog.Info("prometheus metrics enabled", "endpoint", "/metrics")
	} else {
		slog.Info("prometheus metrics disabled")
	}
}
