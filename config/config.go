// Package config loads and validates the application configuration from
// the environment (optionally seeded by a .env file) and the model
// descriptor YAML.
//
// Validation rejects bad configuration outright instead of coercing it:
// callers receive the full list of field errors at once.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"routecache/internal/core"
	"routecache/internal/storage"
)

// TTL bounds accepted by the configuration surface.
const (
	MinCacheTTLSeconds = 60
	MaxCacheTTLSeconds = 3600
)

// DefaultBodySizeLimit caps request bodies at 10MB.
const DefaultBodySizeLimit int64 = 10 << 20

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port          string
	MasterKey     string
	BodySizeLimit int64
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // text (tint) or json
}

// CacheConfig holds the tiered cache settings.
type CacheConfig struct {
	Enabled        bool
	TTLSeconds     int
	MinTokens      int
	MaxCheckpoints int
	Strategy       core.CacheStrategy
	MemoryCapacity int
	RedisURL       string // empty disables the L2 tier
}

// TTL returns the configured TTL as a duration.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// Policy converts the configuration into a caching policy.
func (c CacheConfig) Policy() core.CachingPolicy {
	return core.CachingPolicy{
		TTL:            c.TTL(),
		MinTokens:      c.MinTokens,
		MaxCheckpoints: c.MaxCheckpoints,
		Strategy:       c.Strategy,
	}
}

// RoutingConfig holds the model routing settings.
type RoutingConfig struct {
	Enabled           bool
	Strategy          core.RoutingStrategy
	ModelFamily       string
	CrossRegion       bool
	CrossRegionSticky bool
	MetricsEnabled    bool
	HomeRegion        string
	MaxFallbacks      int
}

// Policy converts the configuration into a routing policy.
func (c RoutingConfig) Policy() core.RoutingPolicy {
	policy := core.PolicyFor(c.Strategy)
	policy.FamilyFilter = c.ModelFamily
	policy.CrossRegion = c.CrossRegion
	policy.MaxFallbacks = c.MaxFallbacks
	return policy
}

// ProviderConfig holds per-provider connection settings.
type ProviderConfig struct {
	APIKey  string
	BaseURL string
	Region  string
}

// Config is the full application configuration.
type Config struct {
	Server  ServerConfig
	Log     LogConfig
	Cache   CacheConfig
	Routing RoutingConfig

	// StorageEnabled controls the durable L3 tier.
	StorageEnabled bool
	Storage        storage.Config

	Anthropic ProviderConfig
	OpenAI    ProviderConfig
	Bedrock   ProviderConfig
	Ollama    ProviderConfig

	InvokeTimeoutSeconds int

	// Models is the descriptor table, loaded from ModelsFile or the
	// built-in defaults.
	ModelsFile string
	Models     []core.ModelDescriptor
}

// InvokeTimeout returns the provider invocation timeout.
func (c *Config) InvokeTimeout() time.Duration {
	return time.Duration(c.InvokeTimeoutSeconds) * time.Second
}

// Load reads configuration from the environment. A .env file in the
// working directory is loaded first when present.
func Load() (*Config, error) {
	_ = godotenv.Load() // optional, ignore missing file

	cfg := &Config{
		Server: ServerConfig{
			Port:          getEnv("ROUTECACHE_PORT", "8080"),
			MasterKey:     os.Getenv("ROUTECACHE_MASTER_KEY"),
			BodySizeLimit: DefaultBodySizeLimit,
		},
		Log: LogConfig{
			Level:  getEnv("ROUTECACHE_LOG_LEVEL", "info"),
			Format: getEnv("ROUTECACHE_LOG_FORMAT", "text"),
		},
		Cache: CacheConfig{
			Enabled:        getBool("ROUTECACHE_ENABLE_CACHING", true),
			TTLSeconds:     getInt("ROUTECACHE_CACHE_TTL_SECONDS", 300),
			MinTokens:      getInt("ROUTECACHE_CACHE_MIN_TOKENS", 1024),
			MaxCheckpoints: getInt("ROUTECACHE_CACHE_MAX_CHECKPOINTS", 1),
			Strategy:       core.CacheStrategy(getEnv("ROUTECACHE_CACHE_STRATEGY", string(core.CacheStrategyDefault))),
			MemoryCapacity: getInt("ROUTECACHE_CACHE_MEMORY_CAPACITY", 1024),
			RedisURL:       os.Getenv("ROUTECACHE_REDIS_URL"),
		},
		Routing: RoutingConfig{
			Enabled:           getBool("ROUTECACHE_ENABLE_ROUTING", true),
			Strategy:          core.RoutingStrategy(getEnv("ROUTECACHE_ROUTING_STRATEGY", string(core.StrategyBalanced))),
			ModelFamily:       os.Getenv("ROUTECACHE_ROUTING_MODEL_FAMILY"),
			CrossRegion:       getBool("ROUTECACHE_ROUTING_CROSS_REGION", false),
			CrossRegionSticky: getBool("ROUTECACHE_ROUTING_CROSS_REGION_STICKY", false),
			MetricsEnabled:    getBool("ROUTECACHE_ROUTING_METRICS_ENABLED", true),
			HomeRegion:        os.Getenv("ROUTECACHE_HOME_REGION"),
			MaxFallbacks:      getInt("ROUTECACHE_ROUTING_MAX_FALLBACKS", 3),
		},
		Anthropic: ProviderConfig{
			APIKey:  os.Getenv("ANTHROPIC_API_KEY"),
			BaseURL: os.Getenv("ROUTECACHE_ANTHROPIC_BASE_URL"),
		},
		OpenAI: ProviderConfig{
			APIKey:  os.Getenv("OPENAI_API_KEY"),
			BaseURL: os.Getenv("ROUTECACHE_OPENAI_BASE_URL"),
		},
		Bedrock: ProviderConfig{
			Region:  os.Getenv("ROUTECACHE_BEDROCK_REGION"),
			BaseURL: os.Getenv("ROUTECACHE_BEDROCK_BASE_URL"),
		},
		Ollama: ProviderConfig{
			BaseURL: os.Getenv("ROUTECACHE_OLLAMA_URL"),
		},
		InvokeTimeoutSeconds: getInt("ROUTECACHE_INVOKE_TIMEOUT_SECONDS", 120),
		ModelsFile:           os.Getenv("ROUTECACHE_MODELS_FILE"),
	}

	storageType := os.Getenv("ROUTECACHE_STORAGE_TYPE")
	if storageType != "" {
		cfg.StorageEnabled = true
		cfg.Storage = storage.Config{
			Type: storageType,
			SQLite: storage.SQLiteConfig{
				Path: getEnv("ROUTECACHE_SQLITE_PATH", "data/routecache.db"),
			},
			PostgreSQL: storage.PostgreSQLConfig{
				URL:      os.Getenv("ROUTECACHE_POSTGRES_URL"),
				MaxConns: getInt("ROUTECACHE_POSTGRES_MAX_CONNS", 10),
			},
			MongoDB: storage.MongoDBConfig{
				URL:      os.Getenv("ROUTECACHE_MONGODB_URL"),
				Database: getEnv("ROUTECACHE_MONGODB_DATABASE", "routecache"),
			},
		}
	}

	if cfg.ModelsFile != "" {
		models, err := LoadModels(cfg.ModelsFile)
		if err != nil {
			return nil, err
		}
		cfg.Models = models
	} else {
		cfg.Models = DefaultModels()
	}

	return cfg, nil
}

// modelsFile is the YAML shape of the descriptor table.
type modelsFile struct {
	Version int                    `yaml:"version"`
	Models  []core.ModelDescriptor `yaml:"models"`
}

// LoadModels reads a descriptor table from a YAML file.
func LoadModels(path string) ([]core.ModelDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read models file: %w", err)
	}

	var f modelsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse models file: %w", err)
	}
	if len(f.Models) == 0 {
		return nil, fmt.Errorf("models file %s declares no models", path)
	}
	return f.Models, nil
}

// Validate checks the configuration against the descriptor table.
// Returns nil when the configuration is acceptable.
func Validate(cfg *Config) core.ValidationErrors {
	var errs core.ValidationErrors

	if cfg.Cache.Enabled {
		if cfg.Cache.TTLSeconds < MinCacheTTLSeconds || cfg.Cache.TTLSeconds > MaxCacheTTLSeconds {
			errs = append(errs, core.FieldError{
				Field:   "cache_ttl_seconds",
				Message: fmt.Sprintf("must be between %d and %d, got %d", MinCacheTTLSeconds, MaxCacheTTLSeconds, cfg.Cache.TTLSeconds),
			})
		}
		if !core.ValidCacheStrategy(cfg.Cache.Strategy) {
			errs = append(errs, core.FieldError{
				Field:   "cache_strategy",
				Message: fmt.Sprintf("unknown strategy %q (valid: default, aggressive, conservative)", cfg.Cache.Strategy),
			})
		}

		// Per-model constraint misses are not errors: planning skips a
		// model whose floor or ceiling the policy cannot meet. Rejected
		// only when no caching-capable model could ever accept the policy.
		capable := 0
		floorMet := false
		ceilingMet := false
		lowestFloor := 0
		highestCeiling := 0
		for _, d := range candidates(cfg) {
			if !d.SupportsCaching {
				continue
			}
			capable++
			if d.MinCacheTokens <= 0 || cfg.Cache.MinTokens >= d.MinCacheTokens {
				floorMet = true
			} else if lowestFloor == 0 || d.MinCacheTokens < lowestFloor {
				lowestFloor = d.MinCacheTokens
			}
			if d.MaxCheckpoints <= 0 || cfg.Cache.MaxCheckpoints <= d.MaxCheckpoints {
				ceilingMet = true
			} else if d.MaxCheckpoints > highestCeiling {
				highestCeiling = d.MaxCheckpoints
			}
		}
		if capable == 0 {
			errs = append(errs, core.FieldError{
				Field:   "enable_caching",
				Message: "no candidate model supports caching",
			})
		} else {
			if !floorMet {
				errs = append(errs, core.FieldError{
					Field:   "cache_min_tokens",
					Message: fmt.Sprintf("%d is below the floor of every caching-capable model (lowest floor %d)", cfg.Cache.MinTokens, lowestFloor),
				})
			}
			if !ceilingMet {
				errs = append(errs, core.FieldError{
					Field:   "cache_max_checkpoints",
					Message: fmt.Sprintf("%d exceeds the ceiling of every caching-capable model (highest ceiling %d)", cfg.Cache.MaxCheckpoints, highestCeiling),
				})
			}
		}
	}

	if cfg.Routing.Enabled {
		if !core.ValidRoutingStrategy(cfg.Routing.Strategy) {
			errs = append(errs, core.FieldError{
				Field:   "routing_strategy",
				Message: fmt.Sprintf("unknown strategy %q (valid: balanced, performance_focused, cost_focused)", cfg.Routing.Strategy),
			})
		}
		if len(candidates(cfg)) == 0 {
			errs = append(errs, core.FieldError{
				Field:   "routing_model_family",
				Message: fmt.Sprintf("no models available for family %q", cfg.Routing.ModelFamily),
			})
		}
	}

	if cfg.Routing.CrossRegion && !cfg.Routing.MetricsEnabled {
		errs = append(errs, core.FieldError{
			Field:   "routing_cross_region",
			Message: "cross-region routing requires routing_metrics_enabled=true",
		})
	}

	return errs
}

// candidates returns the descriptor set after the family filter.
func candidates(cfg *Config) []core.ModelDescriptor {
	if cfg.Routing.ModelFamily == "" {
		return cfg.Models
	}
	out := make([]core.ModelDescriptor, 0, len(cfg.Models))
	for _, d := range cfg.Models {
		if d.Family == cfg.Routing.ModelFamily {
			out = append(out, d)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
