package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces cache entries in a shared Redis instance.
const DefaultRedisPrefix = "routecache:entry:"

// RedisConfig holds L2 tier connection configuration.
type RedisConfig struct {
	// URL is the Redis connection URL (e.g. "redis://localhost:6379").
	URL string

	// Prefix namespaces keys (defaults to "routecache:entry:").
	Prefix string
}

// RedisTier is the shared remote L2 tier. Expiry is delegated to Redis via
// per-key TTLs, so expired entries never come back from Get.
type RedisTier struct {
	client *redis.Client
	prefix string
}

// NewRedisTier connects to Redis and verifies the connection.
func NewRedisTier(cfg RedisConfig) (*RedisTier, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}

	slog.Info("redis cache tier connected", "prefix", prefix)

	return &RedisTier{client: client, prefix: prefix}, nil
}

func (t *RedisTier) Name() string { return "l2" }

// Get retrieves the entry from Redis, or (nil, nil) on a miss.
func (t *RedisTier) Get(ctx context.Context, fingerprint string) (*Entry, error) {
	data, err := t.client.Get(ctx, t.prefix+fingerprint).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get entry from redis: %w", err)
	}
	return decodeEntry(data)
}

// Set stores the entry with the remaining TTL as the Redis expiry.
func (t *RedisTier) Set(ctx context.Context, entry *Entry) error {
	ttl := time.Until(entry.ExpiresAt())
	if ttl <= 0 {
		return nil // already expired, nothing to store
	}

	data, err := encodeEntry(entry)
	if err != nil {
		return err
	}
	if err := t.client.Set(ctx, t.prefix+entry.Fingerprint, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set entry in redis: %w", err)
	}
	return nil
}

// Delete removes the entry if present.
func (t *RedisTier) Delete(ctx context.Context, fingerprint string) error {
	if err := t.client.Del(ctx, t.prefix+fingerprint).Err(); err != nil {
		return fmt.Errorf("failed to delete entry from redis: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (t *RedisTier) Close() error {
	if t.client != nil {
		return t.client.Close()
	}
	return nil
}
