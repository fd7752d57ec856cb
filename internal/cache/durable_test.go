package cache

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"routecache/internal/storage"
)

func newSQLiteTier(t *testing.T) *DurableTier {
	t.Helper()

	store, err := storage.New(context.Background(), storage.Config{
		Type:   storage.TypeSQLite,
		SQLite: storage.SQLiteConfig{Path: filepath.Join(t.TempDir(), "cache.db")},
	})
	if err != nil {
		t.Fatalf("failed to open sqlite storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	tier, err := NewDurableTier(context.Background(), store)
	if err != nil {
		t.Fatalf("failed to create durable tier: %v", err)
	}
	return tier
}

func TestDurableTierRoundTrip(t *testing.T) {
	tier := newSQLiteTier(t)
	ctx := context.Background()

	entry := newEntry("fp1", time.Minute)
	if err := tier.Set(ctx, entry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := tier.Get(ctx, "fp1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected a hit")
	}
	if string(got.Payload) != string(entry.Payload) {
		t.Errorf("payload mismatch: %q", got.Payload)
	}
	if got.Model != entry.Model {
		t.Errorf("model mismatch: %q", got.Model)
	}
}

func TestDurableTierMiss(t *testing.T) {
	tier := newSQLiteTier(t)

	got, err := tier.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected a clean miss, got %+v", got)
	}
}

func TestDurableTierUpsert(t *testing.T) {
	tier := newSQLiteTier(t)
	ctx := context.Background()

	if err := tier.Set(ctx, newEntry("fp1", time.Minute)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// Replaying the write is idempotent; replacing the payload wins.
	replacement := newEntry("fp1", time.Minute)
	replacement.Payload = []byte(`{"content":"replaced"}`)
	if err := tier.Set(ctx, replacement); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	got, err := tier.Get(ctx, "fp1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil || string(got.Payload) != `{"content":"replaced"}` {
		t.Errorf("expected replaced payload, got %+v", got)
	}
}

func TestDurableTierExpiredRowDropped(t *testing.T) {
	tier := newSQLiteTier(t)
	ctx := context.Background()

	expired := newEntry("fp1", time.Minute)
	expired.CreatedAt = time.Now().Add(-2 * time.Minute)
	if err := tier.Set(ctx, expired); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := tier.Get(ctx, "fp1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Error("expected expired row to read as a miss")
	}
}

func TestDurableTierSweep(t *testing.T) {
	tier := newSQLiteTier(t)
	ctx := context.Background()

	expired := newEntry("old", time.Minute)
	expired.CreatedAt = time.Now().Add(-2 * time.Minute)
	if err := tier.Set(ctx, expired); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := tier.Set(ctx, newEntry("fresh", time.Minute)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if err := tier.Sweep(ctx); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	if got, _ := tier.Get(ctx, "fresh"); got == nil {
		t.Error("sweep removed a live row")
	}

	var count int
	row := tier.store.SQLiteDB().QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries`)
	if err := row.Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 row after sweep, got %d", count)
	}
}

func TestDurableTierLargePayloadCompressed(t *testing.T) {
	tier := newSQLiteTier(t)
	ctx := context.Background()

	entry := newEntry("big", time.Minute)
	entry.Payload = []byte(strings.Repeat("repetitive response text ", 1024))
	if err := tier.Set(ctx, entry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := tier.Get(ctx, "big")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil || string(got.Payload) != string(entry.Payload) {
		t.Error("large payload did not survive the round trip")
	}

	// The stored blob carries the brotli codec prefix.
	var stored []byte
	row := tier.store.SQLiteDB().QueryRowContext(ctx, `SELECT payload FROM cache_entries WHERE fingerprint = ?`, "big")
	if err := row.Scan(&stored); err != nil {
		t.Fatalf("raw read failed: %v", err)
	}
	if len(stored) == 0 || stored[0] != codecBrotli {
		t.Error("expected the stored blob to be compressed")
	}
	if len(stored) >= len(entry.Payload) {
		t.Errorf("compression did not shrink the blob: %d >= %d", len(stored), len(entry.Payload))
	}
}
