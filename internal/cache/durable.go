package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"routecache/internal/storage"
)

const durableCollection = "cache_entries"

// DurableTier is the persistent L3 tier, backed by a storage.Storage
// connection (SQLite by default, PostgreSQL or MongoDB for shared
// deployments). Entries survive process restarts; expired rows are
// dropped lazily on read and by a periodic sweep.
type DurableTier struct {
	store storage.Storage
}

// NewDurableTier creates the L3 tier and ensures its schema exists.
func NewDurableTier(ctx context.Context, store storage.Storage) (*DurableTier, error) {
	t := &DurableTier{store: store}
	if err := t.migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize durable cache schema: %w", err)
	}
	return t, nil
}

func (t *DurableTier) migrate(ctx context.Context) error {
	const schema = `CREATE TABLE IF NOT EXISTS cache_entries (
		fingerprint TEXT PRIMARY KEY,
		model       TEXT NOT NULL,
		payload     BLOB NOT NULL,
		created_at  BIGINT NOT NULL,
		expires_at  BIGINT NOT NULL
	)`

	switch t.store.Type() {
	case storage.TypeSQLite:
		_, err := t.store.SQLiteDB().ExecContext(ctx, schema)
		return err
	case storage.TypePostgreSQL:
		// BYTEA is the PostgreSQL blob type
		const pgSchema = `CREATE TABLE IF NOT EXISTS cache_entries (
			fingerprint TEXT PRIMARY KEY,
			model       TEXT NOT NULL,
			payload     BYTEA NOT NULL,
			created_at  BIGINT NOT NULL,
			expires_at  BIGINT NOT NULL
		)`
		_, err := t.store.PostgresPool().Exec(ctx, pgSchema)
		return err
	case storage.TypeMongoDB:
		coll := t.store.MongoDatabase().Collection(durableCollection)
		_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		})
		return err
	default:
		return fmt.Errorf("unsupported storage type: %s", t.store.Type())
	}
}

func (t *DurableTier) Name() string { return "l3" }

type durableDoc struct {
	Fingerprint string    `bson:"_id"`
	Model       string    `bson:"model"`
	Payload     []byte    `bson:"payload"`
	CreatedAt   time.Time `bson:"created_at"`
	ExpiresAt   time.Time `bson:"expires_at"`
}

// Get retrieves the entry, or (nil, nil) on a miss. Expired rows are
// deleted and reported as misses.
func (t *DurableTier) Get(ctx context.Context, fingerprint string) (*Entry, error) {
	var (
		model                string
		payload              []byte
		createdAt, expiresAt int64
	)

	switch t.store.Type() {
	case storage.TypeSQLite:
		row := t.store.SQLiteDB().QueryRowContext(ctx,
			`SELECT model, payload, created_at, expires_at FROM cache_entries WHERE fingerprint = ?`, fingerprint)
		if err := row.Scan(&model, &payload, &createdAt, &expiresAt); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, nil
			}
			return nil, fmt.Errorf("failed to query durable cache: %w", err)
		}
	case storage.TypePostgreSQL:
		row := t.store.PostgresPool().QueryRow(ctx,
			`SELECT model, payload, created_at, expires_at FROM cache_entries WHERE fingerprint = $1`, fingerprint)
		if err := row.Scan(&model, &payload, &createdAt, &expiresAt); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, nil
			}
			return nil, fmt.Errorf("failed to query durable cache: %w", err)
		}
	case storage.TypeMongoDB:
		var doc durableDoc
		err := t.store.MongoDatabase().Collection(durableCollection).
			FindOne(ctx, bson.M{"_id": fingerprint}).Decode(&doc)
		if err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				return nil, nil
			}
			return nil, fmt.Errorf("failed to query durable cache: %w", err)
		}
		model = doc.Model
		payload = doc.Payload
		createdAt = doc.CreatedAt.UnixMilli()
		expiresAt = doc.ExpiresAt.UnixMilli()
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", t.store.Type())
	}

	created := time.UnixMilli(createdAt).UTC()
	expires := time.UnixMilli(expiresAt).UTC()
	if !time.Now().Before(expires) {
		_ = t.Delete(ctx, fingerprint)
		return nil, nil
	}

	raw, err := decompressBytes(payload)
	if err != nil {
		return nil, err
	}

	return &Entry{
		Fingerprint: fingerprint,
		Payload:     raw,
		Model:       model,
		CreatedAt:   created,
		TTL:         expires.Sub(created),
	}, nil
}

// Set upserts the entry. Writes are idempotent: replaying a promotion
// after an eviction simply restores the same row.
func (t *DurableTier) Set(ctx context.Context, entry *Entry) error {
	payload, err := compressBytes(entry.Payload)
	if err != nil {
		return err
	}
	created := entry.CreatedAt.UTC()
	expires := entry.ExpiresAt().UTC()

	switch t.store.Type() {
	case storage.TypeSQLite:
		_, err := t.store.SQLiteDB().ExecContext(ctx,
			`INSERT INTO cache_entries (fingerprint, model, payload, created_at, expires_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(fingerprint) DO UPDATE SET
			   model = excluded.model, payload = excluded.payload,
			   created_at = excluded.created_at, expires_at = excluded.expires_at`,
			entry.Fingerprint, entry.Model, payload, created.UnixMilli(), expires.UnixMilli())
		if err != nil {
			return fmt.Errorf("failed to write durable cache: %w", err)
		}
	case storage.TypePostgreSQL:
		_, err := t.store.PostgresPool().Exec(ctx,
			`INSERT INTO cache_entries (fingerprint, model, payload, created_at, expires_at)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (fingerprint) DO UPDATE SET
			   model = excluded.model, payload = excluded.payload,
			   created_at = excluded.created_at, expires_at = excluded.expires_at`,
			entry.Fingerprint, entry.Model, payload, created.UnixMilli(), expires.UnixMilli())
		if err != nil {
			return fmt.Errorf("failed to write durable cache: %w", err)
		}
	case storage.TypeMongoDB:
		doc := durableDoc{
			Fingerprint: entry.Fingerprint,
			Model:       entry.Model,
			Payload:     payload,
			CreatedAt:   created,
			ExpiresAt:   expires,
		}
		_, err := t.store.MongoDatabase().Collection(durableCollection).
			ReplaceOne(ctx, bson.M{"_id": entry.Fingerprint}, doc, options.Replace().SetUpsert(true))
		if err != nil {
			return fmt.Errorf("failed to write durable cache: %w", err)
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", t.store.Type())
	}
	return nil
}

// Delete removes the entry if present.
func (t *DurableTier) Delete(ctx context.Context, fingerprint string) error {
	switch t.store.Type() {
	case storage.TypeSQLite:
		_, err := t.store.SQLiteDB().ExecContext(ctx,
			`DELETE FROM cache_entries WHERE fingerprint = ?`, fingerprint)
		return err
	case storage.TypePostgreSQL:
		_, err := t.store.PostgresPool().Exec(ctx,
			`DELETE FROM cache_entries WHERE fingerprint = $1`, fingerprint)
		return err
	case storage.TypeMongoDB:
		_, err := t.store.MongoDatabase().Collection(durableCollection).
			DeleteOne(ctx, bson.M{"_id": fingerprint})
		return err
	default:
		return fmt.Errorf("unsupported storage type: %s", t.store.Type())
	}
}

// Sweep deletes all expired rows. MongoDB deployments also have a TTL
// index doing this server-side; the sweep keeps single-node SQL backends
// from accumulating dead rows.
func (t *DurableTier) Sweep(ctx context.Context) error {
	now := time.Now().UTC()
	switch t.store.Type() {
	case storage.TypeSQLite:
		_, err := t.store.SQLiteDB().ExecContext(ctx,
			`DELETE FROM cache_entries WHERE expires_at < ?`, now.UnixMilli())
		return err
	case storage.TypePostgreSQL:
		_, err := t.store.PostgresPool().Exec(ctx,
			`DELETE FROM cache_entries WHERE expires_at < $1`, now.UnixMilli())
		return err
	case storage.TypeMongoDB:
		_, err := t.store.MongoDatabase().Collection(durableCollection).
			DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lt": now}})
		return err
	default:
		return fmt.Errorf("unsupported storage type: %s", t.store.Type())
	}
}

// StartSweep runs Sweep at the given interval until the returned cancel
// function is called.
func (t *DurableTier) StartSweep(interval time.Duration) func() {
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sweepCtx, sweepCancel := context.WithTimeout(context.Background(), 30*time.Second)
				if err := t.Sweep(sweepCtx); err != nil {
					slog.Warn("durable cache sweep failed", "error", err)
				}
				sweepCancel()
			}
		}
	}()

	return cancel
}

// Close is a no-op; the underlying storage connection is shared and closed
// by its owner.
func (t *DurableTier) Close() error { return nil }
