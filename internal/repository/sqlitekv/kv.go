// Package sqlitekv is a single-table SQLite key-value store for running the
// widget outside AWS.
package sqlitekv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS lease (
    key TEXT PRIMARY KEY,
    until_ms INTEGER NOT NULL
);`

// KV stores string values in a SQLite database.
type KV struct {
	db *sql.DB
}

// Open opens (and creates if needed) the database at path.
func Open(path string) (*KV, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("sqlitekv: path must not be empty")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitekv: open %q: %w", path, err)
	}
	// single writer
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlitekv: create schema: %w", err)
	}
	return &KV{db: db}, nil
}

func (k *KV) Close() error {
	return k.db.Close()
}

func (k *KV) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := k.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("sqlitekv: get %q: %w", key, err)
	}
	return value, true, nil
}

func (k *KV) Put(ctx context.Context, key, value string) error {
	_, err := k.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("sqlitekv: put %q: %w", key, err)
	}
	return nil
}

func (k *KV) Delete(ctx context.Context, key string) error {
	if _, err := k.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("sqlitekv: delete %q: %w", key, err)
	}
	return nil
}

// Acquire takes the lease on key unless an unexpired one is held.
func (k *KV) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	now := time.Now()
	res, err := k.db.ExecContext(ctx, `
		INSERT INTO lease (key, until_ms) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET until_ms = excluded.until_ms
		WHERE lease.until_ms < ?`,
		key, now.Add(ttl).UnixMilli(), now.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("sqlitekv: acquire %q: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlitekv: acquire %q: %w", key, err)
	}
	return n == 1, nil
}

// Release drops the lease on key.
func (k *KV) Release(ctx context.Context, key string) error {
	if _, err := k.db.ExecContext(ctx, `DELETE FROM lease WHERE key = ?`, key); err != nil {
		return fmt.Errorf("sqlitekv: release %q: %w", key, err)
	}
	return nil
}
