// Package cache stores short-lived lookups behind a TTL-aware key/value
// backend so repeated searches can skip the browser.
package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrMiss is returned by a Backend when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Backend is a byte-oriented key/value store with per-entry expiry.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Count reports the live entries whose key starts with prefix.
	Count(ctx context.Context, prefix string) (int64, error)
	// DeletePrefix removes every entry whose key starts with prefix.
	DeletePrefix(ctx context.Context, prefix string) (int64, error)
	Close() error
}

// SQLite keeps entries in a local database file.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLite(dbPath string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// one writer at a time, the driver reports SQLITE_BUSY otherwise
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS cache_entries (
			key TEXT NOT NULL PRIMARY KEY,
			value BLOB NOT NULL,
			expires_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, err
	}

	c := &SQLite{db: db, now: time.Now}
	if _, err := c.Purge(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *SQLite) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	var expiresAt int64

	err := c.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM cache_entries WHERE key = ?`, key,
	).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite get %s: %w", key, err)
	}

	if c.now().UnixMilli() >= expiresAt {
		return nil, ErrMiss
	}
	return value, nil
}

func (c *SQLite) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO cache_entries (key, value, expires_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(key)
		 DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, c.now().Add(ttl).UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("sqlite set %s: %w", key, err)
	}
	return nil
}

func (c *SQLite) Delete(ctx context.Context, key string) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("sqlite delete %s: %w", key, err)
	}
	return nil
}

func (c *SQLite) Count(ctx context.Context, prefix string) (int64, error) {
	var n int64
	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM cache_entries WHERE substr(key, 1, length(?)) = ? AND expires_at > ?`,
		prefix, prefix, c.now().UnixMilli(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite count %s: %w", prefix, err)
	}
	return n, nil
}

func (c *SQLite) DeletePrefix(ctx context.Context, prefix string) (int64, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE substr(key, 1, length(?)) = ?`, prefix, prefix)
	if err != nil {
		return 0, fmt.Errorf("sqlite delete %s*: %w", prefix, err)
	}
	return res.RowsAffected()
}

// Purge removes expired entries and reports how many were dropped.
func (c *SQLite) Purge(ctx context.Context) (int64, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE expires_at <= ?`, c.now().UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (c *SQLite) Close() error {
	return c.db.Close()
}
