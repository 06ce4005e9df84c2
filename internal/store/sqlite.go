package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const defaultPollInterval = 500 * time.Millisecond

const (
	sqliteSchema = `
        CREATE TABLE IF NOT EXISTS kv (
            key        TEXT PRIMARY KEY,
            value      BLOB NOT NULL,
            origin     TEXT NOT NULL,
            updated_at INTEGER NOT NULL
        );`
	sqliteUpsert = `
        INSERT INTO kv (key, value, origin, updated_at)
        VALUES (?, ?, ?, ?)
        ON CONFLICT (key) DO UPDATE SET
            value = excluded.value,
            origin = excluded.origin,
            updated_at = excluded.updated_at;`
)

// SQLite stores keys in a single table. Changes made by other connections
// are detected by polling PRAGMA data_version.
type SQLite struct {
	db       *sql.DB
	origin   string
	interval time.Duration
	log      *zap.Logger
}

// SQLiteOption configures an SQLite store.
type SQLiteOption func(*SQLite)

// WithPollInterval sets how often Watch checks for foreign writes.
func WithPollInterval(d time.Duration) SQLiteOption {
	return func(s *SQLite) {
		if d > 0 {
			s.interval = d
		}
	}
}

// OpenSQLite opens (creating if needed) the database at path. Use ":memory:"
// for a private in-memory database.
func OpenSQLite(ctx context.Context, path string, logger *zap.Logger, opts ...SQLiteOption) (*SQLite, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// One connection: data_version then only moves for writes by other
	// connections, and an in-memory database is not split across conns.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	s := &SQLite{
		db:       db,
		origin:   newOrigin(),
		interval: defaultPollInterval,
		log:      logger.Named("store.sqlite"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Origin identifies the handle's writes.
func (s *SQLite) Origin() string { return s.origin }

func (s *SQLite) Get(ctx context.Context, key string) ([]byte, error) {
	var v []byte
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", key, err)
	}
	return v, nil
}

func (s *SQLite) Set(ctx context.Context, entries ...Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	now := time.Now().UnixNano()
	for _, e := range entries {
		if _, err := tx.ExecContext(ctx, sqliteUpsert, e.Key, e.Value, s.origin, now); err != nil {
			return fmt.Errorf("failed to write %q: %w", e.Key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLite) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete %q: %w", key, err)
	}
	return nil
}

func (s *SQLite) Close() error { return s.db.Close() }

// Watch polls for commits made through other connections. Rows they touched
// are reported by key; a commit that left no rows behind (a delete) is
// reported as a Change with an empty key.
func (s *SQLite) Watch(ctx context.Context) (<-chan Change, error) {
	version, err := s.dataVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("initial version check failed: %w", err)
	}
	var since int64
	if err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(updated_at), 0) FROM kv").Scan(&since); err != nil {
		return nil, fmt.Errorf("failed to read watermark: %w", err)
	}

	ch := make(chan Change, watchBuffer)
	go func() {
		defer close(ch)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		s.log.Debug("watch started", zap.Duration("interval", s.interval))

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			cur, err := s.dataVersion(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.log.Warn("version check failed", zap.Error(err))
				}
				continue
			}
			if cur == version {
				continue
			}
			version = cur

			changes, watermark, err := s.changedSince(ctx, since)
			if err != nil {
				if ctx.Err() == nil {
					s.log.Warn("failed to read changed keys", zap.Error(err))
				}
				changes = nil
			}
			since = max(since, watermark)
			if len(changes) == 0 {
				changes = []Change{{}}
			}
			for _, c := range changes {
				select {
				case ch <- c:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}

func (s *SQLite) dataVersion(ctx context.Context) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, "PRAGMA data_version").Scan(&v)
	return v, err
}

func (s *SQLite) changedSince(ctx context.Context, since int64) ([]Change, int64, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT key, origin, updated_at FROM kv WHERE updated_at > ? AND origin <> ? ORDER BY updated_at",
		since, s.origin)
	if err != nil {
		return nil, since, err
	}
	defer rows.Close()

	var changes []Change
	watermark := since
	for rows.Next() {
		var (
			c  Change
			at int64
		)
		if err := rows.Scan(&c.Key, &c.Origin, &at); err != nil {
			return nil, since, err
		}
		changes = append(changes, c)
		watermark = max(watermark, at)
	}
	return changes, watermark, rows.Err()
}
