// Package store is the durable key/value layer behind the element state
// manager. Every backend tags its writes with a per-handle origin so that a
// handle can tell its own writes apart from those of other writers sharing
// the same backing store.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/freeform/internal/config"
)

var (
	// ErrNotFound is returned by Get for a missing key.
	ErrNotFound = errors.New("store: key not found")
	// ErrClosed is returned by operations on a closed handle.
	ErrClosed = errors.New("store: closed")
)

// Entry is one key/value pair of a write.
type Entry struct {
	Key   string
	Value []byte
}

// Change notifies a watcher that another writer modified Key. An empty Key
// means the backend could not tell which keys changed.
type Change struct {
	Key    string `json:"key"`
	Origin string `json:"origin"`
}

// Store is a durable key/value store.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// Set writes all entries atomically.
	Set(ctx context.Context, entries ...Entry) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Watcher reports changes made by other writers. The channel is closed when
// ctx is done.
type Watcher interface {
	Watch(ctx context.Context) (<-chan Change, error)
}

// Affects reports whether a change may touch key.
func (c Change) Affects(key string) bool {
	return c.Key == "" || c.Key == key
}

func newOrigin() string { return uuid.NewString() }

// Open builds the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "memory":
		return NewMemory(), nil
	case "sqlite":
		return OpenSQLite(ctx, cfg.Path, logger, WithPollInterval(cfg.PollInterval))
	case "file":
		return OpenFile(cfg.Path, logger)
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create connection pool: %w", err)
		}
		s, err := NewPostgres(ctx, pool, PoolListener(pool), cfg.Channel, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		if err := s.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		s.closer = pool.Close
		return s, nil
	}
	return nil, fmt.Errorf("store: unknown driver %q", cfg.Driver)
}
