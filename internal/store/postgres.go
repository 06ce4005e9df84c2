package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"
)

const (
	sqlCreateTable = `
        CREATE TABLE IF NOT EXISTS freeform_kv (
            key        TEXT PRIMARY KEY,
            value      BYTEA NOT NULL,
            origin     TEXT NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
        );`
	sqlSelectValue = `SELECT value FROM freeform_kv WHERE key = $1`
	sqlUpsertValue = `
        INSERT INTO freeform_kv (key, value, origin, updated_at)
        VALUES ($1, $2, $3, now())
        ON CONFLICT (key) DO UPDATE SET
            value = EXCLUDED.value,
            origin = EXCLUDED.origin,
            updated_at = EXCLUDED.updated_at;`
	sqlDeleteValue = `DELETE FROM freeform_kv WHERE key = $1`
	sqlNotify      = `SELECT pg_notify($1, $2)`
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Notifier delivers NOTIFY payloads from one LISTEN session.
type Notifier interface {
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

// ListenFunc opens a LISTEN session on channel.
type ListenFunc func(ctx context.Context, channel string) (Notifier, error)

// Postgres stores keys in a PostgreSQL table and announces every write on a
// NOTIFY channel.
type Postgres struct {
	pool    DBPool
	listen  ListenFunc
	channel string
	origin  string
	log     *zap.Logger
	closer  func()
}

// NewPostgres creates a new store instance and verifies the connection.
func NewPostgres(ctx context.Context, pool DBPool, listen ListenFunc, channel string, logger *zap.Logger) (*Postgres, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if channel == "" {
		channel = "freeform_state"
	}
	return &Postgres{
		pool:    pool,
		listen:  listen,
		channel: channel,
		origin:  newOrigin(),
		log:     logger.Named("store"),
	}, nil
}

// Origin identifies the handle's writes.
func (p *Postgres) Origin() string { return p.origin }

// EnsureSchema creates the key/value table when it does not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, sqlCreateTable); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, key string) ([]byte, error) {
	var v []byte
	err := p.pool.QueryRow(ctx, sqlSelectValue, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query %q: %w", key, err)
	}
	return v, nil
}

func (p *Postgres) Set(ctx context.Context, entries ...Entry) error {
	return p.inTx(ctx, func(tx pgx.Tx) error {
		for _, e := range entries {
			if _, err := tx.Exec(ctx, sqlUpsertValue, e.Key, e.Value, p.origin); err != nil {
				return fmt.Errorf("failed to upsert %q: %w", e.Key, err)
			}
			if err := p.notify(ctx, tx, e.Key); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *Postgres) Delete(ctx context.Context, key string) error {
	return p.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, sqlDeleteValue, key); err != nil {
			return fmt.Errorf("failed to delete %q: %w", key, err)
		}
		return p.notify(ctx, tx, key)
	})
}

// inTx handles the transaction around fn. Notifications queued inside the
// transaction are only delivered on commit.
func (p *Postgres) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			p.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (p *Postgres) notify(ctx context.Context, tx pgx.Tx, key string) error {
	payload, err := json.MarshalToString(Change{Key: key, Origin: p.origin})
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	if _, err := tx.Exec(ctx, sqlNotify, p.channel, payload); err != nil {
		return fmt.Errorf("failed to notify %s: %w", p.channel, err)
	}
	return nil
}

// Watch listens on the store's channel and forwards writes made by other
// handles.
func (p *Postgres) Watch(ctx context.Context) (<-chan Change, error) {
	if p.listen == nil {
		return nil, errors.New("store: postgres store has no listener")
	}
	n, err := p.listen(ctx, p.channel)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", p.channel, err)
	}

	ch := make(chan Change, watchBuffer)
	go func() {
		defer close(ch)
		defer func() {
			if err := n.Close(context.Background()); err != nil {
				p.log.Warn("Failed to close listener", zap.Error(err))
			}
		}()
		for {
			msg, err := n.WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					p.log.Error("Listener failed", zap.Error(err))
				}
				return
			}
			var c Change
			if err := json.UnmarshalFromString(msg.Payload, &c); err != nil {
				p.log.Warn("Ignoring malformed notification", zap.String("payload", msg.Payload), zap.Error(err))
				continue
			}
			if c.Origin == p.origin {
				continue
			}
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (p *Postgres) Close() error {
	if p.closer != nil {
		p.closer()
	}
	return nil
}

// PoolListener opens LISTEN sessions on connections acquired from pool.
func PoolListener(pool *pgxpool.Pool) ListenFunc {
	return func(ctx context.Context, channel string) (Notifier, error) {
		conn, err := pool.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire connection: %w", err)
		}
		if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
			conn.Release()
			return nil, err
		}
		return &poolNotifier{conn: conn}, nil
	}
}

type poolNotifier struct {
	conn *pgxpool.Conn
}

func (n *poolNotifier) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	return n.conn.Conn().WaitForNotification(ctx)
}

func (n *poolNotifier) Close(ctx context.Context) error {
	defer n.conn.Release()
	_, err := n.conn.Exec(ctx, "UNLISTEN *")
	return err
}
