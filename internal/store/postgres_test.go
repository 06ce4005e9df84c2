package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	json "github.com/json-iterator/go"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

func newMockStore(t *testing.T, logger *zap.Logger) (*Postgres, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing().WillReturnError(nil)
	s, err := NewPostgres(context.Background(), mockPool, nil, "", logger)
	require.NoError(t, err)
	return s, mockPool
}

func payloadFor(t *testing.T, key, origin string) string {
	t.Helper()
	p, err := json.MarshalToString(Change{Key: key, Origin: origin})
	require.NoError(t, err)
	return p
}

func TestNewPostgres(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = NewPostgres(context.Background(), mockPool, nil, "", zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr, "Error from ping should be propagated")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should create the schema", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		mockPool.ExpectExec(flexibleSQLMatcher(sqlCreateTable)).WillReturnResult(pgxmock.NewResult("CREATE", 0))
		require.NoError(t, s.EnsureSchema(context.Background()))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPostgresGet(t *testing.T) {
	ctx := context.Background()

	t.Run("should return the stored value", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectValue)).
			WithArgs("elements").
			WillReturnRows(pgxmock.NewRows([]string{"value"}).AddRow([]byte(`{"a":1}`)))

		v, err := s.Get(ctx, "elements")
		require.NoError(t, err)
		assert.Equal(t, `{"a":1}`, string(v))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should map no rows to ErrNotFound", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectValue)).
			WithArgs("missing").
			WillReturnRows(pgxmock.NewRows([]string{"value"}))

		_, err := s.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should wrap query errors", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		queryErr := errors.New("connection reset")
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectValue)).
			WithArgs("elements").
			WillReturnError(queryErr)

		_, err := s.Get(ctx, "elements")
		assert.ErrorIs(t, err, queryErr)
		assert.NotErrorIs(t, err, ErrNotFound)
	})
}

func TestPostgresSet(t *testing.T) {
	ctx := context.Background()

	t.Run("should upsert and notify inside one transaction without rollback errors", func(t *testing.T) {
		observedZapCore, observedLogs := observer.New(zapcore.ErrorLevel)
		s, mockPool := newMockStore(t, zap.New(observedZapCore))

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlUpsertValue)).
			WithArgs("elements", []byte(`{}`), s.Origin()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectExec(flexibleSQLMatcher(sqlNotify)).
			WithArgs("freeform_state", payloadFor(t, "elements", s.Origin())).
			WillReturnResult(pgxmock.NewResult("SELECT", 1))
		mockPool.ExpectExec(flexibleSQLMatcher(sqlUpsertValue)).
			WithArgs("history", []byte(`{"index":-1}`), s.Origin()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectExec(flexibleSQLMatcher(sqlNotify)).
			WithArgs("freeform_state", payloadFor(t, "history", s.Origin())).
			WillReturnResult(pgxmock.NewResult("SELECT", 1))
		// Expect Commit AND the subsequent Rollback (which returns ErrTxClosed)
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		err := s.Set(ctx,
			Entry{Key: "elements", Value: []byte(`{}`)},
			Entry{Key: "history", Value: []byte(`{"index":-1}`)},
		)
		require.NoError(t, err)
		assert.NoError(t, mockPool.ExpectationsWereMet())
		assert.Empty(t, observedLogs.All(), "Expected no errors logged on successful commit")
	})

	t.Run("should handle transaction begin failure", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		beginErr := errors.New("cannot begin tx")
		mockPool.ExpectBegin().WillReturnError(beginErr)

		err := s.Set(ctx, Entry{Key: "elements", Value: []byte(`{}`)})
		assert.ErrorIs(t, err, beginErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should rollback if the upsert fails", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		execErr := errors.New("disk full")

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlUpsertValue)).
			WithArgs("elements", []byte(`{}`), s.Origin()).
			WillReturnError(execErr)
		mockPool.ExpectRollback()

		err := s.Set(ctx, Entry{Key: "elements", Value: []byte(`{}`)})
		require.Error(t, err)
		assert.ErrorIs(t, err, execErr)
		assert.Contains(t, err.Error(), `failed to upsert "elements"`)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPostgresDelete(t *testing.T) {
	s, mockPool := newMockStore(t, zap.NewNop())

	mockPool.ExpectBegin()
	mockPool.ExpectExec(flexibleSQLMatcher(sqlDeleteValue)).
		WithArgs("elements").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mockPool.ExpectExec(flexibleSQLMatcher(sqlNotify)).
		WithArgs("freeform_state", payloadFor(t, "elements", s.Origin())).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mockPool.ExpectCommit()
	mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

	require.NoError(t, s.Delete(context.Background(), "elements"))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

// fakeNotifier replays queued notifications and then blocks until the
// context ends.
type fakeNotifier struct {
	queue  chan *pgconn.Notification
	closed chan struct{}
}

func newFakeNotifier(payloads ...string) *fakeNotifier {
	n := &fakeNotifier{queue: make(chan *pgconn.Notification, len(payloads)), closed: make(chan struct{})}
	for _, p := range payloads {
		n.queue <- &pgconn.Notification{Channel: "freeform_state", Payload: p}
	}
	return n
}

func (n *fakeNotifier) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	select {
	case msg := <-n.queue:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (n *fakeNotifier) Close(context.Context) error {
	close(n.closed)
	return nil
}

func TestPostgresWatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	core, logs := observer.New(zapcore.WarnLevel)
	s, _ := newMockStore(t, zap.New(core))

	notifier := newFakeNotifier(
		payloadFor(t, "elements", s.Origin()),
		"{not json",
		payloadFor(t, "elements", "other-tab"),
	)
	var listened string
	s.listen = func(_ context.Context, channel string) (Notifier, error) {
		listened = channel
		return notifier, nil
	}

	changes, err := s.Watch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "freeform_state", listened)

	assert.Equal(t, Change{Key: "elements", Origin: "other-tab"}, receive(t, changes), "own writes and malformed payloads are skipped")
	assert.Equal(t, 1, logs.FilterMessage("Ignoring malformed notification").Len())

	cancel()
	for range changes {
	}
	<-notifier.closed
}

func TestPostgresWatchWithoutListener(t *testing.T) {
	s, _ := newMockStore(t, zap.NewNop())
	_, err := s.Watch(context.Background())
	assert.Error(t, err)

	s.listen = func(context.Context, string) (Notifier, error) { return nil, errors.New("no conn") }
	_, err = s.Watch(context.Background())
	assert.ErrorContains(t, err, "failed to listen on freeform_state")
}
