package tracestore

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kvq/internal/client"
	"github.com/roach88/kvq/internal/kverr"
	"github.com/roach88/kvq/internal/logger"
	"github.com/roach88/kvq/internal/object"
	"github.com/roach88/kvq/internal/testutil"
	"github.com/roach88/kvq/internal/transport"
)

func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "trace.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestSession(t *testing.T, s *Store) Session {
	t.Helper()
	sess, err := s.CreateSession(context.Background(), Session{ClientID: "test-client"})
	require.NoError(t, err)
	return sess
}

func TestOpen_CreatesAndReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		require.NoError(t, err, "open %d", i)
		require.NoError(t, s.Close())
	}
	_, err := os.Stat(path)
	require.NoError(t, err)

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	for _, table := range []string{"sessions", "exchanges"} {
		var name string
		err := s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		assert.NoError(t, err, table)
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	testCases := map[string]string{
		"journal_mode": "wal",
		"synchronous":  "1",
		"busy_timeout": "5000",
		"foreign_keys": "1",
		"user_version": "1",
	}
	for name, want := range testCases {
		got, err := s.pragma(name)
		require.NoError(t, err)
		assert.Equal(t, want, got, name)
	}
}

func TestOpen_RejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.db")
	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.db.Exec("PRAGMA user_version = 99")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open(path)
	assert.ErrorContains(t, err, "newer")
}

func TestRequestHash(t *testing.T) {
	base := &transport.Request{
		Method: http.MethodPut,
		Path:   "/riak/b/k",
		Header: http.Header{"Content-Type": {"application/json"}, "X-Riak-Clientid": {"a"}},
		Body:   []byte(`{"x":1}`),
	}
	h1, err := RequestHash(base)
	require.NoError(t, err)

	other := *base
	other.Header = http.Header{"Content-Type": {"application/json"}, "X-Riak-Clientid": {"b"}, "Accept": {"*/*"}}
	h2, err := RequestHash(&other)
	require.NoError(t, err)
	assert.Equal(t, h1, h2, "client ID and Accept do not change identity")

	other.Body = []byte(`{"x":2}`)
	h3, err := RequestHash(&other)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)

	other.Body = base.Body
	other.Header = http.Header{"Content-Type": {"application/json"}, "X-Riak-Meta-a": {"1"}}
	h4, err := RequestHash(&other)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h4)

	assert.Len(t, h1, 64)
}

func TestExchangeID_Deterministic(t *testing.T) {
	a, err := ExchangeID("s", 1, "h")
	require.NoError(t, err)
	b, err := ExchangeID("s", 1, "h")
	require.NoError(t, err)
	c, err := ExchangeID("s", 2, "h")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestWriteReadExchanges(t *testing.T) {
	s := createTestStore(t)
	sess := createTestSession(t, s)
	ctx := context.Background()

	for seq := int64(3); seq >= 1; seq-- {
		_, err := s.WriteExchange(ctx, Exchange{
			SessionID:      sess.ID,
			Seq:            seq,
			Op:             "fetch",
			Method:         http.MethodGet,
			Path:           "/riak/b/k",
			RequestHash:    "h",
			RequestHeader:  http.Header{"Accept": {"*/*"}},
			Status:         http.StatusOK,
			ResponseHeader: http.Header{"X-Riak-Meta-owner": {"ann"}},
			ResponseBody:   []byte("body"),
			Duration:       1500 * time.Microsecond,
		})
		require.NoError(t, err)
	}

	exchanges, err := s.ReadExchanges(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, exchanges, 3)
	for i, ex := range exchanges {
		assert.Equal(t, int64(i+1), ex.Seq)
	}

	first := exchanges[0]
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, []string{"ann"}, first.ResponseHeader["X-Riak-Meta-owner"])
	assert.Equal(t, "*/*", first.RequestHeader.Get("Accept"))
	assert.Equal(t, []byte("body"), first.ResponseBody)
	assert.Equal(t, 1500*time.Microsecond, first.Duration)

	// Same ID again is ignored.
	_, err = s.WriteExchange(ctx, first)
	require.NoError(t, err)
	exchanges, err = s.ReadExchanges(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, exchanges, 3)
}

func TestWriteExchange_Validation(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.WriteExchange(ctx, Exchange{RequestHash: "h"})
	assert.Error(t, err)
	_, err = s.WriteExchange(ctx, Exchange{SessionID: "s"})
	assert.Error(t, err)
	_, err = s.WriteExchange(ctx, Exchange{SessionID: "missing", RequestHash: "h", Method: "GET", Path: "/"})
	assert.Error(t, err, "foreign key to sessions is enforced")
}

func TestSessions(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := s.CreateSession(ctx, Session{ID: "b", ClientID: "c", StartedAt: t0.Add(time.Second)})
	require.NoError(t, err)
	_, err = s.CreateSession(ctx, Session{ID: "a", ClientID: "c", BaseURL: "http://h:8098", StartedAt: t0})
	require.NoError(t, err)

	sessions, err := s.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "a", sessions[0].ID)
	assert.Equal(t, "http://h:8098", sessions[0].BaseURL)
	assert.True(t, t0.Equal(sessions[0].StartedAt))

	_, err = s.ReadSession(ctx, "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	generated := createTestSession(t, s)
	assert.Len(t, generated.ID, 36)
}

func TestRecordAndReplay(t *testing.T) {
	s := createTestStore(t)
	sess := createTestSession(t, s)
	ctx := context.Background()

	rec := NewRecorder(s, sess.ID, logger.Nop())
	live := client.New(transport.Chain(testutil.NewStore(), rec.Middleware()), client.Options{Logger: logger.Nop()})

	v := object.New("users", "ann")
	require.NoError(t, v.SetJSON(map[string]any{"name": "Ann"}))
	_, err := live.Store(ctx, v)
	require.NoError(t, err)
	first, err := live.Fetch(ctx, "users", "ann")
	require.NoError(t, err)
	require.NoError(t, live.Delete(ctx, "users", "ann"))
	gone, err := live.Fetch(ctx, "users", "ann")
	require.NoError(t, err)
	require.Equal(t, 0, gone.Len())

	exchanges, err := s.ReadExchanges(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, exchanges, 4)
	assert.Equal(t, []string{"store", "fetch", "delete", "fetch"},
		[]string{exchanges[0].Op, exchanges[1].Op, exchanges[2].Op, exchanges[3].Op})

	replay, err := NewReplay(ctx, s, sess.ID)
	require.NoError(t, err)
	offline := client.New(replay, client.Options{Logger: logger.Nop()})

	_, err = offline.Store(ctx, v)
	require.NoError(t, err)
	got, err := offline.Fetch(ctx, "users", "ann")
	require.NoError(t, err)
	assert.Equal(t, first.Version().Data, got.Version().Data)
	require.NoError(t, offline.Delete(ctx, "users", "ann"))
	got, err = offline.Fetch(ctx, "users", "ann")
	require.NoError(t, err)
	assert.Equal(t, 0, got.Len(), "identical requests replay in seq order")
	assert.Equal(t, 0, replay.Remaining())

	_, err = offline.Fetch(ctx, "users", "ann")
	assert.True(t, kverr.IsTransport(err))
	assert.ErrorIs(t, err, ErrNotRecorded)
}

func TestRecordTransportFailure(t *testing.T) {
	s := createTestStore(t)
	sess := createTestSession(t, s)
	ctx := context.Background()

	boom := errors.New("connection reset")
	rec := NewRecorder(s, sess.ID, logger.Nop())
	tr := transport.Chain(testutil.NewScripted(testutil.Fail(boom)), rec.Middleware())

	_, err := tr.Do(ctx, &transport.Request{Op: "ping", Method: http.MethodGet, Path: "/ping"})
	assert.ErrorIs(t, err, boom)

	exchanges, err := s.ReadExchanges(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, exchanges, 1)
	assert.Equal(t, 0, exchanges[0].Status)
	assert.Equal(t, "connection reset", exchanges[0].Error)

	replay, err := NewReplay(ctx, s, sess.ID)
	require.NoError(t, err)
	_, err = replay.Do(ctx, &transport.Request{Method: http.MethodGet, Path: "/ping"})
	assert.True(t, kverr.IsTransport(err))
	assert.ErrorContains(t, err, "connection reset")
}

func TestNewReplay_UnknownSession(t *testing.T) {
	s := createTestStore(t)
	_, err := NewReplay(context.Background(), s, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
