package tracestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/kvq/internal/wire"
)

// Session is one recorded client run.
type Session struct {
	ID        string
	ClientID  string
	BaseURL   string
	StartedAt time.Time
}

// Exchange is one recorded request and its outcome.
type Exchange struct {
	ID          string
	SessionID   string
	Seq         int64
	Op          string
	Method      string
	Path        string
	RequestHash string

	RequestHeader http.Header
	RequestBody   []byte

	// Status is 0 when the transport failed; Error then holds the cause.
	Status         int
	ResponseHeader http.Header
	ResponseBody   []byte
	Error          string

	Duration time.Duration
}

// ErrSessionNotFound is returned for an unknown session ID.
var ErrSessionNotFound = errors.New("trace session not found")

// NewSessionID returns a time-ordered session ID.
func NewSessionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// CreateSession starts a session. An empty ID gets a generated one.
func (s *Store) CreateSession(ctx context.Context, sess Session) (Session, error) {
	if sess.ID == "" {
		sess.ID = NewSessionID()
	}
	if sess.StartedAt.IsZero() {
		sess.StartedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, client_id, base_url, started_at)
		VALUES (?, ?, ?, ?)
	`, sess.ID, sess.ClientID, sess.BaseURL, sess.StartedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return Session{}, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

// ReadSession returns the session with id.
func (s *Store) ReadSession(ctx context.Context, id string) (Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, client_id, base_url, started_at FROM sessions WHERE id = ?
	`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("read session %s: %w", id, ErrSessionNotFound)
	}
	return sess, err
}

// Sessions returns every session, oldest first.
func (s *Store) Sessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, client_id, base_url, started_at FROM sessions
		ORDER BY started_at ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (Session, error) {
	var sess Session
	var started string
	if err := row.Scan(&sess.ID, &sess.ClientID, &sess.BaseURL, &started); err != nil {
		return Session{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, started)
	if err != nil {
		return Session{}, fmt.Errorf("session %s: bad started_at: %w", sess.ID, err)
	}
	sess.StartedAt = t
	return sess, nil
}

// WriteExchange appends ex to its session. ID and RequestHash are filled in
// when empty. Writing the same exchange twice is a no-op.
func (s *Store) WriteExchange(ctx context.Context, ex Exchange) (Exchange, error) {
	if ex.SessionID == "" {
		return Exchange{}, errors.New("write exchange: session ID is required")
	}
	if ex.RequestHash == "" {
		return Exchange{}, errors.New("write exchange: request hash is required")
	}
	if ex.ID == "" {
		id, err := ExchangeID(ex.SessionID, ex.Seq, ex.RequestHash)
		if err != nil {
			return Exchange{}, fmt.Errorf("write exchange: %w", err)
		}
		ex.ID = id
	}

	reqHeader, err := marshalHeader(ex.RequestHeader)
	if err != nil {
		return Exchange{}, fmt.Errorf("write exchange: %w", err)
	}
	respHeader, err := marshalHeader(ex.ResponseHeader)
	if err != nil {
		return Exchange{}, fmt.Errorf("write exchange: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO exchanges
		(id, session_id, seq, op, method, path, request_hash, request_header, request_body,
		 status, response_header, response_body, error, duration_us)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		ex.ID, ex.SessionID, ex.Seq, ex.Op, ex.Method, ex.Path, ex.RequestHash, reqHeader, ex.RequestBody,
		ex.Status, respHeader, ex.ResponseBody, ex.Error, ex.Duration.Microseconds(),
	)
	if err != nil {
		return Exchange{}, fmt.Errorf("write exchange: %w", err)
	}
	return ex, nil
}

// ReadExchanges returns the exchanges of a session in seq order.
func (s *Store) ReadExchanges(ctx context.Context, sessionID string) ([]Exchange, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, seq, op, method, path, request_hash, request_header, request_body,
		       status, response_header, response_body, error, duration_us
		FROM exchanges
		WHERE session_id = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query exchanges: %w", err)
	}
	defer rows.Close()

	exchanges := []Exchange{}
	for rows.Next() {
		ex, err := scanExchange(rows)
		if err != nil {
			return nil, err
		}
		exchanges = append(exchanges, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exchanges: %w", err)
	}
	return exchanges, nil
}

func scanExchange(row scanner) (Exchange, error) {
	var ex Exchange
	var reqHeader, respHeader string
	var durationUS int64
	err := row.Scan(
		&ex.ID, &ex.SessionID, &ex.Seq, &ex.Op, &ex.Method, &ex.Path, &ex.RequestHash, &reqHeader, &ex.RequestBody,
		&ex.Status, &respHeader, &ex.ResponseBody, &ex.Error, &durationUS,
	)
	if err != nil {
		return Exchange{}, fmt.Errorf("scan exchange: %w", err)
	}
	if ex.RequestHeader, err = unmarshalHeader(reqHeader); err != nil {
		return Exchange{}, fmt.Errorf("exchange %s: %w", ex.ID, err)
	}
	if ex.ResponseHeader, err = unmarshalHeader(respHeader); err != nil {
		return Exchange{}, fmt.Errorf("exchange %s: %w", ex.ID, err)
	}
	ex.Duration = time.Duration(durationUS) * time.Microsecond
	return ex, nil
}

// marshalHeader stores a header as canonical JSON. Header names keep the
// case they were sent with since the store double writes raw keys.
func marshalHeader(h http.Header) (string, error) {
	obj := wire.Object{}
	for name, values := range h {
		obj[name] = wire.Strings(slices.Clone(values)...)
	}
	data, err := wire.Encode(obj)
	if err != nil {
		return "", fmt.Errorf("marshal header: %w", err)
	}
	return string(data), nil
}

func unmarshalHeader(data string) (http.Header, error) {
	h := http.Header{}
	if data == "" || data == "{}" {
		return h, nil
	}
	if err := json.Unmarshal([]byte(data), &h); err != nil {
		return nil, fmt.Errorf("unmarshal header: %w", err)
	}
	return h, nil
}
