package tracestore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/roach88/kvq/internal/kverr"
	"github.com/roach88/kvq/internal/transport"
)

// ErrNotRecorded is returned by Replay for a request the session never saw,
// or saw fewer times than it is now asked.
var ErrNotRecorded = errors.New("request not recorded in session")

// Replay is a transport answering from a recorded session. Identical
// requests receive their recorded responses in seq order. Recorded transport
// failures are replayed as Transport errors.
type Replay struct {
	mu      sync.Mutex
	session string
	pending map[string][]Exchange
}

// NewReplay loads session from store.
func NewReplay(ctx context.Context, store *Store, session string) (*Replay, error) {
	if _, err := store.ReadSession(ctx, session); err != nil {
		return nil, err
	}
	exchanges, err := store.ReadExchanges(ctx, session)
	if err != nil {
		return nil, err
	}
	pending := make(map[string][]Exchange)
	for _, ex := range exchanges {
		pending[ex.RequestHash] = append(pending[ex.RequestHash], ex)
	}
	return &Replay{session: session, pending: pending}, nil
}

// Remaining returns how many recorded exchanges have not been replayed.
func (r *Replay) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, q := range r.pending {
		n += len(q)
	}
	return n
}

// Do implements transport.Transport.
func (r *Replay) Do(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	hash, err := RequestHash(req)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	queue := r.pending[hash]
	if len(queue) == 0 {
		r.mu.Unlock()
		return nil, kverr.Transport(req.Op, fmt.Errorf("%s %s: %w", req.Method, req.Path, ErrNotRecorded))
	}
	ex := queue[0]
	r.pending[hash] = queue[1:]
	r.mu.Unlock()

	if ex.Error != "" {
		return nil, kverr.Transport(req.Op, errors.New(ex.Error))
	}
	return &transport.Response{
		Status: ex.Status,
		Header: ex.ResponseHeader.Clone(),
		Body:   slices.Clone(ex.ResponseBody),
	}, nil
}
