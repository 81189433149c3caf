package tracestore

import (
	"context"
	"slices"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/roach88/kvq/internal/transport"
)

// Recorder appends every exchange passing through it to one session.
type Recorder struct {
	store   *Store
	session string
	seq     atomic.Int64
	log     zerolog.Logger
}

// NewRecorder records into session, which must exist.
func NewRecorder(store *Store, session string, log zerolog.Logger) *Recorder {
	return &Recorder{store: store, session: session, log: log}
}

// Session returns the session ID being recorded.
func (r *Recorder) Session() string { return r.session }

// Middleware returns the recording decorator. A failed write to the log is
// logged and does not fail the request.
func (r *Recorder) Middleware() transport.Middleware {
	return func(next transport.Transport) transport.Transport {
		return transport.Func(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			start := time.Now()
			resp, err := next.Do(ctx, req)
			r.record(ctx, req, resp, err, time.Since(start))
			return resp, err
		})
	}
}

func (r *Recorder) record(ctx context.Context, req *transport.Request, resp *transport.Response, err error, elapsed time.Duration) {
	hash, herr := RequestHash(req)
	if herr != nil {
		r.log.Warn().Err(herr).Str("path", req.Path).Msg("trace: cannot hash request")
		return
	}

	ex := Exchange{
		SessionID:     r.session,
		Seq:           r.seq.Add(1),
		Op:            req.Op,
		Method:        req.Method,
		Path:          req.Path,
		RequestHash:   hash,
		RequestHeader: req.Header.Clone(),
		RequestBody:   slices.Clone(req.Body),
		Duration:      elapsed,
	}
	if err != nil {
		ex.Error = err.Error()
	} else if resp != nil {
		ex.Status = resp.Status
		ex.ResponseHeader = resp.Header.Clone()
		ex.ResponseBody = slices.Clone(resp.Body)
	}

	// The request context may already be done; the log write should not be.
	if _, werr := r.store.WriteExchange(context.WithoutCancel(ctx), ex); werr != nil {
		r.log.Warn().Err(werr).Int64("seq", ex.Seq).Msg("trace: cannot write exchange")
	}
}
