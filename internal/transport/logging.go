package transport

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

type logging struct {
	next Transport
	log  zerolog.Logger
}

// WithLogging logs every exchange: method, path, status and duration at
// debug, failures at warn.
func WithLogging(log zerolog.Logger) Middleware {
	return func(next Transport) Transport {
		return &logging{next: next, log: log}
	}
}

func (l *logging) Do(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()
	resp, err := l.next.Do(ctx, req)
	elapsed := time.Since(start)

	if err != nil {
		l.log.Warn().
			Str("op", req.Op).
			Str("method", req.Method).
			Str("path", req.Path).
			Dur("duration_ms", elapsed).
			Err(err).
			Msg("request failed")
		return nil, err
	}

	l.log.Debug().
		Str("op", req.Op).
		Str("method", req.Method).
		Str("path", req.Path).
		Int("status", resp.Status).
		Int("bytes", len(resp.Body)).
		Dur("duration_ms", elapsed).
		Msg("request completed")
	return resp, nil
}
