// Package transport carries requests to the store. Everything above it
// speaks Request and Response; only HTTP touches the network.
package transport

import (
	"context"
	"net/http"
)

// Request is one call to the store. Path includes any query string.
type Request struct {
	// Op names the client operation ("fetch", "store", ...) for logs and
	// metrics. It is not sent.
	Op string

	Method string
	Path   string
	Header http.Header
	Body   []byte
}

// Response is the store's answer.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Transport sends one request and returns the response. Implementations
// return an error only when no response was received; any status code is a
// valid response.
type Transport interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// Func adapts a function to Transport.
type Func func(ctx context.Context, req *Request) (*Response, error)

// Do calls f.
func (f Func) Do(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// Middleware wraps a Transport.
type Middleware func(Transport) Transport

// Chain applies middlewares so the first one is outermost.
func Chain(t Transport, mws ...Middleware) Transport {
	for i := len(mws) - 1; i >= 0; i-- {
		t = mws[i](t)
	}
	return t
}
