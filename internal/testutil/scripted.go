package testutil

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/roach88/kvq/internal/transport"
)

// Step is one scripted answer: a response or a transport failure.
type Step struct {
	Resp *transport.Response
	Err  error
}

// Respond scripts a response.
func Respond(status int, header http.Header, body string) Step {
	if header == nil {
		header = http.Header{}
	}
	return Step{Resp: &transport.Response{Status: status, Header: header, Body: []byte(body)}}
}

// Fail scripts a transport failure.
func Fail(err error) Step {
	return Step{Err: err}
}

// Scripted is a transport that answers requests from a fixed script and
// records what it was sent. Running past the end of the script is an error.
type Scripted struct {
	mu       sync.Mutex
	steps    []Step
	requests []*transport.Request
}

// NewScripted returns a transport answering with steps in order.
func NewScripted(steps ...Step) *Scripted {
	return &Scripted{steps: steps}
}

// Do implements transport.Transport.
func (s *Scripted) Do(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, req)
	if len(s.steps) == 0 {
		return nil, fmt.Errorf("unexpected request %s %s", req.Method, req.Path)
	}
	next := s.steps[0]
	s.steps = s.steps[1:]
	return next.Resp, next.Err
}

// Requests returns the requests received so far.
func (s *Scripted) Requests() []*transport.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*transport.Request(nil), s.requests...)
}

// Last returns the most recent request, or nil.
func (s *Scripted) Last() *transport.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		return nil
	}
	return s.requests[len(s.requests)-1]
}

// Remaining returns how many scripted steps are unused.
func (s *Scripted) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.steps)
}
