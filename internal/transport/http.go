package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/roach88/kvq/internal/kverr"
)

// DefaultTimeout bounds a single request when none is configured.
const DefaultTimeout = 30 * time.Second

// HTTP sends requests to a store over HTTP.
type HTTP struct {
	base   *url.URL
	client *http.Client
}

// NewHTTP returns a transport for the store at baseURL.
func NewHTTP(baseURL string, timeout time.Duration) (*HTTP, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", baseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("base url %q has no host", baseURL)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTP{base: u, client: &http.Client{Timeout: timeout}}, nil
}

// BaseURL returns the configured base URL.
func (t *HTTP) BaseURL() string {
	return t.base.String()
}

// Do implements Transport. Network failures and timeouts are Transport
// errors; every received status is returned as a Response.
func (t *HTTP) Do(ctx context.Context, req *Request) (*Response, error) {
	target := t.base.String() + req.Path

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	hreq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, kverr.Transport(req.Method+" "+req.Path, err)
	}
	for k, vs := range req.Header {
		hreq.Header[k] = vs
	}

	resp, err := t.client.Do(hreq)
	if err != nil {
		return nil, kverr.Transport(req.Method+" "+req.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, kverr.Transport(req.Method+" "+req.Path, fmt.Errorf("read body: %w", err))
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: data}, nil
}
