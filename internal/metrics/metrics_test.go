package metrics

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kvq/internal/kverr"
	"github.com/roach88/kvq/internal/transport"
)

func TestMiddleware_CountsRequests(t *testing.T) {
	m := New()
	statuses := map[string]int{
		"/riak/b/k":  http.StatusOK,
		"/riak/b/s":  http.StatusMultipleChoices,
		"/riak/b/c":  http.StatusPreconditionFailed,
		"/riak/b/nf": http.StatusNotFound,
	}
	base := transport.Func(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
		if req.Path == "/down" {
			return nil, kverr.Transport("GET /down", errors.New("refused"))
		}
		return &transport.Response{Status: statuses[req.Path]}, nil
	})
	tr := transport.Chain(base, m.Middleware())

	ctx := context.Background()
	for _, path := range []string{"/riak/b/k", "/riak/b/s", "/riak/b/nf"} {
		_, err := tr.Do(ctx, &transport.Request{Op: "fetch", Method: http.MethodGet, Path: path})
		require.NoError(t, err)
	}
	_, err := tr.Do(ctx, &transport.Request{Op: "store", Method: http.MethodPut, Path: "/riak/b/c"})
	require.NoError(t, err)
	_, err = tr.Do(ctx, &transport.Request{Op: "ping", Method: http.MethodGet, Path: "/down"})
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("fetch", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("fetch", "300")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("fetch", "404")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("store", "412")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("ping", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SiblingsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConflictsTotal))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.RequestsInFlight))
	assert.Equal(t, 3, testutil.CollectAndCount(m.RequestDuration))
}

func TestOperation(t *testing.T) {
	testCases := []struct {
		method string
		path   string
		want   string
	}{
		{http.MethodGet, "/ping", "ping"},
		{http.MethodGet, "/riak/b/k", "fetch"},
		{http.MethodPut, "/riak/b/k?returnbody=true", "store"},
		{http.MethodPost, "/riak/b?returnbody=true", "store"},
		{http.MethodDelete, "/riak/b/k", "delete"},
		{http.MethodPost, "/mapred", "mapred"},
		{http.MethodGet, "/buckets/b/index/foo_int/1", "index"},
		{http.MethodGet, "/riak/b?props=true&keys=false", "props"},
		{http.MethodPut, "/riak/b", "props"},
		{http.MethodHead, "/riak/b/k", "other"},
	}

	for _, tc := range testCases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			assert.Equal(t, tc.want, Operation(&transport.Request{Method: tc.method, Path: tc.path}))
		})
	}

	assert.Equal(t, "custom", Operation(&transport.Request{Op: "custom", Method: http.MethodGet, Path: "/ping"}))
}

func TestWriteText(t *testing.T) {
	m := New()
	m.SiblingsTotal.Add(2)
	m.RequestsTotal.WithLabelValues("fetch", "200").Inc()

	var buf strings.Builder
	require.NoError(t, m.WriteText(&buf))
	assert.Contains(t, buf.String(), "kvq_siblings_total 2")
	assert.Contains(t, buf.String(), `kvq_requests_total{operation="fetch",status="200"} 1`)
}
