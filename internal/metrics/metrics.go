// Package metrics instruments the transport with Prometheus metrics.
package metrics

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/roach88/kvq/internal/kverr"
	"github.com/roach88/kvq/internal/transport"
)

// Metrics holds the client's Prometheus collectors.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge
	SiblingsTotal    prometheus.Counter
	ConflictsTotal   prometheus.Counter

	registry *prometheus.Registry
}

// New creates the collectors and registers them on a private registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kvq_requests_total",
			Help: "Total number of requests sent to the store",
		},
		[]string{"operation", "status"},
	)

	m.RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kvq_request_duration_seconds",
			Help:    "Duration of store requests in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"operation"},
	)

	m.RequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kvq_requests_in_flight",
			Help: "Number of store requests currently in flight",
		},
	)

	m.SiblingsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kvq_siblings_total",
			Help: "Total number of sibling responses received",
		},
	)

	m.ConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kvq_conflicts_total",
			Help: "Total number of store requests rejected as conflicts",
		},
	)

	m.registry.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.SiblingsTotal,
		m.ConflictsTotal,
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteText writes every collected metric to w in the text exposition
// format.
func (m *Metrics) WriteText(w io.Writer) error {
	families, err := m.registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("encode metrics: %w", err)
		}
	}
	return nil
}

// Middleware returns a transport decorator that records every exchange.
func (m *Metrics) Middleware() transport.Middleware {
	return func(next transport.Transport) transport.Transport {
		return transport.Func(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			op := Operation(req)
			m.RequestsInFlight.Inc()
			start := time.Now()

			resp, err := next.Do(ctx, req)

			m.RequestsInFlight.Dec()
			m.RequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

			status := "error"
			if err == nil {
				status = strconv.Itoa(resp.Status)
				if resp.Status == http.StatusMultipleChoices {
					m.SiblingsTotal.Inc()
				}
				if resp.Status == http.StatusConflict || resp.Status == http.StatusPreconditionFailed {
					m.ConflictsTotal.Inc()
				}
			} else if kverr.IsConflict(err) {
				m.ConflictsTotal.Inc()
			}
			m.RequestsTotal.WithLabelValues(op, status).Inc()
			return resp, err
		})
	}
}

// Operation names the client operation a request belongs to, keeping
// label cardinality bounded. Requests without Op are classified by shape.
func Operation(req *transport.Request) string {
	if req.Op != "" {
		return req.Op
	}
	path, _, _ := strings.Cut(req.Path, "?")
	switch {
	case path == "/ping":
		return "ping"
	case strings.HasPrefix(path, "/buckets/") && strings.Contains(path, "/index/"):
		return "index"
	case req.Method == http.MethodPost && strings.Count(path, "/") == 1:
		return "mapred"
	case strings.Contains(req.Path, "props=true") || (req.Method == http.MethodPut && strings.Count(path, "/") == 2):
		return "props"
	}

	switch req.Method {
	case http.MethodGet:
		return "fetch"
	case http.MethodPut, http.MethodPost:
		return "store"
	case http.MethodDelete:
		return "delete"
	default:
		return "other"
	}
}
