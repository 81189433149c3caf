package client

import (
	"context"
	"net/http"

	"github.com/roach88/kvq/internal/index"
	"github.com/roach88/kvq/internal/kverr"
	"github.com/roach88/kvq/internal/pipeline"
	"github.com/roach88/kvq/internal/transport"
)

// Execute compiles p, runs it on the store and decodes the kept results.
func (c *Client) Execute(ctx context.Context, p *pipeline.Pipeline) (*pipeline.Results, error) {
	if p == nil {
		return nil, kverr.Validation("execute", "nil pipeline")
	}
	body, err := p.Compile()
	if err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, &transport.Request{
		Op:     "mapred",
		Method: http.MethodPost,
		Path:   "/" + c.mapred,
		Header: http.Header{"Content-Type": {"application/json"}},
		Body:   body,
	})
	if err != nil {
		return nil, err
	}
	if resp.Status != http.StatusOK {
		return nil, kverr.Status("execute", resp.Status, resp.Body)
	}
	return p.DecodeResults(resp.Body)
}

// IndexQuery returns the keys matching a secondary-index query.
func (c *Client) IndexQuery(ctx context.Context, q index.Query) ([]string, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, &transport.Request{
		Op:     "index",
		Method: http.MethodGet,
		Path:   q.Path(),
	})
	if err != nil {
		return nil, err
	}
	if resp.Status != http.StatusOK {
		return nil, kverr.Status("index query", resp.Status, resp.Body)
	}
	return index.DecodeKeys(resp.Body, q.Dedupe)
}
