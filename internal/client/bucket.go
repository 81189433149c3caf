package client

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/roach88/kvq/internal/kverr"
	"github.com/roach88/kvq/internal/transport"
	"github.com/roach88/kvq/internal/wire"
)

// Bucket property names the client sets directly.
const (
	PropAllowMult = "allow_mult"
	PropNVal      = "n_val"
)

// GetBucketProps returns the properties of bucket. Numbers are decoded as
// json.Number.
func (c *Client) GetBucketProps(ctx context.Context, bucket string) (map[string]any, error) {
	if bucket == "" {
		return nil, kverr.Validation("get bucket props", "bucket is required")
	}

	resp, err := c.do(ctx, &transport.Request{
		Op:     "props",
		Method: http.MethodGet,
		Path:   c.bucketPath(bucket) + "?props=true&keys=false",
	})
	if err != nil {
		return nil, err
	}
	if resp.Status != http.StatusOK {
		return nil, kverr.Status("get bucket props", resp.Status, resp.Body)
	}

	var doc struct {
		Props map[string]any `json:"props"`
	}
	dec := json.NewDecoder(bytes.NewReader(resp.Body))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil || doc.Props == nil {
		return nil, kverr.Malformed("get bucket props", err, "response has no props object")
	}
	return doc.Props, nil
}

// SetBucketProps updates the given properties of bucket.
func (c *Client) SetBucketProps(ctx context.Context, bucket string, props map[string]any) error {
	if bucket == "" {
		return kverr.Validation("set bucket props", "bucket is required")
	}
	val, err := wire.FromGo(props)
	if err != nil {
		return kverr.Validation("set bucket props", "%v", err)
	}
	body, err := wire.Encode(wire.Object{"props": val})
	if err != nil {
		return kverr.Validation("set bucket props", "%v", err)
	}

	resp, err := c.do(ctx, &transport.Request{
		Op:     "props",
		Method: http.MethodPut,
		Path:   c.bucketPath(bucket),
		Header: http.Header{"Content-Type": {"application/json"}},
		Body:   body,
	})
	if err != nil {
		return err
	}
	switch resp.Status {
	case http.StatusOK, http.StatusNoContent:
		return nil
	default:
		return kverr.Status("set bucket props", resp.Status, resp.Body)
	}
}

// SetAllowMultiples turns sibling creation on or off for bucket.
func (c *Client) SetAllowMultiples(ctx context.Context, bucket string, allow bool) error {
	return c.SetBucketProps(ctx, bucket, map[string]any{PropAllowMult: allow})
}

// SetNVal sets the replication factor of bucket.
func (c *Client) SetNVal(ctx context.Context, bucket string, n int) error {
	if n < 1 {
		return kverr.Validation("set n_val", "n_val must be positive, got %d", n)
	}
	return c.SetBucketProps(ctx, bucket, map[string]any{PropNVal: n})
}

// AllowMultiples reports whether bucket keeps siblings.
func (c *Client) AllowMultiples(ctx context.Context, bucket string) (bool, error) {
	props, err := c.GetBucketProps(ctx, bucket)
	if err != nil {
		return false, err
	}
	allow, _ := props[PropAllowMult].(bool)
	return allow, nil
}
