package client

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/roach88/kvq/internal/kverr"
	"github.com/roach88/kvq/internal/object"
	"github.com/roach88/kvq/internal/transport"
)

// Fetch reads every sibling of bucket/key. A missing key is an empty set,
// not an error.
func (c *Client) Fetch(ctx context.Context, bucket, key string) (*object.Siblings, error) {
	if bucket == "" || key == "" {
		return nil, kverr.Validation("fetch", "bucket and key are required")
	}

	resp, err := c.do(ctx, &transport.Request{
		Op:     "fetch",
		Method: http.MethodGet,
		Path:   c.objectPath(bucket, key),
		Header: http.Header{"Accept": {"multipart/mixed, */*;q=0.5"}},
	})
	if err != nil {
		return nil, err
	}

	switch resp.Status {
	case http.StatusNotFound:
		return object.NewSiblings(bucket, key), nil
	case http.StatusOK, http.StatusMultipleChoices:
		sibs, err := object.DecodeSiblings(bucket, key, resp.Status, resp.Header, resp.Body)
		if err != nil {
			return nil, err
		}
		if sibs.Conflicted() {
			c.log.Debug().
				Str("bucket", bucket).
				Str("key", key).
				Int("siblings", sibs.Len()).
				Msg("siblings detected")
		}
		return sibs, nil
	default:
		return nil, kverr.Status("fetch", resp.Status, resp.Body)
	}
}

// Reload fetches the current siblings of v's key.
func (c *Client) Reload(ctx context.Context, v *object.Version) (*object.Siblings, error) {
	if v == nil {
		return nil, kverr.Validation("reload", "nil version")
	}
	return c.Fetch(ctx, v.Bucket, v.Key)
}

// Store writes v and returns the version the store now holds. Registered
// auto indexes on v are recomputed from its payload first.
//
// An empty key lets the store assign one. If the write leaves the key with
// several siblings, the result is v with the new token and Conflicted set.
// A stale or rejected token is a Conflict error.
func (c *Client) Store(ctx context.Context, v *object.Version) (*object.Version, error) {
	if v == nil || v.Bucket == "" {
		return nil, kverr.Validation("store", "version needs a bucket")
	}
	if err := object.ValidateVClock(v.VClock); err != nil {
		return nil, err
	}
	if v.Indexes != nil && len(v.Indexes.AutoIndexes()) > 0 {
		if err := v.Indexes.Derive(v.Data); err != nil {
			return nil, err
		}
	}

	header, err := object.EncodeHeaders(v, c.prefix, c.clientID)
	if err != nil {
		return nil, err
	}

	req := &transport.Request{
		Op:     "store",
		Method: http.MethodPut,
		Path:   c.objectPath(v.Bucket, v.Key) + "?returnbody=true",
		Header: header,
		Body:   v.Data,
	}
	if v.Key == "" {
		req.Method = http.MethodPost
		req.Path = c.bucketPath(v.Bucket) + "?returnbody=true"
	}

	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}

	key := v.Key
	if loc := resp.Header.Get("Location"); loc != "" {
		if k, ok := keyFromLocation(loc); ok {
			key = k
		}
	}

	switch resp.Status {
	case http.StatusOK, http.StatusCreated:
		if len(resp.Body) == 0 {
			return c.acknowledged(v, key, resp), nil
		}
		stored, err := object.DecodeVersion(v.Bucket, key, resp.Header, resp.Body, resp.Header.Get(object.HeaderVClock))
		if err != nil {
			return nil, err
		}
		c.log.Debug().Str("bucket", v.Bucket).Str("key", key).Msg("stored")
		return stored, nil
	case http.StatusNoContent:
		return c.acknowledged(v, key, resp), nil
	case http.StatusMultipleChoices:
		out := c.acknowledged(v, key, resp)
		out.Conflicted = true
		c.log.Debug().Str("bucket", v.Bucket).Str("key", key).Msg("store left siblings")
		return out, nil
	case http.StatusConflict, http.StatusPreconditionFailed:
		return nil, &kverr.Error{
			Code:    kverr.CodeConflict,
			Op:      "store",
			Message: "causality token rejected",
			Status:  resp.Status,
			Body:    resp.Body,
		}
	default:
		return nil, kverr.Status("store", resp.Status, resp.Body)
	}
}

// acknowledged returns a copy of v carrying the key and token the store
// answered with.
func (c *Client) acknowledged(v *object.Version, key string, resp *transport.Response) *object.Version {
	out := v.Clone()
	out.Key = key
	if vc := resp.Header.Get(object.HeaderVClock); vc != "" {
		out.VClock = vc
	}
	return out
}

// keyFromLocation extracts the key from "/<prefix>/<bucket>/<key>".
func keyFromLocation(loc string) (string, bool) {
	if u, err := url.Parse(loc); err == nil {
		loc = u.EscapedPath()
	}
	i := strings.LastIndexByte(loc, '/')
	if i < 0 || i == len(loc)-1 {
		return "", false
	}
	key, err := url.PathUnescape(loc[i+1:])
	if err != nil {
		return "", false
	}
	return key, true
}

// Delete removes bucket/key. Deleting a missing key succeeds.
func (c *Client) Delete(ctx context.Context, bucket, key string) error {
	if bucket == "" || key == "" {
		return kverr.Validation("delete", "bucket and key are required")
	}

	resp, err := c.do(ctx, &transport.Request{
		Op:     "delete",
		Method: http.MethodDelete,
		Path:   c.objectPath(bucket, key),
		Header: http.Header{object.HeaderClientID: {c.clientID}},
	})
	if err != nil {
		return err
	}

	switch resp.Status {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return kverr.Status("delete", resp.Status, resp.Body)
	}
}
