// Package client is the kvq entry point: object fetch and store with
// sibling handling, map/reduce execution, secondary-index queries and bucket
// properties.
//
// Every operation issues exactly one request through the Transport and
// returns when it completes. Nothing is retried.
package client

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/roach88/kvq/internal/config"
	"github.com/roach88/kvq/internal/kverr"
	"github.com/roach88/kvq/internal/logger"
	"github.com/roach88/kvq/internal/transport"
)

// Options configures a Client.
type Options struct {
	// Prefix is the object path prefix ("riak").
	Prefix string

	// MapredPrefix is the map/reduce path ("mapred").
	MapredPrefix string

	// ClientID identifies this client to the store. A random one is
	// generated when empty.
	ClientID string

	Logger zerolog.Logger
}

// Client talks to one store through a Transport. It is safe for concurrent
// use; the values it returns are not.
type Client struct {
	tr       transport.Transport
	prefix   string
	mapred   string
	clientID string
	log      zerolog.Logger
}

// New returns a client using tr.
func New(tr transport.Transport, opts Options) *Client {
	if opts.Prefix == "" {
		opts.Prefix = config.DefaultPrefix
	}
	if opts.MapredPrefix == "" {
		opts.MapredPrefix = config.DefaultMapredPrefix
	}
	if opts.ClientID == "" {
		opts.ClientID = NewClientID()
	}
	return &Client{
		tr:       tr,
		prefix:   opts.Prefix,
		mapred:   opts.MapredPrefix,
		clientID: opts.ClientID,
		log:      logger.Component(opts.Logger, "client"),
	}
}

// NewFromConfig builds an HTTP transport from cfg, wraps it with mws (first
// outermost) and returns a client over it.
func NewFromConfig(cfg config.Config, log zerolog.Logger, mws ...transport.Middleware) (*Client, error) {
	base, err := transport.NewHTTP(cfg.BaseURL, cfg.Timeout)
	if err != nil {
		return nil, err
	}
	return New(transport.Chain(base, mws...), Options{
		Prefix:       cfg.Prefix,
		MapredPrefix: cfg.MapredPrefix,
		ClientID:     cfg.ClientID,
		Logger:       log,
	}), nil
}

// NewClientID returns a fresh client identifier.
func NewClientID() string {
	return "kvq-" + uuid.NewString()
}

// ClientID returns the identifier sent with writes.
func (c *Client) ClientID() string { return c.clientID }

// Prefix returns the object path prefix.
func (c *Client) Prefix() string { return c.prefix }

func (c *Client) objectPath(bucket, key string) string {
	return "/" + c.prefix + "/" + url.PathEscape(bucket) + "/" + url.PathEscape(key)
}

func (c *Client) bucketPath(bucket string) string {
	return "/" + c.prefix + "/" + url.PathEscape(bucket)
}

// do sends req and normalizes transport failures into Transport errors.
func (c *Client) do(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	resp, err := c.tr.Do(ctx, req)
	if err != nil {
		var kerr *kverr.Error
		if errors.As(err, &kerr) {
			return nil, err
		}
		return nil, kverr.Transport(req.Op, err)
	}
	if resp == nil {
		return nil, kverr.Transport(req.Op, errors.New("transport returned no response"))
	}
	return resp, nil
}

// Ping checks that the store answers.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.do(ctx, &transport.Request{Op: "ping", Method: http.MethodGet, Path: "/ping"})
	if err != nil {
		return err
	}
	if resp.Status != http.StatusOK {
		return kverr.Status("ping", resp.Status, resp.Body)
	}
	return nil
}
