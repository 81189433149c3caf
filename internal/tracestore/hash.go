package tracestore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/roach88/kvq/internal/transport"
	"github.com/roach88/kvq/internal/wire"
)

// Domain prefixes for content-addressed identity.
const (
	DomainRequest  = "kvq/request/v1"
	DomainExchange = "kvq/exchange/v1"
)

// hashWithDomain returns hex(SHA256(domain + 0x00 + data)).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// identityHeaders are the request headers that decide what a request means.
// The client ID, Accept and transport-level headers are left out so a
// replay from another client still matches.
func identityHeaders(h http.Header) wire.Object {
	out := wire.Object{}
	for name, values := range h {
		lower := strings.ToLower(name)
		switch {
		case lower == "x-riak-clientid":
			continue
		case lower == "content-type", lower == "link", strings.HasPrefix(lower, "x-riak-"):
			sorted := slices.Clone(values)
			slices.Sort(sorted)
			out[lower] = wire.Strings(sorted...)
		}
	}
	return out
}

// RequestHash identifies what a request asks for: method, path, identity
// headers and a digest of the body.
func RequestHash(req *transport.Request) (string, error) {
	body := sha256.Sum256(req.Body)
	obj := wire.Object{
		"method":  wire.String(req.Method),
		"path":    wire.String(req.Path),
		"headers": identityHeaders(req.Header),
		"body":    wire.String(hex.EncodeToString(body[:])),
	}
	canonical, err := wire.Encode(obj)
	if err != nil {
		return "", fmt.Errorf("RequestHash: %w", err)
	}
	return hashWithDomain(DomainRequest, canonical), nil
}

// ExchangeID computes the ID of the seq-th exchange of a session.
func ExchangeID(sessionID string, seq int64, requestHash string) (string, error) {
	obj := wire.Object{
		"session_id":   wire.String(sessionID),
		"seq":          wire.Int(seq),
		"request_hash": wire.String(requestHash),
	}
	canonical, err := wire.Encode(obj)
	if err != nil {
		return "", fmt.Errorf("ExchangeID: %w", err)
	}
	return hashWithDomain(DomainExchange, canonical), nil
}
