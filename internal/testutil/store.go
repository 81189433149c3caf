// Package testutil provides test doubles for code that talks to a store
// through transport.Transport.
//
// Store is an in-memory stand-in for the store's HTTP interface. It models
// what a client can observe: causality tokens, siblings when allow_mult is
// on, secondary indexes, key filters, link walks and a small set of
// built-in map/reduce functions. It does not model replication or quorum.
package testutil

import (
	"bytes"
	"cmp"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/roach88/kvq/internal/index"
	"github.com/roach88/kvq/internal/object"
	"github.com/roach88/kvq/internal/transport"
)

type record struct {
	vclock   string
	siblings []*object.Version
}

type bucketState struct {
	props   map[string]any
	objects map[string]*record
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithPrefix sets the object path prefix (default "riak").
func WithPrefix(prefix string) StoreOption { return func(s *Store) { s.prefix = prefix } }

// WithMapredPrefix sets the map/reduce path (default "mapred").
func WithMapredPrefix(prefix string) StoreOption { return func(s *Store) { s.mapred = prefix } }

// WithKeys sets the generator for server-assigned keys.
func WithKeys(g KeyGenerator) StoreOption { return func(s *Store) { s.keys = g } }

// WithClock sets the clock behind tokens and Last-Modified.
func WithClock(c *DeterministicClock) StoreOption { return func(s *Store) { s.clock = c } }

// Store is an in-memory store implementing transport.Transport. It is safe
// for concurrent use.
type Store struct {
	mu       sync.Mutex
	prefix   string
	mapred   string
	keys     KeyGenerator
	clock    *DeterministicClock
	buckets  map[string]*bucketState
	requests []transport.Request
}

// NewStore returns an empty store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		prefix:  "riak",
		mapred:  "mapred",
		keys:    UUIDKeys{},
		clock:   NewDeterministicClock(),
		buckets: make(map[string]*bucketState),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Requests returns a copy of every request received, in order.
func (s *Store) Requests() []transport.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.requests)
}

// SiblingCount returns how many live siblings bucket/key holds.
func (s *Store) SiblingCount(bucket, key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec := s.bucket(bucket).objects[key]; rec != nil {
		return len(rec.siblings)
	}
	return 0
}

func (s *Store) bucket(name string) *bucketState {
	b, ok := s.buckets[name]
	if !ok {
		b = &bucketState{
			props:   map[string]any{"name": name, "allow_mult": false, "n_val": json.Number("3")},
			objects: make(map[string]*record),
		}
		s.buckets[name] = b
	}
	return b
}

func (s *Store) allowMult(bucket string) bool {
	allow, _ := s.bucket(bucket).props["allow_mult"].(bool)
	return allow
}

// Do implements transport.Transport.
func (s *Store) Do(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, *req)

	rawPath, rawQuery, _ := strings.Cut(req.Path, "?")
	query, _ := url.ParseQuery(rawQuery)
	var segs []string
	for _, seg := range strings.Split(strings.Trim(rawPath, "/"), "/") {
		un, err := url.PathUnescape(seg)
		if err != nil {
			return text(http.StatusBadRequest, "bad path"), nil
		}
		segs = append(segs, un)
	}

	switch {
	case rawPath == "/ping" && req.Method == http.MethodGet:
		return text(http.StatusOK, "OK"), nil
	case len(segs) == 1 && segs[0] == s.mapred && req.Method == http.MethodPost:
		return s.mapReduce(req.Body), nil
	case len(segs) >= 5 && segs[0] == "buckets" && segs[2] == "index":
		return s.indexQuery(segs[1], segs[3], segs[4:]), nil
	case len(segs) == 2 && segs[0] == s.prefix:
		return s.bucketRequest(req, segs[1], query), nil
	case len(segs) == 3 && segs[0] == s.prefix:
		return s.objectRequest(req, segs[1], segs[2], query), nil
	default:
		return text(http.StatusNotFound, "not found"), nil
	}
}

func text(status int, body string) *transport.Response {
	return &transport.Response{
		Status: status,
		Header: http.Header{"Content-Type": {"text/plain"}},
		Body:   []byte(body + "\n"),
	}
}

func jsonResponse(status int, v any) *transport.Response {
	body, err := json.Marshal(v)
	if err != nil {
		return text(http.StatusInternalServerError, err.Error())
	}
	return &transport.Response{
		Status: status,
		Header: http.Header{"Content-Type": {"application/json"}},
		Body:   body,
	}
}

func (s *Store) bucketRequest(req *transport.Request, bucket string, query url.Values) *transport.Response {
	switch req.Method {
	case http.MethodGet:
		if query.Get("props") == "false" {
			return text(http.StatusBadRequest, "props required")
		}
		return jsonResponse(http.StatusOK, map[string]any{"props": s.bucket(bucket).props})
	case http.MethodPut:
		var doc struct {
			Props map[string]any `json:"props"`
		}
		dec := json.NewDecoder(bytes.NewReader(req.Body))
		dec.UseNumber()
		if err := dec.Decode(&doc); err != nil || doc.Props == nil {
			return text(http.StatusBadRequest, "invalid props")
		}
		for k, v := range doc.Props {
			s.bucket(bucket).props[k] = v
		}
		return &transport.Response{Status: http.StatusNoContent, Header: http.Header{}}
	case http.MethodPost:
		return s.put(req, bucket, s.keys.Generate(), query, true)
	default:
		return text(http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Store) objectRequest(req *transport.Request, bucket, key string, query url.Values) *transport.Response {
	switch req.Method {
	case http.MethodGet:
		rec := s.bucket(bucket).objects[key]
		if rec == nil || len(rec.siblings) == 0 {
			return text(http.StatusNotFound, "not found")
		}
		return s.render(http.StatusOK, rec)
	case http.MethodPut:
		return s.put(req, bucket, key, query, false)
	case http.MethodDelete:
		if _, ok := s.bucket(bucket).objects[key]; !ok {
			return text(http.StatusNotFound, "not found")
		}
		delete(s.bucket(bucket).objects, key)
		return &transport.Response{Status: http.StatusNoContent, Header: http.Header{}}
	default:
		return text(http.StatusMethodNotAllowed, "method not allowed")
	}
}

// put stores one version. Without allow_mult the last write wins. With it,
// a write carrying the current token replaces every sibling and any other
// write adds one.
func (s *Store) put(req *transport.Request, bucket, key string, query url.Values, created bool) *transport.Response {
	vclock := req.Header.Get(object.HeaderVClock)
	if vclock != "" {
		if _, err := base64.StdEncoding.DecodeString(vclock); err != nil {
			return text(http.StatusBadRequest, "invalid vclock")
		}
	}

	v, err := object.DecodeVersion(bucket, key, req.Header, slices.Clone(req.Body), "")
	if err != nil {
		return text(http.StatusBadRequest, err.Error())
	}
	v.LastModified = s.clock.Now()
	v.ETag = strconv.FormatInt(s.clock.Current(), 36)

	b := s.bucket(bucket)
	rec := b.objects[key]
	switch {
	case rec == nil:
		rec = &record{}
		b.objects[key] = rec
		rec.siblings = []*object.Version{v}
	case !s.allowMult(bucket) || (vclock != "" && vclock == rec.vclock):
		rec.siblings = []*object.Version{v}
	default:
		rec.siblings = append(rec.siblings, v)
	}
	rec.vclock = base64.StdEncoding.EncodeToString(fmt.Appendf(nil, "vclock-%d", s.clock.Next()))

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	var resp *transport.Response
	if query.Get("returnbody") == "true" {
		resp = s.render(status, rec)
	} else {
		if !created {
			status = http.StatusNoContent
		}
		resp = &transport.Response{Status: status, Header: http.Header{object.HeaderVClock: {rec.vclock}}}
	}
	if created {
		resp.Header.Set("Location", "/"+s.prefix+"/"+url.PathEscape(bucket)+"/"+url.PathEscape(key))
	}
	return resp
}

// render answers with the record: the sole version, or a 300 multipart body
// when siblings exist.
func (s *Store) render(status int, rec *record) *transport.Response {
	if len(rec.siblings) > 1 {
		body, ct, err := object.EncodeSiblings(rec.siblings, s.prefix)
		if err != nil {
			return text(http.StatusInternalServerError, err.Error())
		}
		return &transport.Response{
			Status: http.StatusMultipleChoices,
			Header: http.Header{"Content-Type": {ct}, object.HeaderVClock: {rec.vclock}},
			Body:   body,
		}
	}

	v := rec.siblings[0].Clone()
	v.VClock = rec.vclock
	h, err := object.EncodeHeaders(v, s.prefix, "")
	if err != nil {
		return text(http.StatusInternalServerError, err.Error())
	}
	h.Set("Last-Modified", object.FormatTime(v.LastModified))
	h.Set("Etag", `"`+v.ETag+`"`)
	return &transport.Response{Status: status, Header: h, Body: v.Data}
}

// indexQuery answers exact and range lookups. A range lists a key once per
// matching value, as the store does.
func (s *Store) indexQuery(bucket, wireName string, bounds []string) *transport.Response {
	f, err := index.ParseField(wireName)
	if err != nil || len(bounds) > 2 {
		return text(http.StatusBadRequest, "bad index query")
	}

	compare := strings.Compare
	if f.Type == index.Int {
		for _, bound := range bounds {
			if _, err := strconv.ParseInt(bound, 10, 64); err != nil {
				return text(http.StatusBadRequest, "bad int bound")
			}
		}
		compare = func(a, b string) int {
			ai, _ := strconv.ParseInt(a, 10, 64)
			bi, _ := strconv.ParseInt(b, 10, 64)
			return cmp.Compare(ai, bi)
		}
	}

	b := s.bucket(bucket)
	keys := make([]string, 0)
	for _, key := range sortedKeys(b.objects) {
		values := map[string]struct{}{}
		for _, v := range b.objects[key].siblings {
			for _, val := range v.Indexes.Materialize()[f.String()] {
				values[val] = struct{}{}
			}
		}
		sorted := make([]string, 0, len(values))
		for val := range values {
			sorted = append(sorted, val)
		}
		slices.SortFunc(sorted, compare)

		for _, val := range sorted {
			if len(bounds) == 1 {
				if compare(val, bounds[0]) == 0 {
					keys = append(keys, key)
					break
				}
				continue
			}
			if compare(val, bounds[0]) >= 0 && compare(val, bounds[1]) <= 0 {
				keys = append(keys, key)
			}
		}
	}
	return jsonResponse(http.StatusOK, map[string]any{"keys": keys})
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
