package index

import (
	"bytes"
	"encoding/json"
	"net/url"

	"github.com/roach88/kvq/internal/kverr"
)

// Query is a secondary-index lookup: an exact match on Value, or an
// inclusive range [Low, High] when Range is set.
//
// Range results may list a key once per matching value; Dedupe collapses
// them, keeping first-seen order.
type Query struct {
	Bucket string
	Field  Field
	Value  string
	Low    string
	High   string
	Range  bool
	Dedupe bool
}

// Exact builds an exact-match query. value is formatted for typ and a type
// mismatch is reported as a conflict.
func Exact(bucket, name string, typ Type, value any) (Query, error) {
	f, err := field(name, typ)
	if err != nil {
		return Query{}, err
	}
	v, err := FormatValue(typ, value)
	if err != nil {
		return Query{}, err
	}
	return Query{Bucket: bucket, Field: f, Value: v}, nil
}

// Between builds an inclusive range query.
func Between(bucket, name string, typ Type, low, high any, dedupe bool) (Query, error) {
	f, err := field(name, typ)
	if err != nil {
		return Query{}, err
	}
	lo, err := FormatValue(typ, low)
	if err != nil {
		return Query{}, err
	}
	hi, err := FormatValue(typ, high)
	if err != nil {
		return Query{}, err
	}
	return Query{Bucket: bucket, Field: f, Low: lo, High: hi, Range: true, Dedupe: dedupe}, nil
}

// Validate checks the query can be sent.
func (q Query) Validate() error {
	if q.Bucket == "" {
		return kverr.Validation("index query", "bucket is empty")
	}
	if q.Field.Name == "" {
		return kverr.Validation("index query", "index name is empty")
	}
	if q.Field.Type != Int && q.Field.Type != Bin {
		return kverr.Validation("index query", "unknown index type %q", q.Field.Type)
	}
	return nil
}

// Path returns the request path:
//
//	/buckets/<bucket>/index/<name>_<type>/<value>
//	/buckets/<bucket>/index/<name>_<type>/<low>/<high>
func (q Query) Path() string {
	p := "/buckets/" + url.PathEscape(q.Bucket) + "/index/" + url.PathEscape(q.Field.String())
	if q.Range {
		return p + "/" + url.PathEscape(q.Low) + "/" + url.PathEscape(q.High)
	}
	return p + "/" + url.PathEscape(q.Value)
}

// DecodeKeys parses an index response body of the form {"keys":[...]}.
func DecodeKeys(body []byte, dedupe bool) ([]string, error) {
	var resp struct {
		Keys *[]string `json:"keys"`
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&resp); err != nil {
		return nil, kverr.Malformed("index query", err, "response is not a key list")
	}
	if resp.Keys == nil {
		return nil, kverr.Malformed("index query", nil, "response has no \"keys\" field")
	}

	keys := *resp.Keys
	if !dedupe {
		return keys, nil
	}
	seen := make(map[string]struct{}, len(keys))
	out := keys[:0:0]
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out, nil
}
