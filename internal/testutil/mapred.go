package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"slices"
	"strconv"

	"github.com/roach88/kvq/internal/object"
	"github.com/roach88/kvq/internal/transport"
)

// Built-in functions the store double evaluates. Inline JavaScript is
// supported only in the literal form
//
//	function(...) { return <JSON>; }
//
// whose result is the JSON value for every input. Stored functions are
// looked up by bucket/key and must have that form too.
var literalFunction = regexp.MustCompile(`(?s)^\s*function\s*\([^)]*\)\s*\{\s*return\s+(.*?);?\s*\}\s*$`)

type step struct {
	kind     string
	Language string `json:"language"`
	Name     string `json:"name"`
	Source   string `json:"source"`
	Bucket   string `json:"bucket"`
	Key      string `json:"key"`
	Module   string `json:"module"`
	Function string `json:"function"`
	Tag      string `json:"tag"`
	Keep     bool   `json:"keep"`
	Arg      any    `json:"arg"`
}

type mapredError struct{ msg string }

func (e *mapredError) Error() string { return e.msg }

func failf(format string, args ...any) error {
	return &mapredError{msg: fmt.Sprintf(format, args...)}
}

func decodeJSON(data []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(out)
}

func (s *Store) mapReduce(body []byte) *transport.Response {
	var job struct {
		Inputs json.RawMessage              `json:"inputs"`
		Query  []map[string]json.RawMessage `json:"query"`
	}
	if err := decodeJSON(body, &job); err != nil {
		return jsonResponse(http.StatusBadRequest, map[string]any{"error": "invalid_json", "message": err.Error()})
	}

	items, err := s.resolveInputs(job.Inputs)
	if err != nil {
		return jsonResponse(http.StatusBadRequest, map[string]any{"error": "bad_inputs", "message": err.Error()})
	}

	var kept [][]any
	for i, raw := range job.Query {
		st, err := parseStep(raw)
		if err != nil {
			return jsonResponse(http.StatusBadRequest, map[string]any{"error": "bad_query", "message": fmt.Sprintf("phase %d: %v", i, err)})
		}
		items, err = s.runStep(st, items)
		if err != nil {
			return jsonResponse(http.StatusInternalServerError, map[string]any{"phase": i, "error": err.Error()})
		}
		if st.Keep {
			kept = append(kept, items)
		}
	}

	switch len(kept) {
	case 0:
		return jsonResponse(http.StatusOK, []any{})
	case 1:
		return jsonResponse(http.StatusOK, kept[0])
	default:
		return jsonResponse(http.StatusOK, kept)
	}
}

func parseStep(raw map[string]json.RawMessage) (step, error) {
	if len(raw) != 1 {
		return step{}, failf("phase must have exactly one type")
	}
	var st step
	for kind, body := range raw {
		if err := decodeJSON(body, &st); err != nil {
			return step{}, err
		}
		st.kind = kind
	}
	switch st.kind {
	case "map", "reduce", "link":
		return st, nil
	default:
		return step{}, failf("unknown phase type %q", st.kind)
	}
}

// resolveInputs turns the inputs document into [bucket, key(, arg)] items.
func (s *Store) resolveInputs(raw json.RawMessage) ([]any, error) {
	var bucket string
	if err := json.Unmarshal(raw, &bucket); err == nil {
		return s.bucketInputs(bucket, nil)
	}

	var scan struct {
		Bucket     string `json:"bucket"`
		KeyFilters []any  `json:"key_filters"`
	}
	if err := decodeJSON(raw, &scan); err == nil && scan.Bucket != "" {
		return s.bucketInputs(scan.Bucket, scan.KeyFilters)
	}

	var list []any
	if err := decodeJSON(raw, &list); err != nil {
		return nil, failf("inputs must be a bucket, a bucket scan or a list")
	}
	for i, in := range list {
		tuple, ok := in.([]any)
		if !ok || len(tuple) < 2 || len(tuple) > 3 {
			return nil, failf("input %d is not [bucket, key(, arg)]", i)
		}
	}
	return list, nil
}

func (s *Store) bucketInputs(bucket string, filters []any) ([]any, error) {
	out := []any{}
	for _, key := range sortedKeys(s.bucket(bucket).objects) {
		if filters != nil {
			ok, err := matchKey(filters, key)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		out = append(out, []any{bucket, key})
	}
	return out, nil
}

func (s *Store) runStep(st step, items []any) ([]any, error) {
	switch st.kind {
	case "link":
		return s.linkStep(st, items)
	case "map":
		out := []any{}
		for _, item := range items {
			res, err := s.mapItem(st, item)
			if err != nil {
				return nil, err
			}
			out = append(out, res...)
		}
		return out, nil
	default:
		return s.reduce(st, items)
	}
}

func bucketKey(item any) (string, string, error) {
	tuple, ok := item.([]any)
	if !ok || len(tuple) < 2 {
		return "", "", failf("input %v is not a [bucket, key] pair", item)
	}
	bucket, ok1 := tuple[0].(string)
	key, ok2 := tuple[1].(string)
	if !ok1 || !ok2 {
		return "", "", failf("input %v is not a [bucket, key] pair", item)
	}
	return bucket, key, nil
}

func (s *Store) linkStep(st step, items []any) ([]any, error) {
	out := []any{}
	for _, item := range items {
		bucket, key, err := bucketKey(item)
		if err != nil {
			return nil, err
		}
		rec := s.bucket(bucket).objects[key]
		if rec == nil {
			continue
		}
		var seen []object.Link
		for _, v := range rec.siblings {
			for _, l := range v.Links {
				if slices.Contains(seen, l) {
					continue
				}
				seen = append(seen, l)
				if (st.Bucket == "_" || st.Bucket == l.Bucket) && (st.Tag == "_" || st.Tag == l.Tag) {
					out = append(out, []any{l.Bucket, l.Key, l.Tag})
				}
			}
		}
	}
	return out, nil
}

func (s *Store) mapItem(st step, item any) ([]any, error) {
	if lit, ok, err := s.literal(st); ok || err != nil {
		return lit, err
	}

	bucket, key, err := bucketKey(item)
	if err != nil {
		return nil, err
	}
	rec := s.bucket(bucket).objects[key]
	if rec == nil {
		return []any{map[string]any{"not_found": map[string]any{"bucket": bucket, "key": key}}}, nil
	}

	fn := st.Name
	if st.Language == "erlang" {
		fn = st.Module + ":" + st.Function
	}
	out := []any{}
	switch fn {
	case "Riak.mapValues":
		for _, v := range rec.siblings {
			out = append(out, string(v.Data))
		}
	case "Riak.mapValuesJson", "riak_kv_mapreduce:map_object_value":
		for _, v := range rec.siblings {
			var val any
			if err := decodeJSON(v.Data, &val); err != nil {
				if st.Language == "erlang" {
					out = append(out, string(v.Data))
					continue
				}
				return nil, failf("%s/%s is not JSON: %v", bucket, key, err)
			}
			out = append(out, val)
		}
	default:
		return nil, failf("unsupported map function %q", fn)
	}
	return out, nil
}

func (s *Store) reduce(st step, items []any) ([]any, error) {
	if lit, ok, err := s.literal(st); ok || err != nil {
		return lit, err
	}

	fn := st.Name
	if st.Language == "erlang" {
		fn = st.Module + ":" + st.Function
	}
	switch fn {
	case "riak_kv_mapreduce:reduce_identity":
		return items, nil
	case "riak_kv_mapreduce:reduce_set_union":
		out := []any{}
		seen := map[string]struct{}{}
		for _, it := range items {
			b, _ := json.Marshal(it)
			if _, ok := seen[string(b)]; ok {
				continue
			}
			seen[string(b)] = struct{}{}
			out = append(out, it)
		}
		return out, nil
	case "Riak.reduceSum":
		var sum int64
		for _, it := range items {
			n, err := toInt(it)
			if err != nil {
				return nil, err
			}
			sum += n
		}
		return []any{json.Number(strconv.FormatInt(sum, 10))}, nil
	case "Riak.reduceMin", "Riak.reduceMax":
		if len(items) == 0 {
			return []any{}, nil
		}
		best, err := toInt(items[0])
		if err != nil {
			return nil, err
		}
		for _, it := range items[1:] {
			n, err := toInt(it)
			if err != nil {
				return nil, err
			}
			if (fn == "Riak.reduceMin" && n < best) || (fn == "Riak.reduceMax" && n > best) {
				best = n
			}
		}
		return []any{json.Number(strconv.FormatInt(best, 10))}, nil
	default:
		return nil, failf("unsupported reduce function %q", fn)
	}
}

func toInt(v any) (int64, error) {
	switch n := v.(type) {
	case json.Number:
		return n.Int64()
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, failf("%v is not an integer", v)
	}
}

// literal evaluates inline or stored literal functions. ok is false when the
// step names a built-in instead.
func (s *Store) literal(st step) ([]any, bool, error) {
	src := st.Source
	if st.Language != "erlang" && st.Source == "" && st.Bucket != "" && st.Key != "" {
		rec := s.bucket(st.Bucket).objects[st.Key]
		if rec == nil || len(rec.siblings) == 0 {
			return nil, true, failf("stored function %s/%s not found", st.Bucket, st.Key)
		}
		src = string(rec.siblings[0].Data)
	}
	if src == "" {
		return nil, false, nil
	}

	m := literalFunction.FindStringSubmatch(src)
	if m == nil {
		return nil, true, failf("cannot evaluate function source %q", src)
	}
	var val any
	if err := decodeJSON([]byte(m[1]), &val); err != nil {
		return nil, true, failf("function result is not JSON: %v", err)
	}
	if list, ok := val.([]any); ok {
		return list, true, nil
	}
	return []any{val}, true, nil
}
