package index

import (
	"bytes"
	"encoding/json"
	"slices"

	"github.com/roach88/kvq/internal/kverr"
)

// Reserved metadata keys used to persist auto-index state on the object.
const (
	MetaAutoIndex  = "client-autoindex"
	MetaCollisions = "client-autoindexcollisions"
)

// AutoIndex registers a payload field to be indexed on every store.
func (s *Set) AutoIndex(name string, typ Type) error {
	f, err := field(name, typ)
	if err != nil {
		return err
	}
	s.auto[f] = struct{}{}
	return nil
}

// RemoveAutoIndex unregisters a payload field and drops its derived values.
func (s *Set) RemoveAutoIndex(name string, typ Type) error {
	f, err := field(name, typ)
	if err != nil {
		return err
	}
	delete(s.auto, f)
	delete(s.derived, f)
	return nil
}

// AutoIndexes returns the registered auto-index fields in wire-name order.
func (s *Set) AutoIndexes() []Field {
	out := make([]Field, 0, len(s.auto))
	for f := range s.auto {
		out = append(out, f)
	}
	slices.SortFunc(out, func(a, b Field) int {
		switch {
		case a.String() < b.String():
			return -1
		case a.String() > b.String():
			return 1
		default:
			return 0
		}
	})
	return out
}

// Derive recomputes every derived index from a JSON object payload.
// A registered field that is absent or null yields no values; an array field
// yields one value per element. A non-object payload clears all derived
// values. A value that does not fit its index type is a conflict.
func (s *Set) Derive(payload []byte) error {
	return s.derive(payload, true)
}

// derive is Derive; when strict is false, values that do not fit their
// index type are skipped instead of failing.
func (s *Set) derive(payload []byte, strict bool) error {
	fields := map[string]json.RawMessage{}
	if len(bytes.TrimSpace(payload)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(payload))
		dec.UseNumber()
		if err := dec.Decode(&fields); err != nil {
			fields = map[string]json.RawMessage{}
		}
	}
	// Payload keys are matched after the same folding as index names.
	folded := make(map[string]json.RawMessage, len(fields))
	for k, v := range fields {
		folded[NormalizeName(k)] = v
	}

	for f := range s.auto {
		values, err := fieldValues(folded[f.Name])
		if err != nil {
			if strict {
				return kverr.Conflict("derive index", "field %q: %v", f.Name, err)
			}
			values = nil
		}
		if !strict {
			values = slices.DeleteFunc(values, func(v any) bool {
				_, err := FormatValue(f.Type, v)
				return err != nil
			})
		}
		if err := s.ReplaceDerived(f.Name, f.Type, values); err != nil {
			return err
		}
	}
	return nil
}

func fieldValues(raw json.RawMessage) ([]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	switch x := v.(type) {
	case nil:
		return nil, nil
	case []any:
		out := make([]any, 0, len(x))
		for _, e := range x {
			if e != nil {
				out = append(out, e)
			}
		}
		return out, nil
	default:
		return []any{x}, nil
	}
}

// AutoMeta returns the metadata values that persist auto-index state:
// the registered fields and the explicit/derived collisions. Empty strings
// mean the key should not be written.
func (s *Set) AutoMeta() (auto, collisions string) {
	if len(s.auto) > 0 {
		names := make([]string, 0, len(s.auto))
		for _, f := range s.AutoIndexes() {
			names = append(names, f.String())
		}
		b, _ := json.Marshal(names)
		auto = string(b)
	}
	if c := s.Collisions(); len(c) > 0 {
		b, _ := json.Marshal(c)
		collisions = string(b)
	}
	return auto, collisions
}

// Restore rebuilds a Set from what a fetched object carried: its index
// headers, the auto-index metadata and the payload.
//
// Values of an auto-indexed field that the payload explains are treated as
// derived, unless the collision list says the caller also added them
// explicitly. Everything else is explicit, including stored values of a
// payload field that no longer fits its index type: a fetch never fails on
// them, the next Derive does.
func Restore(stored map[Field][]string, auto, collisions string, payload []byte) (*Set, error) {
	s := NewSet()

	if auto != "" {
		var names []string
		if err := json.Unmarshal([]byte(auto), &names); err != nil {
			return nil, kverr.Malformed("restore index", err, "bad %s metadata", MetaAutoIndex)
		}
		for _, n := range names {
			f, err := ParseField(n)
			if err != nil {
				return nil, kverr.Malformed("restore index", err, "bad %s metadata", MetaAutoIndex)
			}
			s.auto[f] = struct{}{}
		}
	}

	both := map[string][]string{}
	if collisions != "" {
		if err := json.Unmarshal([]byte(collisions), &both); err != nil {
			return nil, kverr.Malformed("restore index", err, "bad %s metadata", MetaCollisions)
		}
	}

	if err := s.derive(payload, false); err != nil {
		return nil, err
	}

	for f, values := range stored {
		dvs := s.derived[f]
		for _, v := range values {
			_, fromPayload := dvs[v]
			if fromPayload && !slices.Contains(both[f.String()], v) {
				continue
			}
			add(s.explicit, f, v)
		}
	}
	return s, nil
}
