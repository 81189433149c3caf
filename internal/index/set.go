// Package index models the secondary indexes attached to one object and the
// lookups that query them.
//
// Each entry has a provenance:
//   - explicit: added by the caller, survives rewrites of the object
//   - derived: computed from a payload field registered with AutoIndex and
//     replaced in full every time the object is stored
//
// Materialize merges both with set semantics: an (index, value) pair present
// in both appears once on the wire and neither side loses it.
//
// A Set is not safe for concurrent mutation; confine it to one owner.
package index

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/kvq/internal/kverr"
)

// Type is the value type of an index.
type Type string

const (
	// Int indexes hold base-10 integers and sort numerically.
	Int Type = "int"

	// Bin indexes hold strings and sort lexically.
	Bin Type = "bin"
)

// Field identifies one index on an object: a normalized name plus its type.
type Field struct {
	Name string
	Type Type
}

// String returns the on-wire index name, e.g. "foo_int".
func (f Field) String() string {
	return f.Name + "_" + string(f.Type)
}

// ParseField splits an on-wire index name ("foo_int") into a Field.
func ParseField(wireName string) (Field, error) {
	i := strings.LastIndexByte(wireName, '_')
	if i <= 0 {
		return Field{}, fmt.Errorf("index name %q has no type suffix", wireName)
	}
	typ := Type(strings.ToLower(wireName[i+1:]))
	if typ != Int && typ != Bin {
		return Field{}, fmt.Errorf("index name %q has unknown type %q", wireName, typ)
	}
	return Field{Name: NormalizeName(wireName[:i]), Type: typ}, nil
}

// NormalizeName folds an index name the way the store does: header names are
// case-insensitive, so names are NFC-normalized and lower-cased.
func NormalizeName(name string) string {
	return cases.Lower(language.Und).String(norm.NFC.String(name))
}

type valueSet map[string]struct{}

// Set holds the explicit and derived index entries of one object.
type Set struct {
	explicit map[Field]valueSet
	derived  map[Field]valueSet
	auto     map[Field]struct{}
}

// NewSet returns an empty Set.
func NewSet() *Set {
	return &Set{
		explicit: make(map[Field]valueSet),
		derived:  make(map[Field]valueSet),
		auto:     make(map[Field]struct{}),
	}
}

// Clone returns a deep copy of s.
func (s *Set) Clone() *Set {
	cp := NewSet()
	for f, vs := range s.explicit {
		cp.explicit[f] = maps.Clone(vs)
	}
	for f, vs := range s.derived {
		cp.derived[f] = maps.Clone(vs)
	}
	maps.Copy(cp.auto, s.auto)
	return cp
}

func field(name string, typ Type) (Field, error) {
	if name == "" {
		return Field{}, kverr.Validation("index", "index name is empty")
	}
	if typ != Int && typ != Bin {
		return Field{}, kverr.Validation("index", "unknown index type %q", typ)
	}
	return Field{Name: NormalizeName(name), Type: typ}, nil
}

// FormatValue renders v as the wire string for an index of type typ.
// Int indexes accept Go integers and integer strings; anything else is an
// index-type mismatch and reported as a conflict.
func FormatValue(typ Type, v any) (string, error) {
	switch typ {
	case Int:
		switch n := v.(type) {
		case int:
			return strconv.Itoa(n), nil
		case int64:
			return strconv.FormatInt(n, 10), nil
		case int32:
			return strconv.FormatInt(int64(n), 10), nil
		case json.Number:
			if i, err := n.Int64(); err == nil {
				return strconv.FormatInt(i, 10), nil
			}
		case string:
			if i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64); err == nil {
				return strconv.FormatInt(i, 10), nil
			}
		}
		return "", kverr.Conflict("index", "value %v (%T) is not valid for an int index", v, v)
	case Bin:
		switch s := v.(type) {
		case string:
			return s, nil
		case int:
			return strconv.Itoa(s), nil
		case int64:
			return strconv.FormatInt(s, 10), nil
		case json.Number:
			return s.String(), nil
		case bool:
			return strconv.FormatBool(s), nil
		}
		return "", kverr.Conflict("index", "value %v (%T) is not valid for a bin index", v, v)
	default:
		return "", kverr.Validation("index", "unknown index type %q", typ)
	}
}

func add(m map[Field]valueSet, f Field, value string) {
	vs, ok := m[f]
	if !ok {
		vs = make(valueSet)
		m[f] = vs
	}
	vs[value] = struct{}{}
}

// AddExplicit adds a caller-owned entry. Adding an existing value is a no-op.
func (s *Set) AddExplicit(name string, typ Type, value any) error {
	f, err := field(name, typ)
	if err != nil {
		return err
	}
	v, err := FormatValue(typ, value)
	if err != nil {
		return err
	}
	add(s.explicit, f, v)
	return nil
}

// SetExplicit replaces every explicit value of the index with values.
func (s *Set) SetExplicit(name string, typ Type, values ...any) error {
	f, err := field(name, typ)
	if err != nil {
		return err
	}
	next := make(valueSet, len(values))
	for _, value := range values {
		v, err := FormatValue(typ, value)
		if err != nil {
			return err
		}
		next[v] = struct{}{}
	}
	s.explicit[f] = next
	return nil
}

// RemoveExplicit removes the given explicit values, or every explicit value
// of the index when none are given. Derived entries are untouched.
func (s *Set) RemoveExplicit(name string, typ Type, values ...any) error {
	f, err := field(name, typ)
	if err != nil {
		return err
	}
	if len(values) == 0 {
		delete(s.explicit, f)
		return nil
	}
	for _, value := range values {
		v, err := FormatValue(typ, value)
		if err != nil {
			return err
		}
		delete(s.explicit[f], v)
	}
	return nil
}

// AddDerived adds a derived entry.
func (s *Set) AddDerived(name string, typ Type, value any) error {
	f, err := field(name, typ)
	if err != nil {
		return err
	}
	v, err := FormatValue(typ, value)
	if err != nil {
		return err
	}
	add(s.derived, f, v)
	return nil
}

// ReplaceDerived drops every derived value of the index and installs values.
// Explicit entries of the same index are untouched.
func (s *Set) ReplaceDerived(name string, typ Type, values []any) error {
	f, err := field(name, typ)
	if err != nil {
		return err
	}
	next := make(valueSet, len(values))
	for _, value := range values {
		v, err := FormatValue(typ, value)
		if err != nil {
			return err
		}
		next[v] = struct{}{}
	}
	s.derived[f] = next
	return nil
}

// Explicit returns the sorted explicit values of an index.
func (s *Set) Explicit(name string, typ Type) []string {
	return sortedValues(typ, s.explicit[Field{Name: NormalizeName(name), Type: typ}])
}

// Derived returns the sorted derived values of an index.
func (s *Set) Derived(name string, typ Type) []string {
	return sortedValues(typ, s.derived[Field{Name: NormalizeName(name), Type: typ}])
}

// Materialize merges explicit and derived entries into the wire form, keyed
// by on-wire index name ("foo_int"). Values are de-duplicated and sorted.
// Indexes without values are omitted.
func (s *Set) Materialize() map[string][]string {
	merged := make(map[Field]valueSet)
	for _, src := range []map[Field]valueSet{s.explicit, s.derived} {
		for f, vs := range src {
			for v := range vs {
				add(merged, f, v)
			}
		}
	}

	out := make(map[string][]string, len(merged))
	for f, vs := range merged {
		if len(vs) == 0 {
			continue
		}
		out[f.String()] = sortedValues(f.Type, vs)
	}
	return out
}

// Collisions returns, per on-wire index name, the values present both as
// explicit and derived entries.
func (s *Set) Collisions() map[string][]string {
	out := make(map[string][]string)
	for f, dvs := range s.derived {
		evs := s.explicit[f]
		both := make(valueSet)
		for v := range dvs {
			if _, ok := evs[v]; ok {
				both[v] = struct{}{}
			}
		}
		if len(both) > 0 {
			out[f.String()] = sortedValues(f.Type, both)
		}
	}
	return out
}

// Len returns the number of distinct (index, value) pairs after merging.
func (s *Set) Len() int {
	n := 0
	for _, vs := range s.Materialize() {
		n += len(vs)
	}
	return n
}

func sortedValues(typ Type, vs valueSet) []string {
	out := make([]string, 0, len(vs))
	for v := range vs {
		out = append(out, v)
	}
	if typ == Int {
		slices.SortFunc(out, func(a, b string) int {
			ai, _ := strconv.ParseInt(a, 10, 64)
			bi, _ := strconv.ParseInt(b, 10, 64)
			switch {
			case ai < bi:
				return -1
			case ai > bi:
				return 1
			default:
				return 0
			}
		})
		return out
	}
	slices.Sort(out)
	return out
}
