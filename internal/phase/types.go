package phase

import (
	"github.com/roach88/kvq/internal/kverr"
	"github.com/roach88/kvq/internal/wire"
)

// Wildcard matches any bucket or tag in a link phase.
const Wildcard = "_"

// Language selects the server-side script engine for a Map or Reduce phase.
type Language string

const (
	// JavaScript functions are stored, inline, or named built-ins.
	JavaScript Language = "javascript"

	// Erlang functions are module:function pairs.
	Erlang Language = "erlang"
)

// Phase represents one stage of a map/reduce pipeline.
//
// This is a sealed interface - only Map, Reduce, Link and KeyFilter
// implement it.
type Phase interface {
	phaseNode() // Marker method - seals interface to this package
}

// Function names the code a Map or Reduce phase runs.
//
// This is a sealed interface - only StoredRef, InlineSource, NamedRef and
// ModuleRef implement it.
type Function interface {
	functionNode() // Marker method - seals interface to this package
}

// StoredRef references JavaScript source stored as an object in the store.
type StoredRef struct {
	Bucket string
	Key    string
}

func (StoredRef) functionNode() {}

// InlineSource is JavaScript function source sent with the query.
type InlineSource string

func (InlineSource) functionNode() {}

// NamedRef references a built-in or preloaded JavaScript function,
// e.g. "Riak.mapValuesJson".
type NamedRef string

func (NamedRef) functionNode() {}

// ModuleRef references an Erlang function by module and function name.
type ModuleRef struct {
	Module   string
	Function string
}

func (ModuleRef) functionNode() {}

// Map runs Function once per input.
//
// Language may be left empty; it is then inferred from Function
// (ModuleRef is Erlang, everything else JavaScript).
// Arg is passed to the function on every call; nil is sent as null.
type Map struct {
	Function Function
	Language Language
	Keep     bool
	Arg      wire.Value
}

func (Map) phaseNode() {}

// Reduce runs Function over the whole output of the previous phase.
// Fields behave as in Map.
type Reduce struct {
	Function Function
	Language Language
	Keep     bool
	Arg      wire.Value
}

func (Reduce) phaseNode() {}

// Link follows links of the input objects, filtered by Bucket and Tag.
// Empty Bucket or Tag means Wildcard.
type Link struct {
	Bucket string
	Tag    string
	Keep   bool
}

func (Link) phaseNode() {}

// KeyFilter restricts a bucket scan to keys matching all Predicates.
//
// Predicates within one KeyFilter are AND-ed. Several KeyFilter phases in one
// pipeline are OR-ed, each phase forming one group.
type KeyFilter struct {
	Predicates []Predicate
}

func (KeyFilter) phaseNode() {}

// Predicate is one key-filter operation: an operator name and its operands,
// e.g. {Op: "tokenize", Args: ["_", 1]}.
type Predicate struct {
	Op   string
	Args wire.Array
}

// Deref returns p with pointer variants replaced by the values they point
// to. A nil phase or nil pointer is a validation error.
func Deref(p Phase) (Phase, error) {
	switch ph := p.(type) {
	case nil:
		return nil, kverr.Validation("phase", "nil phase")
	case *Map:
		if ph != nil {
			return *ph, nil
		}
	case *Reduce:
		if ph != nil {
			return *ph, nil
		}
	case *Link:
		if ph != nil {
			return *ph, nil
		}
	case *KeyFilter:
		if ph != nil {
			return *ph, nil
		}
	default:
		return p, nil
	}
	return nil, kverr.Validation("phase", "nil %T", p)
}

// Keeps reports whether p is marked to include its output in the results.
// KeyFilter phases never produce output of their own, and neither do nil
// phases.
func Keeps(p Phase) bool {
	p, err := Deref(p)
	if err != nil {
		return false
	}
	switch ph := p.(type) {
	case Map:
		return ph.Keep
	case Reduce:
		return ph.Keep
	case Link:
		return ph.Keep
	default:
		return false
	}
}

// IsKeyFilter reports whether p is a KeyFilter phase.
func IsKeyFilter(p Phase) bool {
	switch p.(type) {
	case KeyFilter, *KeyFilter:
		return true
	default:
		return false
	}
}

// IsLink reports whether p is a Link phase.
func IsLink(p Phase) bool {
	switch p.(type) {
	case Link, *Link:
		return true
	default:
		return false
	}
}
