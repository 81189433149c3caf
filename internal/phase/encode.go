package phase

import (
	"github.com/roach88/kvq/internal/kverr"
	"github.com/roach88/kvq/internal/wire"
)

// Encode converts a Map, Reduce or Link phase to its wire shape:
//
//	{"<type>": {...fields...}}
//
// KeyFilter phases have no standalone shape; use EncodeFilters.
// Returns a validation error for nil phases (including nil pointers),
// missing functions, and unsupported (language, function) combinations.
func Encode(p Phase) (wire.Object, error) {
	p, err := Deref(p)
	if err != nil {
		return nil, err
	}

	switch ph := p.(type) {
	case Map:
		return encodeStep("map", ph.Function, ph.Language, ph.Keep, ph.Arg)
	case Reduce:
		return encodeStep("reduce", ph.Function, ph.Language, ph.Keep, ph.Arg)
	case Link:
		return encodeLink(ph), nil
	case KeyFilter:
		return nil, kverr.Validation("encode phase", "key filters are encoded into the query inputs")
	default:
		return nil, kverr.Validation("encode phase", "unsupported phase type: %T", p)
	}
}

// encodeStep builds a map or reduce step. keep, language and arg are always
// present; the function fields come from the dispatch table in doc.go.
func encodeStep(kind string, fn Function, lang Language, keep bool, arg wire.Value) (wire.Object, error) {
	if fn == nil {
		return nil, kverr.Validation("encode phase", "%s phase has no function", kind)
	}
	if lang == "" {
		lang = InferLanguage(fn)
	}
	if arg == nil {
		arg = wire.Null{}
	}

	step := wire.Object{
		"keep":     wire.Bool(keep),
		"language": wire.String(lang),
		"arg":      arg,
	}

	switch f := fn.(type) {
	case StoredRef:
		if lang != JavaScript {
			return nil, unsupported(kind, lang, fn)
		}
		step["bucket"] = wire.String(f.Bucket)
		step["key"] = wire.String(f.Key)
	case InlineSource:
		if lang != JavaScript {
			return nil, unsupported(kind, lang, fn)
		}
		step["source"] = wire.String(f)
	case NamedRef:
		if lang != JavaScript {
			return nil, unsupported(kind, lang, fn)
		}
		step["name"] = wire.String(f)
	case ModuleRef:
		if lang != Erlang {
			return nil, unsupported(kind, lang, fn)
		}
		step["module"] = wire.String(f.Module)
		step["function"] = wire.String(f.Function)
	default:
		return nil, kverr.Validation("encode phase", "unsupported function type: %T", fn)
	}

	return wire.Object{kind: step}, nil
}

func unsupported(kind string, lang Language, fn Function) error {
	return kverr.Validation("encode phase", "%s phase: %T is not supported for language %q", kind, fn, lang)
}

func encodeLink(l Link) wire.Object {
	return wire.Object{"link": wire.Object{
		"bucket": wire.String(orWildcard(l.Bucket)),
		"tag":    wire.String(orWildcard(l.Tag)),
		"keep":   wire.Bool(l.Keep),
	}}
}

func orWildcard(s string) string {
	if s == "" {
		return Wildcard
	}
	return s
}

// InferLanguage returns the language implied by a function shape.
func InferLanguage(fn Function) Language {
	if _, ok := fn.(ModuleRef); ok {
		return Erlang
	}
	return JavaScript
}

// WithKeep returns a copy of p with its keep flag set to keep.
// KeyFilter and nil phases are returned unchanged.
func WithKeep(p Phase, keep bool) Phase {
	v, err := Deref(p)
	if err != nil {
		return p
	}
	switch ph := v.(type) {
	case Map:
		ph.Keep = keep
		return ph
	case Reduce:
		ph.Keep = keep
		return ph
	case Link:
		ph.Keep = keep
		return ph
	default:
		return p
	}
}

// EncodeFilters encodes the predicate groups of one or more KeyFilter phases.
//
// A single group encodes as its tuple list:
//
//	[["tokenize","_",1],["eq","foo"]]
//
// Several groups are OR-ed pairwise, left-nested, so each group keeps its
// boundary:
//
//	[["or", G1, G2]]
//	[["or", [["or", G1, G2]], G3]]
//
// Returns nil when groups is empty.
func EncodeFilters(groups []KeyFilter) (wire.Array, error) {
	var acc wire.Array
	for i, g := range groups {
		if len(g.Predicates) == 0 {
			return nil, kverr.Validation("encode key filters", "key filter group %d is empty", i)
		}
		enc, err := encodeGroup(g)
		if err != nil {
			return nil, err
		}
		if acc == nil {
			acc = enc
			continue
		}
		acc = wire.Array{wire.Array{wire.String("or"), acc, enc}}
	}
	return acc, nil
}

func encodeGroup(g KeyFilter) (wire.Array, error) {
	out := make(wire.Array, 0, len(g.Predicates))
	for _, p := range g.Predicates {
		if p.Op == "" {
			return nil, kverr.Validation("encode key filters", "predicate without operator")
		}
		tuple := make(wire.Array, 0, len(p.Args)+1)
		tuple = append(tuple, wire.String(p.Op))
		tuple = append(tuple, p.Args...)
		out = append(out, tuple)
	}
	return out, nil
}
