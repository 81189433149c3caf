package phase

import "strings"

// ParseFunction builds a Function from a bare string the way older callers
// wrote phases: a string containing '{' is InlineSource, anything else a
// NamedRef.
//
// This is a heuristic. A named reference can never contain a brace, but
// source without one (e.g. an arrow function) is misread as a name.
func ParseFunction(s string) Function {
	if strings.Contains(s, "{") {
		return InlineSource(s)
	}
	return NamedRef(s)
}

// ParsePair builds a Function from a two-element reference: a stored
// JavaScript object for JavaScript, a module:function pair for Erlang.
func ParsePair(first, second string, lang Language) Function {
	if lang == Erlang {
		return ModuleRef{Module: first, Function: second}
	}
	return StoredRef{Bucket: first, Key: second}
}
