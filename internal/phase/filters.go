package phase

import "github.com/roach88/kvq/internal/wire"

// Key-filter predicate constructors. Transform operators rewrite the key
// for the predicates after them; test operators match or reject it.

func op(name string, args ...wire.Value) Predicate {
	return Predicate{Op: name, Args: wire.Array(args)}
}

// IntToString turns an integer key into a string.
func IntToString() Predicate { return op("int_to_string") }

// StringToInt parses the key as an integer.
func StringToInt() Predicate { return op("string_to_int") }

// FloatToString turns a float key into a string.
func FloatToString() Predicate { return op("float_to_string") }

// StringToFloat parses the key as a float.
func StringToFloat() Predicate { return op("string_to_float") }

// ToUpper upper-cases the key.
func ToUpper() Predicate { return op("to_upper") }

// ToLower lower-cases the key.
func ToLower() Predicate { return op("to_lower") }

// URLDecode URL-decodes the key.
func URLDecode() Predicate { return op("urldecode") }

// Tokenize splits the key on sep and keeps the n-th token (1-based).
func Tokenize(sep string, n int64) Predicate {
	return op("tokenize", wire.String(sep), wire.Int(n))
}

// Eq matches keys equal to v.
func Eq(v wire.Value) Predicate { return op("eq", v) }

// Neq matches keys not equal to v.
func Neq(v wire.Value) Predicate { return op("neq", v) }

// GreaterThan matches keys greater than v.
func GreaterThan(v wire.Value) Predicate { return op("greater_than", v) }

// LessThan matches keys less than v.
func LessThan(v wire.Value) Predicate { return op("less_than", v) }

// GreaterThanEq matches keys greater than or equal to v.
func GreaterThanEq(v wire.Value) Predicate { return op("greater_than_eq", v) }

// LessThanEq matches keys less than or equal to v.
func LessThanEq(v wire.Value) Predicate { return op("less_than_eq", v) }

// Between matches keys in [low, high].
func Between(low, high wire.Value) Predicate { return op("between", low, high) }

// Matches matches keys against a regular expression.
func Matches(re string) Predicate { return op("matches", wire.String(re)) }

// SetMember matches keys equal to any of vs.
func SetMember(vs ...wire.Value) Predicate { return op("set_member", vs...) }

// SimilarTo matches keys within distance edits of s.
func SimilarTo(s string, distance int64) Predicate {
	return op("similar_to", wire.String(s), wire.Int(distance))
}

// StartsWith matches keys with the given prefix.
func StartsWith(prefix string) Predicate { return op("starts_with", wire.String(prefix)) }

// EndsWith matches keys with the given suffix.
func EndsWith(suffix string) Predicate { return op("ends_with", wire.String(suffix)) }
