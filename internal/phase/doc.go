// Package phase defines the phases of a server-executed map/reduce query and
// their exact wire shapes.
//
// ARCHITECTURE:
//
// A query pipeline is an ordered list of phases. Each phase consumes the
// output of the previous one (or the pipeline inputs, for the first phase):
//
//	[inputs] → [KeyFilter]* → Map → Link → Reduce → ...
//
// KeyFilter phases are special: the store evaluates them while enumerating a
// bucket, before any other phase runs, so they are encoded into the inputs
// object rather than the query list (see EncodeFilters).
//
// SEALED INTERFACES:
//
// Phase and Function are sealed interfaces using the marker method pattern.
// Only types in this package can implement them, which keeps the
// serialization dispatch in Encode exhaustive:
//
//	switch p := phase.(type) {
//	case Map, Reduce:  // {"map"|"reduce": {keep, language, arg, <function fields>}}
//	case Link:         // {"link": {bucket, tag, keep}}
//	case KeyFilter:    // folded into inputs.key_filters
//	}
//
// FUNCTION DISPATCH:
//
// Map and Reduce phases name their function with an explicit variant. The
// emitted fields depend on (Language, Function):
//
//	Language     Function       Fields
//	--------     --------       ------
//	javascript   StoredRef      bucket, key
//	javascript   InlineSource   source
//	javascript   NamedRef       name
//	erlang       ModuleRef      module, function
//
// Every other combination is a validation error. Fields that do not apply
// are omitted, never sent as null.
//
// ParseFunction keeps the old string-only construction style: a string that
// contains a '{' is treated as inline source, anything else as a named
// function. Prefer the explicit variants.
package phase
