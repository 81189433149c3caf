// Package wire provides the JSON value model used for everything kvq sends to
// the store: map/reduce arguments, key-filter operands, and compiled query
// documents.
//
// This package contains type definitions and codecs only. All other internal
// packages import wire; wire imports nothing internal.
//
// Key design constraints:
//   - Value is a sealed interface (Null, String, Int, Float, Bool, Array, Object)
//   - Integers stay int64; other numbers are Float and encode as encoding/json
//     formats float64, so compiled documents stay byte-stable
//   - Object keys are emitted in UTF-16 code unit order (RFC 8785)
//   - HTML characters are never escaped; inline JavaScript must reach the
//     server exactly as written
package wire
