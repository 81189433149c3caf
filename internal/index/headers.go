package index

import (
	"net/http"
	"strings"
)

// HeaderPrefix starts every index header, e.g. "X-Riak-Index-foo_int".
const HeaderPrefix = "X-Riak-Index-"

// WriteHeaders sets one header per materialized index. Values are joined
// with ", "; bin values containing a comma cannot round-trip.
func (s *Set) WriteHeaders(h http.Header) {
	for name, values := range s.Materialize() {
		// Set the raw key; canonicalization would upper-case the index name.
		h[HeaderPrefix+name] = []string{strings.Join(values, ", ")}
	}
}

// ParseHeaders collects the index headers of a response. Header keys are
// matched case-insensitively; unparseable index names are skipped.
func ParseHeaders(h http.Header) map[Field][]string {
	out := make(map[Field][]string)
	prefix := strings.ToLower(HeaderPrefix)
	for key, lines := range h {
		if !strings.HasPrefix(strings.ToLower(key), prefix) {
			continue
		}
		f, err := ParseField(key[len(prefix):])
		if err != nil {
			continue
		}
		for _, line := range lines {
			for _, v := range strings.Split(line, ",") {
				v = strings.TrimSpace(v)
				if v == "" {
					continue
				}
				out[f] = append(out[f], v)
			}
		}
	}
	return out
}
