package object

import "github.com/roach88/kvq/internal/kverr"

// Siblings is the result of a fetch: every concurrent version of one key.
//
//   - Len() == 0: not found
//   - Len() == 1: no conflict
//   - Len() > 1: conflict; pick one with Resolve and store it
type Siblings struct {
	Bucket   string
	Key      string
	versions []*Version
}

// NewSiblings groups versions fetched for bucket/key.
func NewSiblings(bucket, key string, versions ...*Version) *Siblings {
	return &Siblings{Bucket: bucket, Key: key, versions: versions}
}

// Len returns the number of siblings.
func (s *Siblings) Len() int {
	if s == nil {
		return 0
	}
	return len(s.versions)
}

// Conflicted reports whether more than one sibling exists.
func (s *Siblings) Conflicted() bool {
	return s.Len() > 1
}

// Exists reports whether the key holds any value.
func (s *Siblings) Exists() bool {
	switch s.Len() {
	case 0:
		return false
	case 1:
		return s.versions[0].Exists()
	default:
		return true
	}
}

// Version returns the single version of an unconflicted key. For a missing
// key it returns a fresh Version that does not exist; for a conflicted key
// it returns nil.
func (s *Siblings) Version() *Version {
	switch s.Len() {
	case 0:
		return New(s.Bucket, s.Key)
	case 1:
		return s.versions[0]
	default:
		return nil
	}
}

// All returns the siblings in response order.
func (s *Siblings) All() []*Version {
	if s == nil {
		return nil
	}
	return s.versions
}

// Resolve returns sibling i. Storing it collapses the set to one version.
func (s *Siblings) Resolve(i int) (*Version, error) {
	return Resolve(s, i)
}

// Resolve returns sibling i of s.
func Resolve(s *Siblings, i int) (*Version, error) {
	if i < 0 || i >= s.Len() {
		return nil, kverr.Validation("resolve", "sibling %d out of range [0,%d)", i, s.Len())
	}
	return s.versions[i], nil
}
