package testutil

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// KeyGenerator produces the keys the store assigns to objects written
// without one.
type KeyGenerator interface {
	Generate() string
}

// UUIDKeys generates time-ordered UUIDv7 keys without dashes, resembling
// the opaque keys a real store assigns.
type UUIDKeys struct{}

// Generate returns a fresh key.
func (UUIDKeys) Generate() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return strings.ReplaceAll(id.String(), "-", "")
}

// SequentialKeys generates "<prefix>1", "<prefix>2", ... for tests that
// assert on assigned keys.
type SequentialKeys struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialKeys returns a generator with the given prefix.
func NewSequentialKeys(prefix string) *SequentialKeys {
	return &SequentialKeys{prefix: prefix}
}

// Generate returns the next key.
func (g *SequentialKeys) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s%d", g.prefix, g.n)
}
