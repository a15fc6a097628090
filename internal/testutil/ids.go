package testutil

import (
	"fmt"
	"sync"
)

// IDs generates sequential UUID-shaped identifiers.
//
// The first call to Next returns "00000000-0000-7000-8000-000000000001".
// Ids sort in generation order, like the UUIDv7 ids the stores generate.
//
// Thread-safety: IDs is safe for concurrent use.
type IDs struct {
	mu     sync.Mutex
	prefix int
	seq    int64
}

// NewIDs creates a generator. Distinct prefixes keep ids from two
// generators (for example a local and a remote store) disjoint.
func NewIDs(prefix int) *IDs {
	return &IDs{prefix: prefix}
}

// Next returns the next id. The error is always nil; the signature
// matches the stores' id source.
func (g *IDs) Next() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	return fmt.Sprintf("%08d-0000-7000-8000-%012d", g.prefix, g.seq), nil
}

// Reset restarts the sequence.
func (g *IDs) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq = 0
}
