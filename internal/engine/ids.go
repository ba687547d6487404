package engine

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// IDGenerator produces identifiers for commits, fact rows, and conflict
// reports. Implemented by UUIDv7Generator (production) and
// PrefixGenerator (tests and the scenario harness).
type IDGenerator interface {
	NewID() string
}

// UUIDv7Generator generates time-sortable UUIDv7 identifiers.
//
// UUIDv7 embeds a timestamp in the most significant bits, so ids sort
// roughly by creation time, which keeps database pages warm and makes
// eyeballing rows pleasant.
//
// Thread-safety: stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// NewID creates a new UUIDv7 as a hyphenated string.
// Panics if UUID generation fails (should never happen in practice).
func (g UUIDv7Generator) NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// PrefixGenerator returns "<prefix>-000001", "<prefix>-000002", ...
//
// This enables deterministic test execution and golden trace comparison:
// the same scenario always yields the same ids.
//
// Thread-safety: safe for concurrent use via internal mutex.
type PrefixGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewPrefixGenerator creates a deterministic generator. An empty prefix
// defaults to "id".
func NewPrefixGenerator(prefix string) *PrefixGenerator {
	if prefix == "" {
		prefix = "id"
	}
	return &PrefixGenerator{prefix: prefix}
}

// NewID returns the next id in sequence.
func (g *PrefixGenerator) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%06d", g.prefix, g.n)
}
