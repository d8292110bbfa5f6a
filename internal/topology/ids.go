package topology

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// IDGenerator produces node identifiers. Implementations must be safe for
// concurrent use when a Planner is shared.
type IDGenerator interface {
	NextID() string
}

// UUIDGenerator issues random version 4 UUIDs.
type UUIDGenerator struct{}

// NextID returns a fresh UUID string.
func (UUIDGenerator) NextID() string {
	return uuid.NewString()
}

// SequentialGenerator issues "<prefix>-1", "<prefix>-2", ... Handy for
// reproducible blueprints and tests.
type SequentialGenerator struct {
	Prefix string
	next   atomic.Uint64
}

// NewSequentialGenerator returns a generator that starts at 1.
func NewSequentialGenerator(prefix string) *SequentialGenerator {
	if prefix == "" {
		prefix = "node"
	}
	return &SequentialGenerator{Prefix: prefix}
}

// NextID returns the next identifier in sequence.
func (g *SequentialGenerator) NextID() string {
	return fmt.Sprintf("%s-%d", g.Prefix, g.next.Add(1))
}
