package testfixtures

import (
	"fmt"
	"sync/atomic"
)

// IDGenerator hands out deterministic sequential identifiers for tests.
type IDGenerator struct {
	prefix  string
	counter atomic.Int64
}

// NewIDGenerator returns a generator producing "<prefix>-1", "<prefix>-2", ...
func NewIDGenerator(prefix string) *IDGenerator {
	if prefix == "" {
		prefix = "id"
	}
	return &IDGenerator{prefix: prefix}
}

// Next returns the next identifier in the sequence.
func (g *IDGenerator) Next() string {
	return fmt.Sprintf("%s-%d", g.prefix, g.counter.Add(1))
}

// NextFunc exposes Next as a function suitable for dependency injection.
func (g *IDGenerator) NextFunc() func() string {
	return g.Next
}
