package numbering

import (
	"context"
	"sync"
)

// MemoryCounter is a process-local Counter.
type MemoryCounter struct {
	mu     sync.Mutex
	values map[string]int64
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{values: make(map[string]int64)}
}

func (c *MemoryCounter) Next(_ context.Context, s Scope) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[s.Key]++
	return c.values[s.Key], nil
}
