package reserve

import (
	"context"
	"sync"
)

// MemoryCounter is a mutex-guarded in-process Counter. Sufficient for a
// single-instance deployment and for tests; multi-instance deployments
// must use RedisCounter.
type MemoryCounter struct {
	mu     sync.Mutex
	totals map[string]float64
}

// NewMemoryCounter constructs an empty MemoryCounter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{totals: make(map[string]float64)}
}

// Increment adds delta cents to a scope counter and returns the new total.
func (c *MemoryCounter) Increment(_ context.Context, key string, delta float64) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.totals[key] + delta
	if total == 0 {
		delete(c.totals, key)
	} else {
		c.totals[key] = total
	}
	return total, nil
}

// Total reads the current reserved total for a scope.
func (c *MemoryCounter) Total(_ context.Context, key string) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totals[key], nil
}

var _ Counter = (*MemoryCounter)(nil)
