package keylog

import (
	"maps"
	"sync"
)

// labelCounter counts entries per label; the watcher feeds it from its own
// goroutine.
type labelCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func newLabelCounter() *labelCounter {
	return &labelCounter{counts: make(map[string]int)}
}

func (c *labelCounter) add(label string) {
	c.mu.Lock()
	c.counts[label]++
	c.mu.Unlock()
}

func (c *labelCounter) snapshot() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.counts)
}
