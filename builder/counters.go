package builder

import (
	"sort"
	"sync"
)

// Counters is a named-counter set for protocol events: fallbacks taken,
// retries burned, resyncs spent. Dumped into the run report at the end.
type Counters struct {
	mu sync.Mutex
	m  map[string]int64
}

func NewCounters() *Counters {
	return &Counters{m: make(map[string]int64)}
}

func (c *Counters) Inc(name string) { c.Add(name, 1) }

func (c *Counters) Add(name string, delta int64) {
	c.mu.Lock()
	c.m[name] += delta
	c.mu.Unlock()
}

func (c *Counters) Get(name string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.m[name]
}

// Snapshot returns a copy of all counters.
func (c *Counters) Snapshot() map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int64, len(c.m))
	for k, v := range c.m {
		out[k] = v
	}
	return out
}

// Names returns the counter names in sorted order.
func (c *Counters) Names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.m))
	for k := range c.m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
