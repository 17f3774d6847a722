package telemetry

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Counters is a concurrency-safe Metrics implementation backing the
// diagnostics endpoint.
type Counters struct {
	values sync.Map // string -> *atomic.Uint64
}

func (c *Counters) counter(key string) *atomic.Uint64 {
	if v, ok := c.values.Load(key); ok {
		return v.(*atomic.Uint64)
	}
	v, _ := c.values.LoadOrStore(key, new(atomic.Uint64))
	return v.(*atomic.Uint64)
}

func (c *Counters) Add(key string, delta uint64) {
	if c == nil || key == "" {
		return
	}
	c.counter(key).Add(delta)
}

func (c *Counters) Store(key string, value uint64) {
	if c == nil || key == "" {
		return
	}
	c.counter(key).Store(value)
}

// Get returns the current value of key, zero when unset.
func (c *Counters) Get(key string) uint64 {
	if c == nil {
		return 0
	}
	if v, ok := c.values.Load(key); ok {
		return v.(*atomic.Uint64).Load()
	}
	return 0
}

// Snapshot copies every counter.
func (c *Counters) Snapshot() map[string]uint64 {
	out := make(map[string]uint64)
	if c == nil {
		return out
	}
	c.values.Range(func(k, v any) bool {
		out[k.(string)] = v.(*atomic.Uint64).Load()
		return true
	})
	return out
}

// Keys lists counter names in sorted order.
func (c *Counters) Keys() []string {
	snapshot := c.Snapshot()
	keys := make([]string, 0, len(snapshot))
	for k := range snapshot {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
