package sim

import (
	"sync"

	"hidden-walnuts/server/internal/telemetry"
)

const (
	commandBufferOccupancyMetricKey = "sim_command_buffer_occupancy"
	commandBufferOverflowMetricKey  = "sim_command_buffer_overflow_total"
)

// CommandBuffer is a fixed-size FIFO ring of player commands. Websocket
// sessions push from their own goroutines; the loop drains once per tick.
type CommandBuffer struct {
	mu      sync.Mutex
	ring    []Command
	start   int
	size    int
	metrics telemetry.Metrics
}

// NewCommandBuffer constructs a ring with room for capacity commands. A nil
// metrics sink disables occupancy reporting.
func NewCommandBuffer(capacity int, metrics telemetry.Metrics) *CommandBuffer {
	if metrics == nil {
		metrics = telemetry.NopMetrics{}
	}
	return &CommandBuffer{ring: make([]Command, max(capacity, 1)), metrics: metrics}
}

// Capacity reports the maximum number of staged commands.
func (b *CommandBuffer) Capacity() int {
	if b == nil {
		return 0
	}
	return len(b.ring)
}

// Push stages cmd, returning false when the ring is full.
func (b *CommandBuffer) Push(cmd Command) bool {
	if b == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.size == len(b.ring) {
		b.metrics.Add(commandBufferOverflowMetricKey, 1)
		return false
	}
	b.ring[(b.start+b.size)%len(b.ring)] = cmd
	b.size++
	b.metrics.Store(commandBufferOccupancyMetricKey, uint64(b.size))
	return true
}

// Drain removes and returns every staged command in arrival order.
func (b *CommandBuffer) Drain() []Command {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.size == 0 {
		return nil
	}
	out := make([]Command, 0, b.size)
	for i := range b.size {
		slot := (b.start + i) % len(b.ring)
		out = append(out, b.ring[slot])
		b.ring[slot] = Command{}
	}
	b.start = (b.start + b.size) % len(b.ring)
	b.size = 0
	b.metrics.Store(commandBufferOccupancyMetricKey, 0)
	return out
}

// Len reports the number of staged commands.
func (b *CommandBuffer) Len() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}
