package normalize

import (
	"sync"
	"time"
)

// Clock supplies event timestamps in milliseconds.
type Clock interface {
	NowMillis() uint64
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() uint64

// NowMillis implements Clock.
func (f ClockFunc) NowMillis() uint64 {
	return f()
}

// MonotonicClock reads the platform monotonic clock. On Unix the epoch is
// system boot; elsewhere it is process start.
type MonotonicClock struct{}

// NowMillis implements Clock.
func (MonotonicClock) NowMillis() uint64 {
	if ms, ok := platformMonotonicMillis(); ok {
		return ms
	}
	return uint64(time.Since(processStart).Milliseconds())
}

var processStart = time.Now()

// nonDecreasing wraps a Clock so that successive readings never go
// backwards, even if the underlying source does.
type nonDecreasing struct {
	mu   sync.Mutex
	src  Clock
	last uint64
}

func (c *nonDecreasing) NowMillis() uint64 {
	now := c.src.NowMillis()
	c.mu.Lock()
	defer c.mu.Unlock()
	if now < c.last {
		return c.last
	}
	c.last = now
	return now
}
