package logging

import (
	"io"
	"sync"
	"sync/atomic"
)

// AsyncWriter queues writes on a buffered channel and forwards them to the
// wrapped writer from a single goroutine. Writes never block: when the queue
// is full the line is dropped and counted.
type AsyncWriter struct {
	w       io.Writer
	queue   chan []byte
	done    chan struct{}
	dropped atomic.Uint64

	mu     sync.RWMutex
	closed bool
}

// NewAsyncWriter starts a writer with room for size queued lines.
func NewAsyncWriter(w io.Writer, size int) *AsyncWriter {
	if size <= 0 {
		size = 1
	}
	a := &AsyncWriter{
		w:     w,
		queue: make(chan []byte, size),
		done:  make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *AsyncWriter) run() {
	defer close(a.done)
	for line := range a.queue {
		_, _ = a.w.Write(line)
	}
}

// Write implements io.Writer. It always reports success.
func (a *AsyncWriter) Write(p []byte) (int, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		a.dropped.Add(1)
		return len(p), nil
	}

	// slog reuses its buffer after Write returns.
	line := make([]byte, len(p))
	copy(line, p)

	select {
	case a.queue <- line:
	default:
		a.dropped.Add(1)
	}
	return len(p), nil
}

// Dropped returns the number of discarded writes.
func (a *AsyncWriter) Dropped() uint64 {
	return a.dropped.Load()
}

// Close drains the queue and stops the writer goroutine. Idempotent.
func (a *AsyncWriter) Close() error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	<-a.done
	return nil
}
