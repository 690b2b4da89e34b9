// Package capture produces raw input records from the operating system (or
// a script) and hands them to a Sink.
//
// A Source delivers all records and topology notifications from a single
// goroutine, so a Sink that broadcasts synchronously preserves event order.
package capture

import (
	"context"
	"errors"

	"rawinputd/internal/device"
	"rawinputd/internal/input"
)

// ErrNotAvailable is returned by sources that cannot run on this platform.
var ErrNotAvailable = errors.New("capture: source not available on this platform")

// Sink receives capture output.
type Sink interface {
	// Record delivers one raw input record.
	Record(rec input.Record)
	// Enumerated delivers a full snapshot of attached devices. It is sent
	// once at startup and again after every topology change.
	Enumerated(entries []device.Entry)
	// Arrived reports a single device attach.
	Arrived(h input.Handle, class input.Class)
	// Removed reports a single device detach.
	Removed(h input.Handle)
}

// Source produces capture output until its context is cancelled or its
// input is exhausted.
type Source interface {
	Name() string
	Run(ctx context.Context, sink Sink) error
}

// SinkFuncs adapts plain functions to Sink. Nil fields are ignored.
type SinkFuncs struct {
	OnRecord     func(input.Record)
	OnEnumerated func([]device.Entry)
	OnArrived    func(input.Handle, input.Class)
	OnRemoved    func(input.Handle)
}

func (s SinkFuncs) Record(rec input.Record) {
	if s.OnRecord != nil {
		s.OnRecord(rec)
	}
}

func (s SinkFuncs) Enumerated(entries []device.Entry) {
	if s.OnEnumerated != nil {
		s.OnEnumerated(entries)
	}
}

func (s SinkFuncs) Arrived(h input.Handle, class input.Class) {
	if s.OnArrived != nil {
		s.OnArrived(h, class)
	}
}

func (s SinkFuncs) Removed(h input.Handle) {
	if s.OnRemoved != nil {
		s.OnRemoved(h)
	}
}
