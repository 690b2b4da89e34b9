// Package normalize turns raw capture records into canonical input events.
//
// Processing order for each record:
//  1. records from devices that are neither keyboards nor mice are discarded
//  2. the class-specific noise filter is applied
//  3. unseen devices are lazily registered in the device registry
//  4. an input.Event is built with the registry id and a monotonic timestamp
//  5. the event is encoded and handed to the broadcaster
package normalize

import (
	"sync/atomic"

	"rawinputd/internal/device"
	"rawinputd/internal/input"
	"rawinputd/internal/logging"
	"rawinputd/internal/metrics"
)

// Broadcaster receives encoded event lines (without the record delimiter).
type Broadcaster interface {
	Broadcast(line []byte) int
}

// Filter selects which noisy records are dropped before they become events.
type Filter struct {
	// DropKeyReleases discards key-up records.
	DropKeyReleases bool
	// DropKeyRepeats discards auto-repeat make codes.
	DropKeyRepeats bool
	// DropIdleMouse discards mouse records with no motion and no button change.
	DropIdleMouse bool
}

// DefaultFilter drops key releases and idle mouse records and forwards
// auto-repeat key presses.
func DefaultFilter() Filter {
	return Filter{
		DropKeyReleases: true,
		DropKeyRepeats:  false,
		DropIdleMouse:   true,
	}
}

// Config configures a Normalizer.
type Config struct {
	Registry    *device.Registry
	Broadcaster Broadcaster
	Clock       Clock
	Filter      Filter
	Logger      *logging.Logger
	Metrics     *metrics.Pipeline
}

// Normalizer filters, registers and serializes capture records.
type Normalizer struct {
	registry    *device.Registry
	broadcaster Broadcaster
	clock       *nonDecreasing
	filter      atomic.Pointer[Filter]
	logger      *logging.Logger
	metrics     *metrics.Pipeline
}

// New creates a Normalizer. Registry is required; a nil Clock selects
// MonotonicClock.
func New(cfg Config) *Normalizer {
	if cfg.Registry == nil {
		panic("normalize: nil registry")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = MonotonicClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.NewPipeline(nil)
	}

	n := &Normalizer{
		registry:    cfg.Registry,
		broadcaster: cfg.Broadcaster,
		clock:       &nonDecreasing{src: clock},
		logger:      logger.WithComponent("normalize"),
		metrics:     m,
	}
	f := cfg.Filter
	n.filter.Store(&f)
	return n
}

// Filter returns the active filter.
func (n *Normalizer) Filter() Filter {
	return *n.filter.Load()
}

// SetFilter replaces the active filter.
func (n *Normalizer) SetFilter(f Filter) {
	n.filter.Store(&f)
	n.logger.Info("filter updated",
		"drop_key_releases", f.DropKeyReleases,
		"drop_key_repeats", f.DropKeyRepeats,
		"drop_idle_mouse", f.DropIdleMouse,
	)
}

// Normalize converts a record into an event. It returns false when the
// record is discarded. Lazily registers unseen devices.
func (n *Normalizer) Normalize(rec input.Record) (input.Event, bool) {
	n.metrics.RecordsTotal.Inc()

	payload, verdict := n.classify(rec)
	switch verdict {
	case verdictDiscard:
		n.metrics.RecordsDiscardedTotal.Inc()
		return input.Event{}, false
	case verdictFiltered:
		n.metrics.EventsFilteredTotal.Inc()
		return input.Event{}, false
	}

	dev, ok := n.registry.Get(rec.Handle)
	if !ok {
		var added bool
		dev, added = n.registry.Add(rec.Handle, rec.Class.DeviceType())
		if added {
			n.logger.Info("device registered lazily", "device_id", dev.ID, "type", dev.Type.String())
		}
	}

	return input.Event{
		DeviceID:  dev.ID,
		Payload:   payload,
		Timestamp: n.clock.NowMillis(),
	}, true
}

// Handle normalizes a record and broadcasts the resulting line. It reports
// whether a line was broadcast.
func (n *Normalizer) Handle(rec input.Record) bool {
	ev, ok := n.Normalize(rec)
	if !ok {
		return false
	}

	line, err := input.Encode(ev)
	if err != nil {
		n.metrics.RecordsDiscardedTotal.Inc()
		n.logger.Debug("encode event failed", "device_id", ev.DeviceID, "error", err)
		return false
	}

	n.metrics.EventsEmittedTotal.Inc()
	if n.broadcaster != nil {
		n.broadcaster.Broadcast(line)
	}
	return true
}

type verdict int

const (
	verdictKeep verdict = iota
	verdictFiltered
	verdictDiscard
)

func (n *Normalizer) classify(rec input.Record) (input.Payload, verdict) {
	f := n.filter.Load()

	switch rec.Class {
	case input.ClassKeyboard:
		raw, ok := rec.Raw.(input.RawKeyboard)
		if !ok {
			return nil, verdictDiscard
		}
		if raw.Break && f.DropKeyReleases {
			return nil, verdictFiltered
		}
		if raw.Repeat && f.DropKeyRepeats {
			return nil, verdictFiltered
		}
		return input.KeyboardPayload{VKey: raw.VKey}, verdictKeep

	case input.ClassMouse:
		raw, ok := rec.Raw.(input.RawMouse)
		if !ok {
			return nil, verdictDiscard
		}
		if raw.DX == 0 && raw.DY == 0 && raw.Buttons == 0 && f.DropIdleMouse {
			return nil, verdictFiltered
		}
		return input.MousePayload{DX: raw.DX, DY: raw.DY, Buttons: raw.Buttons}, verdictKeep

	default:
		return nil, verdictDiscard
	}
}
