package capture

import (
	"rawinputd/internal/input"
	"rawinputd/internal/logging"
)

// DefaultDevicesFile is where the kernel lists input devices.
const DefaultDevicesFile = "/proc/bus/input/devices"

// EvdevConfig configures the Linux event-device source.
type EvdevConfig struct {
	// DevicesFile is the kernel device list, normally /proc/bus/input/devices.
	DevicesFile string
	// InputDir holds the eventN nodes, normally /dev/input.
	InputDir string
	Logger   *logging.Logger
}

// rawEvent is the part of a kernel input event the decoder looks at.
type rawEvent struct {
	Type  uint16
	Code  uint16
	Value int32
}

// decoder turns the event stream of one device into capture records.
// Keyboard events become records immediately; mouse motion and button
// changes accumulate until the next SYN_REPORT.
type decoder struct {
	handle input.Handle
	class  input.Class

	dx, dy  int
	buttons int
	pending bool
}

func newDecoder(h input.Handle, class input.Class) *decoder {
	return &decoder{handle: h, class: class}
}

func (d *decoder) feed(ev rawEvent) (input.Record, bool) {
	switch d.class {
	case input.ClassKeyboard:
		return d.feedKeyboard(ev)
	case input.ClassMouse:
		return d.feedMouse(ev)
	default:
		return input.Record{}, false
	}
}

func (d *decoder) feedKeyboard(ev rawEvent) (input.Record, bool) {
	if ev.Type != evKey || ev.Code >= btnMisc {
		return input.Record{}, false
	}
	vk, ok := VirtualKey(ev.Code)
	if !ok {
		return input.Record{}, false
	}
	return input.Record{
		Handle: d.handle,
		Class:  input.ClassKeyboard,
		Raw: input.RawKeyboard{
			VKey:   vk,
			Break:  ev.Value == 0,
			Repeat: ev.Value == 2,
		},
	}, true
}

func (d *decoder) feedMouse(ev rawEvent) (input.Record, bool) {
	switch ev.Type {
	case evRel:
		switch ev.Code {
		case relX:
			d.dx += int(ev.Value)
		case relY:
			d.dy += int(ev.Value)
		case relWheel:
			d.buttons |= input.MouseWheel
		case relHWheel:
			d.buttons |= input.MouseHWheel
		default:
			return input.Record{}, false
		}
		d.pending = true

	case evKey:
		down, up, ok := mouseButtonFlags(ev.Code)
		if !ok {
			return input.Record{}, false
		}
		switch ev.Value {
		case 1:
			d.buttons |= down
		case 0:
			d.buttons |= up
		default:
			return input.Record{}, false
		}
		d.pending = true

	case evSyn:
		if ev.Code != synReport || !d.pending {
			return input.Record{}, false
		}
		rec := input.Record{
			Handle: d.handle,
			Class:  input.ClassMouse,
			Raw:    input.RawMouse{DX: d.dx, DY: d.dy, Buttons: d.buttons},
		}
		d.dx, d.dy, d.buttons, d.pending = 0, 0, 0, false
		return rec, true
	}
	return input.Record{}, false
}
