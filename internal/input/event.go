// Package input defines the data model shared by the capture, registry,
// normalizer and broadcast layers of rawinputd.
//
// Types:
//   - Handle: opaque device identifier minted at the capture boundary
//   - Record: a raw capture record as delivered by a capture source
//   - Event: the canonical, filtered input event that is put on the wire
package input

import (
	"fmt"
	"strconv"
	"strings"
)

// DeviceType classifies an input device.
type DeviceType int

const (
	DeviceUnknown DeviceType = iota
	DeviceKeyboard
	DeviceMouse
)

// String returns the wire name of the device type.
func (t DeviceType) String() string {
	switch t {
	case DeviceKeyboard:
		return "keyboard"
	case DeviceMouse:
		return "mouse"
	default:
		return "unknown"
	}
}

// Known reports whether the type is Keyboard or Mouse.
func (t DeviceType) Known() bool {
	return t == DeviceKeyboard || t == DeviceMouse
}

// ParseDeviceType parses a wire name back into a DeviceType.
func ParseDeviceType(s string) (DeviceType, error) {
	switch strings.ToLower(s) {
	case "keyboard":
		return DeviceKeyboard, nil
	case "mouse":
		return DeviceMouse, nil
	case "unknown", "":
		return DeviceUnknown, nil
	default:
		return DeviceUnknown, fmt.Errorf("unknown device type: %s", s)
	}
}

// Handle is an opaque, comparable device identifier. The core only relies on
// equality and String; the numeric form exists solely so capture sources can
// wrap whatever the platform hands them.
type Handle struct {
	v uint64
}

// HandleFromUint64 wraps a platform handle value.
func HandleFromUint64(v uint64) Handle {
	return Handle{v: v}
}

// ParseHandle parses the String form of a handle ("0xAB12").
func ParseHandle(s string) (Handle, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return Handle{}, fmt.Errorf("handle %q: missing 0x prefix", s)
	}
	v, err := strconv.ParseUint(s[2:], 16, 64)
	if err != nil {
		return Handle{}, fmt.Errorf("handle %q: %w", s, err)
	}
	return Handle{v: v}, nil
}

// String returns the deterministic device id derived from the handle:
// "0x" followed by upper-case hex digits.
func (h Handle) String() string {
	return "0x" + strings.ToUpper(strconv.FormatUint(h.v, 16))
}

// Payload is the type-specific body of an Event. It is sealed: the only
// implementations are KeyboardPayload and MousePayload.
type Payload interface {
	DeviceType() DeviceType
	isPayload()
}

// KeyboardPayload carries a key press.
type KeyboardPayload struct {
	VKey int
}

// DeviceType implements Payload.
func (KeyboardPayload) DeviceType() DeviceType { return DeviceKeyboard }

func (KeyboardPayload) isPayload() {}

// MousePayload carries relative motion and button transition flags.
type MousePayload struct {
	DX      int
	DY      int
	Buttons int
}

// DeviceType implements Payload.
func (MousePayload) DeviceType() DeviceType { return DeviceMouse }

func (MousePayload) isPayload() {}

// Event is a canonical input event. Timestamp is in monotonic milliseconds.
type Event struct {
	DeviceID  string
	Payload   Payload
	Timestamp uint64
}

// Type returns the device type implied by the payload.
func (e Event) Type() DeviceType {
	if e.Payload == nil {
		return DeviceUnknown
	}
	return e.Payload.DeviceType()
}
