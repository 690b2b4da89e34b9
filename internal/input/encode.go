package input

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Encoding errors.
var (
	ErrNoPayload       = errors.New("event has no payload")
	ErrUnknownType     = errors.New("unknown event type")
	ErrMissingDeviceID = errors.New("event has no device id")
)

// keyboardLine and mouseLine fix the field order of the wire format.
type keyboardLine struct {
	DeviceID  string `json:"device_id"`
	Type      string `json:"type"`
	VKey      int    `json:"vkey"`
	Timestamp uint64 `json:"timestamp"`
}

type mouseLine struct {
	DeviceID  string `json:"device_id"`
	Type      string `json:"type"`
	DX        int    `json:"dx"`
	DY        int    `json:"dy"`
	Buttons   int    `json:"buttons"`
	Timestamp uint64 `json:"timestamp"`
}

// wireLine is the union used when decoding.
type wireLine struct {
	DeviceID  string  `json:"device_id"`
	Type      string  `json:"type"`
	VKey      *int    `json:"vkey"`
	DX        *int    `json:"dx"`
	DY        *int    `json:"dy"`
	Buttons   *int    `json:"buttons"`
	Timestamp *uint64 `json:"timestamp"`
}

// Encode serializes an event as a single JSON object without a trailing
// record delimiter.
func Encode(e Event) ([]byte, error) {
	if e.DeviceID == "" {
		return nil, ErrMissingDeviceID
	}
	switch p := e.Payload.(type) {
	case KeyboardPayload:
		return json.Marshal(keyboardLine{
			DeviceID:  e.DeviceID,
			Type:      DeviceKeyboard.String(),
			VKey:      p.VKey,
			Timestamp: e.Timestamp,
		})
	case MousePayload:
		return json.Marshal(mouseLine{
			DeviceID:  e.DeviceID,
			Type:      DeviceMouse.String(),
			DX:        p.DX,
			DY:        p.DY,
			Buttons:   p.Buttons,
			Timestamp: e.Timestamp,
		})
	case nil:
		return nil, ErrNoPayload
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, p)
	}
}

// Decode parses one wire line (with or without its trailing newline).
func Decode(line []byte) (Event, error) {
	line = bytes.TrimRight(line, "\r\n")

	var w wireLine
	if err := json.Unmarshal(line, &w); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if w.DeviceID == "" {
		return Event{}, ErrMissingDeviceID
	}
	if w.Timestamp == nil {
		return Event{}, errors.New("decode event: missing timestamp")
	}

	e := Event{DeviceID: w.DeviceID, Timestamp: *w.Timestamp}
	switch w.Type {
	case "keyboard":
		if w.VKey == nil {
			return Event{}, errors.New("decode event: keyboard line without vkey")
		}
		e.Payload = KeyboardPayload{VKey: *w.VKey}
	case "mouse":
		if w.DX == nil || w.DY == nil || w.Buttons == nil {
			return Event{}, errors.New("decode event: mouse line missing dx, dy or buttons")
		}
		e.Payload = MousePayload{DX: *w.DX, DY: *w.DY, Buttons: *w.Buttons}
	default:
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownType, w.Type)
	}
	return e, nil
}
