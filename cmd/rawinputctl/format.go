package main

import (
	"fmt"

	"rawinputd/internal/input"
)

// keyName shows printable ASCII virtual keys as their character.
func keyName(vkey int) string {
	if vkey >= 32 && vkey <= 126 {
		return string(rune(vkey))
	}
	return fmt.Sprintf("VK_%d", vkey)
}

func formatEvent(ev input.Event) string {
	switch p := ev.Payload.(type) {
	case input.KeyboardPayload:
		return fmt.Sprintf("[%d] KEYBOARD %s: Key=%s (VK=%d)", ev.Timestamp, ev.DeviceID, keyName(p.VKey), p.VKey)
	case input.MousePayload:
		return fmt.Sprintf("[%d] MOUSE %s: dx=%+4d dy=%+4d buttons=%d", ev.Timestamp, ev.DeviceID, p.DX, p.DY, p.Buttons)
	default:
		return fmt.Sprintf("[%d] UNKNOWN %s", ev.Timestamp, ev.DeviceID)
	}
}
