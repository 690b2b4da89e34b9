package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"rawinputd/internal/input"
)

func TestFormatEvent(t *testing.T) {
	tests := []struct {
		name string
		ev   input.Event
		want string
	}{
		{
			name: "printable key",
			ev:   input.Event{DeviceID: "0xAB12", Payload: input.KeyboardPayload{VKey: 65}, Timestamp: 1234},
			want: "[1234] KEYBOARD 0xAB12: Key=A (VK=65)",
		},
		{
			name: "space",
			ev:   input.Event{DeviceID: "0xAB12", Payload: input.KeyboardPayload{VKey: 32}, Timestamp: 1},
			want: "[1] KEYBOARD 0xAB12: Key=  (VK=32)",
		},
		{
			name: "non-printable key",
			ev:   input.Event{DeviceID: "0xAB12", Payload: input.KeyboardPayload{VKey: 0x0D}, Timestamp: 2},
			want: "[2] KEYBOARD 0xAB12: Key=VK_13 (VK=13)",
		},
		{
			name: "mouse",
			ev:   input.Event{DeviceID: "0x1F", Payload: input.MousePayload{DX: -3, DY: 7, Buttons: 1}, Timestamp: 1240},
			want: "[1240] MOUSE 0x1F: dx=  -3 dy=  +7 buttons=1",
		},
		{
			name: "no payload",
			ev:   input.Event{DeviceID: "0x1", Timestamp: 5},
			want: "[5] UNKNOWN 0x1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatEvent(tt.ev))
		})
	}
}

func TestTallyAndPrint(t *testing.T) {
	counts := make(map[string]*deviceCount)
	tally(counts, input.Event{DeviceID: "0x1F", Payload: input.MousePayload{DX: -3, DY: 4}, Timestamp: 100})
	tally(counts, input.Event{DeviceID: "0x1F", Payload: input.MousePayload{DX: 1, DY: 0}, Timestamp: 150})
	tally(counts, input.Event{DeviceID: "0xAB12", Payload: input.KeyboardPayload{VKey: 65}, Timestamp: 120})

	assert.Equal(t, 2, counts["0x1F"].events)
	assert.Equal(t, 8, counts["0x1F"].distance)
	assert.Equal(t, uint64(50), counts["0x1F"].last-counts["0x1F"].first)
	assert.Equal(t, "keyboard", counts["0xAB12"].kind)

	var out strings.Builder
	printCounts(&out, counts, 2)
	text := out.String()
	assert.Contains(t, text, "3 events from 2 devices, 2 malformed lines")
	assert.Less(t, strings.Index(text, "0x1F"), strings.Index(text, "0xAB12"))
}
