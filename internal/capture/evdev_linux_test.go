//go:build linux

package capture

import (
	"context"
	"encoding/binary"
	"math/bits"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mikegio27/go-evdev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"rawinputd/internal/device"
	"rawinputd/internal/input"
)

func TestEventSizeMatchesKernelLayout(t *testing.T) {
	assert.Equal(t, 2*bits.UintSize/8+8, eventSize)
}

func TestProcDeviceFromInputDevice(t *testing.T) {
	d := evdev.InputDevice{
		Bus:      "0003",
		Vendor:   "046d",
		Product:  "c077",
		Name:     `"Logitech USB Optical Mouse"`,
		Phys:     "usb-0000:00:14.0-2/input0",
		Handlers: "mouse0 event5 ",
		Props: map[string]string{
			"B: PROP": "0",
			"B: EV":   "17",
			"B: REL":  "903",
		},
	}

	p := procDeviceFrom(d)
	assert.Equal(t, "Logitech USB Optical Mouse", p.Name)
	assert.Equal(t, "046d", p.Vendor)
	assert.Equal(t, []string{"mouse0", "event5"}, p.Handlers)
	node, ok := p.EventNode()
	require.True(t, ok)
	assert.Equal(t, "event5", node)
	assert.Equal(t, input.ClassMouse, p.Class())
}

func TestListDevicesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices")
	require.NoError(t, os.WriteFile(path, []byte(sampleDevices), 0o644))

	devs, err := ListDevices(path)
	require.NoError(t, err)
	require.Len(t, devs, 3)
	assert.Equal(t, "Logitech USB Optical Mouse", devs[1].Name)

	_, err = ListDevices(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

// deviceBlocks returns the keyboard and mouse blocks of sampleDevices with
// their event nodes renamed.
func deviceBlocks(kbdNode, mouseNode string) (string, string) {
	blocks := strings.Split(sampleDevices, "\n\n")
	kbd := strings.Replace(blocks[0], "event3", kbdNode, 1)
	mouse := strings.Replace(blocks[1], "event5", mouseNode, 1)
	return kbd + "\n\n", mouse + "\n\n"
}

func writeEvents(t *testing.T, f *os.File, events ...evdev.InputEvent) {
	t.Helper()
	require.NoError(t, binary.Write(f, binary.NativeEndian, events))
}

func TestEvdevRun(t *testing.T) {
	if bits.UintSize != 64 {
		t.Skip("sample capability bitmaps use 64-bit words")
	}

	inputDir := t.TempDir()
	devicesFile := filepath.Join(t.TempDir(), "devices")
	kbd, mouse := deviceBlocks("event0", "event1")
	require.NoError(t, os.WriteFile(devicesFile, []byte(kbd), 0o644))

	event0 := filepath.Join(inputDir, "event0")
	require.NoError(t, unix.Mkfifo(event0, 0o600))
	// Holding a write end open keeps reads blocking instead of seeing EOF.
	w, err := os.OpenFile(event0, os.O_RDWR, 0)
	require.NoError(t, err)
	defer w.Close()

	records := make(chan input.Record, 16)
	snapshots := make(chan []device.Entry, 16)
	sink := SinkFuncs{
		OnRecord:     func(r input.Record) { records <- r },
		OnEnumerated: func(e []device.Entry) { snapshots <- e },
	}

	src := NewEvdev(EvdevConfig{DevicesFile: devicesFile, InputDir: inputDir})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- src.Run(ctx, sink) }()

	var snap []device.Entry
	select {
	case snap = <-snapshots:
	case <-time.After(2 * time.Second):
		t.Fatal("no enumeration")
	}
	require.Len(t, snap, 1)
	assert.Equal(t, input.DeviceKeyboard, snap[0].Type)
	assert.Equal(t, "AT Translated Set 2 keyboard", snap[0].Name)

	name, err := src.DeviceName(snap[0].Handle)
	require.NoError(t, err)
	assert.Equal(t, "AT Translated Set 2 keyboard", name)

	writeEvents(t, w,
		evdev.InputEvent{Type: evKey, Code: keyA, Value: 1},
		evdev.InputEvent{Type: evSyn, Code: synReport},
	)
	select {
	case rec := <-records:
		assert.Equal(t, input.Record{
			Handle: snap[0].Handle,
			Class:  input.ClassKeyboard,
			Raw:    input.RawKeyboard{VKey: 'A'},
		}, rec)
	case <-time.After(2 * time.Second):
		t.Fatal("no record from device")
	}

	// A new event node triggers a fresh enumeration.
	require.NoError(t, os.WriteFile(devicesFile, []byte(kbd+mouse), 0o644))
	require.NoError(t, unix.Mkfifo(filepath.Join(inputDir, "event1"), 0o600))
	select {
	case snap = <-snapshots:
	case <-time.After(3 * time.Second):
		t.Fatal("no re-enumeration after hot-plug")
	}
	require.Len(t, snap, 2)
	assert.Equal(t, input.DeviceMouse, snap[1].Type)

	cancel()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
