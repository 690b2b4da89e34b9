package capture

import (
	"context"
	"math/bits"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rawinputd/internal/device"
	"rawinputd/internal/input"
)

const sampleDevices = `I: Bus=0011 Vendor=0001 Product=0001 Version=ab41
N: Name="AT Translated Set 2 keyboard"
P: Phys=isa0060/serio0/input0
S: Sysfs=/devices/platform/i8042/serio0/input/input3
U: Uniq=
H: Handlers=sysrq kbd event3 leds
B: PROP=0
B: EV=120013
B: KEY=402000000 3803078f800d001 feffffdfffefffff fffffffffffffffe
B: MSC=10
B: LED=7

I: Bus=0003 Vendor=046d Product=c077 Version=0111
N: Name="Logitech USB Optical Mouse"
P: Phys=usb-0000:00:14.0-2/input0
H: Handlers=mouse0 event5
B: PROP=0
B: EV=17
B: KEY=ff0000 0 0 0 0
B: REL=903
B: MSC=10

I: Bus=0019 Vendor=0000 Product=0001 Version=0000
N: Name="Power Button"
P: Phys=LNXPWRBN/button/input0
H: Handlers=kbd event0
B: PROP=0
B: EV=3
B: KEY=10000000000000 0
`

func TestParseProcDevices(t *testing.T) {
	devs, err := ParseProcDevices(strings.NewReader(sampleDevices))
	require.NoError(t, err)
	require.Len(t, devs, 3)

	kbd := devs[0]
	assert.Equal(t, "AT Translated Set 2 keyboard", kbd.Name)
	assert.Equal(t, "0011", kbd.Bus)
	assert.Equal(t, "0001", kbd.Vendor)
	assert.Equal(t, "isa0060/serio0/input0", kbd.Phys)
	node, ok := kbd.EventNode()
	require.True(t, ok)
	assert.Equal(t, "event3", node)

	mouse := devs[1]
	assert.Equal(t, "046d", mouse.Vendor)
	assert.Equal(t, "c077", mouse.Product)
	node, ok = mouse.EventNode()
	require.True(t, ok)
	assert.Equal(t, "event5", node)

	if bits.UintSize == 64 {
		assert.Equal(t, input.ClassKeyboard, kbd.Class())
		assert.Equal(t, input.ClassMouse, mouse.Class())
		assert.Equal(t, input.ClassOther, devs[2].Class())
	}
}

func TestParseProcDevicesEmpty(t *testing.T) {
	devs, err := ParseProcDevices(strings.NewReader("\n\n"))
	require.NoError(t, err)
	assert.Empty(t, devs)
}

func TestEventNodeMissing(t *testing.T) {
	d := ProcDevice{Handlers: []string{"kbd", "sysrq"}}
	_, ok := d.EventNode()
	assert.False(t, ok)
}

func TestParseBitmap(t *testing.T) {
	b := ParseBitmap("1 0", 64)
	require.Len(t, b, 2)
	assert.True(t, b.Has(64))
	assert.False(t, b.Has(0))
	assert.False(t, b.Has(128))
	assert.False(t, b.Has(-1))

	// 32-bit kernels print half-width words.
	b = ParseBitmap("3 80000001", 32)
	require.Len(t, b, 1)
	assert.True(t, b.Has(0))
	assert.True(t, b.Has(31))
	assert.True(t, b.Has(32))
	assert.True(t, b.Has(33))
	assert.False(t, b.Has(34))

	b = ParseBitmap("903", 64)
	assert.True(t, b.Has(relX))
	assert.True(t, b.Has(relY))
	assert.True(t, b.Has(relWheel))
	assert.False(t, b.Has(relHWheel))
}

func TestClass(t *testing.T) {
	keys := Bitmap{1<<keyEsc | 1<<keyA | 1<<keyZ | 1<<keySpace}
	tests := []struct {
		name string
		dev  ProcDevice
		want input.Class
	}{
		{"mouse", ProcDevice{EV: Bitmap{1 << evRel}, REL: Bitmap{1<<relX | 1<<relY}}, input.ClassMouse},
		{"wheel only", ProcDevice{EV: Bitmap{1 << evRel}, REL: Bitmap{1 << relWheel}}, input.ClassOther},
		{"keyboard", ProcDevice{EV: Bitmap{1 << evKey}, KEY: keys}, input.ClassKeyboard},
		{"power button", ProcDevice{EV: Bitmap{1 << evKey}, KEY: Bitmap{0, 1 << (116 - 64)}}, input.ClassOther},
		{"keys without EV_KEY", ProcDevice{KEY: keys}, input.ClassOther},
		{"empty", ProcDevice{}, input.ClassOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.dev.Class())
		})
	}
}

func TestVirtualKey(t *testing.T) {
	tests := []struct {
		code uint16
		want int
	}{
		{keyA, 'A'},
		{keyZ, 'Z'},
		{2, '1'},
		{11, '0'},
		{keyEsc, 0x1B},
		{keySpace, 0x20},
		{28, 0x0D},
		{42, 0x10},
		{54, 0x10},
		{59, 0x70},
		{88, 0x7B},
		{103, 0x26},
	}
	for _, tt := range tests {
		got, ok := VirtualKey(tt.code)
		require.True(t, ok, "code %d", tt.code)
		assert.Equal(t, tt.want, got, "code %d", tt.code)
	}

	_, ok := VirtualKey(0)
	assert.False(t, ok)
	_, ok = VirtualKey(0x2ff)
	assert.False(t, ok)
}

func TestMouseButtonFlags(t *testing.T) {
	down, up, ok := mouseButtonFlags(btnLeft)
	require.True(t, ok)
	assert.Equal(t, input.MouseLeftDown, down)
	assert.Equal(t, input.MouseLeftUp, up)

	down, up, ok = mouseButtonFlags(btnExtra)
	require.True(t, ok)
	assert.Equal(t, input.MouseButton5Down, down)
	assert.Equal(t, input.MouseButton5Up, up)

	_, _, ok = mouseButtonFlags(keyA)
	assert.False(t, ok)
}

func TestDecoderKeyboard(t *testing.T) {
	h := input.HandleFromUint64(0xd03)
	d := newDecoder(h, input.ClassKeyboard)

	rec, ok := d.feed(rawEvent{Type: evKey, Code: keyA, Value: 1})
	require.True(t, ok)
	assert.Equal(t, input.Record{Handle: h, Class: input.ClassKeyboard, Raw: input.RawKeyboard{VKey: 'A'}}, rec)

	rec, ok = d.feed(rawEvent{Type: evKey, Code: keyA, Value: 2})
	require.True(t, ok)
	assert.Equal(t, input.RawKeyboard{VKey: 'A', Repeat: true}, rec.Raw)

	rec, ok = d.feed(rawEvent{Type: evKey, Code: keyA, Value: 0})
	require.True(t, ok)
	assert.Equal(t, input.RawKeyboard{VKey: 'A', Break: true}, rec.Raw)

	_, ok = d.feed(rawEvent{Type: evSyn, Code: synReport})
	assert.False(t, ok, "sync reports carry nothing for keyboards")
	_, ok = d.feed(rawEvent{Type: evKey, Code: btnLeft, Value: 1})
	assert.False(t, ok, "buttons on a keyboard node are ignored")
	_, ok = d.feed(rawEvent{Type: evKey, Code: 0x1ff, Value: 1})
	assert.False(t, ok, "unmapped keys are dropped")
}

func TestDecoderMouse(t *testing.T) {
	h := input.HandleFromUint64(0xd05)
	d := newDecoder(h, input.ClassMouse)

	events := []rawEvent{
		{Type: evRel, Code: relX, Value: 2},
		{Type: evRel, Code: relX, Value: 3},
		{Type: evRel, Code: relY, Value: -4},
		{Type: evKey, Code: btnLeft, Value: 1},
	}
	for _, ev := range events {
		_, ok := d.feed(ev)
		require.False(t, ok, "nothing is emitted before SYN_REPORT")
	}

	rec, ok := d.feed(rawEvent{Type: evSyn, Code: synReport})
	require.True(t, ok)
	assert.Equal(t, input.Record{
		Handle: h,
		Class:  input.ClassMouse,
		Raw:    input.RawMouse{DX: 5, DY: -4, Buttons: input.MouseLeftDown},
	}, rec)

	_, ok = d.feed(rawEvent{Type: evSyn, Code: synReport})
	assert.False(t, ok, "empty frames are not emitted")

	d.feed(rawEvent{Type: evKey, Code: btnLeft, Value: 0})
	d.feed(rawEvent{Type: evKey, Code: btnRight, Value: 1})
	d.feed(rawEvent{Type: evRel, Code: relWheel, Value: 1})
	rec, ok = d.feed(rawEvent{Type: evSyn, Code: synReport})
	require.True(t, ok)
	assert.Equal(t, input.RawMouse{Buttons: input.MouseLeftUp | input.MouseRightDown | input.MouseWheel}, rec.Raw)
}

func TestDecoderOther(t *testing.T) {
	d := newDecoder(input.HandleFromUint64(1), input.ClassOther)
	_, ok := d.feed(rawEvent{Type: evKey, Code: keyA, Value: 1})
	assert.False(t, ok)
}

const sampleScript = `
# two devices
enum 0xAB12:keyboard 0x1F:mouse 0x77:other
key 0xAB12 65
key 0xAB12 65 repeat
key 0xAB12 0x41 up
mouse 0x1F -3 7
mouse 0x1F 0 0 0x1
other 0x77
add 0x20 mouse
remove 0x1F
`

type recordingSink struct {
	records    []input.Record
	snapshots  [][]device.Entry
	arrived    []input.Handle
	removed    []input.Handle
	operations []string
}

func (s *recordingSink) sinkFuncs() SinkFuncs {
	return SinkFuncs{
		OnRecord: func(r input.Record) {
			s.records = append(s.records, r)
			s.operations = append(s.operations, "record")
		},
		OnEnumerated: func(e []device.Entry) {
			s.snapshots = append(s.snapshots, e)
			s.operations = append(s.operations, "enum")
		},
		OnArrived: func(h input.Handle, _ input.Class) {
			s.arrived = append(s.arrived, h)
			s.operations = append(s.operations, "add")
		},
		OnRemoved: func(h input.Handle) {
			s.removed = append(s.removed, h)
			s.operations = append(s.operations, "remove")
		},
	}
}

func TestReplayRun(t *testing.T) {
	r, err := NewReplay("sample", strings.NewReader(sampleScript), 0)
	require.NoError(t, err)
	assert.Equal(t, "replay:sample", r.Name())
	assert.Equal(t, 9, r.Steps())

	var sink recordingSink
	require.NoError(t, r.Run(context.Background(), sink.sinkFuncs()))

	assert.Equal(t, []string{"enum", "record", "record", "record", "record", "record", "record", "add", "remove"}, sink.operations)

	kbd := input.HandleFromUint64(0xAB12)
	mouse := input.HandleFromUint64(0x1F)

	require.Len(t, sink.snapshots, 1)
	assert.Equal(t, []device.Entry{
		{Handle: kbd, Type: input.DeviceKeyboard},
		{Handle: mouse, Type: input.DeviceMouse},
		{Handle: input.HandleFromUint64(0x77), Type: input.DeviceUnknown},
	}, sink.snapshots[0])

	require.Len(t, sink.records, 6)
	assert.Equal(t, input.Record{Handle: kbd, Class: input.ClassKeyboard, Raw: input.RawKeyboard{VKey: 65}}, sink.records[0])
	assert.Equal(t, input.RawKeyboard{VKey: 65, Repeat: true}, sink.records[1].Raw)
	assert.Equal(t, input.RawKeyboard{VKey: 65, Break: true}, sink.records[2].Raw)
	assert.Equal(t, input.Record{Handle: mouse, Class: input.ClassMouse, Raw: input.RawMouse{DX: -3, DY: 7}}, sink.records[3])
	assert.Equal(t, input.RawMouse{Buttons: input.MouseLeftDown}, sink.records[4].Raw)
	assert.Equal(t, input.ClassOther, sink.records[5].Class)

	assert.Equal(t, []input.Handle{input.HandleFromUint64(0x20)}, sink.arrived)
	assert.Equal(t, []input.Handle{mouse}, sink.removed)
}

func TestReplayParseErrors(t *testing.T) {
	tests := []struct {
		name   string
		script string
		errSub string
	}{
		{"unknown directive", "jump 0x1", "line 1: unknown directive"},
		{"bad handle", "key zz 65", "line 1"},
		{"bad class", "add 0x1 joystick", "unknown class"},
		{"bad modifier", "key 0x1 65 sideways", "unknown modifier"},
		{"missing dy", "mouse 0x1 3", "mouse: want"},
		{"bad enum entry", "enum 0x1", "want <handle>:<class>"},
		{"bad sleep", "sleep soon", "sleep"},
		{"negative sleep", "sleep -1s", "must be positive"},
		{"line numbers", "# header\n\nkey 0x1 x", "line 3: key: vkey"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScript(strings.NewReader(tt.script))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errSub)
		})
	}
}

func TestReplayHonoursCancellation(t *testing.T) {
	r, err := NewReplay("slow", strings.NewReader("key 0x1 65\nsleep 1h\nkey 0x1 66\n"), 0)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var sink recordingSink
	err = r.Run(ctx, sink.sinkFuncs())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, sink.records, 1)
}

func TestReplayInterval(t *testing.T) {
	r, err := NewReplay("paced", strings.NewReader("key 0x1 65\nkey 0x1 66\n"), 20*time.Millisecond)
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, r.Run(context.Background(), SinkFuncs{}))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}
