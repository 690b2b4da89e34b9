package input

// Class is the device class reported by the capture subsystem for a raw
// record. Anything that is neither a keyboard nor a mouse is ClassOther.
type Class int

const (
	ClassOther Class = iota
	ClassKeyboard
	ClassMouse
)

// String returns the class name.
func (c Class) String() string {
	switch c {
	case ClassKeyboard:
		return "keyboard"
	case ClassMouse:
		return "mouse"
	default:
		return "other"
	}
}

// DeviceType maps a capture class onto the registry device type.
func (c Class) DeviceType() DeviceType {
	switch c {
	case ClassKeyboard:
		return DeviceKeyboard
	case ClassMouse:
		return DeviceMouse
	default:
		return DeviceUnknown
	}
}

// Raw is the class-specific body of a capture record.
type Raw interface {
	isRaw()
}

// RawKeyboard is a keyboard capture record.
type RawKeyboard struct {
	VKey int
	// Break is set for key releases.
	Break bool
	// Repeat is set for auto-repeat make codes.
	Repeat bool
}

func (RawKeyboard) isRaw() {}

// RawMouse is a mouse capture record. Buttons carries transition flags
// (RI_MOUSE_* layout), zero when no button changed.
type RawMouse struct {
	DX      int
	DY      int
	Buttons int
}

func (RawMouse) isRaw() {}

// Mouse button transition flags.
const (
	MouseLeftDown    = 0x0001
	MouseLeftUp      = 0x0002
	MouseRightDown   = 0x0004
	MouseRightUp     = 0x0008
	MouseMiddleDown  = 0x0010
	MouseMiddleUp    = 0x0020
	MouseButton4Down = 0x0040
	MouseButton4Up   = 0x0080
	MouseButton5Down = 0x0100
	MouseButton5Up   = 0x0200
	MouseWheel       = 0x0400
	MouseHWheel      = 0x0800
)

// Record is one raw capture notification.
type Record struct {
	Handle Handle
	Class  Class
	Raw    Raw
}
