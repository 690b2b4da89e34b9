package capture

import "rawinputd/internal/input"

// Windows virtual-key codes for Linux KEY_* codes. Shift, Control and Alt
// map to the side-neutral codes, matching what raw keyboard input reports.
var linuxKeyToVK = map[uint16]int{
	1:   0x1B, // ESC
	2:   '1',
	3:   '2',
	4:   '3',
	5:   '4',
	6:   '5',
	7:   '6',
	8:   '7',
	9:   '8',
	10:  '9',
	11:  '0',
	12:  0xBD, // MINUS
	13:  0xBB, // EQUAL
	14:  0x08, // BACKSPACE
	15:  0x09, // TAB
	16:  'Q',
	17:  'W',
	18:  'E',
	19:  'R',
	20:  'T',
	21:  'Y',
	22:  'U',
	23:  'I',
	24:  'O',
	25:  'P',
	26:  0xDB, // LEFTBRACE
	27:  0xDD, // RIGHTBRACE
	28:  0x0D, // ENTER
	29:  0x11, // LEFTCTRL
	30:  'A',
	31:  'S',
	32:  'D',
	33:  'F',
	34:  'G',
	35:  'H',
	36:  'J',
	37:  'K',
	38:  'L',
	39:  0xBA, // SEMICOLON
	40:  0xDE, // APOSTROPHE
	41:  0xC0, // GRAVE
	42:  0x10, // LEFTSHIFT
	43:  0xDC, // BACKSLASH
	44:  'Z',
	45:  'X',
	46:  'C',
	47:  'V',
	48:  'B',
	49:  'N',
	50:  'M',
	51:  0xBC, // COMMA
	52:  0xBE, // DOT
	53:  0xBF, // SLASH
	54:  0x10, // RIGHTSHIFT
	55:  0x6A, // KPASTERISK
	56:  0x12, // LEFTALT
	57:  0x20, // SPACE
	58:  0x14, // CAPSLOCK
	59:  0x70, // F1
	60:  0x71,
	61:  0x72,
	62:  0x73,
	63:  0x74,
	64:  0x75,
	65:  0x76,
	66:  0x77,
	67:  0x78,
	68:  0x79, // F10
	69:  0x90, // NUMLOCK
	70:  0x91, // SCROLLLOCK
	71:  0x67, // KP7
	72:  0x68,
	73:  0x69,
	74:  0x6D, // KPMINUS
	75:  0x64, // KP4
	76:  0x65,
	77:  0x66,
	78:  0x6B, // KPPLUS
	79:  0x61, // KP1
	80:  0x62,
	81:  0x63,
	82:  0x60, // KP0
	83:  0x6E, // KPDOT
	86:  0xE2, // 102ND
	87:  0x7A, // F11
	88:  0x7B, // F12
	96:  0x0D, // KPENTER
	97:  0x11, // RIGHTCTRL
	98:  0x6F, // KPSLASH
	99:  0x2C, // SYSRQ
	100: 0x12, // RIGHTALT
	102: 0x24, // HOME
	103: 0x26, // UP
	104: 0x21, // PAGEUP
	105: 0x25, // LEFT
	106: 0x27, // RIGHT
	107: 0x23, // END
	108: 0x28, // DOWN
	109: 0x22, // PAGEDOWN
	110: 0x2D, // INSERT
	111: 0x2E, // DELETE
	113: 0xAD, // MUTE
	114: 0xAE, // VOLUMEDOWN
	115: 0xAF, // VOLUMEUP
	119: 0x13, // PAUSE
	125: 0x5B, // LEFTMETA
	126: 0x5C, // RIGHTMETA
	127: 0x5D, // COMPOSE
	163: 0xB0, // NEXTSONG
	164: 0xB3, // PLAYPAUSE
	165: 0xB1, // PREVIOUSSONG
	166: 0xB2, // STOPCD
}

// VirtualKey maps a Linux key code to a Windows virtual-key code.
func VirtualKey(code uint16) (int, bool) {
	vk, ok := linuxKeyToVK[code]
	return vk, ok
}

// mouseButtonFlags maps a Linux button code to the down and up transition
// flags of the wire format.
func mouseButtonFlags(code uint16) (down, up int, ok bool) {
	switch code {
	case btnLeft:
		return input.MouseLeftDown, input.MouseLeftUp, true
	case btnRight:
		return input.MouseRightDown, input.MouseRightUp, true
	case btnMiddle:
		return input.MouseMiddleDown, input.MouseMiddleUp, true
	case btnSide:
		return input.MouseButton4Down, input.MouseButton4Up, true
	case btnExtra:
		return input.MouseButton5Down, input.MouseButton5Up, true
	default:
		return 0, 0, false
	}
}
