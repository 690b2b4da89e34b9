package capture

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"math/bits"
	"strconv"
	"strings"

	"rawinputd/internal/input"
)

// Linux input event types and codes used for classification and decoding.
const (
	evSyn = 0x00
	evKey = 0x01
	evRel = 0x02

	synReport = 0x00

	relX      = 0x00
	relY      = 0x01
	relHWheel = 0x06
	relWheel  = 0x08

	keyEsc   = 1
	keyA     = 30
	keyZ     = 44
	keySpace = 57

	btnMisc   = 0x100
	btnLeft   = 0x110
	btnRight  = 0x111
	btnMiddle = 0x112
	btnSide   = 0x113
	btnExtra  = 0x114
)

// ProcDevice is one block of the kernel input device list.
type ProcDevice struct {
	Name     string
	Bus      string
	Vendor   string
	Product  string
	Phys     string
	Handlers []string
	EV       Bitmap
	KEY      Bitmap
	REL      Bitmap
}

// EventNode returns the "eventN" handler, if any.
func (d ProcDevice) EventNode() (string, bool) {
	for _, h := range d.Handlers {
		if strings.HasPrefix(h, "event") {
			return h, true
		}
	}
	return "", false
}

// Class classifies the device from its capability bitmaps. Anything with
// relative X/Y axes is a mouse; anything else with letter keys is a
// keyboard.
func (d ProcDevice) Class() input.Class {
	if d.EV.Has(evRel) && d.REL.Has(relX) && d.REL.Has(relY) {
		return input.ClassMouse
	}
	if d.EV.Has(evKey) && d.KEY.Has(keyEsc) && d.KEY.Has(keyA) && d.KEY.Has(keyZ) && d.KEY.Has(keySpace) {
		return input.ClassKeyboard
	}
	return input.ClassOther
}

// Bitmap is a kernel capability bitmap, least significant word first.
type Bitmap []uint64

// ParseBitmap parses the space-separated hex words the kernel prints,
// most significant word first. wordBits is the kernel's long size.
func ParseBitmap(s string, wordBits int) Bitmap {
	words := strings.Fields(s)
	if wordBits <= 0 || wordBits > 64 {
		wordBits = 64
	}

	var out Bitmap
	var acc uint64
	var accBits int
	for i := len(words) - 1; i >= 0; i-- {
		w, err := strconv.ParseUint(words[i], 16, 64)
		if err != nil {
			w = 0
		}
		acc |= w << accBits
		accBits += wordBits
		if accBits >= 64 {
			out = append(out, acc)
			acc, accBits = 0, 0
		}
	}
	if accBits > 0 {
		out = append(out, acc)
	}
	return out
}

// Has reports whether bit n is set.
func (b Bitmap) Has(n int) bool {
	i := n / 64
	if n < 0 || i >= len(b) {
		return false
	}
	return b[i]&(1<<(uint(n)%64)) != 0
}

// ParseProcDevices parses the format of /proc/bus/input/devices.
func ParseProcDevices(r io.Reader) ([]ProcDevice, error) {
	var devices []ProcDevice
	var cur ProcDevice
	started := false

	flush := func() {
		if started {
			devices = append(devices, cur)
		}
		cur = ProcDevice{}
		started = false
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			flush()
			continue
		}
		if len(line) < 3 || line[1] != ':' {
			continue
		}
		started = true
		body := strings.TrimSpace(line[2:])

		switch line[0] {
		case 'I':
			for _, part := range strings.Fields(body) {
				k, v, _ := strings.Cut(part, "=")
				switch k {
				case "Bus":
					cur.Bus = v
				case "Vendor":
					cur.Vendor = v
				case "Product":
					cur.Product = v
				}
			}
		case 'N':
			name := strings.TrimPrefix(body, "Name=")
			cur.Name = strings.Trim(name, `"`)
		case 'P':
			cur.Phys = strings.TrimPrefix(body, "Phys=")
		case 'H':
			cur.Handlers = strings.Fields(strings.TrimPrefix(body, "Handlers="))
		case 'B':
			k, v, ok := strings.Cut(body, "=")
			if !ok {
				continue
			}
			switch k {
			case "EV":
				cur.EV = ParseBitmap(v, bits.UintSize)
			case "KEY":
				cur.KEY = ParseBitmap(v, bits.UintSize)
			case "REL":
				cur.REL = ParseBitmap(v, bits.UintSize)
			}
		}
	}
	flush()

	return devices, scanner.Err()
}

func readProcDevices(path string) ([]ProcDevice, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open device list: %w", err)
	}
	defer f.Close()

	devs, err := ParseProcDevices(f)
	if err != nil {
		return nil, fmt.Errorf("parse device list: %w", err)
	}
	return devs, nil
}
