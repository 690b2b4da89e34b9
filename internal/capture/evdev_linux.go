//go:build linux

package capture

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mikegio27/go-evdev"
	"golang.org/x/sys/unix"

	"rawinputd/internal/device"
	"rawinputd/internal/input"
	"rawinputd/internal/logging"
)

const (
	topologyDebounce = 250 * time.Millisecond
	recordQueueSize  = 256
	readBatch        = 64
)

// eventSize is sizeof(struct input_event) for this architecture.
var eventSize = binary.Size(evdev.InputEvent{})

// Evdev captures keyboards and mice through the kernel event interface.
// Handles are the device numbers of the eventN nodes, so a device keeps its
// id for as long as it stays plugged in.
type Evdev struct {
	cfg    EvdevConfig
	logger *logging.Logger

	mu    sync.Mutex
	names map[input.Handle]string
}

type attached struct {
	handle input.Handle
	class  input.Class
	name   string
	path   string
}

type reader struct {
	attached
	file   *os.File
	cancel context.CancelFunc
}

// NewEvdev creates an event-device source.
func NewEvdev(cfg EvdevConfig) *Evdev {
	if cfg.DevicesFile == "" {
		cfg.DevicesFile = DefaultDevicesFile
	}
	if cfg.InputDir == "" {
		cfg.InputDir = "/dev/input"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Evdev{
		cfg:    cfg,
		logger: logger.WithComponent("evdev"),
		names:  make(map[input.Handle]string),
	}
}

// Name implements Source.
func (e *Evdev) Name() string {
	return "evdev"
}

// DeviceName implements device.NameResolver from the last scan.
func (e *Evdev) DeviceName(h input.Handle) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	name, ok := e.names[h]
	if !ok {
		return "", fmt.Errorf("evdev: no device %s", h)
	}
	return name, nil
}

// Run implements Source. Every record and snapshot is delivered from the
// calling goroutine.
func (e *Evdev) Run(ctx context.Context, sink Sink) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	records := make(chan input.Record, recordQueueSize)
	exited := make(chan *reader)
	readers := make(map[input.Handle]*reader)
	var wg sync.WaitGroup

	defer func() {
		for _, r := range readers {
			r.stop()
		}
		wg.Wait()
	}()

	var watchEvents <-chan fsnotify.Event
	var watchErrors <-chan error
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		e.logger.Warn("hot-plug detection disabled", "error", err)
	} else {
		defer watcher.Close()
		if err := watcher.Add(e.cfg.InputDir); err != nil {
			e.logger.Warn("hot-plug detection disabled", "dir", e.cfg.InputDir, "error", err)
		} else {
			watchEvents = watcher.Events
			watchErrors = watcher.Errors
		}
	}

	refresh := func() error {
		devs, err := e.scan()
		if err != nil {
			return err
		}

		entries := make([]device.Entry, 0, len(devs))
		present := make(map[input.Handle]bool, len(devs))
		for _, d := range devs {
			entries = append(entries, device.Entry{Handle: d.handle, Type: d.class.DeviceType(), Name: d.name})
			present[d.handle] = true
		}

		for h, r := range readers {
			if !present[h] {
				r.stop()
				delete(readers, h)
			}
		}
		for _, d := range devs {
			if d.class == input.ClassOther {
				continue
			}
			if _, ok := readers[d.handle]; ok {
				continue
			}
			r, err := e.startReader(ctx, d, records, exited, &wg)
			if err != nil {
				e.logger.Warn("cannot open device", "path", d.path, "name", d.name, "error", err)
				continue
			}
			readers[d.handle] = r
		}

		sink.Enumerated(entries)
		e.logger.Info("devices enumerated", "count", len(entries), "readers", len(readers))
		return nil
	}

	if err := refresh(); err != nil {
		return err
	}

	debounce := time.NewTimer(topologyDebounce)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case rec := <-records:
			sink.Record(rec)

		case r := <-exited:
			if cur, ok := readers[r.handle]; ok && cur == r {
				delete(readers, r.handle)
			}

		case ev, ok := <-watchEvents:
			if !ok {
				watchEvents = nil
				continue
			}
			if !strings.HasPrefix(filepath.Base(ev.Name), "event") {
				continue
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) {
				debounce.Reset(topologyDebounce)
			}

		case err, ok := <-watchErrors:
			if !ok {
				watchErrors = nil
				continue
			}
			e.logger.Warn("watch error", "error", err)

		case <-debounce.C:
			if err := refresh(); err != nil {
				e.logger.Warn("re-enumeration failed", "error", err)
			}
		}
	}
}

// scan reads the kernel device list and resolves each event node to its
// device number.
func (e *Evdev) scan() ([]attached, error) {
	procs, err := ListDevices(e.cfg.DevicesFile)
	if err != nil {
		return nil, err
	}

	var out []attached
	names := make(map[input.Handle]string, len(procs))
	for _, p := range procs {
		node, ok := p.EventNode()
		if !ok {
			continue
		}
		path := filepath.Join(e.cfg.InputDir, node)

		var st unix.Stat_t
		if err := unix.Stat(path, &st); err != nil {
			e.logger.Debug("skipping device", "path", path, "name", p.Name, "error", err)
			continue
		}
		a := attached{
			handle: input.HandleFromUint64(uint64(st.Rdev)),
			class:  p.Class(),
			name:   p.Name,
			path:   path,
		}
		if a.class == input.ClassOther {
			e.logger.Debug("ignoring device", "name", p.Name, "node", node)
		}
		names[a.handle] = a.name
		out = append(out, a)
	}

	e.mu.Lock()
	e.names = names
	e.mu.Unlock()

	return out, nil
}

func (e *Evdev) startReader(ctx context.Context, a attached, out chan<- input.Record, exited chan<- *reader, wg *sync.WaitGroup) (*reader, error) {
	fd, err := unix.Open(a.path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}
	rctx, cancel := context.WithCancel(ctx)
	r := &reader{
		attached: a,
		file:     os.NewFile(uintptr(fd), a.path),
		cancel:   cancel,
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer e.logger.RecoverGoroutine("evdev:"+a.handle.String(), nil)

		err := r.loop(rctx, out)
		if err != nil && rctx.Err() == nil {
			e.logger.Info("device reader stopped", "name", a.name, "path", a.path, "error", err)
		}
		r.file.Close()
		select {
		case exited <- r:
		case <-rctx.Done():
		}
	}()
	return r, nil
}

func (r *reader) loop(ctx context.Context, out chan<- input.Record) error {
	dec := newDecoder(r.handle, r.class)
	buf := make([]byte, eventSize*readBatch)
	events := make([]evdev.InputEvent, readBatch)
	for {
		n, err := r.file.Read(buf)
		if err != nil {
			if errors.Is(err, os.ErrClosed) {
				return nil
			}
			return err
		}
		batch := events[:n/eventSize]
		if err := binary.Read(bytes.NewReader(buf[:len(batch)*eventSize]), binary.NativeEndian, batch); err != nil {
			return fmt.Errorf("decode events: %w", err)
		}
		for _, ev := range batch {
			rec, ok := dec.feed(rawEvent{Type: ev.Type, Code: ev.Code, Value: ev.Value})
			if !ok {
				continue
			}
			select {
			case out <- rec:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// stop interrupts a pending Read by closing the file.
func (r *reader) stop() {
	r.cancel()
	r.file.Close()
}

// ListDevices reads the kernel input device list. The live list is read
// through go-evdev; any other path, such as a saved copy, is parsed directly.
func ListDevices(devicesFile string) ([]ProcDevice, error) {
	if devicesFile != "" && devicesFile != DefaultDevicesFile {
		return readProcDevices(devicesFile)
	}

	devs, err := evdev.InputDevices()
	if err != nil {
		return nil, fmt.Errorf("read device list: %w", err)
	}
	out := make([]ProcDevice, 0, len(devs))
	for _, d := range devs {
		if d.Name == "" && d.Handlers == "" {
			continue
		}
		out = append(out, procDeviceFrom(d))
	}
	return out, nil
}

func procDeviceFrom(d evdev.InputDevice) ProcDevice {
	return ProcDevice{
		Name:     strings.Trim(d.Name, `"`),
		Bus:      d.Bus,
		Vendor:   d.Vendor,
		Product:  d.Product,
		Phys:     d.Phys,
		Handlers: strings.Fields(d.Handlers),
		EV:       ParseBitmap(d.Props["B: EV"], bits.UintSize),
		KEY:      ParseBitmap(d.Props["B: KEY"], bits.UintSize),
		REL:      ParseBitmap(d.Props["B: REL"], bits.UintSize),
	}
}
