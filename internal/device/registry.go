// Package device tracks the input devices known to rawinputd.
//
// The Registry classifies each capture handle as a keyboard or mouse,
// deduplicates arrivals and supports wholesale re-enumeration when the
// device topology changes. All operations are serialized by a single
// mutex that is independent of any other lock in the process.
package device

import (
	"sort"
	"sync"

	"rawinputd/internal/input"
)

// UnknownName is used when a display name cannot be resolved.
const UnknownName = "Unknown"

// Record describes one known device.
type Record struct {
	Handle input.Handle
	Type   input.DeviceType
	Name   string
	ID     string
}

// Entry is one (handle, type) pair of an enumeration snapshot.
type Entry struct {
	Handle input.Handle
	Type   input.DeviceType
	// Name is optional; when empty the registry's NameResolver is consulted.
	Name string
}

// NameResolver returns a best-effort display name for a handle.
type NameResolver interface {
	DeviceName(h input.Handle) (string, error)
}

// NameResolverFunc adapts a function to NameResolver.
type NameResolverFunc func(h input.Handle) (string, error)

// DeviceName implements NameResolver.
func (f NameResolverFunc) DeviceName(h input.Handle) (string, error) {
	return f(h)
}

// Observer receives registry changes. Callbacks run after the registry lock
// has been released and must not assume any ordering relative to other
// goroutines calling into the registry.
type Observer interface {
	DeviceAdded(rec Record)
	DeviceRemoved(rec Record)
	DevicesEnumerated(recs []Record)
}

// Registry is the set of known devices keyed by handle.
type Registry struct {
	mu       sync.Mutex
	devices  map[input.Handle]Record
	resolver NameResolver
	observer Observer
}

// Option configures a Registry.
type Option func(*Registry)

// WithNameResolver sets the resolver used for display names.
func WithNameResolver(r NameResolver) Option {
	return func(reg *Registry) {
		reg.resolver = r
	}
}

// WithObserver registers an observer for registry changes.
func WithObserver(o Observer) Option {
	return func(reg *Registry) {
		reg.observer = o
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		devices: make(map[input.Handle]Record),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Enumerate atomically replaces the registry contents with snapshot.
// Entries that are neither keyboards nor mice are skipped. Later duplicates
// of a handle in the snapshot are ignored.
func (r *Registry) Enumerate(snapshot []Entry) []Record {
	devices := make(map[input.Handle]Record, len(snapshot))
	for _, e := range snapshot {
		if !e.Type.Known() {
			continue
		}
		if _, dup := devices[e.Handle]; dup {
			continue
		}
		name := e.Name
		if name == "" {
			name = r.resolveName(e.Handle)
		}
		devices[e.Handle] = newRecord(e.Handle, e.Type, name)
	}

	r.mu.Lock()
	r.devices = devices
	recs := r.listLocked()
	r.mu.Unlock()

	if r.observer != nil {
		r.observer.DevicesEnumerated(recs)
	}
	return recs
}

// Get looks up a device by handle.
func (r *Registry) Get(h input.Handle) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.devices[h]
	return rec, ok
}

// Add registers a device. It is a no-op when the handle is already known,
// in which case the existing record is returned and added is false. Unknown
// device types are never registered.
func (r *Registry) Add(h input.Handle, t input.DeviceType) (rec Record, added bool) {
	if !t.Known() {
		return Record{}, false
	}

	r.mu.Lock()
	if existing, ok := r.devices[h]; ok {
		r.mu.Unlock()
		return existing, false
	}
	rec = newRecord(h, t, r.resolveName(h))
	r.devices[h] = rec
	r.mu.Unlock()

	if r.observer != nil {
		r.observer.DeviceAdded(rec)
	}
	return rec, true
}

// Remove forgets a device. It reports whether the handle was present.
func (r *Registry) Remove(h input.Handle) bool {
	r.mu.Lock()
	rec, ok := r.devices[h]
	if ok {
		delete(r.devices, h)
	}
	r.mu.Unlock()

	if ok && r.observer != nil {
		r.observer.DeviceRemoved(rec)
	}
	return ok
}

// List returns a snapshot of all devices ordered by ID.
func (r *Registry) List() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listLocked()
}

// Len returns the number of known devices.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.devices)
}

func (r *Registry) listLocked() []Record {
	recs := make([]Record, 0, len(r.devices))
	for _, rec := range r.devices {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].ID < recs[j].ID
	})
	return recs
}

func (r *Registry) resolveName(h input.Handle) string {
	if r.resolver == nil {
		return UnknownName
	}
	name, err := r.resolver.DeviceName(h)
	if err != nil || name == "" {
		return UnknownName
	}
	return name
}

func newRecord(h input.Handle, t input.DeviceType, name string) Record {
	return Record{
		Handle: h,
		Type:   t,
		Name:   name,
		ID:     h.String(),
	}
}
