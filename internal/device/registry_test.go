package device

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rawinputd/internal/input"
)

type recordingObserver struct {
	mu         sync.Mutex
	added      []Record
	removed    []Record
	enumerated [][]Record
}

func (o *recordingObserver) DeviceAdded(rec Record) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.added = append(o.added, rec)
}

func (o *recordingObserver) DeviceRemoved(rec Record) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.removed = append(o.removed, rec)
}

func (o *recordingObserver) DevicesEnumerated(recs []Record) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.enumerated = append(o.enumerated, recs)
}

func h(v uint64) input.Handle {
	return input.HandleFromUint64(v)
}

func TestAddIsIdempotent(t *testing.T) {
	reg := NewRegistry()

	first, added := reg.Add(h(0xAB12), input.DeviceKeyboard)
	require.True(t, added)
	assert.Equal(t, "0xAB12", first.ID)
	assert.Equal(t, input.DeviceKeyboard, first.Type)

	second, added := reg.Add(h(0xAB12), input.DeviceMouse)
	assert.False(t, added)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, reg.Len())

	got, ok := reg.Get(h(0xAB12))
	require.True(t, ok)
	assert.Equal(t, input.DeviceKeyboard, got.Type, "type must not change without remove+add")
}

func TestAddRefusesUnknown(t *testing.T) {
	reg := NewRegistry()
	_, added := reg.Add(h(1), input.DeviceUnknown)
	assert.False(t, added)
	assert.Equal(t, 0, reg.Len())
}

func TestRemove(t *testing.T) {
	obs := &recordingObserver{}
	reg := NewRegistry(WithObserver(obs))

	assert.False(t, reg.Remove(h(7)), "removing an absent handle is a no-op")

	reg.Add(h(7), input.DeviceMouse)
	assert.True(t, reg.Remove(h(7)))
	_, ok := reg.Get(h(7))
	assert.False(t, ok)

	// Re-adding after removal may change the type.
	rec, added := reg.Add(h(7), input.DeviceKeyboard)
	assert.True(t, added)
	assert.Equal(t, input.DeviceKeyboard, rec.Type)

	assert.Len(t, obs.added, 2)
	assert.Len(t, obs.removed, 1)
}

func TestEnumerateReplacesContents(t *testing.T) {
	obs := &recordingObserver{}
	reg := NewRegistry(WithObserver(obs))
	reg.Add(h(1), input.DeviceKeyboard)

	recs := reg.Enumerate([]Entry{
		{Handle: h(2), Type: input.DeviceMouse, Name: "USB Optical Mouse"},
		{Handle: h(3), Type: input.DeviceUnknown},
		{Handle: h(4), Type: input.DeviceKeyboard},
		{Handle: h(2), Type: input.DeviceKeyboard},
	})

	require.Len(t, recs, 2)
	assert.Equal(t, "0x2", recs[0].ID)
	assert.Equal(t, "USB Optical Mouse", recs[0].Name)
	assert.Equal(t, input.DeviceMouse, recs[0].Type)
	assert.Equal(t, "0x4", recs[1].ID)
	assert.Equal(t, UnknownName, recs[1].Name)

	_, ok := reg.Get(h(1))
	assert.False(t, ok, "enumeration drops devices absent from the snapshot")
	_, ok = reg.Get(h(3))
	assert.False(t, ok, "unknown devices are excluded")

	require.Len(t, obs.enumerated, 1)
	assert.Equal(t, recs, obs.enumerated[0])
}

func TestNameResolver(t *testing.T) {
	names := map[input.Handle]string{h(1): "AT Translated Set 2 keyboard"}
	reg := NewRegistry(WithNameResolver(NameResolverFunc(func(hd input.Handle) (string, error) {
		if n, ok := names[hd]; ok {
			return n, nil
		}
		return "", errors.New("no such device")
	})))

	rec, _ := reg.Add(h(1), input.DeviceKeyboard)
	assert.Equal(t, "AT Translated Set 2 keyboard", rec.Name)

	rec, _ = reg.Add(h(2), input.DeviceMouse)
	assert.Equal(t, UnknownName, rec.Name)
}

func TestConcurrentAdds(t *testing.T) {
	reg := NewRegistry()

	var wg sync.WaitGroup
	var mu sync.Mutex
	addedCount := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, added := reg.Add(h(0x42), input.DeviceMouse); added {
				mu.Lock()
				addedCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, addedCount)
	assert.Equal(t, 1, reg.Len())
}

func TestListIsSorted(t *testing.T) {
	reg := NewRegistry()
	reg.Add(h(0x30), input.DeviceMouse)
	reg.Add(h(0x10), input.DeviceKeyboard)
	reg.Add(h(0x20), input.DeviceKeyboard)

	recs := reg.List()
	require.Len(t, recs, 3)
	assert.Equal(t, []string{"0x10", "0x20", "0x30"}, []string{recs[0].ID, recs[1].ID, recs[2].ID})
}
