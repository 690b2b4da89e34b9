package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"rawinputd/internal/device"
	"rawinputd/internal/input"
)

func openTestStore(t *testing.T) (*Store, *time.Time) {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "devices.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	now := time.Unix(1700000000, 0)
	s.now = func() time.Time { return now }
	return s, &now
}

func rec(v uint64, typ input.DeviceType, name string) device.Record {
	h := input.HandleFromUint64(v)
	return device.Record{Handle: h, Type: typ, Name: name, ID: h.String()}
}

func TestOpenCreatesDirectory(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "subdir", "nested", "devices.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestCloseNilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close on nil db should not error: %v", err)
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := s.Attach(rec(0xAB12, input.DeviceKeyboard, "kbd")); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()

	d, err := s.Get("0xAB12")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if d.Name != "kbd" {
		t.Errorf("expected name kbd, got %q", d.Name)
	}
}

func TestAttachAndGet(t *testing.T) {
	s, now := openTestStore(t)

	if err := s.Attach(rec(0xAB12, input.DeviceKeyboard, "AT keyboard")); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}

	d, err := s.Get("0xAB12")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if d.Type != input.DeviceKeyboard || d.TypeName != "keyboard" {
		t.Errorf("unexpected type %v / %q", d.Type, d.TypeName)
	}
	if d.Name != "AT keyboard" {
		t.Errorf("unexpected name %q", d.Name)
	}
	if !d.FirstSeen.Equal(*now) || !d.LastSeen.Equal(*now) {
		t.Errorf("unexpected sightings %v / %v", d.FirstSeen, d.LastSeen)
	}
	if !d.Attached() {
		t.Error("device should be attached")
	}
	if d.AttachCount != 1 {
		t.Errorf("expected attach count 1, got %d", d.AttachCount)
	}
}

func TestGetNotFound(t *testing.T) {
	s, _ := openTestStore(t)

	_, err := s.Get("0x1")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAttachIsIdempotentWhilePresent(t *testing.T) {
	s, now := openTestStore(t)
	r := rec(0x1F, input.DeviceMouse, "mouse")

	if err := s.Attach(r); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	first := *now
	*now = now.Add(time.Minute)
	if err := s.Attach(r); err != nil {
		t.Fatalf("second Attach failed: %v", err)
	}

	d, err := s.Get(r.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if d.AttachCount != 1 {
		t.Errorf("expected attach count 1, got %d", d.AttachCount)
	}
	if !d.FirstSeen.Equal(first) {
		t.Errorf("first_seen changed to %v", d.FirstSeen)
	}
	if !d.LastSeen.Equal(*now) {
		t.Errorf("last_seen not updated: %v", d.LastSeen)
	}
}

func TestDetachAndReattach(t *testing.T) {
	s, now := openTestStore(t)
	r := rec(0x1F, input.DeviceMouse, "mouse")

	if err := s.Attach(r); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	*now = now.Add(time.Second)
	if err := s.Detach(r.ID); err != nil {
		t.Fatalf("Detach failed: %v", err)
	}

	d, err := s.Get(r.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if d.Attached() {
		t.Fatal("device should be detached")
	}
	if !d.RemovedAt.Equal(*now) {
		t.Errorf("unexpected removed_at %v", d.RemovedAt)
	}

	// Detaching twice is harmless.
	if err := s.Detach(r.ID); err != nil {
		t.Errorf("second Detach failed: %v", err)
	}

	*now = now.Add(time.Second)
	if err := s.Attach(r); err != nil {
		t.Fatalf("re-Attach failed: %v", err)
	}
	d, err = s.Get(r.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !d.Attached() {
		t.Error("device should be attached again")
	}
	if d.AttachCount != 2 {
		t.Errorf("expected attach count 2, got %d", d.AttachCount)
	}
}

func TestDetachUnknown(t *testing.T) {
	s, _ := openTestStore(t)
	if err := s.Detach("0x99"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSync(t *testing.T) {
	s, now := openTestStore(t)

	kbd := rec(0xAB12, input.DeviceKeyboard, "kbd")
	mouse := rec(0x1F, input.DeviceMouse, "mouse")
	pad := rec(0x20, input.DeviceMouse, "touchpad")

	if err := s.Sync([]device.Record{kbd, mouse}); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	*now = now.Add(time.Minute)
	if err := s.Sync([]device.Record{kbd, pad}); err != nil {
		t.Fatalf("second Sync failed: %v", err)
	}

	attached, err := s.List(true)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(attached) != 2 {
		t.Fatalf("expected 2 attached devices, got %d", len(attached))
	}
	for _, d := range attached {
		if d.ID == mouse.ID {
			t.Errorf("removed mouse listed as attached")
		}
	}

	all, err := s.List(false)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 devices, got %d", len(all))
	}

	m, err := s.Get(mouse.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if m.Attached() {
		t.Error("mouse missing from enumeration should be marked removed")
	}
}

func TestSyncEmptyMarksAllRemoved(t *testing.T) {
	s, _ := openTestStore(t)

	if err := s.Attach(rec(0x1, input.DeviceKeyboard, "a")); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	if err := s.Sync(nil); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	attached, err := s.List(true)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(attached) != 0 {
		t.Errorf("expected no attached devices, got %d", len(attached))
	}
}

func TestListOrdering(t *testing.T) {
	s, now := openTestStore(t)

	if err := s.Attach(rec(0x1, input.DeviceKeyboard, "old")); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	*now = now.Add(time.Hour)
	if err := s.Attach(rec(0x2, input.DeviceMouse, "new")); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}

	devices, err := s.List(false)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(devices) != 2 || devices[0].Name != "new" || devices[1].Name != "old" {
		t.Errorf("unexpected order: %+v", devices)
	}
}

func TestObserverMirrorsRegistry(t *testing.T) {
	s, _ := openTestStore(t)

	reg := device.NewRegistry(device.WithObserver(NewObserver(s, nil)))
	reg.Enumerate([]device.Entry{
		{Handle: input.HandleFromUint64(0xAB12), Type: input.DeviceKeyboard, Name: "kbd"},
		{Handle: input.HandleFromUint64(0x77), Type: input.DeviceUnknown, Name: "gamepad"},
	})
	reg.Add(input.HandleFromUint64(0x1F), input.DeviceMouse)
	reg.Remove(input.HandleFromUint64(0xAB12))

	all, err := s.List(false)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 catalog rows, got %d", len(all))
	}

	kbd, err := s.Get("0xAB12")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if kbd.Attached() {
		t.Error("removed keyboard should be detached")
	}

	mouse, err := s.Get("0x1F")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if mouse.Name != device.UnknownName {
		t.Errorf("expected resolver fallback name, got %q", mouse.Name)
	}
}

func TestMigrationStatus(t *testing.T) {
	s, _ := openTestStore(t)

	status, err := GetMigrationStatus(s.db)
	if err != nil {
		t.Fatalf("GetMigrationStatus failed: %v", err)
	}
	if status.CurrentVersion != status.LatestVersion {
		t.Errorf("expected version %d, got %d", status.LatestVersion, status.CurrentVersion)
	}
	if len(status.Pending) != 0 {
		t.Errorf("expected no pending migrations, got %d", len(status.Pending))
	}
	if len(status.Applied) != len(migrations) {
		t.Errorf("expected %d applied, got %d", len(migrations), len(status.Applied))
	}

	// Rolling back removes the last step from the applied set.
	if err := RollbackMigration(s.db); err != nil {
		t.Fatalf("RollbackMigration failed: %v", err)
	}
	status, err = GetMigrationStatus(s.db)
	if err != nil {
		t.Fatalf("GetMigrationStatus failed: %v", err)
	}
	if status.CurrentVersion != 1 || len(status.Pending) != 1 {
		t.Errorf("unexpected status after rollback: %+v", status)
	}
}
