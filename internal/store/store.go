// Package store keeps a SQLite catalog of every input device rawinputd has
// seen: when it first and last appeared, how often it was attached, and
// whether it is currently present.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"rawinputd/internal/device"
	"rawinputd/internal/input"
)

// ErrNotFound is returned when a device id is not in the catalog.
var ErrNotFound = errors.New("store: device not found")

// Device is one catalog row.
type Device struct {
	ID          string           `json:"id"`
	Type        input.DeviceType `json:"-"`
	TypeName    string           `json:"type"`
	Name        string           `json:"name"`
	FirstSeen   time.Time        `json:"first_seen"`
	LastSeen    time.Time        `json:"last_seen"`
	RemovedAt   *time.Time       `json:"removed_at,omitempty"`
	AttachCount int64            `json:"attach_count"`
}

// Attached reports whether the device was present at its last sighting.
func (d Device) Attached() bool {
	return d.RemovedAt == nil
}

// Store is the SQLite device catalog.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the catalog at path and runs migrations.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps writes from the observer serialized.
	db.SetMaxOpenConns(1)

	if err := MigrateDB(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping verifies the database is still reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Attach records that a device is present. A device that was previously
// removed (or never seen) counts as a new attach.
func (s *Store) Attach(rec device.Record) error {
	return s.attach(s.db, rec, s.now().UnixNano())
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func (s *Store) attach(db execer, rec device.Record, now int64) error {
	_, err := db.Exec(`
		INSERT INTO devices (id, type, name, first_seen, last_seen, removed_at, attach_count)
		VALUES (?, ?, ?, ?, ?, NULL, 1)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			name = excluded.name,
			last_seen = excluded.last_seen,
			attach_count = devices.attach_count + (devices.removed_at IS NOT NULL),
			removed_at = NULL`,
		rec.ID, rec.Type.String(), rec.Name, now, now,
	)
	if err != nil {
		return fmt.Errorf("attach device %s: %w", rec.ID, err)
	}
	return nil
}

// Detach marks a device as removed. It returns ErrNotFound for devices that
// were never attached.
func (s *Store) Detach(id string) error {
	now := s.now().UnixNano()
	result, err := s.db.Exec(`
		UPDATE devices SET removed_at = ?, last_seen = ?
		WHERE id = ? AND removed_at IS NULL`, now, now, id)
	if err != nil {
		return fmt.Errorf("detach device %s: %w", id, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		if _, err := s.Get(id); err != nil {
			return err
		}
	}
	return nil
}

// Sync applies a full enumeration: every listed device is attached and every
// other attached device is marked removed, in one transaction.
func (s *Store) Sync(recs []device.Record) error {
	now := s.now().UnixNano()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`CREATE TEMP TABLE IF NOT EXISTS present (id TEXT PRIMARY KEY)`); err != nil {
		return fmt.Errorf("create temp table: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM present`); err != nil {
		return fmt.Errorf("clear temp table: %w", err)
	}

	for _, rec := range recs {
		if err := s.attach(tx, rec, now); err != nil {
			return err
		}
		if _, err := tx.Exec(`INSERT OR IGNORE INTO present (id) VALUES (?)`, rec.ID); err != nil {
			return fmt.Errorf("record present device: %w", err)
		}
	}

	if _, err := tx.Exec(`
		UPDATE devices SET removed_at = ?, last_seen = ?
		WHERE removed_at IS NULL AND id NOT IN (SELECT id FROM present)`, now, now); err != nil {
		return fmt.Errorf("mark removed devices: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Get retrieves a device by id.
func (s *Store) Get(id string) (*Device, error) {
	row := s.db.QueryRow(`
		SELECT id, type, name, first_seen, last_seen, removed_at, attach_count
		FROM devices WHERE id = ?`, id)
	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get device: %w", err)
	}
	return d, nil
}

// List returns catalog rows, most recently seen first. When attachedOnly is
// set, removed devices are skipped.
func (s *Store) List(attachedOnly bool) ([]Device, error) {
	query := `
		SELECT id, type, name, first_seen, last_seen, removed_at, attach_count
		FROM devices`
	if attachedOnly {
		query += ` WHERE removed_at IS NULL`
	}
	query += ` ORDER BY last_seen DESC, id ASC`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("query devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate devices: %w", err)
	}
	return devices, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDevice(row scanner) (*Device, error) {
	var d Device
	var firstSeen, lastSeen int64
	var removedAt sql.NullInt64

	if err := row.Scan(&d.ID, &d.TypeName, &d.Name, &firstSeen, &lastSeen, &removedAt, &d.AttachCount); err != nil {
		return nil, err
	}

	d.Type, _ = input.ParseDeviceType(d.TypeName)
	d.FirstSeen = time.Unix(0, firstSeen)
	d.LastSeen = time.Unix(0, lastSeen)
	if removedAt.Valid {
		t := time.Unix(0, removedAt.Int64)
		d.RemovedAt = &t
	}
	return &d, nil
}
