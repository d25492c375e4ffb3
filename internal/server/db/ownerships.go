package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	ErrDeviceAlreadyClaimed = errors.New("device already claimed")
	ErrAllocationConflict   = errors.New("ownership id allocation conflict")
)

// NextOwnershipID atomically increments and returns the ownership sequence.
// Runs in its own transaction; CreateOwnership allocates inline instead.
func (s *Store) NextOwnershipID() (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	id, err := nextOwnershipID(tx)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return id, nil
}

func nextOwnershipID(tx *sql.Tx) (int64, error) {
	if _, err := tx.Exec(
		`UPDATE ownership_seq SET value = value + 1 WHERE name = 'ownership'`,
	); err != nil {
		return 0, mapConflict(err, "advance ownership sequence")
	}
	var id int64
	if err := tx.QueryRow(
		`SELECT value FROM ownership_seq WHERE name = 'ownership'`,
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("read ownership sequence: %w", err)
	}
	return id, nil
}

// ActiveOwnership returns the active ledger entry for a device, or (nil, nil)
// when the device is unclaimed.
func (s *Store) ActiveOwnership(deviceID string) (*Ownership, error) {
	o := &Ownership{}
	err := s.db.QueryRow(
		`SELECT ownership_id, user_id, device_id, ownership_type, active, assigned_at, created_at, updated_at
		 FROM ownerships WHERE device_id = ? AND active = 1`, deviceID,
	).Scan(&o.OwnershipID, &o.UserID, &o.DeviceID, &o.OwnershipType, &o.Active,
		&o.AssignedAt, &o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active ownership: %w", err)
	}
	return o, nil
}

// ListOwnershipsByUser returns a user's active ledger entries, newest first.
func (s *Store) ListOwnershipsByUser(userID string) ([]Ownership, error) {
	rows, err := s.db.Query(
		`SELECT ownership_id, user_id, device_id, ownership_type, active, assigned_at, created_at, updated_at
		 FROM ownerships WHERE user_id = ? AND active = 1 ORDER BY ownership_id DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list ownerships: %w", err)
	}
	defer rows.Close()

	var out []Ownership
	for rows.Next() {
		var o Ownership
		if err := rows.Scan(&o.OwnershipID, &o.UserID, &o.DeviceID, &o.OwnershipType, &o.Active,
			&o.AssignedAt, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan ownership: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// CreateOwnership appends an active ledger entry for userID on deviceID and
// stamps the device with the claimant's position, all in one transaction. The
// partial unique index on active claims makes the insert a conditional write:
// a concurrent claim for the same device fails here with
// ErrDeviceAlreadyClaimed no matter what any earlier existence check saw.
func (s *Store) CreateOwnership(userID, deviceID string, lat, lon float64, now time.Time) (*Ownership, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	id, err := nextOwnershipID(tx)
	if err != nil {
		return nil, err
	}

	ts := now.UTC()
	o := &Ownership{
		OwnershipID:   id,
		UserID:        userID,
		DeviceID:      deviceID,
		OwnershipType: "owner",
		Active:        true,
		AssignedAt:    ts,
		CreatedAt:     ts,
		UpdatedAt:     ts,
	}

	_, err = tx.Exec(
		`INSERT INTO ownerships (ownership_id, user_id, device_id, ownership_type, active, assigned_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 1, ?, ?, ?)`,
		o.OwnershipID, o.UserID, o.DeviceID, o.OwnershipType, o.AssignedAt, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		var sqliteErr *sqlite.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
			return nil, ErrDeviceAlreadyClaimed
		}
		return nil, mapConflict(err, "insert ownership")
	}

	if _, err := tx.Exec(
		`UPDATE devices SET lat = ?, lon = ?, status = ?, updated_at = ? WHERE device_id = ?`,
		lat, lon, StatusClaimed, ts, deviceID,
	); err != nil {
		return nil, fmt.Errorf("stamp device position: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, mapConflict(err, "commit claim")
	}
	return o, nil
}

// mapConflict translates SQLite busy/locked failures into
// ErrAllocationConflict so callers can retry with backoff.
func mapConflict(err error, op string) error {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%s: %w", op, ErrAllocationConflict)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
