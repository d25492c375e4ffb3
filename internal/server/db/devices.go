package db

import (
	"database/sql"
	"errors"
	"fmt"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var ErrDeviceDuplicate = errors.New("device already exists")

// CreateDevice inserts a new catalog entry.
func (s *Store) CreateDevice(d *Device) error {
	if d.Status == "" {
		d.Status = StatusAvailable
	}
	_, err := s.db.Exec(
		`INSERT INTO devices (device_id, label, site, field_id, location, firmware_version, lat, lon, active, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.DeviceID, d.Label, d.Site, d.FieldID, d.Location, d.FirmwareVersion,
		d.Lat, d.Lon, d.Active, d.Status,
	)
	if err != nil {
		var sqliteErr *sqlite.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY {
			return ErrDeviceDuplicate
		}
		return fmt.Errorf("insert device: %w", err)
	}
	return nil
}

// GetDevice retrieves a device by ID. Returns (nil, nil) when absent.
func (s *Store) GetDevice(id string) (*Device, error) {
	d := &Device{}
	err := s.db.QueryRow(
		`SELECT device_id, label, site, field_id, location, firmware_version, lat, lon, active, status, created_at, updated_at
		 FROM devices WHERE device_id = ?`, id,
	).Scan(&d.DeviceID, &d.Label, &d.Site, &d.FieldID, &d.Location, &d.FirmwareVersion,
		&d.Lat, &d.Lon, &d.Active, &d.Status, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}
	return d, nil
}

// ListDevices returns all catalog entries ordered by device ID.
func (s *Store) ListDevices() ([]Device, error) {
	rows, err := s.db.Query(
		`SELECT device_id, label, site, field_id, location, firmware_version, lat, lon, active, status, created_at, updated_at
		 FROM devices ORDER BY device_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		var d Device
		if err := rows.Scan(&d.DeviceID, &d.Label, &d.Site, &d.FieldID, &d.Location, &d.FirmwareVersion,
			&d.Lat, &d.Lon, &d.Active, &d.Status, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}
