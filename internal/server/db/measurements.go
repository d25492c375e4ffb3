package db

import (
	"database/sql"
	"fmt"
	"time"
)

// InsertMeasurement records one sample for a device.
func (s *Store) InsertMeasurement(m *Measurement) error {
	if m.MeasureName == "" {
		m.MeasureName = "distance"
	}
	_, err := s.db.Exec(
		`INSERT INTO measurements (device_id, measure_name, measured_at, value) VALUES (?, ?, ?, ?)`,
		m.DeviceID, m.MeasureName, m.MeasuredAt.UTC(), m.Value,
	)
	if err != nil {
		return fmt.Errorf("insert measurement: %w", err)
	}
	return nil
}

// LatestMeasurement returns the most recent sample for a device, or
// (nil, nil) when the device has never reported.
func (s *Store) LatestMeasurement(deviceID string) (*Measurement, error) {
	m := &Measurement{}
	err := s.db.QueryRow(
		`SELECT device_id, measure_name, measured_at, value FROM measurements
		 WHERE device_id = ? ORDER BY measured_at DESC LIMIT 1`, deviceID,
	).Scan(&m.DeviceID, &m.MeasureName, &m.MeasuredAt, &m.Value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest measurement: %w", err)
	}
	return m, nil
}

// MeasurementRange returns up to limit samples since the given time,
// most-recent first.
func (s *Store) MeasurementRange(deviceID string, since time.Time, limit int) ([]Measurement, error) {
	rows, err := s.db.Query(
		`SELECT device_id, measure_name, measured_at, value FROM measurements
		 WHERE device_id = ? AND measured_at >= ? ORDER BY measured_at DESC LIMIT ?`,
		deviceID, since.UTC(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("measurement range: %w", err)
	}
	defer rows.Close()

	var out []Measurement
	for rows.Next() {
		var m Measurement
		if err := rows.Scan(&m.DeviceID, &m.MeasureName, &m.MeasuredAt, &m.Value); err != nil {
			return nil, fmt.Errorf("scan measurement: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
