package db

import "time"

// Device is a catalog entry for a physical water-level sensor. Provisioning
// creates it; claiming only touches the position fields and status.
type Device struct {
	DeviceID        string    `json:"deviceId"`
	Label           string    `json:"label,omitempty"`
	Site            string    `json:"site,omitempty"`
	FieldID         string    `json:"fieldId,omitempty"`
	Location        string    `json:"location,omitempty"`
	FirmwareVersion string    `json:"firmwareVersion,omitempty"`
	Lat             *float64  `json:"lat"`
	Lon             *float64  `json:"lon"`
	Active          bool      `json:"active"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Device status values.
const (
	StatusAvailable = "available"
	StatusClaimed   = "claimed"
)

// Ownership is one ledger entry linking a user to a device. Entries are never
// rewritten after creation; releasing a device flips Active to false and a
// re-claim appends a fresh entry.
type Ownership struct {
	OwnershipID   int64     `json:"ownershipId"`
	UserID        string    `json:"userId"`
	DeviceID      string    `json:"deviceId"`
	OwnershipType string    `json:"ownershipType"`
	Active        bool      `json:"active"`
	AssignedAt    time.Time `json:"assignedAt"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// User mirrors the identity provider's profile attributes at sign-up time.
type User struct {
	UserID       string    `json:"userId"`
	Email        string    `json:"email"`
	FirstName    string    `json:"firstName"`
	LastName     string    `json:"lastName"`
	Username     string    `json:"username"`
	Organization string    `json:"organization"`
	Role         string    `json:"role"`
	IsActive     bool      `json:"isActive"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Measurement is one time-series sample reported by a device.
type Measurement struct {
	DeviceID    string    `json:"deviceId"`
	MeasureName string    `json:"measureName"`
	MeasuredAt  time.Time `json:"time"`
	Value       float64   `json:"value"`
}
