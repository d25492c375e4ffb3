package db

import (
	"database/sql"
	"fmt"
)

// UpsertUser mirrors a provider profile into the local users table.
func (s *Store) UpsertUser(u *User) error {
	if u.Role == "" {
		u.Role = "user"
	}
	_, err := s.db.Exec(
		`INSERT INTO users (user_id, email, first_name, last_name, username, organization, role, is_active)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
			email = excluded.email,
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			username = excluded.username,
			updated_at = CURRENT_TIMESTAMP`,
		u.UserID, u.Email, u.FirstName, u.LastName, u.Username, u.Organization, u.Role, u.IsActive,
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// GetUser retrieves a mirrored profile by user ID. Returns (nil, nil) when absent.
func (s *Store) GetUser(id string) (*User, error) {
	u := &User{}
	err := s.db.QueryRow(
		`SELECT user_id, email, first_name, last_name, username, organization, role, is_active, created_at, updated_at
		 FROM users WHERE user_id = ?`, id,
	).Scan(&u.UserID, &u.Email, &u.FirstName, &u.LastName, &u.Username,
		&u.Organization, &u.Role, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}
