package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Officer is a guild officer allowed to upload raids through the API
type Officer struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	PasswordHash string     `json:"-"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
}

// ErrOfficerExists is returned when creating an officer whose name is taken
var ErrOfficerExists = errors.New("officer already exists")

const officerColumns = `id, name, password_hash, created_at, last_login`

// CreateOfficer adds an officer account
func (s *Store) CreateOfficer(ctx context.Context, name, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO officers (name, password_hash, created_at) VALUES (?, ?, ?)
	`, name, passwordHash, formatTimestamp(time.Now()))
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%s: %w", name, ErrOfficerExists)
	}
	return err
}

// GetOfficer looks up an officer by name, case-insensitively
func (s *Store) GetOfficer(ctx context.Context, name string) (*Officer, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+officerColumns+` FROM officers WHERE name = ? COLLATE NOCASE
	`, name)
	o, err := scanOfficer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return o, err
}

// ListOfficers returns all officers ordered by name
func (s *Store) ListOfficers(ctx context.Context) ([]Officer, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+officerColumns+` FROM officers ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var officers []Officer
	for rows.Next() {
		o, err := scanOfficer(rows)
		if err != nil {
			return nil, err
		}
		officers = append(officers, *o)
	}
	return officers, rows.Err()
}

// UpdateOfficerLastLogin stamps a successful login
func (s *Store) UpdateOfficerLastLogin(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE officers SET last_login = ? WHERE id = ?
	`, formatTimestamp(at), id)
	return err
}

// DeleteOfficer removes an officer by name
func (s *Store) DeleteOfficer(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM officers WHERE name = ? COLLATE NOCASE`, name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("officer %s: %w", name, ErrNotFound)
	}
	return nil
}
