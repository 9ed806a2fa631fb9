package device

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// PostgresStore persists devices in Postgres.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// GetBySerial returns a device or nil when the serial is unregistered.
func (s *PostgresStore) GetBySerial(ctx context.Context, serial string) (*Device, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, serial_number, name, school_id, active, last_seen_at, created_at
		FROM devices WHERE serial_number = $1
	`, serial)
	var d Device
	if err := row.Scan(&d.ID, &d.Serial, &d.Name, &d.SchoolID, &d.Active, &d.LastSeenAt, &d.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &d, nil
}

// GetByID returns a device by row id, or nil when unknown.
func (s *PostgresStore) GetByID(ctx context.Context, id string) (*Device, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, serial_number, name, school_id, active, last_seen_at, created_at
		FROM devices WHERE id = $1
	`, id)
	var d Device
	if err := row.Scan(&d.ID, &d.Serial, &d.Name, &d.SchoolID, &d.Active, &d.LastSeenAt, &d.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &d, nil
}

// Insert writes a new device record.
func (s *PostgresStore) Insert(ctx context.Context, d Device) (Device, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO devices (id, serial_number, name, school_id, active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, d.ID, d.Serial, d.Name, d.SchoolID, d.Active)
	if err := row.Scan(&d.CreatedAt); err != nil {
		return Device{}, err
	}
	return d, nil
}

// Deactivate clears the active flag; the row stays for audit history.
func (s *PostgresStore) Deactivate(ctx context.Context, serial string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE devices SET active = FALSE WHERE serial_number = $1`, serial)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUnknown
	}
	return nil
}

// TouchLastSeen stamps the heartbeat time.
func (s *PostgresStore) TouchLastSeen(ctx context.Context, serial string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE devices SET last_seen_at = $2 WHERE serial_number = $1`, serial, at)
	return err
}

// ListSeenBefore returns active devices with no heartbeat since the cutoff.
func (s *PostgresStore) ListSeenBefore(ctx context.Context, cutoff time.Time) ([]Device, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, serial_number, name, school_id, active, last_seen_at, created_at
		FROM devices
		WHERE active = TRUE AND (last_seen_at IS NULL OR last_seen_at < $1)
		ORDER BY serial_number
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Device
	for rows.Next() {
		var d Device
		if err := rows.Scan(&d.ID, &d.Serial, &d.Name, &d.SchoolID, &d.Active,
			&d.LastSeenAt, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ListBySchool returns a school's devices with per-device roster counts
// derived from the sync state table.
func (s *PostgresStore) ListBySchool(ctx context.Context, schoolID string) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, d.serial_number, d.name, d.school_id, d.active, d.last_seen_at, d.created_at,
		       COUNT(ss.student_id) AS total_users,
		       COUNT(ss.student_id) FILTER (WHERE ss.status = 'synced') AS synced_users
		FROM devices d
		LEFT JOIN student_device_sync ss ON ss.device_id = d.id
		WHERE d.school_id = $1
		GROUP BY d.id
		ORDER BY d.created_at
	`, schoolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sm Summary
		if err := rows.Scan(&sm.ID, &sm.Serial, &sm.Name, &sm.SchoolID, &sm.Active,
			&sm.LastSeenAt, &sm.CreatedAt, &sm.TotalUsers, &sm.SyncedUsers); err != nil {
			return nil, err
		}
		out = append(out, sm)
	}
	return out, rows.Err()
}
