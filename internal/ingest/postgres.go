package ingest

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// PostgresLogStore persists attendance logs in Postgres. Deduplication is
// enforced by the unique (student_id, device_id, punched_at) constraint so
// concurrent overlapping uploads from a retrying terminal cannot
// double-write.
type PostgresLogStore struct {
	db *sql.DB
}

// NewPostgresLogStore creates a store.
func NewPostgresLogStore(db *sql.DB) *PostgresLogStore {
	return &PostgresLogStore{db: db}
}

// Insert writes a log; ON CONFLICT DO NOTHING turns redelivery into a
// no-op reported via inserted=false.
func (s *PostgresLogStore) Insert(ctx context.Context, l Log) (bool, error) {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO attendance_logs (id, student_id, device_id, punched_at, status, direction, verify_mode)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (student_id, device_id, punched_at) DO NOTHING
	`, l.ID, l.StudentID, l.DeviceID, l.PunchedAt, l.Status, l.Direction, l.VerifyMode)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ListDay returns the pair's logs for the given calendar day in punch
// order. Day boundaries follow the punch's own timezone.
func (s *PostgresLogStore) ListDay(ctx context.Context, studentID, deviceID string, day time.Time) ([]Log, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.Add(24 * time.Hour)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, student_id, device_id, punched_at, status, direction, verify_mode, created_at
		FROM attendance_logs
		WHERE student_id = $1 AND device_id = $2 AND punched_at >= $3 AND punched_at < $4
		ORDER BY punched_at
	`, studentID, deviceID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Log
	for rows.Next() {
		var l Log
		if err := rows.Scan(&l.ID, &l.StudentID, &l.DeviceID, &l.PunchedAt, &l.Status,
			&l.Direction, &l.VerifyMode, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// SetDirection updates one log's check-in/check-out flag.
func (s *PostgresLogStore) SetDirection(ctx context.Context, id string, dir Direction) error {
	_, err := s.db.ExecContext(ctx, `UPDATE attendance_logs SET direction = $2 WHERE id = $1`, id, dir)
	return err
}
