package syncengine

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresStateStore persists sync states in Postgres.
type PostgresStateStore struct {
	db *sql.DB
}

// NewPostgresStateStore creates a store.
func NewPostgresStateStore(db *sql.DB) *PostgresStateStore {
	return &PostgresStateStore{db: db}
}

// UpsertPending writes or resets the pair's row to pending.
func (s *PostgresStateStore) UpsertPending(ctx context.Context, deviceID, studentID, deviceUserID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO student_device_sync (device_id, student_id, device_user_id, status, last_attempt_at)
		VALUES ($1, $2, $3, 'pending', $4)
		ON CONFLICT (device_id, student_id) DO UPDATE SET
			device_user_id = EXCLUDED.device_user_id,
			status = 'pending',
			last_attempt_at = EXCLUDED.last_attempt_at
	`, deviceID, studentID, deviceUserID, at)
	return err
}

// ListByDevice returns every sync state row for a device.
func (s *PostgresStateStore) ListByDevice(ctx context.Context, deviceID string) ([]State, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT device_id, student_id, device_user_id, status, last_attempt_at, last_success_at
		FROM student_device_sync
		WHERE device_id = $1
		ORDER BY student_id
	`, deviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []State
	for rows.Next() {
		var st State
		if err := rows.Scan(&st.DeviceID, &st.StudentID, &st.DeviceUserID, &st.Status,
			&st.LastAttemptAt, &st.LastSuccessAt); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// ResolveDeviceUser maps a PIN to the enrolled student, or "".
func (s *PostgresStateStore) ResolveDeviceUser(ctx context.Context, deviceID, deviceUserID string) (string, error) {
	var studentID string
	err := s.db.QueryRowContext(ctx, `
		SELECT student_id FROM student_device_sync
		WHERE device_id = $1 AND device_user_id = $2
	`, deviceID, deviceUserID).Scan(&studentID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return studentID, err
}

// MarkSynced settles an acknowledged enroll.
func (s *PostgresStateStore) MarkSynced(ctx context.Context, deviceID, studentID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE student_device_sync
		SET status = 'synced', last_attempt_at = $3, last_success_at = $3
		WHERE device_id = $1 AND student_id = $2
	`, deviceID, studentID, at)
	return err
}

// MarkRemoved drops the row after an acknowledged delete: the student is no
// longer expected on the device.
func (s *PostgresStateStore) MarkRemoved(ctx context.Context, deviceID, studentID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM student_device_sync WHERE device_id = $1 AND student_id = $2
	`, deviceID, studentID)
	return err
}

// MarkFailed records a command that exhausted its delivery budget.
func (s *PostgresStateStore) MarkFailed(ctx context.Context, deviceID, studentID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE student_device_sync
		SET status = 'failed', last_attempt_at = $3
		WHERE device_id = $1 AND student_id = $2
	`, deviceID, studentID, at)
	return err
}
