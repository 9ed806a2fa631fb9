package roster

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresStore reads roster tables maintained by the admin domain.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// ActiveStudents returns the school's enrollable students.
func (s *PostgresStore) ActiveStudents(ctx context.Context, schoolID string) ([]Student, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, school_id, name, device_pin, card_number, active
		FROM students
		WHERE school_id = $1 AND active = TRUE
		ORDER BY device_pin
	`, schoolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Student
	for rows.Next() {
		var st Student
		if err := rows.Scan(&st.ID, &st.SchoolID, &st.Name, &st.DevicePIN, &st.CardNumber, &st.Active); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// GetStudent returns one student or nil when unknown.
func (s *PostgresStore) GetStudent(ctx context.Context, id string) (*Student, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, school_id, name, device_pin, card_number, active
		FROM students WHERE id = $1
	`, id)
	var st Student
	if err := row.Scan(&st.ID, &st.SchoolID, &st.Name, &st.DevicePIN, &st.CardNumber, &st.Active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &st, nil
}

// GetTiming returns the school's open time and late threshold. A school
// without a timing row gets the platform defaults.
func (s *PostgresStore) GetTiming(ctx context.Context, schoolID string) (Timing, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT open_minutes, late_threshold_minutes
		FROM school_timing WHERE school_id = $1
	`, schoolID)
	var openMin, lateMin int
	if err := row.Scan(&openMin, &lateMin); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Timing{SchoolID: schoolID, OpenTime: 8 * time.Hour, LateThreshold: 15 * time.Minute}, nil
		}
		return Timing{}, err
	}
	return Timing{
		SchoolID:      schoolID,
		OpenTime:      time.Duration(openMin) * time.Minute,
		LateThreshold: time.Duration(lateMin) * time.Minute,
	}, nil
}
