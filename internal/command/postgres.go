package command

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore persists commands in Postgres. Sequence assignment relies
// on the Queue's per-device lock; no two inserts for one device run
// concurrently within a gateway process.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// NextSeq returns the next per-device sequence id.
func (s *PostgresStore) NextSeq(ctx context.Context, deviceID string) (int64, error) {
	var next int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) + 1 FROM commands WHERE device_id = $1
	`, deviceID).Scan(&next)
	return next, err
}

// Insert writes a new command.
func (s *PostgresStore) Insert(ctx context.Context, c Command) (Command, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO commands (id, device_id, seq, kind, student_id, device_user_id, display_name, card_number, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at
	`, c.ID, c.DeviceID, c.Seq, c.Kind, c.StudentID, c.DeviceUserID, c.DisplayName, c.CardNumber, c.Status)
	if err := row.Scan(&c.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// unique (device_id, seq) violated by a competing writer;
			// the caller holds the device lock so this means another
			// gateway instance raced us.
			return Command{}, errors.New("sequence conflict, retry enqueue")
		}
		return Command{}, err
	}
	return c, nil
}

// HasOpen reports whether a PENDING or SENT command already exists for the
// (device, student, kind) triple.
func (s *PostgresStore) HasOpen(ctx context.Context, deviceID, studentID string, kind Kind) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM commands
			WHERE device_id = $1 AND student_id = $2 AND kind = $3
			  AND status IN ('PENDING', 'SENT')
		)
	`, deviceID, studentID, kind).Scan(&exists)
	return exists, err
}

// ListPending returns the device's backlog in sequence order.
func (s *PostgresStore) ListPending(ctx context.Context, deviceID string) ([]Command, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, device_id, seq, kind, student_id, device_user_id, display_name, card_number,
		       status, attempts, created_at, sent_at
		FROM commands
		WHERE device_id = $1 AND status = 'PENDING'
		ORDER BY seq
	`, deviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCommands(rows)
}

// MarkSent flips the listed commands to SENT and counts the attempt.
func (s *PostgresStore) MarkSent(ctx context.Context, deviceID string, ids []string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE commands
		SET status = 'SENT', attempts = attempts + 1, sent_at = $3
		WHERE device_id = $1 AND id = ANY($2)
	`, deviceID, ids, at)
	return err
}

// GetSentBySeq returns the SENT command with the given sequence id, or nil.
func (s *PostgresStore) GetSentBySeq(ctx context.Context, deviceID string, seq int64) (*Command, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, device_id, seq, kind, student_id, device_user_id, display_name, card_number,
		       status, attempts, created_at, sent_at
		FROM commands
		WHERE device_id = $1 AND seq = $2 AND status = 'SENT'
	`, deviceID, seq)
	var c Command
	if err := scanCommand(row, &c); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// SetStatus updates one command's status.
func (s *PostgresStore) SetStatus(ctx context.Context, id string, status Status) error {
	_, err := s.db.ExecContext(ctx, `UPDATE commands SET status = $2 WHERE id = $1`, id, status)
	return err
}

// ListSentBefore returns SENT commands whose delivery predates the cutoff.
func (s *PostgresStore) ListSentBefore(ctx context.Context, cutoff time.Time) ([]Command, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, device_id, seq, kind, student_id, device_user_id, display_name, card_number,
		       status, attempts, created_at, sent_at
		FROM commands
		WHERE status = 'SENT' AND sent_at < $1
		ORDER BY device_id, seq
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCommands(rows)
}

// CountPending returns the size of the device's undelivered backlog.
func (s *PostgresStore) CountPending(ctx context.Context, deviceID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM commands WHERE device_id = $1 AND status IN ('PENDING', 'SENT')
	`, deviceID).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCommand(row rowScanner, c *Command) error {
	return row.Scan(&c.ID, &c.DeviceID, &c.Seq, &c.Kind, &c.StudentID, &c.DeviceUserID,
		&c.DisplayName, &c.CardNumber, &c.Status, &c.Attempts, &c.CreatedAt, &c.SentAt)
}

func scanCommands(rows *sql.Rows) ([]Command, error) {
	var out []Command
	for rows.Next() {
		var c Command
		if err := scanCommand(rows, &c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
