// Package ingest turns raw terminal punches into canonical, deduplicated,
// classified attendance logs.
package ingest

import (
	"context"
	"time"
)

// Status is the attendance classification of a punch.
type Status string

const (
	StatusPresent Status = "present"
	StatusLate    Status = "late"
)

// Direction marks a log's position in the student's day.
type Direction string

const (
	DirectionCheckIn  Direction = "check_in"
	DirectionCheckOut Direction = "check_out"
	DirectionNone     Direction = ""
)

// Log is one canonical attendance record. The (student, device, punched-at)
// triple is unique; re-delivered punches collapse onto the existing row.
type Log struct {
	ID         string
	StudentID  string
	DeviceID   string
	PunchedAt  time.Time
	Status     Status
	Direction  Direction
	VerifyMode int
	CreatedAt  time.Time
}

// LogStore persists attendance logs. Implemented by PostgresLogStore and
// MemoryLogStore.
type LogStore interface {
	// Insert writes a log unless the dedup key already exists; inserted
	// reports which happened.
	Insert(ctx context.Context, l Log) (inserted bool, err error)
	// ListDay returns the pair's logs for the punch's calendar day in
	// chronological order.
	ListDay(ctx context.Context, studentID, deviceID string, day time.Time) ([]Log, error)
	SetDirection(ctx context.Context, id string, dir Direction) error
}
