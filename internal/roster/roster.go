// Package roster is the gateway's read-only window onto the authoritative
// student roster and per-school timing rules. Both are owned by the admin
// domain; this package never writes them and never caches them beyond a
// single operation.
package roster

import (
	"context"
	"time"
)

// Student is one enrollable person. DevicePIN is the numeric id terminals
// know the student by.
type Student struct {
	ID         string
	SchoolID   string
	Name       string
	DevicePIN  string
	CardNumber string
	Active     bool
}

// Timing holds a school's attendance rules: the open time (offset from
// midnight, school-local) and how long after it a punch still counts as
// present.
type Timing struct {
	SchoolID      string
	OpenTime      time.Duration // offset from midnight
	LateThreshold time.Duration
}

// Store reads roster data. Implemented by PostgresStore and MemoryStore.
type Store interface {
	ActiveStudents(ctx context.Context, schoolID string) ([]Student, error)
	GetStudent(ctx context.Context, id string) (*Student, error)
	GetTiming(ctx context.Context, schoolID string) (Timing, error)
}
