// Package syncengine keeps each terminal's on-device user roster consistent
// with the authoritative student roster, through full (push-everything) and
// verify (diff-based) reconciliation.
package syncengine

import (
	"context"
	"time"
)

// StateStatus is the per-(student, device) sync state.
type StateStatus string

const (
	StateSynced  StateStatus = "synced"
	StatePending StateStatus = "pending"
	StateFailed  StateStatus = "failed"
)

// State is one row of StudentDeviceSyncState: the source of truth for
// whether a student is expected to exist on a device. Exactly one row per
// (student, device) pair.
type State struct {
	StudentID     string
	DeviceID      string
	DeviceUserID  string
	Status        StateStatus
	LastAttemptAt *time.Time
	LastSuccessAt *time.Time
}

// StateStore persists sync states. It also implements command.StateUpdater
// so acknowledged commands settle the state they belong to.
type StateStore interface {
	// UpsertPending records that an enroll has been queued for the pair,
	// creating the row or resetting a failed one.
	UpsertPending(ctx context.Context, deviceID, studentID, deviceUserID string, at time.Time) error
	ListByDevice(ctx context.Context, deviceID string) ([]State, error)
	// ResolveDeviceUser maps a device-local user id back to a student;
	// empty string when no enrollment through this gateway exists.
	ResolveDeviceUser(ctx context.Context, deviceID, deviceUserID string) (string, error)

	MarkSynced(ctx context.Context, deviceID, studentID string, at time.Time) error
	MarkRemoved(ctx context.Context, deviceID, studentID string) error
	MarkFailed(ctx context.Context, deviceID, studentID string, at time.Time) error
}
