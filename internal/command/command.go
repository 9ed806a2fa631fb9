// Package command implements the per-device outbox of pending roster
// mutations. Commands are delivered in creation order on the device's next
// poll and retried within a bounded window until acknowledged.
package command

import "time"

// Kind is the roster mutation a command carries.
type Kind string

const (
	KindEnrollUser Kind = "ENROLL_USER"
	KindDeleteUser Kind = "DELETE_USER"
)

// Status is the delivery state machine: PENDING → SENT → ACKNOWLEDGED,
// with SENT reverting to PENDING on timeout and ending in FAILED after the
// attempt budget is spent.
type Status string

const (
	StatusPending      Status = "PENDING"
	StatusSent         Status = "SENT"
	StatusAcknowledged Status = "ACKNOWLEDGED"
	StatusFailed       Status = "FAILED"
)

// Payload identifies the student on the device side.
type Payload struct {
	StudentID    string
	DeviceUserID string
	DisplayName  string
	CardNumber   string
}

// Command is one queued mutation. Seq is monotonically increasing per
// device and is the key the terminal echoes back in its acknowledgement.
type Command struct {
	ID       string
	DeviceID string
	Seq      int64
	Kind     Kind
	Payload
	Status    Status
	Attempts  int
	CreatedAt time.Time
	SentAt    *time.Time
}

// AckResult is one acknowledgement from a terminal, already decoded from
// the wire by the protocol package.
type AckResult struct {
	Seq int64
	OK  bool
}
