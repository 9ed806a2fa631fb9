// Package device holds the terminal registry: identity, authorization by
// serial number, and liveness derived from poll heartbeats.
package device

import (
	"errors"
	"time"
)

var (
	// ErrUnknown is returned when a serial number has never been registered.
	ErrUnknown = errors.New("device unknown")
	// ErrInactive is returned for registered but deactivated devices.
	ErrInactive = errors.New("device inactive")
)

// LiveStatus is derived purely from elapsed time since last-seen.
type LiveStatus string

const (
	StatusOnline  LiveStatus = "online"
	StatusDelayed LiveStatus = "delayed"
	StatusOffline LiveStatus = "offline"
)

// Device is one registered attendance terminal. The serial number is the
// immutable identity the terminal presents on every request.
type Device struct {
	ID         string
	Serial     string
	Name       string
	SchoolID   string
	Active     bool
	LastSeenAt *time.Time
	CreatedAt  time.Time
}

// Summary is the management-API view of a device.
type Summary struct {
	Device
	Status      LiveStatus
	TotalUsers  int
	SyncedUsers int
}
