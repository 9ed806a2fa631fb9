package device

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Store persists devices. Implemented by PostgresStore and MemoryStore.
type Store interface {
	GetBySerial(ctx context.Context, serial string) (*Device, error)
	GetByID(ctx context.Context, id string) (*Device, error)
	Insert(ctx context.Context, d Device) (Device, error)
	Deactivate(ctx context.Context, serial string) error
	TouchLastSeen(ctx context.Context, serial string, at time.Time) error
	ListBySchool(ctx context.Context, schoolID string) ([]Summary, error)
	// ListSeenBefore returns active devices whose last heartbeat predates
	// the cutoff, including devices that have never polled.
	ListSeenBefore(ctx context.Context, cutoff time.Time) ([]Device, error)
}

// Registry authorizes terminals and tracks liveness.
type Registry struct {
	store         Store
	onlineWindow  time.Duration
	delayedWindow time.Duration
	log           *zap.Logger
}

// NewRegistry builds a registry with the given liveness thresholds.
func NewRegistry(store Store, onlineWindow, delayedWindow time.Duration, log *zap.Logger) *Registry {
	if onlineWindow <= 0 {
		onlineWindow = 2 * time.Minute
	}
	if delayedWindow <= onlineWindow {
		delayedWindow = 10 * time.Minute
	}
	return &Registry{store: store, onlineWindow: onlineWindow, delayedWindow: delayedWindow, log: log}
}

// Authenticate resolves a serial number to a device. Unknown or inactive
// serials yield an explicit error so the transport can answer with a
// rejection token instead of dropping the request.
func (r *Registry) Authenticate(ctx context.Context, serial string) (Device, error) {
	if serial == "" {
		return Device{}, ErrUnknown
	}
	d, err := r.store.GetBySerial(ctx, serial)
	if err != nil {
		return Device{}, err
	}
	if d == nil {
		r.log.Warn("unknown device serial", zap.String("serial", serial))
		return Device{}, ErrUnknown
	}
	if !d.Active {
		r.log.Warn("inactive device rejected", zap.String("serial", serial))
		return Device{}, ErrInactive
	}
	return *d, nil
}

// Get resolves a device by its row id, as used by the management API.
func (r *Registry) Get(ctx context.Context, id string) (Device, error) {
	d, err := r.store.GetByID(ctx, id)
	if err != nil {
		return Device{}, err
	}
	if d == nil {
		return Device{}, ErrUnknown
	}
	return *d, nil
}

// RecordHeartbeat updates last-seen. It runs on every poll and push,
// whether or not the payload turns out to be valid.
func (r *Registry) RecordHeartbeat(ctx context.Context, d Device) {
	if err := r.store.TouchLastSeen(ctx, d.Serial, time.Now().UTC()); err != nil {
		r.log.Error("heartbeat update failed", zap.String("serial", d.Serial), zap.Error(err))
	}
}

// Status classifies liveness from elapsed time since last-seen. A device
// that has never polled is offline.
func (r *Registry) Status(d Device, now time.Time) LiveStatus {
	if d.LastSeenAt == nil {
		return StatusOffline
	}
	elapsed := now.Sub(*d.LastSeenAt)
	switch {
	case elapsed < r.onlineWindow:
		return StatusOnline
	case elapsed < r.delayedWindow:
		return StatusDelayed
	default:
		return StatusOffline
	}
}

// Register creates a device record for a terminal the administrator is
// installing. Serial numbers are unique; re-registering one is an error.
func (r *Registry) Register(ctx context.Context, serial, name, schoolID string) (Device, error) {
	if serial == "" || schoolID == "" {
		return Device{}, errors.New("serial and school required")
	}
	existing, err := r.store.GetBySerial(ctx, serial)
	if err != nil {
		return Device{}, err
	}
	if existing != nil {
		return Device{}, errors.New("serial already registered")
	}
	return r.store.Insert(ctx, Device{Serial: serial, Name: name, SchoolID: schoolID, Active: true})
}

// Deactivate retires a device. Records are never hard-deleted.
func (r *Registry) Deactivate(ctx context.Context, serial string) error {
	return r.store.Deactivate(ctx, serial)
}

// OfflineDevices returns the active devices currently classified offline.
// The worker logs these on a schedule so a silent terminal is noticed
// before someone looks at a dashboard.
func (r *Registry) OfflineDevices(ctx context.Context, now time.Time) ([]Device, error) {
	return r.store.ListSeenBefore(ctx, now.Add(-r.delayedWindow))
}

// List returns a school's devices with derived status and roster counts.
func (r *Registry) List(ctx context.Context, schoolID string) ([]Summary, error) {
	devices, err := r.store.ListBySchool(ctx, schoolID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	for i := range devices {
		devices[i].Status = r.Status(devices[i].Device, now)
	}
	return devices, nil
}
