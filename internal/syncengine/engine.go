package syncengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"devicegw/internal/command"
	"devicegw/internal/device"
	"devicegw/internal/roster"
)

var (
	// ErrDeviceOffline rejects sync triggers for devices that have not
	// polled recently; their queue would only grow.
	ErrDeviceOffline = errors.New("device offline")
	// ErrSyncInProgress rejects a sync trigger while another computation
	// holds the device.
	ErrSyncInProgress = errors.New("sync already in progress")
)

// DeviceResolver is the slice of the device registry the engine needs.
type DeviceResolver interface {
	Get(ctx context.Context, id string) (device.Device, error)
	Status(d device.Device, now time.Time) device.LiveStatus
}

// Outbox is the slice of the command queue the engine needs.
type Outbox interface {
	Enqueue(ctx context.Context, deviceID string, kind command.Kind, p command.Payload) (command.Command, bool, error)
	CountPending(ctx context.Context, deviceID string) (int, error)
}

// Engine computes roster reconciliation and feeds corrective commands to
// the outbox. Roster data is read fresh for every operation.
type Engine struct {
	devices DeviceResolver
	outbox  Outbox
	roster  roster.Store
	states  StateStore
	log     *zap.Logger

	// verify collapses simultaneous verify-syncs for one device into a
	// single enumeration; inflight guards full syncs and cross-operation
	// overlap.
	verify   singleflight.Group
	mu       sync.Mutex
	inflight map[string]bool
}

// New builds the engine.
func New(devices DeviceResolver, outbox Outbox, rosterStore roster.Store, states StateStore, log *zap.Logger) *Engine {
	return &Engine{
		devices:  devices,
		outbox:   outbox,
		roster:   rosterStore,
		states:   states,
		log:      log,
		inflight: make(map[string]bool),
	}
}

func (e *Engine) begin(deviceID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inflight[deviceID] {
		return false
	}
	e.inflight[deviceID] = true
	return true
}

func (e *Engine) end(deviceID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inflight, deviceID)
}

// onlineDevice loads the device and refuses offline ones.
func (e *Engine) onlineDevice(ctx context.Context, deviceID string) (device.Device, error) {
	d, err := e.devices.Get(ctx, deviceID)
	if err != nil {
		return device.Device{}, err
	}
	if e.devices.Status(d, time.Now().UTC()) == device.StatusOffline {
		return device.Device{}, ErrDeviceOffline
	}
	return d, nil
}

// FullSync pushes every active student of the device's school that has no
// non-failed sync state. Safe to run repeatedly: the outbox suppresses
// duplicate open mutations. Returns the number of commands queued.
func (e *Engine) FullSync(ctx context.Context, deviceID string) (int, error) {
	if !e.begin(deviceID) {
		return 0, ErrSyncInProgress
	}
	defer e.end(deviceID)

	d, err := e.onlineDevice(ctx, deviceID)
	if err != nil {
		return 0, err
	}

	students, err := e.roster.ActiveStudents(ctx, d.SchoolID)
	if err != nil {
		return 0, fmt.Errorf("load roster: %w", err)
	}
	states, err := e.stateIndex(ctx, deviceID)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	queued := 0
	for _, st := range students {
		if cur, ok := states[st.ID]; ok && cur.Status != StateFailed {
			continue
		}
		ok, err := e.enqueueEnroll(ctx, deviceID, st, now)
		if err != nil {
			return queued, err
		}
		if ok {
			queued++
		}
	}
	e.log.Info("full sync queued",
		zap.String("device", deviceID), zap.Int("commands", queued), zap.Int("roster", len(students)))
	return queued, nil
}

// VerifyResult reports one diff-based reconciliation pass.
type VerifyResult struct {
	Missing int
	Extra   int
	Health  float64
}

// VerifySync diffs the desired roster against the last-known device state
// and queues corrective commands. Simultaneous calls for one device
// collapse into the in-flight computation; a call overlapping a full sync
// is rejected with ErrSyncInProgress.
func (e *Engine) VerifySync(ctx context.Context, deviceID string) (VerifyResult, error) {
	v, err, _ := e.verify.Do(deviceID, func() (any, error) {
		if !e.begin(deviceID) {
			return VerifyResult{}, ErrSyncInProgress
		}
		defer e.end(deviceID)
		return e.verifyLocked(ctx, deviceID)
	})
	if err != nil {
		return VerifyResult{}, err
	}
	return v.(VerifyResult), nil
}

func (e *Engine) verifyLocked(ctx context.Context, deviceID string) (VerifyResult, error) {
	d, err := e.onlineDevice(ctx, deviceID)
	if err != nil {
		return VerifyResult{}, err
	}

	students, err := e.roster.ActiveStudents(ctx, d.SchoolID)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("load roster: %w", err)
	}
	states, err := e.stateIndex(ctx, deviceID)
	if err != nil {
		return VerifyResult{}, err
	}

	desired := make(map[string]roster.Student, len(students))
	for _, st := range students {
		desired[st.ID] = st
	}

	now := time.Now().UTC()
	var res VerifyResult
	syncedAndDesired := 0

	// missing = desired − known-synced
	for id, st := range desired {
		if cur, ok := states[id]; ok && cur.Status == StateSynced {
			syncedAndDesired++
			continue
		}
		res.Missing++
		if _, err := e.enqueueEnroll(ctx, deviceID, st, now); err != nil {
			return res, err
		}
	}

	// extra = known-synced − desired
	for id, cur := range states {
		if cur.Status != StateSynced {
			continue
		}
		if _, ok := desired[id]; ok {
			continue
		}
		res.Extra++
		if _, _, err := e.outbox.Enqueue(ctx, deviceID, command.KindDeleteUser, command.Payload{
			StudentID:    id,
			DeviceUserID: cur.DeviceUserID,
		}); err != nil {
			return res, err
		}
	}

	res.Health = healthPercentage(syncedAndDesired, len(desired))
	e.log.Info("verify sync computed",
		zap.String("device", deviceID), zap.Int("missing", res.Missing),
		zap.Int("extra", res.Extra), zap.Float64("health", res.Health))
	return res, nil
}

func (e *Engine) enqueueEnroll(ctx context.Context, deviceID string, st roster.Student, now time.Time) (bool, error) {
	_, queued, err := e.outbox.Enqueue(ctx, deviceID, command.KindEnrollUser, command.Payload{
		StudentID:    st.ID,
		DeviceUserID: st.DevicePIN,
		DisplayName:  st.Name,
		CardNumber:   st.CardNumber,
	})
	if err != nil {
		return false, err
	}
	if queued {
		if err := e.states.UpsertPending(ctx, deviceID, st.ID, st.DevicePIN, now); err != nil {
			return false, err
		}
	}
	return queued, nil
}

func (e *Engine) stateIndex(ctx context.Context, deviceID string) (map[string]State, error) {
	list, err := e.states.ListByDevice(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("load sync state: %w", err)
	}
	idx := make(map[string]State, len(list))
	for _, st := range list {
		idx[st.StudentID] = st
	}
	return idx, nil
}

// healthPercentage follows the convention that an empty desired roster is
// fully healthy.
func healthPercentage(syncedAndDesired, desired int) float64 {
	if desired == 0 {
		return 100
	}
	return 100 * float64(syncedAndDesired) / float64(desired)
}
