package syncengine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"devicegw/internal/command"
	"devicegw/internal/device"
	"devicegw/internal/roster"
)

type fixture struct {
	engine  *Engine
	devices *device.MemoryStore
	queue   *command.Queue
	cmds    *command.MemoryStore
	roster  *roster.MemoryStore
	states  *MemoryStateStore
	dev     device.Device
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	devStore := device.NewMemoryStore()
	registry := device.NewRegistry(devStore, 2*time.Minute, 10*time.Minute, zap.NewNop())
	d, err := registry.Register(ctx, "SN-1", "Gate A", "school-1")
	require.NoError(t, err)
	registry.RecordHeartbeat(ctx, d) // device is online

	states := NewMemoryStateStore()
	cmdStore := command.NewMemoryStore()
	queue := command.NewQueue(cmdStore, states, 3, zap.NewNop())
	rosterStore := roster.NewMemoryStore()

	return &fixture{
		engine:  New(registry, queue, rosterStore, states, zap.NewNop()),
		devices: devStore,
		queue:   queue,
		cmds:    cmdStore,
		roster:  rosterStore,
		states:  states,
		dev:     d,
	}
}

func (f *fixture) addStudent(id, pin string) {
	f.roster.AddStudent(roster.Student{
		ID: id, SchoolID: "school-1", Name: "Student " + id, DevicePIN: pin, Active: true,
	})
}

func TestFullSyncQueuesUnsyncedStudents(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addStudent("S1", "1001")
	f.addStudent("S2", "1002")
	f.addStudent("S3", "1003")
	// S2 already synced, S3 failed earlier
	f.states.Seed(State{DeviceID: f.dev.ID, StudentID: "S2", DeviceUserID: "1002", Status: StateSynced})
	f.states.Seed(State{DeviceID: f.dev.ID, StudentID: "S3", DeviceUserID: "1003", Status: StateFailed})

	queued, err := f.engine.FullSync(ctx, f.dev.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, queued, "S1 (new) and S3 (failed) need enrolling")

	cmds, err := f.queue.Drain(ctx, f.dev.ID)
	require.NoError(t, err)
	require.Len(t, cmds, 2)
	for _, c := range cmds {
		assert.Equal(t, command.KindEnrollUser, c.Kind)
	}
}

func TestFullSyncIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addStudent("S1", "1001")

	queued, err := f.engine.FullSync(ctx, f.dev.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, queued)

	queued, err = f.engine.FullSync(ctx, f.dev.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, queued, "pending state suppresses re-enrollment")
}

func TestVerifySyncDiff(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	// desired = {1, 2, 3}
	f.addStudent("1", "1001")
	f.addStudent("2", "1002")
	f.addStudent("3", "1003")
	// known-synced = {2, 3, 4}
	f.states.Seed(State{DeviceID: f.dev.ID, StudentID: "2", DeviceUserID: "1002", Status: StateSynced})
	f.states.Seed(State{DeviceID: f.dev.ID, StudentID: "3", DeviceUserID: "1003", Status: StateSynced})
	f.states.Seed(State{DeviceID: f.dev.ID, StudentID: "4", DeviceUserID: "1004", Status: StateSynced})

	res, err := f.engine.VerifySync(ctx, f.dev.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Missing)
	assert.Equal(t, 1, res.Extra)
	assert.InDelta(t, 100.0*2/3, res.Health, 0.01)

	cmds, err := f.queue.Drain(ctx, f.dev.ID)
	require.NoError(t, err)
	require.Len(t, cmds, 2)

	byKind := map[command.Kind]command.Command{}
	for _, c := range cmds {
		byKind[c.Kind] = c
	}
	assert.Equal(t, "1", byKind[command.KindEnrollUser].StudentID)
	assert.Equal(t, "4", byKind[command.KindDeleteUser].StudentID)
	assert.Equal(t, "1004", byKind[command.KindDeleteUser].DeviceUserID)
}

func TestSyncHealth(t *testing.T) {
	ctx := context.Background()

	t.Run("empty desired roster is fully healthy", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.engine.VerifySync(ctx, f.dev.ID)
		require.NoError(t, err)
		assert.Equal(t, 100.0, res.Health)
		assert.Zero(t, res.Missing)
		assert.Zero(t, res.Extra)
	})

	t.Run("half synced is 50 percent", func(t *testing.T) {
		f := newFixture(t)
		f.addStudent("1", "1001")
		f.addStudent("2", "1002")
		f.states.Seed(State{DeviceID: f.dev.ID, StudentID: "1", DeviceUserID: "1001", Status: StateSynced})

		res, err := f.engine.VerifySync(ctx, f.dev.ID)
		require.NoError(t, err)
		assert.Equal(t, 50.0, res.Health)
	})
}

func TestSyncRefusedForOfflineDevice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// a device that last polled an hour ago is offline
	stale := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, f.devices.TouchLastSeen(ctx, "SN-1", stale))

	_, err := f.engine.FullSync(ctx, f.dev.ID)
	assert.ErrorIs(t, err, ErrDeviceOffline)
	_, err = f.engine.VerifySync(ctx, f.dev.ID)
	assert.ErrorIs(t, err, ErrDeviceOffline)
}

func TestConcurrentVerifySyncSingleFlight(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addStudent("S1", "1001")

	const callers = 8
	var wg sync.WaitGroup
	results := make([]VerifyResult, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.engine.VerifySync(ctx, f.dev.ID)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, 1, results[i].Missing)
	}

	// exactly one set of corrective commands, not eight
	cmds, err := f.queue.Drain(ctx, f.dev.ID)
	require.NoError(t, err)
	assert.Len(t, cmds, 1)
}

func TestVerifyRejectedWhileFullSyncHoldsDevice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.True(t, f.engine.begin(f.dev.ID))
	defer f.engine.end(f.dev.ID)

	_, err := f.engine.VerifySync(ctx, f.dev.ID)
	assert.ErrorIs(t, err, ErrSyncInProgress)
	_, err = f.engine.FullSync(ctx, f.dev.ID)
	assert.ErrorIs(t, err, ErrSyncInProgress)
}

func TestStatusView(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addStudent("S1", "1001")
	f.addStudent("S2", "1002")
	now := time.Now().UTC()
	f.states.Seed(State{DeviceID: f.dev.ID, StudentID: "S1", DeviceUserID: "1001", Status: StateSynced, LastSuccessAt: &now})
	f.states.Seed(State{DeviceID: f.dev.ID, StudentID: "S2", DeviceUserID: "1002", Status: StatePending})
	f.states.Seed(State{DeviceID: f.dev.ID, StudentID: "S3", DeviceUserID: "1003", Status: StateFailed})

	status, err := f.engine.Status(ctx, f.dev.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSummary{Total: 3, Synced: 1, Pending: 1, Failed: 1}, status.Summary)
	assert.Equal(t, 50.0, status.SyncHealthPercent)
	assert.Len(t, status.Students, 3)
}
