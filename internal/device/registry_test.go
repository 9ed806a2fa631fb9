package device

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRegistry(t *testing.T) (*Registry, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	return NewRegistry(store, 2*time.Minute, 10*time.Minute, zap.NewNop()), store
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	_, err := reg.Register(ctx, "SN-100", "Gate A", "school-1")
	require.NoError(t, err)

	d, err := reg.Authenticate(ctx, "SN-100")
	require.NoError(t, err)
	assert.Equal(t, "school-1", d.SchoolID)

	_, err = reg.Authenticate(ctx, "SN-404")
	assert.ErrorIs(t, err, ErrUnknown)

	require.NoError(t, reg.Deactivate(ctx, "SN-100"))
	_, err = reg.Authenticate(ctx, "SN-100")
	assert.ErrorIs(t, err, ErrInactive)
}

func TestRegisterDuplicateSerial(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	_, err := reg.Register(ctx, "SN-1", "Gate", "school-1")
	require.NoError(t, err)
	_, err = reg.Register(ctx, "SN-1", "Gate again", "school-1")
	assert.Error(t, err)
}

func TestStatusThresholds(t *testing.T) {
	reg, _ := newTestRegistry(t)
	now := time.Now().UTC()

	at := func(ago time.Duration) Device {
		seen := now.Add(-ago)
		return Device{LastSeenAt: &seen}
	}

	assert.Equal(t, StatusOnline, reg.Status(at(30*time.Second), now))
	assert.Equal(t, StatusDelayed, reg.Status(at(5*time.Minute), now))
	assert.Equal(t, StatusOffline, reg.Status(at(time.Hour), now))
	assert.Equal(t, StatusOffline, reg.Status(Device{}, now), "never-seen device is offline")
}

func TestOfflineDevices(t *testing.T) {
	ctx := context.Background()
	reg, store := newTestRegistry(t)
	now := time.Now().UTC()

	// never polled
	_, err := reg.Register(ctx, "SN-quiet", "", "school-1")
	require.NoError(t, err)
	// polled recently
	fresh, err := reg.Register(ctx, "SN-fresh", "", "school-1")
	require.NoError(t, err)
	reg.RecordHeartbeat(ctx, fresh)
	// went silent, then was retired; retired devices are not reported
	_, err = reg.Register(ctx, "SN-retired", "", "school-1")
	require.NoError(t, err)
	require.NoError(t, store.TouchLastSeen(ctx, "SN-retired", now.Add(-time.Hour)))
	require.NoError(t, reg.Deactivate(ctx, "SN-retired"))
	// went silent
	_, err = reg.Register(ctx, "SN-silent", "", "school-1")
	require.NoError(t, err)
	require.NoError(t, store.TouchLastSeen(ctx, "SN-silent", now.Add(-time.Hour)))

	offline, err := reg.OfflineDevices(ctx, now)
	require.NoError(t, err)
	serials := make([]string, len(offline))
	for i, d := range offline {
		serials[i] = d.Serial
	}
	assert.ElementsMatch(t, []string{"SN-quiet", "SN-silent"}, serials)
}

func TestHeartbeatUpdatesLastSeen(t *testing.T) {
	ctx := context.Background()
	reg, store := newTestRegistry(t)

	d, err := reg.Register(ctx, "SN-2", "", "school-1")
	require.NoError(t, err)
	require.Nil(t, d.LastSeenAt)

	reg.RecordHeartbeat(ctx, d)
	got, err := store.GetBySerial(ctx, "SN-2")
	require.NoError(t, err)
	require.NotNil(t, got.LastSeenAt)
	assert.Equal(t, StatusOnline, reg.Status(*got, time.Now().UTC()))
}
