package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"devicegw/internal/device"
	"devicegw/internal/notify"
	"devicegw/internal/protocol"
	"devicegw/internal/roster"
	"devicegw/internal/syncengine"
)

func newTestPipeline(t *testing.T) (*Pipeline, *MemoryLogStore, *syncengine.MemoryStateStore, *notify.InMemory) {
	t.Helper()
	logs := NewMemoryLogStore()
	states := syncengine.NewMemoryStateStore()
	rosterStore := roster.NewMemoryStore()
	rosterStore.SetTiming(roster.Timing{SchoolID: "school-1", OpenTime: 8 * time.Hour, LateThreshold: 15 * time.Minute})
	sink := notify.NewInMemory(64)
	return NewPipeline(logs, states, rosterStore, sink, zap.NewNop()), logs, states, sink
}

func testDevice() device.Device {
	return device.Device{ID: "dev-1", Serial: "SN-1", SchoolID: "school-1", Active: true}
}

func enroll(states *syncengine.MemoryStateStore, studentID, pin string) {
	states.Seed(syncengine.State{
		DeviceID: "dev-1", StudentID: studentID, DeviceUserID: pin, Status: syncengine.StateSynced,
	})
}

func punchAt(pin string, at time.Time) protocol.Punch {
	return protocol.Punch{DeviceUserID: pin, Timestamp: at}
}

func TestIngestIsIdempotent(t *testing.T) {
	ctx := context.Background()
	p, logs, states, _ := newTestPipeline(t)
	enroll(states, "S1", "1001")

	batch := []protocol.Punch{
		punchAt("1001", time.Date(2026, 3, 2, 8, 0, 0, 0, time.Local)),
		punchAt("1001", time.Date(2026, 3, 2, 15, 30, 0, 0, time.Local)),
	}

	rep, err := p.Ingest(ctx, testDevice(), batch)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Accepted)

	// terminals resend unacknowledged buffers; the repeat is a no-op
	rep, err = p.Ingest(ctx, testDevice(), batch)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Accepted)
	assert.Equal(t, 2, rep.Duplicates)
	assert.Len(t, logs.All(), 2)
}

func TestIngestSkipsUnresolvableUsers(t *testing.T) {
	ctx := context.Background()
	p, logs, states, _ := newTestPipeline(t)
	enroll(states, "S1", "1001")

	rep, err := p.Ingest(ctx, testDevice(), []protocol.Punch{
		punchAt("1001", time.Date(2026, 3, 2, 8, 0, 0, 0, time.Local)),
		punchAt("9999", time.Date(2026, 3, 2, 8, 1, 0, 0, time.Local)), // never enrolled
	})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Accepted)
	assert.Equal(t, 1, rep.Unresolved)
	require.Len(t, logs.All(), 1)
	assert.Equal(t, "S1", logs.All()[0].StudentID)
}

func TestIngestClassifiesAgainstSchoolTiming(t *testing.T) {
	ctx := context.Background()
	p, logs, states, _ := newTestPipeline(t)
	enroll(states, "S1", "1001")
	enroll(states, "S2", "1002")

	rep, err := p.Ingest(ctx, testDevice(), []protocol.Punch{
		punchAt("1001", time.Date(2026, 3, 2, 8, 10, 0, 0, time.Local)), // within threshold
		punchAt("1002", time.Date(2026, 3, 2, 8, 40, 0, 0, time.Local)), // past threshold
	})
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Accepted)

	byStudent := map[string]Status{}
	for _, l := range logs.All() {
		byStudent[l.StudentID] = l.Status
	}
	assert.Equal(t, StatusPresent, byStudent["S1"])
	assert.Equal(t, StatusLate, byStudent["S2"])
}

func TestIngestDirections(t *testing.T) {
	ctx := context.Background()
	p, logs, states, _ := newTestPipeline(t)
	enroll(states, "S1", "1001")
	dev := testDevice()

	// single punch: check-in only, no check-out
	_, err := p.Ingest(ctx, dev, []protocol.Punch{
		punchAt("1001", time.Date(2026, 3, 2, 8, 0, 0, 0, time.Local)),
	})
	require.NoError(t, err)
	all := logs.All()
	require.Len(t, all, 1)
	assert.Equal(t, DirectionCheckIn, all[0].Direction)

	// midday and evening punches arrive later
	_, err = p.Ingest(ctx, dev, []protocol.Punch{
		punchAt("1001", time.Date(2026, 3, 2, 12, 15, 0, 0, time.Local)),
		punchAt("1001", time.Date(2026, 3, 2, 15, 30, 0, 0, time.Local)),
	})
	require.NoError(t, err)

	all = logs.All()
	require.Len(t, all, 3)
	assert.Equal(t, DirectionCheckIn, all[0].Direction)
	assert.Equal(t, DirectionNone, all[1].Direction)
	assert.Equal(t, DirectionCheckOut, all[2].Direction)
}

func TestIngestEmitsNotifications(t *testing.T) {
	ctx := context.Background()
	p, _, states, sink := newTestPipeline(t)
	enroll(states, "S1", "1001")

	_, err := p.Ingest(ctx, testDevice(), []protocol.Punch{
		punchAt("1001", time.Date(2026, 3, 2, 8, 0, 0, 0, time.Local)),
	})
	require.NoError(t, err)

	select {
	case evt := <-sink.Events():
		assert.Equal(t, "S1", evt.StudentID)
		assert.Equal(t, "present", evt.Status)
	default:
		t.Fatal("expected a notification")
	}
}
