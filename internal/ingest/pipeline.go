package ingest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"devicegw/internal/device"
	"devicegw/internal/notify"
	"devicegw/internal/protocol"
	"devicegw/internal/roster"
)

// UserResolver maps a device-local user id to a student enrolled through
// this gateway. Implemented by the syncengine state stores.
type UserResolver interface {
	ResolveDeviceUser(ctx context.Context, deviceID, deviceUserID string) (string, error)
}

// TimingSource reads a school's timing rules. Implemented by roster stores.
type TimingSource interface {
	GetTiming(ctx context.Context, schoolID string) (roster.Timing, error)
}

// Report summarizes one ingested batch.
type Report struct {
	Accepted   int
	Duplicates int
	Unresolved int
}

// Pipeline consumes punch batches pushed by terminals. Each punch is
// persisted independently: a mid-batch failure leaves earlier punches
// committed, and redelivery of the whole batch is a no-op thanks to the
// dedup key.
type Pipeline struct {
	logs     LogStore
	resolver UserResolver
	timing   TimingSource
	notifier notify.Publisher
	log      *zap.Logger
}

// NewPipeline builds the pipeline.
func NewPipeline(logs LogStore, resolver UserResolver, timing TimingSource, notifier notify.Publisher, log *zap.Logger) *Pipeline {
	return &Pipeline{logs: logs, resolver: resolver, timing: timing, notifier: notifier, log: log}
}

// Ingest processes one batch of decoded punches from a device. Unresolvable
// users and duplicates are counted and skipped; only storage errors abort,
// and then only for the punches not yet written.
func (p *Pipeline) Ingest(ctx context.Context, dev device.Device, punches []protocol.Punch) (Report, error) {
	var rep Report
	if len(punches) == 0 {
		return rep, nil
	}

	// Timing is read per batch, never cached across requests, so a
	// mid-day threshold change takes effect immediately.
	timing, err := p.timing.GetTiming(ctx, dev.SchoolID)
	if err != nil {
		return rep, fmt.Errorf("load school timing: %w", err)
	}

	for _, punch := range punches {
		studentID, err := p.resolver.ResolveDeviceUser(ctx, dev.ID, punch.DeviceUserID)
		if err != nil {
			return rep, fmt.Errorf("resolve user: %w", err)
		}
		if studentID == "" {
			rep.Unresolved++
			p.log.Warn("punch for unenrolled device user",
				zap.String("device", dev.Serial), zap.String("pin", punch.DeviceUserID))
			continue
		}

		entry := Log{
			StudentID:  studentID,
			DeviceID:   dev.ID,
			PunchedAt:  punch.Timestamp.Truncate(time.Second),
			Status:     Classify(punch.Timestamp, timing),
			VerifyMode: punch.VerifyMode,
		}
		inserted, err := p.logs.Insert(ctx, entry)
		if err != nil {
			return rep, fmt.Errorf("persist log: %w", err)
		}
		if !inserted {
			rep.Duplicates++
			continue
		}
		rep.Accepted++

		dir, err := p.refreshDirections(ctx, studentID, dev.ID, entry.PunchedAt)
		if err != nil {
			return rep, err
		}
		entry.Direction = dir
		p.emit(ctx, entry)
	}

	p.log.Info("punch batch ingested",
		zap.String("device", dev.Serial), zap.Int("accepted", rep.Accepted),
		zap.Int("duplicates", rep.Duplicates), zap.Int("unresolved", rep.Unresolved))
	return rep, nil
}

// refreshDirections re-flags the pair's logs for the day: first punch is
// the check-in, last is the check-out, a single punch has no check-out.
// It returns the direction assigned to the punch at the given instant.
func (p *Pipeline) refreshDirections(ctx context.Context, studentID, deviceID string, at time.Time) (Direction, error) {
	logs, err := p.logs.ListDay(ctx, studentID, deviceID, at)
	if err != nil {
		return DirectionNone, fmt.Errorf("list day logs: %w", err)
	}
	assigned := DirectionNone
	for i, l := range logs {
		want := DirectionNone
		switch {
		case i == 0:
			want = DirectionCheckIn
		case i == len(logs)-1:
			want = DirectionCheckOut
		}
		if l.PunchedAt.Equal(at) {
			assigned = want
		}
		if l.Direction == want {
			continue
		}
		if err := p.logs.SetDirection(ctx, l.ID, want); err != nil {
			return assigned, fmt.Errorf("update direction: %w", err)
		}
	}
	return assigned, nil
}

// emit notifies the reporting domain. Failures are logged and swallowed;
// ingestion never depends on the consumer.
func (p *Pipeline) emit(ctx context.Context, l Log) {
	evt := notify.Event{
		StudentID: l.StudentID,
		DeviceID:  l.DeviceID,
		PunchedAt: l.PunchedAt,
		Status:    string(l.Status),
		Direction: string(l.Direction),
	}
	if err := p.notifier.Publish(ctx, evt); err != nil {
		p.log.Warn("attendance notification dropped", zap.Error(err))
	}
}
