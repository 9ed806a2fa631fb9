package command

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Store persists commands. Implemented by PostgresStore and MemoryStore.
type Store interface {
	NextSeq(ctx context.Context, deviceID string) (int64, error)
	Insert(ctx context.Context, c Command) (Command, error)
	HasOpen(ctx context.Context, deviceID, studentID string, kind Kind) (bool, error)
	ListPending(ctx context.Context, deviceID string) ([]Command, error)
	MarkSent(ctx context.Context, deviceID string, ids []string, at time.Time) error
	GetSentBySeq(ctx context.Context, deviceID string, seq int64) (*Command, error)
	SetStatus(ctx context.Context, id string, status Status) error
	ListSentBefore(ctx context.Context, cutoff time.Time) ([]Command, error)
	CountPending(ctx context.Context, deviceID string) (int, error)
}

// StateUpdater receives the sync-state consequences of command outcomes.
// Implemented by the syncengine state store.
type StateUpdater interface {
	MarkSynced(ctx context.Context, deviceID, studentID string, at time.Time) error
	MarkRemoved(ctx context.Context, deviceID, studentID string) error
	MarkFailed(ctx context.Context, deviceID, studentID string, at time.Time) error
}

// Queue is the ordered outbox service. All mutation for one device runs
// under that device's lock; devices never contend with each other.
type Queue struct {
	store       Store
	states      StateUpdater
	maxAttempts int
	log         *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewQueue builds the outbox with the given attempt budget.
func NewQueue(store Store, states StateUpdater, maxAttempts int, log *zap.Logger) *Queue {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Queue{
		store:       store,
		states:      states,
		maxAttempts: maxAttempts,
		log:         log,
		locks:       make(map[string]*sync.Mutex),
	}
}

// deviceLock returns the mutex serializing one device's queue.
func (q *Queue) deviceLock(deviceID string) *sync.Mutex {
	q.mu.Lock()
	defer q.mu.Unlock()
	l, ok := q.locks[deviceID]
	if !ok {
		l = &sync.Mutex{}
		q.locks[deviceID] = l
	}
	return l
}

// Enqueue appends a command. A duplicate (device, student, kind) while a
// prior command for that triple is still PENDING or SENT is suppressed and
// reported via queued=false.
func (q *Queue) Enqueue(ctx context.Context, deviceID string, kind Kind, p Payload) (Command, bool, error) {
	l := q.deviceLock(deviceID)
	l.Lock()
	defer l.Unlock()

	open, err := q.store.HasOpen(ctx, deviceID, p.StudentID, kind)
	if err != nil {
		return Command{}, false, err
	}
	if open {
		return Command{}, false, nil
	}

	seq, err := q.store.NextSeq(ctx, deviceID)
	if err != nil {
		return Command{}, false, err
	}
	cmd, err := q.store.Insert(ctx, Command{
		DeviceID: deviceID,
		Seq:      seq,
		Kind:     kind,
		Payload:  p,
		Status:   StatusPending,
	})
	if err != nil {
		return Command{}, false, err
	}
	return cmd, true, nil
}

// Drain returns the device's PENDING backlog in sequence order and marks
// it SENT. Commands already SENT are not redelivered here; only the sweep
// requeues them.
func (q *Queue) Drain(ctx context.Context, deviceID string) ([]Command, error) {
	l := q.deviceLock(deviceID)
	l.Lock()
	defer l.Unlock()

	cmds, err := q.store.ListPending(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if len(cmds) == 0 {
		return nil, nil
	}
	now := time.Now().UTC()
	ids := make([]string, len(cmds))
	for i := range cmds {
		ids[i] = cmds[i].ID
		cmds[i].Status = StatusSent
		cmds[i].Attempts++
		cmds[i].SentAt = &now
	}
	if err := q.store.MarkSent(ctx, deviceID, ids, now); err != nil {
		return nil, err
	}
	return cmds, nil
}

// Acknowledge resolves terminal replies against SENT commands. A success
// marks the command ACKNOWLEDGED and settles the sync state; a device-side
// failure reverts it to PENDING for redelivery. Sequence ids that match no
// SENT command are ignored — they are stale acks from an earlier session.
func (q *Queue) Acknowledge(ctx context.Context, deviceID string, results []AckResult) error {
	l := q.deviceLock(deviceID)
	l.Lock()
	defer l.Unlock()

	now := time.Now().UTC()
	for _, res := range results {
		cmd, err := q.store.GetSentBySeq(ctx, deviceID, res.Seq)
		if err != nil {
			return err
		}
		if cmd == nil {
			q.log.Debug("stale ack ignored", zap.String("device", deviceID), zap.Int64("seq", res.Seq))
			continue
		}
		if res.OK {
			if err := q.store.SetStatus(ctx, cmd.ID, StatusAcknowledged); err != nil {
				return err
			}
			q.settle(ctx, *cmd, now)
			continue
		}
		if cmd.Attempts >= q.maxAttempts {
			q.fail(ctx, *cmd, now)
			continue
		}
		if err := q.store.SetStatus(ctx, cmd.ID, StatusPending); err != nil {
			return err
		}
	}
	return nil
}

// SweepExpired revisits SENT commands whose acknowledgement window has
// passed: back to PENDING while attempts remain, FAILED otherwise. Run on
// a schedule by the worker. Returns requeued and failed counts.
func (q *Queue) SweepExpired(ctx context.Context, retryWindow time.Duration) (requeued, failed int, err error) {
	cutoff := time.Now().UTC().Add(-retryWindow)
	expired, err := q.store.ListSentBefore(ctx, cutoff)
	if err != nil {
		return 0, 0, err
	}
	now := time.Now().UTC()
	for _, cmd := range expired {
		l := q.deviceLock(cmd.DeviceID)
		l.Lock()
		// Re-read under the lock; an ack may have landed meanwhile.
		cur, gerr := q.store.GetSentBySeq(ctx, cmd.DeviceID, cmd.Seq)
		if gerr != nil {
			l.Unlock()
			return requeued, failed, gerr
		}
		if cur == nil {
			l.Unlock()
			continue
		}
		if cur.Attempts >= q.maxAttempts {
			q.fail(ctx, *cur, now)
			failed++
		} else if serr := q.store.SetStatus(ctx, cur.ID, StatusPending); serr == nil {
			requeued++
		}
		l.Unlock()
	}
	return requeued, failed, nil
}

// CountPending is used by the management sync-status view.
func (q *Queue) CountPending(ctx context.Context, deviceID string) (int, error) {
	return q.store.CountPending(ctx, deviceID)
}

func (q *Queue) settle(ctx context.Context, cmd Command, at time.Time) {
	var err error
	switch cmd.Kind {
	case KindDeleteUser:
		err = q.states.MarkRemoved(ctx, cmd.DeviceID, cmd.StudentID)
	default:
		err = q.states.MarkSynced(ctx, cmd.DeviceID, cmd.StudentID, at)
	}
	if err != nil {
		q.log.Error("sync state update failed",
			zap.String("device", cmd.DeviceID), zap.String("student", cmd.StudentID), zap.Error(err))
	}
}

func (q *Queue) fail(ctx context.Context, cmd Command, at time.Time) {
	if err := q.store.SetStatus(ctx, cmd.ID, StatusFailed); err != nil {
		q.log.Error("mark failed", zap.String("command", cmd.ID), zap.Error(err))
		return
	}
	q.log.Warn("command failed after max attempts",
		zap.String("device", cmd.DeviceID), zap.Int64("seq", cmd.Seq), zap.String("kind", string(cmd.Kind)))
	if err := q.states.MarkFailed(ctx, cmd.DeviceID, cmd.StudentID, at); err != nil {
		q.log.Error("sync state update failed", zap.String("device", cmd.DeviceID), zap.Error(err))
	}
}
