package syncengine

import (
	"context"
	"time"
)

// StatusSummary aggregates a device's sync states.
type StatusSummary struct {
	Total   int `json:"total"`
	Synced  int `json:"synced"`
	Pending int `json:"pending"`
	Failed  int `json:"failed"`
}

// StudentState is the per-student line of the sync status view.
type StudentState struct {
	StudentID       string      `json:"id"`
	SyncStatus      StateStatus `json:"syncStatus"`
	LastSyncSuccess *time.Time  `json:"lastSyncSuccess,omitempty"`
}

// SyncStatus is the management-facing sync report for one device.
type SyncStatus struct {
	Summary             StatusSummary  `json:"summary"`
	SyncHealthPercent   float64        `json:"syncHealthPercentage"`
	Students            []StudentState `json:"students"`
	PendingCommandCount int            `json:"pendingCommandCount"`
}

// Status assembles the sync report: state counts, health against the
// current desired roster, and the outstanding command backlog.
func (e *Engine) Status(ctx context.Context, deviceID string) (SyncStatus, error) {
	d, err := e.devices.Get(ctx, deviceID)
	if err != nil {
		return SyncStatus{}, err
	}

	states, err := e.states.ListByDevice(ctx, deviceID)
	if err != nil {
		return SyncStatus{}, err
	}
	students, err := e.roster.ActiveStudents(ctx, d.SchoolID)
	if err != nil {
		return SyncStatus{}, err
	}
	pending, err := e.outbox.CountPending(ctx, deviceID)
	if err != nil {
		return SyncStatus{}, err
	}

	desired := make(map[string]struct{}, len(students))
	for _, st := range students {
		desired[st.ID] = struct{}{}
	}

	out := SyncStatus{PendingCommandCount: pending, Students: make([]StudentState, 0, len(states))}
	syncedAndDesired := 0
	for _, st := range states {
		out.Summary.Total++
		switch st.Status {
		case StateSynced:
			out.Summary.Synced++
			if _, ok := desired[st.StudentID]; ok {
				syncedAndDesired++
			}
		case StateFailed:
			out.Summary.Failed++
		default:
			out.Summary.Pending++
		}
		out.Students = append(out.Students, StudentState{
			StudentID:       st.StudentID,
			SyncStatus:      st.Status,
			LastSyncSuccess: st.LastSuccessAt,
		})
	}
	out.SyncHealthPercent = healthPercentage(syncedAndDesired, len(desired))
	return out, nil
}
