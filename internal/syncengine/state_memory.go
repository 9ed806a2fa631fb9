package syncengine

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStateStore is a map-backed state store for dev mode and tests.
type MemoryStateStore struct {
	mu     sync.RWMutex
	states map[string]*State // key device|student
}

// NewMemoryStateStore creates an empty in-memory store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[string]*State)}
}

func stateKey(deviceID, studentID string) string { return deviceID + "|" + studentID }

func (s *MemoryStateStore) UpsertPending(_ context.Context, deviceID, studentID, deviceUserID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := at
	s.states[stateKey(deviceID, studentID)] = &State{
		DeviceID:      deviceID,
		StudentID:     studentID,
		DeviceUserID:  deviceUserID,
		Status:        StatePending,
		LastAttemptAt: &t,
	}
	return nil
}

// Seed inserts a state row as-is; test helper.
func (s *MemoryStateStore) Seed(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := st
	s.states[stateKey(st.DeviceID, st.StudentID)] = &cp
}

func (s *MemoryStateStore) ListByDevice(_ context.Context, deviceID string) ([]State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []State
	for _, st := range s.states {
		if st.DeviceID == deviceID {
			out = append(out, *st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out, nil
}

func (s *MemoryStateStore) ResolveDeviceUser(_ context.Context, deviceID, deviceUserID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, st := range s.states {
		if st.DeviceID == deviceID && st.DeviceUserID == deviceUserID {
			return st.StudentID, nil
		}
	}
	return "", nil
}

func (s *MemoryStateStore) MarkSynced(_ context.Context, deviceID, studentID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[stateKey(deviceID, studentID)]; ok {
		t := at
		st.Status = StateSynced
		st.LastAttemptAt = &t
		st.LastSuccessAt = &t
	}
	return nil
}

func (s *MemoryStateStore) MarkRemoved(_ context.Context, deviceID, studentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, stateKey(deviceID, studentID))
	return nil
}

func (s *MemoryStateStore) MarkFailed(_ context.Context, deviceID, studentID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[stateKey(deviceID, studentID)]; ok {
		t := at
		st.Status = StateFailed
		st.LastAttemptAt = &t
	}
	return nil
}
