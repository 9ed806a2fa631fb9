package roster

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a map-backed store for dev mode and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	students map[string]Student
	timings  map[string]Timing
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{students: make(map[string]Student), timings: make(map[string]Timing)}
}

// AddStudent seeds a student.
func (s *MemoryStore) AddStudent(st Student) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.students[st.ID] = st
}

// SetTiming seeds a school's timing rules.
func (s *MemoryStore) SetTiming(t Timing) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timings[t.SchoolID] = t
}

func (s *MemoryStore) ActiveStudents(_ context.Context, schoolID string) ([]Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Student
	for _, st := range s.students {
		if st.SchoolID == schoolID && st.Active {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DevicePIN < out[j].DevicePIN })
	return out, nil
}

func (s *MemoryStore) GetStudent(_ context.Context, id string) (*Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.students[id]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (s *MemoryStore) GetTiming(_ context.Context, schoolID string) (Timing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.timings[schoolID]; ok {
		return t, nil
	}
	return Timing{SchoolID: schoolID, OpenTime: 8 * time.Hour, LateThreshold: 15 * time.Minute}, nil
}
