package ingest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLogStore is a map-backed log store for dev mode and tests.
type MemoryLogStore struct {
	mu   sync.RWMutex
	byID map[string]*Log
	keys map[string]bool // dedup index
}

// NewMemoryLogStore creates an empty in-memory store.
func NewMemoryLogStore() *MemoryLogStore {
	return &MemoryLogStore{byID: make(map[string]*Log), keys: make(map[string]bool)}
}

func dedupKey(studentID, deviceID string, at time.Time) string {
	return studentID + "|" + deviceID + "|" + at.UTC().Format(time.RFC3339)
}

func (s *MemoryLogStore) Insert(_ context.Context, l Log) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := dedupKey(l.StudentID, l.DeviceID, l.PunchedAt)
	if s.keys[key] {
		return false, nil
	}
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	l.CreatedAt = time.Now().UTC()
	cp := l
	s.byID[l.ID] = &cp
	s.keys[key] = true
	return true, nil
}

func (s *MemoryLogStore) ListDay(_ context.Context, studentID, deviceID string, day time.Time) ([]Log, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.Add(24 * time.Hour)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Log
	for _, l := range s.byID {
		if l.StudentID == studentID && l.DeviceID == deviceID &&
			!l.PunchedAt.Before(start) && l.PunchedAt.Before(end) {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PunchedAt.Before(out[j].PunchedAt) })
	return out, nil
}

func (s *MemoryLogStore) SetDirection(_ context.Context, id string, dir Direction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.byID[id]; ok {
		l.Direction = dir
	}
	return nil
}

// All returns every log; test helper.
func (s *MemoryLogStore) All() []Log {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Log
	for _, l := range s.byID {
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PunchedAt.Before(out[j].PunchedAt) })
	return out
}
