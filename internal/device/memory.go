package device

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a map-backed store for dev mode and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	bySer  map[string]*Device
	counts map[string][2]int // device id -> total, synced
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{bySer: make(map[string]*Device), counts: make(map[string][2]int)}
}

func (s *MemoryStore) GetBySerial(_ context.Context, serial string) (*Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.bySer[serial]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (s *MemoryStore) GetByID(_ context.Context, id string) (*Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.bySer {
		if d.ID == id {
			cp := *d
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) Insert(_ context.Context, d Device) (Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	d.CreatedAt = time.Now().UTC()
	cp := d
	s.bySer[d.Serial] = &cp
	return d, nil
}

func (s *MemoryStore) Deactivate(_ context.Context, serial string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.bySer[serial]
	if !ok {
		return ErrUnknown
	}
	d.Active = false
	return nil
}

func (s *MemoryStore) TouchLastSeen(_ context.Context, serial string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.bySer[serial]; ok {
		d.LastSeenAt = &at
	}
	return nil
}

func (s *MemoryStore) ListBySchool(_ context.Context, schoolID string) ([]Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Summary
	for _, d := range s.bySer {
		if d.SchoolID != schoolID {
			continue
		}
		c := s.counts[d.ID]
		out = append(out, Summary{Device: *d, TotalUsers: c[0], SyncedUsers: c[1]})
	}
	return out, nil
}

func (s *MemoryStore) ListSeenBefore(_ context.Context, cutoff time.Time) ([]Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Device
	for _, d := range s.bySer {
		if !d.Active {
			continue
		}
		if d.LastSeenAt == nil || d.LastSeenAt.Before(cutoff) {
			out = append(out, *d)
		}
	}
	return out, nil
}

// SetCounts seeds roster counts; in Postgres these come from the sync
// state table.
func (s *MemoryStore) SetCounts(deviceID string, total, synced int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[deviceID] = [2]int{total, synced}
}
