package command

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a map-backed store for dev mode and tests.
type MemoryStore struct {
	mu   sync.RWMutex
	byID map[string]*Command
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]*Command)}
}

func (s *MemoryStore) NextSeq(_ context.Context, deviceID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var max int64
	for _, c := range s.byID {
		if c.DeviceID == deviceID && c.Seq > max {
			max = c.Seq
		}
	}
	return max + 1, nil
}

func (s *MemoryStore) Insert(_ context.Context, c Command) (Command, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.CreatedAt = time.Now().UTC()
	cp := c
	s.byID[c.ID] = &cp
	return c, nil
}

func (s *MemoryStore) HasOpen(_ context.Context, deviceID, studentID string, kind Kind) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.byID {
		if c.DeviceID == deviceID && c.StudentID == studentID && c.Kind == kind &&
			(c.Status == StatusPending || c.Status == StatusSent) {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) ListPending(_ context.Context, deviceID string) ([]Command, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Command
	for _, c := range s.byID {
		if c.DeviceID == deviceID && c.Status == StatusPending {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (s *MemoryStore) MarkSent(_ context.Context, deviceID string, ids []string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if c, ok := s.byID[id]; ok && c.DeviceID == deviceID {
			c.Status = StatusSent
			c.Attempts++
			t := at
			c.SentAt = &t
		}
	}
	return nil
}

func (s *MemoryStore) GetSentBySeq(_ context.Context, deviceID string, seq int64) (*Command, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.byID {
		if c.DeviceID == deviceID && c.Seq == seq && c.Status == StatusSent {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) SetStatus(_ context.Context, id string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.byID[id]; ok {
		c.Status = status
	}
	return nil
}

func (s *MemoryStore) ListSentBefore(_ context.Context, cutoff time.Time) ([]Command, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Command
	for _, c := range s.byID {
		if c.Status == StatusSent && c.SentAt != nil && c.SentAt.Before(cutoff) {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DeviceID != out[j].DeviceID {
			return out[i].DeviceID < out[j].DeviceID
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

func (s *MemoryStore) CountPending(_ context.Context, deviceID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, c := range s.byID {
		if c.DeviceID == deviceID && (c.Status == StatusPending || c.Status == StatusSent) {
			n++
		}
	}
	return n, nil
}

// Get returns a command by id; test helper.
func (s *MemoryStore) Get(id string) (Command, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byID[id]
	if !ok {
		return Command{}, false
	}
	return *c, true
}
