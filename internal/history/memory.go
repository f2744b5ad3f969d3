package history

import (
	"context"
	"sync"
)

// DefaultCapacity is the number of records kept when none is configured.
const DefaultCapacity = 500

// MemoryStore keeps the most recent records in a ring buffer.
type MemoryStore struct {
	mu    sync.RWMutex
	ring  []Record
	next  int
	count int
}

// NewMemoryStore creates a store holding at most capacity records.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryStore{ring: make([]Record, capacity)}
}

// Append stores rec, evicting the oldest record when full.
func (s *MemoryStore) Append(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ring[s.next] = rec
	s.next = (s.next + 1) % len(s.ring)
	if s.count < len(s.ring) {
		s.count++
	}
	return nil
}

// Get returns the newest record for requestID, or nil.
func (s *MemoryStore) Get(ctx context.Context, requestID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := 0; i < s.count; i++ {
		rec := s.at(i)
		if rec.RequestID == requestID {
			out := rec
			return &out, nil
		}
	}
	return nil, nil
}

// List returns records newest first.
func (s *MemoryStore) List(ctx context.Context, limit, offset int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if offset < 0 {
		offset = 0
	}
	if offset >= s.count {
		return nil, nil
	}
	end := s.count
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]Record, 0, end-offset)
	for i := offset; i < end; i++ {
		out = append(out, s.at(i))
	}
	return out, nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// at returns the i-th newest record. Callers hold the lock.
func (s *MemoryStore) at(i int) Record {
	idx := (s.next - 1 - i + 2*len(s.ring)) % len(s.ring)
	return s.ring[idx]
}
