package session

import (
	"context"
	"sync"
	"time"
)

// Store is the pluggable backing storage for session records.  Keys are
// opaque session ids; values are the Manager's marshaled payload.
type Store interface {
	// Get returns the stored data for id.  A missing or expired entry
	// returns (nil, nil); errors are reserved for storage failures.
	Get(ctx context.Context, id string) ([]byte, error)

	// Set stores data under id with the given time-to-live.
	Set(ctx context.Context, id string, data []byte, ttl time.Duration) error

	// Delete removes the entry for id, if any.
	Delete(ctx context.Context, id string) error
}

// MemStore is an in-process Store, suitable for tests and single-node
// deployments.  Expired entries are dropped lazily on read.
type MemStore struct {
	mu      sync.RWMutex
	entries map[string]memEntry
}

type memEntry struct {
	data     []byte
	deadline time.Time
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{entries: map[string]memEntry{}}
}

func (s *MemStore) Get(ctx context.Context, id string) ([]byte, error) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if time.Now().After(e.deadline) {
		s.mu.Lock()
		delete(s.entries, id)
		s.mu.Unlock()
		return nil, nil
	}
	return e.data, nil
}

func (s *MemStore) Set(ctx context.Context, id string, data []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = memEntry{
		data:     data,
		deadline: time.Now().Add(ttl),
	}
	return nil
}

func (s *MemStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	return nil
}

var _ Store = (*MemStore)(nil)
