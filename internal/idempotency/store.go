// Package idempotency provides the short-lived fingerprint store used to
// collapse duplicate ingestions of the same logical event.
package idempotency

import (
	"context"
	"sync"
	"time"
)

// Store reserves an idempotency fingerprint for an event. Reserve is the
// single critical section on the ingestion path: for a given fingerprint,
// exactly one caller wins the reservation and every other caller within the
// TTL observes the winner's event ID.
type Store interface {
	// Reserve atomically claims fingerprint for eventID. If the fingerprint
	// is already held, the existing event ID is returned with ok=false.
	Reserve(ctx context.Context, fingerprint, eventID string) (existingID string, ok bool, err error)

	// Release drops a reservation early (e.g. when the winning event could
	// not be persisted).
	Release(ctx context.Context, fingerprint string) error

	Close() error
}

type memoryEntry struct {
	eventID   string
	expiresAt time.Time
}

// MemoryStore is a process-local Store with TTL-based expiry.
type MemoryStore struct {
	entries map[string]memoryEntry
	ttl     time.Duration
	mu      sync.Mutex
	stopCh  chan struct{}
}

// NewMemoryStore creates a store whose reservations expire after ttl.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		stopCh:  make(chan struct{}),
	}

	go s.cleanupLoop()

	return s
}

func (s *MemoryStore) Reserve(ctx context.Context, fingerprint, eventID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if entry, exists := s.entries[fingerprint]; exists && entry.expiresAt.After(now) {
		return entry.eventID, false, nil
	}

	s.entries[fingerprint] = memoryEntry{
		eventID:   eventID,
		expiresAt: now.Add(s.ttl),
	}
	return eventID, true, nil
}

func (s *MemoryStore) Release(ctx context.Context, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, fingerprint)
	return nil
}

func (s *MemoryStore) Close() error {
	close(s.stopCh)
	return nil
}

func (s *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCh:
			return
		}
	}
}

func (s *MemoryStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for fp, entry := range s.entries {
		if entry.expiresAt.Before(now) {
			delete(s.entries, fp)
		}
	}
}
