package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/omniport-systems/omniport/internal/models"
)

// InMemoryRepository is the test and single-node development backend.
type InMemoryRepository struct {
	events map[string]*models.CanonicalEvent
	dlq    map[string]*models.DLQEntry
	order  []string // event ids in insertion order
	mu     sync.RWMutex
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		events: make(map[string]*models.CanonicalEvent),
		dlq:    make(map[string]*models.DLQEntry),
	}
}

func (r *InMemoryRepository) SaveEvent(ctx context.Context, event *models.CanonicalEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.events[event.ID]; exists {
		return ErrEventExists
	}
	r.events[event.ID] = event
	r.order = append(r.order, event.ID)
	return nil
}

func (r *InMemoryRepository) UpdateEvent(ctx context.Context, event *models.CanonicalEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.events[event.ID]; !exists {
		return ErrEventNotFound
	}
	r.events[event.ID] = event
	return nil
}

func (r *InMemoryRepository) GetEvent(ctx context.Context, id string) (*models.CanonicalEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	event, exists := r.events[id]
	if !exists {
		return nil, ErrEventNotFound
	}
	return event, nil
}

func (r *InMemoryRepository) ListRecentEvents(ctx context.Context, limit int) ([]*models.CanonicalEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 || limit > len(r.order) {
		limit = len(r.order)
	}

	events := make([]*models.CanonicalEvent, 0, limit)
	for i := len(r.order) - 1; i >= 0 && len(events) < limit; i-- {
		events = append(events, r.events[r.order[i]])
	}
	return events, nil
}

func (r *InMemoryRepository) SaveDLQEntry(ctx context.Context, entry *models.DLQEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.dlq[entry.ID] = entry
	return nil
}

func (r *InMemoryRepository) UpdateDLQEntry(ctx context.Context, entry *models.DLQEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.dlq[entry.ID]; !exists {
		return ErrDLQEntryNotFound
	}
	r.dlq[entry.ID] = entry
	return nil
}

func (r *InMemoryRepository) DeleteDLQEntry(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.dlq[id]; !exists {
		return ErrDLQEntryNotFound
	}
	delete(r.dlq, id)
	return nil
}

func (r *InMemoryRepository) ListPendingDLQ(ctx context.Context, due time.Time, limit int) ([]*models.DLQEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var entries []*models.DLQEntry
	for _, entry := range r.dlq {
		if entry.Status == models.DLQStatusPending && !entry.NextAttemptAt.After(due) {
			entries = append(entries, entry)
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].NextAttemptAt.Before(entries[j].NextAttemptAt)
	})

	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (r *InMemoryRepository) ListDLQEntries(ctx context.Context, limit int) ([]*models.DLQEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]*models.DLQEntry, 0, len(r.dlq))
	for _, entry := range r.dlq {
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})

	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (r *InMemoryRepository) OldestPendingDLQ(ctx context.Context) (*models.DLQEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var oldest *models.DLQEntry
	for _, entry := range r.dlq {
		if entry.Status != models.DLQStatusPending {
			continue
		}
		if oldest == nil || entry.CreatedAt.Before(oldest.CreatedAt) {
			oldest = entry
		}
	}
	if oldest == nil {
		return nil, ErrDLQEntryNotFound
	}
	return oldest, nil
}

func (r *InMemoryRepository) DLQDepth(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, entry := range r.dlq {
		if entry.Status == models.DLQStatusPending {
			count++
		}
	}
	return count, nil
}

func (r *InMemoryRepository) Close() {}
