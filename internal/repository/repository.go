package repository

import (
	"context"
	"errors"
	"time"

	"github.com/omniport-systems/omniport/internal/models"
)

var (
	ErrEventNotFound    = errors.New("event not found")
	ErrEventExists      = errors.New("event already exists")
	ErrDLQEntryNotFound = errors.New("DLQ entry not found")
)

// Repository persists canonical events and dead-letter entries. The gateway
// core depends only on this interface so it can run against the in-memory
// implementation in tests and Postgres in production.
type Repository interface {
	SaveEvent(ctx context.Context, event *models.CanonicalEvent) error
	UpdateEvent(ctx context.Context, event *models.CanonicalEvent) error
	GetEvent(ctx context.Context, id string) (*models.CanonicalEvent, error)
	ListRecentEvents(ctx context.Context, limit int) ([]*models.CanonicalEvent, error)

	SaveDLQEntry(ctx context.Context, entry *models.DLQEntry) error
	UpdateDLQEntry(ctx context.Context, entry *models.DLQEntry) error
	DeleteDLQEntry(ctx context.Context, id string) error
	ListPendingDLQ(ctx context.Context, due time.Time, limit int) ([]*models.DLQEntry, error)
	ListDLQEntries(ctx context.Context, limit int) ([]*models.DLQEntry, error)
	OldestPendingDLQ(ctx context.Context) (*models.DLQEntry, error)
	DLQDepth(ctx context.Context) (int, error)

	Close()
}
