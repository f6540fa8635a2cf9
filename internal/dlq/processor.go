// Package dlq implements the dead-letter queue: failed dispatches are
// parked with exponential backoff and redelivered until they succeed or
// exhaust their attempt budget.
package dlq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/omniport-systems/omniport/internal/dispatcher"
	"github.com/omniport-systems/omniport/internal/logging"
	"github.com/omniport-systems/omniport/internal/metrics"
	"github.com/omniport-systems/omniport/internal/models"
	"github.com/omniport-systems/omniport/internal/repository"
)

const (
	// DefaultMaxAttempts is the retry budget before an entry is marked
	// exhausted.
	DefaultMaxAttempts = 8

	// DefaultBaseBackoff seeds the exponential backoff schedule.
	DefaultBaseBackoff = 1 * time.Second

	// MaxBackoff caps the backoff schedule.
	MaxBackoff = 5 * time.Minute

	// DefaultMaxPending caps how many pending entries the queue holds.
	// Enqueueing past the cap evicts the oldest pending entry.
	DefaultMaxPending = 10000

	// defaultBatchSize bounds how many due entries one Process pass takes.
	defaultBatchSize = 100
)

// Result summarizes one processing pass.
type Result struct {
	Processed int `json:"processed"`
	Delivered int `json:"delivered"`
}

// Processor owns DLQ entry lifecycle: enqueue on dispatch failure,
// periodic redelivery of due entries, exhaustion when the budget runs out.
type Processor struct {
	repo        repository.Repository
	dispatch    *dispatcher.Dispatcher
	mirror      *JetStreamMirror
	maxAttempts int
	maxPending  int
	baseBackoff time.Duration
	batchSize   int
	logger      *logging.Logger
	now         func() time.Time
}

// Option configures a Processor.
type Option func(*Processor)

// WithMaxAttempts overrides the retry budget.
func WithMaxAttempts(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

// WithMaxPending overrides the pending-entry cap.
func WithMaxPending(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.maxPending = n
		}
	}
}

// WithBaseBackoff overrides the backoff seed.
func WithBaseBackoff(d time.Duration) Option {
	return func(p *Processor) {
		if d > 0 {
			p.baseBackoff = d
		}
	}
}

// WithMirror attaches a JetStream mirror that receives a copy of every
// enqueued entry for off-box inspection.
func WithMirror(m *JetStreamMirror) Option {
	return func(p *Processor) { p.mirror = m }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

func NewProcessor(repo repository.Repository, dispatch *dispatcher.Dispatcher, logger *logging.Logger, opts ...Option) *Processor {
	p := &Processor{
		repo:        repo,
		dispatch:    dispatch,
		maxAttempts: DefaultMaxAttempts,
		maxPending:  DefaultMaxPending,
		baseBackoff: DefaultBaseBackoff,
		batchSize:   defaultBatchSize,
		logger:      logger,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Enqueue parks a failed dispatch for later redelivery. The first retry is
// scheduled one base-backoff interval out.
func (p *Processor) Enqueue(ctx context.Context, event *models.CanonicalEvent, destination models.Destination, cause error) (*models.DLQEntry, error) {
	now := p.now().UTC()

	entry := &models.DLQEntry{
		ID:            uuid.New().String(),
		Event:         event,
		Destination:   destination,
		Attempts:      0,
		LastError:     cause.Error(),
		NextAttemptAt: now.Add(p.backoff(0)),
		CreatedAt:     now,
		Status:        models.DLQStatusPending,
	}

	if err := p.repo.SaveDLQEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("save dlq entry: %w", err)
	}

	p.mirror.Publish(ctx, entry)
	p.evictOverCapacity(ctx)
	p.refreshDepth(ctx)

	p.logger.WithContext(ctx).Info("event parked in dead-letter queue",
		"entry_id", entry.ID,
		"event_id", event.ID,
		"destination", string(destination),
		"error", cause,
	)

	return entry, nil
}

// Process redelivers every due pending entry once. Delivered entries are
// removed; failed entries are rescheduled with exponential backoff or marked
// exhausted once the attempt budget is spent. An open destination circuit
// defers the entry without consuming an attempt.
func (p *Processor) Process(ctx context.Context) (Result, error) {
	now := p.now().UTC()

	entries, err := p.repo.ListPendingDLQ(ctx, now, p.batchSize)
	if err != nil {
		return Result{}, fmt.Errorf("list pending dlq entries: %w", err)
	}

	var result Result
	for _, entry := range entries {
		result.Processed++
		if p.retry(ctx, entry) {
			result.Delivered++
		}
	}

	p.refreshDepth(ctx)
	return result, nil
}

// retry attempts one redelivery and reports whether it succeeded.
func (p *Processor) retry(ctx context.Context, entry *models.DLQEntry) bool {
	err := p.dispatch.Dispatch(ctx, entry.Event)
	if err == nil {
		if delErr := p.repo.DeleteDLQEntry(ctx, entry.ID); delErr != nil {
			p.logger.Error("failed to remove delivered dlq entry",
				"entry_id", entry.ID,
				"error", delErr,
			)
		}
		metrics.DLQRetries.WithLabelValues("delivered").Inc()
		p.logger.Info("dead-letter entry delivered",
			"entry_id", entry.ID,
			"event_id", entry.Event.ID,
			"attempts", entry.Attempts,
		)
		return true
	}

	now := p.now().UTC()

	if errors.Is(err, models.ErrCircuitOpen) {
		// Destination is still down; defer without spending an attempt.
		entry.LastError = err.Error()
		entry.NextAttemptAt = now.Add(p.backoff(entry.Attempts))
		p.updateEntry(ctx, entry)
		metrics.DLQRetries.WithLabelValues("deferred").Inc()
		return false
	}

	var cfgErr *models.ConfigurationError
	if errors.As(err, &cfgErr) {
		// The handler was unregistered out from under the entry. Retrying
		// cannot help; park it as exhausted for operator attention.
		entry.LastError = err.Error()
		entry.Status = models.DLQStatusExhausted
		p.updateEntry(ctx, entry)
		metrics.DLQExhausted.Inc()
		p.logger.Error("dead-letter entry unroutable",
			"entry_id", entry.ID,
			"destination", string(entry.Destination),
		)
		return false
	}

	entry.Attempts++
	entry.LastError = err.Error()

	if entry.Attempts >= p.maxAttempts {
		entry.Status = models.DLQStatusExhausted
		p.updateEntry(ctx, entry)
		metrics.DLQRetries.WithLabelValues("exhausted").Inc()
		metrics.DLQExhausted.Inc()
		p.logger.Error("dead-letter entry exhausted",
			"entry_id", entry.ID,
			"event_id", entry.Event.ID,
			"attempts", entry.Attempts,
			"last_error", entry.LastError,
		)
		return false
	}

	entry.NextAttemptAt = now.Add(p.backoff(entry.Attempts))
	p.updateEntry(ctx, entry)
	metrics.DLQRetries.WithLabelValues("failed").Inc()
	return false
}

// backoff computes the delay before attempt n+1: base·2^n capped at
// MaxBackoff.
func (p *Processor) backoff(attempts int) time.Duration {
	d := p.baseBackoff
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= MaxBackoff {
			return MaxBackoff
		}
	}
	if d > MaxBackoff {
		return MaxBackoff
	}
	return d
}

func (p *Processor) updateEntry(ctx context.Context, entry *models.DLQEntry) {
	if err := p.repo.UpdateDLQEntry(ctx, entry); err != nil {
		p.logger.Error("failed to update dlq entry",
			"entry_id", entry.ID,
			"error", err,
		)
	}
}

// evictOverCapacity drops the oldest pending entries until the queue is back
// under the cap, so a long destination outage cannot grow the queue without
// bound.
func (p *Processor) evictOverCapacity(ctx context.Context) {
	for {
		depth, err := p.repo.DLQDepth(ctx)
		if err != nil || depth <= p.maxPending {
			return
		}

		oldest, err := p.repo.OldestPendingDLQ(ctx)
		if err != nil {
			return
		}
		if err := p.repo.DeleteDLQEntry(ctx, oldest.ID); err != nil {
			p.logger.Error("failed to evict dlq entry",
				"entry_id", oldest.ID,
				"error", err,
			)
			return
		}

		metrics.DLQEvictions.Inc()
		p.logger.Warn("dead-letter queue over capacity, evicted oldest entry",
			"entry_id", oldest.ID,
			"event_id", oldest.Event.ID,
			"depth", depth,
			"max_pending", p.maxPending,
		)
	}
}

func (p *Processor) refreshDepth(ctx context.Context) {
	depth, err := p.repo.DLQDepth(ctx)
	if err != nil {
		return
	}
	metrics.DLQDepth.Set(float64(depth))
}
