// Package dispatcher invokes the destination handler for a routed event,
// guarded by the per-destination circuit breaker.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/omniport-systems/omniport/internal/breaker"
	"github.com/omniport-systems/omniport/internal/logging"
	"github.com/omniport-systems/omniport/internal/metrics"
	"github.com/omniport-systems/omniport/internal/models"
	"github.com/omniport-systems/omniport/internal/repository"
)

// DefaultTimeout bounds a single handler invocation.
const DefaultTimeout = 10 * time.Second

// Handler processes an event at its destination. Implementations must be
// safe for concurrent use; the worker pool invokes them in parallel.
type Handler interface {
	Handle(ctx context.Context, event *models.CanonicalEvent) error
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, event *models.CanonicalEvent) error

func (f HandlerFunc) Handle(ctx context.Context, event *models.CanonicalEvent) error {
	return f(ctx, event)
}

// Dispatcher owns the handler registry and the dispatch path. Dispatch
// errors fall into two classes: *models.ConfigurationError is terminal
// (operator fault, never retried), everything else is retryable through
// the dead-letter queue.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[models.Destination]Handler

	repo     repository.Repository
	breakers *breaker.Registry
	timeout  time.Duration
	logger   *logging.Logger
	now      func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTimeout overrides the per-invocation handler budget.
func WithTimeout(d time.Duration) Option {
	return func(dp *Dispatcher) {
		if d > 0 {
			dp.timeout = d
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(dp *Dispatcher) { dp.now = now }
}

func New(repo repository.Repository, breakers *breaker.Registry, logger *logging.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		handlers: make(map[models.Destination]Handler),
		repo:     repo,
		breakers: breakers,
		timeout:  DefaultTimeout,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register binds a handler to a destination, replacing any previous binding.
func (d *Dispatcher) Register(destination models.Destination, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[destination] = handler
}

// Destinations returns the registered destinations.
func (d *Dispatcher) Destinations() []models.Destination {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]models.Destination, 0, len(d.handlers))
	for dest := range d.handlers {
		out = append(out, dest)
	}
	return out
}

// Dispatch runs the event's destination handler once and settles the
// breaker with the outcome. On success the event is stamped with its
// processing time and updated in the repository. The returned error
// classifies the failure for the caller's retry decision:
//
//   - *models.ConfigurationError: no handler registered, do not retry
//   - models.ErrCircuitOpen: breaker refused the dispatch, retry later
//   - models.ErrHandlerTimeout / *models.HandlerExecutionError: the handler
//     was attempted and failed, retry later
func (d *Dispatcher) Dispatch(ctx context.Context, event *models.CanonicalEvent) error {
	destination := event.Routing.Destination

	d.mu.RLock()
	handler, registered := d.handlers[destination]
	d.mu.RUnlock()

	if !registered {
		metrics.DispatchTotal.WithLabelValues(string(destination), "unroutable").Inc()
		d.logger.Error("dispatch to unregistered destination",
			"destination", destination,
			"event_id", event.ID,
		)
		return &models.ConfigurationError{Destination: destination}
	}

	if !d.breakers.Allow(destination) {
		metrics.DispatchTotal.WithLabelValues(string(destination), "rejected").Inc()
		return fmt.Errorf("dispatch to %s: %w", destination, models.ErrCircuitOpen)
	}

	start := d.now()
	err := d.invoke(ctx, handler, event)
	metrics.DispatchDuration.Observe(d.now().Sub(start).Seconds())

	if err != nil {
		d.breakers.RecordFailure(destination)
		metrics.DispatchTotal.WithLabelValues(string(destination), "failure").Inc()
		d.logger.WithContext(ctx).Warn("dispatch failed",
			"destination", string(destination),
			"event_id", event.ID,
			"error", err,
		)
		if errors.Is(err, models.ErrHandlerTimeout) {
			return err
		}
		return &models.HandlerExecutionError{Destination: destination, Err: err}
	}

	d.breakers.RecordSuccess(destination)
	metrics.DispatchTotal.WithLabelValues(string(destination), "success").Inc()

	processedAt := d.now().UTC()
	event.ProcessedAt = &processedAt
	if err := d.repo.UpdateEvent(ctx, event); err != nil {
		// The handler ran; a bookkeeping failure must not trigger a
		// redelivery.
		d.logger.WithContext(ctx).Error("failed to record processed event",
			"event_id", event.ID,
			"error", err,
		)
	}

	return nil
}

// invoke runs the handler under the dispatch timeout.
func (d *Dispatcher) invoke(ctx context.Context, handler Handler, event *models.CanonicalEvent) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- handler.Handle(ctx, event)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("destination %s: %w", event.Routing.Destination, models.ErrHandlerTimeout)
		}
		return ctx.Err()
	}
}
