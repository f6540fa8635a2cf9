// Package gateway wires the ingestion pipeline together: normalize,
// classify, route, persist, dispatch. One Gateway instance owns the worker
// pool and all pipeline state; nothing in this package is global.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/omniport-systems/omniport/internal/audit"
	"github.com/omniport-systems/omniport/internal/breaker"
	"github.com/omniport-systems/omniport/internal/classifier"
	"github.com/omniport-systems/omniport/internal/dispatcher"
	"github.com/omniport-systems/omniport/internal/dlq"
	"github.com/omniport-systems/omniport/internal/logging"
	"github.com/omniport-systems/omniport/internal/metrics"
	"github.com/omniport-systems/omniport/internal/models"
	"github.com/omniport-systems/omniport/internal/normalizer"
	"github.com/omniport-systems/omniport/internal/repository"
	"github.com/omniport-systems/omniport/internal/router"
)

const (
	// DefaultWorkers is the dispatch worker pool size.
	DefaultWorkers = 8

	// DefaultQueueSize bounds the dispatch queue. A full queue falls back
	// to the dead-letter queue rather than blocking ingestion.
	DefaultQueueSize = 256
)

// Gateway is the ingress pipeline service object. Construct with New,
// register destination handlers, then serve Ingest calls. Close drains the
// worker pool.
type Gateway struct {
	repo       repository.Repository
	normalizer *normalizer.Normalizer
	classifier *classifier.Classifier
	dispatcher *dispatcher.Dispatcher
	breakers   *breaker.Registry
	dlq        *dlq.Processor
	aggregator *metrics.Aggregator
	archive    *audit.Archive
	logger     *logging.Logger

	queue     chan *models.CanonicalEvent
	workers   int
	wg        sync.WaitGroup
	closeOnce sync.Once
	now       func() time.Time
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithWorkers sets the dispatch worker pool size.
func WithWorkers(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.workers = n
		}
	}
}

// WithQueueSize sets the dispatch queue capacity.
func WithQueueSize(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.queue = make(chan *models.CanonicalEvent, n)
		}
	}
}

// WithArchive attaches the blocked-event audit archive.
func WithArchive(a *audit.Archive) Option {
	return func(g *Gateway) { g.archive = a }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

func New(
	repo repository.Repository,
	norm *normalizer.Normalizer,
	cls *classifier.Classifier,
	disp *dispatcher.Dispatcher,
	breakers *breaker.Registry,
	dlqProc *dlq.Processor,
	aggregator *metrics.Aggregator,
	logger *logging.Logger,
	opts ...Option,
) *Gateway {
	g := &Gateway{
		repo:       repo,
		normalizer: norm,
		classifier: cls,
		dispatcher: disp,
		breakers:   breakers,
		dlq:        dlqProc,
		aggregator: aggregator,
		logger:     logger,
		queue:      make(chan *models.CanonicalEvent, DefaultQueueSize),
		workers:    DefaultWorkers,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}

	for i := 0; i < g.workers; i++ {
		g.wg.Add(1)
		go g.worker()
	}

	return g
}

// Ingest runs the synchronous half of the pipeline: validate, normalize,
// classify, route, persist. Dispatch happens asynchronously on the worker
// pool; the response carries a null ProcessedAt for accepted events.
//
// Error contract: *models.ValidationError for malformed input,
// *models.RiskBlockedError when the event lands in the BLOCKED lane (the
// event is persisted for audit first), anything else is an internal fault.
func (g *Gateway) Ingest(ctx context.Context, in *models.RawIngress) (*models.IngestResponse, error) {
	start := g.now()
	log := g.logger.WithContext(ctx)

	result, err := g.normalizer.Normalize(ctx, in)
	if err != nil {
		var vErr *models.ValidationError
		if errors.As(err, &vErr) {
			metrics.ValidationErrors.Inc()
		}
		return nil, err
	}

	if result.Duplicate {
		metrics.DuplicatesCollapsed.Inc()
		return g.duplicateResponse(ctx, result.Event.ID, start), nil
	}

	event := result.Event
	g.classifier.Classify(event)
	router.Apply(event)

	if err := g.repo.SaveEvent(ctx, event); err != nil {
		// Give the fingerprint back so a retry of the same input is not
		// swallowed as a duplicate.
		g.normalizer.Release(ctx, event.ID)
		return nil, fmt.Errorf("persist event: %w", err)
	}

	latency := g.now().Sub(start)

	if event.Security.Lane == models.LaneBlocked {
		g.aggregator.RecordRequest(event.Source, event.Security.Lane, latency, false)
		g.archive.Record(ctx, event)
		log.Warn("event blocked by risk policy",
			"event_id", event.ID,
			"risk_score", event.Security.RiskScore,
			"flags", event.Security.Flags,
		)
		return nil, &models.RiskBlockedError{
			EventID:   event.ID,
			RiskScore: event.Security.RiskScore,
			Flags:     event.Security.Flags,
		}
	}

	g.enqueue(ctx, event)
	g.aggregator.RecordRequest(event.Source, event.Security.Lane, latency, true)

	log.Info("event accepted",
		"event_id", event.ID,
		"source", string(event.Source),
		"lane", string(event.Security.Lane),
		"destination", string(event.Routing.Destination),
		"risk_score", event.Security.RiskScore,
	)

	return &models.IngestResponse{
		EventID:     event.ID,
		TraceID:     event.TraceID,
		Lane:        event.Security.Lane,
		RiskScore:   event.Security.RiskScore,
		Flags:       event.Security.Flags,
		Destination: string(event.Routing.Destination),
		ProcessedAt: nil,
		DurationMs:  latency.Milliseconds(),
	}, nil
}

// enqueue hands the event to the worker pool. When the queue is full the
// event is parked in the DLQ instead so it is never dropped.
func (g *Gateway) enqueue(ctx context.Context, event *models.CanonicalEvent) {
	select {
	case g.queue <- event:
		metrics.QueueDepth.Set(float64(len(g.queue)))
	default:
		g.logger.Warn("dispatch queue full, parking event in dlq", "event_id", event.ID)
		if _, err := g.dlq.Enqueue(ctx, event, event.Routing.Destination, errors.New("dispatch queue full")); err != nil {
			g.logger.Error("failed to park overflow event", "event_id", event.ID, "error", err)
		}
	}
}

// worker drains the dispatch queue. Retryable failures go to the DLQ;
// configuration errors are terminal and already logged by the dispatcher.
func (g *Gateway) worker() {
	defer g.wg.Done()

	for event := range g.queue {
		metrics.QueueDepth.Set(float64(len(g.queue)))

		ctx := context.Background()
		err := g.dispatcher.Dispatch(ctx, event)
		if err == nil {
			continue
		}

		var cfgErr *models.ConfigurationError
		if errors.As(err, &cfgErr) {
			continue
		}

		if _, dlqErr := g.dlq.Enqueue(ctx, event, event.Routing.Destination, err); dlqErr != nil {
			g.logger.Error("failed to park failed dispatch",
				"event_id", event.ID,
				"error", dlqErr,
			)
		}
	}
}

// duplicateResponse builds the response for a collapsed ingestion from the
// already-persisted event. When the winning ingestion has not persisted yet,
// only the event ID is known.
func (g *Gateway) duplicateResponse(ctx context.Context, eventID string, start time.Time) *models.IngestResponse {
	resp := &models.IngestResponse{
		EventID:    eventID,
		Duplicate:  true,
		DurationMs: g.now().Sub(start).Milliseconds(),
	}

	event, err := g.repo.GetEvent(ctx, eventID)
	if err != nil {
		return resp
	}

	resp.TraceID = event.TraceID
	resp.Lane = event.Security.Lane
	resp.RiskScore = event.Security.RiskScore
	resp.Flags = event.Security.Flags
	resp.Destination = string(event.Routing.Destination)
	resp.ProcessedAt = event.ProcessedAt
	return resp
}

// ProcessDLQ runs one redelivery pass immediately, outside the scheduler
// cadence. Exposed for the CLI and admin surface.
func (g *Gateway) ProcessDLQ(ctx context.Context) (dlq.Result, error) {
	return g.dlq.Process(ctx)
}

// Metrics assembles the observability snapshot from the aggregator, the
// repository's DLQ depth, and the breaker registry.
func (g *Gateway) Metrics(ctx context.Context) metrics.Snapshot {
	depth, err := g.repo.DLQDepth(ctx)
	if err != nil {
		g.logger.Error("failed to read dlq depth", "error", err)
		depth = 0
	}
	return g.aggregator.GetMetrics(depth, g.breakers.Snapshot())
}

// ResetMetrics clears the aggregator counters.
func (g *Gateway) ResetMetrics() {
	g.aggregator.Reset()
}

// Health returns the coarse operational verdict. The DLQ backlog counts
// against it: a gateway accepting everything while retries pile up is not
// healthy.
func (g *Gateway) Health(ctx context.Context) metrics.HealthStatus {
	depth, err := g.repo.DLQDepth(ctx)
	if err != nil {
		g.logger.Error("failed to read dlq depth", "error", err)
		depth = 0
	}
	return g.aggregator.Health(depth)
}

// Dispatcher exposes the handler registry for destination registration.
func (g *Gateway) Dispatcher() *dispatcher.Dispatcher {
	return g.dispatcher
}

// Breakers exposes the circuit registry for the admin surface.
func (g *Gateway) Breakers() *breaker.Registry {
	return g.breakers
}

// Close stops accepting queued work and waits for in-flight dispatches to
// drain. Ingest must not be called after Close.
func (g *Gateway) Close() {
	g.closeOnce.Do(func() {
		close(g.queue)
		g.wg.Wait()
	})
}
