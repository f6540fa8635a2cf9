package gateway

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omniport-systems/omniport/internal/breaker"
	"github.com/omniport-systems/omniport/internal/classifier"
	"github.com/omniport-systems/omniport/internal/dispatcher"
	"github.com/omniport-systems/omniport/internal/dlq"
	"github.com/omniport-systems/omniport/internal/idempotency"
	"github.com/omniport-systems/omniport/internal/logging"
	"github.com/omniport-systems/omniport/internal/metrics"
	"github.com/omniport-systems/omniport/internal/models"
	"github.com/omniport-systems/omniport/internal/normalizer"
	"github.com/omniport-systems/omniport/internal/repository"
)

type testStack struct {
	gw       *Gateway
	repo     *repository.InMemoryRepository
	disp     *dispatcher.Dispatcher
	breakers *breaker.Registry
	dlqProc  *dlq.Processor
}

func newTestStack(t *testing.T, opts ...Option) *testStack {
	t.Helper()

	logger := logging.New(slog.LevelError, "text")
	repo := repository.NewInMemoryRepository()
	store := idempotency.NewMemoryStore(time.Minute)
	t.Cleanup(func() { store.Close() })

	breakers := breaker.NewRegistry(breaker.DefaultConfig())
	disp := dispatcher.New(repo, breakers, logger, dispatcher.WithTimeout(time.Second))
	dlqProc := dlq.NewProcessor(repo, disp, logger)
	norm := normalizer.New(store)

	gw := New(repo, norm, classifier.New(), disp, breakers, dlqProc, metrics.NewAggregator(), logger, opts...)
	t.Cleanup(gw.Close)

	return &testStack{gw: gw, repo: repo, disp: disp, breakers: breakers, dlqProc: dlqProc}
}

func ingressWithHeaders(source models.Source, content string) *models.RawIngress {
	return &models.RawIngress{
		Source:  source,
		Content: content,
		Headers: map[string]string{"user-agent": "test-agent"},
	}
}

func TestIngest_GreenVoiceEventProcessed(t *testing.T) {
	s := newTestStack(t)

	var handled int32
	s.disp.Register(models.DestinationVoice, dispatcher.HandlerFunc(func(ctx context.Context, e *models.CanonicalEvent) error {
		handled++
		return nil
	}))

	in := ingressWithHeaders(models.SourceVoice, "um check my account balance please")
	resp, err := s.gw.Ingest(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, models.LaneGreen, resp.Lane)
	assert.Equal(t, string(models.DestinationVoice), resp.Destination)
	assert.Nil(t, resp.ProcessedAt, "dispatch is asynchronous")

	// Worker pool completes and stamps the event
	require.Eventually(t, func() bool {
		event, err := s.repo.GetEvent(context.Background(), resp.EventID)
		return err == nil && event.ProcessedAt != nil
	}, 2*time.Second, 10*time.Millisecond)

	event, err := s.repo.GetEvent(context.Background(), resp.EventID)
	require.NoError(t, err)
	assert.Equal(t, "check my account balance please", event.Payload.Content)
}

func TestIngest_ValidationError(t *testing.T) {
	s := newTestStack(t)

	_, err := s.gw.Ingest(context.Background(), &models.RawIngress{Source: "smoke-signal", Content: "hi"})

	var vErr *models.ValidationError
	require.True(t, errors.As(err, &vErr))
}

func TestIngest_BlockedEventPersistedNotDispatched(t *testing.T) {
	s := newTestStack(t)

	var handled bool
	for _, dest := range []models.Destination{
		models.DestinationDefault, models.DestinationVoice, models.DestinationWebhook,
		models.DestinationManMode, models.DestinationAudit,
	} {
		s.disp.Register(dest, dispatcher.HandlerFunc(func(ctx context.Context, e *models.CanonicalEvent) error {
			handled = true
			return nil
		}))
	}

	in := ingressWithHeaders(models.SourceText, "'; DROP TABLE users; --")
	_, err := s.gw.Ingest(context.Background(), in)

	var bErr *models.RiskBlockedError
	require.True(t, errors.As(err, &bErr))
	assert.Equal(t, 100, bErr.RiskScore)
	assert.Contains(t, bErr.Flags, "sql_injection")

	// Persisted for audit with the audit-sink destination
	event, getErr := s.repo.GetEvent(context.Background(), bErr.EventID)
	require.NoError(t, getErr)
	assert.Equal(t, models.LaneBlocked, event.Security.Lane)
	assert.Equal(t, models.DestinationAudit, event.Routing.Destination)

	time.Sleep(50 * time.Millisecond)
	assert.False(t, handled, "blocked events must never reach a handler")
}

func TestIngest_DuplicateCollapses(t *testing.T) {
	s := newTestStack(t)
	s.disp.Register(models.DestinationDefault, dispatcher.HandlerFunc(func(ctx context.Context, e *models.CanonicalEvent) error {
		return nil
	}))

	in := ingressWithHeaders(models.SourceText, "hello world")
	in.DeviceID = "dev-1"

	first, err := s.gw.Ingest(context.Background(), in)
	require.NoError(t, err)
	require.False(t, first.Duplicate)

	second, err := s.gw.Ingest(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.EventID, second.EventID)
	assert.Equal(t, first.Lane, second.Lane)
}

func TestIngest_FailedDispatchLandsInDLQ(t *testing.T) {
	s := newTestStack(t)
	s.disp.Register(models.DestinationDefault, dispatcher.HandlerFunc(func(ctx context.Context, e *models.CanonicalEvent) error {
		return errors.New("downstream unavailable")
	}))

	in := ingressWithHeaders(models.SourceText, "hello world")
	resp, err := s.gw.Ingest(context.Background(), in)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		depth, err := s.repo.DLQDepth(context.Background())
		return err == nil && depth == 1
	}, 2*time.Second, 10*time.Millisecond)

	entries, err := s.repo.ListDLQEntries(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, resp.EventID, entries[0].Event.ID)
	assert.Equal(t, models.DestinationDefault, entries[0].Destination)
}

func TestIngest_OpenCircuitRoutesStraightToDLQ(t *testing.T) {
	s := newTestStack(t)

	var handled bool
	s.disp.Register(models.DestinationDefault, dispatcher.HandlerFunc(func(ctx context.Context, e *models.CanonicalEvent) error {
		handled = true
		return nil
	}))

	for i := 0; i < breaker.DefaultConfig().FailureThreshold; i++ {
		s.breakers.RecordFailure(models.DestinationDefault)
	}
	require.Equal(t, breaker.StateOpen, s.breakers.GetState(models.DestinationDefault))

	in := ingressWithHeaders(models.SourceText, "hello world")
	_, err := s.gw.Ingest(context.Background(), in)
	require.NoError(t, err, "an open circuit must not fail ingestion")

	require.Eventually(t, func() bool {
		depth, err := s.repo.DLQDepth(context.Background())
		return err == nil && depth == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, handled)
}

func TestMetrics_Snapshot(t *testing.T) {
	s := newTestStack(t)
	s.disp.Register(models.DestinationDefault, dispatcher.HandlerFunc(func(ctx context.Context, e *models.CanonicalEvent) error {
		return nil
	}))

	in := ingressWithHeaders(models.SourceText, "hello world")
	_, err := s.gw.Ingest(context.Background(), in)
	require.NoError(t, err)

	snapshot := s.gw.Metrics(context.Background())
	assert.Equal(t, int64(1), snapshot.TotalRequests)
	assert.Equal(t, int64(1), snapshot.BySource[models.SourceText])
	assert.Equal(t, int64(1), snapshot.ByLane[models.LaneGreen])
	assert.Equal(t, "100.0%", snapshot.SuccessRate)
}

func TestHealth_DLQBacklogDegrades(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()

	require.Equal(t, metrics.HealthHealthy, s.gw.Health(ctx))

	for i := 0; i < 150; i++ {
		require.NoError(t, s.repo.SaveDLQEntry(ctx, &models.DLQEntry{
			ID:            uuid.New().String(),
			Event:         &models.CanonicalEvent{ID: "omni_backlog"},
			Destination:   models.DestinationDefault,
			LastError:     "downstream unavailable",
			NextAttemptAt: time.Now().Add(time.Hour),
			CreatedAt:     time.Now(),
			Status:        models.DLQStatusPending,
		}))
	}

	assert.Equal(t, metrics.HealthDegraded, s.gw.Health(ctx),
		"a growing retry backlog is not healthy even when ingestion succeeds")
}

func TestProcessDLQ_RedeliversAfterRecovery(t *testing.T) {
	s := newTestStack(t)

	healthy := false
	s.disp.Register(models.DestinationDefault, dispatcher.HandlerFunc(func(ctx context.Context, e *models.CanonicalEvent) error {
		if !healthy {
			return errors.New("downstream unavailable")
		}
		return nil
	}))

	in := ingressWithHeaders(models.SourceText, "hello world")
	resp, err := s.gw.Ingest(context.Background(), in)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		depth, _ := s.repo.DLQDepth(context.Background())
		return depth == 1
	}, 2*time.Second, 10*time.Millisecond)

	healthy = true
	// First retry is due one backoff interval after the failure
	time.Sleep(dlq.DefaultBaseBackoff + 100*time.Millisecond)

	result, err := s.gw.ProcessDLQ(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Delivered)

	event, err := s.repo.GetEvent(context.Background(), resp.EventID)
	require.NoError(t, err)
	assert.NotNil(t, event.ProcessedAt)
}
