package dispatcher

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omniport-systems/omniport/internal/breaker"
	"github.com/omniport-systems/omniport/internal/logging"
	"github.com/omniport-systems/omniport/internal/models"
	"github.com/omniport-systems/omniport/internal/repository"
)

func testLogger() *logging.Logger {
	return logging.New(slog.LevelError, "text")
}

func testEvent(destination models.Destination) *models.CanonicalEvent {
	return &models.CanonicalEvent{
		ID:      "omni_testevnt",
		TraceID: "trace-1",
		Source:  models.SourceText,
		Payload: models.Payload{Type: models.PayloadMessage, Content: "hello"},
		Security: models.Security{
			Lane:      models.LaneGreen,
			RiskScore: 0,
		},
		Routing: models.Routing{Destination: destination, Priority: 5, TTLMs: 300000},
	}
}

func newTestDispatcher(opts ...Option) (*Dispatcher, *repository.InMemoryRepository, *breaker.Registry) {
	repo := repository.NewInMemoryRepository()
	breakers := breaker.NewRegistry(breaker.DefaultConfig())
	d := New(repo, breakers, testLogger(), opts...)
	return d, repo, breakers
}

func TestDispatch_Success(t *testing.T) {
	d, repo, breakers := newTestDispatcher()
	event := testEvent(models.DestinationDefault)
	require.NoError(t, repo.SaveEvent(context.Background(), event))

	var handled bool
	d.Register(models.DestinationDefault, HandlerFunc(func(ctx context.Context, e *models.CanonicalEvent) error {
		handled = true
		return nil
	}))

	err := d.Dispatch(context.Background(), event)

	require.NoError(t, err)
	assert.True(t, handled)
	require.NotNil(t, event.ProcessedAt)
	assert.Equal(t, breaker.StateClosed, breakers.GetState(models.DestinationDefault))

	stored, err := repo.GetEvent(context.Background(), event.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.ProcessedAt)
}

func TestDispatch_UnregisteredDestination(t *testing.T) {
	d, _, _ := newTestDispatcher()
	event := testEvent(models.DestinationManMode)

	err := d.Dispatch(context.Background(), event)

	var cfgErr *models.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, models.DestinationManMode, cfgErr.Destination)
	assert.Nil(t, event.ProcessedAt)
}

func TestDispatch_HandlerFailure(t *testing.T) {
	d, _, _ := newTestDispatcher()
	event := testEvent(models.DestinationDefault)

	handlerErr := errors.New("downstream unavailable")
	d.Register(models.DestinationDefault, HandlerFunc(func(ctx context.Context, e *models.CanonicalEvent) error {
		return handlerErr
	}))

	err := d.Dispatch(context.Background(), event)

	var execErr *models.HandlerExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, models.DestinationDefault, execErr.Destination)
	assert.True(t, errors.Is(err, handlerErr))
	assert.Nil(t, event.ProcessedAt)
}

func TestDispatch_Timeout(t *testing.T) {
	d, _, _ := newTestDispatcher(WithTimeout(30 * time.Millisecond))
	event := testEvent(models.DestinationDefault)

	d.Register(models.DestinationDefault, HandlerFunc(func(ctx context.Context, e *models.CanonicalEvent) error {
		select {
		case <-time.After(500 * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}))

	err := d.Dispatch(context.Background(), event)

	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrHandlerTimeout))
}

func TestDispatch_CircuitOpenRejects(t *testing.T) {
	d, _, breakers := newTestDispatcher()
	event := testEvent(models.DestinationDefault)

	d.Register(models.DestinationDefault, HandlerFunc(func(ctx context.Context, e *models.CanonicalEvent) error {
		return errors.New("boom")
	}))

	for i := 0; i < breaker.DefaultConfig().FailureThreshold; i++ {
		err := d.Dispatch(context.Background(), event)
		require.Error(t, err)
	}
	require.Equal(t, breaker.StateOpen, breakers.GetState(models.DestinationDefault))

	err := d.Dispatch(context.Background(), event)
	assert.True(t, errors.Is(err, models.ErrCircuitOpen), "open circuit must fast-fail before the handler")
}

func TestDispatch_FailuresTripBreaker(t *testing.T) {
	d, _, breakers := newTestDispatcher()
	event := testEvent(models.DestinationDefault)

	var calls int
	d.Register(models.DestinationDefault, HandlerFunc(func(ctx context.Context, e *models.CanonicalEvent) error {
		calls++
		return errors.New("boom")
	}))

	for i := 0; i < 10; i++ {
		_ = d.Dispatch(context.Background(), event)
	}

	assert.Equal(t, breaker.StateOpen, breakers.GetState(models.DestinationDefault))
	assert.Equal(t, breaker.DefaultConfig().FailureThreshold, calls,
		"handler must not be invoked once the circuit is open")
}

func TestRegister_Replaces(t *testing.T) {
	d, _, _ := newTestDispatcher()
	event := testEvent(models.DestinationDefault)

	d.Register(models.DestinationDefault, HandlerFunc(func(ctx context.Context, e *models.CanonicalEvent) error {
		return errors.New("old handler")
	}))
	d.Register(models.DestinationDefault, HandlerFunc(func(ctx context.Context, e *models.CanonicalEvent) error {
		return nil
	}))

	assert.NoError(t, d.Dispatch(context.Background(), event))
}
