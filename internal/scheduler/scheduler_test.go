package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omniport-systems/omniport/internal/breaker"
	"github.com/omniport-systems/omniport/internal/dispatcher"
	"github.com/omniport-systems/omniport/internal/dlq"
	"github.com/omniport-systems/omniport/internal/logging"
	"github.com/omniport-systems/omniport/internal/models"
	"github.com/omniport-systems/omniport/internal/repository"
)

func TestScheduler_RedeliversDueEntries(t *testing.T) {
	logger := logging.New(slog.LevelError, "text")
	repo := repository.NewInMemoryRepository()
	breakers := breaker.NewRegistry(breaker.DefaultConfig())
	disp := dispatcher.New(repo, breakers, logger)
	disp.Register(models.DestinationDefault, dispatcher.HandlerFunc(func(ctx context.Context, e *models.CanonicalEvent) error {
		return nil
	}))

	proc := dlq.NewProcessor(repo, disp, logger, dlq.WithBaseBackoff(time.Millisecond))

	event := &models.CanonicalEvent{
		ID:      "omni_sched001",
		Source:  models.SourceText,
		Payload: models.Payload{Type: models.PayloadMessage, Content: "hello"},
		Routing: models.Routing{Destination: models.DestinationDefault},
	}
	require.NoError(t, repo.SaveEvent(context.Background(), event))
	_, err := proc.Enqueue(context.Background(), event, models.DestinationDefault, errors.New("boom"))
	require.NoError(t, err)

	s := New(proc, 10*time.Millisecond, logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Start(ctx)
	defer s.Stop()

	require.Eventually(t, func() bool {
		depth, err := repo.DLQDepth(context.Background())
		return err == nil && depth == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestScheduler_StopTerminates(t *testing.T) {
	logger := logging.New(slog.LevelError, "text")
	repo := repository.NewInMemoryRepository()
	disp := dispatcher.New(repo, breaker.NewRegistry(breaker.DefaultConfig()), logger)
	proc := dlq.NewProcessor(repo, disp, logger)

	s := New(proc, time.Hour, logger)
	go s.Start(context.Background())

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not terminate the scheduler")
	}

	assert.NotNil(t, s)
}
