// Package scheduler provides periodic execution of the dead-letter
// redelivery pass.
package scheduler

import (
	"context"
	"time"

	"github.com/omniport-systems/omniport/internal/dlq"
	"github.com/omniport-systems/omniport/internal/logging"
)

// DefaultInterval is how often due dead-letter entries are redelivered.
const DefaultInterval = 5 * time.Second

// Scheduler drives the DLQ processor on a fixed interval.
type Scheduler struct {
	processor *dlq.Processor
	interval  time.Duration
	logger    *logging.Logger
	stop      chan struct{}
	stopped   chan struct{}
}

func New(processor *dlq.Processor, interval time.Duration, logger *logging.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		processor: processor,
		interval:  interval,
		logger:    logger,
		stop:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
}

// Start begins the redelivery loop. Call in a goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	defer close(s.stopped)

	s.logger.Info("dlq scheduler started", "interval", s.interval.String())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.run(ctx)
		case <-s.stop:
			s.logger.Info("dlq scheduler stopped")
			return
		case <-ctx.Done():
			s.logger.Info("dlq scheduler context cancelled")
			return
		}
	}
}

// Stop signals the scheduler to stop and waits for it to finish.
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.stopped
}

func (s *Scheduler) run(ctx context.Context) {
	result, err := s.processor.Process(ctx)
	if err != nil {
		s.logger.Error("dlq processing pass failed", "error", err)
		return
	}
	if result.Processed > 0 {
		s.logger.Info("dlq processing pass complete",
			"processed", result.Processed,
			"delivered", result.Delivered,
		)
	}
}
