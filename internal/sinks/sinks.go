// Package sinks provides the built-in destination handlers. Deployments
// replace or extend these through the dispatcher registry; the built-ins
// make a bare gateway fully routable out of the box.
package sinks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/omniport-systems/omniport/internal/dispatcher"
	"github.com/omniport-systems/omniport/internal/logging"
	"github.com/omniport-systems/omniport/internal/models"
)

// callbackTimeout bounds the outbound callback delivery inside the overall
// dispatch budget.
const callbackTimeout = 8 * time.Second

// RegisterDefaults binds a handler to every routable destination.
func RegisterDefaults(d *dispatcher.Dispatcher, logger *logging.Logger) {
	client := &http.Client{Timeout: callbackTimeout}

	d.Register(models.DestinationDefault, NewLogSink(logger, "default"))
	d.Register(models.DestinationVoice, NewLogSink(logger, "voice"))
	d.Register(models.DestinationWebhook, NewCallbackSink(client, logger))
	d.Register(models.DestinationManMode, NewReviewSink(logger))
	d.Register(models.DestinationAudit, NewLogSink(logger, "audit"))
}

// LogSink acknowledges events with a structured log line. It is the
// terminal handler for channels whose real consumers attach out of band.
type LogSink struct {
	logger *logging.Logger
	name   string
}

func NewLogSink(logger *logging.Logger, name string) *LogSink {
	return &LogSink{logger: logger, name: name}
}

func (s *LogSink) Handle(ctx context.Context, event *models.CanonicalEvent) error {
	s.logger.Info("event delivered",
		"sink", s.name,
		"event_id", event.ID,
		"trace_id", event.TraceID,
		"source", string(event.Source),
		"payload_type", string(event.Payload.Type),
		"priority", event.Routing.Priority,
	)
	return nil
}

// CallbackSink delivers webhook events to the caller-provided callback URL.
// Events without a callback URL are acknowledged without delivery.
type CallbackSink struct {
	client *http.Client
	logger *logging.Logger
}

func NewCallbackSink(client *http.Client, logger *logging.Logger) *CallbackSink {
	return &CallbackSink{client: client, logger: logger}
}

func (s *CallbackSink) Handle(ctx context.Context, event *models.CanonicalEvent) error {
	url := ""
	if event.Payload.Raw != nil {
		url = event.Payload.Raw.CallbackURL
	}
	if url == "" {
		s.logger.Info("webhook event acknowledged without callback",
			"event_id", event.ID,
		)
		return nil
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal callback body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Trace-ID", event.TraceID)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver callback: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("callback returned %s", resp.Status)
	}

	return nil
}

// ReviewSink surfaces escalated events for human review. Delivery is a
// warn-level log carrying everything a reviewer needs to triage.
type ReviewSink struct {
	logger *logging.Logger
}

func NewReviewSink(logger *logging.Logger) *ReviewSink {
	return &ReviewSink{logger: logger}
}

func (s *ReviewSink) Handle(ctx context.Context, event *models.CanonicalEvent) error {
	s.logger.Warn("event escalated for human review",
		"event_id", event.ID,
		"trace_id", event.TraceID,
		"source", string(event.Source),
		"risk_score", event.Security.RiskScore,
		"flags", event.Security.Flags,
		"ttl_ms", event.Routing.TTLMs,
	)
	return nil
}
