package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/omniport-systems/omniport/internal/logging"
	"github.com/omniport-systems/omniport/internal/models"
)

// StreamName is the JetStream stream that mirrors dead-letter entries.
const StreamName = "OMNIPORT_DLQ"

// JetStreamMirror publishes a copy of every dead-letter entry to NATS
// JetStream so operators can inspect failures across gateway instances.
// The repository stays authoritative for retry state; the mirror is
// write-only and best effort.
type JetStreamMirror struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	stream jetstream.Stream
	logger *logging.Logger
}

// NewJetStreamMirror connects to NATS and ensures the mirror stream exists.
func NewJetStreamMirror(ctx context.Context, url string, logger *logging.Logger) (*JetStreamMirror, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{"omniport.dlq.>"},
		Retention: jetstream.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create dlq mirror stream: %w", err)
	}

	logger.Info("dlq mirror stream ready", "stream", StreamName)

	return &JetStreamMirror{
		nc:     nc,
		js:     js,
		stream: stream,
		logger: logger,
	}, nil
}

// Publish mirrors one entry. Nil receivers and publish failures are
// tolerated: the mirror must never block the dispatch path.
func (m *JetStreamMirror) Publish(ctx context.Context, entry *models.DLQEntry) {
	if m == nil {
		return
	}

	data, err := json.Marshal(entry)
	if err != nil {
		m.logger.Error("failed to marshal dlq mirror entry", "entry_id", entry.ID, "error", err)
		return
	}

	subject := fmt.Sprintf("omniport.dlq.%s", entry.Destination)
	if _, err := m.js.Publish(ctx, subject, data); err != nil {
		m.logger.Warn("failed to publish dlq mirror entry", "entry_id", entry.ID, "error", err)
	}
}

// Stats reports mirror stream counters.
func (m *JetStreamMirror) Stats(ctx context.Context) (map[string]any, error) {
	if m == nil {
		return map[string]any{"enabled": false}, nil
	}

	info, err := m.stream.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("dlq mirror stream info: %w", err)
	}

	return map[string]any{
		"enabled":        true,
		"total_messages": info.State.Msgs,
		"total_bytes":    info.State.Bytes,
		"first_seq":      info.State.FirstSeq,
		"last_seq":       info.State.LastSeq,
	}, nil
}

// Close drains the NATS connection.
func (m *JetStreamMirror) Close() {
	if m == nil || m.nc == nil {
		return
	}
	m.nc.Close()
}
