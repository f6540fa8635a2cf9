// Package audit archives blocked events to OpenSearch for security review.
// Events in the BLOCKED lane never reach a dispatch handler; the archive is
// the only place their full payload is retained beyond the event store.
package audit

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/omniport-systems/omniport/internal/logging"
	"github.com/omniport-systems/omniport/internal/models"
)

// Config holds OpenSearch connection settings for the audit archive.
type Config struct {
	URL           string
	Username      string
	Password      string
	TLSSkipVerify bool
	Index         string
}

// DefaultConfig returns sensible defaults for a local OpenSearch node.
func DefaultConfig() Config {
	return Config{
		URL:           "https://localhost:9200",
		Username:      "admin",
		Password:      "admin",
		TLSSkipVerify: true,
		Index:         "omniport-blocked",
	}
}

// record is the archived document shape.
type record struct {
	EventID    string         `json:"event_id"`
	TraceID    string         `json:"trace_id"`
	Source     models.Source  `json:"source"`
	DeviceID   string         `json:"device_id,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
	RiskScore  int            `json:"risk_score"`
	Flags      []string       `json:"flags"`
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	ArchivedAt time.Time      `json:"archived_at"`
}

// Archive writes blocked events to an OpenSearch index. A nil *Archive is
// valid and drops everything; the gateway runs without the archive when no
// OpenSearch URL is configured.
type Archive struct {
	client *opensearch.Client
	index  string
	logger *logging.Logger
}

func NewArchive(cfg Config, logger *logging.Logger) (*Archive, error) {
	osCfg := opensearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: cfg.TLSSkipVerify,
			},
		},
	}

	client, err := opensearch.NewClient(osCfg)
	if err != nil {
		return nil, fmt.Errorf("create opensearch client: %w", err)
	}

	info, err := client.Info()
	if err != nil {
		return nil, fmt.Errorf("connect to opensearch: %w", err)
	}
	defer info.Body.Close()
	if info.IsError() {
		return nil, fmt.Errorf("opensearch returned error: %s", info.Status())
	}

	logger.Info("audit archive connected", "index", cfg.Index)

	return &Archive{
		client: client,
		index:  cfg.Index,
		logger: logger,
	}, nil
}

// Record archives one blocked event. Failures are logged, not returned: the
// blocked verdict has already been persisted and must reach the caller
// regardless of archive health.
func (a *Archive) Record(ctx context.Context, event *models.CanonicalEvent) {
	if a == nil {
		return
	}

	doc := record{
		EventID:    event.ID,
		TraceID:    event.TraceID,
		Source:     event.Source,
		DeviceID:   event.DeviceID,
		UserID:     event.UserID,
		RiskScore:  event.Security.RiskScore,
		Flags:      event.Security.Flags,
		Content:    event.Payload.Content,
		Metadata:   event.Payload.Metadata,
		ArchivedAt: time.Now().UTC(),
	}

	body, err := json.Marshal(doc)
	if err != nil {
		a.logger.Error("failed to marshal audit record", "event_id", event.ID, "error", err)
		return
	}

	req := opensearchapi.IndexRequest{
		Index:      a.index,
		DocumentID: event.ID,
		Body:       bytes.NewReader(body),
	}

	res, err := req.Do(ctx, a.client)
	if err != nil {
		a.logger.Warn("failed to archive blocked event", "event_id", event.ID, "error", err)
		return
	}
	defer res.Body.Close()

	if res.IsError() {
		a.logger.Warn("audit archive rejected document",
			"event_id", event.ID,
			"status", res.Status(),
		)
	}
}
