package models

import "time"

// IngestRequest is the body of POST /ingest.
type IngestRequest struct {
	Source         string         `json:"source"`
	Content        string         `json:"content"`
	DeviceID       string         `json:"deviceId,omitempty"`
	UserID         string         `json:"userId,omitempty"`
	OrganizationID string         `json:"organizationId,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CallbackURL    string         `json:"callbackUrl,omitempty"`
}

// IngestResponse is the synchronous verdict returned to ingestion callers.
// ProcessedAt is null while the event is still in flight; destination
// failures after this point are visible only through metrics and the DLQ.
type IngestResponse struct {
	EventID     string     `json:"eventId"`
	TraceID     string     `json:"traceId"`
	Lane        Lane       `json:"lane"`
	RiskScore   int        `json:"riskScore"`
	Flags       []string   `json:"flags"`
	Destination string     `json:"destination"`
	Duplicate   bool       `json:"duplicate,omitempty"`
	ProcessedAt *time.Time `json:"processedAt"`
	DurationMs  int64      `json:"durationMs"`
}
