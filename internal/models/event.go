package models

import (
	"time"
)

// Source identifies the ingress channel an event arrived on.
type Source string

const (
	SourceText     Source = "text"
	SourceVoice    Source = "voice"
	SourceWebhook  Source = "webhook"
	SourceAPI      Source = "api"
	SourceRCS      Source = "rcs"
	SourceWhatsApp Source = "whatsapp"
)

// Sources lists every recognized ingress source.
var Sources = []Source{SourceText, SourceVoice, SourceWebhook, SourceAPI, SourceRCS, SourceWhatsApp}

// Valid reports whether s is one of the recognized ingress sources.
func (s Source) Valid() bool {
	switch s {
	case SourceText, SourceVoice, SourceWebhook, SourceAPI, SourceRCS, SourceWhatsApp:
		return true
	}
	return false
}

// Lane is the risk-based routing class assigned to an event.
type Lane string

const (
	LaneGreen   Lane = "GREEN"
	LaneYellow  Lane = "YELLOW"
	LaneRed     Lane = "RED"
	LaneBlocked Lane = "BLOCKED"
)

// Lanes lists every lane in ascending risk order.
var Lanes = []Lane{LaneGreen, LaneYellow, LaneRed, LaneBlocked}

// Destination is the logical name of a registered dispatch handler.
type Destination string

const (
	DestinationDefault Destination = "default"
	DestinationVoice   Destination = "voice-processor"
	DestinationWebhook Destination = "webhook-processor"
	DestinationManMode Destination = "man-mode"
	DestinationAudit   Destination = "audit-sink"
)

// PayloadType categorizes what kind of input the payload carries.
type PayloadType string

const (
	PayloadMessage  PayloadType = "message"
	PayloadCommand  PayloadType = "command"
	PayloadEvent    PayloadType = "event"
	PayloadCallback PayloadType = "callback"
)

// RawIngress is input exactly as received from a channel. It is never
// mutated after ingestion; the canonical event preserves it for replay.
type RawIngress struct {
	Source         Source            `json:"source"`
	Content        string            `json:"content"`
	DeviceID       string            `json:"deviceId,omitempty"`
	UserID         string            `json:"userId,omitempty"`
	OrganizationID string            `json:"organizationId,omitempty"`
	Metadata       map[string]any    `json:"metadata,omitempty"`
	CallbackURL    string            `json:"callbackUrl,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
}

// Payload carries the normalized content plus the original input for audit.
type Payload struct {
	Type     PayloadType    `json:"type"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Raw      *RawIngress    `json:"raw,omitempty"`
}

// Security holds the risk classification verdict for an event.
type Security struct {
	Lane      Lane     `json:"lane"`
	RiskScore int      `json:"riskScore"`
	Flags     []string `json:"flags,omitempty"`
}

// Routing holds the dispatch decision for an event.
type Routing struct {
	Destination Destination `json:"destination"`
	Priority    int         `json:"priority"`
	TTLMs       int64       `json:"ttlMs"`
}

// CanonicalEvent is the durable record produced from a RawIngress.
// It is created once and append-only: after creation the only writes are
// bookkeeping (ProcessedAt, routing destination).
type CanonicalEvent struct {
	ID             string     `json:"id"`
	TraceID        string     `json:"traceId"`
	Source         Source     `json:"source"`
	DeviceID       string     `json:"deviceId,omitempty"`
	UserID         string     `json:"userId,omitempty"`
	OrganizationID string     `json:"organizationId,omitempty"`
	Payload        Payload    `json:"payload"`
	Security       Security   `json:"security"`
	Routing        Routing    `json:"routing"`
	Timestamp      int64      `json:"timestamp"` // ingestion time, epoch ms
	ProcessedAt    *time.Time `json:"processedAt,omitempty"`
}

// DLQStatus is the lifecycle state of a dead-letter entry.
type DLQStatus string

const (
	DLQStatusPending   DLQStatus = "pending"
	DLQStatusExhausted DLQStatus = "exhausted"
)

// DLQEntry records a failed dispatch awaiting retry. Entries are removed on
// successful redelivery; entries that exceed the attempt budget become
// exhausted and are excluded from further processing.
type DLQEntry struct {
	ID            string          `json:"id"`
	Event         *CanonicalEvent `json:"event"`
	Destination   Destination     `json:"destination"`
	Attempts      int             `json:"attempts"`
	LastError     string          `json:"lastError"`
	NextAttemptAt time.Time       `json:"nextAttemptAt"`
	CreatedAt     time.Time       `json:"createdAt"`
	Status        DLQStatus       `json:"status"`
}

// InferPayloadType derives the payload category from the raw input.
func InferPayloadType(in *RawIngress) PayloadType {
	switch {
	case in.CallbackURL != "":
		return PayloadCallback
	case in.Source == SourceWebhook:
		return PayloadEvent
	case len(in.Content) > 0 && (in.Content[0] == '/' || in.Content[0] == '!'):
		return PayloadCommand
	default:
		return PayloadMessage
	}
}
