// Package normalizer validates raw ingress and canonicalizes it into the
// single event shape the rest of the gateway operates on.
package normalizer

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/omniport-systems/omniport/internal/idempotency"
	"github.com/omniport-systems/omniport/internal/models"
)

// DefaultBucket is the coarse time window used for the idempotency
// fingerprint: identical inputs within one bucket collapse to one event.
const DefaultBucket = 1 * time.Minute

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	fillerRe     = regexp.MustCompile(`(?i)\b(?:uh+|um+|like)\b`)
)

// Result is the outcome of normalization. Duplicate reports whether an
// already-reserved event was returned instead of a new one.
type Result struct {
	Event     *models.CanonicalEvent
	Duplicate bool
}

// Normalizer turns RawIngress into a CanonicalEvent with security and
// routing left unset for the classifier and router to fill.
type Normalizer struct {
	store  idempotency.Store
	bucket time.Duration
	now    func() time.Time
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithBucket overrides the fingerprint time bucket.
func WithBucket(d time.Duration) Option {
	return func(n *Normalizer) { n.bucket = d }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) { n.now = now }
}

func New(store idempotency.Store, opts ...Option) *Normalizer {
	n := &Normalizer{
		store:  store,
		bucket: DefaultBucket,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize validates in, reserves its fingerprint, and produces the
// canonical event. When a concurrent or recent ingestion already holds the
// fingerprint, the existing event ID is returned via Result.Event.ID with
// Duplicate=true and no new event is created.
func (n *Normalizer) Normalize(ctx context.Context, in *models.RawIngress) (*Result, error) {
	if err := Validate(in); err != nil {
		return nil, err
	}

	now := n.now()
	content := NormalizeContent(in.Content, in.Source)
	fingerprint := Fingerprint(in.Source, content, in.DeviceID, now, n.bucket)

	traceID := traceIDFor(in)

	existingID, ok, err := n.store.Reserve(ctx, fingerprint, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("idempotency check: %w", err)
	}
	if !ok {
		return &Result{
			Event:     &models.CanonicalEvent{ID: existingID},
			Duplicate: true,
		}, nil
	}

	metadata := make(map[string]any, len(in.Metadata)+2)
	for k, v := range in.Metadata {
		metadata[k] = v
	}
	metadata["originalLength"] = len(in.Content)
	metadata["normalizedLength"] = len(content)

	event := &models.CanonicalEvent{
		ID:             fingerprint,
		TraceID:        traceID,
		Source:         in.Source,
		DeviceID:       in.DeviceID,
		UserID:         in.UserID,
		OrganizationID: in.OrganizationID,
		Payload: models.Payload{
			Type:     models.InferPayloadType(in),
			Content:  content,
			Metadata: metadata,
			Raw:      in,
		},
		Timestamp: now.UnixMilli(),
	}

	return &Result{Event: event}, nil
}

// Release drops the fingerprint reservation for an event that could not be
// persisted, so a retry of the same input is not treated as a duplicate.
func (n *Normalizer) Release(ctx context.Context, eventID string) {
	_ = n.store.Release(ctx, eventID)
}

// Validate checks that the raw input names a recognized source and carries
// non-empty content after trimming.
func Validate(in *models.RawIngress) error {
	if !in.Source.Valid() {
		return &models.ValidationError{
			Field:  "source",
			Reason: fmt.Sprintf("%q is not a recognized ingress source", in.Source),
		}
	}
	if strings.TrimSpace(in.Content) == "" {
		return &models.ValidationError{Field: "content", Reason: "must be non-empty"}
	}
	return nil
}

// NormalizeContent canonicalizes content per source. Webhook payloads are
// preserved verbatim apart from whitespace collapsing; voice transcripts
// drop filler words; everything else lowercases.
func NormalizeContent(content string, source models.Source) string {
	normalized := whitespaceRe.ReplaceAllString(strings.TrimSpace(content), " ")

	switch source {
	case models.SourceVoice:
		normalized = fillerRe.ReplaceAllString(normalized, "")
		normalized = whitespaceRe.ReplaceAllString(strings.TrimSpace(normalized), " ")
	case models.SourceWebhook:
		// Webhook bodies keep their structure for downstream parsing.
	default:
		normalized = strings.ToLower(normalized)
	}

	return normalized
}

// Fingerprint derives the idempotency key: an FNV-1a hash of source,
// normalized content, and device, truncated to a coarse time bucket.
func Fingerprint(source models.Source, content, deviceID string, at time.Time, bucket time.Duration) string {
	device := deviceID
	if device == "" {
		device = "anon"
	}
	window := at.UnixMilli() / bucket.Milliseconds()
	data := fmt.Sprintf("%s:%s:%d:%s", source, device, window, content)
	return "omni_" + fnv1a(data)
}

const (
	fnvOffset = 0x811c9dc5
	fnvPrime  = 0x01000193
)

// fnv1a is the 32-bit FNV-1a hash, cheaper than a cryptographic digest for
// high-throughput deduplication keys.
func fnv1a(input string) string {
	hash := uint32(fnvOffset)
	for i := 0; i < len(input); i++ {
		hash ^= uint32(input[i])
		hash *= fnvPrime
	}
	return fmt.Sprintf("%08x", hash)
}

// traceIDFor prefers an upstream correlation ID (e.g. a call SID carried in
// metadata) over a freshly generated one.
func traceIDFor(in *models.RawIngress) string {
	for _, key := range []string{"trace_id", "call_sid"} {
		if v, ok := in.Metadata[key].(string); ok && v != "" {
			return v
		}
	}
	return uuid.New().String()
}
