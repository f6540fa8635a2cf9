package normalizer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omniport-systems/omniport/internal/idempotency"
	"github.com/omniport-systems/omniport/internal/models"
)

func newTestNormalizer(t *testing.T, opts ...Option) *Normalizer {
	t.Helper()
	store := idempotency.NewMemoryStore(time.Minute)
	t.Cleanup(func() { store.Close() })
	return New(store, opts...)
}

func TestValidate_UnknownSource(t *testing.T) {
	err := Validate(&models.RawIngress{Source: "carrier-pigeon", Content: "hello"})

	var vErr *models.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "source", vErr.Field)
}

func TestValidate_EmptyContent(t *testing.T) {
	err := Validate(&models.RawIngress{Source: models.SourceText, Content: "   \n\t  "})

	var vErr *models.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "content", vErr.Field)
}

func TestNormalizeContent_CollapsesWhitespace(t *testing.T) {
	got := NormalizeContent("  Hello    World\n\tAgain  ", models.SourceText)
	assert.Equal(t, "hello world again", got)
}

func TestNormalizeContent_VoiceStripsFillerWords(t *testing.T) {
	got := NormalizeContent("um check my uh account balance like now", models.SourceVoice)
	assert.Equal(t, "check my account balance now", got)
}

func TestNormalizeContent_WebhookPreservesCase(t *testing.T) {
	got := NormalizeContent(`{"Type": "OrderCreated"}`, models.SourceWebhook)
	assert.Equal(t, `{"Type": "OrderCreated"}`, got)
}

func TestFingerprint_Deterministic(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)

	a := Fingerprint(models.SourceText, "hello", "dev-1", at, time.Minute)
	b := Fingerprint(models.SourceText, "hello", "dev-1", at.Add(10*time.Second), time.Minute)

	assert.Equal(t, a, b, "same bucket must produce the same fingerprint")
	assert.True(t, strings.HasPrefix(a, "omni_"))
	assert.Len(t, a, len("omni_")+8)
}

func TestFingerprint_ChangesAcrossBuckets(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)

	a := Fingerprint(models.SourceText, "hello", "dev-1", at, time.Minute)
	b := Fingerprint(models.SourceText, "hello", "dev-1", at.Add(time.Minute), time.Minute)

	assert.NotEqual(t, a, b)
}

func TestFingerprint_AnonymousDevice(t *testing.T) {
	at := time.Now()

	withDevice := Fingerprint(models.SourceText, "hello", "dev-1", at, time.Minute)
	anonymous := Fingerprint(models.SourceText, "hello", "", at, time.Minute)

	assert.NotEqual(t, withDevice, anonymous)
}

func TestNormalize_BuildsCanonicalEvent(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	n := newTestNormalizer(t, WithClock(func() time.Time { return fixed }))

	in := &models.RawIngress{
		Source:   models.SourceText,
		Content:  "  Hello   World  ",
		DeviceID: "dev-1",
		UserID:   "user-1",
		Metadata: map[string]any{"channel": "sms"},
	}

	result, err := n.Normalize(context.Background(), in)
	require.NoError(t, err)
	require.False(t, result.Duplicate)

	event := result.Event
	assert.Equal(t, "hello world", event.Payload.Content)
	assert.Equal(t, models.PayloadMessage, event.Payload.Type)
	assert.Equal(t, models.SourceText, event.Source)
	assert.Equal(t, "dev-1", event.DeviceID)
	assert.Equal(t, fixed.UnixMilli(), event.Timestamp)
	assert.NotEmpty(t, event.TraceID)
	assert.Equal(t, "sms", event.Payload.Metadata["channel"])
	assert.Equal(t, len(in.Content), event.Payload.Metadata["originalLength"])
	assert.Equal(t, len("hello world"), event.Payload.Metadata["normalizedLength"])
	require.NotNil(t, event.Payload.Raw)
	assert.Equal(t, in.Content, event.Payload.Raw.Content)
}

func TestNormalize_DuplicateCollapses(t *testing.T) {
	n := newTestNormalizer(t)
	in := &models.RawIngress{Source: models.SourceText, Content: "hello", DeviceID: "dev-1"}

	first, err := n.Normalize(context.Background(), in)
	require.NoError(t, err)
	require.False(t, first.Duplicate)

	second, err := n.Normalize(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Event.ID, second.Event.ID)
}

func TestNormalize_ReleaseAllowsRetry(t *testing.T) {
	n := newTestNormalizer(t)
	in := &models.RawIngress{Source: models.SourceText, Content: "hello", DeviceID: "dev-1"}

	first, err := n.Normalize(context.Background(), in)
	require.NoError(t, err)

	n.Release(context.Background(), first.Event.ID)

	retry, err := n.Normalize(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, retry.Duplicate)
}

func TestNormalize_TraceIDFromMetadata(t *testing.T) {
	n := newTestNormalizer(t)
	in := &models.RawIngress{
		Source:   models.SourceVoice,
		Content:  "hello",
		Metadata: map[string]any{"call_sid": "CA123"},
	}

	result, err := n.Normalize(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "CA123", result.Event.TraceID)
}

func TestNormalize_CommandPayloadType(t *testing.T) {
	n := newTestNormalizer(t)
	in := &models.RawIngress{Source: models.SourceText, Content: "/status now"}

	result, err := n.Normalize(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, models.PayloadCommand, result.Event.Payload.Type)
}
