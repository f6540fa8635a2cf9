package sinks

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omniport-systems/omniport/internal/breaker"
	"github.com/omniport-systems/omniport/internal/dispatcher"
	"github.com/omniport-systems/omniport/internal/logging"
	"github.com/omniport-systems/omniport/internal/models"
	"github.com/omniport-systems/omniport/internal/repository"
)

func testLogger() *logging.Logger {
	return logging.New(slog.LevelError, "text")
}

func TestRegisterDefaults_AllDestinationsRoutable(t *testing.T) {
	repo := repository.NewInMemoryRepository()
	d := dispatcher.New(repo, breaker.NewRegistry(breaker.DefaultConfig()), testLogger())

	RegisterDefaults(d, testLogger())

	assert.ElementsMatch(t, []models.Destination{
		models.DestinationDefault,
		models.DestinationVoice,
		models.DestinationWebhook,
		models.DestinationManMode,
		models.DestinationAudit,
	}, d.Destinations())
}

func TestLogSink(t *testing.T) {
	s := NewLogSink(testLogger(), "default")
	err := s.Handle(context.Background(), &models.CanonicalEvent{ID: "omni_00000001"})
	assert.NoError(t, err)
}

func TestCallbackSink_DeliversToCallbackURL(t *testing.T) {
	var received *models.CanonicalEvent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var event models.CanonicalEvent
		require.NoError(t, json.NewDecoder(r.Body).Decode(&event))
		received = &event
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewCallbackSink(srv.Client(), testLogger())
	event := &models.CanonicalEvent{
		ID:      "omni_00000002",
		TraceID: "trace-1",
		Source:  models.SourceWebhook,
		Payload: models.Payload{
			Type:    models.PayloadCallback,
			Content: "order created",
			Raw:     &models.RawIngress{CallbackURL: srv.URL},
		},
	}

	require.NoError(t, s.Handle(context.Background(), event))
	require.NotNil(t, received)
	assert.Equal(t, "omni_00000002", received.ID)
}

func TestCallbackSink_NoCallbackURL(t *testing.T) {
	s := NewCallbackSink(http.DefaultClient, testLogger())
	event := &models.CanonicalEvent{
		ID:      "omni_00000003",
		Payload: models.Payload{Raw: &models.RawIngress{}},
	}

	assert.NoError(t, s.Handle(context.Background(), event))
}

func TestCallbackSink_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewCallbackSink(srv.Client(), testLogger())
	event := &models.CanonicalEvent{
		ID:      "omni_00000004",
		Payload: models.Payload{Raw: &models.RawIngress{CallbackURL: srv.URL}},
	}

	assert.Error(t, s.Handle(context.Background(), event))
}

func TestReviewSink(t *testing.T) {
	s := NewReviewSink(testLogger())
	err := s.Handle(context.Background(), &models.CanonicalEvent{
		ID:       "omni_00000005",
		Security: models.Security{Lane: models.LaneRed, RiskScore: 70},
	})
	assert.NoError(t, err)
}
