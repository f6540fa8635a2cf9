package router

import (
	"testing"

	"github.com/omniport-systems/omniport/internal/models"
)

func TestRoute_DestinationMapping(t *testing.T) {
	cases := []struct {
		source models.Source
		lane   models.Lane
		want   models.Destination
	}{
		{models.SourceText, models.LaneGreen, models.DestinationDefault},
		{models.SourceAPI, models.LaneYellow, models.DestinationDefault},
		{models.SourceRCS, models.LaneGreen, models.DestinationDefault},
		{models.SourceWhatsApp, models.LaneYellow, models.DestinationDefault},
		{models.SourceVoice, models.LaneGreen, models.DestinationVoice},
		{models.SourceVoice, models.LaneYellow, models.DestinationVoice},
		{models.SourceWebhook, models.LaneGreen, models.DestinationWebhook},
		{models.SourceVoice, models.LaneRed, models.DestinationManMode},
		{models.SourceWebhook, models.LaneRed, models.DestinationManMode},
		{models.SourceText, models.LaneRed, models.DestinationManMode},
		{models.SourceText, models.LaneBlocked, models.DestinationAudit},
		{models.SourceVoice, models.LaneBlocked, models.DestinationAudit},
	}

	for _, tc := range cases {
		got := Route(tc.source, tc.lane)
		if got.Destination != tc.want {
			t.Errorf("Route(%s, %s).Destination = %s, want %s", tc.source, tc.lane, got.Destination, tc.want)
		}
	}
}

func TestRoute_Priority(t *testing.T) {
	cases := []struct {
		source models.Source
		lane   models.Lane
		want   int
	}{
		{models.SourceText, models.LaneGreen, 5},
		{models.SourceText, models.LaneYellow, 3},
		{models.SourceText, models.LaneRed, 1},
		{models.SourceText, models.LaneBlocked, 10},
		{models.SourceVoice, models.LaneGreen, 4},
		{models.SourceVoice, models.LaneRed, 0},
	}

	for _, tc := range cases {
		got := Route(tc.source, tc.lane)
		if got.Priority != tc.want {
			t.Errorf("Route(%s, %s).Priority = %d, want %d", tc.source, tc.lane, got.Priority, tc.want)
		}
	}
}

func TestRoute_Deterministic(t *testing.T) {
	a := Route(models.SourceVoice, models.LaneYellow)
	b := Route(models.SourceVoice, models.LaneYellow)
	if a != b {
		t.Errorf("identical inputs produced different decisions: %+v vs %+v", a, b)
	}
}

func TestRoute_TTL(t *testing.T) {
	if got := Route(models.SourceText, models.LaneGreen).TTLMs; got != DefaultTTL {
		t.Errorf("TTLMs = %d, want %d", got, DefaultTTL)
	}
}

func TestApply(t *testing.T) {
	event := &models.CanonicalEvent{
		Source:   models.SourceVoice,
		Security: models.Security{Lane: models.LaneGreen},
	}

	Apply(event)

	if event.Routing.Destination != models.DestinationVoice {
		t.Errorf("destination = %s, want %s", event.Routing.Destination, models.DestinationVoice)
	}
	if event.Routing.Priority != 4 {
		t.Errorf("priority = %d, want 4", event.Routing.Priority)
	}
}
