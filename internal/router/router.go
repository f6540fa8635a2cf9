// Package router maps a classified event to its destination handler.
package router

import (
	"github.com/omniport-systems/omniport/internal/models"
)

// DefaultTTL is the routing time-to-live applied to every decision, in
// milliseconds. Escalated events expire out of the human-review queue after
// this long.
const DefaultTTL int64 = 300000

// Decision is the routing outcome for one event.
type Decision struct {
	Destination models.Destination
	Priority    int
	TTLMs       int64
}

// Route is a pure function from (source, lane) to a routing decision:
// identical inputs always yield the identical decision.
//
//   - BLOCKED events go to the audit-only sink; their handler is never
//     invoked through the dispatch path.
//   - RED events escalate to human review regardless of source.
//   - GREEN and YELLOW events route to their source's natural handler.
func Route(source models.Source, lane models.Lane) Decision {
	return Decision{
		Destination: destinationFor(source, lane),
		Priority:    priorityFor(source, lane),
		TTLMs:       DefaultTTL,
	}
}

// Apply fills event.Routing from the event's source and lane.
func Apply(event *models.CanonicalEvent) {
	d := Route(event.Source, event.Security.Lane)
	event.Routing = models.Routing{
		Destination: d.Destination,
		Priority:    d.Priority,
		TTLMs:       d.TTLMs,
	}
}

func destinationFor(source models.Source, lane models.Lane) models.Destination {
	switch lane {
	case models.LaneBlocked:
		return models.DestinationAudit
	case models.LaneRed:
		return models.DestinationManMode
	}

	switch source {
	case models.SourceVoice:
		return models.DestinationVoice
	case models.SourceWebhook:
		return models.DestinationWebhook
	default:
		return models.DestinationDefault
	}
}

// priorityFor computes dispatch priority, 0 highest. Voice traffic gets a
// bump because a caller is waiting on the line.
func priorityFor(source models.Source, lane models.Lane) int {
	priority := map[models.Lane]int{
		models.LaneGreen:   5,
		models.LaneYellow:  3,
		models.LaneRed:     1,
		models.LaneBlocked: 10,
	}[lane]

	if source == models.SourceVoice {
		priority--
	}
	if priority < 0 {
		priority = 0
	}
	return priority
}
