package services

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"appsentry/internal/domain/models"
	"appsentry/pkg/logger"
)

// Promotion rules for the signal-to-event stage
const (
	eventPromoteMinSignals = 3
)

// SignalAggregator groups raw signals into events. Signals for the same
// package that map to the same event type merge into one event; the event
// carries the maximum severity among its signals.
type SignalAggregator struct {
	logger *logger.Logger
}

// NewSignalAggregator creates an aggregator
func NewSignalAggregator(log *logger.Logger) *SignalAggregator {
	return &SignalAggregator{logger: log.WithComponent("aggregator")}
}

type eventKey struct {
	packageName string
	eventType   models.EventType
}

// Aggregate merges one scan's signals into events. An event is promoted,
// meaning it proceeds to root-cause resolution, when its severity reaches
// medium or it accumulated enough distinct signals. Output ordering is
// deterministic: by package name, then event type.
func (a *SignalAggregator) Aggregate(signals []models.SecuritySignal) []models.SecurityEvent {
	grouped := make(map[eventKey][]models.SecuritySignal)
	for _, s := range signals {
		key := eventKey{packageName: s.PackageName, eventType: models.EventTypeForSignal(s.Type)}
		grouped[key] = append(grouped[key], s)
	}

	events := make([]models.SecurityEvent, 0, len(grouped))
	for key, group := range grouped {
		ev := models.SecurityEvent{
			ID:          uuid.New(),
			Type:        key.eventType,
			PackageName: key.packageName,
			Signals:     group,
		}

		ev.Severity = models.SeverityNone
		var start, end time.Time
		for _, s := range group {
			if s.Severity.Rank() > ev.Severity.Rank() {
				ev.Severity = s.Severity
				ev.Summary = s.Message
			}
			if start.IsZero() || s.ObservedAt.Before(start) {
				start = s.ObservedAt
			}
			if end.IsZero() || s.ObservedAt.After(end) {
				end = s.ObservedAt
			}
		}
		ev.WindowStart = start
		ev.WindowEnd = end
		if len(group) > 1 {
			ev.Summary = fmt.Sprintf("%s (%d related signals)", ev.Summary, len(group))
		}

		ev.Promoted = ev.Severity.AtLeast(models.SeverityMedium) || len(group) >= eventPromoteMinSignals
		events = append(events, ev)
	}

	sort.SliceStable(events, func(i, j int) bool {
		if events[i].PackageName != events[j].PackageName {
			return events[i].PackageName < events[j].PackageName
		}
		return events[i].Type < events[j].Type
	})

	a.logger.Debug().
		Int("signals", len(signals)).
		Int("events", len(events)).
		Msg("aggregated signals")

	return events
}

// Promoted filters to the events that passed promotion
func Promoted(events []models.SecurityEvent) []models.SecurityEvent {
	var out []models.SecurityEvent
	for _, ev := range events {
		if ev.Promoted {
			out = append(out, ev)
		}
	}
	return out
}
