package streaming

import (
	"context"

	"appsentry/internal/domain/models"
)

// Publisher fans incidents and verdicts out to the event bus and the
// WebSocket hub. It satisfies the service layer's EventPublisher.
type Publisher struct {
	eventBus *EventBus
	wsHub    *WebSocketHub
}

// NewPublisher creates a new publisher adapter
func NewPublisher(eventBus *EventBus, wsHub *WebSocketHub) *Publisher {
	return &Publisher{
		eventBus: eventBus,
		wsHub:    wsHub,
	}
}

func (p *Publisher) publish(ctx context.Context, event *StreamEvent) error {
	if p.eventBus != nil {
		if err := p.eventBus.Publish(ctx, event); err != nil {
			return err
		}
	}
	if p.wsHub != nil {
		p.wsHub.BroadcastEvent(event)
	}
	return nil
}

// PublishIncidentCreated publishes a newly resolved incident
func (p *Publisher) PublishIncidentCreated(ctx context.Context, incident *models.SecurityIncident) error {
	return p.publish(ctx, NewIncidentEvent(EventTypeIncidentCreated, incident))
}

// PublishIncidentUpdated publishes an incident status change
func (p *Publisher) PublishIncidentUpdated(ctx context.Context, incident *models.SecurityIncident) error {
	return p.publish(ctx, NewIncidentEvent(EventTypeIncidentUpdated, incident))
}

// PublishVerdict publishes a verdict for one app
func (p *Publisher) PublishVerdict(ctx context.Context, verdict *models.AppVerdict) error {
	return p.publish(ctx, NewVerdictEvent(verdict))
}

// PublishScanCompleted publishes the device-level scan summary
func (p *Publisher) PublishScanCompleted(ctx context.Context, appsScanned, incidentCount int) error {
	return p.publish(ctx, NewScanCompletedEvent(appsScanned, incidentCount))
}
