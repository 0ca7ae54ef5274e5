package streaming

import (
	"time"

	"github.com/google/uuid"

	"appsentry/internal/domain/models"
)

// EventType represents the type of stream event
type EventType string

const (
	EventTypeIncidentCreated EventType = "incident_created"
	EventTypeIncidentUpdated EventType = "incident_updated"
	EventTypeVerdictChanged  EventType = "verdict_changed"
	EventTypeScanCompleted   EventType = "scan_completed"
)

// StreamEvent is a real-time update pushed to subscribers
type StreamEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	PackageName string          `json:"package_name,omitempty"`
	Severity    models.Severity `json:"severity,omitempty"`

	// Incident details
	IncidentID     string                `json:"incident_id,omitempty"`
	IncidentStatus models.IncidentStatus `json:"incident_status,omitempty"`
	Title          string                `json:"title,omitempty"`
	Summary        string                `json:"summary,omitempty"`

	// Verdict details
	EffectiveRisk models.EffectiveRisk `json:"effective_risk,omitempty"`
	TrustLevel    models.TrustLevel    `json:"trust_level,omitempty"`
	RiskScore     int                  `json:"risk_score,omitempty"`
	TopReasons    []string             `json:"top_reasons,omitempty"`

	// Scan summary details
	AppsScanned   int `json:"apps_scanned,omitempty"`
	IncidentCount int `json:"incident_count,omitempty"`
}

// NewIncidentEvent builds a stream event from an incident
func NewIncidentEvent(eventType EventType, incident *models.SecurityIncident) *StreamEvent {
	return &StreamEvent{
		ID:             uuid.New().String(),
		Type:           eventType,
		Timestamp:      time.Now(),
		PackageName:    incident.PackageName,
		Severity:       incident.Severity,
		IncidentID:     incident.ID.String(),
		IncidentStatus: incident.Status,
		Title:          incident.Title,
		Summary:        incident.Summary,
	}
}

// NewVerdictEvent builds a stream event from a verdict
func NewVerdictEvent(verdict *models.AppVerdict) *StreamEvent {
	return &StreamEvent{
		ID:            uuid.New().String(),
		Type:          EventTypeVerdictChanged,
		Timestamp:     time.Now(),
		PackageName:   verdict.PackageName,
		EffectiveRisk: verdict.EffectiveRisk,
		TrustLevel:    verdict.TrustLevel,
		RiskScore:     verdict.RiskScore,
		TopReasons:    verdict.TopReasons,
	}
}

// NewScanCompletedEvent builds a device-level scan summary event
func NewScanCompletedEvent(appsScanned, incidentCount int) *StreamEvent {
	return &StreamEvent{
		ID:            uuid.New().String(),
		Type:          EventTypeScanCompleted,
		Timestamp:     time.Now(),
		AppsScanned:   appsScanned,
		IncidentCount: incidentCount,
	}
}

// Subscription represents a client's subscription preferences
type Subscription struct {
	// Filter by severity (empty = all)
	MinSeverity models.Severity `json:"min_severity,omitempty"`

	// Filter by event types (empty = all)
	Types []EventType `json:"types,omitempty"`

	// Filter by package names (empty = all)
	Packages []string `json:"packages,omitempty"`

	// Include verdict events for apps that evaluated safe
	IncludeSafeVerdicts bool `json:"include_safe_verdicts,omitempty"`
}

// Matches checks if an event matches the subscription filters
func (s *Subscription) Matches(event *StreamEvent) bool {
	if s.MinSeverity != "" && event.Severity != "" {
		if event.Severity.Rank() < s.MinSeverity.Rank() {
			return false
		}
	}

	if len(s.Types) > 0 {
		found := false
		for _, t := range s.Types {
			if t == event.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(s.Packages) > 0 && event.PackageName != "" {
		found := false
		for _, p := range s.Packages {
			if p == event.PackageName {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if !s.IncludeSafeVerdicts &&
		event.Type == EventTypeVerdictChanged &&
		event.EffectiveRisk == models.RiskSafe {
		return false
	}

	return true
}
