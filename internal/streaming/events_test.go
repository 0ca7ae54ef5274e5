package streaming

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appsentry/internal/domain/models"
)

func TestNewIncidentEvent(t *testing.T) {
	incident := &models.SecurityIncident{
		ID:          uuid.New(),
		PackageName: "com.shady.tool",
		Title:       "Signing certificate changed: com.shady.tool",
		Summary:     "signing certificate changed since last scan",
		Severity:    models.SeverityCritical,
		Status:      models.IncidentOpen,
	}

	ev := NewIncidentEvent(EventTypeIncidentCreated, incident)
	assert.Equal(t, EventTypeIncidentCreated, ev.Type)
	assert.Equal(t, incident.ID.String(), ev.IncidentID)
	assert.Equal(t, "com.shady.tool", ev.PackageName)
	assert.Equal(t, models.SeverityCritical, ev.Severity)
	assert.Equal(t, models.IncidentOpen, ev.IncidentStatus)
	assert.NotEmpty(t, ev.ID)
	assert.False(t, ev.Timestamp.IsZero())
}

func TestNewVerdictEvent(t *testing.T) {
	verdict := &models.AppVerdict{
		PackageName:   "com.shady.tool",
		EffectiveRisk: models.RiskNeedsAttention,
		TrustLevel:    models.TrustLow,
		RiskScore:     45,
		TopReasons:    []string{"Installer changed"},
	}

	ev := NewVerdictEvent(verdict)
	assert.Equal(t, EventTypeVerdictChanged, ev.Type)
	assert.Equal(t, models.RiskNeedsAttention, ev.EffectiveRisk)
	assert.Equal(t, 45, ev.RiskScore)
	require.Len(t, ev.TopReasons, 1)
}

func TestSubscriptionMatchesSeverity(t *testing.T) {
	sub := &Subscription{MinSeverity: models.SeverityHigh}

	high := &StreamEvent{Type: EventTypeIncidentCreated, Severity: models.SeverityCritical}
	assert.True(t, sub.Matches(high))

	low := &StreamEvent{Type: EventTypeIncidentCreated, Severity: models.SeverityLow}
	assert.False(t, sub.Matches(low))

	// Events without a severity (scan summaries) pass the severity gate
	summary := &StreamEvent{Type: EventTypeScanCompleted}
	assert.True(t, sub.Matches(summary))
}

func TestSubscriptionMatchesTypes(t *testing.T) {
	sub := &Subscription{Types: []EventType{EventTypeIncidentCreated, EventTypeIncidentUpdated}}

	assert.True(t, sub.Matches(&StreamEvent{Type: EventTypeIncidentCreated}))
	assert.True(t, sub.Matches(&StreamEvent{Type: EventTypeIncidentUpdated}))
	assert.False(t, sub.Matches(&StreamEvent{Type: EventTypeScanCompleted}))
}

func TestSubscriptionMatchesPackages(t *testing.T) {
	sub := &Subscription{Packages: []string{"com.bank.app"}}

	assert.True(t, sub.Matches(&StreamEvent{Type: EventTypeIncidentCreated, PackageName: "com.bank.app"}))
	assert.False(t, sub.Matches(&StreamEvent{Type: EventTypeIncidentCreated, PackageName: "com.other.app"}))

	// Device-level events carry no package and are not filtered out
	assert.True(t, sub.Matches(&StreamEvent{Type: EventTypeScanCompleted}))
}

func TestSubscriptionSafeVerdictsExcludedByDefault(t *testing.T) {
	var sub Subscription

	safe := &StreamEvent{Type: EventTypeVerdictChanged, EffectiveRisk: models.RiskSafe}
	assert.False(t, sub.Matches(safe))

	risky := &StreamEvent{Type: EventTypeVerdictChanged, EffectiveRisk: models.RiskCritical}
	assert.True(t, sub.Matches(risky))

	opted := Subscription{IncludeSafeVerdicts: true}
	assert.True(t, opted.Matches(safe))

	// Only verdict events are subject to the safe filter
	incident := &StreamEvent{Type: EventTypeIncidentCreated}
	assert.True(t, sub.Matches(incident))
}

func TestSubscriptionCombinedFilters(t *testing.T) {
	sub := &Subscription{
		MinSeverity: models.SeverityMedium,
		Types:       []EventType{EventTypeIncidentCreated},
		Packages:    []string{"com.shady.tool"},
	}

	match := &StreamEvent{
		Type:        EventTypeIncidentCreated,
		Severity:    models.SeverityHigh,
		PackageName: "com.shady.tool",
	}
	assert.True(t, sub.Matches(match))

	wrongPackage := *match
	wrongPackage.PackageName = "com.other.app"
	assert.False(t, sub.Matches(&wrongPackage))

	tooLow := *match
	tooLow.Severity = models.SeverityLow
	assert.False(t, sub.Matches(&tooLow))
}
