package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appsentry/internal/domain/models"
)

func newTestAggregator() *SignalAggregator {
	return NewSignalAggregator(testLogger())
}

func TestAggregateMergesByPackageAndEventType(t *testing.T) {
	a := newTestAggregator()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	signals := []models.SecuritySignal{
		{
			Type:        models.SignalPermissionAdded,
			PackageName: "com.example.app",
			Severity:    models.SeverityLow,
			Message:     "permission granted: READ_SMS",
			ObservedAt:  base,
		},
		{
			Type:        models.SignalPermissionSetChanged,
			PackageName: "com.example.app",
			Severity:    models.SeverityLow,
			Message:     "permission set changed",
			ObservedAt:  base.Add(time.Minute),
		},
		{
			Type:        models.SignalCertChanged,
			PackageName: "com.other.app",
			Severity:    models.SeverityCritical,
			Message:     "certificate changed",
			ObservedAt:  base,
		},
	}

	events := a.Aggregate(signals)
	require.Len(t, events, 2)

	// Deterministic ordering: package, then type
	assert.Equal(t, "com.example.app", events[0].PackageName)
	assert.Equal(t, models.EventPermissionEscalation, events[0].Type)
	assert.Equal(t, "com.other.app", events[1].PackageName)
	assert.Equal(t, models.EventCertChanged, events[1].Type)

	// Both permission signals folded into one event
	assert.Len(t, events[0].Signals, 2)
	assert.Equal(t, base, events[0].WindowStart)
	assert.Equal(t, base.Add(time.Minute), events[0].WindowEnd)
}

func TestAggregateSummaryCountsSignals(t *testing.T) {
	a := newTestAggregator()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	signals := []models.SecuritySignal{
		{Type: models.SignalPermissionAdded, PackageName: "com.example.app", Severity: models.SeverityHigh, Message: "high-risk permission granted", ObservedAt: base},
		{Type: models.SignalPermissionAdded, PackageName: "com.example.app", Severity: models.SeverityLow, Message: "permission granted", ObservedAt: base},
	}

	events := a.Aggregate(signals)
	require.Len(t, events, 1)
	assert.Equal(t, models.SeverityHigh, events[0].Severity)
	assert.Equal(t, "high-risk permission granted (2 related signals)", events[0].Summary)

	// A single signal keeps its message untouched
	events = a.Aggregate(signals[:1])
	require.Len(t, events, 1)
	assert.Equal(t, "high-risk permission granted", events[0].Summary)
}

func TestAggregatePromotion(t *testing.T) {
	a := newTestAggregator()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	// One low signal: not promoted
	events := a.Aggregate([]models.SecuritySignal{
		{Type: models.SignalSideloadInstall, PackageName: "a", Severity: models.SeverityLow, ObservedAt: base},
	})
	require.Len(t, events, 1)
	assert.False(t, events[0].Promoted)

	// A single medium signal is enough
	events = a.Aggregate([]models.SecuritySignal{
		{Type: models.SignalSideloadInstall, PackageName: "a", Severity: models.SeverityMedium, ObservedAt: base},
	})
	assert.True(t, events[0].Promoted)

	// Three low signals accumulate into a promotion
	events = a.Aggregate([]models.SecuritySignal{
		{Type: models.SignalConfigTampered, PackageName: "", Severity: models.SeverityLow, Message: "a", ObservedAt: base},
		{Type: models.SignalConfigTampered, PackageName: "", Severity: models.SeverityLow, Message: "b", ObservedAt: base},
		{Type: models.SignalConfigTampered, PackageName: "", Severity: models.SeverityLow, Message: "c", ObservedAt: base},
	})
	require.Len(t, events, 1)
	assert.True(t, events[0].Promoted)
}

func TestPromotedFilter(t *testing.T) {
	events := []models.SecurityEvent{
		{Type: models.EventCertChanged, Promoted: true},
		{Type: models.EventSideloadInstall, Promoted: false},
		{Type: models.EventConfigTampered, Promoted: true},
	}

	out := Promoted(events)
	require.Len(t, out, 2)
	assert.Equal(t, models.EventCertChanged, out[0].Type)
	assert.Equal(t, models.EventConfigTampered, out[1].Type)

	assert.Empty(t, Promoted(nil))
}

func TestAggregateEmptyInput(t *testing.T) {
	a := newTestAggregator()
	assert.Empty(t, a.Aggregate(nil))
}
