package services

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appsentry/internal/domain/models"
)

var resolverNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestResolver() *RootCauseResolver {
	return NewRootCauseResolver(testLogger(), func() time.Time { return resolverNow })
}

func certChangedEvent(pkg string) models.SecurityEvent {
	return models.SecurityEvent{
		ID:          uuid.New(),
		Type:        models.EventCertChanged,
		PackageName: pkg,
		Severity:    models.SeverityCritical,
		Summary:     "signing certificate changed since last scan",
		Promoted:    true,
	}
}

func TestResolveCertChangedLowTrustSideload(t *testing.T) {
	r := newTestResolver()

	inc := r.Resolve(ResolveInput{
		Event: certChangedEvent("com.shady.tool"),
		Vector: models.AppFeatureVector{
			PackageName:   "com.shady.tool",
			TrustScore:    10,
			InstallerType: models.InstallerSideloaded,
		},
	})

	assert.Equal(t, models.IncidentOpen, inc.Status)
	assert.Equal(t, "Possible app tampering: com.shady.tool", inc.Title)
	assert.Equal(t, models.SeverityCritical, inc.Severity)
	assert.Equal(t, resolverNow, inc.CreatedAt)

	top := inc.TopHypothesis()
	require.NotNil(t, top)
	assert.Equal(t, "app_tampering", top.Name)
	// 0.50 base + 0.20 low trust + 0.15 sideload
	assert.InDelta(t, 0.85, top.Confidence, 1e-9)
	assert.Len(t, top.SupportingEvidence, 2)

	// Decisive top hypothesis on a named package: uninstall first
	require.NotEmpty(t, inc.Actions)
	assert.Equal(t, models.ActionUninstall, inc.Actions[0].Type)
	assert.Equal(t, 1, inc.Actions[0].Priority)
	assert.Equal(t, models.ActionMonitor, inc.Actions[len(inc.Actions)-1].Type)
}

func TestResolveCertChangedStoreApp(t *testing.T) {
	r := newTestResolver()

	inc := r.Resolve(ResolveInput{
		Event: certChangedEvent("com.bank.app"),
		Vector: models.AppFeatureVector{
			PackageName:   "com.bank.app",
			TrustScore:    75,
			InstallerType: models.InstallerPlayStore,
		},
	})

	require.Len(t, inc.Hypotheses, 2)
	// tampering stays at base 0.50, legitimate resign climbs to 0.50;
	// equal confidence breaks on name
	assert.Equal(t, "app_tampering", inc.Hypotheses[0].Name)
	assert.InDelta(t, 0.50, inc.Hypotheses[0].Confidence, 1e-9)
	assert.Equal(t, "legitimate_resign", inc.Hypotheses[1].Name)
	assert.InDelta(t, 0.50, inc.Hypotheses[1].Confidence, 1e-9)

	// No hypothesis above the uninstall threshold
	for _, a := range inc.Actions {
		assert.NotEqual(t, models.ActionUninstall, a.Type)
	}
}

func TestResolveCorroborationBoost(t *testing.T) {
	r := newTestResolver()

	in := ResolveInput{
		Event: certChangedEvent("com.shady.tool"),
		Vector: models.AppFeatureVector{
			PackageName: "com.shady.tool",
			TrustScore:  50,
		},
		RecentEvents: []models.SecurityEvent{
			{ID: uuid.New(), Type: models.EventSideloadInstall},
			{ID: uuid.New(), Type: models.EventPermissionEscalation},
		},
	}

	inc := r.Resolve(in)
	assert.Equal(t, 2, inc.CorroboratingEvents)
	// 0.50 base + 0.10 corroboration, applied to every hypothesis
	assert.InDelta(t, 0.60, inc.Hypotheses[0].Confidence, 1e-9)
	assert.InDelta(t, 0.40, inc.Hypotheses[1].Confidence, 1e-9)

	// A single extra event is below the corroboration minimum
	in.RecentEvents = in.RecentEvents[:1]
	inc = r.Resolve(in)
	assert.InDelta(t, 0.50, inc.Hypotheses[0].Confidence, 1e-9)
}

func TestResolveDropperBoostOnlyEscalationHypotheses(t *testing.T) {
	r := newTestResolver()

	tl := models.TimelineResult{
		PackageName:             "com.shady.tool",
		Score:                   0.60,
		IsDropperCandidate:      true,
		IsHighConfidenceDropper: true,
	}

	inc := r.Resolve(ResolveInput{
		Event: certChangedEvent("com.shady.tool"),
		Vector: models.AppFeatureVector{
			PackageName: "com.shady.tool",
			TrustScore:  50,
		},
		Timeline: &tl,
	})

	require.Len(t, inc.Hypotheses, 2)
	// Escalation hypothesis gets the 0.15 high-confidence boost, the
	// benign alternative does not move
	assert.Equal(t, "app_tampering", inc.Hypotheses[0].Name)
	assert.InDelta(t, 0.65, inc.Hypotheses[0].Confidence, 1e-9)
	assert.Equal(t, "legitimate_resign", inc.Hypotheses[1].Name)
	assert.InDelta(t, 0.30, inc.Hypotheses[1].Confidence, 1e-9)
}

func TestResolveConfidenceClamped(t *testing.T) {
	r := newTestResolver()

	tl := models.TimelineResult{Score: 0.9, IsDropperCandidate: true, IsHighConfidenceDropper: true}
	inc := r.Resolve(ResolveInput{
		Event: certChangedEvent("com.shady.tool"),
		Vector: models.AppFeatureVector{
			PackageName:   "com.shady.tool",
			TrustScore:    5,
			InstallerType: models.InstallerSideloaded,
		},
		Timeline: &tl,
		RecentEvents: []models.SecurityEvent{
			{ID: uuid.New()}, {ID: uuid.New()}, {ID: uuid.New()},
		},
	})

	// 0.50 + 0.20 + 0.15 + 0.10 + 0.15 would exceed 1.0
	assert.Equal(t, 1.0, inc.TopHypothesis().Confidence)
}

func TestResolveNewCACertNoPackage(t *testing.T) {
	r := newTestResolver()

	inc := r.Resolve(ResolveInput{
		Event: models.SecurityEvent{
			ID:       uuid.New(),
			Type:     models.EventNewCACert,
			Severity: models.SeverityMedium,
			Summary:  "user CA certificate added",
		},
		Config: models.ConfigSnapshot{
			VPNActive: true,
			ProxyHost: "10.0.0.1",
		},
	})

	assert.Equal(t, "Possible traffic interception", inc.Title)
	top := inc.TopHypothesis()
	require.NotNil(t, top)
	assert.Equal(t, "traffic_interception", top.Name)
	// 0.40 + 0.25 VPN + 0.10 proxy crosses the uninstall threshold, but
	// there is no package to uninstall
	assert.InDelta(t, 0.75, top.Confidence, 1e-9)
	for _, a := range inc.Actions {
		assert.NotEqual(t, models.ActionUninstall, a.Type)
	}

	// Settings review is recommended for device-level events
	assert.Equal(t, models.ActionCheckSettings, inc.Actions[0].Type)
}

func TestResolveSpecialAccessRevocation(t *testing.T) {
	r := newTestResolver()

	inc := r.Resolve(ResolveInput{
		Event: models.SecurityEvent{
			ID:          uuid.New(),
			Type:        models.EventSpecialAccessEnabled,
			PackageName: "com.shady.tool",
			Severity:    models.SeverityMedium,
		},
		Vector: models.AppFeatureVector{
			PackageName:   "com.shady.tool",
			TrustScore:    10,
			IsNewApp:      true,
			SpecialAccess: models.AppSpecialAccess{Accessibility: true},
		},
	})

	top := inc.TopHypothesis()
	require.NotNil(t, top)
	assert.Equal(t, "special_access_abuse", top.Name)
	// 0.40 + 0.20 low trust + 0.15 new app
	assert.InDelta(t, 0.75, top.Confidence, 1e-9)

	require.Len(t, inc.Actions, 3)
	assert.Equal(t, models.ActionUninstall, inc.Actions[0].Type)
	assert.Equal(t, models.ActionRevokeSpecialAccess, inc.Actions[1].Type)
	assert.Equal(t, models.ActionMonitor, inc.Actions[2].Type)
	assert.Equal(t, []int{1, 2, 3}, []int{
		inc.Actions[0].Priority, inc.Actions[1].Priority, inc.Actions[2].Priority,
	})
}

func TestResolveUnknownEventStillActionable(t *testing.T) {
	r := newTestResolver()

	inc := r.Resolve(ResolveInput{
		Event: models.SecurityEvent{
			ID:      uuid.New(),
			Type:    models.EventType("unmapped"),
			Summary: "unclassified anomaly",
		},
	})

	assert.Equal(t, "Security event", inc.Title)
	assert.Equal(t, "unclassified anomaly", inc.Summary)
	assert.Empty(t, inc.Hypotheses)
	require.Len(t, inc.Actions, 1)
	assert.Equal(t, models.ActionMonitor, inc.Actions[0].Type)
}

func TestIncidentHeadlineFollowsTopHypothesis(t *testing.T) {
	r := newTestResolver()

	// The raw event summary must not leak into the headline when a
	// hypothesis explains the event.
	inc := r.Resolve(ResolveInput{
		Event: certChangedEvent("com.shady.tool"),
		Vector: models.AppFeatureVector{
			PackageName:   "com.shady.tool",
			TrustScore:    10,
			InstallerType: models.InstallerSideloaded,
		},
	})

	top := inc.TopHypothesis()
	require.NotNil(t, top)
	assert.Equal(t, "app_tampering", top.Name)
	assert.Equal(t, "Possible app tampering: com.shady.tool", inc.Title)
	assert.Equal(t, top.Description, inc.Summary)
	assert.NotEqual(t, "signing certificate changed since last scan", inc.Summary)

	// When the benign explanation wins, the headline follows it.
	inc = r.Resolve(ResolveInput{
		Event: models.SecurityEvent{
			ID:          uuid.New(),
			Type:        models.EventSideloadInstall,
			PackageName: "com.dev.build",
			Severity:    models.SeverityMedium,
			Summary:     "installed outside a recognized store",
		},
		Vector: models.AppFeatureVector{
			PackageName:   "com.dev.build",
			TrustScore:    60,
			IsDebugSigned: true,
		},
	})
	assert.Equal(t, "Developer install: com.dev.build", inc.Title)
	assert.Equal(t, "A developer or power user installed the app deliberately", inc.Summary)
}

func TestResolveAllCrossCorroboration(t *testing.T) {
	r := newTestResolver()

	events := []models.SecurityEvent{
		{ID: uuid.New(), Type: models.EventCertChanged, PackageName: "com.shady.tool", Severity: models.SeverityCritical},
		{ID: uuid.New(), Type: models.EventPermissionEscalation, PackageName: "com.shady.tool", Severity: models.SeverityHigh},
		{ID: uuid.New(), Type: models.EventSideloadInstall, PackageName: "com.other.app", Severity: models.SeverityMedium},
	}
	vectors := map[string]models.AppFeatureVector{
		"com.shady.tool": {PackageName: "com.shady.tool", TrustScore: 50},
		"com.other.app":  {PackageName: "com.other.app", TrustScore: 50},
	}

	incidents := r.ResolveAll(events, vectors, models.ConfigSnapshot{}, nil)
	require.Len(t, incidents, 3)

	// Each com.shady.tool event sees exactly one other; one extra event is
	// below the corroboration minimum so confidences stay at base
	assert.Equal(t, 1, incidents[0].CorroboratingEvents)
	assert.Equal(t, 1, incidents[1].CorroboratingEvents)
	assert.Equal(t, 0, incidents[2].CorroboratingEvents)
}

func TestHypothesesSortedByConfidence(t *testing.T) {
	r := newTestResolver()

	inc := r.Resolve(ResolveInput{
		Event: models.SecurityEvent{
			ID:          uuid.New(),
			Type:        models.EventSideloadInstall,
			PackageName: "com.dev.build",
			Severity:    models.SeverityMedium,
		},
		Vector: models.AppFeatureVector{
			PackageName:   "com.dev.build",
			TrustScore:    60,
			IsDebugSigned: true,
		},
	})

	require.Len(t, inc.Hypotheses, 2)
	// untrusted_distribution stays at 0.40, developer_install reaches 0.45
	assert.Equal(t, "developer_install", inc.Hypotheses[0].Name)
	assert.InDelta(t, 0.45, inc.Hypotheses[0].Confidence, 1e-9)
	assert.Equal(t, "untrusted_distribution", inc.Hypotheses[1].Name)
}
