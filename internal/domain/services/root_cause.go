package services

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"appsentry/internal/domain/models"
	"appsentry/pkg/logger"
)

// Corroboration and timeline feedback boosts applied on top of the per
// hypothesis base confidence. Confidence is clamped to [0, 1] after every
// addition.
const (
	corroborationMinEvents = 2
	corroborationBoost     = 0.10

	dropperCandidateBoost      = 0.10
	dropperHighConfidenceBoost = 0.15

	uninstallConfidenceThreshold = 0.70
)

// ResolveInput is everything the resolver consumes for one event
type ResolveInput struct {
	Event  models.SecurityEvent
	Vector models.AppFeatureVector
	Config models.ConfigSnapshot

	// Timeline is the dropper assessment for the package, nil when the
	// analyzer produced nothing for it
	Timeline *models.TimelineResult

	// RecentEvents are other events for the same package inside the
	// correlation window, excluding the event being resolved
	RecentEvents []models.SecurityEvent
}

// RootCauseResolver turns a promoted event into an incident: competing
// hypotheses with clamped confidence, plus ranked remediation actions.
type RootCauseResolver struct {
	logger *logger.Logger
	now    func() time.Time
}

// NewRootCauseResolver creates a resolver with an injectable clock
func NewRootCauseResolver(log *logger.Logger, now func() time.Time) *RootCauseResolver {
	if now == nil {
		now = time.Now
	}
	return &RootCauseResolver{
		logger: log.WithComponent("root-cause"),
		now:    now,
	}
}

// draft carries a hypothesis under construction. Escalation drafts are the
// ones the dropper timeline is allowed to boost.
type draft struct {
	hypothesis models.Hypothesis
	escalation bool
}

func newDraft(name, description string, base float64) *draft {
	return &draft{hypothesis: models.Hypothesis{
		Name:        name,
		Description: description,
		Confidence:  base,
	}}
}

func (d *draft) add(delta float64, evidence string) *draft {
	d.hypothesis.Confidence = clamp01(d.hypothesis.Confidence + delta)
	if delta >= 0 {
		d.hypothesis.SupportingEvidence = append(d.hypothesis.SupportingEvidence, evidence)
	} else {
		d.hypothesis.ContradictingEvidence = append(d.hypothesis.ContradictingEvidence, evidence)
	}
	return d
}

func (d *draft) markEscalation() *draft {
	d.escalation = true
	return d
}

// Resolve builds the incident for one event
func (r *RootCauseResolver) Resolve(in ResolveInput) models.SecurityIncident {
	now := r.now()
	drafts := r.buildHypotheses(in)

	if len(in.RecentEvents) >= corroborationMinEvents {
		note := fmt.Sprintf("%d other recent events for this package", len(in.RecentEvents))
		for _, d := range drafts {
			d.add(corroborationBoost, note)
		}
	}

	if in.Timeline != nil {
		boost := 0.0
		switch {
		case in.Timeline.IsHighConfidenceDropper:
			boost = dropperHighConfidenceBoost
		case in.Timeline.IsDropperCandidate:
			boost = dropperCandidateBoost
		}
		if boost > 0 {
			for _, d := range drafts {
				if d.escalation {
					d.add(boost, fmt.Sprintf("install timeline dropper score %.2f", in.Timeline.Score))
				}
			}
		}
	}

	hypotheses := make([]models.Hypothesis, 0, len(drafts))
	for _, d := range drafts {
		hypotheses = append(hypotheses, d.hypothesis)
	}
	sort.SliceStable(hypotheses, func(i, j int) bool {
		if hypotheses[i].Confidence != hypotheses[j].Confidence {
			return hypotheses[i].Confidence > hypotheses[j].Confidence
		}
		return hypotheses[i].Name < hypotheses[j].Name
	})

	title, summary := incidentHeadline(in.Event, hypotheses)

	incident := models.SecurityIncident{
		ID:                  uuid.New(),
		EventID:             in.Event.ID,
		PackageName:         in.Event.PackageName,
		Title:               title,
		Summary:             summary,
		Severity:            in.Event.Severity,
		Status:              models.IncidentOpen,
		Hypotheses:          hypotheses,
		CorroboratingEvents: len(in.RecentEvents),
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	incident.Actions = r.recommendActions(in, incident.TopHypothesis())

	r.logger.Info().
		Str("package", incident.PackageName).
		Str("event_type", string(in.Event.Type)).
		Int("hypotheses", len(incident.Hypotheses)).
		Msg("incident resolved")

	return incident
}

// ResolveAll resolves a batch of events. Events for the same package
// corroborate each other; an event never corroborates itself.
func (r *RootCauseResolver) ResolveAll(events []models.SecurityEvent, vectors map[string]models.AppFeatureVector, config models.ConfigSnapshot, timelines map[string]models.TimelineResult) []models.SecurityIncident {
	byPackage := make(map[string][]models.SecurityEvent)
	for _, ev := range events {
		byPackage[ev.PackageName] = append(byPackage[ev.PackageName], ev)
	}

	incidents := make([]models.SecurityIncident, 0, len(events))
	for _, ev := range events {
		in := ResolveInput{
			Event:  ev,
			Vector: vectors[ev.PackageName],
			Config: config,
		}
		if tl, ok := timelines[ev.PackageName]; ok {
			in.Timeline = &tl
		}
		for _, other := range byPackage[ev.PackageName] {
			if other.ID != ev.ID {
				in.RecentEvents = append(in.RecentEvents, other)
			}
		}
		incidents = append(incidents, r.Resolve(in))
	}
	return incidents
}

// buildHypotheses produces 1-3 competing explanations per event type. Each
// hypothesis starts from a hand-tuned base and moves with the evidence.
func (r *RootCauseResolver) buildHypotheses(in ResolveInput) []*draft {
	v := in.Vector
	lowTrust := v.TrustScore < trustModerateThreshold
	sideloaded := v.InstallerType == models.InstallerSideloaded
	fromStore := v.InstallerType.IsRecognizedStore()

	switch in.Event.Type {
	case models.EventCertChanged:
		tampering := newDraft("app_tampering",
			"The app was replaced or re-signed by a party other than its developer", 0.50).
			markEscalation()
		if lowTrust {
			tampering.add(0.20, "trust score is low")
		}
		if sideloaded {
			tampering.add(0.15, "app is sideloaded")
		}
		resign := newDraft("legitimate_resign",
			"The developer rotated the signing key or transferred the app", 0.30)
		if fromStore {
			resign.add(0.20, "installed through a recognized store")
		}
		return []*draft{tampering, resign}

	case models.EventVersionRollback:
		attack := newDraft("downgrade_attack",
			"An older vulnerable version was reinstalled over the current one", 0.45).
			markEscalation()
		if sideloaded {
			attack.add(0.20, "app is sideloaded")
		}
		if lowTrust {
			attack.add(0.15, "trust score is low")
		}
		manual := newDraft("manual_downgrade",
			"The user deliberately installed an older version", 0.30)
		if fromStore {
			manual.add(0.15, "installed through a recognized store")
		}
		return []*draft{attack, manual}

	case models.EventPermissionEscalation:
		staged := newDraft("staged_escalation",
			"The app is acquiring capabilities in stages after gaining a foothold", 0.45).
			markEscalation()
		if v.IsNewApp {
			staged.add(0.20, "app was installed recently")
		}
		if v.HasCluster(models.ClusterInstallPackages) {
			staged.add(0.15, "app can install other packages")
		}
		if lowTrust {
			staged.add(0.10, "trust score is low")
		}
		update := newDraft("feature_update",
			"A normal update added features that need the new permissions", 0.35)
		if fromStore && v.TrustScore >= trustHighThreshold {
			update.add(0.20, "high-trust app from a recognized store")
		}
		return []*draft{staged, update}

	case models.EventSideloadInstall:
		untrusted := newDraft("untrusted_distribution",
			"The app arrived outside any vetted distribution channel", 0.40).
			markEscalation()
		if lowTrust {
			untrusted.add(0.20, "trust score is low")
		}
		if v.IsNewApp {
			untrusted.add(0.10, "app was installed recently")
		}
		developer := newDraft("developer_install",
			"A developer or power user installed the app deliberately", 0.25)
		if v.IsDebugSigned {
			developer.add(0.20, "app is debug-signed")
		}
		return []*draft{untrusted, developer}

	case models.EventSpecialAccessEnabled:
		abuse := newDraft("special_access_abuse",
			"A powerful service toggle was enabled for an app that does not need it", 0.40).
			markEscalation()
		if lowTrust {
			abuse.add(0.20, "trust score is low")
		}
		if v.IsNewApp {
			abuse.add(0.15, "app was installed recently")
		}
		intended := newDraft("user_enabled_feature",
			"The user enabled the service for a legitimate feature", 0.35)
		if v.Category == models.CategoryAccessibilityTool || v.Category == models.CategorySecurity {
			intended.add(0.20, "category expects this access")
		}
		return []*draft{abuse, intended}

	case models.EventConfigTampered:
		tamper := newDraft("settings_tampering",
			"Security-relevant device settings were weakened", 0.40).
			markEscalation()
		if in.Config.USBDebuggingEnabled {
			tamper.add(0.15, "USB debugging is enabled")
		}
		if in.Config.UnknownSourcesAllowed {
			tamper.add(0.10, "unknown-source installs are allowed")
		}
		user := newDraft("user_configuration",
			"The user changed the settings intentionally", 0.30)
		return []*draft{tamper, user}

	case models.EventNewCACert:
		mitm := newDraft("traffic_interception",
			"A user-added CA certificate enables TLS interception of this device", 0.40).
			markEscalation()
		if in.Config.VPNActive {
			mitm.add(0.25, "a VPN is active alongside the new CA")
		}
		if in.Config.HasProxy() {
			mitm.add(0.10, "a global proxy is configured")
		}
		profile := newDraft("enterprise_or_debug_profile",
			"The certificate belongs to an enterprise profile or a debugging setup", 0.30)
		if in.Config.DeveloperOptionsEnabled {
			profile.add(0.15, "developer options are enabled")
		}
		return []*draft{mitm, profile}

	case models.EventSurfaceIncreased:
		exposed := newDraft("exposed_attack_surface",
			"New unprotected components are reachable by any co-installed app", 0.35).
			markEscalation()
		if lowTrust {
			exposed.add(0.15, "trust score is low")
		}
		update := newDraft("feature_update",
			"An update legitimately added exported components", 0.30)
		return []*draft{exposed, update}

	case models.EventNewSystemApp:
		implant := newDraft("system_image_implant",
			"A privileged app appeared on a system partition after baselining", 0.40).
			markEscalation()
		if lowTrust {
			implant.add(0.20, "trust score is low")
		}
		oem := newDraft("oem_update",
			"An OTA or OEM update shipped the new system app", 0.35)
		if v.InstallerType == models.InstallerSystemUpdater {
			oem.add(0.15, "delivered by the system updater")
		}
		return []*draft{implant, oem}

	case models.EventDropperPattern:
		dropper := newDraft("dropper_installation",
			"Install timing and capability acquisition match a dropper playbook", 0.50).
			markEscalation()
		onboarding := newDraft("aggressive_onboarding",
			"A legitimate app front-loads its permission requests", 0.25)
		if fromStore {
			onboarding.add(0.15, "installed through a recognized store")
		}
		return []*draft{dropper, onboarding}

	case models.EventNetworkBurst:
		exfil := newDraft("data_exfiltration",
			"A burst of network activity right after install suggests data upload", 0.35).
			markEscalation()
		if v.IsNewApp {
			exfil.add(0.15, "app was installed recently")
		}
		sync := newDraft("initial_sync",
			"First-run content sync explains the burst", 0.30)
		return []*draft{exfil, sync}
	}

	return nil
}

// recommendActions ranks remediations, most decisive first. MONITOR is
// always present so the incident is never action-less.
func (r *RootCauseResolver) recommendActions(in ResolveInput, top *models.Hypothesis) []models.RecommendedAction {
	var actions []models.RecommendedAction
	priority := 1

	if top != nil && top.Confidence > uninstallConfidenceThreshold && in.Event.PackageName != "" {
		actions = append(actions, models.RecommendedAction{
			Type:        models.ActionUninstall,
			Priority:    priority,
			Description: "Uninstall " + in.Event.PackageName,
		})
		priority++
	}

	if in.Vector.SpecialAccess.Any() {
		actions = append(actions, models.RecommendedAction{
			Type:        models.ActionRevokeSpecialAccess,
			Priority:    priority,
			Description: "Revoke the app's special access grants",
		})
		priority++
	}

	if in.Event.Type == models.EventConfigTampered || in.Event.Type == models.EventNewCACert {
		actions = append(actions, models.RecommendedAction{
			Type:        models.ActionCheckSettings,
			Priority:    priority,
			Description: "Review device security settings and installed certificates",
		})
		priority++
	}

	actions = append(actions, models.RecommendedAction{
		Type:        models.ActionMonitor,
		Priority:    priority,
		Description: "Keep the app under observation in upcoming scans",
	})
	return actions
}

// hypothesisTitles maps hypothesis names to incident titles so the headline
// reflects the most likely explanation rather than the raw trigger.
var hypothesisTitles = map[string]string{
	"app_tampering":               "Possible app tampering",
	"legitimate_resign":           "Signing key rotation",
	"downgrade_attack":            "Possible downgrade attack",
	"manual_downgrade":            "Deliberate version downgrade",
	"staged_escalation":           "Staged permission escalation",
	"feature_update":              "Update added capabilities",
	"untrusted_distribution":      "Untrusted install channel",
	"developer_install":           "Developer install",
	"special_access_abuse":        "Special access abuse",
	"user_enabled_feature":        "User-enabled service access",
	"settings_tampering":          "Security settings tampering",
	"user_configuration":          "User configuration change",
	"traffic_interception":        "Possible traffic interception",
	"enterprise_or_debug_profile": "Enterprise or debug certificate profile",
	"exposed_attack_surface":      "Exposed attack surface",
	"system_image_implant":        "Possible system image implant",
	"oem_update":                  "System update shipped new app",
	"dropper_installation":        "Dropper-like installation",
	"aggressive_onboarding":       "Aggressive permission onboarding",
	"data_exfiltration":           "Possible data exfiltration",
	"initial_sync":                "First-run sync burst",
}

// incidentHeadline lets the top-confidence hypothesis supply the incident
// title and summary. Events no hypothesis applies to fall back to the raw
// event summary.
func incidentHeadline(ev models.SecurityEvent, hypotheses []models.Hypothesis) (string, string) {
	if len(hypotheses) == 0 {
		return incidentTitle(ev), ev.Summary
	}
	top := hypotheses[0]
	title, ok := hypothesisTitles[top.Name]
	if !ok {
		return incidentTitle(ev), top.Description
	}
	if ev.PackageName != "" {
		title += ": " + ev.PackageName
	}
	return title, top.Description
}

func incidentTitle(ev models.SecurityEvent) string {
	titles := map[models.EventType]string{
		models.EventCertChanged:          "Signing certificate changed",
		models.EventVersionRollback:      "Version rollback detected",
		models.EventPermissionEscalation: "Permission escalation",
		models.EventSideloadInstall:      "Sideloaded install",
		models.EventSpecialAccessEnabled: "Special access enabled",
		models.EventConfigTampered:       "Device configuration changed",
		models.EventNewCACert:            "User CA certificate added",
		models.EventSurfaceIncreased:     "Exported surface increased",
		models.EventNewSystemApp:         "New system app appeared",
		models.EventDropperPattern:       "Dropper-like install pattern",
		models.EventNetworkBurst:         "Unusual network activity",
	}
	title, ok := titles[ev.Type]
	if !ok {
		title = "Security event"
	}
	if ev.PackageName != "" {
		return title + ": " + ev.PackageName
	}
	return title
}
