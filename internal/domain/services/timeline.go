package services

import (
	"sort"
	"time"

	"appsentry/internal/domain/models"
	"appsentry/pkg/logger"
)

// Install-timeline windows and dropper score weights. The weights are
// additive and clamped to [0, 1].
const (
	timelineImmediateWindow = 10 * time.Minute
	timelineShortTermWindow = 6 * time.Hour
	timelineFreshWindow     = 48 * time.Hour

	timelineWeightFresh              = 0.10
	timelineWeightNetworkBurst       = 0.15
	timelineWeightSMSImmediate       = 0.20
	timelineWeightAccessibilityEarly = 0.25
	timelineWeightOverlayEarly       = 0.20
	timelineWeightEscalation         = 0.15
	timelineWeightBootReceiver       = 0.10
	timelineWeightDynamicCode        = 0.15
	timelineWeightInstallCluster     = 0.15
	timelineWeightLowTrust           = 0.15
	timelineWeightSideload           = 0.10

	dropperCandidateThreshold      = 0.30
	dropperHighConfidenceThreshold = 0.55
)

// TimelineInput pairs an app's feature vector with the events observed for
// it during the analysis window
type TimelineInput struct {
	Vector models.AppFeatureVector
	Events []models.SecurityEvent
}

// InstallTimelineAnalyzer correlates how soon after install an app began
// acquiring capabilities. Droppers and droppees follow a tight schedule;
// legitimate apps do not.
type InstallTimelineAnalyzer struct {
	logger *logger.Logger
	now    func() time.Time
}

// NewInstallTimelineAnalyzer creates a timeline analyzer with an injectable
// clock
func NewInstallTimelineAnalyzer(log *logger.Logger, now func() time.Time) *InstallTimelineAnalyzer {
	if now == nil {
		now = time.Now
	}
	return &InstallTimelineAnalyzer{
		logger: log.WithComponent("timeline"),
		now:    now,
	}
}

// Analyze scores one app's install timeline
func (a *InstallTimelineAnalyzer) Analyze(in TimelineInput) models.TimelineResult {
	result := models.TimelineResult{
		PackageName: in.Vector.PackageName,
		Phase:       models.PhaseNotApplicable,
	}

	if in.Vector.InstalledAt.IsZero() {
		return result
	}

	age := a.now().Sub(in.Vector.InstalledAt)
	result.Phase = phaseFor(age)
	result.IsFreshInstall = age <= timelineFreshWindow

	// Established apps score zero; none of their history is examined.
	if !result.IsFreshInstall {
		return result
	}

	score := 0.0
	addSignal := func(name string, weight float64, description string) {
		score += weight
		result.Signals = append(result.Signals, models.TimelineSignal{
			Name:        name,
			Weight:      weight,
			Description: description,
		})
	}

	addSignal("fresh_install", timelineWeightFresh, "installed within the last 48 hours")

	for _, ev := range in.Events {
		sinceInstall := ev.WindowStart.Sub(in.Vector.InstalledAt)
		if sinceInstall < 0 {
			continue
		}
		switch ev.Type {
		case models.EventNetworkBurst:
			if sinceInstall <= timelineImmediateWindow {
				addSignal("immediate_network_burst", timelineWeightNetworkBurst, "network burst within minutes of install")
			}
		case models.EventPermissionEscalation:
			if sinceInstall <= timelineFreshWindow {
				addSignal("early_permission_escalation", timelineWeightEscalation, "permission escalation within 48 hours of install")
			}
		}
	}

	if in.Vector.HasCluster(models.ClusterSMS) && age <= timelineImmediateWindow {
		addSignal("immediate_sms_access", timelineWeightSMSImmediate, "SMS capability active within minutes of install")
	}
	if in.Vector.SpecialAccess.Accessibility && age <= timelineShortTermWindow {
		addSignal("early_accessibility", timelineWeightAccessibilityEarly, "accessibility service enabled within hours of install")
	}
	if in.Vector.SpecialAccess.Overlay && age <= timelineShortTermWindow {
		addSignal("early_overlay", timelineWeightOverlayEarly, "overlay permission active within hours of install")
	}
	if in.Vector.HasCluster(models.ClusterInstallPackages) {
		addSignal("fresh_install_capability", timelineWeightInstallCluster, "package installation capability on a fresh install")
	}
	if in.Vector.HasBootReceiver {
		addSignal("boot_persistence", timelineWeightBootReceiver, "boot persistence on a fresh install")
	}
	if in.Vector.UsesDynamicCodeLoading {
		addSignal("dynamic_code_loading", timelineWeightDynamicCode, "dynamic code loading on a fresh install")
	}
	if in.Vector.TrustScore < trustModerateThreshold {
		addSignal("low_trust", timelineWeightLowTrust, "low trust score")
	}
	if in.Vector.InstallerType == models.InstallerSideloaded {
		addSignal("sideloaded", timelineWeightSideload, "sideloaded install channel")
	}

	result.Score = clamp01(score)
	result.IsDropperCandidate = result.Score >= dropperCandidateThreshold
	result.IsHighConfidenceDropper = result.Score >= dropperHighConfidenceThreshold

	if result.IsDropperCandidate {
		a.logger.Warn().
			Str("package", result.PackageName).
			Float64("score", result.Score).
			Str("phase", string(result.Phase)).
			Msg("install timeline flagged dropper candidate")
	}

	return result
}

// AnalyzeAll scores a batch, drops zero-score results and orders the rest
// by descending score with package name as the tie-break
func (a *InstallTimelineAnalyzer) AnalyzeAll(inputs []TimelineInput) []models.TimelineResult {
	var results []models.TimelineResult
	for _, in := range inputs {
		r := a.Analyze(in)
		if r.Score > 0 {
			results = append(results, r)
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].PackageName < results[j].PackageName
	})
	return results
}

func phaseFor(age time.Duration) models.TimelinePhase {
	switch {
	case age <= timelineImmediateWindow:
		return models.PhaseImmediate
	case age <= timelineShortTermWindow:
		return models.PhaseShortTerm
	case age <= timelineFreshWindow:
		return models.PhaseMediumTerm
	default:
		return models.PhaseEstablished
	}
}
