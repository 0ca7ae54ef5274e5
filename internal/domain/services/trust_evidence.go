package services

import (
	"fmt"

	"appsentry/internal/domain/models"
	"appsentry/pkg/logger"
)

// Trust score weights. Hand-tuned; changing one shifts the tier bands.
const (
	trustWeightSystemApp       = 15
	trustWeightPlatformSigned  = 15
	trustWeightCertMatch       = 30
	trustPenaltyCertMismatch   = -20
	trustWeightRecognizedStore = 20
	trustPenaltySideload       = -5
	trustWeightLineage         = 10
	trustWeightBootGreen       = 10
	trustPenaltyBootBad        = -10
	trustPenaltyRooted         = -15
)

// Trust tier boundaries
const (
	trustHighThreshold     = 70
	trustModerateThreshold = 40
)

// TrustEvidenceEngine turns raw per-app evidence into a bounded trust
// score and level. Deterministic; the device-wide integrity snapshot is
// read once per scan session by the caller and passed in.
type TrustEvidenceEngine struct {
	whitelist map[string]models.CertWhitelistEntry
	logger    *logger.Logger
}

// NewTrustEvidenceEngine creates a trust engine over a static certificate
// whitelist keyed by package name
func NewTrustEvidenceEngine(whitelist []models.CertWhitelistEntry, log *logger.Logger) *TrustEvidenceEngine {
	byPkg := make(map[string]models.CertWhitelistEntry, len(whitelist))
	for _, e := range whitelist {
		byPkg[e.PackageName] = e
	}
	return &TrustEvidenceEngine{
		whitelist: byPkg,
		logger:    log.WithComponent("trust-evidence"),
	}
}

// CollectEvidence scores one app's identity and provenance. Missing fields
// contribute neutrally; the engine never fails on partial evidence.
func (e *TrustEvidenceEngine) CollectEvidence(app models.ScannedAppEvidence, device models.DeviceIntegrityEvidence) models.TrustEvidence {
	installer := app.InstallerType()
	partition := app.Partition()
	domain := models.TrustDomainFor(partition, app.IsPlatformSigned, installer)

	ev := models.TrustEvidence{
		PackageName:       app.PackageName,
		Domain:            domain,
		InstallerType:     installer,
		Partition:         partition,
		IsSystemApp:       app.IsSystemApp,
		IsPlatformSigned:  app.IsPlatformSigned,
		IsRooted:          device.IsRooted,
		VerifiedBootState: device.VerifiedBootState,
	}

	score := 0
	add := func(delta int, reason string) {
		score += delta
		ev.Reasons = append(ev.Reasons, fmt.Sprintf("%+d %s", delta, reason))
	}

	if app.IsSystemApp {
		add(trustWeightSystemApp, "system app")
	}
	if app.IsPlatformSigned {
		add(trustWeightPlatformSigned, "platform signed")
	}

	ev.CertMatch = e.matchCertificate(app, domain)
	switch ev.CertMatch {
	case models.CertDeveloperMatch:
		add(trustWeightCertMatch, "certificate matches known developer")
	case models.CertAppMatch:
		add(trustWeightCertMatch, "certificate matches pinned app cert")
	case models.CertMismatch:
		add(trustPenaltyCertMismatch, "certificate does not match whitelist")
	}

	if installer.IsRecognizedStore() {
		add(trustWeightRecognizedStore, "installed from recognized store")
	} else if installer == models.InstallerSideloaded {
		add(trustPenaltySideload, "sideloaded")
	}

	if app.HasSigningLineage && app.SigningLineageLength > 0 {
		ev.HasTrustedLineage = true
		add(trustWeightLineage, "continuous signing lineage")
	}

	switch device.VerifiedBootState {
	case models.VerifiedBootGreen:
		add(trustWeightBootGreen, "verified boot green")
	case models.VerifiedBootOrange, models.VerifiedBootRed:
		add(trustPenaltyBootBad, "verified boot "+device.VerifiedBootState)
	}

	if device.IsRooted {
		add(trustPenaltyRooted, "device rooted")
	}

	ev.TrustScore = clampInt(score, 0, 100)
	ev.TrustLevel = e.trustLevel(ev, device)

	return ev
}

// matchCertificate compares the observed certificate against the
// whitelist. A mismatch is only reachable when the evidence's trust domain
// equals the whitelist entry's domain; otherwise the result is unknown,
// never mismatch. Unreadable certificates are unknown and score-neutral.
func (e *TrustEvidenceEngine) matchCertificate(app models.ScannedAppEvidence, domain models.TrustDomain) models.CertMatch {
	if app.CertSHA256 == "" {
		return models.CertUnknown
	}
	entry, ok := e.whitelist[app.PackageName]
	if !ok {
		return models.CertUnknown
	}
	if entry.Domain != domain {
		return models.CertUnknown
	}
	if entry.AppCert != "" && entry.AppCert == app.CertSHA256 {
		return models.CertAppMatch
	}
	for _, cert := range entry.DeveloperCerts {
		if cert == app.CertSHA256 {
			return models.CertDeveloperMatch
		}
	}
	return models.CertMismatch
}

// trustLevel derives the tier. The anomalous tier overrides the numeric
// bands whenever identity itself is in question.
func (e *TrustEvidenceEngine) trustLevel(ev models.TrustEvidence, device models.DeviceIntegrityEvidence) models.TrustLevel {
	if ev.CertMatch == models.CertMismatch {
		return models.TrustAnomalous
	}
	if device.IsRooted && ev.IsSystemApp && !ev.IsPlatformSigned {
		return models.TrustAnomalous
	}
	switch {
	case ev.TrustScore >= trustHighThreshold:
		return models.TrustHigh
	case ev.TrustScore >= trustModerateThreshold:
		return models.TrustModerate
	default:
		return models.TrustLow
	}
}

// clampInt clamps a value between min and max
func clampInt(value, min, max int) int {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// clamp01 clamps a float to [0, 1]
func clamp01(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}
