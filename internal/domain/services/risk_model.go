package services

import (
	"sort"

	"appsentry/internal/domain/models"
	"appsentry/pkg/logger"
)

// Risk-score rollup points per adjusted severity. Display/sort only; the
// verdict never reads the numeric score.
var (
	hardRiskPoints  = map[models.Severity]int{models.SeverityCritical: 30, models.SeverityHigh: 20, models.SeverityMedium: 10, models.SeverityLow: 5}
	softRiskPoints  = map[models.Severity]int{models.SeverityCritical: 15, models.SeverityHigh: 10, models.SeverityMedium: 5, models.SeverityLow: 2}
	comboRiskPoints = map[models.Severity]int{models.SeverityCritical: 40, models.SeverityHigh: 25, models.SeverityMedium: 15, models.SeverityLow: 5}
)

// Clusters whose activation right after an installer change to sideload is
// escalated (verdict rule 5)
var sideloadDangerClusters = []models.ClusterID{
	models.ClusterAccessibility,
	models.ClusterNotificationListener,
	models.ClusterVPN,
	models.ClusterInstallPackages,
	models.ClusterDeviceAdmin,
}

// EvaluateInput is everything the risk model consumes for one app
type EvaluateInput struct {
	Trust              models.TrustEvidence
	Findings           []models.RawFinding
	GrantedPermissions []string
	Category           models.AppCategory
	IsNewApp           bool
	SpecialAccess      models.AppSpecialAccess
	InstallClass       models.InstallClass
	IsDebugSigned      bool
}

// TrustRiskModel is the central decision engine: it combines trust
// evidence, findings, capability clusters and dangerous-combo matches into
// a four-tier verdict via a strict first-match priority chain.
type TrustRiskModel struct {
	clusters []models.CapabilityCluster
	combos   []models.DangerousCombo
	logger   *logger.Logger
}

// NewTrustRiskModel creates a risk model over the static catalogs
func NewTrustRiskModel(clusters []models.CapabilityCluster, combos []models.DangerousCombo, log *logger.Logger) *TrustRiskModel {
	return &TrustRiskModel{
		clusters: clusters,
		combos:   combos,
		logger:   log.WithComponent("risk-model"),
	}
}

// Evaluate produces the verdict for one app. Deterministic: identical
// input yields an identical verdict.
func (m *TrustRiskModel) Evaluate(in EvaluateInput) models.AppVerdict {
	profile := models.ProfileFor(in.InstallClass)

	active := m.activeClusters(in)
	unexpected := m.unexpectedHighRisk(active, in.Category)
	matched := m.matchCombos(active, in)
	adjusted := m.adjustFindings(in.Findings, in.Trust.TrustScore, profile)

	verdict := models.AppVerdict{
		PackageName:      in.Trust.PackageName,
		TrustScore:       in.Trust.TrustScore,
		TrustLevel:       in.Trust.TrustLevel,
		AdjustedFindings: adjusted,
		ActiveClusters:   clusterIDs(active),
		MatchedCombos:    comboNames(matched),
	}

	verdict.EffectiveRisk = m.decide(in, profile, adjusted, active, unexpected, matched)
	verdict.RiskScore = m.riskScore(adjusted, matched)
	verdict.TopReasons = m.topReasons(verdict.EffectiveRisk, matched, adjusted)
	verdict.ShouldShowInMainList = verdict.EffectiveRisk != models.RiskSafe

	return verdict
}

// activeClusters resolves which capability clusters are really active: the
// permission must be granted, and clusters backed by a toggleable service
// additionally need the enabled state confirmed by the snapshot.
func (m *TrustRiskModel) activeClusters(in EvaluateInput) []models.CapabilityCluster {
	granted := make(map[string]bool, len(in.GrantedPermissions))
	for _, p := range in.GrantedPermissions {
		granted[p] = true
	}

	var active []models.CapabilityCluster
	for _, cluster := range m.clusters {
		hasPermission := false
		for _, p := range cluster.Permissions {
			if granted[p] {
				hasPermission = true
				break
			}
		}
		if !hasPermission {
			continue
		}
		if !in.SpecialAccess.Enabled(cluster.SpecialAccess) {
			continue
		}
		active = append(active, cluster)
	}
	return active
}

// unexpectedHighRisk returns active high-risk clusters not whitelisted for
// the app's category
func (m *TrustRiskModel) unexpectedHighRisk(active []models.CapabilityCluster, category models.AppCategory) []models.ClusterID {
	var out []models.ClusterID
	for _, c := range active {
		if c.IsHighRisk && !models.IsClusterExpected(category, c.ID) {
			out = append(out, c.ID)
		}
	}
	return out
}

// matchCombos applies the combo catalog. A combo matches only when every
// listed condition holds; there is no partial credit.
func (m *TrustRiskModel) matchCombos(active []models.CapabilityCluster, in EvaluateInput) []models.DangerousCombo {
	activeSet := make(map[models.ClusterID]bool, len(active))
	for _, c := range active {
		activeSet[c.ID] = true
	}

	var matched []models.DangerousCombo
	for _, combo := range m.combos {
		ok := true
		for _, required := range combo.RequiredClusters {
			if !activeSet[required] {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		if combo.RequiresLowTrust && !in.Trust.IsLowTrust() {
			continue
		}
		if combo.RequiresSideload && in.Trust.InstallerType != models.InstallerSideloaded {
			continue
		}
		if combo.RequiresDebugCert && !in.IsDebugSigned {
			continue
		}
		if combo.RespectCategoryWhitelist && m.allClustersExpected(combo.RequiredClusters, in.Category) {
			continue
		}
		matched = append(matched, combo)
	}
	return matched
}

func (m *TrustRiskModel) allClustersExpected(clusters []models.ClusterID, category models.AppCategory) bool {
	for _, id := range clusters {
		if !models.IsClusterExpected(category, id) {
			return false
		}
	}
	return true
}

// adjustFindings applies trust- and policy-based severity adjustment.
// Hard findings pass through untouched in every profile at every trust
// score; this is the hardness invariant.
func (m *TrustRiskModel) adjustFindings(findings []models.RawFinding, trustScore int, profile models.PolicyProfile) []models.AdjustedFinding {
	out := make([]models.AdjustedFinding, 0, len(findings))
	for _, f := range findings {
		adjusted := f.Severity

		switch f.Type.Hardness() {
		case models.HardnessHard:
			// untouched
		case models.HardnessSoft:
			switch {
			case trustScore >= trustHighThreshold:
				adjusted = adjusted.Lowered(2)
			case trustScore >= trustModerateThreshold:
				adjusted = adjusted.Lowered(1)
			}
		case models.HardnessWeakSignal:
			switch {
			case trustScore >= trustHighThreshold:
				adjusted = models.SeverityNone
			case trustScore >= trustModerateThreshold:
				adjusted = adjusted.Lowered(2)
			default:
				adjusted = adjusted.Lowered(1)
			}
		}

		if profile.SuppressHygiene && f.Type.IsHygiene() && f.Type.Hardness() != models.HardnessHard {
			adjusted = models.SeverityNone
		}

		out = append(out, models.AdjustedFinding{Finding: f, Adjusted: adjusted})
	}
	return out
}

// decide walks the strict first-match priority chain. The order is load
// bearing and never re-sorted.
func (m *TrustRiskModel) decide(in EvaluateInput, profile models.PolicyProfile, adjusted []models.AdjustedFinding, active []models.CapabilityCluster, unexpected []models.ClusterID, matched []models.DangerousCombo) models.EffectiveRisk {
	// 1. Hard finding at medium or above
	for _, f := range adjusted {
		if f.Finding.Type.Hardness() == models.HardnessHard && f.Adjusted.AtLeast(models.SeverityMedium) {
			return models.RiskCritical
		}
	}

	// 2. Identity anomaly
	if in.Trust.TrustLevel == models.TrustAnomalous {
		return models.RiskCritical
	}

	// 3-4. Combo severity
	for _, c := range matched {
		if c.Severity.AtLeast(models.SeverityCritical) {
			return models.RiskCritical
		}
	}
	for _, c := range matched {
		if c.Severity.AtLeast(models.SeverityHigh) {
			return models.RiskNeedsAttention
		}
	}

	// 5. Installer flipped to sideload while a dangerous cluster is active
	if m.hasFinding(in.Findings, models.FindingInstallerChanged) &&
		in.Trust.InstallerType == models.InstallerSideloaded &&
		m.anyClusterActive(active, sideloadDangerClusters) {
		return models.RiskNeedsAttention
	}

	// 6. High-risk permission escalation on a low-trust app
	hasEscalation := m.hasFinding(in.Findings, models.FindingHighRiskPermissionAdded)
	if hasEscalation && in.Trust.IsLowTrust() {
		return models.RiskNeedsAttention
	}

	// 7. Low trust + unexpected high-risk cluster + an extra signal.
	// A cluster alone, or cluster plus low trust alone, is insufficient:
	// this gate is the primary false-positive guard.
	if in.Trust.IsLowTrust() && len(unexpected) > 0 && m.hasExtraSignal(in) {
		return models.RiskNeedsAttention
	}

	// 8. Escalation with trust not low
	if hasEscalation {
		return models.RiskInfo
	}

	// 9. Surface increase on a low-trust app
	if m.hasFinding(in.Findings, models.FindingExportedSurfaceIncreased) && in.Trust.IsLowTrust() {
		return models.RiskInfo
	}

	// 10. Unexpected high-risk cluster, trust not high
	if len(unexpected) > 0 && !in.Trust.IsHighTrust() {
		return models.RiskInfo
	}

	// 11. Weighted finding sum against the profile threshold
	if m.weightedSum(adjusted, profile) >= profile.FindingSumThreshold {
		return models.RiskInfo
	}

	// 12.
	return models.RiskSafe
}

func (m *TrustRiskModel) hasFinding(findings []models.RawFinding, t models.FindingType) bool {
	for _, f := range findings {
		if f.Type == t {
			return true
		}
	}
	return false
}

func (m *TrustRiskModel) anyClusterActive(active []models.CapabilityCluster, wanted []models.ClusterID) bool {
	for _, c := range active {
		for _, w := range wanted {
			if c.ID == w {
				return true
			}
		}
	}
	return false
}

// extraSignalTypes are finding types that count as the corroborating
// signal required by verdict rule 7
var extraSignalTypes = map[models.FindingType]bool{
	models.FindingBaselineCertChanged:     true,
	models.FindingVersionRollback:         true,
	models.FindingVersionRollbackTrusted:  true,
	models.FindingInstallerChanged:        true,
	models.FindingPartitionChanged:        true,
	models.FindingPermissionSetChanged:    true,
	models.FindingHighRiskPermissionAdded: true,
	models.FindingExportedSurfaceIncreased: true,
	models.FindingSuspiciousNativeLib:     true,
	models.FindingNewInstall:              true,
}

func (m *TrustRiskModel) hasExtraSignal(in EvaluateInput) bool {
	if in.Trust.InstallerType == models.InstallerSideloaded || in.IsNewApp {
		return true
	}
	for _, f := range in.Findings {
		if extraSignalTypes[f.Type] {
			return true
		}
	}
	return false
}

func (m *TrustRiskModel) weightedSum(adjusted []models.AdjustedFinding, profile models.PolicyProfile) int {
	sum := 0
	for _, f := range adjusted {
		if f.Suppressed() {
			continue
		}
		switch f.Finding.Type.Hardness() {
		case models.HardnessHard:
			sum += profile.HardWeight
		case models.HardnessSoft:
			sum += profile.SoftWeight
		case models.HardnessWeakSignal:
			sum += profile.WeakWeight
		}
	}
	return sum
}

// riskScore is the numeric rollup used only for sorting and display
func (m *TrustRiskModel) riskScore(adjusted []models.AdjustedFinding, matched []models.DangerousCombo) int {
	score := 0
	for _, f := range adjusted {
		if f.Suppressed() {
			continue
		}
		switch f.Finding.Type.Hardness() {
		case models.HardnessHard:
			score += hardRiskPoints[f.Adjusted]
		case models.HardnessSoft:
			score += softRiskPoints[f.Adjusted]
		}
	}
	for _, c := range matched {
		score += comboRiskPoints[c.Severity]
	}
	return clampInt(score, 0, 100)
}

// topReasons picks the short explanation list: combo names first, then
// hard findings, then soft findings, ordered by hardness tier then
// severity
func (m *TrustRiskModel) topReasons(risk models.EffectiveRisk, matched []models.DangerousCombo, adjusted []models.AdjustedFinding) []string {
	var limit int
	switch risk {
	case models.RiskCritical:
		limit = 3
	case models.RiskNeedsAttention:
		limit = 2
	default:
		return nil
	}

	combos := make([]models.DangerousCombo, len(matched))
	copy(combos, matched)
	sort.SliceStable(combos, func(i, j int) bool {
		return combos[i].Severity.Rank() > combos[j].Severity.Rank()
	})

	var findings []models.AdjustedFinding
	for _, f := range adjusted {
		if f.Suppressed() || f.Finding.Type.Hardness() == models.HardnessWeakSignal {
			continue
		}
		findings = append(findings, f)
	}
	sort.SliceStable(findings, func(i, j int) bool {
		ti, tj := findings[i].Finding.Type.ExplainTier(), findings[j].Finding.Type.ExplainTier()
		if ti != tj {
			return ti < tj
		}
		return findings[i].Adjusted.Rank() > findings[j].Adjusted.Rank()
	})

	reasons := make([]string, 0, limit)
	for _, c := range combos {
		if len(reasons) == limit {
			return reasons
		}
		reasons = append(reasons, c.Name)
	}
	for _, f := range findings {
		if len(reasons) == limit {
			return reasons
		}
		reasons = append(reasons, f.Finding.Title)
	}
	return reasons
}

func clusterIDs(clusters []models.CapabilityCluster) []models.ClusterID {
	if len(clusters) == 0 {
		return nil
	}
	out := make([]models.ClusterID, len(clusters))
	for i, c := range clusters {
		out[i] = c.ID
	}
	return out
}

func comboNames(combos []models.DangerousCombo) []string {
	if len(combos) == 0 {
		return nil
	}
	out := make([]string, len(combos))
	for i, c := range combos {
		out[i] = c.Name
	}
	return out
}
