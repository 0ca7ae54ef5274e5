package models

// Severity represents how serious a finding or anomaly is
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityOrder defines the single total order used for all severity
// comparisons and level arithmetic. Declaration order is never relied on.
var severityOrder = []Severity{
	SeverityNone,
	SeverityLow,
	SeverityMedium,
	SeverityHigh,
	SeverityCritical,
}

// Rank returns the position of the severity in the total order.
// Unknown values rank as none.
func (s Severity) Rank() int {
	for i, v := range severityOrder {
		if v == s {
			return i
		}
	}
	return 0
}

// AtLeast reports whether s is at least as severe as other
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// Lowered returns the severity reduced by the given number of levels,
// flooring at none
func (s Severity) Lowered(levels int) Severity {
	idx := s.Rank() - levels
	if idx < 0 {
		idx = 0
	}
	return severityOrder[idx]
}

// Hardness classifies whether trust or context may reduce a finding's
// effective severity. It is a static property of the finding type, never
// of the surrounding evidence.
type Hardness string

const (
	// HardnessHard findings are never downgraded by trust or policy
	HardnessHard Hardness = "hard"
	// HardnessSoft findings may be downgraded at moderate/high trust
	HardnessSoft Hardness = "soft"
	// HardnessWeakSignal findings are near-noise unless trust is low
	HardnessWeakSignal Hardness = "weak_signal"
)

// FindingType identifies a typed conclusion derived from evidence
type FindingType string

const (
	// Hard findings
	FindingBaselineCertChanged FindingType = "baseline_cert_changed"
	FindingVersionRollback     FindingType = "version_rollback"
	FindingCertMismatch        FindingType = "cert_mismatch"

	// Soft findings
	FindingVersionRollbackTrusted   FindingType = "version_rollback_trusted"
	FindingInstallerChanged         FindingType = "installer_changed"
	FindingPartitionChanged         FindingType = "partition_changed"
	FindingHighRiskPermissionAdded  FindingType = "high_risk_permission_added"
	FindingExportedSurfaceIncreased FindingType = "exported_surface_increased"
	FindingSuspiciousNativeLib      FindingType = "suspicious_native_lib"
	FindingDebugSigned              FindingType = "debug_signed"
	FindingNewSystemApp             FindingType = "new_system_app"
	FindingOldTargetSDK             FindingType = "old_target_sdk"
	FindingOverPrivileged           FindingType = "over_privileged"
	FindingExportedComponents       FindingType = "exported_components"

	// Weak signals
	FindingNotPlaySigned        FindingType = "not_play_signed"
	FindingVerifiedSideload     FindingType = "verified_sideload"
	FindingPermissionSetChanged FindingType = "permission_set_changed"
	FindingVersionChanged       FindingType = "version_changed"
	FindingNewInstall           FindingType = "new_install"
	FindingBootPersistence      FindingType = "boot_persistence"
	FindingDynamicCodeLoading   FindingType = "dynamic_code_loading"
)

// AllFindingTypes enumerates the complete finding taxonomy. Any new type
// must be added here and classified in findingClasses; finding_test.go
// fails otherwise. This is the Go substitute for an exhaustively matched
// sealed hierarchy.
var AllFindingTypes = []FindingType{
	FindingBaselineCertChanged,
	FindingVersionRollback,
	FindingCertMismatch,
	FindingVersionRollbackTrusted,
	FindingInstallerChanged,
	FindingPartitionChanged,
	FindingHighRiskPermissionAdded,
	FindingExportedSurfaceIncreased,
	FindingSuspiciousNativeLib,
	FindingDebugSigned,
	FindingNewSystemApp,
	FindingOldTargetSDK,
	FindingOverPrivileged,
	FindingExportedComponents,
	FindingNotPlaySigned,
	FindingVerifiedSideload,
	FindingPermissionSetChanged,
	FindingVersionChanged,
	FindingNewInstall,
	FindingBootPersistence,
	FindingDynamicCodeLoading,
}

// findingClass carries the static classification of a finding type
type findingClass struct {
	Hardness Hardness
	// Hygiene findings are forced to none under the system policy profile
	Hygiene bool
}

var findingClasses = map[FindingType]findingClass{
	FindingBaselineCertChanged: {Hardness: HardnessHard},
	FindingVersionRollback:     {Hardness: HardnessHard},
	FindingCertMismatch:        {Hardness: HardnessHard},

	FindingVersionRollbackTrusted:   {Hardness: HardnessSoft},
	FindingInstallerChanged:         {Hardness: HardnessSoft},
	FindingPartitionChanged:         {Hardness: HardnessSoft},
	FindingHighRiskPermissionAdded:  {Hardness: HardnessSoft},
	FindingExportedSurfaceIncreased: {Hardness: HardnessSoft},
	FindingSuspiciousNativeLib:      {Hardness: HardnessSoft},
	FindingDebugSigned:              {Hardness: HardnessSoft},
	FindingNewSystemApp:             {Hardness: HardnessSoft},
	FindingOldTargetSDK:             {Hardness: HardnessSoft, Hygiene: true},
	FindingOverPrivileged:           {Hardness: HardnessSoft, Hygiene: true},
	FindingExportedComponents:       {Hardness: HardnessSoft, Hygiene: true},

	FindingNotPlaySigned:        {Hardness: HardnessWeakSignal, Hygiene: true},
	FindingVerifiedSideload:     {Hardness: HardnessWeakSignal, Hygiene: true},
	FindingPermissionSetChanged: {Hardness: HardnessWeakSignal},
	FindingVersionChanged:       {Hardness: HardnessWeakSignal},
	FindingNewInstall:           {Hardness: HardnessWeakSignal},
	FindingBootPersistence:      {Hardness: HardnessWeakSignal},
	FindingDynamicCodeLoading:   {Hardness: HardnessWeakSignal},
}

// Hardness returns the static hardness of the finding type.
// Unclassified types are treated as weak signals so an unmapped type can
// never escalate a verdict; the taxonomy test keeps the table complete.
func (t FindingType) Hardness() Hardness {
	if c, ok := findingClasses[t]; ok {
		return c.Hardness
	}
	return HardnessWeakSignal
}

// IsHygiene reports whether the finding type is a hygiene concern that
// the system policy profile suppresses entirely
func (t FindingType) IsHygiene() bool {
	return findingClasses[t].Hygiene
}

// ExplainTier orders findings for top-reason selection: combos are
// handled separately, then hard, soft, weak.
func (t FindingType) ExplainTier() int {
	switch t.Hardness() {
	case HardnessHard:
		return 0
	case HardnessSoft:
		return 1
	default:
		return 2
	}
}

// RawFinding is a typed, severity-rated conclusion derived from evidence
type RawFinding struct {
	Type        FindingType `json:"type"`
	Severity    Severity    `json:"severity"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
}

// AdjustedFinding is a raw finding after trust/policy adjustment.
// For hard findings Adjusted always equals the original severity.
type AdjustedFinding struct {
	Finding  RawFinding `json:"finding"`
	Adjusted Severity   `json:"adjusted_severity"`
}

// Suppressed reports whether adjustment collapsed the finding entirely
func (f AdjustedFinding) Suppressed() bool {
	return f.Adjusted == SeverityNone
}
