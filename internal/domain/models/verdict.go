package models

import "time"

// InstallClass is how the package came to exist on the device, used to
// pick the policy profile
type InstallClass string

const (
	InstallClassSystemPreinstalled InstallClass = "system_preinstalled"
	InstallClassUserInstalled      InstallClass = "user_installed"
	InstallClassEnterpriseManaged  InstallClass = "enterprise_managed"
)

// InstallClassFor derives the install class from evidence
func InstallClassFor(e ScannedAppEvidence) InstallClass {
	switch {
	case e.IsSystemApp:
		return InstallClassSystemPreinstalled
	case e.InstallerType() == InstallerEnterprise:
		return InstallClassEnterpriseManaged
	default:
		return InstallClassUserInstalled
	}
}

// PolicyProfile tunes how aggressively hygiene findings count toward a
// verdict. It never affects hard findings.
type PolicyProfile struct {
	Name string

	// SuppressHygiene forces the fixed hygiene finding types to none
	SuppressHygiene bool

	// Weighted finding-sum parameters (verdict rule of last resort)
	FindingSumThreshold int
	HardWeight          int
	SoftWeight          int
	WeakWeight          int
}

// Policy profiles are static configuration, constructed once
var (
	PolicySystem = PolicyProfile{
		Name:                "system",
		SuppressHygiene:     true,
		FindingSumThreshold: 5,
		HardWeight:          10,
		SoftWeight:          0,
		WeakWeight:          0,
	}
	PolicyUser = PolicyProfile{
		Name:                "user",
		SuppressHygiene:     false,
		FindingSumThreshold: 1,
		HardWeight:          10,
		SoftWeight:          3,
		WeakWeight:          1,
	}
)

// ProfileFor maps an install class to its policy profile. Enterprise
// devices get user policy: managed apps are still user-space code.
func ProfileFor(class InstallClass) PolicyProfile {
	if class == InstallClassSystemPreinstalled {
		return PolicySystem
	}
	return PolicyUser
}

// EffectiveRisk is the engine's final four-tier output for one app
type EffectiveRisk string

const (
	RiskSafe           EffectiveRisk = "safe"
	RiskInfo           EffectiveRisk = "info"
	RiskNeedsAttention EffectiveRisk = "needs_attention"
	RiskCritical       EffectiveRisk = "critical"
)

// AppVerdict is the complete decision for one app in one scan. Computed
// fresh per scan; derivable from the persisted baseline plus live evidence.
type AppVerdict struct {
	PackageName string `json:"package_name"`

	TrustScore int        `json:"trust_score"`
	TrustLevel TrustLevel `json:"trust_level"`

	RiskScore     int           `json:"risk_score"`
	EffectiveRisk EffectiveRisk `json:"effective_risk"`

	AdjustedFindings []AdjustedFinding `json:"adjusted_findings,omitempty"`
	ActiveClusters   []ClusterID       `json:"active_clusters,omitempty"`
	MatchedCombos    []string          `json:"matched_combos,omitempty"`
	TopReasons       []string          `json:"top_reasons,omitempty"`

	ShouldShowInMainList bool      `json:"should_show_in_main_list"`
	EvaluatedAt          time.Time `json:"evaluated_at,omitempty"`
}
