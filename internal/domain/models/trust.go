package models

// CertMatch is the outcome of comparing an observed signing certificate
// against the developer/app whitelist
type CertMatch string

const (
	CertDeveloperMatch CertMatch = "developer_match"
	CertAppMatch       CertMatch = "app_match"
	CertMismatch       CertMatch = "cert_mismatch"
	CertUnknown        CertMatch = "unknown"
)

// TrustLevel is the tiered interpretation of the trust score
type TrustLevel string

const (
	TrustHigh      TrustLevel = "high"
	TrustModerate  TrustLevel = "moderate"
	TrustLow       TrustLevel = "low"
	TrustAnomalous TrustLevel = "anomalous"
)

// TrustDomain classifies which signing authority a package should belong
// to, derived from partition, platform-signed flag and install path. It is
// independent of the certificate actually observed.
type TrustDomain string

const (
	DomainPlaySigned     TrustDomain = "play_signed"
	DomainPlatformSigned TrustDomain = "platform_signed"
	DomainApexModule     TrustDomain = "apex_module"
	DomainOEMVendor      TrustDomain = "oem_vendor"
	DomainUnknown        TrustDomain = "unknown"
)

// TrustDomainFor computes the expected signing domain for an app. Whitelist
// comparisons are only meaningful inside a matching domain.
func TrustDomainFor(partition Partition, platformSigned bool, installer InstallerType) TrustDomain {
	switch {
	case partition == PartitionApex:
		return DomainApexModule
	case platformSigned:
		return DomainPlatformSigned
	case partition == PartitionVendor || partition == PartitionProduct:
		return DomainOEMVendor
	case installer == InstallerPlayStore && partition == PartitionData:
		return DomainPlaySigned
	default:
		return DomainUnknown
	}
}

// CertWhitelistEntry pins the certificates a package is expected to carry.
// DeveloperCerts match any app by that developer; AppCert pins one package.
type CertWhitelistEntry struct {
	PackageName    string      `json:"package_name"`
	Domain         TrustDomain `json:"domain"`
	DeveloperCerts []string    `json:"developer_certs,omitempty"`
	AppCert        string      `json:"app_cert,omitempty"`
}

// TrustEvidence is the per-app, per-scan identity/provenance assessment
type TrustEvidence struct {
	PackageName string `json:"package_name"`

	CertMatch     CertMatch     `json:"cert_match"`
	Domain        TrustDomain   `json:"domain"`
	InstallerType InstallerType `json:"installer_type"`

	Partition        Partition `json:"partition"`
	IsSystemApp      bool      `json:"is_system_app"`
	IsPlatformSigned bool      `json:"is_platform_signed"`
	HasTrustedLineage bool     `json:"has_trusted_lineage"`

	IsRooted          bool   `json:"is_rooted"`
	VerifiedBootState string `json:"verified_boot_state,omitempty"`

	TrustScore int        `json:"trust_score"`
	TrustLevel TrustLevel `json:"trust_level"`
	Reasons    []string   `json:"reasons,omitempty"`
}

// IsLowTrust reports whether the numeric score sits in the low band
func (t TrustEvidence) IsLowTrust() bool {
	return t.TrustScore < 40
}

// IsHighTrust reports whether the numeric score sits in the high band
func (t TrustEvidence) IsHighTrust() bool {
	return t.TrustScore >= 70
}
