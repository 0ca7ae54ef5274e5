package models

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// HighRiskPermissions is the fixed set of permissions whose appearance
// after the first scan is an escalation anomaly
var HighRiskPermissions = map[string]bool{
	"android.permission.BIND_ACCESSIBILITY_SERVICE":          true,
	"android.permission.BIND_NOTIFICATION_LISTENER_SERVICE":  true,
	"android.permission.BIND_DEVICE_ADMIN":                   true,
	"android.permission.SYSTEM_ALERT_WINDOW":                 true,
	"android.permission.REQUEST_INSTALL_PACKAGES":            true,
	"android.permission.INSTALL_PACKAGES":                    true,
	"android.permission.READ_SMS":                            true,
	"android.permission.RECEIVE_SMS":                         true,
	"android.permission.READ_CALL_LOG":                       true,
	"android.permission.ACCESS_BACKGROUND_LOCATION":          true,
	"android.permission.BIND_VPN_SERVICE":                    true,
}

// HighRiskPermissionsOf filters the granted set down to high-risk entries,
// sorted for stable storage
func HighRiskPermissionsOf(granted []string) []string {
	var out []string
	for _, p := range granted {
		if HighRiskPermissions[p] {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// HashPermissionSet produces a 128-bit digest of the sorted permission
// list. Empty input hashes to the empty string so "no data" never compares
// equal or unequal to anything.
func HashPermissionSet(permissions []string) string {
	if len(permissions) == 0 {
		return ""
	}
	sorted := make([]string, len(permissions))
	copy(sorted, permissions)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, "\n")))
	return hex.EncodeToString(sum[:16])
}

// BaselineRecord is the persisted last-known state of one package. Created
// on first observation, mutated on every subsequent scan, never deleted
// automatically. The field list is a stable schema.
type BaselineRecord struct {
	PackageName        string     `json:"package_name"`
	CertSHA256         string     `json:"cert_sha256"`
	PreviousCertSHA256 string     `json:"previous_cert_sha256,omitempty"`
	VersionCode        int64      `json:"version_code"`
	VersionName        string     `json:"version_name,omitempty"`
	IsSystemApp        bool       `json:"is_system_app"`
	InstallerPackage   string     `json:"installer_package,omitempty"`
	APKPath            string     `json:"apk_path,omitempty"`
	FirstSeenAt        time.Time  `json:"first_seen_at"`
	LastSeenAt         time.Time  `json:"last_seen_at"`
	LastCertChangeAt   *time.Time `json:"last_cert_change_at,omitempty"`
	ScanCount          int        `json:"scan_count"`

	PermissionSetHash   string   `json:"permission_set_hash,omitempty"`
	HighRiskPermissions []string `json:"high_risk_permissions,omitempty"`

	ExportedActivityCount    int `json:"exported_activity_count"`
	ExportedServiceCount     int `json:"exported_service_count"`
	ExportedReceiverCount    int `json:"exported_receiver_count"`
	ExportedProviderCount    int `json:"exported_provider_count"`
	UnprotectedExportedCount int `json:"unprotected_exported_count"`
}

// HasHighRiskPermission reports whether the stored high-risk set contains p
func (r BaselineRecord) HasHighRiskPermission(p string) bool {
	for _, stored := range r.HighRiskPermissions {
		if stored == p {
			return true
		}
	}
	return false
}

// BaselineStatus is the outcome of comparing a scan against the baseline
type BaselineStatus string

const (
	BaselineNew       BaselineStatus = "new"
	BaselineUnchanged BaselineStatus = "unchanged"
	BaselineChanged   BaselineStatus = "changed"
	BaselineRemoved   BaselineStatus = "removed"
)

// AnomalyType identifies one kind of baseline drift
type AnomalyType string

const (
	AnomalyCertChanged              AnomalyType = "cert_changed"
	AnomalyVersionRollback          AnomalyType = "version_rollback"
	AnomalyVersionChanged           AnomalyType = "version_changed"
	AnomalyInstallerChanged         AnomalyType = "installer_changed"
	AnomalyPartitionChanged         AnomalyType = "partition_changed"
	AnomalyPermissionSetChanged     AnomalyType = "permission_set_changed"
	AnomalyHighRiskPermissionAdded  AnomalyType = "high_risk_permission_added"
	AnomalyExportedSurfaceIncreased AnomalyType = "exported_surface_increased"
	AnomalyNewSystemApp             AnomalyType = "new_system_app"
)

// BaselineAnomaly is one detected drift between scans
type BaselineAnomaly struct {
	Type        AnomalyType       `json:"type"`
	Severity    Severity          `json:"severity"`
	Description string            `json:"description"`
	Details     map[string]string `json:"details,omitempty"`
}

// BaselineComparison is the full result of comparing one scan against the
// stored baseline. Produced fresh every scan, never persisted.
type BaselineComparison struct {
	PackageName string            `json:"package_name"`
	Status      BaselineStatus    `json:"status"`
	Anomalies   []BaselineAnomaly `json:"anomalies,omitempty"`
	IsFirstScan bool              `json:"is_first_scan"`
	ScanCount   int               `json:"scan_count"`
}

// HasAnomaly reports whether an anomaly of the given type fired
func (c BaselineComparison) HasAnomaly(t AnomalyType) bool {
	for _, a := range c.Anomalies {
		if a.Type == t {
			return true
		}
	}
	return false
}
