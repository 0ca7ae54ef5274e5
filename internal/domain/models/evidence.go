package models

import (
	"strings"
	"time"
)

// InstallerType classifies how a package reached the device
type InstallerType string

const (
	InstallerPlayStore     InstallerType = "play_store"
	InstallerSystemUpdater InstallerType = "system_updater"
	InstallerOEMStore      InstallerType = "oem_store"
	InstallerEnterprise    InstallerType = "enterprise"
	InstallerSideloaded    InstallerType = "sideloaded"
	InstallerUnknown       InstallerType = "unknown"
)

// recognizedStores maps installer package names to installer types. The
// platform package installer is deliberately absent: session installs
// initiated from browsers route through it, so it proves nothing.
var recognizedStores = map[string]InstallerType{
	"com.android.vending":           InstallerPlayStore,
	"com.google.android.gms":        InstallerPlayStore,
	"com.sec.android.app.samsungapps": InstallerOEMStore,
	"com.huawei.appmarket":          InstallerOEMStore,
	"com.amazon.venezia":            InstallerOEMStore,
	"com.android.managedprovisioning": InstallerEnterprise,
}

// InstallerTypeFor classifies an installer package name
func InstallerTypeFor(installerPackage string, isSystemApp bool) InstallerType {
	if t, ok := recognizedStores[installerPackage]; ok {
		return t
	}
	if installerPackage == "" {
		if isSystemApp {
			return InstallerSystemUpdater
		}
		return InstallerUnknown
	}
	return InstallerSideloaded
}

// IsRecognizedStore reports whether the installer type is a trusted store channel
func (t InstallerType) IsRecognizedStore() bool {
	switch t {
	case InstallerPlayStore, InstallerOEMStore, InstallerSystemUpdater:
		return true
	}
	return false
}

// Partition identifies which image a package is installed on
type Partition string

const (
	PartitionSystem  Partition = "system"
	PartitionVendor  Partition = "vendor"
	PartitionProduct Partition = "product"
	PartitionApex    Partition = "apex"
	PartitionData    Partition = "data"
	PartitionUnknown Partition = "unknown"
)

// PartitionFromPath derives the install partition from an APK path prefix
func PartitionFromPath(apkPath string) Partition {
	switch {
	case strings.HasPrefix(apkPath, "/system"):
		return PartitionSystem
	case strings.HasPrefix(apkPath, "/vendor"):
		return PartitionVendor
	case strings.HasPrefix(apkPath, "/product"):
		return PartitionProduct
	case strings.HasPrefix(apkPath, "/apex"):
		return PartitionApex
	case strings.HasPrefix(apkPath, "/data"):
		return PartitionData
	default:
		return PartitionUnknown
	}
}

// NativeLibFinding describes one native library bundled in the APK
type NativeLibFinding struct {
	Name          string `json:"name"`
	IsSuspicious  bool   `json:"is_suspicious"`
	SuspicionType string `json:"suspicion_type,omitempty"`
}

// ScannedAppEvidence is everything the package collaborator observed about
// one installed app in one scan. Every field is optional; absent values
// carry their zero value and contribute neutrally to all scoring.
type ScannedAppEvidence struct {
	PackageName string `json:"package_name"`
	CertSHA256  string `json:"cert_sha256,omitempty"`
	VersionCode int64  `json:"version_code"`
	VersionName string `json:"version_name,omitempty"`

	IsSystemApp      bool   `json:"is_system_app"`
	IsPlatformSigned bool   `json:"is_platform_signed"`
	InstallerPackage string `json:"installer_package,omitempty"`
	APKPath          string `json:"apk_path,omitempty"`

	RequestedPermissions []string `json:"requested_permissions,omitempty"`
	GrantedPermissions   []string `json:"granted_permissions,omitempty"`

	ExportedActivityCount    int `json:"exported_activity_count"`
	ExportedServiceCount     int `json:"exported_service_count"`
	ExportedReceiverCount    int `json:"exported_receiver_count"`
	ExportedProviderCount    int `json:"exported_provider_count"`
	UnprotectedExportedCount int `json:"unprotected_exported_count"`

	NativeLibFindings []NativeLibFinding `json:"native_lib_findings,omitempty"`

	TargetSDK            int  `json:"target_sdk"`
	IsDebugSigned        bool `json:"is_debug_signed"`
	HasSigningLineage    bool `json:"has_signing_lineage"`
	SigningLineageLength int  `json:"signing_lineage_length"`

	HasBootReceiver      bool `json:"has_boot_receiver"`
	UsesDynamicCodeLoading bool `json:"uses_dynamic_code_loading"`

	FirstInstallTime time.Time   `json:"first_install_time,omitempty"`
	Category         AppCategory `json:"category,omitempty"`
}

// Partition returns the install partition derived from the APK path
func (e ScannedAppEvidence) Partition() Partition {
	return PartitionFromPath(e.APKPath)
}

// InstallerType classifies the app's installer
func (e ScannedAppEvidence) InstallerType() InstallerType {
	return InstallerTypeFor(e.InstallerPackage, e.IsSystemApp)
}

// HasGranted reports whether the permission is in the granted set
func (e ScannedAppEvidence) HasGranted(permission string) bool {
	for _, p := range e.GrantedPermissions {
		if p == permission {
			return true
		}
	}
	return false
}

// VerifiedBootState values reported by the device
const (
	VerifiedBootGreen   = "green"
	VerifiedBootOrange  = "orange"
	VerifiedBootRed     = "red"
	VerifiedBootUnknown = "unknown"
)

// DeviceIntegrityEvidence is the device-wide integrity snapshot, read once
// per scan session
type DeviceIntegrityEvidence struct {
	IsRooted          bool   `json:"is_rooted"`
	VerifiedBootState string `json:"verified_boot_state,omitempty"`
}

// ConfigSnapshot captures device configuration read by the settings
// collaborator
type ConfigSnapshot struct {
	UserCACertFingerprints []string `json:"user_ca_cert_fingerprints,omitempty"`
	PrivateDNSMode         string   `json:"private_dns_mode,omitempty"`
	PrivateDNSHostname     string   `json:"private_dns_hostname,omitempty"`
	VPNActive              bool     `json:"vpn_active"`
	ProxyHost              string   `json:"proxy_host,omitempty"`
	ProxyPort              int      `json:"proxy_port,omitempty"`

	EnabledAccessibilityServices  []string `json:"enabled_accessibility_services,omitempty"`
	EnabledNotificationListeners  []string `json:"enabled_notification_listeners,omitempty"`
	DefaultSMSPackage             string   `json:"default_sms_package,omitempty"`
	DefaultDialerPackage          string   `json:"default_dialer_package,omitempty"`

	DeveloperOptionsEnabled bool `json:"developer_options_enabled"`
	USBDebuggingEnabled     bool `json:"usb_debugging_enabled"`
	UnknownSourcesAllowed   bool `json:"unknown_sources_allowed"`
}

// HasProxy reports whether a global proxy is configured
func (c ConfigSnapshot) HasProxy() bool {
	return c.ProxyHost != ""
}

// AppSpecialAccess is the real enabled state of toggleable services for
// one package. Manifest declarations alone never activate these.
type AppSpecialAccess struct {
	Accessibility        bool `json:"accessibility"`
	NotificationListener bool `json:"notification_listener"`
	DeviceAdmin          bool `json:"device_admin"`
	Overlay              bool `json:"overlay"`
	DefaultSMS           bool `json:"default_sms"`
	DefaultDialer        bool `json:"default_dialer"`
	BatteryOptIgnored    bool `json:"battery_opt_ignored"`
}

// Enabled reports whether the given special access kind is on
func (a AppSpecialAccess) Enabled(kind SpecialAccessKind) bool {
	switch kind {
	case SpecialAccessAccessibility:
		return a.Accessibility
	case SpecialAccessNotificationListener:
		return a.NotificationListener
	case SpecialAccessDeviceAdmin:
		return a.DeviceAdmin
	case SpecialAccessOverlay:
		return a.Overlay
	case SpecialAccessNone:
		return true
	}
	return false
}

// Any reports whether any special access is enabled
func (a AppSpecialAccess) Any() bool {
	return a.Accessibility || a.NotificationListener || a.DeviceAdmin ||
		a.Overlay || a.DefaultSMS || a.DefaultDialer
}

// SpecialAccessSnapshot holds per-package special access state for the
// whole device scan
type SpecialAccessSnapshot struct {
	Apps map[string]AppSpecialAccess `json:"apps,omitempty"`
}

// For returns the state for a package, zero (nothing enabled) when absent
func (s SpecialAccessSnapshot) For(packageName string) AppSpecialAccess {
	if s.Apps == nil {
		return AppSpecialAccess{}
	}
	return s.Apps[packageName]
}
