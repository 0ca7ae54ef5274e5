package models

// ClusterID names a coherent capability represented by a permission group
type ClusterID string

const (
	ClusterSMS                  ClusterID = "sms"
	ClusterAccessibility        ClusterID = "accessibility"
	ClusterOverlay              ClusterID = "overlay"
	ClusterInstallPackages      ClusterID = "install_packages"
	ClusterVPN                  ClusterID = "vpn"
	ClusterDeviceAdmin          ClusterID = "device_admin"
	ClusterCallLog              ClusterID = "call_log"
	ClusterNotificationListener ClusterID = "notification_listener"
	ClusterBackgroundLocation   ClusterID = "background_location"
	ClusterCamera               ClusterID = "camera"
	ClusterMicrophone           ClusterID = "microphone"
	ClusterContacts             ClusterID = "contacts"
)

// SpecialAccessKind identifies a toggleable special-access service whose
// real enabled state gates cluster activation. Declaring the permission in
// the manifest is not enough for these; the user must have enabled the
// service.
type SpecialAccessKind string

const (
	SpecialAccessNone                 SpecialAccessKind = ""
	SpecialAccessAccessibility        SpecialAccessKind = "accessibility"
	SpecialAccessNotificationListener SpecialAccessKind = "notification_listener"
	SpecialAccessDeviceAdmin          SpecialAccessKind = "device_admin"
	SpecialAccessOverlay              SpecialAccessKind = "overlay"
)

// CapabilityCluster is a named set of permissions representing one capability
type CapabilityCluster struct {
	ID            ClusterID         `json:"id"`
	Permissions   []string          `json:"permissions"`
	IsHighRisk    bool              `json:"is_high_risk"`
	SpecialAccess SpecialAccessKind `json:"special_access,omitempty"`
}

// CapabilityClusters is the static cluster catalog, constructed once and
// passed by value into the engine
var CapabilityClusters = []CapabilityCluster{
	{
		ID:         ClusterSMS,
		Permissions: []string{
			"android.permission.READ_SMS",
			"android.permission.SEND_SMS",
			"android.permission.RECEIVE_SMS",
		},
		IsHighRisk: true,
	},
	{
		ID:            ClusterAccessibility,
		Permissions:   []string{"android.permission.BIND_ACCESSIBILITY_SERVICE"},
		IsHighRisk:    true,
		SpecialAccess: SpecialAccessAccessibility,
	},
	{
		ID:            ClusterOverlay,
		Permissions:   []string{"android.permission.SYSTEM_ALERT_WINDOW"},
		IsHighRisk:    true,
		SpecialAccess: SpecialAccessOverlay,
	},
	{
		ID:         ClusterInstallPackages,
		Permissions: []string{
			"android.permission.REQUEST_INSTALL_PACKAGES",
			"android.permission.INSTALL_PACKAGES",
		},
		IsHighRisk: true,
	},
	{
		ID:          ClusterVPN,
		Permissions: []string{"android.permission.BIND_VPN_SERVICE"},
		IsHighRisk:  true,
	},
	{
		ID:            ClusterDeviceAdmin,
		Permissions:   []string{"android.permission.BIND_DEVICE_ADMIN"},
		IsHighRisk:    true,
		SpecialAccess: SpecialAccessDeviceAdmin,
	},
	{
		ID:         ClusterCallLog,
		Permissions: []string{
			"android.permission.READ_CALL_LOG",
			"android.permission.WRITE_CALL_LOG",
			"android.permission.PROCESS_OUTGOING_CALLS",
		},
		IsHighRisk: true,
	},
	{
		ID:            ClusterNotificationListener,
		Permissions:   []string{"android.permission.BIND_NOTIFICATION_LISTENER_SERVICE"},
		IsHighRisk:    true,
		SpecialAccess: SpecialAccessNotificationListener,
	},
	{
		ID:          ClusterBackgroundLocation,
		Permissions: []string{"android.permission.ACCESS_BACKGROUND_LOCATION"},
		IsHighRisk:  true,
	},
	{
		ID:          ClusterCamera,
		Permissions: []string{"android.permission.CAMERA"},
	},
	{
		ID:          ClusterMicrophone,
		Permissions: []string{"android.permission.RECORD_AUDIO"},
	},
	{
		ID:          ClusterContacts,
		Permissions: []string{"android.permission.READ_CONTACTS", "android.permission.WRITE_CONTACTS"},
	},
}

// AppCategory is the detected functional category of an app, used to
// whitelist capability clusters that are expected for that kind of app
type AppCategory string

const (
	CategoryBanking           AppCategory = "banking"
	CategoryMessaging         AppCategory = "messaging"
	CategoryDialer            AppCategory = "dialer"
	CategoryLauncher          AppCategory = "launcher"
	CategoryVPNClient         AppCategory = "vpn_client"
	CategoryAccessibilityTool AppCategory = "accessibility_tool"
	CategoryNavigation        AppCategory = "navigation"
	CategorySecurity          AppCategory = "security"
	CategoryKeyboard          AppCategory = "keyboard"
	CategoryOther             AppCategory = "other"
)

// CategoryExpectedClusters whitelists high-risk clusters that are normal
// for a category. An active whitelisted cluster never counts as unexpected.
var CategoryExpectedClusters = map[AppCategory][]ClusterID{
	CategoryBanking:           {ClusterSMS, ClusterCamera},
	CategoryMessaging:         {ClusterSMS, ClusterContacts, ClusterNotificationListener},
	CategoryDialer:            {ClusterCallLog, ClusterContacts},
	CategoryLauncher:          {ClusterNotificationListener, ClusterOverlay},
	CategoryVPNClient:         {ClusterVPN},
	CategoryAccessibilityTool: {ClusterAccessibility, ClusterOverlay},
	CategoryNavigation:        {ClusterBackgroundLocation},
	CategorySecurity:          {ClusterDeviceAdmin, ClusterAccessibility, ClusterNotificationListener},
	CategoryKeyboard:          {ClusterOverlay},
	CategoryOther:             {},
}

// IsClusterExpected reports whether the cluster is whitelisted for the category
func IsClusterExpected(category AppCategory, id ClusterID) bool {
	for _, c := range CategoryExpectedClusters[category] {
		if c == id {
			return true
		}
	}
	return false
}

// DangerousCombo is a conjunctive rule over clusters and context. It
// matches only when every listed condition holds.
type DangerousCombo struct {
	Name                     string      `json:"name"`
	RequiredClusters         []ClusterID `json:"required_clusters"`
	RequiresLowTrust         bool        `json:"requires_low_trust"`
	RequiresSideload         bool        `json:"requires_sideload"`
	RequiresDebugCert        bool        `json:"requires_debug_cert"`
	RespectCategoryWhitelist bool        `json:"respect_category_whitelist"`
	Severity                 Severity    `json:"severity"`
	Description              string      `json:"description"`
}

// DangerousCombos is the static combo catalog
var DangerousCombos = []DangerousCombo{
	{
		Name:             "accessibility_install_low_trust",
		RequiredClusters: []ClusterID{ClusterAccessibility, ClusterInstallPackages},
		RequiresLowTrust: true,
		Severity:         SeverityCritical,
		Description:      "Accessibility service plus package installation on a low-trust app - classic dropper/banker foothold",
	},
	{
		Name:                     "overlay_accessibility",
		RequiredClusters:         []ClusterID{ClusterOverlay, ClusterAccessibility},
		RespectCategoryWhitelist: true,
		Severity:                 SeverityCritical,
		Description:              "Overlay plus accessibility - can draw over apps and read/inject input (credential theft)",
	},
	{
		Name:                     "stalker_suite",
		RequiredClusters:         []ClusterID{ClusterBackgroundLocation, ClusterSMS, ClusterCallLog},
		RespectCategoryWhitelist: true,
		Severity:                 SeverityCritical,
		Description:              "Background location, SMS and call log access together - stalkerware capability set",
	},
	{
		Name:                     "sms_notification_intercept",
		RequiredClusters:         []ClusterID{ClusterSMS, ClusterNotificationListener},
		RequiresLowTrust:         true,
		RespectCategoryWhitelist: true,
		Severity:                 SeverityHigh,
		Description:              "SMS access plus notification listener on a low-trust app - OTP interception capability",
	},
	{
		Name:             "sideloaded_device_admin",
		RequiredClusters: []ClusterID{ClusterDeviceAdmin},
		RequiresSideload: true,
		Severity:         SeverityHigh,
		Description:      "Device admin on a sideloaded app - can lock the device and resist uninstall",
	},
	{
		Name:              "debug_cert_sms",
		RequiredClusters:  []ClusterID{ClusterSMS},
		RequiresDebugCert: true,
		Severity:          SeverityHigh,
		Description:       "SMS access on a debug-signed build - test certificates are never legitimate in distribution",
	},
	{
		Name:             "vpn_notification_exfil",
		RequiredClusters: []ClusterID{ClusterVPN, ClusterNotificationListener},
		RequiresLowTrust: true,
		Severity:         SeverityHigh,
		Description:      "VPN tunnel plus notification listener on a low-trust app - traffic and notification capture",
	},
}
