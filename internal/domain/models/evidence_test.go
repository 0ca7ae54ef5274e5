package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInstallerTypeFor(t *testing.T) {
	cases := []struct {
		installer string
		system    bool
		want      InstallerType
	}{
		{"com.android.vending", false, InstallerPlayStore},
		{"com.google.android.gms", false, InstallerPlayStore},
		{"com.sec.android.app.samsungapps", false, InstallerOEMStore},
		{"com.android.managedprovisioning", false, InstallerEnterprise},
		{"", true, InstallerSystemUpdater},
		{"", false, InstallerUnknown},
		{"com.example.randomapp", false, InstallerSideloaded},
		// Recognized stores win even for system apps
		{"com.android.vending", true, InstallerPlayStore},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, InstallerTypeFor(tc.installer, tc.system),
			"installer=%q system=%v", tc.installer, tc.system)
	}
}

func TestInstallerTypeIsRecognizedStore(t *testing.T) {
	assert.True(t, InstallerPlayStore.IsRecognizedStore())
	assert.True(t, InstallerOEMStore.IsRecognizedStore())
	assert.True(t, InstallerSystemUpdater.IsRecognizedStore())
	assert.False(t, InstallerSideloaded.IsRecognizedStore())
	assert.False(t, InstallerEnterprise.IsRecognizedStore())
	assert.False(t, InstallerUnknown.IsRecognizedStore())
}

func TestPartitionFromPath(t *testing.T) {
	cases := []struct {
		path string
		want Partition
	}{
		{"/system/app/Settings/Settings.apk", PartitionSystem},
		{"/system_ext/app/Foo/Foo.apk", PartitionSystem},
		{"/vendor/app/Bar/Bar.apk", PartitionVendor},
		{"/product/app/Baz/Baz.apk", PartitionProduct},
		{"/apex/com.android.adbd/app/x.apk", PartitionApex},
		{"/data/app/~~abc==/com.example-1/base.apk", PartitionData},
		{"", PartitionUnknown},
		{"relative/path.apk", PartitionUnknown},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, PartitionFromPath(tc.path), "path=%q", tc.path)
	}
}

func TestTrustDomainFor(t *testing.T) {
	cases := []struct {
		name           string
		partition      Partition
		platformSigned bool
		installer      InstallerType
		want           TrustDomain
	}{
		{"apex wins over platform flag", PartitionApex, true, InstallerUnknown, DomainApexModule},
		{"platform signed", PartitionSystem, true, InstallerUnknown, DomainPlatformSigned},
		{"vendor", PartitionVendor, false, InstallerUnknown, DomainOEMVendor},
		{"product", PartitionProduct, false, InstallerUnknown, DomainOEMVendor},
		{"play install on data", PartitionData, false, InstallerPlayStore, DomainPlaySigned},
		{"sideload on data", PartitionData, false, InstallerSideloaded, DomainUnknown},
		{"play installer off data", PartitionSystem, false, InstallerPlayStore, DomainUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := TrustDomainFor(tc.partition, tc.platformSigned, tc.installer)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestHashPermissionSet(t *testing.T) {
	assert.Empty(t, HashPermissionSet(nil))
	assert.Empty(t, HashPermissionSet([]string{}))

	a := HashPermissionSet([]string{"android.permission.CAMERA", "android.permission.READ_SMS"})
	b := HashPermissionSet([]string{"android.permission.READ_SMS", "android.permission.CAMERA"})
	assert.Equal(t, a, b, "hash must be order insensitive")
	assert.Len(t, a, 32)

	c := HashPermissionSet([]string{"android.permission.CAMERA"})
	assert.NotEqual(t, a, c)
}

func TestHighRiskPermissionsOf(t *testing.T) {
	granted := []string{
		"android.permission.READ_SMS",
		"android.permission.CAMERA",
		"android.permission.BIND_ACCESSIBILITY_SERVICE",
		"android.permission.INTERNET",
	}
	got := HighRiskPermissionsOf(granted)
	assert.Equal(t, []string{
		"android.permission.BIND_ACCESSIBILITY_SERVICE",
		"android.permission.READ_SMS",
	}, got)

	assert.Empty(t, HighRiskPermissionsOf([]string{"android.permission.INTERNET"}))
}

func TestAppSpecialAccessEnabled(t *testing.T) {
	a := AppSpecialAccess{Accessibility: true, Overlay: true}

	assert.True(t, a.Enabled(SpecialAccessAccessibility))
	assert.True(t, a.Enabled(SpecialAccessOverlay))
	assert.False(t, a.Enabled(SpecialAccessDeviceAdmin))
	assert.False(t, a.Enabled(SpecialAccessNotificationListener))

	// Clusters that require no runtime toggle are always considered active
	assert.True(t, AppSpecialAccess{}.Enabled(SpecialAccessNone))
}

func TestAppSpecialAccessAny(t *testing.T) {
	assert.False(t, AppSpecialAccess{}.Any())
	assert.True(t, AppSpecialAccess{DefaultSMS: true}.Any())
	assert.True(t, AppSpecialAccess{DeviceAdmin: true}.Any())

	// Battery optimization exemption alone does not count
	assert.False(t, AppSpecialAccess{BatteryOptIgnored: true}.Any())
}

func TestSpecialAccessSnapshotFor(t *testing.T) {
	var empty SpecialAccessSnapshot
	assert.Equal(t, AppSpecialAccess{}, empty.For("com.example.app"))

	snap := SpecialAccessSnapshot{Apps: map[string]AppSpecialAccess{
		"com.example.app": {Accessibility: true},
	}}
	assert.True(t, snap.For("com.example.app").Accessibility)
	assert.Equal(t, AppSpecialAccess{}, snap.For("com.other.app"))
}

func TestBaselineComparisonHasAnomaly(t *testing.T) {
	c := BaselineComparison{Anomalies: []BaselineAnomaly{
		{Type: AnomalyCertChanged, Severity: SeverityCritical},
	}}
	assert.True(t, c.HasAnomaly(AnomalyCertChanged))
	assert.False(t, c.HasAnomaly(AnomalyVersionRollback))
}
