package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appsentry/internal/domain/models"
	"appsentry/pkg/logger"
)

// testLogger returns a quiet logger shared by the service tests
func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: "error", Format: "json"})
}

func newTestTrustEngine(whitelist []models.CertWhitelistEntry) *TrustEvidenceEngine {
	return NewTrustEvidenceEngine(whitelist, testLogger())
}

func TestCollectEvidenceSystemApp(t *testing.T) {
	engine := newTestTrustEngine(nil)

	app := models.ScannedAppEvidence{
		PackageName:          "com.android.settings",
		CertSHA256:           "aa11",
		VersionCode:          34,
		IsSystemApp:          true,
		IsPlatformSigned:     true,
		APKPath:              "/system/app/Settings/Settings.apk",
		HasSigningLineage:    true,
		SigningLineageLength: 1,
	}
	device := models.DeviceIntegrityEvidence{VerifiedBootState: models.VerifiedBootGreen}

	ev := engine.CollectEvidence(app, device)

	// 15 system + 15 platform + 20 system updater channel + 10 lineage + 10 boot
	assert.Equal(t, 70, ev.TrustScore)
	assert.Equal(t, models.TrustHigh, ev.TrustLevel)
	assert.Equal(t, models.DomainPlatformSigned, ev.Domain)
	assert.Equal(t, models.InstallerSystemUpdater, ev.InstallerType)
	assert.Equal(t, models.CertUnknown, ev.CertMatch)
	assert.True(t, ev.HasTrustedLineage)
	assert.Len(t, ev.Reasons, 5)
}

func TestCollectEvidenceSideloadOnRootedDevice(t *testing.T) {
	engine := newTestTrustEngine(nil)

	app := models.ScannedAppEvidence{
		PackageName:      "com.shady.tool",
		CertSHA256:       "bb22",
		InstallerPackage: "com.example.filemanager",
		APKPath:          "/data/app/com.shady.tool-1/base.apk",
	}
	device := models.DeviceIntegrityEvidence{
		IsRooted:          true,
		VerifiedBootState: models.VerifiedBootOrange,
	}

	ev := engine.CollectEvidence(app, device)

	// -5 sideload -10 boot -15 rooted clamps to zero
	assert.Equal(t, 0, ev.TrustScore)
	assert.Equal(t, models.TrustLow, ev.TrustLevel)
	assert.Equal(t, models.InstallerSideloaded, ev.InstallerType)
}

func TestCollectEvidenceWhitelistDeveloperMatch(t *testing.T) {
	engine := newTestTrustEngine([]models.CertWhitelistEntry{{
		PackageName:    "com.bank.app",
		Domain:         models.DomainPlaySigned,
		DeveloperCerts: []string{"devcert1", "devcert2"},
	}})

	app := models.ScannedAppEvidence{
		PackageName:      "com.bank.app",
		CertSHA256:       "devcert2",
		InstallerPackage: "com.android.vending",
		APKPath:          "/data/app/com.bank.app-1/base.apk",
	}

	ev := engine.CollectEvidence(app, models.DeviceIntegrityEvidence{})

	// 30 cert match + 20 recognized store
	assert.Equal(t, 50, ev.TrustScore)
	assert.Equal(t, models.TrustModerate, ev.TrustLevel)
	assert.Equal(t, models.CertDeveloperMatch, ev.CertMatch)
}

func TestCollectEvidencePinnedAppCertMismatchIsAnomalous(t *testing.T) {
	engine := newTestTrustEngine([]models.CertWhitelistEntry{{
		PackageName: "com.bank.app",
		Domain:      models.DomainPlaySigned,
		AppCert:     "expected",
	}})

	app := models.ScannedAppEvidence{
		PackageName:      "com.bank.app",
		CertSHA256:       "forged",
		InstallerPackage: "com.android.vending",
		APKPath:          "/data/app/com.bank.app-1/base.apk",
	}

	ev := engine.CollectEvidence(app, models.DeviceIntegrityEvidence{})

	assert.Equal(t, models.CertMismatch, ev.CertMatch)
	// Anomalous regardless of the remaining score
	assert.Equal(t, models.TrustAnomalous, ev.TrustLevel)
	assert.Equal(t, 0, ev.TrustScore)
}

func TestMatchCertificateDomainGate(t *testing.T) {
	engine := newTestTrustEngine([]models.CertWhitelistEntry{{
		PackageName: "com.bank.app",
		Domain:      models.DomainPlaySigned,
		AppCert:     "expected",
	}})

	// Same package and wrong cert, but arrived sideloaded so the evidence
	// domain is unknown. Outside the whitelisted domain this is not proof
	// of forgery.
	app := models.ScannedAppEvidence{
		PackageName:      "com.bank.app",
		CertSHA256:       "forged",
		InstallerPackage: "com.example.filemanager",
		APKPath:          "/data/app/com.bank.app-1/base.apk",
	}

	ev := engine.CollectEvidence(app, models.DeviceIntegrityEvidence{})
	assert.Equal(t, models.CertUnknown, ev.CertMatch)
	assert.NotEqual(t, models.TrustAnomalous, ev.TrustLevel)
}

func TestCollectEvidenceUnreadableCertIsNeutral(t *testing.T) {
	engine := newTestTrustEngine([]models.CertWhitelistEntry{{
		PackageName: "com.bank.app",
		Domain:      models.DomainPlaySigned,
		AppCert:     "expected",
	}})

	app := models.ScannedAppEvidence{
		PackageName:      "com.bank.app",
		InstallerPackage: "com.android.vending",
		APKPath:          "/data/app/com.bank.app-1/base.apk",
	}

	ev := engine.CollectEvidence(app, models.DeviceIntegrityEvidence{})
	assert.Equal(t, models.CertUnknown, ev.CertMatch)
	assert.Equal(t, 20, ev.TrustScore)
}

func TestTrustLevelRootedSystemUnsignedIsAnomalous(t *testing.T) {
	engine := newTestTrustEngine(nil)

	// A system app not signed by the platform key on a rooted device
	// suggests a repacked image
	app := models.ScannedAppEvidence{
		PackageName: "com.android.phone",
		CertSHA256:  "cc33",
		IsSystemApp: true,
		APKPath:     "/system/priv-app/Phone/Phone.apk",
	}
	device := models.DeviceIntegrityEvidence{IsRooted: true}

	ev := engine.CollectEvidence(app, device)
	assert.Equal(t, models.TrustAnomalous, ev.TrustLevel)
}

func TestCollectEvidenceReasonsCarrySigns(t *testing.T) {
	engine := newTestTrustEngine(nil)

	app := models.ScannedAppEvidence{
		PackageName:      "com.shady.tool",
		InstallerPackage: "com.example.filemanager",
		APKPath:          "/data/app/com.shady.tool-1/base.apk",
	}
	ev := engine.CollectEvidence(app, models.DeviceIntegrityEvidence{IsRooted: true})

	require.Len(t, ev.Reasons, 2)
	assert.Equal(t, "-5 sideloaded", ev.Reasons[0])
	assert.Equal(t, "-15 device rooted", ev.Reasons[1])
}

func TestClampInt(t *testing.T) {
	assert.Equal(t, 0, clampInt(-10, 0, 100))
	assert.Equal(t, 100, clampInt(140, 0, 100))
	assert.Equal(t, 55, clampInt(55, 0, 100))
}

func TestClamp01(t *testing.T) {
	assert.Equal(t, 0.0, clamp01(-0.2))
	assert.Equal(t, 1.0, clamp01(1.3))
	assert.Equal(t, 0.6, clamp01(0.6))
}
