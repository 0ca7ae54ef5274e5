package services

import (
	"fmt"
	"sort"
	"time"

	"appsentry/internal/domain/models"
	"appsentry/pkg/logger"
)

// Exported-surface severity thresholds. The relative delta is what
// matters: absolute counts misclassify large, already-exposed apps.
const (
	surfaceHighMinNew      = 2
	surfaceMediumRatio     = 0.5
	surfaceMediumAbsDelta  = 5
)

// BaselineManager detects drift between the current scan and the stored
// per-package baseline, and produces the next baseline row. Pure over its
// inputs; `now` is injected.
type BaselineManager struct {
	logger *logger.Logger
}

// NewBaselineManager creates a baseline manager
func NewBaselineManager(log *logger.Logger) *BaselineManager {
	return &BaselineManager{logger: log.WithComponent("baseline")}
}

// Compare diffs the current evidence against the stored record.
// stored == nil means no baseline exists (status new, not an error).
// baselineCount is the number of baseline rows that exist for any package,
// used to tell "first scan of the device" apart from "this system app
// appeared after the device had already been scanned".
func (m *BaselineManager) Compare(current models.ScannedAppEvidence, stored *models.BaselineRecord, baselineCount int64) models.BaselineComparison {
	cmp := models.BaselineComparison{
		PackageName: current.PackageName,
		IsFirstScan: stored == nil,
	}

	if stored == nil {
		cmp.Status = models.BaselineNew
		if current.IsSystemApp && baselineCount > 0 {
			cmp.Anomalies = append(cmp.Anomalies, models.BaselineAnomaly{
				Type:        models.AnomalyNewSystemApp,
				Severity:    models.SeverityMedium,
				Description: "system app appeared after the device was already baselined",
			})
		}
		return cmp
	}

	cmp.ScanCount = stored.ScanCount

	if stored.CertSHA256 != "" && current.CertSHA256 != "" && stored.CertSHA256 != current.CertSHA256 {
		cmp.Anomalies = append(cmp.Anomalies, models.BaselineAnomaly{
			Type:        models.AnomalyCertChanged,
			Severity:    models.SeverityCritical,
			Description: "signing certificate changed since last scan",
			Details: map[string]string{
				"old_cert": stored.CertSHA256,
				"new_cert": current.CertSHA256,
			},
		})
	}

	switch {
	case current.VersionCode < stored.VersionCode:
		cmp.Anomalies = append(cmp.Anomalies, models.BaselineAnomaly{
			Type:        models.AnomalyVersionRollback,
			Severity:    models.SeverityHigh,
			Description: fmt.Sprintf("version code rolled back from %d to %d", stored.VersionCode, current.VersionCode),
			Details: map[string]string{
				"old_version": fmt.Sprintf("%d", stored.VersionCode),
				"new_version": fmt.Sprintf("%d", current.VersionCode),
			},
		})
	case current.VersionCode > stored.VersionCode:
		cmp.Anomalies = append(cmp.Anomalies, models.BaselineAnomaly{
			Type:        models.AnomalyVersionChanged,
			Severity:    models.SeverityLow,
			Description: fmt.Sprintf("updated from version %d to %d", stored.VersionCode, current.VersionCode),
		})
	}

	if stored.InstallerPackage != "" && current.InstallerPackage != "" &&
		stored.InstallerPackage != current.InstallerPackage {
		cmp.Anomalies = append(cmp.Anomalies, models.BaselineAnomaly{
			Type:        models.AnomalyInstallerChanged,
			Severity:    models.SeverityMedium,
			Description: "installer package changed since last scan",
			Details: map[string]string{
				"old_installer": stored.InstallerPackage,
				"new_installer": current.InstallerPackage,
			},
		})
	}

	oldPartition := models.PartitionFromPath(stored.APKPath)
	newPartition := current.Partition()
	if oldPartition != models.PartitionUnknown && newPartition != models.PartitionUnknown &&
		oldPartition != newPartition {
		cmp.Anomalies = append(cmp.Anomalies, models.BaselineAnomaly{
			Type:        models.AnomalyPartitionChanged,
			Severity:    models.SeverityMedium,
			Description: fmt.Sprintf("install partition moved from %s to %s", oldPartition, newPartition),
		})
	}

	currentHash := models.HashPermissionSet(current.RequestedPermissions)
	if stored.PermissionSetHash != "" && currentHash != "" && stored.PermissionSetHash != currentHash {
		cmp.Anomalies = append(cmp.Anomalies, models.BaselineAnomaly{
			Type:        models.AnomalyPermissionSetChanged,
			Severity:    models.SeverityLow,
			Description: "requested permission set changed since last scan",
		})
	}

	for _, p := range models.HighRiskPermissionsOf(current.GrantedPermissions) {
		if !stored.HasHighRiskPermission(p) {
			cmp.Anomalies = append(cmp.Anomalies, models.BaselineAnomaly{
				Type:        models.AnomalyHighRiskPermissionAdded,
				Severity:    models.SeverityHigh,
				Description: "high-risk permission granted since last scan: " + p,
				Details:     map[string]string{"permission": p},
			})
		}
	}

	if a := m.surfaceAnomaly(stored.UnprotectedExportedCount, current.UnprotectedExportedCount); a != nil {
		cmp.Anomalies = append(cmp.Anomalies, *a)
	}

	if len(cmp.Anomalies) == 0 {
		cmp.Status = models.BaselineUnchanged
	} else {
		cmp.Status = models.BaselineChanged
	}

	return cmp
}

// surfaceAnomaly grades an increase in unprotected exported components by
// relative delta
func (m *BaselineManager) surfaceAnomaly(old, new int) *models.BaselineAnomaly {
	delta := new - old
	if delta <= 0 {
		return nil
	}

	severity := models.SeverityLow
	switch {
	case old == 0 && new >= surfaceHighMinNew:
		severity = models.SeverityHigh
	case old > 0 && (float64(delta)/float64(old) >= surfaceMediumRatio || delta >= surfaceMediumAbsDelta):
		severity = models.SeverityMedium
	}

	return &models.BaselineAnomaly{
		Type:        models.AnomalyExportedSurfaceIncreased,
		Severity:    severity,
		Description: fmt.Sprintf("unprotected exported surface grew from %d to %d components", old, new),
		Details: map[string]string{
			"old_count": fmt.Sprintf("%d", old),
			"new_count": fmt.Sprintf("%d", new),
		},
	}
}

// Removed reports the baselined packages absent from the current device
// snapshot. The records themselves stay in the store; a reinstall of the
// same package resumes its history.
func (m *BaselineManager) Removed(stored []*models.BaselineRecord, present map[string]bool) []models.BaselineComparison {
	var removed []models.BaselineComparison
	for _, rec := range stored {
		if rec == nil || present[rec.PackageName] {
			continue
		}
		removed = append(removed, models.BaselineComparison{
			PackageName: rec.PackageName,
			Status:      models.BaselineRemoved,
			ScanCount:   rec.ScanCount,
		})
	}
	sort.Slice(removed, func(i, j int) bool {
		return removed[i].PackageName < removed[j].PackageName
	})
	return removed
}

// NextRecord produces the baseline row to persist for this scan. Always
// called after Compare, never before.
func (m *BaselineManager) NextRecord(current models.ScannedAppEvidence, stored *models.BaselineRecord, now time.Time) models.BaselineRecord {
	rec := models.BaselineRecord{
		PackageName:              current.PackageName,
		CertSHA256:               current.CertSHA256,
		VersionCode:              current.VersionCode,
		VersionName:              current.VersionName,
		IsSystemApp:              current.IsSystemApp,
		InstallerPackage:         current.InstallerPackage,
		APKPath:                  current.APKPath,
		FirstSeenAt:              now,
		LastSeenAt:               now,
		ScanCount:                1,
		PermissionSetHash:        models.HashPermissionSet(current.RequestedPermissions),
		HighRiskPermissions:      models.HighRiskPermissionsOf(current.GrantedPermissions),
		ExportedActivityCount:    current.ExportedActivityCount,
		ExportedServiceCount:     current.ExportedServiceCount,
		ExportedReceiverCount:    current.ExportedReceiverCount,
		ExportedProviderCount:    current.ExportedProviderCount,
		UnprotectedExportedCount: current.UnprotectedExportedCount,
	}

	if stored != nil {
		rec.FirstSeenAt = stored.FirstSeenAt
		rec.ScanCount = stored.ScanCount + 1
		rec.PreviousCertSHA256 = stored.PreviousCertSHA256
		rec.LastCertChangeAt = stored.LastCertChangeAt
		if stored.CertSHA256 != "" && current.CertSHA256 != "" && stored.CertSHA256 != current.CertSHA256 {
			rec.PreviousCertSHA256 = stored.CertSHA256
			changeAt := now
			rec.LastCertChangeAt = &changeAt
		}
	}

	return rec
}
