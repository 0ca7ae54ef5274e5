package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"appsentry/internal/domain/models"
)

// BaselineRepository is the Postgres-backed baseline store
type BaselineRepository struct {
	pool *pgxpool.Pool
}

// NewBaselineRepository creates a new baseline repository
func NewBaselineRepository(pool *pgxpool.Pool) *BaselineRepository {
	return &BaselineRepository{pool: pool}
}

const baselineColumns = `
	package_name, cert_sha256, previous_cert_sha256, last_cert_change_at,
	version_code, version_name, is_system_app, installer_package, apk_path,
	first_seen_at, last_seen_at, scan_count,
	permission_set_hash, high_risk_permissions,
	exported_activity_count, exported_service_count, exported_receiver_count,
	exported_provider_count, unprotected_exported_count`

// Get retrieves the baseline for a package, (nil, nil) when absent
func (r *BaselineRepository) Get(ctx context.Context, packageName string) (*models.BaselineRecord, error) {
	query := `SELECT` + baselineColumns + ` FROM app_baselines WHERE package_name = $1`

	rec, err := scanBaseline(r.pool.QueryRow(ctx, query, packageName))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get baseline: %w", err)
	}
	return rec, nil
}

// Upsert writes the baseline row for a package, replacing any existing one
func (r *BaselineRepository) Upsert(ctx context.Context, rec *models.BaselineRecord) error {
	query := `
		INSERT INTO app_baselines (` + baselineColumns + `
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19
		)
		ON CONFLICT (package_name) DO UPDATE SET
			cert_sha256 = EXCLUDED.cert_sha256,
			previous_cert_sha256 = EXCLUDED.previous_cert_sha256,
			last_cert_change_at = EXCLUDED.last_cert_change_at,
			version_code = EXCLUDED.version_code,
			version_name = EXCLUDED.version_name,
			is_system_app = EXCLUDED.is_system_app,
			installer_package = EXCLUDED.installer_package,
			apk_path = EXCLUDED.apk_path,
			last_seen_at = EXCLUDED.last_seen_at,
			scan_count = EXCLUDED.scan_count,
			permission_set_hash = EXCLUDED.permission_set_hash,
			high_risk_permissions = EXCLUDED.high_risk_permissions,
			exported_activity_count = EXCLUDED.exported_activity_count,
			exported_service_count = EXCLUDED.exported_service_count,
			exported_receiver_count = EXCLUDED.exported_receiver_count,
			exported_provider_count = EXCLUDED.exported_provider_count,
			unprotected_exported_count = EXCLUDED.unprotected_exported_count`

	_, err := r.pool.Exec(ctx, query,
		rec.PackageName, rec.CertSHA256, rec.PreviousCertSHA256, rec.LastCertChangeAt,
		rec.VersionCode, rec.VersionName, rec.IsSystemApp, rec.InstallerPackage, rec.APKPath,
		rec.FirstSeenAt, rec.LastSeenAt, rec.ScanCount,
		rec.PermissionSetHash, rec.HighRiskPermissions,
		rec.ExportedActivityCount, rec.ExportedServiceCount, rec.ExportedReceiverCount,
		rec.ExportedProviderCount, rec.UnprotectedExportedCount,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert baseline: %w", err)
	}
	return nil
}

// Count returns the number of baselined packages
func (r *BaselineRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM app_baselines`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count baselines: %w", err)
	}
	return count, nil
}

// List retrieves baselines ordered by package name
func (r *BaselineRepository) List(ctx context.Context, limit, offset int) ([]*models.BaselineRecord, int64, error) {
	total, err := r.Count(ctx)
	if err != nil {
		return nil, 0, err
	}

	if limit <= 0 {
		limit = 100
	}
	query := `SELECT` + baselineColumns + `
		FROM app_baselines
		ORDER BY package_name` + fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list baselines: %w", err)
	}
	defer rows.Close()

	var records []*models.BaselineRecord
	for rows.Next() {
		rec, err := scanBaseline(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan baseline row: %w", err)
		}
		records = append(records, rec)
	}
	return records, total, nil
}

// Delete removes the baseline for a package
func (r *BaselineRepository) Delete(ctx context.Context, packageName string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM app_baselines WHERE package_name = $1`, packageName)
	if err != nil {
		return fmt.Errorf("failed to delete baseline: %w", err)
	}
	return nil
}

func scanBaseline(row pgx.Row) (*models.BaselineRecord, error) {
	rec := &models.BaselineRecord{}
	err := row.Scan(
		&rec.PackageName, &rec.CertSHA256, &rec.PreviousCertSHA256, &rec.LastCertChangeAt,
		&rec.VersionCode, &rec.VersionName, &rec.IsSystemApp, &rec.InstallerPackage, &rec.APKPath,
		&rec.FirstSeenAt, &rec.LastSeenAt, &rec.ScanCount,
		&rec.PermissionSetHash, &rec.HighRiskPermissions,
		&rec.ExportedActivityCount, &rec.ExportedServiceCount, &rec.ExportedReceiverCount,
		&rec.ExportedProviderCount, &rec.UnprotectedExportedCount,
	)
	if err != nil {
		return nil, err
	}
	return rec, nil
}
