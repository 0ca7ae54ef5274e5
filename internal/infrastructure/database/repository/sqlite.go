package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"appsentry/internal/domain/models"
)

// SQLite is the embedded on-device store. It serves both the baseline and
// incident interfaces from a single database file, so a scanner process
// needs no external services.
type SQLite struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS app_baselines (
	package_name               TEXT PRIMARY KEY,
	cert_sha256                TEXT NOT NULL DEFAULT '',
	previous_cert_sha256       TEXT NOT NULL DEFAULT '',
	last_cert_change_at        TIMESTAMP,
	version_code               INTEGER NOT NULL DEFAULT 0,
	version_name               TEXT NOT NULL DEFAULT '',
	is_system_app              BOOLEAN NOT NULL DEFAULT 0,
	installer_package          TEXT NOT NULL DEFAULT '',
	apk_path                   TEXT NOT NULL DEFAULT '',
	first_seen_at              TIMESTAMP NOT NULL,
	last_seen_at               TIMESTAMP NOT NULL,
	scan_count                 INTEGER NOT NULL DEFAULT 1,
	permission_set_hash        TEXT NOT NULL DEFAULT '',
	high_risk_permissions      TEXT NOT NULL DEFAULT '[]',
	exported_activity_count    INTEGER NOT NULL DEFAULT 0,
	exported_service_count     INTEGER NOT NULL DEFAULT 0,
	exported_receiver_count    INTEGER NOT NULL DEFAULT 0,
	exported_provider_count    INTEGER NOT NULL DEFAULT 0,
	unprotected_exported_count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS incidents (
	id                   TEXT PRIMARY KEY,
	event_id             TEXT NOT NULL,
	package_name         TEXT NOT NULL DEFAULT '',
	title                TEXT NOT NULL,
	summary              TEXT NOT NULL DEFAULT '',
	severity             TEXT NOT NULL,
	status               TEXT NOT NULL,
	hypotheses           TEXT NOT NULL DEFAULT '[]',
	actions              TEXT NOT NULL DEFAULT '[]',
	corroborating_events INTEGER NOT NULL DEFAULT 0,
	created_at           TIMESTAMP NOT NULL,
	updated_at           TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_incidents_package ON incidents(package_name);
CREATE INDEX IF NOT EXISTS idx_incidents_status ON incidents(status);
`

// NewSQLite opens (and if needed creates) the database file and applies
// the schema
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// A single writer avoids SQLITE_BUSY under concurrent scans
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply sqlite schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close closes the database file
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Ping verifies the database file is reachable
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Stores returns both store interfaces backed by this database
func (s *SQLite) Stores() Stores {
	return Stores{
		Baselines: &SQLiteBaselineStore{db: s.db},
		Incidents: &SQLiteIncidentStore{db: s.db},
	}
}

// SQLiteBaselineStore is the baseline store view of the embedded database
type SQLiteBaselineStore struct {
	db *sql.DB
}

// Get retrieves the baseline for a package, (nil, nil) when absent
func (s *SQLiteBaselineStore) Get(ctx context.Context, packageName string) (*models.BaselineRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT package_name, cert_sha256, previous_cert_sha256, last_cert_change_at,
			   version_code, version_name, is_system_app, installer_package, apk_path,
			   first_seen_at, last_seen_at, scan_count,
			   permission_set_hash, high_risk_permissions,
			   exported_activity_count, exported_service_count, exported_receiver_count,
			   exported_provider_count, unprotected_exported_count
		FROM app_baselines WHERE package_name = ?`, packageName)

	rec, err := scanSQLiteBaseline(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get baseline: %w", err)
	}
	return rec, nil
}

// Upsert writes the baseline row for a package
func (s *SQLiteBaselineStore) Upsert(ctx context.Context, rec *models.BaselineRecord) error {
	permissions, err := json.Marshal(rec.HighRiskPermissions)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO app_baselines (
			package_name, cert_sha256, previous_cert_sha256, last_cert_change_at,
			version_code, version_name, is_system_app, installer_package, apk_path,
			first_seen_at, last_seen_at, scan_count,
			permission_set_hash, high_risk_permissions,
			exported_activity_count, exported_service_count, exported_receiver_count,
			exported_provider_count, unprotected_exported_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(package_name) DO UPDATE SET
			cert_sha256 = excluded.cert_sha256,
			previous_cert_sha256 = excluded.previous_cert_sha256,
			last_cert_change_at = excluded.last_cert_change_at,
			version_code = excluded.version_code,
			version_name = excluded.version_name,
			is_system_app = excluded.is_system_app,
			installer_package = excluded.installer_package,
			apk_path = excluded.apk_path,
			last_seen_at = excluded.last_seen_at,
			scan_count = excluded.scan_count,
			permission_set_hash = excluded.permission_set_hash,
			high_risk_permissions = excluded.high_risk_permissions,
			exported_activity_count = excluded.exported_activity_count,
			exported_service_count = excluded.exported_service_count,
			exported_receiver_count = excluded.exported_receiver_count,
			exported_provider_count = excluded.exported_provider_count,
			unprotected_exported_count = excluded.unprotected_exported_count`,
		rec.PackageName, rec.CertSHA256, rec.PreviousCertSHA256, rec.LastCertChangeAt,
		rec.VersionCode, rec.VersionName, rec.IsSystemApp, rec.InstallerPackage, rec.APKPath,
		rec.FirstSeenAt, rec.LastSeenAt, rec.ScanCount,
		rec.PermissionSetHash, string(permissions),
		rec.ExportedActivityCount, rec.ExportedServiceCount, rec.ExportedReceiverCount,
		rec.ExportedProviderCount, rec.UnprotectedExportedCount,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert baseline: %w", err)
	}
	return nil
}

// Count returns the number of baselined packages
func (s *SQLiteBaselineStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM app_baselines`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count baselines: %w", err)
	}
	return count, nil
}

// List retrieves baselines ordered by package name
func (s *SQLiteBaselineStore) List(ctx context.Context, limit, offset int) ([]*models.BaselineRecord, int64, error) {
	total, err := s.Count(ctx)
	if err != nil {
		return nil, 0, err
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT package_name, cert_sha256, previous_cert_sha256, last_cert_change_at,
			   version_code, version_name, is_system_app, installer_package, apk_path,
			   first_seen_at, last_seen_at, scan_count,
			   permission_set_hash, high_risk_permissions,
			   exported_activity_count, exported_service_count, exported_receiver_count,
			   exported_provider_count, unprotected_exported_count
		FROM app_baselines ORDER BY package_name LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list baselines: %w", err)
	}
	defer rows.Close()

	var records []*models.BaselineRecord
	for rows.Next() {
		rec, err := scanSQLiteBaseline(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan baseline row: %w", err)
		}
		records = append(records, rec)
	}
	return records, total, nil
}

// Delete removes the baseline for a package
func (s *SQLiteBaselineStore) Delete(ctx context.Context, packageName string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM app_baselines WHERE package_name = ?`, packageName); err != nil {
		return fmt.Errorf("failed to delete baseline: %w", err)
	}
	return nil
}

// SQLiteIncidentStore is the incident store view of the embedded database
type SQLiteIncidentStore struct {
	db *sql.DB
}

// Create inserts a new incident
func (s *SQLiteIncidentStore) Create(ctx context.Context, incident *models.SecurityIncident) error {
	if incident.ID == uuid.Nil {
		incident.ID = uuid.New()
	}
	hypotheses, err := json.Marshal(incident.Hypotheses)
	if err != nil {
		return fmt.Errorf("failed to marshal hypotheses: %w", err)
	}
	actions, err := json.Marshal(incident.Actions)
	if err != nil {
		return fmt.Errorf("failed to marshal actions: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO incidents (
			id, event_id, package_name, title, summary, severity, status,
			hypotheses, actions, corroborating_events, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		incident.ID.String(), incident.EventID.String(), incident.PackageName,
		incident.Title, incident.Summary, string(incident.Severity), string(incident.Status),
		string(hypotheses), string(actions), incident.CorroboratingEvents,
		incident.CreatedAt, incident.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create incident: %w", err)
	}
	return nil
}

// GetByID retrieves an incident, (nil, nil) when absent
func (s *SQLiteIncidentStore) GetByID(ctx context.Context, id uuid.UUID) (*models.SecurityIncident, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, event_id, package_name, title, summary, severity, status,
			   hypotheses, actions, corroborating_events, created_at, updated_at
		FROM incidents WHERE id = ?`, id.String())

	incident, err := scanSQLiteIncident(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get incident: %w", err)
	}
	return incident, nil
}

// List retrieves incidents newest first with optional filters
func (s *SQLiteIncidentStore) List(ctx context.Context, filter IncidentFilter) ([]*models.SecurityIncident, int64, error) {
	where := ""
	var args []any
	if filter.Status != "" {
		where = " WHERE status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.PackageName != "" {
		if where == "" {
			where = " WHERE package_name = ?"
		} else {
			where += " AND package_name = ?"
		}
		args = append(args, filter.PackageName)
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM incidents"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count incidents: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, event_id, package_name, title, summary, severity, status,
			   hypotheses, actions, corroborating_events, created_at, updated_at
		FROM incidents` + where + " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list incidents: %w", err)
	}
	defer rows.Close()

	var incidents []*models.SecurityIncident
	for rows.Next() {
		incident, err := scanSQLiteIncident(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan incident row: %w", err)
		}
		incidents = append(incidents, incident)
	}
	return incidents, total, nil
}

// UpdateStatus moves an incident to a new status
func (s *SQLiteIncidentStore) UpdateStatus(ctx context.Context, id uuid.UUID, status models.IncidentStatus, updatedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE incidents SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), updatedAt, id.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update incident status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("incident %s not found", id)
	}
	return nil
}

// CountByStatus returns incident counts per lifecycle status
func (s *SQLiteIncidentStore) CountByStatus(ctx context.Context) (map[models.IncidentStatus]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM incidents GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count incidents by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.IncidentStatus]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[models.IncidentStatus(status)] = count
	}
	return counts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteBaseline(row rowScanner) (*models.BaselineRecord, error) {
	rec := &models.BaselineRecord{}
	var lastCertChange sql.NullTime
	var permissions string

	err := row.Scan(
		&rec.PackageName, &rec.CertSHA256, &rec.PreviousCertSHA256, &lastCertChange,
		&rec.VersionCode, &rec.VersionName, &rec.IsSystemApp, &rec.InstallerPackage, &rec.APKPath,
		&rec.FirstSeenAt, &rec.LastSeenAt, &rec.ScanCount,
		&rec.PermissionSetHash, &permissions,
		&rec.ExportedActivityCount, &rec.ExportedServiceCount, &rec.ExportedReceiverCount,
		&rec.ExportedProviderCount, &rec.UnprotectedExportedCount,
	)
	if err != nil {
		return nil, err
	}

	if lastCertChange.Valid {
		t := lastCertChange.Time
		rec.LastCertChangeAt = &t
	}
	if permissions != "" {
		if err := json.Unmarshal([]byte(permissions), &rec.HighRiskPermissions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal permissions: %w", err)
		}
	}
	return rec, nil
}

func scanSQLiteIncident(row rowScanner) (*models.SecurityIncident, error) {
	incident := &models.SecurityIncident{}
	var id, eventID, severity, status, hypotheses, actions string

	err := row.Scan(
		&id, &eventID, &incident.PackageName,
		&incident.Title, &incident.Summary, &severity, &status,
		&hypotheses, &actions, &incident.CorroboratingEvents,
		&incident.CreatedAt, &incident.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	incident.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("failed to parse incident id: %w", err)
	}
	incident.EventID, err = uuid.Parse(eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse event id: %w", err)
	}
	incident.Severity = models.Severity(severity)
	incident.Status = models.IncidentStatus(status)

	if hypotheses != "" {
		if err := json.Unmarshal([]byte(hypotheses), &incident.Hypotheses); err != nil {
			return nil, fmt.Errorf("failed to unmarshal hypotheses: %w", err)
		}
	}
	if actions != "" {
		if err := json.Unmarshal([]byte(actions), &incident.Actions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal actions: %w", err)
		}
	}
	return incident, nil
}
