package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"appsentry/internal/domain/models"
)

// IncidentRepository is the Postgres-backed incident store. Hypotheses and
// actions are stored as JSONB; they are read back whole, never queried.
type IncidentRepository struct {
	pool *pgxpool.Pool
}

// NewIncidentRepository creates a new incident repository
func NewIncidentRepository(pool *pgxpool.Pool) *IncidentRepository {
	return &IncidentRepository{pool: pool}
}

// Create inserts a new incident
func (r *IncidentRepository) Create(ctx context.Context, incident *models.SecurityIncident) error {
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

	query := `
		INSERT INTO incidents (
			id, event_id, package_name, title, summary, severity, status,
			hypotheses, actions, corroborating_events, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err = r.pool.Exec(ctx, query,
		incident.ID, incident.EventID, incident.PackageName,
		incident.Title, incident.Summary, incident.Severity, incident.Status,
		hypotheses, actions, incident.CorroboratingEvents,
		incident.CreatedAt, incident.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create incident: %w", err)
	}
	return nil
}

// GetByID retrieves an incident, (nil, nil) when absent
func (r *IncidentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.SecurityIncident, error) {
	query := `
		SELECT id, event_id, package_name, title, summary, severity, status,
			   hypotheses, actions, corroborating_events, created_at, updated_at
		FROM incidents WHERE id = $1`

	incident, err := scanIncident(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get incident: %w", err)
	}
	return incident, nil
}

// List retrieves incidents newest first, with optional status and package
// filters
func (r *IncidentRepository) List(ctx context.Context, filter IncidentFilter) ([]*models.SecurityIncident, int64, error) {
	where := ""
	var args []any
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = fmt.Sprintf(" WHERE status = $%d", len(args))
	}
	if filter.PackageName != "" {
		args = append(args, filter.PackageName)
		if where == "" {
			where = fmt.Sprintf(" WHERE package_name = $%d", len(args))
		} else {
			where += fmt.Sprintf(" AND package_name = $%d", len(args))
		}
	}

	var total int64
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM incidents"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count incidents: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, event_id, package_name, title, summary, severity, status,
			   hypotheses, actions, corroborating_events, created_at, updated_at
		FROM incidents` + where + " ORDER BY created_at DESC" +
		fmt.Sprintf(" LIMIT %d OFFSET %d", limit, filter.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list incidents: %w", err)
	}
	defer rows.Close()

	var incidents []*models.SecurityIncident
	for rows.Next() {
		incident, err := scanIncident(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan incident row: %w", err)
		}
		incidents = append(incidents, incident)
	}
	return incidents, total, nil
}

// UpdateStatus moves an incident to a new status. The status machine is
// enforced by the service layer before this is called.
func (r *IncidentRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.IncidentStatus, updatedAt time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE incidents SET status = $2, updated_at = $3 WHERE id = $1`,
		id, status, updatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update incident status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("incident %s not found", id)
	}
	return nil
}

// CountByStatus returns incident counts per lifecycle status
func (r *IncidentRepository) CountByStatus(ctx context.Context) (map[models.IncidentStatus]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM incidents GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count incidents by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.IncidentStatus]int64)
	for rows.Next() {
		var status models.IncidentStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[status] = count
	}
	return counts, nil
}

func scanIncident(row pgx.Row) (*models.SecurityIncident, error) {
	incident := &models.SecurityIncident{}
	var hypotheses, actions []byte

	err := row.Scan(
		&incident.ID, &incident.EventID, &incident.PackageName,
		&incident.Title, &incident.Summary, &incident.Severity, &incident.Status,
		&hypotheses, &actions, &incident.CorroboratingEvents,
		&incident.CreatedAt, &incident.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(hypotheses) > 0 {
		if err := json.Unmarshal(hypotheses, &incident.Hypotheses); err != nil {
			return nil, fmt.Errorf("failed to unmarshal hypotheses: %w", err)
		}
	}
	if len(actions) > 0 {
		if err := json.Unmarshal(actions, &incident.Actions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal actions: %w", err)
		}
	}
	return incident, nil
}
