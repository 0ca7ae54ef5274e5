package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"appsentry/internal/domain/models"
)

// BaselineStore persists per-package baselines. Get returns (nil, nil)
// when no baseline exists for the package; absence is not an error.
type BaselineStore interface {
	Get(ctx context.Context, packageName string) (*models.BaselineRecord, error)
	Upsert(ctx context.Context, rec *models.BaselineRecord) error
	Count(ctx context.Context) (int64, error)
	List(ctx context.Context, limit, offset int) ([]*models.BaselineRecord, int64, error)
	Delete(ctx context.Context, packageName string) error
}

// IncidentFilter narrows incident listings
type IncidentFilter struct {
	Status      models.IncidentStatus
	PackageName string
	Limit       int
	Offset      int
}

// IncidentStore persists resolved incidents
type IncidentStore interface {
	Create(ctx context.Context, incident *models.SecurityIncident) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.SecurityIncident, error)
	List(ctx context.Context, filter IncidentFilter) ([]*models.SecurityIncident, int64, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.IncidentStatus, updatedAt time.Time) error
	CountByStatus(ctx context.Context) (map[models.IncidentStatus]int64, error)
}

// Stores bundles the persistence interfaces handed to the service layer
type Stores struct {
	Baselines BaselineStore
	Incidents IncidentStore
}
