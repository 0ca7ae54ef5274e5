package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"appsentry/internal/domain/models"
	"appsentry/internal/infrastructure/database/repository"
	"appsentry/pkg/logger"
)

// ErrIncidentNotFound is returned when a status update targets an
// incident that does not exist
var ErrIncidentNotFound = errors.New("incident not found")

// IncidentPublisher pushes incident lifecycle changes to the stream
type IncidentPublisher interface {
	PublishIncidentUpdated(ctx context.Context, incident *models.SecurityIncident) error
}

// IncidentService fronts the incident store and enforces the status
// machine on updates
type IncidentService struct {
	store     repository.IncidentStore
	publisher IncidentPublisher
	logger    *logger.Logger
	now       func() time.Time
}

// NewIncidentService creates an incident service. publisher may be nil.
func NewIncidentService(store repository.IncidentStore, publisher IncidentPublisher, log *logger.Logger, now func() time.Time) *IncidentService {
	if now == nil {
		now = time.Now
	}
	return &IncidentService{
		store:     store,
		publisher: publisher,
		logger:    log.WithComponent("incidents"),
		now:       now,
	}
}

// Get retrieves one incident, (nil, nil) when absent
func (s *IncidentService) Get(ctx context.Context, id uuid.UUID) (*models.SecurityIncident, error) {
	return s.store.GetByID(ctx, id)
}

// List retrieves incidents with optional filters
func (s *IncidentService) List(ctx context.Context, filter repository.IncidentFilter) ([]*models.SecurityIncident, int64, error) {
	return s.store.List(ctx, filter)
}

// UpdateStatus transitions an incident through its lifecycle. Forbidden
// moves return *models.InvalidTransitionError.
func (s *IncidentService) UpdateStatus(ctx context.Context, id uuid.UUID, next models.IncidentStatus) (*models.SecurityIncident, error) {
	incident, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if incident == nil {
		return nil, fmt.Errorf("incident %s: %w", id, ErrIncidentNotFound)
	}

	if err := incident.Transition(next, s.now()); err != nil {
		return nil, err
	}

	if err := s.store.UpdateStatus(ctx, id, incident.Status, incident.UpdatedAt); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("incident", id.String()).
		Str("status", string(next)).
		Msg("incident status updated")

	if s.publisher != nil {
		if err := s.publisher.PublishIncidentUpdated(ctx, incident); err != nil {
			s.logger.Warn().Err(err).Msg("failed to publish incident update")
		}
	}

	return incident, nil
}

// CountByStatus returns incident counts per lifecycle status
func (s *IncidentService) CountByStatus(ctx context.Context) (map[models.IncidentStatus]int64, error) {
	return s.store.CountByStatus(ctx)
}
