package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appsentry/internal/domain/models"
	"appsentry/internal/infrastructure/database/repository"
)

func newIncidentFixture(t *testing.T) (*IncidentService, *memIncidentStore, *fakePublisher) {
	t.Helper()
	store := newMemIncidentStore()
	publisher := &fakePublisher{}
	now := func() time.Time { return scanNow }
	return NewIncidentService(store, publisher, testLogger(), now), store, publisher
}

func seedIncident(t *testing.T, store *memIncidentStore, status models.IncidentStatus) models.SecurityIncident {
	t.Helper()
	inc := models.SecurityIncident{
		ID:          uuid.New(),
		EventID:     uuid.New(),
		PackageName: "com.example.app",
		Title:       "Permission escalation: com.example.app",
		Severity:    models.SeverityHigh,
		Status:      status,
		CreatedAt:   scanNow.Add(-time.Hour),
		UpdatedAt:   scanNow.Add(-time.Hour),
	}
	require.NoError(t, store.Create(context.Background(), &inc))
	return inc
}

func TestIncidentUpdateStatus(t *testing.T) {
	svc, store, publisher := newIncidentFixture(t)
	ctx := context.Background()
	inc := seedIncident(t, store, models.IncidentOpen)

	updated, err := svc.UpdateStatus(ctx, inc.ID, models.IncidentInvestigating)
	require.NoError(t, err)
	assert.Equal(t, models.IncidentInvestigating, updated.Status)
	assert.Equal(t, scanNow, updated.UpdatedAt)

	// Persisted and published
	stored, err := store.GetByID(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IncidentInvestigating, stored.Status)
	assert.Len(t, publisher.incidents, 1)
}

func TestIncidentUpdateStatusInvalidTransition(t *testing.T) {
	svc, store, publisher := newIncidentFixture(t)
	ctx := context.Background()
	inc := seedIncident(t, store, models.IncidentResolved)

	_, err := svc.UpdateStatus(ctx, inc.ID, models.IncidentOpen)
	require.Error(t, err)

	var invalid *models.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, models.IncidentResolved, invalid.From)

	// Nothing persisted or published on a rejected move
	stored, err := store.GetByID(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IncidentResolved, stored.Status)
	assert.Empty(t, publisher.incidents)
}

func TestIncidentUpdateStatusNotFound(t *testing.T) {
	svc, _, _ := newIncidentFixture(t)

	_, err := svc.UpdateStatus(context.Background(), uuid.New(), models.IncidentResolved)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIncidentNotFound)
}

func TestIncidentGetAbsentIsNil(t *testing.T) {
	svc, _, _ := newIncidentFixture(t)

	inc, err := svc.Get(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, inc)
}

func TestIncidentListFilter(t *testing.T) {
	svc, store, _ := newIncidentFixture(t)
	ctx := context.Background()

	seedIncident(t, store, models.IncidentOpen)
	seedIncident(t, store, models.IncidentOpen)
	seedIncident(t, store, models.IncidentDismissed)

	open, total, err := svc.List(ctx, repository.IncidentFilter{Status: models.IncidentOpen})
	require.NoError(t, err)
	assert.Len(t, open, 2)
	assert.Equal(t, int64(2), total)

	counts, err := svc.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[models.IncidentOpen])
	assert.Equal(t, int64(1), counts[models.IncidentDismissed])
}
