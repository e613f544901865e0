package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/inkwell-hq/audience-engine/pkg/apperrors"
	"github.com/inkwell-hq/audience-engine/pkg/models"
)

type featureTestDeps struct {
	personRepo  *mockPersonRepository
	eventRepo   *mockEventRepository
	featureRepo *mockFeaturesRepository
}

func setupFeatureTest(t *testing.T) (FeatureService, *featureTestDeps) {
	t.Helper()

	deps := &featureTestDeps{
		personRepo:  newMockPersonRepository(),
		eventRepo:   &mockEventRepository{},
		featureRepo: newMockFeaturesRepository(),
	}

	svc := NewFeatureService(deps.personRepo, deps.eventRepo, deps.featureRepo, 90, zap.NewNop())
	return svc, deps
}

func TestFeatureService_TrackEvent(t *testing.T) {
	svc, deps := setupFeatureTest(t)

	person := &models.Person{}
	require.NoError(t, deps.personRepo.Create(context.Background(), person))
	before := person.LastSeenAt

	occurred := time.Now().Add(-time.Hour)
	event, err := svc.TrackEvent(context.Background(), person.ID, models.EventLetterSent, []byte(`{"letter_id":"abc"}`), occurred)
	require.NoError(t, err)
	assert.Equal(t, person.ID, event.PersonID)
	assert.Equal(t, models.EventLetterSent, event.EventName)
	require.Len(t, deps.eventRepo.events, 1)

	// Tracking bumps last_seen_at.
	assert.True(t, person.LastSeenAt.After(before) || person.LastSeenAt.Equal(before))
}

func TestFeatureService_TrackEvent_UnknownPerson(t *testing.T) {
	svc, _ := setupFeatureTest(t)

	_, err := svc.TrackEvent(context.Background(), uuid.New(), models.EventLetterSent, nil, time.Now())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestFeatureService_ComputeAndStorePersonFeatures(t *testing.T) {
	svc, deps := setupFeatureTest(t)

	person := &models.Person{FirstSeenAt: time.Now().AddDate(0, 0, -30)}
	require.NoError(t, deps.personRepo.Create(context.Background(), person))

	now := time.Now()
	seed := []struct {
		name string
		at   time.Time
	}{
		{models.EventLetterGenerated, now.AddDate(0, 0, -1)},
		{models.EventLetterSent, now.AddDate(0, 0, -1).Add(time.Hour)},
		{models.EventLetterGenerated, now.AddDate(0, 0, -3)},
		{"page_view", now.AddDate(0, 0, -3).Add(2 * time.Hour)},
		{"page_view", now.AddDate(0, 0, -8)},
	}
	for _, e := range seed {
		require.NoError(t, deps.eventRepo.Create(context.Background(), &models.Event{
			PersonID:   person.ID,
			EventName:  e.name,
			OccurredAt: e.at,
		}))
	}

	features, err := svc.ComputeAndStorePersonFeatures(context.Background(), person.ID)
	require.NoError(t, err)

	assert.Equal(t, map[string]int{
		models.EventLetterGenerated: 2,
		models.EventLetterSent:      1,
		"page_view":                 2,
	}, features.EventCounts)

	// Only letter_generated and letter_sent are core actions.
	assert.Equal(t, 3, features.CoreActions)

	// Three distinct calendar days with events.
	assert.Equal(t, 3, features.ActiveDays)

	assert.Equal(t, 30, features.DaysSinceSignup)
	assert.Equal(t, 0, features.DaysSinceLastActive)

	// The snapshot is persisted.
	stored, err := deps.featureRepo.GetByPerson(context.Background(), person.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, features.CoreActions, stored.CoreActions)
}

func TestFeatureService_ComputeAndStorePersonFeatures_IgnoresEventsOutsideWindow(t *testing.T) {
	svc, deps := setupFeatureTest(t)

	person := &models.Person{}
	require.NoError(t, deps.personRepo.Create(context.Background(), person))

	require.NoError(t, deps.eventRepo.Create(context.Background(), &models.Event{
		PersonID:   person.ID,
		EventName:  models.EventLetterSent,
		OccurredAt: time.Now().AddDate(0, 0, -120),
	}))

	features, err := svc.ComputeAndStorePersonFeatures(context.Background(), person.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, features.CoreActions)
	assert.Equal(t, 0, features.ActiveDays)
	assert.Empty(t, features.EventCounts)
}

func TestFeatureService_ComputeAndStorePersonFeatures_NoEventsFallsBackToLastSeen(t *testing.T) {
	svc, deps := setupFeatureTest(t)

	person := &models.Person{LastSeenAt: time.Now().AddDate(0, 0, -12)}
	require.NoError(t, deps.personRepo.Create(context.Background(), person))

	features, err := svc.ComputeAndStorePersonFeatures(context.Background(), person.ID)
	require.NoError(t, err)
	assert.Equal(t, 12, features.DaysSinceLastActive)
}

func TestFeatureService_ComputeAndStorePersonFeatures_UnknownPerson(t *testing.T) {
	svc, _ := setupFeatureTest(t)

	_, err := svc.ComputeAndStorePersonFeatures(context.Background(), uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestFeatureService_GetFeatures_FreshSnapshotReturned(t *testing.T) {
	svc, deps := setupFeatureTest(t)

	person := &models.Person{}
	require.NoError(t, deps.personRepo.Create(context.Background(), person))
	require.NoError(t, deps.featureRepo.Replace(context.Background(), &models.PersonFeatures{
		PersonID:    person.ID,
		CoreActions: 5,
		ComputedAt:  time.Now().Add(-time.Minute),
	}))

	features, err := svc.GetFeatures(context.Background(), person.ID, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 5, features.CoreActions)
}

func TestFeatureService_GetFeatures_StaleSnapshotRecomputed(t *testing.T) {
	svc, deps := setupFeatureTest(t)

	person := &models.Person{}
	require.NoError(t, deps.personRepo.Create(context.Background(), person))
	require.NoError(t, deps.featureRepo.Replace(context.Background(), &models.PersonFeatures{
		PersonID:    person.ID,
		CoreActions: 5,
		ComputedAt:  time.Now().Add(-48 * time.Hour),
	}))
	require.NoError(t, deps.eventRepo.Create(context.Background(), &models.Event{
		PersonID:   person.ID,
		EventName:  models.EventLetterSent,
		OccurredAt: time.Now().Add(-time.Hour),
	}))

	features, err := svc.GetFeatures(context.Background(), person.ID, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, features.CoreActions)
	assert.WithinDuration(t, time.Now(), features.ComputedAt, time.Minute)
}

func TestFeatureService_GetFeatures_MissingSnapshotComputed(t *testing.T) {
	svc, deps := setupFeatureTest(t)

	person := &models.Person{}
	require.NoError(t, deps.personRepo.Create(context.Background(), person))

	features, err := svc.GetFeatures(context.Background(), person.ID, 0)
	require.NoError(t, err)
	require.NotNil(t, features)
	assert.Equal(t, person.ID, features.PersonID)
}
