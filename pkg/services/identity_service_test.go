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

type identityTestDeps struct {
	personRepo  *mockPersonRepository
	linkRepo    *mockIdentityLinkRepository
	eventRepo   *mockEventRepository
	featureRepo *mockFeaturesRepository
	memberRepo  *mockSegmentMemberRepository
}

func setupIdentityTest(t *testing.T) (IdentityService, *identityTestDeps) {
	t.Helper()

	deps := &identityTestDeps{
		personRepo:  newMockPersonRepository(),
		linkRepo:    &mockIdentityLinkRepository{},
		eventRepo:   &mockEventRepository{},
		featureRepo: newMockFeaturesRepository(),
		memberRepo:  &mockSegmentMemberRepository{},
	}

	svc := NewIdentityService(nil, deps.personRepo, deps.linkRepo, deps.eventRepo, deps.featureRepo, deps.memberRepo, zap.NewNop())
	return svc, deps
}

func strPtr(s string) *string { return &s }

func TestIdentityService_ResolveOrCreateByEmail_CreatesNewPerson(t *testing.T) {
	svc, deps := setupIdentityTest(t)

	person, err := svc.ResolveOrCreateByEmail(context.Background(), "jane@example.com")
	require.NoError(t, err)
	require.NotNil(t, person)
	assert.NotEqual(t, uuid.Nil, person.ID)
	require.NotNil(t, person.Email)
	assert.Equal(t, "jane@example.com", *person.Email)
	assert.Len(t, deps.personRepo.persons, 1)
}

func TestIdentityService_ResolveOrCreateByEmail_ReturnsExisting(t *testing.T) {
	svc, deps := setupIdentityTest(t)

	first, err := svc.ResolveOrCreateByEmail(context.Background(), "jane@example.com")
	require.NoError(t, err)

	second, err := svc.ResolveOrCreateByEmail(context.Background(), "jane@example.com")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, deps.personRepo.persons, 1)
}

func TestIdentityService_ResolveOrCreateByEmail_RequiresEmail(t *testing.T) {
	svc, _ := setupIdentityTest(t)

	_, err := svc.ResolveOrCreateByEmail(context.Background(), "")
	assert.ErrorIs(t, err, apperrors.ErrInvalidIdentity)
}

func TestIdentityService_ResolveOrCreateByEmail_ConvergesOnCreateConflict(t *testing.T) {
	svc, deps := setupIdentityTest(t)

	// Simulate a concurrent creator winning the insert race: the existing
	// row is invisible to the first lookup, so Create hits the unique
	// constraint and the service must re-fetch.
	winner := &models.Person{Email: strPtr("jane@example.com")}
	require.NoError(t, deps.personRepo.Create(context.Background(), winner))
	deps.personRepo.hideEmailOnce = "jane@example.com"

	person, err := svc.ResolveOrCreateByEmail(context.Background(), "jane@example.com")
	require.NoError(t, err)
	assert.Equal(t, winner.ID, person.ID)
	assert.Len(t, deps.personRepo.persons, 1)
}

func TestIdentityService_LinkIdentity(t *testing.T) {
	svc, deps := setupIdentityTest(t)

	person, err := svc.ResolveOrCreateByEmail(context.Background(), "jane@example.com")
	require.NoError(t, err)

	link, err := svc.LinkIdentity(context.Background(), person.ID, models.SourceStripe, "cus_123")
	require.NoError(t, err)
	assert.Equal(t, person.ID, link.PersonID)
	assert.Len(t, deps.linkRepo.links, 1)
}

func TestIdentityService_LinkIdentity_RepointsExistingLink(t *testing.T) {
	svc, deps := setupIdentityTest(t)

	first, err := svc.ResolveOrCreateByEmail(context.Background(), "jane@example.com")
	require.NoError(t, err)
	second, err := svc.ResolveOrCreateByEmail(context.Background(), "john@example.com")
	require.NoError(t, err)

	_, err = svc.LinkIdentity(context.Background(), first.ID, models.SourceStripe, "cus_123")
	require.NoError(t, err)
	_, err = svc.LinkIdentity(context.Background(), second.ID, models.SourceStripe, "cus_123")
	require.NoError(t, err)

	// Exactly one link for the pair, pointing at the latest Person.
	require.Len(t, deps.linkRepo.links, 1)
	assert.Equal(t, second.ID, deps.linkRepo.links[0].PersonID)
}

func TestIdentityService_LinkIdentity_RejectsUnknownSource(t *testing.T) {
	svc, _ := setupIdentityTest(t)

	_, err := svc.LinkIdentity(context.Background(), uuid.New(), "salesforce", "sf_1")
	assert.ErrorIs(t, err, apperrors.ErrInvalidIdentity)
}

func TestIdentityService_LinkIdentity_UnknownPerson(t *testing.T) {
	svc, _ := setupIdentityTest(t)

	_, err := svc.LinkIdentity(context.Background(), uuid.New(), models.SourceStripe, "cus_123")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestIdentityService_FindPersonByIdentity_UnknownReturnsNil(t *testing.T) {
	svc, _ := setupIdentityTest(t)

	person, err := svc.FindPersonByIdentity(context.Background(), models.SourcePosthog, "anon-42")
	require.NoError(t, err)
	assert.Nil(t, person)
}

func TestIdentityService_ResolveFromExternalIdentity_KnownLinkWinsOverEmail(t *testing.T) {
	svc, _ := setupIdentityTest(t)

	established, err := svc.ResolveOrCreateByEmail(context.Background(), "jane@example.com")
	require.NoError(t, err)
	_, err = svc.LinkIdentity(context.Background(), established.ID, models.SourceUser, "user-7")
	require.NoError(t, err)

	// Same external id arrives with a different (reused) email. The link
	// must win; no Person is created for the new email.
	person, err := svc.ResolveOrCreateFromExternalIdentity(context.Background(), models.SourceUser, "user-7", "other@example.com", nil)
	require.NoError(t, err)
	assert.Equal(t, established.ID, person.ID)

	byEmail, err := svc.FindPersonByIdentity(context.Background(), models.SourceUser, "user-7")
	require.NoError(t, err)
	assert.Equal(t, established.ID, byEmail.ID)
}

func TestIdentityService_ResolveFromExternalIdentity_FallsBackToEmail(t *testing.T) {
	svc, deps := setupIdentityTest(t)

	existing, err := svc.ResolveOrCreateByEmail(context.Background(), "jane@example.com")
	require.NoError(t, err)

	traits := &models.PersonTraits{FirstName: strPtr("Janet")}
	person, err := svc.ResolveOrCreateFromExternalIdentity(context.Background(), models.SourceStripe, "cus_9", "jane@example.com", traits)
	require.NoError(t, err)
	assert.Equal(t, existing.ID, person.ID)

	// Traits never overwrite an existing Person on resolve.
	assert.Nil(t, person.FirstName)

	// The external id is now linked for next time.
	require.Len(t, deps.linkRepo.links, 1)
	assert.Equal(t, existing.ID, deps.linkRepo.links[0].PersonID)
}

func TestIdentityService_ResolveFromExternalIdentity_CreatesFromEmailWithTraits(t *testing.T) {
	svc, deps := setupIdentityTest(t)

	traits := &models.PersonTraits{FirstName: strPtr("Jane"), LastName: strPtr("Doe")}
	person, err := svc.ResolveOrCreateFromExternalIdentity(context.Background(), models.SourceStripe, "cus_10", "new@example.com", traits)
	require.NoError(t, err)
	require.NotNil(t, person)

	// A brand-new Person carries both the email and the supplied traits.
	require.NotNil(t, person.Email)
	assert.Equal(t, "new@example.com", *person.Email)
	require.NotNil(t, person.FirstName)
	assert.Equal(t, "Jane", *person.FirstName)
	require.NotNil(t, person.LastName)
	assert.Equal(t, "Doe", *person.LastName)

	require.Len(t, deps.linkRepo.links, 1)
	assert.Equal(t, person.ID, deps.linkRepo.links[0].PersonID)
}

func TestIdentityService_ResolveFromExternalIdentity_CreatesFromTraits(t *testing.T) {
	svc, _ := setupIdentityTest(t)

	traits := &models.PersonTraits{FirstName: strPtr("Jane"), LastName: strPtr("Doe")}
	person, err := svc.ResolveOrCreateFromExternalIdentity(context.Background(), models.SourcePosthog, "anon-1", "", traits)
	require.NoError(t, err)
	require.NotNil(t, person)
	assert.Nil(t, person.Email)
	require.NotNil(t, person.FirstName)
	assert.Equal(t, "Jane", *person.FirstName)

	// Resolving the same external id again returns the same Person.
	again, err := svc.ResolveOrCreateFromExternalIdentity(context.Background(), models.SourcePosthog, "anon-1", "", nil)
	require.NoError(t, err)
	assert.Equal(t, person.ID, again.ID)
}

func TestIdentityService_MergePersons_SelfMergeRejected(t *testing.T) {
	svc, _ := setupIdentityTest(t)

	id := uuid.New()
	err := svc.MergePersons(txContext(), id, id)
	assert.ErrorIs(t, err, apperrors.ErrSelfMerge)
}

func TestIdentityService_MergePersons_UnknownPerson(t *testing.T) {
	svc, _ := setupIdentityTest(t)

	err := svc.MergePersons(txContext(), uuid.New(), uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestIdentityService_MergePersons_MovesEverythingAndDeletesSource(t *testing.T) {
	svc, deps := setupIdentityTest(t)
	ctx := txContext()

	target, err := svc.ResolveOrCreateByEmail(ctx, "jane@example.com")
	require.NoError(t, err)
	source, err := svc.ResolveOrCreateFromExternalIdentity(ctx, models.SourcePosthog, "anon-1", "", nil)
	require.NoError(t, err)

	_, err = svc.LinkIdentity(ctx, source.ID, models.SourceStripe, "cus_3")
	require.NoError(t, err)
	require.NoError(t, deps.eventRepo.Create(ctx, &models.Event{
		PersonID:   source.ID,
		EventName:  models.EventLetterSent,
		OccurredAt: time.Now(),
	}))

	require.NoError(t, svc.MergePersons(ctx, source.ID, target.ID))

	// Source row is gone.
	assert.Len(t, deps.personRepo.persons, 1)
	assert.Nil(t, deps.personRepo.persons[source.ID])

	// All links point at the target; none dangle.
	links, err := deps.linkRepo.GetByPerson(ctx, target.ID)
	require.NoError(t, err)
	assert.Len(t, links, 2)
	for _, link := range deps.linkRepo.links {
		assert.Equal(t, target.ID, link.PersonID)
	}

	// Events follow.
	for _, event := range deps.eventRepo.events {
		assert.Equal(t, target.ID, event.PersonID)
	}
}

func TestIdentityService_MergePersons_ReconcilesTraits(t *testing.T) {
	svc, deps := setupIdentityTest(t)
	ctx := txContext()

	earlier := time.Now().AddDate(0, -3, 0)
	later := time.Now()

	target := &models.Person{
		Email:         strPtr("jane@example.com"),
		FirstSeenAt:   later.AddDate(0, -1, 0),
		LastSeenAt:    later.AddDate(0, 0, -10),
		ActiveDays:    5,
		CoreActions:   2,
		LifetimeValue: 40,
	}
	require.NoError(t, deps.personRepo.Create(ctx, target))

	source := &models.Person{
		Phone:         strPtr("+15551234567"),
		FirstName:     strPtr("Jane"),
		FirstSeenAt:   earlier,
		LastSeenAt:    later,
		ActiveDays:    3,
		CoreActions:   4,
		LifetimeValue: 60,
	}
	require.NoError(t, deps.personRepo.Create(ctx, source))

	require.NoError(t, svc.MergePersons(ctx, source.ID, target.ID))

	merged := deps.personRepo.persons[target.ID]
	require.NotNil(t, merged)

	// Earliest first-seen and latest last-seen survive.
	assert.True(t, merged.FirstSeenAt.Equal(earlier))
	assert.True(t, merged.LastSeenAt.Equal(later))

	// Target-wins on populated fields, source fills gaps.
	assert.Equal(t, "jane@example.com", *merged.Email)
	assert.Equal(t, "+15551234567", *merged.Phone)
	assert.Equal(t, "Jane", *merged.FirstName)

	// Counters are summed.
	assert.Equal(t, 8, merged.ActiveDays)
	assert.Equal(t, 6, merged.CoreActions)
	assert.Equal(t, 100.0, merged.LifetimeValue)
}

func TestIdentityService_MergePersons_TargetKeepsOwnFeatures(t *testing.T) {
	svc, deps := setupIdentityTest(t)
	ctx := txContext()

	target, err := svc.ResolveOrCreateByEmail(ctx, "jane@example.com")
	require.NoError(t, err)
	source, err := svc.ResolveOrCreateByEmail(ctx, "old@example.com")
	require.NoError(t, err)

	require.NoError(t, deps.featureRepo.Replace(ctx, &models.PersonFeatures{PersonID: target.ID, CoreActions: 9}))
	require.NoError(t, deps.featureRepo.Replace(ctx, &models.PersonFeatures{PersonID: source.ID, CoreActions: 1}))

	require.NoError(t, svc.MergePersons(ctx, source.ID, target.ID))

	features, err := deps.featureRepo.GetByPerson(ctx, target.ID)
	require.NoError(t, err)
	require.NotNil(t, features)
	assert.Equal(t, 9, features.CoreActions)

	// The source's orphaned snapshot is gone.
	orphan, err := deps.featureRepo.GetByPerson(ctx, source.ID)
	require.NoError(t, err)
	assert.Nil(t, orphan)
}

func TestIdentityService_MergePersons_SourceFeaturesMoveWhenTargetHasNone(t *testing.T) {
	svc, deps := setupIdentityTest(t)
	ctx := txContext()

	target, err := svc.ResolveOrCreateByEmail(ctx, "jane@example.com")
	require.NoError(t, err)
	source, err := svc.ResolveOrCreateByEmail(ctx, "old@example.com")
	require.NoError(t, err)

	require.NoError(t, deps.featureRepo.Replace(ctx, &models.PersonFeatures{PersonID: source.ID, CoreActions: 7}))

	require.NoError(t, svc.MergePersons(ctx, source.ID, target.ID))

	features, err := deps.featureRepo.GetByPerson(ctx, target.ID)
	require.NoError(t, err)
	require.NotNil(t, features)
	assert.Equal(t, 7, features.CoreActions)
}

func TestIdentityService_MergePersons_ActiveMembershipCollision(t *testing.T) {
	svc, deps := setupIdentityTest(t)
	ctx := txContext()

	target, err := svc.ResolveOrCreateByEmail(ctx, "jane@example.com")
	require.NoError(t, err)
	source, err := svc.ResolveOrCreateByEmail(ctx, "old@example.com")
	require.NoError(t, err)

	segmentID := uuid.New()
	require.NoError(t, deps.memberRepo.Create(ctx, &models.SegmentMember{PersonID: target.ID, SegmentID: segmentID}))
	require.NoError(t, deps.memberRepo.Create(ctx, &models.SegmentMember{PersonID: source.ID, SegmentID: segmentID}))

	require.NoError(t, svc.MergePersons(ctx, source.ID, target.ID))

	// One active membership survives for the pair.
	active, err := deps.memberRepo.GetActiveBySegment(ctx, segmentID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, target.ID, active[0].PersonID)
}
