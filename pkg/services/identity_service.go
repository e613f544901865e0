package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/inkwell-hq/audience-engine/pkg/apperrors"
	"github.com/inkwell-hq/audience-engine/pkg/database"
	"github.com/inkwell-hq/audience-engine/pkg/logging"
	"github.com/inkwell-hq/audience-engine/pkg/models"
	"github.com/inkwell-hq/audience-engine/pkg/repositories"
)

// IdentityService resolves external identities to canonical Persons,
// creates Persons when needed, and merges two Persons into one without
// losing data.
type IdentityService interface {
	// ResolveOrCreateByEmail returns the Person with the given email,
	// creating one if none exists. Safe under concurrent callers racing to
	// create the same email: a unique-constraint violation is recovered by
	// re-fetching, never surfaced.
	ResolveOrCreateByEmail(ctx context.Context, email string) (*models.Person, error)

	// LinkIdentity maps (source, externalID) to personID. An existing link
	// is repointed, not duplicated; afterwards exactly one link exists for
	// the pair and it points at personID.
	LinkIdentity(ctx context.Context, personID uuid.UUID, source, externalID string) (*models.IdentityLink, error)

	// FindPersonByIdentity is a pure lookup with no side effects. Returns
	// (nil, nil) when the identity is unknown.
	FindPersonByIdentity(ctx context.Context, source, externalID string) (*models.Person, error)

	// ResolveOrCreateFromExternalIdentity resolves an external id plus an
	// optional email. A known external id always wins over the email, so a
	// reused email address cannot fragment an established identity.
	ResolveOrCreateFromExternalIdentity(ctx context.Context, source, externalID, email string, traits *models.PersonTraits) (*models.Person, error)

	// MergePersons folds sourcePersonID into targetPersonID inside a
	// single transaction and deletes the source. Any failure rolls back
	// entirely; a Person is never observable partially merged.
	MergePersons(ctx context.Context, sourcePersonID, targetPersonID uuid.UUID) error
}

type identityService struct {
	db          *database.DB
	personRepo  repositories.PersonRepository
	linkRepo    repositories.IdentityLinkRepository
	eventRepo   repositories.EventRepository
	featureRepo repositories.FeaturesRepository
	memberRepo  repositories.SegmentMemberRepository
	logger      *zap.Logger
}

// NewIdentityService creates a new IdentityService.
func NewIdentityService(
	db *database.DB,
	personRepo repositories.PersonRepository,
	linkRepo repositories.IdentityLinkRepository,
	eventRepo repositories.EventRepository,
	featureRepo repositories.FeaturesRepository,
	memberRepo repositories.SegmentMemberRepository,
	logger *zap.Logger,
) IdentityService {
	return &identityService{
		db:          db,
		personRepo:  personRepo,
		linkRepo:    linkRepo,
		eventRepo:   eventRepo,
		featureRepo: featureRepo,
		memberRepo:  memberRepo,
		logger:      logger.Named("identity"),
	}
}

var _ IdentityService = (*identityService)(nil)

func (s *identityService) ResolveOrCreateByEmail(ctx context.Context, email string) (*models.Person, error) {
	return s.resolveOrCreateByEmail(ctx, email, nil)
}

// resolveOrCreateByEmail applies traits only on the create path; an existing
// Person's traits are never overwritten by a resolve.
func (s *identityService) resolveOrCreateByEmail(ctx context.Context, email string, traits *models.PersonTraits) (*models.Person, error) {
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", apperrors.ErrInvalidIdentity)
	}

	person, err := s.personRepo.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if person != nil {
		if err := s.personRepo.TouchLastSeen(ctx, person.ID); err != nil {
			return nil, err
		}
		return s.personRepo.GetByID(ctx, person.ID)
	}

	person = &models.Person{Email: &email}
	applyTraits(person, traits)
	err = s.personRepo.Create(ctx, person)
	if err == nil {
		s.logger.Info("Created person from email",
			zap.String("person_id", person.ID.String()),
			zap.String("email", logging.MaskEmail(email)))
		return person, nil
	}
	if err != apperrors.ErrConflict {
		return nil, err
	}

	// Someone else created the row first; converge on it.
	person, fetchErr := s.personRepo.GetByEmail(ctx, email)
	if fetchErr != nil {
		return nil, fetchErr
	}
	if person == nil {
		return nil, fmt.Errorf("person for email vanished after create conflict")
	}
	return person, nil
}

func (s *identityService) LinkIdentity(ctx context.Context, personID uuid.UUID, source, externalID string) (*models.IdentityLink, error) {
	if !models.IsValidSource(source) {
		return nil, fmt.Errorf("%w: unknown source %q", apperrors.ErrInvalidIdentity, source)
	}
	if externalID == "" {
		return nil, fmt.Errorf("%w: external id is required", apperrors.ErrInvalidIdentity)
	}

	person, err := s.personRepo.GetByID(ctx, personID)
	if err != nil {
		return nil, err
	}
	if person == nil {
		return nil, apperrors.ErrNotFound
	}

	link := &models.IdentityLink{
		Source:     source,
		ExternalID: externalID,
		PersonID:   personID,
	}
	if err := s.linkRepo.Upsert(ctx, link); err != nil {
		return nil, err
	}

	s.logger.Debug("Linked identity",
		zap.String("person_id", personID.String()),
		zap.String("source", source))

	return link, nil
}

func (s *identityService) FindPersonByIdentity(ctx context.Context, source, externalID string) (*models.Person, error) {
	link, err := s.linkRepo.GetBySourceExternalID(ctx, source, externalID)
	if err != nil {
		return nil, err
	}
	if link == nil {
		return nil, nil
	}
	return s.personRepo.GetByID(ctx, link.PersonID)
}

func (s *identityService) ResolveOrCreateFromExternalIdentity(ctx context.Context, source, externalID, email string, traits *models.PersonTraits) (*models.Person, error) {
	if !models.IsValidSource(source) {
		return nil, fmt.Errorf("%w: unknown source %q", apperrors.ErrInvalidIdentity, source)
	}
	if externalID == "" {
		return nil, fmt.Errorf("%w: external id is required", apperrors.ErrInvalidIdentity)
	}

	// 1. A link for this external id is authoritative; the email is
	// ignored (assumed stable once linked).
	link, err := s.linkRepo.GetBySourceExternalID(ctx, source, externalID)
	if err != nil {
		return nil, err
	}
	if link != nil {
		if err := s.personRepo.TouchLastSeen(ctx, link.PersonID); err != nil {
			return nil, err
		}
		return s.personRepo.GetByID(ctx, link.PersonID)
	}

	// 2. Fall back to the email, linking the external id to whichever
	// Person it resolves to. Traits are used only if this creates a new
	// Person.
	if email != "" {
		person, err := s.resolveOrCreateByEmail(ctx, email, traits)
		if err != nil {
			return nil, err
		}
		if _, err := s.LinkIdentity(ctx, person.ID, source, externalID); err != nil {
			return nil, err
		}
		return person, nil
	}

	// 3. Nothing known: create a Person from the traits alone.
	person := &models.Person{}
	applyTraits(person, traits)
	if err := s.personRepo.Create(ctx, person); err != nil {
		return nil, err
	}
	if _, err := s.LinkIdentity(ctx, person.ID, source, externalID); err != nil {
		return nil, err
	}

	s.logger.Info("Created person from external identity",
		zap.String("person_id", person.ID.String()),
		zap.String("source", source))

	return person, nil
}

func (s *identityService) MergePersons(ctx context.Context, sourcePersonID, targetPersonID uuid.UUID) error {
	if sourcePersonID == targetPersonID {
		return apperrors.ErrSelfMerge
	}

	return s.db.WithinTx(ctx, func(ctx context.Context) error {
		source, err := s.personRepo.GetByID(ctx, sourcePersonID)
		if err != nil {
			return err
		}
		target, err := s.personRepo.GetByID(ctx, targetPersonID)
		if err != nil {
			return err
		}
		if source == nil || target == nil {
			return apperrors.ErrNotFound
		}

		linksMoved, err := s.linkRepo.ReassignPerson(ctx, source.ID, target.ID)
		if err != nil {
			return err
		}

		eventsMoved, err := s.eventRepo.ReassignPerson(ctx, source.ID, target.ID)
		if err != nil {
			return err
		}

		membersMoved, err := s.memberRepo.ReassignPerson(ctx, source.ID, target.ID)
		if err != nil {
			return err
		}

		// First-writer-wins on the feature snapshot: the target keeps its
		// own if present, recomputation corrects it later.
		moved, err := s.featureRepo.ReassignPersonIfAbsent(ctx, source.ID, target.ID)
		if err != nil {
			return err
		}
		if !moved {
			if err := s.featureRepo.DeleteByPerson(ctx, source.ID); err != nil {
				return err
			}
		}

		// Source is deleted once every foreign reference is repointed, and
		// before the target takes over its traits: the target may inherit
		// the source's email, which the unique constraint forbids while
		// the source row still holds it.
		if err := s.personRepo.Delete(ctx, source.ID); err != nil {
			return fmt.Errorf("failed to delete merge source: %w", err)
		}

		reconcileTraits(target, source)
		if err := s.personRepo.Update(ctx, target); err != nil {
			return fmt.Errorf("failed to update merge target: %w", err)
		}

		s.logger.Info("Merged persons",
			zap.String("source_id", source.ID.String()),
			zap.String("target_id", target.ID.String()),
			zap.Int64("links_moved", linksMoved),
			zap.Int64("events_moved", eventsMoved),
			zap.Int64("memberships_moved", membersMoved))

		return nil
	})
}

// reconcileTraits folds the source Person's scalar traits into the target:
// min first_seen_at, max last_seen_at, target-wins strings, summed counters.
func reconcileTraits(target, source *models.Person) {
	if source.FirstSeenAt.Before(target.FirstSeenAt) {
		target.FirstSeenAt = source.FirstSeenAt
	}
	if source.LastSeenAt.After(target.LastSeenAt) {
		target.LastSeenAt = source.LastSeenAt
	}

	if target.Email == nil {
		target.Email = source.Email
	}
	if target.Phone == nil {
		target.Phone = source.Phone
	}
	if target.FirstName == nil {
		target.FirstName = source.FirstName
	}
	if target.LastName == nil {
		target.LastName = source.LastName
	}

	target.ActiveDays += source.ActiveDays
	target.CoreActions += source.CoreActions
	target.LifetimeValue += source.LifetimeValue
}

func applyTraits(person *models.Person, traits *models.PersonTraits) {
	if traits == nil {
		return
	}
	if traits.Phone != nil {
		person.Phone = traits.Phone
	}
	if traits.FirstName != nil {
		person.FirstName = traits.FirstName
	}
	if traits.LastName != nil {
		person.LastName = traits.LastName
	}
}
