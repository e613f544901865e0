package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/inkwell-hq/audience-engine/pkg/apperrors"
	"github.com/inkwell-hq/audience-engine/pkg/models"
	"github.com/inkwell-hq/audience-engine/pkg/repositories"
)

// FeatureService records behavioral events and computes the denormalized
// PersonFeatures snapshot segment evaluation reads.
type FeatureService interface {
	// TrackEvent records one behavioral event for a Person and bumps the
	// Person's last_seen_at.
	TrackEvent(ctx context.Context, personID uuid.UUID, eventName string, properties json.RawMessage, occurredAt time.Time) (*models.Event, error)

	// ComputeAndStorePersonFeatures aggregates the Person's events over
	// the lookback window and replaces the feature snapshot wholesale.
	ComputeAndStorePersonFeatures(ctx context.Context, personID uuid.UUID) (*models.PersonFeatures, error)

	// GetFeatures returns the Person's snapshot, recomputing first when it
	// is missing or older than maxAge. A zero maxAge never recomputes an
	// existing snapshot.
	GetFeatures(ctx context.Context, personID uuid.UUID, maxAge time.Duration) (*models.PersonFeatures, error)
}

type featureService struct {
	personRepo   repositories.PersonRepository
	eventRepo    repositories.EventRepository
	featureRepo  repositories.FeaturesRepository
	lookbackDays int
	logger       *zap.Logger
}

// NewFeatureService creates a new FeatureService. lookbackDays bounds the
// aggregation window for computed features.
func NewFeatureService(
	personRepo repositories.PersonRepository,
	eventRepo repositories.EventRepository,
	featureRepo repositories.FeaturesRepository,
	lookbackDays int,
	logger *zap.Logger,
) FeatureService {
	return &featureService{
		personRepo:   personRepo,
		eventRepo:    eventRepo,
		featureRepo:  featureRepo,
		lookbackDays: lookbackDays,
		logger:       logger.Named("features"),
	}
}

var _ FeatureService = (*featureService)(nil)

func (s *featureService) TrackEvent(ctx context.Context, personID uuid.UUID, eventName string, properties json.RawMessage, occurredAt time.Time) (*models.Event, error) {
	person, err := s.personRepo.GetByID(ctx, personID)
	if err != nil {
		return nil, err
	}
	if person == nil {
		return nil, apperrors.ErrNotFound
	}

	event := &models.Event{
		PersonID:   personID,
		EventName:  eventName,
		Properties: properties,
		OccurredAt: occurredAt,
	}
	if err := s.eventRepo.Create(ctx, event); err != nil {
		return nil, err
	}

	if err := s.personRepo.TouchLastSeen(ctx, personID); err != nil {
		return nil, err
	}

	return event, nil
}

func (s *featureService) ComputeAndStorePersonFeatures(ctx context.Context, personID uuid.UUID) (*models.PersonFeatures, error) {
	person, err := s.personRepo.GetByID(ctx, personID)
	if err != nil {
		return nil, err
	}
	if person == nil {
		return nil, apperrors.ErrNotFound
	}

	now := time.Now()
	since := now.AddDate(0, 0, -s.lookbackDays)
	events, err := s.eventRepo.GetByPersonSince(ctx, personID, since)
	if err != nil {
		return nil, err
	}

	features := aggregateFeatures(person, events, now)
	if err := s.featureRepo.Replace(ctx, features); err != nil {
		return nil, err
	}

	s.logger.Debug("Computed person features",
		zap.String("person_id", personID.String()),
		zap.Int("events", len(events)),
		zap.Int("active_days", features.ActiveDays))

	return features, nil
}

func (s *featureService) GetFeatures(ctx context.Context, personID uuid.UUID, maxAge time.Duration) (*models.PersonFeatures, error) {
	features, err := s.featureRepo.GetByPerson(ctx, personID)
	if err != nil {
		return nil, err
	}
	if features != nil && (maxAge == 0 || !features.IsStale(maxAge)) {
		return features, nil
	}
	return s.ComputeAndStorePersonFeatures(ctx, personID)
}

// aggregateFeatures folds a Person's events into a feature snapshot.
// Active days are counted as distinct calendar dates (UTC) with at least
// one event. Days-since-last-active falls back to last_seen_at when the
// window holds no events.
func aggregateFeatures(person *models.Person, events []*models.Event, now time.Time) *models.PersonFeatures {
	features := &models.PersonFeatures{
		PersonID:    person.ID,
		EventCounts: make(map[string]int),
		ComputedAt:  now,
	}

	activeDates := make(map[string]bool)
	var lastActive time.Time
	for _, event := range events {
		features.EventCounts[event.EventName]++
		if models.IsCoreAction(event.EventName) {
			features.CoreActions++
		}
		activeDates[event.OccurredAt.UTC().Format("2006-01-02")] = true
		if event.OccurredAt.After(lastActive) {
			lastActive = event.OccurredAt
		}
	}
	features.ActiveDays = len(activeDates)

	if lastActive.IsZero() {
		lastActive = person.LastSeenAt
	}

	features.DaysSinceSignup = daysBetween(person.FirstSeenAt, now)
	features.DaysSinceLastActive = daysBetween(lastActive, now)

	return features
}

func daysBetween(from, to time.Time) int {
	if from.IsZero() || from.After(to) {
		return 0
	}
	return int(to.Sub(from).Hours() / 24)
}
