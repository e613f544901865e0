package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/inkwell-hq/audience-engine/pkg/apperrors"
	"github.com/inkwell-hq/audience-engine/pkg/models"
	"github.com/inkwell-hq/audience-engine/pkg/repositories"
	"github.com/inkwell-hq/audience-engine/pkg/rules"
)

// Membership reconciliation outcomes.
const (
	MembershipAdded    = "added"
	MembershipRemoved  = "removed"
	MembershipNoChange = "no_change"
)

// MembershipChange reports the result of reconciling one Person against one
// segment.
type MembershipChange struct {
	IsMember bool   `json:"is_member"`
	Action   string `json:"action"`
}

// SweepResult accumulates a batch evaluation over all Persons. Failed
// counts Persons whose evaluation errored; their failures are logged and do
// not abort the sweep.
type SweepResult struct {
	Total   int `json:"total"`
	Added   int `json:"added"`
	Removed int `json:"removed"`
	Failed  int `json:"failed"`
}

// EvaluationService interprets segment rule trees against Person state and
// reconciles membership idempotently. Deciding membership and firing
// automation are deliberately separate steps: callers invoke
// TriggerSegmentAutomation after UpdateSegmentMembership reports "added".
type EvaluationService interface {
	// BuildEvaluationContext gathers the read-only view rule conditions
	// may reference: person.* scalars and features.* aggregates (zeros
	// when no snapshot exists). Returns apperrors.ErrNotFound for an
	// unknown Person.
	BuildEvaluationContext(ctx context.Context, personID uuid.UUID) (rules.Context, error)

	// EvaluatePersonForSegment reports whether the Person currently
	// matches the segment's rules. Unknown or disabled segments never
	// match.
	EvaluatePersonForSegment(ctx context.Context, personID, segmentID uuid.UUID) (bool, error)

	// UpdateSegmentMembership reconciles stored membership against the
	// current match. Idempotent: with no intervening state change a second
	// call always reports "no_change".
	UpdateSegmentMembership(ctx context.Context, personID, segmentID uuid.UUID) (*MembershipChange, error)

	// EvaluateSegmentForAllPersons sweeps every Person in bounded batches.
	// Each Person is its own failure domain; no transaction or lock spans
	// the sweep.
	EvaluateSegmentForAllPersons(ctx context.Context, segmentID uuid.UUID) (*SweepResult, error)

	// TriggerSegmentAutomation dispatches the segment's configured
	// automation for a Person. Failures are reported in the result, never
	// returned, so a sweep cannot be aborted by a dispatch error.
	TriggerSegmentAutomation(ctx context.Context, personID, segmentID uuid.UUID) *AutomationResult
}

type evaluationService struct {
	personRepo  repositories.PersonRepository
	featureRepo repositories.FeaturesRepository
	segmentRepo repositories.SegmentRepository
	memberRepo  repositories.SegmentMemberRepository
	dispatcher  AutomationDispatcher
	batchSize   int
	logger      *zap.Logger
}

// NewEvaluationService creates a new EvaluationService. dispatcher may be
// nil, in which case automation triggers report a dispatch-disabled error.
func NewEvaluationService(
	personRepo repositories.PersonRepository,
	featureRepo repositories.FeaturesRepository,
	segmentRepo repositories.SegmentRepository,
	memberRepo repositories.SegmentMemberRepository,
	dispatcher AutomationDispatcher,
	batchSize int,
	logger *zap.Logger,
) EvaluationService {
	return &evaluationService{
		personRepo:  personRepo,
		featureRepo: featureRepo,
		segmentRepo: segmentRepo,
		memberRepo:  memberRepo,
		dispatcher:  dispatcher,
		batchSize:   batchSize,
		logger:      logger.Named("evaluation"),
	}
}

var _ EvaluationService = (*evaluationService)(nil)

func (s *evaluationService) BuildEvaluationContext(ctx context.Context, personID uuid.UUID) (rules.Context, error) {
	person, err := s.personRepo.GetByID(ctx, personID)
	if err != nil {
		return nil, err
	}
	if person == nil {
		return nil, apperrors.ErrNotFound
	}

	features, err := s.featureRepo.GetByPerson(ctx, personID)
	if err != nil {
		return nil, err
	}

	return buildContext(person, features), nil
}

func (s *evaluationService) EvaluatePersonForSegment(ctx context.Context, personID, segmentID uuid.UUID) (bool, error) {
	segment, err := s.segmentRepo.GetByID(ctx, segmentID)
	if err != nil {
		return false, err
	}
	if segment == nil || !segment.Enabled {
		return false, nil
	}

	evalCtx, err := s.BuildEvaluationContext(ctx, personID)
	if err != nil {
		return false, err
	}

	return rules.Evaluate(segment.Rules, evalCtx), nil
}

func (s *evaluationService) UpdateSegmentMembership(ctx context.Context, personID, segmentID uuid.UUID) (*MembershipChange, error) {
	segment, err := s.segmentRepo.GetByID(ctx, segmentID)
	if err != nil {
		return nil, err
	}
	if segment == nil {
		return nil, apperrors.ErrNotFound
	}

	matches, err := s.EvaluatePersonForSegment(ctx, personID, segmentID)
	if err != nil {
		return nil, err
	}

	active, err := s.memberRepo.GetActive(ctx, personID, segmentID)
	if err != nil {
		return nil, err
	}

	switch {
	case matches && active == nil:
		member := &models.SegmentMember{PersonID: personID, SegmentID: segmentID}
		err := s.memberRepo.Create(ctx, member)
		if err == apperrors.ErrConflict {
			// A concurrent reconciliation added the row first.
			return &MembershipChange{IsMember: true, Action: MembershipNoChange}, nil
		}
		if err != nil {
			return nil, err
		}
		s.logger.Debug("Person joined segment",
			zap.String("person_id", personID.String()),
			zap.String("segment", segment.Name))
		return &MembershipChange{IsMember: true, Action: MembershipAdded}, nil

	case !matches && active != nil:
		if err := s.memberRepo.MarkLeft(ctx, active.ID, time.Now()); err != nil {
			return nil, err
		}
		s.logger.Debug("Person left segment",
			zap.String("person_id", personID.String()),
			zap.String("segment", segment.Name))
		return &MembershipChange{IsMember: false, Action: MembershipRemoved}, nil

	default:
		return &MembershipChange{IsMember: matches, Action: MembershipNoChange}, nil
	}
}

func (s *evaluationService) EvaluateSegmentForAllPersons(ctx context.Context, segmentID uuid.UUID) (*SweepResult, error) {
	segment, err := s.segmentRepo.GetByID(ctx, segmentID)
	if err != nil {
		return nil, err
	}
	if segment == nil {
		return nil, apperrors.ErrNotFound
	}

	result := &SweepResult{}
	afterID := uuid.Nil
	for {
		persons, err := s.personRepo.ListPage(ctx, afterID, s.batchSize)
		if err != nil {
			return nil, err
		}
		if len(persons) == 0 {
			break
		}

		for _, person := range persons {
			result.Total++
			change, err := s.UpdateSegmentMembership(ctx, person.ID, segmentID)
			if err != nil {
				result.Failed++
				s.logger.Warn("Membership update failed during sweep",
					zap.String("person_id", person.ID.String()),
					zap.String("segment_id", segmentID.String()),
					zap.Error(err))
				continue
			}
			switch change.Action {
			case MembershipAdded:
				result.Added++
			case MembershipRemoved:
				result.Removed++
			}
		}

		afterID = persons[len(persons)-1].ID
	}

	s.logger.Info("Segment sweep complete",
		zap.String("segment", segment.Name),
		zap.Int("total", result.Total),
		zap.Int("added", result.Added),
		zap.Int("removed", result.Removed),
		zap.Int("failed", result.Failed))

	return result, nil
}

func (s *evaluationService) TriggerSegmentAutomation(ctx context.Context, personID, segmentID uuid.UUID) *AutomationResult {
	segment, err := s.segmentRepo.GetByID(ctx, segmentID)
	if err != nil {
		return &AutomationResult{Triggered: false, Error: err.Error()}
	}
	if segment == nil {
		return &AutomationResult{Triggered: false, Error: "segment not found"}
	}
	if segment.ActionType == "" {
		return &AutomationResult{Triggered: false, Error: apperrors.ErrNoAutomation.Error()}
	}
	if s.dispatcher == nil {
		return &AutomationResult{Triggered: false, Error: "automation dispatch disabled"}
	}

	event := &AutomationEvent{
		PersonID:     personID,
		SegmentID:    segment.ID,
		SegmentName:  segment.Name,
		ActionType:   segment.ActionType,
		ActionConfig: segment.ActionConfig,
		TriggeredAt:  time.Now(),
	}
	if err := s.dispatcher.Dispatch(ctx, event); err != nil {
		s.logger.Warn("Automation dispatch failed",
			zap.String("person_id", personID.String()),
			zap.String("segment", segment.Name),
			zap.String("action_type", segment.ActionType),
			zap.Error(err))
		return &AutomationResult{Triggered: false, Error: err.Error()}
	}

	return &AutomationResult{Triggered: true, Type: segment.ActionType}
}

// buildContext flattens Person and PersonFeatures scalars into the dotted
// namespaces rule conditions address. Optional Person fields are included
// only when set, so conditions on them fail for Persons that lack them.
func buildContext(person *models.Person, features *models.PersonFeatures) rules.Context {
	personCtx := map[string]any{
		"id":             person.ID.String(),
		"active_days":    person.ActiveDays,
		"core_actions":   person.CoreActions,
		"lifetime_value": person.LifetimeValue,
	}
	if person.Email != nil {
		personCtx["email"] = *person.Email
	}
	if person.Phone != nil {
		personCtx["phone"] = *person.Phone
	}
	if person.FirstName != nil {
		personCtx["first_name"] = *person.FirstName
	}
	if person.LastName != nil {
		personCtx["last_name"] = *person.LastName
	}

	featuresCtx := map[string]any{
		"active_days":            0,
		"core_actions":           0,
		"days_since_signup":      0,
		"days_since_last_active": 0,
		"event_counts":           map[string]any{},
	}
	if features != nil {
		eventCounts := make(map[string]any, len(features.EventCounts))
		for name, count := range features.EventCounts {
			eventCounts[name] = count
		}
		featuresCtx["active_days"] = features.ActiveDays
		featuresCtx["core_actions"] = features.CoreActions
		featuresCtx["days_since_signup"] = features.DaysSinceSignup
		featuresCtx["days_since_last_active"] = features.DaysSinceLastActive
		featuresCtx["event_counts"] = eventCounts
	}

	return rules.Context{
		"person":   personCtx,
		"features": featuresCtx,
	}
}
