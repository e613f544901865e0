package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/inkwell-hq/audience-engine/pkg/apperrors"
	"github.com/inkwell-hq/audience-engine/pkg/models"
	"github.com/inkwell-hq/audience-engine/pkg/repositories"
	"github.com/inkwell-hq/audience-engine/pkg/rules"
)

// SegmentService handles administration of segment definitions and
// membership queries. Rule trees are validated on write so malformed
// definitions are rejected at authoring time; evaluation still fails closed
// as a second line of defense.
type SegmentService interface {
	Create(ctx context.Context, segment *models.Segment) error
	Get(ctx context.Context, id uuid.UUID) (*models.Segment, error)
	List(ctx context.Context) ([]*models.Segment, error)
	Update(ctx context.Context, segment *models.Segment) error
	Delete(ctx context.Context, id uuid.UUID) error

	// GetMembers returns the segment's current (non-churned) members.
	GetMembers(ctx context.Context, segmentID uuid.UUID) ([]*models.SegmentMember, error)
	// GetMembershipHistory returns every membership row for a Person,
	// churned ones included.
	GetMembershipHistory(ctx context.Context, personID uuid.UUID) ([]*models.SegmentMember, error)
}

type segmentService struct {
	segmentRepo repositories.SegmentRepository
	memberRepo  repositories.SegmentMemberRepository
	logger      *zap.Logger
}

// NewSegmentService creates a new SegmentService.
func NewSegmentService(
	segmentRepo repositories.SegmentRepository,
	memberRepo repositories.SegmentMemberRepository,
	logger *zap.Logger,
) SegmentService {
	return &segmentService{
		segmentRepo: segmentRepo,
		memberRepo:  memberRepo,
		logger:      logger.Named("segments"),
	}
}

var _ SegmentService = (*segmentService)(nil)

func (s *segmentService) Create(ctx context.Context, segment *models.Segment) error {
	if err := validateSegment(segment); err != nil {
		return err
	}

	if err := s.segmentRepo.Create(ctx, segment); err != nil {
		return err
	}

	s.logger.Info("Created segment",
		zap.String("segment_id", segment.ID.String()),
		zap.String("name", segment.Name))

	return nil
}

func (s *segmentService) Get(ctx context.Context, id uuid.UUID) (*models.Segment, error) {
	return s.segmentRepo.GetByID(ctx, id)
}

func (s *segmentService) List(ctx context.Context) ([]*models.Segment, error) {
	return s.segmentRepo.List(ctx)
}

func (s *segmentService) Update(ctx context.Context, segment *models.Segment) error {
	if err := validateSegment(segment); err != nil {
		return err
	}
	return s.segmentRepo.Update(ctx, segment)
}

func (s *segmentService) Delete(ctx context.Context, id uuid.UUID) error {
	return s.segmentRepo.Delete(ctx, id)
}

func (s *segmentService) GetMembers(ctx context.Context, segmentID uuid.UUID) ([]*models.SegmentMember, error) {
	return s.memberRepo.GetActiveBySegment(ctx, segmentID)
}

func (s *segmentService) GetMembershipHistory(ctx context.Context, personID uuid.UUID) ([]*models.SegmentMember, error) {
	return s.memberRepo.GetHistoryByPerson(ctx, personID)
}

func validateSegment(segment *models.Segment) error {
	if segment.Name == "" {
		return fmt.Errorf("segment name is required")
	}

	if err := rules.Validate(segment.Rules); err != nil {
		return fmt.Errorf("%w: %s", apperrors.ErrInvalidRules, err.Error())
	}

	switch segment.ActionType {
	case "", models.ActionSendEmail, models.ActionSendPostcard, models.ActionWebhook:
	default:
		return fmt.Errorf("unknown automation action type: %s", segment.ActionType)
	}

	return nil
}
