package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/inkwell-hq/audience-engine/pkg/apperrors"
	"github.com/inkwell-hq/audience-engine/pkg/database"
	"github.com/inkwell-hq/audience-engine/pkg/models"
)

// SegmentMemberRepository provides data access for segment membership rows.
// Membership is append-and-stamp: rows are never deleted on churn, LeftAt is
// set instead, so the churn history survives.
type SegmentMemberRepository interface {
	Create(ctx context.Context, member *models.SegmentMember) error
	// GetActive returns the single active (left_at is null) membership for
	// the pair, or nil.
	GetActive(ctx context.Context, personID, segmentID uuid.UUID) (*models.SegmentMember, error)
	// MarkLeft stamps left_at on an active membership row.
	MarkLeft(ctx context.Context, id uuid.UUID, leftAt time.Time) error
	// GetActiveBySegment returns current members of a segment.
	GetActiveBySegment(ctx context.Context, segmentID uuid.UUID) ([]*models.SegmentMember, error)
	// GetHistoryByPerson returns all membership rows for a Person,
	// including churned ones, newest first.
	GetHistoryByPerson(ctx context.Context, personID uuid.UUID) ([]*models.SegmentMember, error)
	// ReassignPerson moves membership rows from one Person to another
	// during a merge. Where both Persons hold an active membership in the
	// same segment, the source's row is dropped (the target's is the
	// survivor); everything else repoints freely.
	ReassignPerson(ctx context.Context, fromPersonID, toPersonID uuid.UUID) (int64, error)
}

type segmentMemberRepository struct {
	db *database.DB
}

// NewSegmentMemberRepository creates a new SegmentMemberRepository.
func NewSegmentMemberRepository(db *database.DB) SegmentMemberRepository {
	return &segmentMemberRepository{db: db}
}

var _ SegmentMemberRepository = (*segmentMemberRepository)(nil)

func (r *segmentMemberRepository) Create(ctx context.Context, member *models.SegmentMember) error {
	if member.ID == uuid.Nil {
		member.ID = uuid.New()
	}
	if member.JoinedAt.IsZero() {
		member.JoinedAt = time.Now()
	}

	query := `
		INSERT INTO audience_segment_members (id, person_id, segment_id, joined_at, left_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := r.db.Querier(ctx).Exec(ctx, query,
		member.ID, member.PersonID, member.SegmentID, member.JoinedAt, member.LeftAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to create segment member: %w", err)
	}

	return nil
}

func (r *segmentMemberRepository) GetActive(ctx context.Context, personID, segmentID uuid.UUID) (*models.SegmentMember, error) {
	query := `
		SELECT id, person_id, segment_id, joined_at, left_at
		FROM audience_segment_members
		WHERE person_id = $1 AND segment_id = $2 AND left_at IS NULL`

	member, err := scanSegmentMember(r.db.Querier(ctx).QueryRow(ctx, query, personID, segmentID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return member, nil
}

func (r *segmentMemberRepository) MarkLeft(ctx context.Context, id uuid.UUID, leftAt time.Time) error {
	query := `
		UPDATE audience_segment_members
		SET left_at = $1
		WHERE id = $2 AND left_at IS NULL`

	result, err := r.db.Querier(ctx).Exec(ctx, query, leftAt, id)
	if err != nil {
		return fmt.Errorf("failed to mark segment member left: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func (r *segmentMemberRepository) GetActiveBySegment(ctx context.Context, segmentID uuid.UUID) ([]*models.SegmentMember, error) {
	query := `
		SELECT id, person_id, segment_id, joined_at, left_at
		FROM audience_segment_members
		WHERE segment_id = $1 AND left_at IS NULL
		ORDER BY joined_at`

	return r.queryMembers(ctx, query, segmentID)
}

func (r *segmentMemberRepository) GetHistoryByPerson(ctx context.Context, personID uuid.UUID) ([]*models.SegmentMember, error) {
	query := `
		SELECT id, person_id, segment_id, joined_at, left_at
		FROM audience_segment_members
		WHERE person_id = $1
		ORDER BY joined_at DESC`

	return r.queryMembers(ctx, query, personID)
}

func (r *segmentMemberRepository) ReassignPerson(ctx context.Context, fromPersonID, toPersonID uuid.UUID) (int64, error) {
	q := r.db.Querier(ctx)

	// Drop the source's active rows where the target is already an active
	// member of the same segment, or the repoint below would violate the
	// one-active-row-per-pair constraint.
	dropQuery := `
		DELETE FROM audience_segment_members src
		WHERE src.person_id = $1 AND src.left_at IS NULL
		  AND EXISTS (
			SELECT 1 FROM audience_segment_members tgt
			WHERE tgt.person_id = $2
			  AND tgt.segment_id = src.segment_id
			  AND tgt.left_at IS NULL
		  )`

	if _, err := q.Exec(ctx, dropQuery, fromPersonID, toPersonID); err != nil {
		return 0, fmt.Errorf("failed to drop colliding segment memberships: %w", err)
	}

	query := `
		UPDATE audience_segment_members
		SET person_id = $1
		WHERE person_id = $2`

	result, err := q.Exec(ctx, query, toPersonID, fromPersonID)
	if err != nil {
		return 0, fmt.Errorf("failed to reassign segment memberships: %w", err)
	}

	return result.RowsAffected(), nil
}

func (r *segmentMemberRepository) queryMembers(ctx context.Context, query string, arg any) ([]*models.SegmentMember, error) {
	rows, err := r.db.Querier(ctx).Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query segment members: %w", err)
	}
	defer rows.Close()

	var members []*models.SegmentMember
	for rows.Next() {
		member, err := scanSegmentMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, member)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating segment members: %w", err)
	}

	return members, nil
}

func scanSegmentMember(row pgx.Row) (*models.SegmentMember, error) {
	var member models.SegmentMember

	err := row.Scan(&member.ID, &member.PersonID, &member.SegmentID, &member.JoinedAt, &member.LeftAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan segment member: %w", err)
	}

	return &member, nil
}
