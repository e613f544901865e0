package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/inkwell-hq/audience-engine/pkg/apperrors"
	"github.com/inkwell-hq/audience-engine/pkg/database"
	"github.com/inkwell-hq/audience-engine/pkg/models"
)

// SegmentRepository provides data access for segment definitions.
type SegmentRepository interface {
	Create(ctx context.Context, segment *models.Segment) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Segment, error)
	GetByName(ctx context.Context, name string) (*models.Segment, error)
	List(ctx context.Context) ([]*models.Segment, error)
	Update(ctx context.Context, segment *models.Segment) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type segmentRepository struct {
	db *database.DB
}

// NewSegmentRepository creates a new SegmentRepository.
func NewSegmentRepository(db *database.DB) SegmentRepository {
	return &segmentRepository{db: db}
}

var _ SegmentRepository = (*segmentRepository)(nil)

const segmentColumns = `id, name, description, rules, enabled, action_type, action_config, created_at, updated_at`

// Create inserts a new segment. Returns apperrors.ErrConflict when the name
// is already taken.
func (r *segmentRepository) Create(ctx context.Context, segment *models.Segment) error {
	now := time.Now()
	if segment.ID == uuid.Nil {
		segment.ID = uuid.New()
	}
	segment.CreatedAt = now
	segment.UpdatedAt = now

	rulesJSON, err := json.Marshal(segment.Rules)
	if err != nil {
		return fmt.Errorf("failed to marshal segment rules: %w", err)
	}

	query := `
		INSERT INTO audience_segments (id, name, description, rules, enabled, action_type, action_config, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9)`

	_, err = r.db.Querier(ctx).Exec(ctx, query,
		segment.ID, segment.Name, segment.Description, rulesJSON, segment.Enabled,
		segment.ActionType, segment.ActionConfig, segment.CreatedAt, segment.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to create segment: %w", err)
	}

	return nil
}

func (r *segmentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Segment, error) {
	query := `
		SELECT ` + segmentColumns + `
		FROM audience_segments
		WHERE id = $1`

	segment, err := scanSegment(r.db.Querier(ctx).QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return segment, nil
}

func (r *segmentRepository) GetByName(ctx context.Context, name string) (*models.Segment, error) {
	query := `
		SELECT ` + segmentColumns + `
		FROM audience_segments
		WHERE name = $1`

	segment, err := scanSegment(r.db.Querier(ctx).QueryRow(ctx, query, name))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return segment, nil
}

func (r *segmentRepository) List(ctx context.Context) ([]*models.Segment, error) {
	query := `
		SELECT ` + segmentColumns + `
		FROM audience_segments
		ORDER BY name`

	rows, err := r.db.Querier(ctx).Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query segments: %w", err)
	}
	defer rows.Close()

	var segments []*models.Segment
	for rows.Next() {
		segment, err := scanSegment(rows)
		if err != nil {
			return nil, err
		}
		segments = append(segments, segment)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating segments: %w", err)
	}

	return segments, nil
}

func (r *segmentRepository) Update(ctx context.Context, segment *models.Segment) error {
	segment.UpdatedAt = time.Now()

	rulesJSON, err := json.Marshal(segment.Rules)
	if err != nil {
		return fmt.Errorf("failed to marshal segment rules: %w", err)
	}

	query := `
		UPDATE audience_segments
		SET name = $1, description = $2, rules = $3, enabled = $4,
		    action_type = NULLIF($5, ''), action_config = $6, updated_at = $7
		WHERE id = $8`

	result, err := r.db.Querier(ctx).Exec(ctx, query,
		segment.Name, segment.Description, rulesJSON, segment.Enabled,
		segment.ActionType, segment.ActionConfig, segment.UpdatedAt, segment.ID,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to update segment: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func (r *segmentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM audience_segments WHERE id = $1`

	result, err := r.db.Querier(ctx).Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete segment: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func scanSegment(row pgx.Row) (*models.Segment, error) {
	var segment models.Segment
	var rulesJSON []byte
	var actionType *string

	err := row.Scan(
		&segment.ID, &segment.Name, &segment.Description, &rulesJSON, &segment.Enabled,
		&actionType, &segment.ActionConfig, &segment.CreatedAt, &segment.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan segment: %w", err)
	}

	if len(rulesJSON) > 0 {
		if err := json.Unmarshal(rulesJSON, &segment.Rules); err != nil {
			return nil, fmt.Errorf("failed to unmarshal segment rules: %w", err)
		}
	}
	if actionType != nil {
		segment.ActionType = *actionType
	}

	return &segment, nil
}
