package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/inkwell-hq/audience-engine/pkg/database"
	"github.com/inkwell-hq/audience-engine/pkg/models"
)

// FeaturesRepository provides data access for PersonFeatures snapshots.
type FeaturesRepository interface {
	// Replace writes the snapshot wholesale, inserting or overwriting the
	// single row for features.PersonID.
	Replace(ctx context.Context, features *models.PersonFeatures) error
	GetByPerson(ctx context.Context, personID uuid.UUID) (*models.PersonFeatures, error)
	// ReassignPersonIfAbsent moves the snapshot from fromPersonID to
	// toPersonID only when the target has none; the target's existing
	// snapshot wins otherwise. Returns whether the row was moved.
	ReassignPersonIfAbsent(ctx context.Context, fromPersonID, toPersonID uuid.UUID) (bool, error)
	DeleteByPerson(ctx context.Context, personID uuid.UUID) error
}

type featuresRepository struct {
	db *database.DB
}

// NewFeaturesRepository creates a new FeaturesRepository.
func NewFeaturesRepository(db *database.DB) FeaturesRepository {
	return &featuresRepository{db: db}
}

var _ FeaturesRepository = (*featuresRepository)(nil)

func (r *featuresRepository) Replace(ctx context.Context, features *models.PersonFeatures) error {
	if features.ComputedAt.IsZero() {
		features.ComputedAt = time.Now()
	}

	eventCounts, err := json.Marshal(features.EventCounts)
	if err != nil {
		return fmt.Errorf("failed to marshal event counts: %w", err)
	}

	query := `
		INSERT INTO audience_person_features (
			person_id, active_days, core_actions, event_counts,
			days_since_signup, days_since_last_active, computed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (person_id) DO UPDATE
		SET active_days = EXCLUDED.active_days,
		    core_actions = EXCLUDED.core_actions,
		    event_counts = EXCLUDED.event_counts,
		    days_since_signup = EXCLUDED.days_since_signup,
		    days_since_last_active = EXCLUDED.days_since_last_active,
		    computed_at = EXCLUDED.computed_at`

	_, err = r.db.Querier(ctx).Exec(ctx, query,
		features.PersonID, features.ActiveDays, features.CoreActions, eventCounts,
		features.DaysSinceSignup, features.DaysSinceLastActive, features.ComputedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to replace person features: %w", err)
	}

	return nil
}

func (r *featuresRepository) GetByPerson(ctx context.Context, personID uuid.UUID) (*models.PersonFeatures, error) {
	query := `
		SELECT person_id, active_days, core_actions, event_counts,
		       days_since_signup, days_since_last_active, computed_at
		FROM audience_person_features
		WHERE person_id = $1`

	var features models.PersonFeatures
	var eventCounts []byte
	err := r.db.Querier(ctx).QueryRow(ctx, query, personID).Scan(
		&features.PersonID, &features.ActiveDays, &features.CoreActions, &eventCounts,
		&features.DaysSinceSignup, &features.DaysSinceLastActive, &features.ComputedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan person features: %w", err)
	}

	if len(eventCounts) > 0 {
		if err := json.Unmarshal(eventCounts, &features.EventCounts); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event counts: %w", err)
		}
	}

	return &features, nil
}

func (r *featuresRepository) ReassignPersonIfAbsent(ctx context.Context, fromPersonID, toPersonID uuid.UUID) (bool, error) {
	query := `
		UPDATE audience_person_features
		SET person_id = $1
		WHERE person_id = $2
		  AND NOT EXISTS (
			SELECT 1 FROM audience_person_features WHERE person_id = $1
		  )`

	result, err := r.db.Querier(ctx).Exec(ctx, query, toPersonID, fromPersonID)
	if err != nil {
		return false, fmt.Errorf("failed to reassign person features: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

func (r *featuresRepository) DeleteByPerson(ctx context.Context, personID uuid.UUID) error {
	query := `DELETE FROM audience_person_features WHERE person_id = $1`

	_, err := r.db.Querier(ctx).Exec(ctx, query, personID)
	if err != nil {
		return fmt.Errorf("failed to delete person features: %w", err)
	}

	return nil
}
