package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/inkwell-hq/audience-engine/pkg/database"
	"github.com/inkwell-hq/audience-engine/pkg/models"
)

// EventRepository provides data access for behavioral events.
type EventRepository interface {
	Create(ctx context.Context, event *models.Event) error
	// GetByPersonSince returns events for a Person that occurred at or
	// after since, newest first.
	GetByPersonSince(ctx context.Context, personID uuid.UUID, since time.Time) ([]*models.Event, error)
	// ReassignPerson moves every event owned by fromPersonID to
	// toPersonID, returning the number of events moved.
	ReassignPerson(ctx context.Context, fromPersonID, toPersonID uuid.UUID) (int64, error)
}

type eventRepository struct {
	db *database.DB
}

// NewEventRepository creates a new EventRepository.
func NewEventRepository(db *database.DB) EventRepository {
	return &eventRepository{db: db}
}

var _ EventRepository = (*eventRepository)(nil)

func (r *eventRepository) Create(ctx context.Context, event *models.Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	event.CreatedAt = time.Now()

	query := `
		INSERT INTO audience_events (id, person_id, event_name, properties, occurred_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.Querier(ctx).Exec(ctx, query,
		event.ID, event.PersonID, event.EventName, event.Properties, event.OccurredAt, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}

	return nil
}

func (r *eventRepository) GetByPersonSince(ctx context.Context, personID uuid.UUID, since time.Time) ([]*models.Event, error) {
	query := `
		SELECT id, person_id, event_name, properties, occurred_at, created_at
		FROM audience_events
		WHERE person_id = $1 AND occurred_at >= $2
		ORDER BY occurred_at DESC`

	rows, err := r.db.Querier(ctx).Query(ctx, query, personID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		var event models.Event
		if err := rows.Scan(&event.ID, &event.PersonID, &event.EventName, &event.Properties, &event.OccurredAt, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

func (r *eventRepository) ReassignPerson(ctx context.Context, fromPersonID, toPersonID uuid.UUID) (int64, error) {
	query := `UPDATE audience_events SET person_id = $1 WHERE person_id = $2`

	result, err := r.db.Querier(ctx).Exec(ctx, query, toPersonID, fromPersonID)
	if err != nil {
		return 0, fmt.Errorf("failed to reassign events: %w", err)
	}

	return result.RowsAffected(), nil
}
