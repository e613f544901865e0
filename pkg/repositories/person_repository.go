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

// PersonRepository provides data access for canonical Person records.
// Lookup methods return (nil, nil) when no row matches.
type PersonRepository interface {
	Create(ctx context.Context, person *models.Person) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Person, error)
	GetByEmail(ctx context.Context, email string) (*models.Person, error)
	Update(ctx context.Context, person *models.Person) error
	// TouchLastSeen bumps last_seen_at to now without rewriting traits.
	TouchLastSeen(ctx context.Context, id uuid.UUID) error
	// ListPage returns up to limit Persons with id > afterID, ordered by id.
	// Pass uuid.Nil to start from the beginning.
	ListPage(ctx context.Context, afterID uuid.UUID, limit int) ([]*models.Person, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type personRepository struct {
	db *database.DB
}

// NewPersonRepository creates a new PersonRepository.
func NewPersonRepository(db *database.DB) PersonRepository {
	return &personRepository{db: db}
}

var _ PersonRepository = (*personRepository)(nil)

const personColumns = `id, email, phone, first_name, last_name,
	       first_seen_at, last_seen_at, active_days, core_actions, lifetime_value,
	       created_at, updated_at`

// Create inserts a new Person. Returns apperrors.ErrConflict if a Person
// with the same email already exists, so callers racing on the same email
// can re-fetch instead of failing.
func (r *personRepository) Create(ctx context.Context, person *models.Person) error {
	now := time.Now()
	if person.ID == uuid.Nil {
		person.ID = uuid.New()
	}
	if person.FirstSeenAt.IsZero() {
		person.FirstSeenAt = now
	}
	if person.LastSeenAt.IsZero() {
		person.LastSeenAt = now
	}
	person.CreatedAt = now
	person.UpdatedAt = now

	query := `
		INSERT INTO audience_persons (
			id, email, phone, first_name, last_name,
			first_seen_at, last_seen_at, active_days, core_actions, lifetime_value,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.db.Querier(ctx).Exec(ctx, query,
		person.ID, person.Email, person.Phone, person.FirstName, person.LastName,
		person.FirstSeenAt, person.LastSeenAt, person.ActiveDays, person.CoreActions, person.LifetimeValue,
		person.CreatedAt, person.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to create person: %w", err)
	}

	return nil
}

func (r *personRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Person, error) {
	query := `
		SELECT ` + personColumns + `
		FROM audience_persons
		WHERE id = $1`

	person, err := scanPerson(r.db.Querier(ctx).QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return person, nil
}

func (r *personRepository) GetByEmail(ctx context.Context, email string) (*models.Person, error) {
	query := `
		SELECT ` + personColumns + `
		FROM audience_persons
		WHERE email = $1`

	person, err := scanPerson(r.db.Querier(ctx).QueryRow(ctx, query, email))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return person, nil
}

func (r *personRepository) Update(ctx context.Context, person *models.Person) error {
	person.UpdatedAt = time.Now()

	query := `
		UPDATE audience_persons
		SET email = $1, phone = $2, first_name = $3, last_name = $4,
		    first_seen_at = $5, last_seen_at = $6,
		    active_days = $7, core_actions = $8, lifetime_value = $9,
		    updated_at = $10
		WHERE id = $11`

	result, err := r.db.Querier(ctx).Exec(ctx, query,
		person.Email, person.Phone, person.FirstName, person.LastName,
		person.FirstSeenAt, person.LastSeenAt,
		person.ActiveDays, person.CoreActions, person.LifetimeValue,
		person.UpdatedAt, person.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update person: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func (r *personRepository) TouchLastSeen(ctx context.Context, id uuid.UUID) error {
	now := time.Now()

	query := `
		UPDATE audience_persons
		SET last_seen_at = $1, updated_at = $1
		WHERE id = $2`

	result, err := r.db.Querier(ctx).Exec(ctx, query, now, id)
	if err != nil {
		return fmt.Errorf("failed to touch person last_seen_at: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func (r *personRepository) ListPage(ctx context.Context, afterID uuid.UUID, limit int) ([]*models.Person, error) {
	query := `
		SELECT ` + personColumns + `
		FROM audience_persons
		WHERE id > $1
		ORDER BY id
		LIMIT $2`

	rows, err := r.db.Querier(ctx).Query(ctx, query, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query persons page: %w", err)
	}
	defer rows.Close()

	var persons []*models.Person
	for rows.Next() {
		person, err := scanPerson(rows)
		if err != nil {
			return nil, err
		}
		persons = append(persons, person)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating persons: %w", err)
	}

	return persons, nil
}

func (r *personRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM audience_persons WHERE id = $1`

	result, err := r.db.Querier(ctx).Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete person: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func scanPerson(row pgx.Row) (*models.Person, error) {
	var person models.Person

	err := row.Scan(
		&person.ID, &person.Email, &person.Phone, &person.FirstName, &person.LastName,
		&person.FirstSeenAt, &person.LastSeenAt, &person.ActiveDays, &person.CoreActions, &person.LifetimeValue,
		&person.CreatedAt, &person.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan person: %w", err)
	}

	return &person, nil
}
