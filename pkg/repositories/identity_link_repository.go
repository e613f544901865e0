package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/inkwell-hq/audience-engine/pkg/database"
	"github.com/inkwell-hq/audience-engine/pkg/models"
)

// IdentityLinkRepository provides data access for external identity links.
type IdentityLinkRepository interface {
	// Upsert atomically creates the link for (source, external_id) or
	// repoints the existing one at link.PersonID. The stored row (with its
	// original id and created_at when it already existed) is written back
	// into link.
	Upsert(ctx context.Context, link *models.IdentityLink) error
	GetBySourceExternalID(ctx context.Context, source, externalID string) (*models.IdentityLink, error)
	GetByPerson(ctx context.Context, personID uuid.UUID) ([]*models.IdentityLink, error)
	// ReassignPerson repoints every link owned by fromPersonID at
	// toPersonID, returning the number of links moved.
	ReassignPerson(ctx context.Context, fromPersonID, toPersonID uuid.UUID) (int64, error)
}

type identityLinkRepository struct {
	db *database.DB
}

// NewIdentityLinkRepository creates a new IdentityLinkRepository.
func NewIdentityLinkRepository(db *database.DB) IdentityLinkRepository {
	return &identityLinkRepository{db: db}
}

var _ IdentityLinkRepository = (*identityLinkRepository)(nil)

// Upsert is a single conditional insert-or-update keyed by the unique
// (source, external_id) pair, not a read-then-write, so two callers racing
// on a new identity converge on one row.
func (r *identityLinkRepository) Upsert(ctx context.Context, link *models.IdentityLink) error {
	now := time.Now()
	if link.ID == uuid.Nil {
		link.ID = uuid.New()
	}

	query := `
		INSERT INTO audience_identity_links (id, source, external_id, person_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (source, external_id) DO UPDATE
		SET person_id = EXCLUDED.person_id,
		    updated_at = EXCLUDED.updated_at
		RETURNING id, person_id, created_at, updated_at`

	err := r.db.Querier(ctx).QueryRow(ctx, query,
		link.ID, link.Source, link.ExternalID, link.PersonID, now,
	).Scan(&link.ID, &link.PersonID, &link.CreatedAt, &link.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert identity link: %w", err)
	}

	return nil
}

func (r *identityLinkRepository) GetBySourceExternalID(ctx context.Context, source, externalID string) (*models.IdentityLink, error) {
	query := `
		SELECT id, source, external_id, person_id, created_at, updated_at
		FROM audience_identity_links
		WHERE source = $1 AND external_id = $2`

	link, err := scanIdentityLink(r.db.Querier(ctx).QueryRow(ctx, query, source, externalID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return link, nil
}

func (r *identityLinkRepository) GetByPerson(ctx context.Context, personID uuid.UUID) ([]*models.IdentityLink, error) {
	query := `
		SELECT id, source, external_id, person_id, created_at, updated_at
		FROM audience_identity_links
		WHERE person_id = $1
		ORDER BY source, external_id`

	rows, err := r.db.Querier(ctx).Query(ctx, query, personID)
	if err != nil {
		return nil, fmt.Errorf("failed to query identity links: %w", err)
	}
	defer rows.Close()

	var links []*models.IdentityLink
	for rows.Next() {
		link, err := scanIdentityLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, link)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating identity links: %w", err)
	}

	return links, nil
}

func (r *identityLinkRepository) ReassignPerson(ctx context.Context, fromPersonID, toPersonID uuid.UUID) (int64, error) {
	query := `
		UPDATE audience_identity_links
		SET person_id = $1, updated_at = $2
		WHERE person_id = $3`

	result, err := r.db.Querier(ctx).Exec(ctx, query, toPersonID, time.Now(), fromPersonID)
	if err != nil {
		return 0, fmt.Errorf("failed to reassign identity links: %w", err)
	}

	return result.RowsAffected(), nil
}

func scanIdentityLink(row pgx.Row) (*models.IdentityLink, error) {
	var link models.IdentityLink

	err := row.Scan(&link.ID, &link.Source, &link.ExternalID, &link.PersonID, &link.CreatedAt, &link.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan identity link: %w", err)
	}

	return &link, nil
}
