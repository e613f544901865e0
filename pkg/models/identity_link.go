package models

import (
	"time"

	"github.com/google/uuid"
)

// Identity source tags. The (source, external_id) pair is globally unique;
// one external identity maps to exactly one Person at a time.
const (
	SourceUser    = "user"    // application user account id
	SourceStripe  = "stripe"  // payment processor customer id
	SourcePosthog = "posthog" // analytics distinct id
	SourceMeta    = "meta"    // ad platform click id
)

// validSources is the closed set of accepted source tags.
var validSources = map[string]bool{
	SourceUser:    true,
	SourceStripe:  true,
	SourcePosthog: true,
	SourceMeta:    true,
}

// IsValidSource reports whether source is a recognized identity source tag.
func IsValidSource(source string) bool {
	return validSources[source]
}

// IdentityLink maps one external system's identifier to a Person.
// Many links may point at the same Person. Links are repointed (never
// duplicated) when two Persons are merged.
// Stored in audience_identity_links table.
type IdentityLink struct {
	ID         uuid.UUID `json:"id"`
	Source     string    `json:"source"`
	ExternalID string    `json:"external_id"`
	PersonID   uuid.UUID `json:"person_id"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
