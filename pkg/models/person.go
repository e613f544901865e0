package models

import (
	"time"

	"github.com/google/uuid"
)

// Person is the canonical identity record unifying all external accounts
// that belong to one end user. A Person may exist without an email when it
// was created purely from an external identity.
// Stored in audience_persons table.
type Person struct {
	ID        uuid.UUID `json:"id"`
	Email     *string   `json:"email,omitempty"`
	Phone     *string   `json:"phone,omitempty"`
	FirstName *string   `json:"first_name,omitempty"`
	LastName  *string   `json:"last_name,omitempty"`

	FirstSeenAt time.Time `json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`

	// Accumulating counters. Summed across both sides on merge.
	ActiveDays    int     `json:"active_days"`
	CoreActions   int     `json:"core_actions"`
	LifetimeValue float64 `json:"lifetime_value"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PersonTraits carries optional profile fields supplied alongside a
// resolution call (e.g., a billing webhook that knows the customer's name).
// Nil fields are left untouched.
type PersonTraits struct {
	Phone     *string `json:"phone,omitempty"`
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
}
