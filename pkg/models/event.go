package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Core action event names. Events with these names count toward the
// core_actions feature aggregate.
const (
	EventLetterGenerated = "letter_generated"
	EventLetterSent      = "letter_sent"
	EventRecipientAdded  = "recipient_added"
)

// Event is a single behavioral product event attributed to a Person.
// Events are the substrate feature computation aggregates over, and are
// reassigned to the surviving Person during a merge.
// Stored in audience_events table.
type Event struct {
	ID         uuid.UUID       `json:"id"`
	PersonID   uuid.UUID       `json:"person_id"`
	EventName  string          `json:"event_name"`
	Properties json.RawMessage `json:"properties,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
	CreatedAt  time.Time       `json:"created_at"`
}

// IsCoreAction reports whether name is one of the core action events.
func IsCoreAction(name string) bool {
	switch name {
	case EventLetterGenerated, EventLetterSent, EventRecipientAdded:
		return true
	}
	return false
}
