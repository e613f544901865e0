package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/inkwell-hq/audience-engine/pkg/rules"
)

// Automation action types a segment may carry. Dispatched when a Person
// joins the segment, as a separate step from the membership decision.
const (
	ActionSendEmail    = "send_email"
	ActionSendPostcard = "send_postcard"
	ActionWebhook      = "webhook"
)

// Segment is a named cohort defined by a boolean rule tree over Person and
// PersonFeatures data. Disabled segments never match.
// Stored in audience_segments table.
type Segment struct {
	ID          uuid.UUID  `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Rules       rules.Node `json:"rules"`
	Enabled     bool       `json:"enabled"`

	// Optional automation descriptor. Empty ActionType means no automation
	// is configured for this segment.
	ActionType   string          `json:"action_type,omitempty"`
	ActionConfig json.RawMessage `json:"action_config,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SegmentMember records a Person's membership in a Segment. Membership is
// never deleted: when the Person stops matching, LeftAt is stamped so churn
// history survives. At most one active (LeftAt == nil) row exists per
// (person, segment) pair.
// Stored in audience_segment_members table.
type SegmentMember struct {
	ID        uuid.UUID  `json:"id"`
	PersonID  uuid.UUID  `json:"person_id"`
	SegmentID uuid.UUID  `json:"segment_id"`
	JoinedAt  time.Time  `json:"joined_at"`
	LeftAt    *time.Time `json:"left_at,omitempty"`
}

// IsActive reports whether the membership row is current (not churned).
func (m *SegmentMember) IsActive() bool {
	return m.LeftAt == nil
}
