package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AutomationEvent describes a membership-driven automation to execute.
// Consumed by external automation workers (campaign email sends, postcard
// fulfillment, webhooks).
type AutomationEvent struct {
	PersonID     uuid.UUID       `json:"person_id"`
	SegmentID    uuid.UUID       `json:"segment_id"`
	SegmentName  string          `json:"segment_name"`
	ActionType   string          `json:"action_type"`
	ActionConfig json.RawMessage `json:"action_config,omitempty"`
	TriggeredAt  time.Time       `json:"triggered_at"`
}

// AutomationDispatcher delivers automation events to the external
// automation collaborator.
type AutomationDispatcher interface {
	Dispatch(ctx context.Context, event *AutomationEvent) error
}

// AutomationResult is the outcome of a trigger attempt. Dispatch failures
// are reported here, never raised, so they cannot abort a membership sweep.
type AutomationResult struct {
	Triggered bool   `json:"triggered"`
	Type      string `json:"type,omitempty"`
	Error     string `json:"error,omitempty"`
}
