package models

import (
	"time"

	"github.com/google/uuid"
)

// PersonFeatures is a denormalized snapshot of behavioral aggregates for one
// Person, recomputed over a lookback window and replaced wholesale. At most
// one row exists per Person; every other component treats it as read-only.
// Stored in audience_person_features table.
type PersonFeatures struct {
	PersonID            uuid.UUID      `json:"person_id"`
	ActiveDays          int            `json:"active_days"`
	CoreActions         int            `json:"core_actions"`
	EventCounts         map[string]int `json:"event_counts"`
	DaysSinceSignup     int            `json:"days_since_signup"`
	DaysSinceLastActive int            `json:"days_since_last_active"`
	ComputedAt          time.Time      `json:"computed_at"`
}

// IsStale reports whether the snapshot is older than maxAge.
func (f *PersonFeatures) IsStale(maxAge time.Duration) bool {
	return time.Since(f.ComputedAt) > maxAge
}
