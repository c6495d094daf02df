// Package events defines the event payloads emitted by the ingestion core.
package events

import "time"

// Event type identifiers used across the outbox, webhook deliveries, and
// subscriber registrations.
const (
	TypeRunIngested      = "run.ingested"
	TypeMilestoneReached = "milestone.reached"
)

// RunIngested is emitted when a workout is accepted by either ingestion path.
// The same event id is reused for every redelivery so that subscribers can
// deduplicate.
type RunIngested struct {
	EventID         string    `json:"event_id"`
	WorkoutID       string    `json:"workout_id"`
	UserID          string    `json:"user_id"`
	Day             string    `json:"day"`
	StartedAt       time.Time `json:"started_at"`
	DurationSeconds int       `json:"duration_seconds"`
	DistanceMeters  float64   `json:"distance_meters"`
	Source          string    `json:"source"`
}

// MilestoneReached is emitted when a user's total running-day count crosses a
// ladder threshold. The same event id is reused for every redelivery so that
// subscribers can deduplicate.
type MilestoneReached struct {
	EventID      string    `json:"event_id"`
	UserID       string    `json:"user_id"`
	Threshold    int       `json:"threshold"`
	TotalRunDays int       `json:"total_run_days"`
	OccurredAt   time.Time `json:"occurred_at"`
}
