package domain

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrWorkoutNotFound is returned when a workout cannot be located.
	ErrWorkoutNotFound = errors.New("workout not found")
	// ErrDuplicateWorkout indicates an insert hit the (user, workout) unique constraint.
	ErrDuplicateWorkout = errors.New("workout already exists")
	// ErrNotRunning marks activities filtered out before the resolver.
	ErrNotRunning = errors.New("activity is not a run")
	// ErrValidation wraps normalization failures surfaced to callers.
	ErrValidation = errors.New("validation failed")
	// ErrUnknownWebhookToken is returned when an export token resolves to no user.
	ErrUnknownWebhookToken = errors.New("unknown webhook token")
)

// Source tags identifying which ingestion path observed a workout.
const (
	SourceWebhook = "webhook"
	SourceSync    = "client_sync"
)

// Workout is the canonical record stored for one observed running activity.
// Immutable after creation except for the supplemental-metrics fill path,
// which only ever writes fields that are currently null.
type Workout struct {
	ID                  string
	UserID              string
	Day                 time.Time // calendar date of StartedAt, midnight UTC
	StartedAt           time.Time
	EndedAt             time.Time
	DurationSeconds     int
	DistanceMeters      float64
	PaceSecondsPerKm    *float64 // nil when distance is zero
	AvgHeartRate        *float64
	MaxHeartRate        *float64
	EnergyKcal          *float64
	ElevationGainMeters *float64
	Source              string
	RawPayload          json.RawMessage
	CreatedAt           time.Time
}

// DailyAggregate is the per-(user, date) rollup. It is a materialized view of
// the workouts for that date: every field is recomputable by folding them,
// and average pace is derived from the totals rather than stored.
type DailyAggregate struct {
	UserID               string
	Day                  time.Time
	RunCount             int
	TotalDistanceMeters  float64
	TotalDurationSeconds int
	LongestRunMeters     float64
	FastestPaceSecPerKm  *float64
	UpdatedAt            time.Time
}

// AvgPaceSecondsPerKm derives the running average pace from the totals.
// Averaging per-run paces would weight short runs the same as long ones.
func (a DailyAggregate) AvgPaceSecondsPerKm() *float64 {
	if a.TotalDistanceMeters <= 0 {
		return nil
	}
	pace := float64(a.TotalDurationSeconds) / (a.TotalDistanceMeters / 1000.0)
	return &pace
}

// Conflict reasons and resolutions surfaced in sync manifests.
const (
	ConflictReasonFactsDiverged       = "facts_diverged"
	ConflictReasonNormalizationFailed = "normalization_failed"

	ResolutionServerWins = "server_wins"
	ResolutionRejected   = "rejected"
)

// Conflict reports a same-identity, divergent-facts collision (or a record
// that failed normalization). It is returned to the client, never applied.
type Conflict struct {
	ClientID   string `json:"clientId,omitempty"`
	ServerID   string `json:"serverId,omitempty"`
	Reason     string `json:"reason"`
	Resolution string `json:"resolution"`
	Detail     string `json:"detail,omitempty"`
}

// CreateResult reports aggregate-level effects of persisting a workout.
type CreateResult struct {
	NewDay       bool // true when this workout created the day's aggregate row
	TotalRunDays int  // distinct running days in the workout's calendar year after the insert
}

// WorkoutRepository captures persistence operations for the ingest path.
// CreateWorkout must insert the workout, fold it into the daily aggregate via
// an atomic upsert, and record outbox events in a single transaction.
type WorkoutRepository interface {
	GetWorkout(ctx context.Context, userID, workoutID string) (*Workout, error)
	CreateWorkout(ctx context.Context, w Workout) (CreateResult, error)
	FillSupplemental(ctx context.Context, w Workout) (bool, error)
	RecordMilestone(ctx context.Context, userID string, threshold, totalRunDays int, occurredAt time.Time) error
}

// StatsRepository serves the derived read models.
type StatsRepository interface {
	ListRunDays(ctx context.Context, userID string, year int) ([]time.Time, error)
	ListAggregates(ctx context.Context, userID string, from, to time.Time) ([]DailyAggregate, error)
}

// TokenResolver maps a webhook export token to the owning user. Credential
// issuance is owned by the identity collaborator.
type TokenResolver interface {
	ResolveWebhookToken(ctx context.Context, token string) (string, error)
}
