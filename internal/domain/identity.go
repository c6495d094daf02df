package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"time"
)

// Tolerances for deciding whether two observations of the same identity carry
// the same core facts. Within tolerance the later observation is a duplicate;
// beyond it, a conflict.
const (
	durationToleranceSeconds = 2
	distanceToleranceMeters  = 10
)

// ResolveWorkoutID derives the canonical identifier for a workout. A
// non-empty source id is used verbatim (stable across retries from that
// source). Otherwise the id is a deterministic fingerprint of the start
// instant and duration. Two genuinely distinct workouts with the exact same
// start and duration therefore collapse to one record; that collision policy
// is deliberate and must not change without a coordinated client migration.
func ResolveWorkoutID(sourceID string, startedAt time.Time, durationSeconds int) string {
	if sourceID != "" {
		return sourceID
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d", startedAt.UTC().Format(time.RFC3339Nano), durationSeconds)))
	return hex.EncodeToString(sum[:16])
}

// FactsMatch reports whether two workouts with the same identity agree on
// core facts within tolerance.
func FactsMatch(existing, incoming *Workout) bool {
	if existing == nil || incoming == nil {
		return false
	}
	if math.Abs(float64(existing.DurationSeconds-incoming.DurationSeconds)) > durationToleranceSeconds {
		return false
	}
	if math.Abs(existing.DistanceMeters-incoming.DistanceMeters) > distanceToleranceMeters {
		return false
	}
	return true
}

// HasSupplemental reports whether the incoming workout carries a value for
// any optional field the stored record is missing. Filling those is the only
// permitted mutation of a stored workout.
func HasSupplemental(existing, incoming *Workout) bool {
	if existing == nil || incoming == nil {
		return false
	}
	fillable := func(stored, observed *float64) bool { return stored == nil && observed != nil }
	return fillable(existing.AvgHeartRate, incoming.AvgHeartRate) ||
		fillable(existing.MaxHeartRate, incoming.MaxHeartRate) ||
		fillable(existing.EnergyKcal, incoming.EnergyKcal) ||
		fillable(existing.ElevationGainMeters, incoming.ElevationGainMeters)
}
