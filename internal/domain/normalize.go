package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// Quantity is a measurement with a declared unit. Export tools send either a
// bare number or {"qty": 5.2, "units": "km"}; both decode into this type so
// raw dynamic shapes never travel past the boundary.
type Quantity struct {
	Qty   float64
	Units string
}

// UnmarshalJSON accepts a JSON number or a {qty, units} object.
func (q *Quantity) UnmarshalJSON(data []byte) error {
	var number float64
	if err := json.Unmarshal(data, &number); err == nil {
		*q = Quantity{Qty: number}
		return nil
	}

	var obj struct {
		Qty   float64 `json:"qty"`
		Units string  `json:"units"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("quantity must be a number or {qty, units}: %w", err)
	}
	*q = Quantity{Qty: obj.Qty, Units: obj.Units}
	return nil
}

// MarshalJSON emits the object form.
func (q Quantity) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Qty   float64 `json:"qty"`
		Units string  `json:"units,omitempty"`
	}{Qty: q.Qty, Units: q.Units})
}

// RawWorkout is an observed activity as presented by either ingestion path,
// before normalization. ID is optional; when absent, identity is derived.
type RawWorkout struct {
	ID            string          `json:"id,omitempty"`
	Name          string          `json:"name"`
	Start         time.Time       `json:"start"`
	End           time.Time       `json:"end,omitempty"`
	Duration      Quantity        `json:"duration"`
	Distance      *Quantity       `json:"distance,omitempty"`
	ActiveEnergy  *Quantity       `json:"activeEnergy,omitempty"`
	AvgHeartRate  *float64        `json:"avgHeartRate,omitempty"`
	MaxHeartRate  *float64        `json:"maxHeartRate,omitempty"`
	ElevationGain *Quantity       `json:"elevation,omitempty"`
	Payload       json.RawMessage `json:"-"`
}

// Normalize converts a raw workout into canonical SI units and derives pace.
// Pure function: no I/O, no clock. Returns ErrNotRunning for activities whose
// name does not contain "run" (the pipeline only ingests runs), and wrapped
// ErrValidation for anything malformed.
func Normalize(userID, source string, raw RawWorkout) (Workout, error) {
	if strings.TrimSpace(raw.Name) == "" {
		return Workout{}, fmt.Errorf("%w: activity name is required", ErrValidation)
	}
	if !strings.Contains(strings.ToLower(raw.Name), "run") {
		return Workout{}, ErrNotRunning
	}
	if raw.Start.IsZero() {
		return Workout{}, fmt.Errorf("%w: start timestamp is required", ErrValidation)
	}

	durationSeconds, err := durationToSeconds(raw.Duration)
	if err != nil {
		return Workout{}, err
	}

	var distanceMeters float64
	if raw.Distance != nil {
		distanceMeters, err = lengthToMeters(*raw.Distance)
		if err != nil {
			return Workout{}, err
		}
		if distanceMeters < 0 {
			return Workout{}, fmt.Errorf("%w: distance must be >= 0", ErrValidation)
		}
	}

	start := raw.Start.UTC()
	end := raw.End.UTC()
	if raw.End.IsZero() {
		end = start.Add(time.Duration(durationSeconds) * time.Second)
	}
	if end.Before(start) {
		return Workout{}, fmt.Errorf("%w: end precedes start", ErrValidation)
	}

	w := Workout{
		UserID:          userID,
		Day:             time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC),
		StartedAt:       start,
		EndedAt:         end,
		DurationSeconds: durationSeconds,
		DistanceMeters:  distanceMeters,
		Source:          source,
		RawPayload:      raw.Payload,
	}

	// Pace only exists when there is distance. Zero distance yields nil, never
	// a placeholder that could read as a real measurement.
	if distanceMeters > 0 {
		pace := float64(durationSeconds) / (distanceMeters / 1000.0)
		w.PaceSecondsPerKm = &pace
	}

	if raw.ActiveEnergy != nil {
		kcal, err := energyToKcal(*raw.ActiveEnergy)
		if err != nil {
			return Workout{}, err
		}
		w.EnergyKcal = &kcal
	}
	if raw.ElevationGain != nil {
		meters, err := lengthToMeters(*raw.ElevationGain)
		if err != nil {
			return Workout{}, err
		}
		w.ElevationGainMeters = &meters
	}
	w.AvgHeartRate = raw.AvgHeartRate
	w.MaxHeartRate = raw.MaxHeartRate

	return w, nil
}

func durationToSeconds(q Quantity) (int, error) {
	var seconds float64
	switch strings.ToLower(strings.TrimSpace(q.Units)) {
	case "", "s", "sec", "secs", "second", "seconds":
		seconds = q.Qty
	case "min", "mins", "minute", "minutes":
		seconds = q.Qty * 60
	case "hr", "hrs", "hour", "hours":
		seconds = q.Qty * 3600
	default:
		return 0, fmt.Errorf("%w: unsupported duration unit %q", ErrValidation, q.Units)
	}
	rounded := int(math.Round(seconds))
	if rounded <= 0 {
		return 0, fmt.Errorf("%w: duration must be > 0", ErrValidation)
	}
	return rounded, nil
}

func lengthToMeters(q Quantity) (float64, error) {
	switch strings.ToLower(strings.TrimSpace(q.Units)) {
	case "", "m", "meter", "meters":
		return q.Qty, nil
	case "km", "kilometer", "kilometers":
		return q.Qty * 1000, nil
	case "mi", "mile", "miles":
		return q.Qty * 1609.344, nil
	case "ft", "feet":
		return q.Qty * 0.3048, nil
	default:
		return 0, fmt.Errorf("%w: unsupported length unit %q", ErrValidation, q.Units)
	}
}

func energyToKcal(q Quantity) (float64, error) {
	switch strings.ToLower(strings.TrimSpace(q.Units)) {
	case "", "kcal", "cal":
		return q.Qty, nil
	case "kj":
		return q.Qty / 4.184, nil
	default:
		return 0, fmt.Errorf("%w: unsupported energy unit %q", ErrValidation, q.Units)
	}
}
