package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNormalizeConvertsUnits(t *testing.T) {
	start := time.Date(2025, time.March, 3, 6, 30, 0, 0, time.UTC)
	raw := RawWorkout{
		Name:     "Outdoor Run",
		Start:    start,
		Duration: Quantity{Qty: 30, Units: "min"},
		Distance: &Quantity{Qty: 5.2, Units: "km"},
	}

	w, err := Normalize("user-1", SourceWebhook, raw)
	require.NoError(t, err)
	require.Equal(t, 1800, w.DurationSeconds)
	require.InDelta(t, 5200, w.DistanceMeters, 0.001)
	require.NotNil(t, w.PaceSecondsPerKm)
	require.InDelta(t, 1800.0/5.2, *w.PaceSecondsPerKm, 0.001)
	require.Equal(t, time.Date(2025, time.March, 3, 0, 0, 0, 0, time.UTC), w.Day)
	require.Equal(t, SourceWebhook, w.Source)
}

func TestNormalizeMilesAndKilojoules(t *testing.T) {
	raw := RawWorkout{
		Name:         "Morning run",
		Start:        time.Date(2025, time.March, 3, 6, 0, 0, 0, time.UTC),
		Duration:     Quantity{Qty: 3600, Units: "s"},
		Distance:     &Quantity{Qty: 6.2, Units: "mi"},
		ActiveEnergy: &Quantity{Qty: 2000, Units: "kj"},
	}

	w, err := Normalize("user-1", SourceSync, raw)
	require.NoError(t, err)
	require.InDelta(t, 6.2*1609.344, w.DistanceMeters, 0.01)
	require.NotNil(t, w.EnergyKcal)
	require.InDelta(t, 2000/4.184, *w.EnergyKcal, 0.01)
}

func TestNormalizeFiltersNonRuns(t *testing.T) {
	raw := RawWorkout{
		Name:     "Cycling",
		Start:    time.Now().UTC(),
		Duration: Quantity{Qty: 1200},
	}

	_, err := Normalize("user-1", SourceWebhook, raw)
	require.ErrorIs(t, err, ErrNotRunning)
}

func TestNormalizeCaseInsensitiveRunMatch(t *testing.T) {
	for _, name := range []string{"RUNNING", "Trail run", "indoor running"} {
		raw := RawWorkout{
			Name:     name,
			Start:    time.Now().UTC(),
			Duration: Quantity{Qty: 600},
		}
		_, err := Normalize("user-1", SourceWebhook, raw)
		require.NoError(t, err, "name %q should pass the filter", name)
	}
}

func TestNormalizeValidation(t *testing.T) {
	base := RawWorkout{
		Name:     "Run",
		Start:    time.Date(2025, time.March, 3, 6, 0, 0, 0, time.UTC),
		Duration: Quantity{Qty: 1800},
	}

	missingName := base
	missingName.Name = " "
	_, err := Normalize("u", SourceWebhook, missingName)
	require.ErrorIs(t, err, ErrValidation)

	missingStart := base
	missingStart.Start = time.Time{}
	_, err = Normalize("u", SourceWebhook, missingStart)
	require.ErrorIs(t, err, ErrValidation)

	zeroDuration := base
	zeroDuration.Duration = Quantity{Qty: 0}
	_, err = Normalize("u", SourceWebhook, zeroDuration)
	require.ErrorIs(t, err, ErrValidation)

	badUnit := base
	badUnit.Duration = Quantity{Qty: 30, Units: "fortnights"}
	_, err = Normalize("u", SourceWebhook, badUnit)
	require.ErrorIs(t, err, ErrValidation)

	negativeDistance := base
	negativeDistance.Distance = &Quantity{Qty: -5, Units: "km"}
	_, err = Normalize("u", SourceWebhook, negativeDistance)
	require.ErrorIs(t, err, ErrValidation)

	endBeforeStart := base
	end := base.Start.Add(-time.Hour)
	endBeforeStart.End = end
	_, err = Normalize("u", SourceWebhook, endBeforeStart)
	require.ErrorIs(t, err, ErrValidation)
}

func TestNormalizeZeroDistanceHasNoPace(t *testing.T) {
	raw := RawWorkout{
		Name:     "Treadmill run",
		Start:    time.Date(2025, time.March, 3, 6, 0, 0, 0, time.UTC),
		Duration: Quantity{Qty: 1800},
	}

	w, err := Normalize("user-1", SourceSync, raw)
	require.NoError(t, err)
	require.Zero(t, w.DistanceMeters)
	require.Nil(t, w.PaceSecondsPerKm)
}

func TestNormalizeDerivesEndFromDuration(t *testing.T) {
	start := time.Date(2025, time.March, 3, 6, 0, 0, 0, time.UTC)
	raw := RawWorkout{
		Name:     "Run",
		Start:    start,
		Duration: Quantity{Qty: 45, Units: "min"},
	}

	w, err := Normalize("user-1", SourceWebhook, raw)
	require.NoError(t, err)
	require.Equal(t, start.Add(45*time.Minute), w.EndedAt)
}

func TestQuantityDecodesBothShapes(t *testing.T) {
	var bare Quantity
	require.NoError(t, json.Unmarshal([]byte(`1800`), &bare))
	require.Equal(t, Quantity{Qty: 1800}, bare)

	var object Quantity
	require.NoError(t, json.Unmarshal([]byte(`{"qty": 5.2, "units": "km"}`), &object))
	require.Equal(t, Quantity{Qty: 5.2, Units: "km"}, object)

	var bad Quantity
	require.Error(t, json.Unmarshal([]byte(`"fast"`), &bad))
}
