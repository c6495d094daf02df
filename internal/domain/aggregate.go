package domain

import "time"

// Fold recomputes a daily aggregate from its constituent workouts. The stored
// aggregate row is maintained incrementally by an atomic SQL upsert, but it
// must always equal this fold; Fold is the reference definition used by tests
// and by re-fold paths after corrective deletes.
func Fold(userID string, day time.Time, workouts []Workout) DailyAggregate {
	agg := DailyAggregate{UserID: userID, Day: day}
	for _, w := range workouts {
		agg.RunCount++
		agg.TotalDistanceMeters += w.DistanceMeters
		agg.TotalDurationSeconds += w.DurationSeconds
		if w.DistanceMeters > agg.LongestRunMeters {
			agg.LongestRunMeters = w.DistanceMeters
		}
		if w.PaceSecondsPerKm != nil {
			if agg.FastestPaceSecPerKm == nil || *w.PaceSecondsPerKm < *agg.FastestPaceSecPerKm {
				pace := *w.PaceSecondsPerKm
				agg.FastestPaceSecPerKm = &pace
			}
		}
	}
	return agg
}
