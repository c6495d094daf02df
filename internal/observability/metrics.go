package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	workoutPersistGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "running_days",
		Subsystem: "persistence",
		Name:      "last_workout_persisted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent workout persisted to Postgres.",
	})
	ingestCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "running_days",
		Subsystem: "ingest",
		Name:      "records_total",
		Help:      "Number of ingested records, labeled by source and outcome.",
	}, []string{"source", "outcome"})
)

func init() {
	prometheus.MustRegister(workoutPersistGauge, ingestCounter)
}

// RecordWorkoutPersisted updates the persistence watermark gauge.
func RecordWorkoutPersisted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	workoutPersistGauge.Set(float64(ts.Unix()))
}

// RecordIngestOutcome counts one ingested record disposition.
func RecordIngestOutcome(source, outcome string) {
	ingestCounter.WithLabelValues(source, outcome).Inc()
}

// AddIngestOutcomes counts n dispositions at once, for batch paths.
func AddIngestOutcomes(source, outcome string, n int) {
	if n <= 0 {
		return
	}
	ingestCounter.WithLabelValues(source, outcome).Add(float64(n))
}
