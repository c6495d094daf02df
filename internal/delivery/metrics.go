package delivery

import "github.com/prometheus/client_golang/prometheus"

var (
	attemptCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "running_days",
		Subsystem: "delivery",
		Name:      "attempts_total",
		Help:      "Number of webhook delivery attempts, labeled by result.",
	}, []string{"result"})

	exhaustedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "running_days",
		Subsystem: "delivery",
		Name:      "exhausted_total",
		Help:      "Number of deliveries that reached their retry limit.",
	})

	breakerCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "running_days",
		Subsystem: "delivery",
		Name:      "breaker_opened_total",
		Help:      "Number of subscribers deactivated by the circuit breaker.",
	})

	attemptDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "running_days",
		Subsystem: "delivery",
		Name:      "attempt_duration_seconds",
		Help:      "Wall time of individual webhook delivery attempts.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	})
)

func init() {
	prometheus.MustRegister(attemptCounter, exhaustedCounter, breakerCounter, attemptDuration)
}
