package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const Namespace = "parkovka"

var (
	once sync.Once

	bookingTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "booking_transitions_total",
			Help:      "Count of booking lifecycle transitions by target status.",
		},
		[]string{"status"},
	)

	bookingRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "booking_rejected_total",
			Help:      "Count of rejected booking attempts by reason.",
		},
		[]string{"reason"},
	)

	intervalsMerged = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "intervals_merged_total",
			Help:      "Count of free intervals absorbed by merging.",
		},
	)

	invariantViolations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "invariant_violations_total",
			Help:      "Count of detected interval/booking consistency violations.",
		},
	)

	notificationsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "notifications_sent_total",
			Help:      "Count of outgoing notifications by kind and result.",
		},
		[]string{"kind", "result"},
	)

	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "free_slots_cache_total",
			Help:      "Free slot cache lookups by result.",
		},
		[]string{"result"},
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "job_duration_seconds",
			Help:      "Duration of scheduled jobs.",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 30},
		},
		[]string{"job"},
	)
)

// Collectors returns every metric of the service.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		bookingTransitions,
		bookingRejected,
		intervalsMerged,
		invariantViolations,
		notificationsSent,
		cacheLookups,
		jobDuration,
	}
}

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(Collectors()...)
	})
}

func IncBookingTransition(status string) {
	bookingTransitions.WithLabelValues(status).Inc()
}

func IncBookingRejected(reason string) {
	bookingRejected.WithLabelValues(reason).Inc()
}

func AddIntervalsMerged(n int) {
	if n > 0 {
		intervalsMerged.Add(float64(n))
	}
}

func IncInvariantViolation() {
	invariantViolations.Inc()
}

func IncNotification(kind, result string) {
	notificationsSent.WithLabelValues(kind, result).Inc()
}

func IncCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookups.WithLabelValues(result).Inc()
}

func ObserveJob(job string, seconds float64) {
	jobDuration.WithLabelValues(job).Observe(seconds)
}
