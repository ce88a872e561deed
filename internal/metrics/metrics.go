// Package metrics defines the Prometheus collectors exported by the
// coordination services.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// LockAcquisitions counts path-lock acquisition attempts by outcome.
	// The reason label carries the conflict class on failed attempts.
	LockAcquisitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coord_lock_acquisitions_total",
		Help: "Path lock acquisition attempts by outcome and failure reason",
	}, []string{"outcome", "reason"})

	// LockWaitSeconds observes how long callers spent in the acquire
	// retry loop, successful or not.
	LockWaitSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "coord_lock_wait_seconds",
		Help:    "Time spent waiting to acquire a path lock",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	})

	// SlotDecisions counts concurrency slot requests by outcome.
	SlotDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coord_slot_decisions_total",
		Help: "Concurrency slot requests by outcome",
	}, []string{"outcome"})

	// QuotaRejections counts quota consumptions refused for insufficient
	// reserved bytes.
	QuotaRejections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "coord_quota_rejections_total",
		Help: "Quota consumptions refused because the reservation was insufficient",
	})
)

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// Register registers all coordination metrics on the provided registry.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(LockAcquisitions, LockWaitSeconds, SlotDecisions, QuotaRejections)
}
