package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// LifecycleMetrics holds metrics related to lifecycle policy enforcement.
type LifecycleMetrics struct {
	// FilesCheckedTotal tracks archival files evaluated against policy.
	FilesCheckedTotal prometheus.Counter

	// TransitionsTotal tracks tier transitions by target tier.
	// Labels: tier (Cool, Archive)
	TransitionsTotal *prometheus.CounterVec

	// DeletionsTotal tracks blobs deleted by retention policy.
	DeletionsTotal prometheus.Counter

	// FailuresTotal tracks files whose lifecycle action failed.
	FailuresTotal prometheus.Counter

	// EnforcementDuration tracks the duration of one enforcement pass.
	// Labels: scope
	EnforcementDuration *prometheus.HistogramVec
}

// NewLifecycleMetrics creates and registers lifecycle metrics.
// Uses promauto for automatic registration with the default registry.
func NewLifecycleMetrics() *LifecycleMetrics {
	return &LifecycleMetrics{
		FilesCheckedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "coldstore",
				Subsystem: "lifecycle",
				Name:      "files_checked_total",
				Help:      "Total number of archival files evaluated against lifecycle policy.",
			},
		),
		TransitionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "coldstore",
				Subsystem: "lifecycle",
				Name:      "transitions_total",
				Help:      "Total number of access tier transitions, broken down by target tier.",
			},
			[]string{"tier"},
		),
		DeletionsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "coldstore",
				Subsystem: "lifecycle",
				Name:      "deletions_total",
				Help:      "Total number of blobs deleted by retention policy.",
			},
		),
		FailuresTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "coldstore",
				Subsystem: "lifecycle",
				Name:      "failures_total",
				Help:      "Total number of files whose lifecycle action failed.",
			},
		),
		EnforcementDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "coldstore",
				Subsystem: "lifecycle",
				Name:      "enforcement_duration_seconds",
				Help:      "Duration of one lifecycle enforcement pass, broken down by scope.",
				Buckets:   DefaultRunDurationBuckets,
			},
			[]string{"scope"},
		),
	}
}

// NewLifecycleMetricsWithRegistry creates lifecycle metrics registered with a custom registry.
// Useful for testing to avoid conflicts with the default registry.
func NewLifecycleMetricsWithRegistry(reg prometheus.Registerer) *LifecycleMetrics {
	filesChecked := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "coldstore",
			Subsystem: "lifecycle",
			Name:      "files_checked_total",
			Help:      "Total number of archival files evaluated against lifecycle policy.",
		},
	)

	transitions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coldstore",
			Subsystem: "lifecycle",
			Name:      "transitions_total",
			Help:      "Total number of access tier transitions, broken down by target tier.",
		},
		[]string{"tier"},
	)

	deletions := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "coldstore",
			Subsystem: "lifecycle",
			Name:      "deletions_total",
			Help:      "Total number of blobs deleted by retention policy.",
		},
	)

	failures := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "coldstore",
			Subsystem: "lifecycle",
			Name:      "failures_total",
			Help:      "Total number of files whose lifecycle action failed.",
		},
	)

	enforcementDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "coldstore",
			Subsystem: "lifecycle",
			Name:      "enforcement_duration_seconds",
			Help:      "Duration of one lifecycle enforcement pass, broken down by scope.",
			Buckets:   DefaultRunDurationBuckets,
		},
		[]string{"scope"},
	)

	reg.MustRegister(filesChecked)
	reg.MustRegister(transitions)
	reg.MustRegister(deletions)
	reg.MustRegister(failures)
	reg.MustRegister(enforcementDuration)

	return &LifecycleMetrics{
		FilesCheckedTotal:   filesChecked,
		TransitionsTotal:    transitions,
		DeletionsTotal:      deletions,
		FailuresTotal:       failures,
		EnforcementDuration: enforcementDuration,
	}
}

// RecordChecked adds evaluated files.
func (m *LifecycleMetrics) RecordChecked(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.FilesCheckedTotal.Add(float64(count))
}

// RecordTransition records one tier transition.
func (m *LifecycleMetrics) RecordTransition(tier string) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(tier).Inc()
}

// RecordDeletion records one retention deletion.
func (m *LifecycleMetrics) RecordDeletion() {
	if m == nil {
		return
	}
	m.DeletionsTotal.Inc()
}

// RecordFailure records one failed lifecycle action.
func (m *LifecycleMetrics) RecordFailure() {
	if m == nil {
		return
	}
	m.FailuresTotal.Inc()
}

// RecordEnforcement records the duration of one enforcement pass.
func (m *LifecycleMetrics) RecordEnforcement(scope string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.EnforcementDuration.WithLabelValues(scope).Observe(durationSeconds)
}
