package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ObjectStoreMetrics holds metrics related to object store operations.
// It implements objectstore.MetricsRecorder.
type ObjectStoreMetrics struct {
	// LatencyHistogram tracks object store operation latencies broken down by operation and status.
	// Labels: operation (upload, set_tier, delete, list), status (success, failure)
	LatencyHistogram *prometheus.HistogramVec

	// RequestsTotal tracks total object store operations by operation and status.
	RequestsTotal *prometheus.CounterVec

	// BytesUploadedTotal tracks total bytes uploaded.
	BytesUploadedTotal prometheus.Counter

	// TierRequestsTotal tracks tier transition requests by target tier.
	TierRequestsTotal *prometheus.CounterVec
}

// Object store operation label values.
const (
	OpObjUpload  = "upload"
	OpObjSetTier = "set_tier"
	OpObjDelete  = "delete"
	OpObjList    = "list"
)

// DefaultObjectStoreLatencyBuckets are latency buckets for object store
// operations, which range from tens of milliseconds to minutes for large
// streamed uploads.
var DefaultObjectStoreLatencyBuckets = []float64{
	0.01,  // 10ms
	0.025, // 25ms
	0.05,  // 50ms
	0.1,   // 100ms
	0.25,  // 250ms
	0.5,   // 500ms
	1.0,   // 1s
	2.5,   // 2.5s
	5.0,   // 5s
	10.0,  // 10s
	30.0,  // 30s
	60.0,  // 60s
	120.0, // 2m
}

// NewObjectStoreMetrics creates and registers object store metrics.
// Uses promauto for automatic registration with the default registry.
func NewObjectStoreMetrics() *ObjectStoreMetrics {
	return &ObjectStoreMetrics{
		LatencyHistogram: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "coldstore",
				Subsystem: "objectstore",
				Name:      "operation_latency_seconds",
				Help:      "Object store operation latency in seconds, broken down by operation and status.",
				Buckets:   DefaultObjectStoreLatencyBuckets,
			},
			[]string{"operation", "status"},
		),
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "coldstore",
				Subsystem: "objectstore",
				Name:      "operations_total",
				Help:      "Total number of object store operations, broken down by operation and status.",
			},
			[]string{"operation", "status"},
		),
		BytesUploadedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "coldstore",
				Subsystem: "objectstore",
				Name:      "bytes_uploaded_total",
				Help:      "Total number of bytes uploaded to object storage.",
			},
		),
		TierRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "coldstore",
				Subsystem: "objectstore",
				Name:      "tier_requests_total",
				Help:      "Total number of access tier transition requests, broken down by target tier.",
			},
			[]string{"tier"},
		),
	}
}

// NewObjectStoreMetricsWithRegistry creates object store metrics registered with a custom registry.
// Useful for testing to avoid conflicts with the default registry.
func NewObjectStoreMetricsWithRegistry(reg prometheus.Registerer) *ObjectStoreMetrics {
	latencyHist := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "coldstore",
			Subsystem: "objectstore",
			Name:      "operation_latency_seconds",
			Help:      "Object store operation latency in seconds, broken down by operation and status.",
			Buckets:   DefaultObjectStoreLatencyBuckets,
		},
		[]string{"operation", "status"},
	)

	requestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coldstore",
			Subsystem: "objectstore",
			Name:      "operations_total",
			Help:      "Total number of object store operations, broken down by operation and status.",
		},
		[]string{"operation", "status"},
	)

	bytesUploaded := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "coldstore",
			Subsystem: "objectstore",
			Name:      "bytes_uploaded_total",
			Help:      "Total number of bytes uploaded to object storage.",
		},
	)

	tierRequests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coldstore",
			Subsystem: "objectstore",
			Name:      "tier_requests_total",
			Help:      "Total number of access tier transition requests, broken down by target tier.",
		},
		[]string{"tier"},
	)

	reg.MustRegister(latencyHist)
	reg.MustRegister(requestsTotal)
	reg.MustRegister(bytesUploaded)
	reg.MustRegister(tierRequests)

	return &ObjectStoreMetrics{
		LatencyHistogram:   latencyHist,
		RequestsTotal:      requestsTotal,
		BytesUploadedTotal: bytesUploaded,
		TierRequestsTotal:  tierRequests,
	}
}

func statusLabel(success bool) string {
	if success {
		return StatusSuccess
	}
	return StatusFailure
}

func (m *ObjectStoreMetrics) record(op string, durationSeconds float64, success bool) {
	status := statusLabel(success)
	m.LatencyHistogram.WithLabelValues(op, status).Observe(durationSeconds)
	m.RequestsTotal.WithLabelValues(op, status).Inc()
}

// RecordUpload records one upload operation.
func (m *ObjectStoreMetrics) RecordUpload(durationSeconds float64, success bool, bytes int64) {
	if m == nil {
		return
	}
	m.record(OpObjUpload, durationSeconds, success)
	if success && bytes > 0 {
		m.BytesUploadedTotal.Add(float64(bytes))
	}
}

// RecordSetTier records one tier transition request.
func (m *ObjectStoreMetrics) RecordSetTier(durationSeconds float64, success bool, tier string) {
	if m == nil {
		return
	}
	m.record(OpObjSetTier, durationSeconds, success)
	m.TierRequestsTotal.WithLabelValues(tier).Inc()
}

// RecordDelete records one delete operation.
func (m *ObjectStoreMetrics) RecordDelete(durationSeconds float64, success bool) {
	if m == nil {
		return
	}
	m.record(OpObjDelete, durationSeconds, success)
}

// RecordList records one list operation.
func (m *ObjectStoreMetrics) RecordList(durationSeconds float64, success bool) {
	if m == nil {
		return
	}
	m.record(OpObjList, durationSeconds, success)
}
