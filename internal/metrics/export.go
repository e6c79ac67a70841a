package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ExportMetrics holds metrics related to archival export runs.
type ExportMetrics struct {
	// RunDuration tracks end-to-end export run duration per table.
	// Labels: table, status (success, failure, skipped)
	RunDuration *prometheus.HistogramVec

	// RowsExportedTotal tracks total rows written to Parquet parts.
	// Labels: table
	RowsExportedTotal *prometheus.CounterVec

	// PartsUploadedTotal tracks total parts uploaded by status.
	// Labels: table, status (success, failure)
	PartsUploadedTotal *prometheus.CounterVec

	// PartSizeBytes tracks the size distribution of uploaded parts.
	PartSizeBytes prometheus.Histogram

	// RowsDeletedTotal tracks total source rows deleted after upload.
	// Labels: table
	RowsDeletedTotal *prometheus.CounterVec

	// UploadRetriesTotal tracks upload attempts beyond the first.
	UploadRetriesTotal prometheus.Counter
}

// Status label values for export runs.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusSkipped = "skipped"
)

// DefaultRunDurationBuckets are duration buckets for export runs, which can
// range from sub-second (no cold data) to many minutes for large tables.
var DefaultRunDurationBuckets = []float64{
	0.1,    // 100ms
	0.5,    // 500ms
	1.0,    // 1s
	5.0,    // 5s
	15.0,   // 15s
	30.0,   // 30s
	60.0,   // 1m
	180.0,  // 3m
	600.0,  // 10m
	1800.0, // 30m
	3600.0, // 1h
}

// DefaultPartSizeBuckets cover part sizes from small tail parts up to the
// configured split boundary and beyond.
var DefaultPartSizeBuckets = []float64{
	64 * 1024,          // 64KiB
	256 * 1024,         // 256KiB
	1024 * 1024,        // 1MiB
	4 * 1024 * 1024,    // 4MiB
	8 * 1024 * 1024,    // 8MiB
	16 * 1024 * 1024,   // 16MiB
	32 * 1024 * 1024,   // 32MiB
	64 * 1024 * 1024,   // 64MiB
	128 * 1024 * 1024,  // 128MiB
	256 * 1024 * 1024,  // 256MiB
}

// NewExportMetrics creates and registers export metrics.
// Uses promauto for automatic registration with the default registry.
func NewExportMetrics() *ExportMetrics {
	return &ExportMetrics{
		RunDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "coldstore",
				Subsystem: "export",
				Name:      "run_duration_seconds",
				Help:      "Export run duration in seconds, broken down by table and status.",
				Buckets:   DefaultRunDurationBuckets,
			},
			[]string{"table", "status"},
		),
		RowsExportedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "coldstore",
				Subsystem: "export",
				Name:      "rows_total",
				Help:      "Total number of rows written to Parquet parts, broken down by table.",
			},
			[]string{"table"},
		),
		PartsUploadedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "coldstore",
				Subsystem: "export",
				Name:      "parts_total",
				Help:      "Total number of part uploads, broken down by table and status.",
			},
			[]string{"table", "status"},
		),
		PartSizeBytes: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "coldstore",
				Subsystem: "export",
				Name:      "part_size_bytes",
				Help:      "Size in bytes of uploaded Parquet parts.",
				Buckets:   DefaultPartSizeBuckets,
			},
		),
		RowsDeletedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "coldstore",
				Subsystem: "export",
				Name:      "rows_deleted_total",
				Help:      "Total number of source rows deleted after successful upload, broken down by table.",
			},
			[]string{"table"},
		),
		UploadRetriesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "coldstore",
				Subsystem: "export",
				Name:      "upload_retries_total",
				Help:      "Total number of part upload retry attempts.",
			},
		),
	}
}

// NewExportMetricsWithRegistry creates export metrics registered with a custom registry.
// Useful for testing to avoid conflicts with the default registry.
func NewExportMetricsWithRegistry(reg prometheus.Registerer) *ExportMetrics {
	runDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "coldstore",
			Subsystem: "export",
			Name:      "run_duration_seconds",
			Help:      "Export run duration in seconds, broken down by table and status.",
			Buckets:   DefaultRunDurationBuckets,
		},
		[]string{"table", "status"},
	)

	rowsExported := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coldstore",
			Subsystem: "export",
			Name:      "rows_total",
			Help:      "Total number of rows written to Parquet parts, broken down by table.",
		},
		[]string{"table"},
	)

	partsUploaded := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coldstore",
			Subsystem: "export",
			Name:      "parts_total",
			Help:      "Total number of part uploads, broken down by table and status.",
		},
		[]string{"table", "status"},
	)

	partSize := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "coldstore",
			Subsystem: "export",
			Name:      "part_size_bytes",
			Help:      "Size in bytes of uploaded Parquet parts.",
			Buckets:   DefaultPartSizeBuckets,
		},
	)

	rowsDeleted := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coldstore",
			Subsystem: "export",
			Name:      "rows_deleted_total",
			Help:      "Total number of source rows deleted after successful upload, broken down by table.",
		},
		[]string{"table"},
	)

	uploadRetries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "coldstore",
			Subsystem: "export",
			Name:      "upload_retries_total",
			Help:      "Total number of part upload retry attempts.",
		},
	)

	reg.MustRegister(runDuration)
	reg.MustRegister(rowsExported)
	reg.MustRegister(partsUploaded)
	reg.MustRegister(partSize)
	reg.MustRegister(rowsDeleted)
	reg.MustRegister(uploadRetries)

	return &ExportMetrics{
		RunDuration:        runDuration,
		RowsExportedTotal:  rowsExported,
		PartsUploadedTotal: partsUploaded,
		PartSizeBytes:      partSize,
		RowsDeletedTotal:   rowsDeleted,
		UploadRetriesTotal: uploadRetries,
	}
}

// RecordRun records the outcome and duration of one table export run.
func (m *ExportMetrics) RecordRun(table, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.RunDuration.WithLabelValues(table, status).Observe(durationSeconds)
}

// RecordRows adds exported rows for a table.
func (m *ExportMetrics) RecordRows(table string, count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.RowsExportedTotal.WithLabelValues(table).Add(float64(count))
}

// RecordPart records one part upload attempt and, on success, its size.
func (m *ExportMetrics) RecordPart(table string, success bool, sizeBytes int64) {
	if m == nil {
		return
	}
	status := StatusFailure
	if success {
		status = StatusSuccess
		m.PartSizeBytes.Observe(float64(sizeBytes))
	}
	m.PartsUploadedTotal.WithLabelValues(table, status).Inc()
}

// RecordDeletedRows adds deleted source rows for a table.
func (m *ExportMetrics) RecordDeletedRows(table string, count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.RowsDeletedTotal.WithLabelValues(table).Add(float64(count))
}

// RecordUploadRetry increments the retry counter.
func (m *ExportMetrics) RecordUploadRetry() {
	if m == nil {
		return
	}
	m.UploadRetriesTotal.Inc()
}
