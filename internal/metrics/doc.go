// Package metrics provides Prometheus metrics for observability.
//
// This package exposes metrics for the archival pipeline and the lifecycle
// enforcement engine:
//   - Export run duration and outcome, broken down by table
//   - Rows exported and parts uploaded counters
//   - Part size histogram (bytes per uploaded Parquet part)
//   - Source row deletion counters
//   - Object store operation latency, broken down by operation and status
//   - Lifecycle files checked, tier transitions, deletions and failures
//
// Metrics are exposed via a dedicated HTTP server on /metrics in Prometheus format.
//
// Usage:
//
//	exportMetrics := metrics.NewExportMetrics()
//	storeMetrics := metrics.NewObjectStoreMetrics()
//	lifecycleMetrics := metrics.NewLifecycleMetrics()
//
//	store := objectstore.NewInstrumentedStore(backend, storeMetrics)
//
//	metricsServer := metrics.NewServer(":9090")
//	metricsServer.Start()
package metrics
