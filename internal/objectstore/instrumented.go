package objectstore

import (
	"context"
	"time"
)

// MetricsRecorder is the interface for recording object store operation
// metrics. This keeps the objectstore package decoupled from the metrics
// package.
type MetricsRecorder interface {
	RecordUpload(durationSeconds float64, success bool, bytes int64)
	RecordSetTier(durationSeconds float64, success bool, tier string)
	RecordDelete(durationSeconds float64, success bool)
	RecordList(durationSeconds float64, success bool)
}

// InstrumentedStore wraps a Store and records metrics for each operation.
type InstrumentedStore struct {
	store   Store
	metrics MetricsRecorder
}

// NewInstrumentedStore creates an instrumented wrapper around a Store.
// If metrics is nil, operations pass through directly.
func NewInstrumentedStore(store Store, metrics MetricsRecorder) *InstrumentedStore {
	return &InstrumentedStore{store: store, metrics: metrics}
}

// Upload streams content to the location and records upload metrics.
func (s *InstrumentedStore) Upload(ctx context.Context, loc Location, contentType string, write WriterFunc, tags map[string]string) (BlobInfo, error) {
	start := time.Now()
	info, err := s.store.Upload(ctx, loc, contentType, write, tags)
	if s.metrics != nil {
		s.metrics.RecordUpload(time.Since(start).Seconds(), err == nil, info.Size)
	}
	return info, err
}

// SetAccessTier moves the blob to the given tier.
func (s *InstrumentedStore) SetAccessTier(ctx context.Context, loc Location, tier Tier) error {
	start := time.Now()
	err := s.store.SetAccessTier(ctx, loc, tier)
	if s.metrics != nil {
		s.metrics.RecordSetTier(time.Since(start).Seconds(), err == nil, string(tier))
	}
	return err
}

// DeleteIfExists removes the blob.
func (s *InstrumentedStore) DeleteIfExists(ctx context.Context, loc Location, includeSnapshots bool) error {
	start := time.Now()
	err := s.store.DeleteIfExists(ctx, loc, includeSnapshots)
	if s.metrics != nil {
		s.metrics.RecordDelete(time.Since(start).Seconds(), err == nil)
	}
	return err
}

// GetProperties returns the blob's properties.
func (s *InstrumentedStore) GetProperties(ctx context.Context, loc Location) (BlobInfo, error) {
	return s.store.GetProperties(ctx, loc)
}

// SetTags replaces the blob's tags.
func (s *InstrumentedStore) SetTags(ctx context.Context, loc Location, tags map[string]string) error {
	return s.store.SetTags(ctx, loc, tags)
}

// GetTags returns the blob's tags.
func (s *InstrumentedStore) GetTags(ctx context.Context, loc Location) (map[string]string, error) {
	return s.store.GetTags(ctx, loc)
}

// List returns blobs under the prefix.
func (s *InstrumentedStore) List(ctx context.Context, account, container, prefix string) ([]BlobInfo, error) {
	start := time.Now()
	infos, err := s.store.List(ctx, account, container, prefix)
	if s.metrics != nil {
		s.metrics.RecordList(time.Since(start).Seconds(), err == nil)
	}
	return infos, err
}

// Close closes the underlying store.
func (s *InstrumentedStore) Close() error {
	return s.store.Close()
}
