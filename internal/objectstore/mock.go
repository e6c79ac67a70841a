package objectstore

import (
	"bytes"
	"context"
	"strings"
	"sync"
)

// MockStore is an in-memory implementation of the Store interface for testing.
type MockStore struct {
	mu      sync.RWMutex
	objects map[string]*mockBlob

	// UnsupportedTiers simulates an account that rejects certain tiers.
	UnsupportedTiers map[Tier]bool

	// FailUploads makes every Upload fail until the counter reaches zero,
	// for exercising retry paths.
	FailUploads int

	// FailOps maps operation names ("SetAccessTier", "DeleteIfExists") to a
	// forced error for the next matching call.
	FailOps map[string]error

	uploads int
	deletes int
	tiers   int
}

type mockBlob struct {
	data        []byte
	contentType string
	etag        string
	tier        Tier
	tags        map[string]string
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		objects:          make(map[string]*mockBlob),
		UnsupportedTiers: make(map[Tier]bool),
		FailOps:          make(map[string]error),
	}
}

func (s *MockStore) key(loc Location) string {
	return loc.String()
}

// Upload stores the streamed content in memory.
func (s *MockStore) Upload(ctx context.Context, loc Location, contentType string, write WriterFunc, tags map[string]string) (BlobInfo, error) {
	var buf bytes.Buffer
	if err := write(ctx, &buf); err != nil {
		return BlobInfo{}, &ObjectError{Op: "Upload", Key: loc.Key, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.uploads++
	if s.FailUploads > 0 {
		s.FailUploads--
		return BlobInfo{}, &ObjectError{Op: "Upload", Key: loc.Key, Err: ErrAccessDenied}
	}

	copied := make(map[string]string, len(tags))
	for k, v := range tags {
		copied[k] = v
	}

	blob := &mockBlob{
		data:        buf.Bytes(),
		contentType: contentType,
		etag:        "mock-etag",
		tier:        TierHot,
		tags:        copied,
	}
	s.objects[s.key(loc)] = blob

	return BlobInfo{
		Account:     loc.Account,
		Container:   loc.Container,
		Key:         loc.Key,
		ETag:        blob.etag,
		ContentType: contentType,
		Size:        int64(len(blob.data)),
		AccessTier:  blob.tier,
	}, nil
}

// SetAccessTier updates the tier, honoring UnsupportedTiers.
func (s *MockStore) SetAccessTier(ctx context.Context, loc Location, tier Tier) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tiers++
	if err := s.FailOps["SetAccessTier"]; err != nil {
		delete(s.FailOps, "SetAccessTier")
		return &ObjectError{Op: "SetAccessTier", Key: loc.Key, Err: err}
	}
	if s.UnsupportedTiers[tier] {
		return &ObjectError{Op: "SetAccessTier", Key: loc.Key, Err: ErrTierNotSupported}
	}

	blob, ok := s.objects[s.key(loc)]
	if !ok {
		return &ObjectError{Op: "SetAccessTier", Key: loc.Key, Err: ErrNotFound}
	}
	blob.tier = tier
	return nil
}

// DeleteIfExists removes the blob; missing blobs are not an error.
func (s *MockStore) DeleteIfExists(ctx context.Context, loc Location, includeSnapshots bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deletes++
	if err := s.FailOps["DeleteIfExists"]; err != nil {
		delete(s.FailOps, "DeleteIfExists")
		return &ObjectError{Op: "DeleteIfExists", Key: loc.Key, Err: err}
	}
	delete(s.objects, s.key(loc))
	return nil
}

// GetProperties returns the blob's properties.
func (s *MockStore) GetProperties(ctx context.Context, loc Location) (BlobInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	blob, ok := s.objects[s.key(loc)]
	if !ok {
		return BlobInfo{}, &ObjectError{Op: "GetProperties", Key: loc.Key, Err: ErrNotFound}
	}
	return BlobInfo{
		Account:     loc.Account,
		Container:   loc.Container,
		Key:         loc.Key,
		ETag:        blob.etag,
		ContentType: blob.contentType,
		Size:        int64(len(blob.data)),
		AccessTier:  blob.tier,
	}, nil
}

// SetTags replaces the blob's tags.
func (s *MockStore) SetTags(ctx context.Context, loc Location, tags map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	blob, ok := s.objects[s.key(loc)]
	if !ok {
		return &ObjectError{Op: "SetTags", Key: loc.Key, Err: ErrNotFound}
	}
	blob.tags = make(map[string]string, len(tags))
	for k, v := range tags {
		blob.tags[k] = v
	}
	return nil
}

// GetTags returns the blob's tags; a missing blob yields an empty map.
func (s *MockStore) GetTags(ctx context.Context, loc Location) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	blob, ok := s.objects[s.key(loc)]
	if !ok {
		return map[string]string{}, nil
	}
	out := make(map[string]string, len(blob.tags))
	for k, v := range blob.tags {
		out[k] = v
	}
	return out, nil
}

// List returns blobs under the prefix, sorted by key.
func (s *MockStore) List(ctx context.Context, account, container, prefix string) ([]BlobInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := Location{Account: account, Container: container, Key: prefix}.String()
	var out []BlobInfo
	for k, blob := range s.objects {
		if !strings.HasPrefix(k, want) {
			continue
		}
		parts := strings.SplitN(k, "/", 3)
		out = append(out, BlobInfo{
			Account:     parts[0],
			Container:   parts[1],
			Key:         parts[2],
			ETag:        blob.etag,
			ContentType: blob.contentType,
			Size:        int64(len(blob.data)),
			AccessTier:  blob.tier,
		})
	}
	return out, nil
}

// Close is a no-op for the mock.
func (s *MockStore) Close() error { return nil }

// Contains reports whether a blob exists at the location.
func (s *MockStore) Contains(loc Location) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[s.key(loc)]
	return ok
}

// Data returns the stored bytes for a blob, or nil.
func (s *MockStore) Data(loc Location) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if blob, ok := s.objects[s.key(loc)]; ok {
		return blob.data
	}
	return nil
}

// TierOf returns the current tier of a blob.
func (s *MockStore) TierOf(loc Location) Tier {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if blob, ok := s.objects[s.key(loc)]; ok {
		return blob.tier
	}
	return ""
}

// UploadCount returns the number of Upload calls (including failed ones).
func (s *MockStore) UploadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.uploads
}

// DeleteCount returns the number of DeleteIfExists calls.
func (s *MockStore) DeleteCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deletes
}

// TierCallCount returns the number of SetAccessTier calls.
func (s *MockStore) TierCallCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tiers
}
