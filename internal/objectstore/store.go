// Package objectstore defines the Store interface for tiered blob storage.
//
// This package provides the core abstraction for the object storage
// operations coldstore needs: streaming uploads of Parquet parts, access
// tier transitions, tag management, and deletion. Implementations exist for
// Azure Blob Storage (native access tiers) and S3-compatible stores
// (tiers mapped to storage classes).
//
// # Usage
//
// The primary interface is [Store]:
//
//	store, err := azure.New(cfg)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	loc := objectstore.Location{Account: "prodarchive", Container: "trades", Key: "part-1.parquet"}
//	info, err := store.Upload(ctx, loc, "application/octet-stream", writeFn, tags)
//
// Tier transitions degrade gracefully: when a backend rejects a tier, the
// returned error unwraps to [ErrTierNotSupported] so callers can fall back
// to a supported tier.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Common errors returned by Store implementations.
var (
	// ErrNotFound is returned when the requested blob does not exist.
	ErrNotFound = errors.New("blob not found")

	// ErrContainerNotFound is returned when the container (or bucket) does not exist.
	ErrContainerNotFound = errors.New("container not found")

	// ErrAccessDenied is returned when the credentials lack permission for the operation.
	ErrAccessDenied = errors.New("access denied")

	// ErrTierNotSupported is returned when the target access tier is not
	// supported by the storage account. Callers are expected to fall back
	// to a supported tier rather than fail.
	ErrTierNotSupported = errors.New("access tier not supported")

	// ErrStoreClosed is returned when operations are attempted on a closed store.
	ErrStoreClosed = errors.New("store closed")
)

// ObjectError wraps an error with the blob location for context.
type ObjectError struct {
	Op  string // Operation that failed (e.g., "Upload", "SetAccessTier")
	Key string // Blob path
	Err error  // Underlying error
}

func (e *ObjectError) Error() string {
	return fmt.Sprintf("objectstore: %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *ObjectError) Unwrap() error {
	return e.Err
}

// Tier is a storage access tier.
type Tier string

// Access tiers recognized by lifecycle policy enforcement. Archive is the
// coldest tier; S3 backends map these onto storage classes.
const (
	TierHot     Tier = "Hot"
	TierCool    Tier = "Cool"
	TierArchive Tier = "Archive"
)

// ParseTier normalizes a tier name. Unknown names round-trip unchanged so
// provider-specific tiers can pass through.
func ParseTier(s string) Tier {
	switch s {
	case "hot", "Hot", "HOT":
		return TierHot
	case "cool", "Cool", "COOL":
		return TierCool
	case "archive", "Archive", "ARCHIVE", "cold", "Cold":
		return TierArchive
	default:
		return Tier(s)
	}
}

// Location identifies one blob.
type Location struct {
	// Account is the storage account name (ignored by single-bucket backends).
	Account string

	// Container is the blob container or bucket namespace.
	Container string

	// Key is the blob path within the container.
	Key string
}

func (l Location) String() string {
	return l.Account + "/" + l.Container + "/" + l.Key
}

// BlobInfo describes a stored blob.
type BlobInfo struct {
	// Account is the storage account holding the blob.
	Account string

	// Container is the blob's container.
	Container string

	// Key is the blob path within the container.
	Key string

	// ETag is the entity tag returned by the service after upload.
	ETag string

	// ContentType is the MIME type of the blob.
	ContentType string

	// Size is the blob's size in bytes.
	Size int64

	// AccessTier is the blob's current access tier, when known.
	AccessTier Tier
}

// WriterFunc streams blob content into w. It is invoked exactly once per
// upload attempt; a retried upload invokes it again.
type WriterFunc func(ctx context.Context, w io.Writer) error

// Store provides the blob operations used by the export pipeline and the
// lifecycle enforcement engine.
type Store interface {
	// Upload streams content produced by write to the given location and
	// returns the final blob properties. Tags, when non-empty, are applied
	// to the blob as part of the upload.
	Upload(ctx context.Context, loc Location, contentType string, write WriterFunc, tags map[string]string) (BlobInfo, error)

	// SetAccessTier moves the blob to the given tier. Returns an error
	// unwrapping to ErrTierNotSupported when the account cannot serve the
	// tier, so the caller can fall back.
	SetAccessTier(ctx context.Context, loc Location, tier Tier) error

	// DeleteIfExists removes the blob. Deleting a missing blob is not an
	// error. When includeSnapshots is true, blob snapshots are removed too.
	DeleteIfExists(ctx context.Context, loc Location, includeSnapshots bool) error

	// GetProperties returns the blob's current properties.
	GetProperties(ctx context.Context, loc Location) (BlobInfo, error)

	// SetTags replaces the blob's tag set.
	SetTags(ctx context.Context, loc Location, tags map[string]string) error

	// GetTags returns the blob's tag set. A missing blob yields an empty map.
	GetTags(ctx context.Context, loc Location) (map[string]string, error)

	// List returns blobs under the given prefix within account/container.
	List(ctx context.Context, account, container, prefix string) ([]BlobInfo, error)

	// Close releases resources associated with the store.
	Close() error
}
