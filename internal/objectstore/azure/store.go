// Package azure implements the objectstore.Store interface on Azure Blob
// Storage, which supports access tiers natively.
package azure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/coldstore-io/coldstore/internal/objectstore"
)

// Config configures an Azure store.
type Config struct {
	// ConnectionStrings maps storage account names to their connection
	// strings. Uploads and lifecycle operations address accounts by name,
	// so every account referenced by a table configuration must appear here.
	ConnectionStrings map[string]string
}

// Store implements objectstore.Store using the Azure Blob Storage SDK.
// Clients are created lazily per storage account and cached.
type Store struct {
	cfg Config

	mu      sync.Mutex
	clients map[string]*azblob.Client
	closed  bool
}

// New creates a new Azure store with the given configuration.
func New(cfg Config) (*Store, error) {
	if len(cfg.ConnectionStrings) == 0 {
		return nil, errors.New("azure: no storage account connection strings configured")
	}
	return &Store{
		cfg:     cfg,
		clients: make(map[string]*azblob.Client),
	}, nil
}

func (s *Store) client(account string) (*azblob.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, objectstore.ErrStoreClosed
	}
	if c, ok := s.clients[account]; ok {
		return c, nil
	}

	connStr, ok := s.cfg.ConnectionStrings[account]
	if !ok {
		return nil, fmt.Errorf("azure: no connection string configured for account %q", account)
	}

	c, err := azblob.NewClientFromConnectionString(connStr, nil)
	if err != nil {
		return nil, fmt.Errorf("azure: create client for account %q: %w", account, err)
	}
	s.clients[account] = c
	return c, nil
}

func (s *Store) blobClient(loc objectstore.Location) (*blob.Client, error) {
	c, err := s.client(loc.Account)
	if err != nil {
		return nil, err
	}
	return c.ServiceClient().NewContainerClient(loc.Container).NewBlobClient(loc.Key), nil
}

// Upload streams content to the blob via an io.Pipe so the writer callback
// never buffers the whole part in memory. Tags are applied atomically with
// the upload.
func (s *Store) Upload(ctx context.Context, loc objectstore.Location, contentType string, write objectstore.WriterFunc, tags map[string]string) (objectstore.BlobInfo, error) {
	c, err := s.client(loc.Account)
	if err != nil {
		return objectstore.BlobInfo{}, err
	}

	if _, err := c.CreateContainer(ctx, loc.Container, nil); err != nil {
		if !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
			return objectstore.BlobInfo{}, wrapError("Upload", loc.Key, err)
		}
	}

	pr, pw := io.Pipe()
	writeErr := make(chan error, 1)
	go func() {
		err := write(ctx, pw)
		pw.CloseWithError(err)
		writeErr <- err
	}()

	opts := &azblob.UploadStreamOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
	}
	if len(tags) > 0 {
		opts.Tags = tags
	}

	_, uploadErr := c.UploadStream(ctx, loc.Container, loc.Key, pr, opts)
	if werr := <-writeErr; werr != nil {
		return objectstore.BlobInfo{}, &objectstore.ObjectError{Op: "Upload", Key: loc.Key, Err: werr}
	}
	if uploadErr != nil {
		return objectstore.BlobInfo{}, wrapError("Upload", loc.Key, uploadErr)
	}

	return s.GetProperties(ctx, loc)
}

// SetAccessTier moves the blob to the given tier.
func (s *Store) SetAccessTier(ctx context.Context, loc objectstore.Location, tier objectstore.Tier) error {
	bc, err := s.blobClient(loc)
	if err != nil {
		return err
	}
	if _, err := bc.SetTier(ctx, blob.AccessTier(tier), nil); err != nil {
		return wrapError("SetAccessTier", loc.Key, err)
	}
	return nil
}

// DeleteIfExists removes the blob and optionally its snapshots. A missing
// blob is not an error.
func (s *Store) DeleteIfExists(ctx context.Context, loc objectstore.Location, includeSnapshots bool) error {
	bc, err := s.blobClient(loc)
	if err != nil {
		return err
	}

	var opts *blob.DeleteOptions
	if includeSnapshots {
		include := blob.DeleteSnapshotsOptionTypeInclude
		opts = &blob.DeleteOptions{DeleteSnapshots: &include}
	}

	if _, err := bc.Delete(ctx, opts); err != nil {
		wrapped := wrapError("DeleteIfExists", loc.Key, err)
		if errors.Is(wrapped, objectstore.ErrNotFound) {
			return nil
		}
		return wrapped
	}
	return nil
}

// GetProperties returns the blob's current properties.
func (s *Store) GetProperties(ctx context.Context, loc objectstore.Location) (objectstore.BlobInfo, error) {
	bc, err := s.blobClient(loc)
	if err != nil {
		return objectstore.BlobInfo{}, err
	}

	resp, err := bc.GetProperties(ctx, nil)
	if err != nil {
		return objectstore.BlobInfo{}, wrapError("GetProperties", loc.Key, err)
	}

	info := objectstore.BlobInfo{
		Account:   loc.Account,
		Container: loc.Container,
		Key:       loc.Key,
	}
	if resp.ETag != nil {
		info.ETag = string(*resp.ETag)
	}
	if resp.ContentType != nil {
		info.ContentType = *resp.ContentType
	}
	if resp.ContentLength != nil {
		info.Size = *resp.ContentLength
	}
	if resp.AccessTier != nil {
		info.AccessTier = objectstore.ParseTier(*resp.AccessTier)
	}
	return info, nil
}

// SetTags replaces the blob's tag set.
func (s *Store) SetTags(ctx context.Context, loc objectstore.Location, tags map[string]string) error {
	bc, err := s.blobClient(loc)
	if err != nil {
		return err
	}
	if _, err := bc.SetTags(ctx, tags, nil); err != nil {
		return wrapError("SetTags", loc.Key, err)
	}
	return nil
}

// GetTags returns the blob's tag set; a missing blob yields an empty map.
func (s *Store) GetTags(ctx context.Context, loc objectstore.Location) (map[string]string, error) {
	bc, err := s.blobClient(loc)
	if err != nil {
		return nil, err
	}

	resp, err := bc.GetTags(ctx, nil)
	if err != nil {
		wrapped := wrapError("GetTags", loc.Key, err)
		if errors.Is(wrapped, objectstore.ErrNotFound) {
			return map[string]string{}, nil
		}
		return nil, wrapped
	}

	tags := make(map[string]string, len(resp.BlobTagSet))
	for _, t := range resp.BlobTagSet {
		if t.Key != nil && t.Value != nil {
			tags[*t.Key] = *t.Value
		}
	}
	return tags, nil
}

// List returns blobs under the given prefix.
func (s *Store) List(ctx context.Context, account, container, prefix string) ([]objectstore.BlobInfo, error) {
	c, err := s.client(account)
	if err != nil {
		return nil, err
	}

	var opts *azblob.ListBlobsFlatOptions
	if prefix != "" {
		opts = &azblob.ListBlobsFlatOptions{Prefix: &prefix}
	}

	var infos []objectstore.BlobInfo
	pager := c.NewListBlobsFlatPager(container, opts)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, wrapError("List", prefix, err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			info := objectstore.BlobInfo{
				Account:   account,
				Container: container,
				Key:       *item.Name,
			}
			if p := item.Properties; p != nil {
				if p.ETag != nil {
					info.ETag = string(*p.ETag)
				}
				if p.ContentType != nil {
					info.ContentType = *p.ContentType
				}
				if p.ContentLength != nil {
					info.Size = *p.ContentLength
				}
				if p.AccessTier != nil {
					info.AccessTier = objectstore.ParseTier(string(*p.AccessTier))
				}
			}
			infos = append(infos, info)
		}
	}
	return infos, nil
}

// Close releases cached clients.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.clients = nil
	return nil
}

func wrapError(op, key string, err error) error {
	if err == nil {
		return nil
	}

	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		if strings.Contains(respErr.ErrorCode, "AccessTierNotSupported") ||
			strings.Contains(respErr.Error(), "AccessTierNotSupported") {
			return &objectstore.ObjectError{Op: op, Key: key, Err: objectstore.ErrTierNotSupported}
		}
		switch respErr.StatusCode {
		case http.StatusNotFound:
			if bloberror.HasCode(err, bloberror.ContainerNotFound) {
				return &objectstore.ObjectError{Op: op, Key: key, Err: objectstore.ErrContainerNotFound}
			}
			return &objectstore.ObjectError{Op: op, Key: key, Err: objectstore.ErrNotFound}
		case http.StatusForbidden:
			return &objectstore.ObjectError{Op: op, Key: key, Err: objectstore.ErrAccessDenied}
		}
	}

	return &objectstore.ObjectError{Op: op, Key: key, Err: err}
}
