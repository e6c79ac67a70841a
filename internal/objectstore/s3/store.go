// Package s3 implements the objectstore.Store interface on AWS S3 and
// S3-compatible stores. Access tiers are mapped onto storage classes and
// applied by a same-key copy.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/coldstore-io/coldstore/internal/objectstore"
)

// Config configures an S3 store.
type Config struct {
	// Bucket is the name of the S3 bucket. All accounts and containers map
	// into this single bucket, with the container as a key prefix.
	Bucket string

	// Region is the AWS region (e.g., "us-east-1").
	// Required for AWS S3, optional for S3-compatible endpoints.
	Region string

	// Endpoint is the S3 endpoint URL (e.g., "http://localhost:9000" for MinIO).
	// If empty, uses the default AWS endpoint for the region.
	Endpoint string

	// AccessKeyID is the AWS access key ID.
	// If empty, uses the default credential chain.
	AccessKeyID string

	// SecretAccessKey is the AWS secret access key.
	// If empty, uses the default credential chain.
	SecretAccessKey string

	// UsePathStyle enables path-style addressing (required for MinIO and some
	// S3-compatible stores).
	UsePathStyle bool
}

// tierClass maps access tiers onto S3 storage classes. Backends without a
// matching class report the tier as unsupported so callers fall back.
var tierClass = map[objectstore.Tier]types.StorageClass{
	objectstore.TierHot:     types.StorageClassStandard,
	objectstore.TierCool:    types.StorageClassStandardIa,
	objectstore.TierArchive: types.StorageClassGlacier,
}

func classTier(class string) objectstore.Tier {
	switch types.StorageClass(class) {
	case types.StorageClassStandard, "":
		return objectstore.TierHot
	case types.StorageClassStandardIa, types.StorageClassOnezoneIa:
		return objectstore.TierCool
	case types.StorageClassGlacier, types.StorageClassDeepArchive, types.StorageClassGlacierIr:
		return objectstore.TierArchive
	default:
		return objectstore.Tier(class)
	}
}

// Store implements objectstore.Store using the AWS SDK.
type Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	closed   bool
	mu       sync.RWMutex
}

// New creates a new S3 store with the given configuration.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3: bucket name is required")
	}

	opts := []func(*config.LoadOptions) error{}

	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	} else {
		opts = append(opts, config.WithRegion("us-east-1"))
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3: failed to load AWS config: %w", err)
	}

	s3Opts := []func(*s3.Options){
		func(o *s3.Options) {
			// Suppress "Response has no supported checksum" warnings from
			// S3-compatible endpoints that omit checksums.
			o.DisableLogOutputChecksumValidationSkipped = true
		},
	}

	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)

	return &Store{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   cfg.Bucket,
	}, nil
}

func (s *Store) checkClosed() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return objectstore.ErrStoreClosed
	}
	return nil
}

// objectKey flattens a location into a bucket key. The account is a logical
// namespace in S3 mode; the container becomes the leading path segment.
func (s *Store) objectKey(loc objectstore.Location) string {
	return loc.Container + "/" + loc.Key
}

func encodeTags(tags map[string]string) string {
	v := url.Values{}
	for k, val := range tags {
		v.Set(k, val)
	}
	return v.Encode()
}

// Upload streams content to the object via an io.Pipe. The multipart
// uploader handles unknown-length bodies, so the part never needs to be
// buffered whole.
func (s *Store) Upload(ctx context.Context, loc objectstore.Location, contentType string, write objectstore.WriterFunc, tags map[string]string) (objectstore.BlobInfo, error) {
	if err := s.checkClosed(); err != nil {
		return objectstore.BlobInfo{}, err
	}

	pr, pw := io.Pipe()
	writeErr := make(chan error, 1)
	go func() {
		err := write(ctx, pw)
		pw.CloseWithError(err)
		writeErr <- err
	}()

	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.objectKey(loc)),
		Body:        pr,
		ContentType: aws.String(contentType),
	}
	if len(tags) > 0 {
		input.Tagging = aws.String(encodeTags(tags))
	}

	_, uploadErr := s.uploader.Upload(ctx, input)
	if werr := <-writeErr; werr != nil {
		return objectstore.BlobInfo{}, &objectstore.ObjectError{Op: "Upload", Key: loc.Key, Err: werr}
	}
	if uploadErr != nil {
		return objectstore.BlobInfo{}, s.wrapError("Upload", loc.Key, uploadErr)
	}

	return s.GetProperties(ctx, loc)
}

// SetAccessTier changes the object's storage class with a same-key copy.
func (s *Store) SetAccessTier(ctx context.Context, loc objectstore.Location, tier objectstore.Tier) error {
	if err := s.checkClosed(); err != nil {
		return err
	}

	class, ok := tierClass[tier]
	if !ok {
		return &objectstore.ObjectError{Op: "SetAccessTier", Key: loc.Key, Err: objectstore.ErrTierNotSupported}
	}

	key := s.objectKey(loc)
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:            aws.String(s.bucket),
		Key:               aws.String(key),
		CopySource:        aws.String(s.bucket + "/" + key),
		StorageClass:      class,
		MetadataDirective: types.MetadataDirectiveCopy,
		TaggingDirective:  types.TaggingDirectiveCopy,
	})
	if err != nil {
		return s.wrapError("SetAccessTier", loc.Key, err)
	}
	return nil
}

// DeleteIfExists removes the object. S3 has no snapshots, so the flag is
// accepted and ignored. Missing objects are not an error.
func (s *Store) DeleteIfExists(ctx context.Context, loc objectstore.Location, includeSnapshots bool) error {
	if err := s.checkClosed(); err != nil {
		return err
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(loc)),
	})
	if err != nil {
		wrapped := s.wrapError("DeleteIfExists", loc.Key, err)
		if errors.Is(wrapped, objectstore.ErrNotFound) {
			return nil
		}
		return wrapped
	}
	return nil
}

// GetProperties returns the object's metadata.
func (s *Store) GetProperties(ctx context.Context, loc objectstore.Location) (objectstore.BlobInfo, error) {
	if err := s.checkClosed(); err != nil {
		return objectstore.BlobInfo{}, err
	}

	output, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(loc)),
	})
	if err != nil {
		return objectstore.BlobInfo{}, s.wrapError("GetProperties", loc.Key, err)
	}

	return objectstore.BlobInfo{
		Account:     loc.Account,
		Container:   loc.Container,
		Key:         loc.Key,
		ETag:        aws.ToString(output.ETag),
		ContentType: aws.ToString(output.ContentType),
		Size:        aws.ToInt64(output.ContentLength),
		AccessTier:  classTier(string(output.StorageClass)),
	}, nil
}

// SetTags replaces the object's tag set.
func (s *Store) SetTags(ctx context.Context, loc objectstore.Location, tags map[string]string) error {
	if err := s.checkClosed(); err != nil {
		return err
	}

	set := make([]types.Tag, 0, len(tags))
	for k, v := range tags {
		set = append(set, types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}

	_, err := s.client.PutObjectTagging(ctx, &s3.PutObjectTaggingInput{
		Bucket:  aws.String(s.bucket),
		Key:     aws.String(s.objectKey(loc)),
		Tagging: &types.Tagging{TagSet: set},
	})
	if err != nil {
		return s.wrapError("SetTags", loc.Key, err)
	}
	return nil
}

// GetTags returns the object's tag set; a missing object yields an empty map.
func (s *Store) GetTags(ctx context.Context, loc objectstore.Location) (map[string]string, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}

	output, err := s.client.GetObjectTagging(ctx, &s3.GetObjectTaggingInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(loc)),
	})
	if err != nil {
		wrapped := s.wrapError("GetTags", loc.Key, err)
		if errors.Is(wrapped, objectstore.ErrNotFound) {
			return map[string]string{}, nil
		}
		return nil, wrapped
	}

	tags := make(map[string]string, len(output.TagSet))
	for _, t := range output.TagSet {
		tags[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	return tags, nil
}

// List returns objects under the given prefix.
func (s *Store) List(ctx context.Context, account, container, prefix string) ([]objectstore.BlobInfo, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}

	fullPrefix := container + "/" + prefix
	var results []objectstore.BlobInfo
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(fullPrefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, s.wrapError("List", fullPrefix, err)
		}

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if len(key) <= len(container)+1 {
				continue
			}
			results = append(results, objectstore.BlobInfo{
				Account:    account,
				Container:  container,
				Key:        key[len(container)+1:],
				ETag:       aws.ToString(obj.ETag),
				Size:       aws.ToInt64(obj.Size),
				AccessTier: classTier(string(obj.StorageClass)),
			})
		}
	}

	return results, nil
}

// Close releases resources associated with the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) wrapError(op, key string, err error) error {
	if err == nil {
		return nil
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case http.StatusNotFound:
			return &objectstore.ObjectError{Op: op, Key: key, Err: objectstore.ErrNotFound}
		case http.StatusForbidden:
			return &objectstore.ObjectError{Op: op, Key: key, Err: objectstore.ErrAccessDenied}
		}
	}

	var noSuchBucket *types.NoSuchBucket
	if errors.As(err, &noSuchBucket) {
		return &objectstore.ObjectError{Op: op, Key: key, Err: objectstore.ErrContainerNotFound}
	}

	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return &objectstore.ObjectError{Op: op, Key: key, Err: objectstore.ErrNotFound}
	}

	return &objectstore.ObjectError{Op: op, Key: key, Err: err}
}

// Verify interface compliance at compile time.
var _ objectstore.Store = (*Store)(nil)
