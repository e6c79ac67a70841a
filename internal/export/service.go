package export

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/coldstore-io/coldstore/internal/logging"
	"github.com/coldstore-io/coldstore/internal/metadata"
	"github.com/coldstore-io/coldstore/internal/metrics"
	"github.com/coldstore-io/coldstore/internal/objectstore"
	"github.com/coldstore-io/coldstore/internal/source"
)

// Blob tag keys applied to every uploaded part.
const (
	TagTableConfig = "coldstore_table_config"
	TagAsOfDate    = "coldstore_as_of"
	TagDateType    = "coldstore_date_type"
	TagPolicy      = "coldstore_policy"
	TagExempt      = "coldstore_exempt"
)

const (
	partContentType = "application/vnd.apache.parquet"

	defaultUploadAttempts = 3
	defaultUploadBackoff  = 2 * time.Second
)

// ExportResult summarizes one table snapshot export.
type ExportResult struct {
	// FileIDs are the archival file records created, ordered by part index.
	FileIDs []int64

	// Parts are the uploaded part stats, ordered by part index.
	Parts []PartStat

	// TotalRows is the number of rows exported across all parts.
	TotalRows int64

	// FirstPartPath is the blob path of part 0.
	FirstPartPath string
}

// Service exports one table snapshot into tagged, tiered object storage and
// records each part in the metadata repository.
type Service struct {
	store   objectstore.Store
	repo    metadata.Repository
	engine  *Engine
	metrics *metrics.ExportMetrics
	log     *logging.Logger

	attempts int
	backoff  time.Duration
	sleep    func(context.Context, time.Duration) error
	now      func() time.Time
}

// NewService wires an export service. metrics may be nil.
func NewService(store objectstore.Store, repo metadata.Repository, opts Options, m *metrics.ExportMetrics, log *logging.Logger) *Service {
	if log == nil {
		log = logging.Global()
	}
	return &Service{
		store:    store,
		repo:     repo,
		engine:   NewEngine(opts),
		metrics:  m,
		log:      log.WithScope("export"),
		attempts: defaultUploadAttempts,
		backoff:  defaultUploadBackoff,
		sleep:    sleepCtx,
		now:      time.Now,
	}
}

// SetUploadAttempts overrides the per-part upload attempt budget.
func (s *Service) SetUploadAttempts(n int) {
	if n > 0 {
		s.attempts = n
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// PartPath returns the blob path for one part of a table snapshot.
func PartPath(prefix, table string, asOf time.Time, index int) string {
	key := fmt.Sprintf("%s/as_of=%s/part-%d.parquet", table, asOf.Format("2006-01-02"), index)
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

// Export drains the cursor into Parquet parts under the configuration's
// container, creating a Created file record before each upload and
// finalizing it to Active afterwards. Failed uploads are retried with a
// rewound stream before the part is reported failed.
func (s *Service) Export(ctx context.Context, cfg *metadata.TableConfiguration, cur *source.Cursor, asOf time.Time, dateType metadata.DateType) (*ExportResult, error) {
	exempt, err := s.repo.IsExempt(ctx, cfg.ID, asOf)
	if err != nil {
		return nil, fmt.Errorf("export: exemption lookup for %s: %w", cfg.QualifiedName(), err)
	}

	tags := map[string]string{
		TagTableConfig: fmt.Sprintf("%d", cfg.ID),
		TagAsOfDate:    asOf.Format("2006-01-02"),
		TagDateType:    string(dateType),
	}
	if cfg.PolicyID != nil {
		tags[TagPolicy] = fmt.Sprintf("%d", *cfg.PolicyID)
	}
	if exempt {
		tags[TagExempt] = "true"
	}

	log := s.log.With(map[string]any{
		"table": cfg.QualifiedName(),
		"as_of": asOf.Format("2006-01-02"),
	})

	var (
		mu      sync.Mutex
		fileIDs = map[int]int64{}
	)

	uploadPart := func(ctx context.Context, part Part) error {
		path := PartPath(cfg.PathPrefix, cfg.TableName, asOf, part.Index)
		loc := objectstore.Location{
			Account:   cfg.StorageAccount,
			Container: cfg.Container,
			Key:       path,
		}

		file := &metadata.ArchivalFile{
			TableConfigurationID: cfg.ID,
			AsOfDate:             metadata.DateOf(asOf),
			DateType:             dateType,
			StorageAccount:       cfg.StorageAccount,
			Container:            cfg.Container,
			BlobPath:             path,
			Status:               metadata.FileStatusCreated,
			CurrentAccessTier:    string(objectstore.TierHot),
			CreatedAt:            s.now().UTC(),
		}
		if err := s.repo.CreateFile(ctx, file); err != nil {
			s.metrics.RecordPart(cfg.TableName, false, 0)
			return fmt.Errorf("create file record for %s: %w", path, err)
		}

		info, err := s.uploadWithRetry(ctx, loc, part, tags, log)
		if err != nil {
			s.metrics.RecordPart(cfg.TableName, false, 0)
			return err
		}

		file.ETag = info.ETag
		file.SizeBytes = info.Size
		file.RowCount = part.Rows
		file.Status = metadata.FileStatusActive
		if err := s.repo.UpdateFile(ctx, file); err != nil {
			s.metrics.RecordPart(cfg.TableName, false, 0)
			return fmt.Errorf("finalize file record for %s: %w", path, err)
		}

		s.metrics.RecordPart(cfg.TableName, true, part.Size)
		log.Debugf("part uploaded", map[string]any{
			"part":  part.Index,
			"path":  path,
			"rows":  part.Rows,
			"bytes": part.Size,
		})

		mu.Lock()
		fileIDs[part.Index] = file.ID
		mu.Unlock()
		return nil
	}

	stats, err := s.engine.ExportParts(ctx, cfg.TableName, cur, uploadPart)
	if err != nil {
		return nil, err
	}

	result := &ExportResult{
		Parts:         stats,
		FirstPartPath: PartPath(cfg.PathPrefix, cfg.TableName, asOf, 0),
	}
	for _, st := range stats {
		result.FileIDs = append(result.FileIDs, fileIDs[st.Index])
		result.TotalRows += st.Rows
	}

	s.metrics.RecordRows(cfg.TableName, result.TotalRows)
	log.Infof("snapshot exported", map[string]any{
		"parts": len(stats),
		"rows":  result.TotalRows,
	})
	return result, nil
}

// uploadWithRetry ships one part, rewinding the stream between attempts.
// Backoff starts at the configured base and doubles per retry.
func (s *Service) uploadWithRetry(ctx context.Context, loc objectstore.Location, part Part, tags map[string]string, log *logging.Logger) (objectstore.BlobInfo, error) {
	write := func(ctx context.Context, w io.Writer) error {
		_, err := io.Copy(w, part.Stream)
		return err
	}

	var lastErr error
	delay := s.backoff
	for attempt := 1; attempt <= s.attempts; attempt++ {
		if attempt > 1 {
			s.metrics.RecordUploadRetry()
			if _, err := part.Stream.Seek(0, io.SeekStart); err != nil {
				return objectstore.BlobInfo{}, fmt.Errorf("rewind part %d: %w", part.Index, err)
			}
			if err := s.sleep(ctx, delay); err != nil {
				return objectstore.BlobInfo{}, err
			}
			delay *= 2
		}

		info, err := s.store.Upload(ctx, loc, partContentType, write, tags)
		if err == nil {
			return info, nil
		}
		lastErr = err
		log.Warnf("part upload attempt failed", map[string]any{
			"part":    part.Index,
			"attempt": attempt,
			"error":   err.Error(),
		})
	}
	return objectstore.BlobInfo{}, fmt.Errorf("upload part %d after %d attempts: %w", part.Index, s.attempts, lastErr)
}
