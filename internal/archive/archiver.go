// Package archive orchestrates table archival: it finds cold as-of dates,
// drives the export pipeline for each, optionally deletes exported rows
// from the source, and records per-date outcomes as run details.
package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/coldstore-io/coldstore/internal/export"
	"github.com/coldstore-io/coldstore/internal/logging"
	"github.com/coldstore-io/coldstore/internal/metadata"
	"github.com/coldstore-io/coldstore/internal/metrics"
	"github.com/coldstore-io/coldstore/internal/source"
)

// defaultDeleteBatchSize bounds one source delete transaction.
const defaultDeleteBatchSize = 10_000

// Source is the slice of source-database behavior archival needs.
// *source.Source satisfies it.
type Source interface {
	DistinctAsOfDates(ctx context.Context, schema, table, column string) ([]time.Time, error)
	Cursor(ctx context.Context, schema, table, column string, asOf time.Time) (*source.Cursor, error)
	DeleteByAsOfInBatches(ctx context.Context, schema, table, column string, asOf time.Time, batchSize int) (int64, error)
}

// Exporter ships one table snapshot into object storage.
// *export.Service satisfies it.
type Exporter interface {
	Export(ctx context.Context, cfg *metadata.TableConfiguration, cur *source.Cursor, asOf time.Time, dateType metadata.DateType) (*export.ExportResult, error)
}

// Archiver archives single (table, as-of date) snapshots.
type Archiver struct {
	repo     metadata.Repository
	exporter Exporter
	metrics  *metrics.ExportMetrics
	log      *logging.Logger

	deleteBatchSize int
	now             func() time.Time
}

// NewArchiver wires an archiver. metrics may be nil; a non-positive
// deleteBatchSize takes the default.
func NewArchiver(repo metadata.Repository, exporter Exporter, deleteBatchSize int, m *metrics.ExportMetrics, log *logging.Logger) *Archiver {
	if deleteBatchSize < 1 {
		deleteBatchSize = defaultDeleteBatchSize
	}
	if log == nil {
		log = logging.Global()
	}
	return &Archiver{
		repo:            repo,
		exporter:        exporter,
		metrics:         m,
		log:             log.WithScope("archive"),
		deleteBatchSize: deleteBatchSize,
		now:             time.Now,
	}
}

func (a *Archiver) detail(runID int64, cfg *metadata.TableConfiguration, asOf time.Time, dt metadata.DateType, phase metadata.Phase, status metadata.DetailStatus) *metadata.RunDetail {
	return &metadata.RunDetail{
		RunID:                runID,
		TableConfigurationID: cfg.ID,
		AsOfDate:             metadata.DateOf(asOf),
		DateType:             dt,
		Phase:                phase,
		Status:               status,
		CreatedAt:            a.now().UTC(),
	}
}

// ArchiveDate archives one (table, as-of date) snapshot. Snapshots that
// are already archived or exempt record a Skipped detail and succeed.
// Cancellation is returned without recording a detail so the date is
// retried on the next run.
func (a *Archiver) ArchiveDate(ctx context.Context, runID int64, cfg *metadata.TableConfiguration, src Source, asOf time.Time) error {
	dt := metadata.ClassifyDate(asOf)
	log := a.log.WithRunID(runID).With(map[string]any{
		"table": cfg.QualifiedName(),
		"as_of": metadata.DateOf(asOf).Format("2006-01-02"),
	})

	exists, err := a.repo.ActiveFileExists(ctx, cfg.ID, asOf)
	if err != nil {
		return fmt.Errorf("archive: existence check for %s: %w", cfg.QualifiedName(), err)
	}
	if exists {
		log.Debug("snapshot already archived")
		d := a.detail(runID, cfg, asOf, dt, metadata.PhaseExport, metadata.DetailSkipped)
		d.Message = "AlreadyArchived"
		return a.repo.LogDetail(ctx, d)
	}

	exempt, err := a.repo.IsExempt(ctx, cfg.ID, asOf)
	if err != nil {
		return fmt.Errorf("archive: exemption check for %s: %w", cfg.QualifiedName(), err)
	}
	if exempt {
		log.Info("snapshot exempt from archival")
		d := a.detail(runID, cfg, asOf, dt, metadata.PhaseExport, metadata.DetailSkipped)
		d.Message = "Exempt"
		return a.repo.LogDetail(ctx, d)
	}

	cur, err := src.Cursor(ctx, cfg.SchemaName, cfg.TableName, cfg.AsOfColumn, asOf)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		d := a.detail(runID, cfg, asOf, dt, metadata.PhaseExport, metadata.DetailFailed)
		d.Message = err.Error()
		if logErr := a.repo.LogDetail(ctx, d); logErr != nil {
			log.Errorf("failed to record export failure", map[string]any{"error": logErr.Error()})
		}
		return err
	}

	result, err := a.exporter.Export(ctx, cfg, cur, asOf, dt)
	cur.Close()
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		d := a.detail(runID, cfg, asOf, dt, metadata.PhaseExport, metadata.DetailFailed)
		d.Message = err.Error()
		if logErr := a.repo.LogDetail(ctx, d); logErr != nil {
			log.Errorf("failed to record export failure", map[string]any{"error": logErr.Error()})
		}
		return err
	}

	if result.TotalRows == 0 {
		log.Info("no rows for snapshot")
		d := a.detail(runID, cfg, asOf, dt, metadata.PhaseExport, metadata.DetailSkipped)
		d.FilePath = result.FirstPartPath
		d.Message = "RowCount=0"
		return a.repo.LogDetail(ctx, d)
	}

	d := a.detail(runID, cfg, asOf, dt, metadata.PhaseExport, metadata.DetailSuccess)
	d.RowsAffected = result.TotalRows
	d.FilePath = result.FirstPartPath
	if len(result.FileIDs) > 0 {
		id := result.FileIDs[0]
		d.ArchivalFileID = &id
	}
	if err := a.repo.LogDetail(ctx, d); err != nil {
		return fmt.Errorf("archive: record export success for %s: %w", cfg.QualifiedName(), err)
	}

	if !cfg.DeleteFromSource {
		return nil
	}
	return a.deleteSource(ctx, runID, cfg, src, asOf, dt, result.TotalRows, log)
}

// deleteSource removes the exported rows from the source in bounded
// batches. A count mismatch is recorded but trusted: the exported part is
// the durable copy, the source count may have drifted legitimately.
func (a *Archiver) deleteSource(ctx context.Context, runID int64, cfg *metadata.TableConfiguration, src Source, asOf time.Time, dt metadata.DateType, expected int64, log *logging.Logger) error {
	deleted, err := src.DeleteByAsOfInBatches(ctx, cfg.SchemaName, cfg.TableName, cfg.AsOfColumn, asOf, a.deleteBatchSize)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		d := a.detail(runID, cfg, asOf, dt, metadata.PhaseDelete, metadata.DetailFailed)
		d.RowsAffected = deleted
		d.Message = err.Error()
		if logErr := a.repo.LogDetail(ctx, d); logErr != nil {
			log.Errorf("failed to record delete failure", map[string]any{"error": logErr.Error()})
		}
		return fmt.Errorf("archive: delete source rows for %s: %w", cfg.QualifiedName(), err)
	}

	a.metrics.RecordDeletedRows(cfg.TableName, deleted)

	d := a.detail(runID, cfg, asOf, dt, metadata.PhaseDelete, metadata.DetailSuccess)
	d.RowsAffected = deleted
	if deleted != expected {
		d.Message = fmt.Sprintf("ExpectedDeleteCount=%d,ActualDeleted=%d", expected, deleted)
		log.Warnf("source delete count mismatch", map[string]any{
			"expected": expected,
			"deleted":  deleted,
		})
	}
	return a.repo.LogDetail(ctx, d)
}
