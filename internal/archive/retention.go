package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/coldstore-io/coldstore/internal/logging"
	"github.com/coldstore-io/coldstore/internal/metadata"
	"github.com/coldstore-io/coldstore/internal/metrics"
)

// Runner sweeps one table configuration: every distinct as-of date older
// than the table's retain window is archived, oldest first, inside its own
// audit run.
type Runner struct {
	repo     metadata.Repository
	archiver *Archiver
	metrics  *metrics.ExportMetrics
	log      *logging.Logger
	now      func() time.Time
}

// NewRunner wires a retention runner. metrics may be nil.
func NewRunner(repo metadata.Repository, archiver *Archiver, m *metrics.ExportMetrics, log *logging.Logger) *Runner {
	if log == nil {
		log = logging.Global()
	}
	return &Runner{
		repo:     repo,
		archiver: archiver,
		metrics:  m,
		log:      log.WithScope("archive"),
		now:      time.Now,
	}
}

// candidateDates returns the distinct as-of dates older than the retain
// window, ascending.
func (r *Runner) candidateDates(ctx context.Context, cfg *metadata.TableConfiguration, src Source) ([]time.Time, error) {
	dates, err := src.DistinctAsOfDates(ctx, cfg.SchemaName, cfg.TableName, cfg.AsOfColumn)
	if err != nil {
		return nil, err
	}

	today := metadata.DayNumber(r.now())
	out := make([]time.Time, 0, len(dates))
	for _, d := range dates {
		if today-metadata.DayNumber(d) > cfg.RetainDays {
			out = append(out, d)
		}
	}
	return out, nil
}

// RunTable archives all cold dates of one table. Per-date failures are
// logged and the sweep continues; a run with any failed date completes
// Partial, and Failed is reserved for a sweep that could not start. The
// aggregated per-date errors are returned.
func (r *Runner) RunTable(ctx context.Context, cfg *metadata.TableConfiguration, src Source) error {
	start := r.now()

	runID, err := r.repo.StartRun(ctx, cfg.QualifiedName())
	if err != nil {
		return fmt.Errorf("archive: start run for %s: %w", cfg.QualifiedName(), err)
	}
	log := r.log.WithRunID(runID).With(map[string]any{"table": cfg.QualifiedName()})

	dates, err := r.candidateDates(ctx, cfg, src)
	if err != nil {
		err = fmt.Errorf("archive: list as-of dates for %s: %w", cfg.QualifiedName(), err)
		r.completeRun(ctx, runID, metadata.RunFailed, err.Error(), log)
		r.metrics.RecordRun(cfg.TableName, metrics.StatusFailure, r.now().Sub(start).Seconds())
		return err
	}

	if len(dates) == 0 {
		log.Debug("no cold dates to archive")
		r.completeRun(ctx, runID, metadata.RunSuccess, "no candidate dates", log)
		r.metrics.RecordRun(cfg.TableName, metrics.StatusSkipped, r.now().Sub(start).Seconds())
		return nil
	}

	log.Infof("archiving cold dates", map[string]any{"dates": len(dates)})

	var (
		errs   *multierror.Error
		failed int
	)
	for _, asOf := range dates {
		if ctx.Err() != nil {
			msg := fmt.Sprintf("cancelled after %d of %d dates", len(dates)-remaining(dates, asOf), len(dates))
			r.completeRun(ctx, runID, metadata.RunPartial, msg, log)
			r.metrics.RecordRun(cfg.TableName, metrics.StatusFailure, r.now().Sub(start).Seconds())
			return ctx.Err()
		}

		if err := r.archiver.ArchiveDate(ctx, runID, cfg, src, asOf); err != nil {
			if ctx.Err() != nil {
				r.completeRun(ctx, runID, metadata.RunPartial, "cancelled", log)
				r.metrics.RecordRun(cfg.TableName, metrics.StatusFailure, r.now().Sub(start).Seconds())
				return err
			}
			failed++
			errs = multierror.Append(errs, err)
			log.Errorf("date archival failed", map[string]any{
				"as_of": metadata.DateOf(asOf).Format("2006-01-02"),
				"error": err.Error(),
			})
		}
	}

	// Failed is reserved for runs that could not get going at all; once
	// per-date details exist, any failure leaves a Partial run with the
	// counts in the message.
	status := metadata.RunSuccess
	label := metrics.StatusSuccess
	if failed > 0 {
		status = metadata.RunPartial
		label = metrics.StatusFailure
	}

	r.completeRun(ctx, runID, status, fmt.Sprintf("dates=%d failed=%d", len(dates), failed), log)
	r.metrics.RecordRun(cfg.TableName, label, r.now().Sub(start).Seconds())
	return errs.ErrorOrNil()
}

// RunDate archives exactly one as-of date of the table inside its own
// audit run, regardless of the retain window. Used for operator-driven
// backfills of a specific date.
func (r *Runner) RunDate(ctx context.Context, cfg *metadata.TableConfiguration, src Source, asOf time.Time) error {
	start := r.now()

	runID, err := r.repo.StartRun(ctx, cfg.QualifiedName())
	if err != nil {
		return fmt.Errorf("archive: start run for %s: %w", cfg.QualifiedName(), err)
	}
	log := r.log.WithRunID(runID).With(map[string]any{"table": cfg.QualifiedName()})

	if err := r.archiver.ArchiveDate(ctx, runID, cfg, src, asOf); err != nil {
		r.completeRun(ctx, runID, metadata.RunPartial, err.Error(), log)
		r.metrics.RecordRun(cfg.TableName, metrics.StatusFailure, r.now().Sub(start).Seconds())
		return err
	}

	r.completeRun(ctx, runID, metadata.RunSuccess, "dates=1 failed=0", log)
	r.metrics.RecordRun(cfg.TableName, metrics.StatusSuccess, r.now().Sub(start).Seconds())
	return nil
}

func remaining(dates []time.Time, current time.Time) int {
	for i, d := range dates {
		if d.Equal(current) {
			return len(dates) - i
		}
	}
	return 0
}

// completeRun finalizes the audit run even when the sweep was cancelled.
func (r *Runner) completeRun(ctx context.Context, runID int64, status metadata.RunStatus, message string, log *logging.Logger) {
	if err := r.repo.CompleteRun(context.WithoutCancel(ctx), runID, status, message); err != nil {
		log.Errorf("failed to complete run", map[string]any{"error": err.Error()})
	}
}
