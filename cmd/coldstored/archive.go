package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/coldstore-io/coldstore/internal/archive"
	"github.com/coldstore-io/coldstore/internal/export"
	"github.com/coldstore-io/coldstore/internal/metrics"
)

func runArchive(args []string) {
	fs := flag.NewFlagSet("archive", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	table := fs.String("table", "", "Restrict the sweep to one table (schema.table)")
	asOf := fs.String("as-of", "", "Archive exactly this as-of date, YYYY-MM-DD (requires -table; ignores the retain window)")

	fs.Usage = func() {
		fmt.Println(`Usage: coldstored archive [options]

Run one archival sweep: for every active table configuration, export all
as-of dates older than the table's retain window to Parquet parts in
object storage, then optionally delete the exported rows from the source.

Options:`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg)
	if err != nil {
		fatal("failed to initialize: %v", err)
	}
	defer app.Close()

	if *asOf != "" {
		if *table == "" {
			fatal("-as-of requires -table")
		}
		date, err := time.Parse("2006-01-02", *asOf)
		if err != nil {
			fatal("invalid -as-of %q: %v", *asOf, err)
		}
		if err := archiveDate(ctx, app, metrics.NewExportMetrics(), *table, date); err != nil {
			app.log.Errorf("date archival failed", map[string]any{"error": err.Error()})
			os.Exit(1)
		}
		return
	}

	if err := archiveSweep(ctx, app, metrics.NewExportMetrics(), *table); err != nil {
		app.log.Errorf("archival sweep failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
}

// newArchiveRunner builds the export/archive stack from the app's config.
func newArchiveRunner(app *App, m *metrics.ExportMetrics) *archive.Runner {
	exporter := export.NewService(app.store, app.repo, export.Options{
		MaxRowsPerPart:      int64(app.cfg.Export.MaxRowsPerPart),
		RowGroupTargetBytes: app.cfg.Export.RowGroupTargetBytes,
		SpillThresholdBytes: app.cfg.Export.SpillThresholdBytes,
		UploadParallelism:   app.cfg.Export.UploadParallelism,
	}, m, app.log)
	exporter.SetUploadAttempts(app.cfg.Export.UploadRetries)

	archiver := archive.NewArchiver(app.repo, exporter, app.cfg.Export.DeleteBatchSize, m, app.log)
	return archive.NewRunner(app.repo, archiver, m, app.log)
}

// archiveDate archives one explicit as-of date of one table.
func archiveDate(ctx context.Context, app *App, m *metrics.ExportMetrics, table string, asOf time.Time) error {
	configs, err := app.repo.ActiveTableConfigurations(ctx)
	if err != nil {
		return fmt.Errorf("list table configurations: %w", err)
	}
	for _, tc := range configs {
		if tc.QualifiedName() != table {
			continue
		}
		src, err := app.source(ctx, tc.SourceName)
		if err != nil {
			return err
		}
		return newArchiveRunner(app, m).RunDate(ctx, tc, src, asOf)
	}
	return fmt.Errorf("no active table configuration named %q", table)
}

// archiveSweep runs the retention sweep over every active table
// configuration, optionally restricted to one qualified table name.
// Per-table failures do not stop the sweep.
func archiveSweep(ctx context.Context, app *App, m *metrics.ExportMetrics, table string) error {
	runner := newArchiveRunner(app, m)

	configs, err := app.repo.ActiveTableConfigurations(ctx)
	if err != nil {
		return fmt.Errorf("list table configurations: %w", err)
	}

	var (
		errs *multierror.Error
		ran  int
	)
	for _, tc := range configs {
		if table != "" && tc.QualifiedName() != table {
			continue
		}
		if ctx.Err() != nil {
			errs = multierror.Append(errs, ctx.Err())
			break
		}
		ran++

		src, err := app.source(ctx, tc.SourceName)
		if err != nil {
			app.log.Errorf("skipping table", map[string]any{
				"table": tc.QualifiedName(),
				"error": err.Error(),
			})
			errs = multierror.Append(errs, err)
			continue
		}
		if err := runner.RunTable(ctx, tc, src); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	if table != "" && ran == 0 {
		return fmt.Errorf("no active table configuration named %q", table)
	}
	return errs.ErrorOrNil()
}
