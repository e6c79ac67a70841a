package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"

	// Database drivers for metadata and source connections.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/coldstore-io/coldstore/internal/config"
	"github.com/coldstore-io/coldstore/internal/logging"
	"github.com/coldstore-io/coldstore/internal/metadata"
	metasql "github.com/coldstore-io/coldstore/internal/metadata/sql"
	"github.com/coldstore-io/coldstore/internal/metrics"
	"github.com/coldstore-io/coldstore/internal/objectstore"
	"github.com/coldstore-io/coldstore/internal/objectstore/azure"
	"github.com/coldstore-io/coldstore/internal/objectstore/s3"
	"github.com/coldstore-io/coldstore/internal/source"
)

// App holds the shared wiring of every subcommand: config, logger,
// metadata repository, object store, and lazily opened source databases.
type App struct {
	cfg   *config.Config
	log   *logging.Logger
	repo  metadata.Repository
	store objectstore.Store

	metaDB *sql.DB

	mu      sync.Mutex
	sources map[string]*sourceHandle
}

type sourceHandle struct {
	src *source.Source
	db  *sql.DB
}

// loadConfig loads configuration from the -config flag path or the
// environment.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}

// newApp wires the shared components. The object store is wrapped with
// prometheus instrumentation.
func newApp(ctx context.Context, cfg *config.Config) (*App, error) {
	log := logging.Configure(cfg.Observability.LogLevel, cfg.Observability.LogFormat)

	repo, metaDB, err := metasql.Open(ctx, cfg.Metadata.Driver, cfg.Metadata.DSN)
	if err != nil {
		return nil, fmt.Errorf("open metadata database: %w", err)
	}

	var store objectstore.Store
	switch cfg.ObjectStore.Backend {
	case "azure":
		store, err = azure.New(azure.Config{
			ConnectionStrings: cfg.ObjectStore.Azure.ConnectionStrings,
		})
	case "s3":
		store, err = s3.New(ctx, s3.Config{
			Bucket:          cfg.ObjectStore.S3.Bucket,
			Region:          cfg.ObjectStore.S3.Region,
			Endpoint:        cfg.ObjectStore.S3.Endpoint,
			AccessKeyID:     cfg.ObjectStore.S3.AccessKey,
			SecretAccessKey: cfg.ObjectStore.S3.SecretKey,
			UsePathStyle:    cfg.ObjectStore.S3.UsePathStyle,
		})
	default:
		err = fmt.Errorf("unknown object store backend %q", cfg.ObjectStore.Backend)
	}
	if err != nil {
		metaDB.Close()
		return nil, fmt.Errorf("open object store: %w", err)
	}

	return &App{
		cfg:     cfg,
		log:     log,
		repo:    repo,
		store:   objectstore.NewInstrumentedStore(store, metrics.NewObjectStoreMetrics()),
		metaDB:  metaDB,
		sources: make(map[string]*sourceHandle),
	}, nil
}

// source returns the named source database, opening it on first use.
func (a *App) source(ctx context.Context, name string) (*source.Source, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if h, ok := a.sources[name]; ok {
		return h.src, nil
	}

	sc, ok := a.cfg.SourceByName(name)
	if !ok {
		return nil, fmt.Errorf("source %q is not configured", name)
	}
	src, db, err := source.Open(ctx, sc.Driver, sc.DSN)
	if err != nil {
		return nil, fmt.Errorf("open source %q: %w", name, err)
	}
	a.sources[name] = &sourceHandle{src: src, db: db}
	return src, nil
}

// Close releases all database handles and the object store.
func (a *App) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for name, h := range a.sources {
		if err := h.db.Close(); err != nil {
			a.log.Warnf("failed to close source", map[string]any{"source": name, "error": err.Error()})
		}
	}
	if err := a.metaDB.Close(); err != nil {
		a.log.Warnf("failed to close metadata database", map[string]any{"error": err.Error()})
	}
	if err := a.store.Close(); err != nil {
		a.log.Warnf("failed to close object store", map[string]any{"error": err.Error()})
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
