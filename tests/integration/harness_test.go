// Package integration exercises the archival pipeline end to end: a real
// SQLite source database, the SQL metadata repository, the Parquet export
// engine, and the in-memory object store wired together the way the daemon
// wires them.
package integration

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/coldstore-io/coldstore/internal/archive"
	"github.com/coldstore-io/coldstore/internal/export"
	"github.com/coldstore-io/coldstore/internal/metadata"
	metasql "github.com/coldstore-io/coldstore/internal/metadata/sql"
	"github.com/coldstore-io/coldstore/internal/objectstore"
	"github.com/coldstore-io/coldstore/internal/source"
)

// env wires a complete single-node deployment against in-memory databases
// and an in-memory object store.
type env struct {
	repo   *metasql.Repository
	metaDB *sql.DB
	store  *objectstore.MockStore
	src    *source.Source
	srcDB  *sql.DB

	nextID int64
}

func newEnv(t *testing.T) *env {
	t.Helper()

	open := func() *sql.DB {
		db, err := sql.Open("sqlite", ":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
		// In-memory SQLite requires a single connection or each new conn
		// sees a fresh empty database.
		db.SetMaxOpenConns(1)
		return db
	}

	metaDB := open()
	require.NoError(t, metasql.EnsureSchema(context.Background(), metaDB))

	srcDB := open()
	_, err := srcDB.Exec(`CREATE TABLE positions (
		id BIGINT PRIMARY KEY,
		account TEXT,
		quantity DOUBLE,
		as_of TEXT
	)`)
	require.NoError(t, err)

	return &env{
		repo:   metasql.New(metaDB),
		metaDB: metaDB,
		store:  objectstore.NewMockStore(),
		src:    source.New(srcDB, source.DialectSQLite),
		srcDB:  srcDB,
		nextID: 1,
	}
}

// testTableConfig is the configuration under test: the source table lives
// in SQLite's built-in "main" schema.
func testTableConfig() *metadata.TableConfiguration {
	pid := int64(1)
	return &metadata.TableConfiguration{
		ID:               1,
		SourceName:       "marketdata",
		DatabaseName:     "md",
		SchemaName:       "main",
		TableName:        "positions",
		AsOfColumn:       "as_of",
		StorageAccount:   "prodarchive",
		Container:        "cold",
		PathPrefix:       "archives",
		DeleteFromSource: true,
		RetainDays:       30,
		PolicyID:         &pid,
		Active:           true,
	}
}

func (e *env) seedConfig(t *testing.T, cfg *metadata.TableConfiguration) {
	t.Helper()
	var pid any
	if cfg.PolicyID != nil {
		pid = *cfg.PolicyID
	}
	_, err := e.metaDB.Exec(`
		INSERT INTO archival_table_configuration (
			id, source_name, database_name, schema_name, table_name, as_of_column,
			storage_account, container, path_prefix,
			delete_from_source, retain_days, policy_id, active
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cfg.ID, cfg.SourceName, cfg.DatabaseName, cfg.SchemaName, cfg.TableName, cfg.AsOfColumn,
		cfg.StorageAccount, cfg.Container, cfg.PathPrefix,
		cfg.DeleteFromSource, cfg.RetainDays, pid, cfg.Active,
	)
	require.NoError(t, err)
}

// seedPolicy installs one policy with identical thresholds for every date
// type, so tests are insensitive to how relative dates classify.
func (e *env) seedPolicy(t *testing.T, id int64, coolDays, archiveDays, deleteDays int) {
	t.Helper()
	_, err := e.metaDB.Exec(`
		INSERT INTO archival_lifecycle_policy (
			id, name,
			eod_cool_days, eod_archive_days, eod_delete_days,
			eom_cool_days, eom_archive_days, eom_delete_days,
			eoq_cool_days, eoq_archive_days, eoq_delete_days,
			eoy_cool_days, eoy_archive_days, eoy_delete_days,
			external_cool_days, external_archive_days, external_delete_days
		) VALUES (?, 'standard', ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		coolDays, archiveDays, deleteDays,
		coolDays, archiveDays, deleteDays,
		coolDays, archiveDays, deleteDays,
		coolDays, archiveDays, deleteDays,
		coolDays, archiveDays, deleteDays,
	)
	require.NoError(t, err)
}

func (e *env) seedRows(t *testing.T, asOf time.Time, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := e.srcDB.Exec(
			"INSERT INTO positions (id, account, quantity, as_of) VALUES (?, ?, ?, ?)",
			e.nextID, fmt.Sprintf("acct-%03d", e.nextID%7), float64(e.nextID)*1.5, metadata.DateOf(asOf),
		)
		require.NoError(t, err)
		e.nextID++
	}
}

func (e *env) markExempt(t *testing.T, tableConfigID int64, asOf time.Time) {
	t.Helper()
	_, err := e.metaDB.Exec(
		"INSERT INTO archival_exemption (table_configuration_id, as_of_date) VALUES (?, ?)",
		tableConfigID, metadata.DateOf(asOf).Format("2006-01-02"),
	)
	require.NoError(t, err)
}

// seedArchivedFile plants an already-archived blob plus its Active file
// record, as if an earlier sweep had exported it.
func (e *env) seedArchivedFile(t *testing.T, cfg *metadata.TableConfiguration, asOf time.Time) int64 {
	t.Helper()
	ctx := context.Background()

	loc := partLoc(cfg, asOf, 0)
	payload := []byte("aged-part-bytes")
	_, err := e.store.Upload(ctx, loc, "application/vnd.apache.parquet",
		func(ctx context.Context, w io.Writer) error {
			_, err := w.Write(payload)
			return err
		}, nil)
	require.NoError(t, err)

	file := &metadata.ArchivalFile{
		TableConfigurationID: cfg.ID,
		AsOfDate:             metadata.DateOf(asOf),
		DateType:             metadata.ClassifyDate(asOf),
		StorageAccount:       cfg.StorageAccount,
		Container:            cfg.Container,
		BlobPath:             loc.Key,
		ETag:                 "seed-etag",
		SizeBytes:            int64(len(payload)),
		RowCount:             1,
		Status:               metadata.FileStatusActive,
		CurrentAccessTier:    string(objectstore.TierHot),
	}
	require.NoError(t, e.repo.CreateFile(ctx, file))
	return file.ID
}

// newRunner builds the archival stack with a small part size so multi-part
// exports happen on tiny fixtures.
func (e *env) newRunner(maxRowsPerPart int64) *archive.Runner {
	exporter := export.NewService(e.store, e.repo, export.Options{MaxRowsPerPart: maxRowsPerPart}, nil, nil)
	archiver := archive.NewArchiver(e.repo, exporter, 3, nil, nil)
	return archive.NewRunner(e.repo, archiver, nil, nil)
}

func (e *env) sourceRowCount(t *testing.T, asOf *time.Time) int {
	t.Helper()
	var n int
	if asOf == nil {
		require.NoError(t, e.srcDB.QueryRow("SELECT COUNT(*) FROM positions").Scan(&n))
		return n
	}
	require.NoError(t, e.srcDB.QueryRow(
		"SELECT COUNT(*) FROM positions WHERE as_of = ?", metadata.DateOf(*asOf)).Scan(&n))
	return n
}

func (e *env) run(t *testing.T, id int64) (status, message string) {
	t.Helper()
	require.NoError(t, e.metaDB.QueryRow(
		"SELECT status, message FROM archival_run WHERE id = ?", id).Scan(&status, &message))
	return status, message
}

type detailRow struct {
	AsOf    string
	Phase   string
	Status  string
	Rows    int64
	Message string
	Path    string
}

func (e *env) details(t *testing.T, runID int64) []detailRow {
	t.Helper()
	rows, err := e.metaDB.Query(`
		SELECT as_of_date, phase, status, rows_affected, message, file_path
		FROM archival_run_detail WHERE run_id = ? ORDER BY id`, runID)
	require.NoError(t, err)
	defer rows.Close()

	var out []detailRow
	for rows.Next() {
		var d detailRow
		require.NoError(t, rows.Scan(&d.AsOf, &d.Phase, &d.Status, &d.Rows, &d.Message, &d.Path))
		out = append(out, d)
	}
	require.NoError(t, rows.Err())
	return out
}

func phases(details []detailRow) []string {
	out := make([]string, len(details))
	for i, d := range details {
		out[i] = d.Phase
	}
	return out
}

func partLoc(cfg *metadata.TableConfiguration, asOf time.Time, index int) objectstore.Location {
	return objectstore.Location{
		Account:   cfg.StorageAccount,
		Container: cfg.Container,
		Key:       export.PartPath(cfg.PathPrefix, cfg.TableName, asOf, index),
	}
}

func parquetRowCount(t *testing.T, data []byte) int64 {
	t.Helper()
	f, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	return f.NumRows()
}

func daysAgo(n int) time.Time {
	return metadata.DateOf(time.Now().UTC().AddDate(0, 0, -n))
}
