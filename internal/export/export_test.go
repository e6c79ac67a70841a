package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldstore-io/coldstore/internal/metadata"
	"github.com/coldstore-io/coldstore/internal/objectstore"
	"github.com/coldstore-io/coldstore/internal/source"
)

var testAsOf = time.Date(2024, time.March, 29, 0, 0, 0, 0, time.UTC)

// tradeColumns is the column layout used by cursor-backed tests.
func tradeColumns() []*sqlmock.Column {
	return []*sqlmock.Column{
		sqlmock.NewColumn("id").OfType("BIGINT", int64(0)),
		sqlmock.NewColumn("symbol").OfType("VARCHAR", ""),
		sqlmock.NewColumn("price").OfType("DOUBLE", float64(0)).Nullable(true),
	}
}

func tradeRows(n int) *sqlmock.Rows {
	rows := sqlmock.NewRowsWithColumnDefinition(tradeColumns()...)
	for i := 0; i < n; i++ {
		rows.AddRow(int64(i), fmt.Sprintf("SYM%d", i%7), float64(i)+0.5)
	}
	return rows
}

// newCursor backs a source cursor with canned rows.
func newCursor(t *testing.T, rows *sqlmock.Rows) *source.Cursor {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectQuery("SELECT * FROM `dbo`.`trades` WHERE `as_of` = ?").
		WithArgs(testAsOf).
		WillReturnRows(rows)

	cur, err := source.New(db, source.DialectMySQL).
		Cursor(context.Background(), "dbo", "trades", "as_of", testAsOf)
	require.NoError(t, err)
	t.Cleanup(func() { cur.Close() })
	return cur
}

func parquetRowCount(t *testing.T, data []byte) int64 {
	t.Helper()
	pf, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	return pf.NumRows()
}

func TestKindOf(t *testing.T) {
	cases := map[string]ColumnKind{
		"INT":       KindInt32,
		"tinyint":   KindInt32,
		"BIGINT":    KindInt64,
		"DECIMAL":   KindDecimal,
		"NUMERIC":   KindDecimal,
		"DOUBLE":    KindFloat64,
		"FLOAT8":    KindFloat64,
		"REAL":      KindFloat32,
		"BOOLEAN":   KindBool,
		"DATETIME":  KindTimestamp,
		"TIMESTAMP": KindTimestamp,
		"VARCHAR":   KindString,
		"UUID":      KindString,
		"JSONB":     KindString,
	}
	for dbType, want := range cases {
		assert.Equal(t, want, KindOf(dbType), dbType)
	}
}

func TestInferSchema(t *testing.T) {
	schema, err := InferSchema("trades", []source.Column{
		{Name: "id", DatabaseType: "BIGINT"},
		{Name: "symbol", DatabaseType: "VARCHAR"},
		{Name: "traded_at", DatabaseType: "DATETIME"},
	})
	require.NoError(t, err)

	require.Len(t, schema.Columns, 3)
	assert.Equal(t, KindInt64, schema.Columns[0].Kind)
	assert.Equal(t, KindTimestamp, schema.Columns[2].Kind)

	// All leaves are optional so NULLs are representable.
	for _, field := range schema.Parquet.Fields() {
		assert.True(t, field.Optional(), field.Name())
	}
}

func TestInferSchemaNoColumns(t *testing.T) {
	_, err := InferSchema("trades", nil)
	assert.Error(t, err)
}

func TestConvert(t *testing.T) {
	v, err := KindInt32.convert(int64(42))
	require.NoError(t, err)
	assert.Equal(t, int32(42), v)

	v, err = KindInt64.convert([]byte("9000"))
	require.NoError(t, err)
	assert.Equal(t, int64(9000), v)

	v, err = KindBool.convert(int64(1))
	require.NoError(t, err)
	assert.Equal(t, true, v)

	ts := time.Date(2024, time.March, 29, 15, 4, 5, 0, time.UTC)
	v, err = KindTimestamp.convert(ts)
	require.NoError(t, err)
	assert.Equal(t, ts.UnixMilli(), v)

	v, err = KindTimestamp.convert([]byte("2024-03-29 15:04:05"))
	require.NoError(t, err)
	assert.Equal(t, ts.UnixMilli(), v)

	v, err = KindDecimal.convert([]byte("12345.67"))
	require.NoError(t, err)
	assert.Equal(t, "12345.67", v)

	v, err = KindString.convert(nil)
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = KindInt32.convert(struct{}{})
	assert.Error(t, err)
}

func TestPartPath(t *testing.T) {
	assert.Equal(t,
		"archive/trades/as_of=2024-03-29/part-0.parquet",
		PartPath("archive", "trades", testAsOf, 0))
	assert.Equal(t,
		"trades/as_of=2024-03-29/part-3.parquet",
		PartPath("", "trades", testAsOf, 3))
}

func TestExportPartsSplitsByMaxRows(t *testing.T) {
	cur := newCursor(t, tradeRows(120_000))

	var (
		mu    sync.Mutex
		parts = map[int][]byte{}
	)
	upload := func(ctx context.Context, part Part) error {
		data := new(bytes.Buffer)
		if _, err := data.ReadFrom(part.Stream); err != nil {
			return err
		}
		mu.Lock()
		parts[part.Index] = data.Bytes()
		mu.Unlock()
		return nil
	}

	engine := NewEngine(Options{MaxRowsPerPart: 50_000})
	stats, err := engine.ExportParts(context.Background(), "trades", cur, upload)
	require.NoError(t, err)

	require.Len(t, stats, 3)
	assert.Equal(t, []PartStat{
		{Index: 0, Rows: 50_000, SizeBytes: stats[0].SizeBytes},
		{Index: 1, Rows: 50_000, SizeBytes: stats[1].SizeBytes},
		{Index: 2, Rows: 20_000, SizeBytes: stats[2].SizeBytes},
	}, stats)

	for _, st := range stats {
		assert.Positive(t, st.SizeBytes)
		assert.Equal(t, st.Rows, parquetRowCount(t, parts[st.Index]))
	}
}

func TestExportPartsEmptySnapshot(t *testing.T) {
	cur := newCursor(t, tradeRows(0))

	var data []byte
	upload := func(ctx context.Context, part Part) error {
		buf := new(bytes.Buffer)
		if _, err := buf.ReadFrom(part.Stream); err != nil {
			return err
		}
		data = buf.Bytes()
		return nil
	}

	stats, err := NewEngine(Options{}).ExportParts(context.Background(), "trades", cur, upload)
	require.NoError(t, err)

	// An empty snapshot still materializes exactly one valid, empty part.
	require.Len(t, stats, 1)
	assert.Zero(t, stats[0].Rows)
	assert.Positive(t, stats[0].SizeBytes)
	assert.Zero(t, parquetRowCount(t, data))
}

func TestExportPartsRowGroupsConserveRows(t *testing.T) {
	cur := newCursor(t, tradeRows(100))

	var data []byte
	upload := func(ctx context.Context, part Part) error {
		buf := new(bytes.Buffer)
		if _, err := buf.ReadFrom(part.Stream); err != nil {
			return err
		}
		data = buf.Bytes()
		return nil
	}

	// A tiny row group target forces many groups within one part.
	engine := NewEngine(Options{RowGroupTargetBytes: 4096})
	stats, err := engine.ExportParts(context.Background(), "trades", cur, upload)
	require.NoError(t, err)
	require.Len(t, stats, 1)

	pf, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	assert.Greater(t, len(pf.RowGroups()), 1)

	var total int64
	for _, rg := range pf.RowGroups() {
		total += rg.NumRows()
	}
	assert.Equal(t, int64(100), total)
}

func TestExportPartsUploadErrorPropagates(t *testing.T) {
	cur := newCursor(t, tradeRows(100))

	wantErr := errors.New("storage unavailable")
	upload := func(ctx context.Context, part Part) error { return wantErr }

	engine := NewEngine(Options{MaxRowsPerPart: 10})
	_, err := engine.ExportParts(context.Background(), "trades", cur, upload)
	require.Error(t, err)
	assert.ErrorIs(t, err, wantErr)
}

func TestExportPartsBoundsUploadConcurrency(t *testing.T) {
	cur := newCursor(t, tradeRows(50))

	var inFlight, peak atomic.Int32
	upload := func(ctx context.Context, part Part) error {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return nil
	}

	engine := NewEngine(Options{MaxRowsPerPart: 5, UploadParallelism: 2})
	stats, err := engine.ExportParts(context.Background(), "trades", cur, upload)
	require.NoError(t, err)
	assert.Len(t, stats, 10)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestExportPartsCancellation(t *testing.T) {
	cur := newCursor(t, tradeRows(100))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewEngine(Options{}).ExportParts(ctx, "trades", cur, func(context.Context, Part) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func testConfig() *metadata.TableConfiguration {
	policy := int64(7)
	return &metadata.TableConfiguration{
		ID:             1,
		SourceName:     "trading",
		DatabaseName:   "prod",
		SchemaName:     "dbo",
		TableName:      "trades",
		AsOfColumn:     "as_of",
		StorageAccount: "prodarchive",
		Container:      "cold",
		PathPrefix:     "archive",
		PolicyID:       &policy,
		Active:         true,
	}
}

func newTestService(store objectstore.Store, repo metadata.Repository, opts Options) *Service {
	svc := NewService(store, repo, opts, nil, nil)
	svc.sleep = func(context.Context, time.Duration) error { return nil }
	return svc
}

func TestServiceExportRoundTrip(t *testing.T) {
	store := objectstore.NewMockStore()
	repo := metadata.NewMockRepository()
	cfg := testConfig()
	repo.AddConfig(cfg)

	svc := newTestService(store, repo, Options{MaxRowsPerPart: 3})
	cur := newCursor(t, tradeRows(7))

	result, err := svc.Export(context.Background(), cfg, cur, testAsOf, metadata.DateTypeEOD)
	require.NoError(t, err)

	assert.Equal(t, int64(7), result.TotalRows)
	require.Len(t, result.Parts, 3)
	require.Len(t, result.FileIDs, 3)
	assert.Equal(t, "archive/trades/as_of=2024-03-29/part-0.parquet", result.FirstPartPath)

	// Every part has an Active file record matching the stored blob.
	for i, id := range result.FileIDs {
		file := repo.File(id)
		require.NotNil(t, file)
		assert.Equal(t, metadata.FileStatusActive, file.Status)
		assert.Equal(t, result.Parts[i].Rows, file.RowCount)
		assert.Equal(t, result.Parts[i].SizeBytes, file.SizeBytes)
		assert.NotEmpty(t, file.ETag)

		loc := objectstore.Location{Account: "prodarchive", Container: "cold", Key: file.BlobPath}
		require.True(t, store.Contains(loc))
		assert.Equal(t, file.RowCount, parquetRowCount(t, store.Data(loc)))

		tags, err := store.GetTags(context.Background(), loc)
		require.NoError(t, err)
		assert.Equal(t, "1", tags[TagTableConfig])
		assert.Equal(t, "2024-03-29", tags[TagAsOfDate])
		assert.Equal(t, "EOD", tags[TagDateType])
		assert.Equal(t, "7", tags[TagPolicy])
		assert.NotContains(t, tags, TagExempt)
	}
}

func TestServiceTagsExemptSnapshots(t *testing.T) {
	store := objectstore.NewMockStore()
	repo := metadata.NewMockRepository()
	cfg := testConfig()
	repo.AddConfig(cfg)
	repo.SetExempt(cfg.ID, testAsOf)

	svc := newTestService(store, repo, Options{})
	cur := newCursor(t, tradeRows(2))

	result, err := svc.Export(context.Background(), cfg, cur, testAsOf, metadata.DateTypeEOM)
	require.NoError(t, err)
	require.Len(t, result.FileIDs, 1)

	loc := objectstore.Location{Account: "prodarchive", Container: "cold", Key: result.FirstPartPath}
	tags, err := store.GetTags(context.Background(), loc)
	require.NoError(t, err)
	assert.Equal(t, "true", tags[TagExempt])
	assert.Equal(t, "EOM", tags[TagDateType])
}

func TestServiceRetriesUploadWithRewind(t *testing.T) {
	store := objectstore.NewMockStore()
	store.FailUploads = 2
	repo := metadata.NewMockRepository()
	cfg := testConfig()
	repo.AddConfig(cfg)

	svc := newTestService(store, repo, Options{})
	cur := newCursor(t, tradeRows(5))

	result, err := svc.Export(context.Background(), cfg, cur, testAsOf, metadata.DateTypeEOD)
	require.NoError(t, err)

	// Two failed attempts plus the success.
	assert.Equal(t, 3, store.UploadCount())

	loc := objectstore.Location{Account: "prodarchive", Container: "cold", Key: result.FirstPartPath}
	assert.Equal(t, int64(5), parquetRowCount(t, store.Data(loc)))
}

func TestServiceRetryExhaustionFails(t *testing.T) {
	store := objectstore.NewMockStore()
	store.FailUploads = 3
	repo := metadata.NewMockRepository()
	cfg := testConfig()
	repo.AddConfig(cfg)

	svc := newTestService(store, repo, Options{})
	cur := newCursor(t, tradeRows(5))

	_, err := svc.Export(context.Background(), cfg, cur, testAsOf, metadata.DateTypeEOD)
	require.Error(t, err)
	assert.ErrorIs(t, err, objectstore.ErrAccessDenied)

	// The file record is left in Created state for reconciliation.
	files := repo.Files()
	require.Len(t, files, 1)
	assert.Equal(t, metadata.FileStatusCreated, files[0].Status)
}
