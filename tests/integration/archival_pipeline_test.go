package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldstore-io/coldstore/internal/export"
	"github.com/coldstore-io/coldstore/internal/metadata"
	"github.com/coldstore-io/coldstore/internal/objectstore"
)

// TestArchivalSweepEndToEnd runs a full retention sweep: two cold dates are
// exported to multi-part Parquet and pruned from the source, an exempt date
// is skipped, and a fresh date stays untouched.
func TestArchivalSweepEndToEnd(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	cfg := testTableConfig()
	e.seedPolicy(t, 1, 30, 55, 365)
	e.seedConfig(t, cfg)

	oldest, exempted, cold, fresh := daysAgo(60), daysAgo(50), daysAgo(45), daysAgo(5)
	e.seedRows(t, oldest, 5)
	e.seedRows(t, exempted, 4)
	e.seedRows(t, cold, 3)
	e.seedRows(t, fresh, 2)
	e.markExempt(t, cfg.ID, exempted)

	require.NoError(t, e.newRunner(2).RunTable(ctx, cfg, e.src))

	status, message := e.run(t, 1)
	assert.Equal(t, string(metadata.RunSuccess), status)
	assert.Equal(t, "dates=3 failed=0", message)

	// Five rows at two per part make three parts; three rows make two.
	wantParts := map[time.Time]struct {
		parts int
		rows  int64
	}{
		oldest: {parts: 3, rows: 5},
		cold:   {parts: 2, rows: 3},
	}
	for asOf, want := range wantParts {
		var total int64
		for i := 0; i < want.parts; i++ {
			loc := partLoc(cfg, asOf, i)
			require.True(t, e.store.Contains(loc), "missing part %s", loc)
			total += parquetRowCount(t, e.store.Data(loc))
		}
		assert.Equal(t, want.rows, total)
		assert.False(t, e.store.Contains(partLoc(cfg, asOf, want.parts)))

		tags, err := e.store.GetTags(ctx, partLoc(cfg, asOf, 0))
		require.NoError(t, err)
		assert.Equal(t, "1", tags[export.TagTableConfig])
		assert.Equal(t, asOf.Format("2006-01-02"), tags[export.TagAsOfDate])
		assert.Equal(t, "1", tags[export.TagPolicy])
	}

	// Exported dates are pruned from the source; exempt and fresh rows stay.
	assert.Equal(t, 0, e.sourceRowCount(t, &oldest))
	assert.Equal(t, 0, e.sourceRowCount(t, &cold))
	assert.Equal(t, 4, e.sourceRowCount(t, &exempted))
	assert.Equal(t, 6, e.sourceRowCount(t, nil))

	// Every part has an Active file record with real sizes and row counts.
	files, err := e.repo.FileCandidates(ctx, metadata.CandidateFilter{Account: cfg.StorageAccount})
	require.NoError(t, err)
	require.Len(t, files, 5)
	var recorded int64
	for _, f := range files {
		assert.Equal(t, metadata.FileStatusActive, f.Status)
		assert.Equal(t, string(objectstore.TierHot), f.CurrentAccessTier)
		assert.NotZero(t, f.SizeBytes)
		assert.NotEmpty(t, f.ETag)
		recorded += f.RowCount
	}
	assert.Equal(t, int64(8), recorded)

	// Audit trail, oldest date first: export+delete, the exemption skip,
	// then export+delete for the second cold date.
	details := e.details(t, 1)
	require.Len(t, details, 5)
	assert.Equal(t, []string{"Export", "Delete", "Export", "Export", "Delete"}, phases(details))
	assert.Equal(t, int64(5), details[0].Rows)
	assert.Equal(t, int64(5), details[1].Rows)
	assert.Equal(t, string(metadata.DetailSkipped), details[2].Status)
	assert.Equal(t, "Exempt", details[2].Message)
	assert.Equal(t, int64(3), details[3].Rows)
	assert.Equal(t, int64(3), details[4].Rows)
}

// TestArchivalRerunSkipsArchivedDates reruns a sweep over a date that was
// already exported but not pruned; the second run must skip instead of
// writing duplicate parts.
func TestArchivalRerunSkipsArchivedDates(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	cfg := testTableConfig()
	cfg.DeleteFromSource = false
	cfg.PolicyID = nil
	e.seedConfig(t, cfg)

	cold := daysAgo(40)
	e.seedRows(t, cold, 3)

	runner := e.newRunner(10)
	require.NoError(t, runner.RunTable(ctx, cfg, e.src))
	require.NoError(t, runner.RunTable(ctx, cfg, e.src))

	assert.Equal(t, 3, e.sourceRowCount(t, nil))
	assert.Equal(t, 1, e.store.UploadCount())

	details := e.details(t, 2)
	require.Len(t, details, 1)
	assert.Equal(t, string(metadata.DetailSkipped), details[0].Status)
	assert.Equal(t, "AlreadyArchived", details[0].Message)

	files, err := e.repo.FileCandidates(ctx, metadata.CandidateFilter{Account: cfg.StorageAccount})
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

// TestArchivalSweepNothingCold verifies a sweep over only-fresh data
// completes clean without touching storage.
func TestArchivalSweepNothingCold(t *testing.T) {
	e := newEnv(t)

	cfg := testTableConfig()
	e.seedConfig(t, cfg)
	e.seedRows(t, daysAgo(3), 4)

	require.NoError(t, e.newRunner(10).RunTable(context.Background(), cfg, e.src))

	status, message := e.run(t, 1)
	assert.Equal(t, string(metadata.RunSuccess), status)
	assert.Equal(t, "no candidate dates", message)
	assert.Zero(t, e.store.UploadCount())
	assert.Equal(t, 4, e.sourceRowCount(t, nil))
}
