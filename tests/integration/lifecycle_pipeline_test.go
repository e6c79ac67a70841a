package integration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldstore-io/coldstore/internal/lifecycle"
	"github.com/coldstore-io/coldstore/internal/metadata"
	"github.com/coldstore-io/coldstore/internal/objectstore"
)

// TestLifecycleEnforcementEndToEnd archives two cold dates, plants one file
// past the delete threshold, and runs a full enforcement pass: the oldest
// exported parts move to Archive, the younger ones to Cool, and the expired
// file's blob and record are deleted.
func TestLifecycleEnforcementEndToEnd(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	cfg := testTableConfig()
	e.seedPolicy(t, 1, 30, 55, 365)
	e.seedConfig(t, cfg)

	agedOut, archivable, coolable := daysAgo(400), daysAgo(60), daysAgo(45)
	e.seedRows(t, archivable, 5)
	e.seedRows(t, coolable, 3)
	require.NoError(t, e.newRunner(2).RunTable(ctx, cfg, e.src))

	expiredID := e.seedArchivedFile(t, cfg, agedOut)

	enforcer := lifecycle.NewEnforcer(e.repo, e.store, lifecycle.Options{Workers: 4}, nil, nil)
	executor := lifecycle.NewExecutor(e.repo, enforcer, 2, nil)
	res, err := executor.Run(ctx, nil)
	require.NoError(t, err)

	assert.Equal(t, 6, res.Checked)
	assert.Equal(t, 3, res.Archived)
	assert.Equal(t, 2, res.Cooled)
	assert.Equal(t, 1, res.Deleted)
	assert.Zero(t, res.Failed)

	for i := 0; i < 3; i++ {
		assert.Equal(t, objectstore.TierArchive, e.store.TierOf(partLoc(cfg, archivable, i)))
	}
	for i := 0; i < 2; i++ {
		assert.Equal(t, objectstore.TierCool, e.store.TierOf(partLoc(cfg, coolable, i)))
	}
	assert.False(t, e.store.Contains(partLoc(cfg, agedOut, 0)))

	// Metadata reflects the achieved tiers; the deleted record drops out of
	// the candidate set.
	files, err := e.repo.FileCandidates(ctx, metadata.CandidateFilter{Account: cfg.StorageAccount})
	require.NoError(t, err)
	require.Len(t, files, 5)
	for _, f := range files {
		require.NotNil(t, f.LastTierCheckAt)
		assert.NotEqual(t, expiredID, f.ID)
		if f.AsOfDate.Equal(archivable) {
			assert.Equal(t, string(objectstore.TierArchive), f.CurrentAccessTier)
		} else {
			assert.Equal(t, string(objectstore.TierCool), f.CurrentAccessTier)
		}
	}

	// The enforcement run recorded one detail per action.
	byMessage := map[string]int{}
	for _, d := range e.details(t, 2) {
		byMessage[d.Message]++
	}
	assert.Equal(t, 3, byMessage["SetTier=Archive"])
	assert.Equal(t, 2, byMessage["SetTier=Cool"])
	assert.Equal(t, 1, byMessage["Deleted"])

	// A second pass inside the check interval finds nothing due.
	res, err = executor.Run(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, res.Checked)
}

// TestLifecycleArchiveFallbackEndToEnd runs enforcement against a store
// that rejects the Archive tier; files settle on Cool instead.
func TestLifecycleArchiveFallbackEndToEnd(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	cfg := testTableConfig()
	e.seedPolicy(t, 1, 30, 55, 365)
	e.seedConfig(t, cfg)
	cold := daysAgo(60)
	e.seedRows(t, cold, 2)
	require.NoError(t, e.newRunner(10).RunTable(ctx, cfg, e.src))

	e.store.UnsupportedTiers[objectstore.TierArchive] = true

	enforcer := lifecycle.NewEnforcer(e.repo, e.store, lifecycle.Options{}, nil, nil)
	res, err := lifecycle.NewExecutor(e.repo, enforcer, 1, nil).Run(ctx, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Checked)
	assert.Equal(t, 1, res.Cooled)
	assert.Zero(t, res.Archived)
	assert.Equal(t, objectstore.TierCool, e.store.TierOf(partLoc(cfg, cold, 0)))

	details := e.details(t, 2)
	require.Len(t, details, 1)
	assert.Equal(t, "SetTier=Cool(ArchiveNotSupported)", details[0].Message)
}

// TestLifecycleDryRunEndToEnd verifies a dry-run pass records decisions but
// leaves blobs and file records untouched.
func TestLifecycleDryRunEndToEnd(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	cfg := testTableConfig()
	e.seedPolicy(t, 1, 30, 55, 365)
	e.seedConfig(t, cfg)
	cold := daysAgo(60)
	e.seedRows(t, cold, 2)
	require.NoError(t, e.newRunner(10).RunTable(ctx, cfg, e.src))

	enforcer := lifecycle.NewEnforcer(e.repo, e.store, lifecycle.Options{DryRun: true}, nil, nil)
	res, err := lifecycle.NewExecutor(e.repo, enforcer, 1, nil).Run(ctx, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Checked)
	assert.Equal(t, 1, res.Skipped)
	assert.Zero(t, e.store.TierCallCount())
	assert.Equal(t, objectstore.TierHot, e.store.TierOf(partLoc(cfg, cold, 0)))

	details := e.details(t, 2)
	require.Len(t, details, 1)
	assert.Equal(t, string(metadata.DetailSkipped), details[0].Status)
	assert.Equal(t, "DryRun:Archive", details[0].Message)

	files, err := e.repo.FileCandidates(ctx, metadata.CandidateFilter{Account: cfg.StorageAccount})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Nil(t, files[0].LastTierCheckAt)
	assert.Equal(t, string(objectstore.TierHot), files[0].CurrentAccessTier)
}
