package objectstore

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLoc(key string) Location {
	return Location{Account: "acct", Container: "archive", Key: key}
}

func TestParseTier(t *testing.T) {
	assert.Equal(t, TierHot, ParseTier("hot"))
	assert.Equal(t, TierHot, ParseTier("Hot"))
	assert.Equal(t, TierCool, ParseTier("COOL"))
	assert.Equal(t, TierArchive, ParseTier("Cold"))
	assert.Equal(t, TierArchive, ParseTier("archive"))
	assert.Equal(t, Tier("Premium"), ParseTier("Premium"))
}

func TestObjectErrorUnwrap(t *testing.T) {
	err := &ObjectError{Op: "Upload", Key: "a/b", Err: ErrAccessDenied}
	assert.True(t, errors.Is(err, ErrAccessDenied))
	assert.Contains(t, err.Error(), "Upload")
	assert.Contains(t, err.Error(), "a/b")
}

func TestMockUploadAndProperties(t *testing.T) {
	store := NewMockStore()
	loc := testLoc("trades/as_of=2024-01-31/part-0.parquet")

	info, err := store.Upload(context.Background(), loc, "application/octet-stream",
		func(ctx context.Context, w io.Writer) error {
			_, err := w.Write([]byte("parquet bytes"))
			return err
		},
		map[string]string{"table": "trades"},
	)
	require.NoError(t, err)
	assert.Equal(t, int64(13), info.Size)
	assert.Equal(t, TierHot, info.AccessTier)

	got, err := store.GetProperties(context.Background(), loc)
	require.NoError(t, err)
	assert.Equal(t, info.Size, got.Size)
	assert.Equal(t, "application/octet-stream", got.ContentType)

	tags, err := store.GetTags(context.Background(), loc)
	require.NoError(t, err)
	assert.Equal(t, "trades", tags["table"])
	assert.Equal(t, []byte("parquet bytes"), store.Data(loc))
}

func TestMockUploadWriterError(t *testing.T) {
	store := NewMockStore()
	boom := errors.New("row read failed")

	_, err := store.Upload(context.Background(), testLoc("k"), "application/octet-stream",
		func(ctx context.Context, w io.Writer) error { return boom }, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.False(t, store.Contains(testLoc("k")))
}

func TestMockFailUploads(t *testing.T) {
	store := NewMockStore()
	store.FailUploads = 2
	write := func(ctx context.Context, w io.Writer) error {
		_, err := w.Write([]byte("x"))
		return err
	}

	_, err := store.Upload(context.Background(), testLoc("k"), "", write, nil)
	assert.Error(t, err)
	_, err = store.Upload(context.Background(), testLoc("k"), "", write, nil)
	assert.Error(t, err)
	_, err = store.Upload(context.Background(), testLoc("k"), "", write, nil)
	assert.NoError(t, err)
	assert.Equal(t, 3, store.UploadCount())
}

func TestMockSetAccessTier(t *testing.T) {
	store := NewMockStore()
	loc := testLoc("k")
	write := func(ctx context.Context, w io.Writer) error {
		_, err := w.Write([]byte("x"))
		return err
	}
	_, err := store.Upload(context.Background(), loc, "", write, nil)
	require.NoError(t, err)

	require.NoError(t, store.SetAccessTier(context.Background(), loc, TierCool))
	assert.Equal(t, TierCool, store.TierOf(loc))

	store.UnsupportedTiers[TierArchive] = true
	err = store.SetAccessTier(context.Background(), loc, TierArchive)
	assert.True(t, errors.Is(err, ErrTierNotSupported))
	// The tier must not change on a rejected transition.
	assert.Equal(t, TierCool, store.TierOf(loc))

	err = store.SetAccessTier(context.Background(), testLoc("missing"), TierCool)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMockDeleteIfExists(t *testing.T) {
	store := NewMockStore()
	loc := testLoc("k")
	write := func(ctx context.Context, w io.Writer) error {
		_, err := w.Write([]byte("x"))
		return err
	}
	_, err := store.Upload(context.Background(), loc, "", write, nil)
	require.NoError(t, err)

	require.NoError(t, store.DeleteIfExists(context.Background(), loc, true))
	assert.False(t, store.Contains(loc))

	// Deleting again is not an error.
	require.NoError(t, store.DeleteIfExists(context.Background(), loc, true))
	assert.Equal(t, 2, store.DeleteCount())
}

func TestMockGetTagsMissingBlob(t *testing.T) {
	store := NewMockStore()
	tags, err := store.GetTags(context.Background(), testLoc("missing"))
	require.NoError(t, err)
	assert.Empty(t, tags)
}

func TestMockList(t *testing.T) {
	store := NewMockStore()
	write := func(ctx context.Context, w io.Writer) error {
		_, err := w.Write([]byte("x"))
		return err
	}
	for _, key := range []string{
		"trades/as_of=2024-01-31/part-0.parquet",
		"trades/as_of=2024-01-31/part-1.parquet",
		"orders/as_of=2024-01-31/part-0.parquet",
	} {
		_, err := store.Upload(context.Background(), testLoc(key), "", write, nil)
		require.NoError(t, err)
	}

	infos, err := store.List(context.Background(), "acct", "archive", "trades/")
	require.NoError(t, err)
	assert.Len(t, infos, 2)
	for _, info := range infos {
		assert.Equal(t, "acct", info.Account)
		assert.Equal(t, "archive", info.Container)
	}
}

type recorderStub struct {
	uploads int
	tiers   int
	deletes int
	lists   int
	lastOK  bool
}

func (r *recorderStub) RecordUpload(d float64, ok bool, bytes int64) { r.uploads++; r.lastOK = ok }
func (r *recorderStub) RecordSetTier(d float64, ok bool, tier string) {
	r.tiers++
	r.lastOK = ok
}
func (r *recorderStub) RecordDelete(d float64, ok bool) { r.deletes++; r.lastOK = ok }
func (r *recorderStub) RecordList(d float64, ok bool)   { r.lists++; r.lastOK = ok }

func TestInstrumentedStore(t *testing.T) {
	mock := NewMockStore()
	rec := &recorderStub{}
	store := NewInstrumentedStore(mock, rec)
	loc := testLoc("k")
	write := func(ctx context.Context, w io.Writer) error {
		_, err := w.Write([]byte("x"))
		return err
	}

	_, err := store.Upload(context.Background(), loc, "", write, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.uploads)
	assert.True(t, rec.lastOK)

	require.NoError(t, store.SetAccessTier(context.Background(), loc, TierCool))
	assert.Equal(t, 1, rec.tiers)

	_, err = store.List(context.Background(), "acct", "archive", "")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.lists)

	require.NoError(t, store.DeleteIfExists(context.Background(), loc, false))
	assert.Equal(t, 1, rec.deletes)

	mock.UnsupportedTiers[TierArchive] = true
	err = store.SetAccessTier(context.Background(), loc, TierArchive)
	assert.Error(t, err)
	assert.False(t, rec.lastOK)
}
