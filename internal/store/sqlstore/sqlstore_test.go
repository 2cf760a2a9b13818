package sqlstore

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/arvensis/blobtransfer/internal/store"
	"github.com/arvensis/blobtransfer/internal/transfermodel"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestInsertFetchRootBlobs(t *testing.T) {
	s := newTestStore(t)

	b := &transfermodel.BlobTransfer{
		ID:          uuid.NewString(),
		Direction:   transfermodel.Upload,
		Source:      "/tmp/a.bin",
		Destination: "https://example/blob/a",
		State:       transfermodel.StatePending,
	}
	require.NoError(t, s.InsertBlob(b))

	roots, err := s.FetchRootBlobs()
	require.NoError(t, err)
	require.Len(t, roots, 1)
	require.Equal(t, b.ID, roots[0].ID)
}

func TestUpdateBlobMergesFields(t *testing.T) {
	s := newTestStore(t)
	b := &transfermodel.BlobTransfer{
		ID:     uuid.NewString(),
		State:  transfermodel.StatePending,
		Source: "/tmp/b.bin",
	}
	require.NoError(t, s.InsertBlob(b))

	require.NoError(t, s.UpdateBlob(&transfermodel.BlobTransfer{ID: b.ID, State: transfermodel.StateInProgress}))

	got, err := s.FetchBlob(b.ID)
	require.NoError(t, err)
	require.Equal(t, transfermodel.StateInProgress, got.State)
	require.Equal(t, "/tmp/b.bin", got.Source, "unset fields on the update must not clobber persisted values")
}

func TestDeleteBlobCascadesBlocks(t *testing.T) {
	s := newTestStore(t)
	b := &transfermodel.BlobTransfer{ID: uuid.NewString(), State: transfermodel.StatePending}
	require.NoError(t, s.InsertBlob(b))

	for i := 0; i < 3; i++ {
		blk := &transfermodel.BlockTransfer{
			ID:       uuid.NewString(),
			ParentID: b.ID,
			State:    transfermodel.StatePending,
		}
		require.NoError(t, s.InsertBlock(blk))
	}

	children, err := s.FetchBlocksByParent(b.ID)
	require.NoError(t, err)
	require.Len(t, children, 3)

	require.NoError(t, s.DeleteBlob(b.ID))

	_, err = s.FetchBlob(b.ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	children, err = s.FetchBlocksByParent(b.ID)
	require.NoError(t, err)
	require.Empty(t, children)
}

func TestMultiBlobTransferRoundTrip(t *testing.T) {
	s := newTestStore(t)
	m := &transfermodel.MultiBlobTransfer{
		ID:         uuid.NewString(),
		SourceRoot: "/data/batch",
		BlobIDs:    []string{"a", "b", "c"},
		TotalBlobs: 3,
	}
	require.NoError(t, s.InsertMultiBlob(m))

	require.NoError(t, s.UpdateMultiBlob(&transfermodel.MultiBlobTransfer{ID: m.ID, CompletedBlobs: 2}))

	got, err := s.FetchMultiBlob(m.ID)
	require.NoError(t, err)
	require.Equal(t, 2, got.CompletedBlobs)
	require.Equal(t, []string{"a", "b", "c"}, got.BlobIDs)
	require.Equal(t, transfermodel.StateInProgress, got.RecordState())
}
