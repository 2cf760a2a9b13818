package badgerstore

import (
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/arvensis/blobtransfer/internal/store"
	"github.com/arvensis/blobtransfer/internal/transfermodel"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir, err := os.MkdirTemp("", "badgerstore-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	s, err := Open(dir, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestInsertFetchBlob(t *testing.T) {
	s := newTestStore(t)
	b := &transfermodel.BlobTransfer{
		ID:     uuid.NewString(),
		Source: "/tmp/a.bin",
		State:  transfermodel.StatePending,
	}
	require.NoError(t, s.InsertBlob(b))

	got, err := s.FetchBlob(b.ID)
	require.NoError(t, err)
	require.Equal(t, b.Source, got.Source)
	require.False(t, got.CreatedAt.IsZero())
}

func TestFetchMissingBlobReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.FetchBlob(uuid.NewString())
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdateBlobMergeLastWriterWinsPerField(t *testing.T) {
	s := newTestStore(t)
	b := &transfermodel.BlobTransfer{ID: uuid.NewString(), Source: "/tmp/x", State: transfermodel.StatePending}
	require.NoError(t, s.InsertBlob(b))

	require.NoError(t, s.UpdateBlob(&transfermodel.BlobTransfer{ID: b.ID, State: transfermodel.StateInProgress}))

	got, err := s.FetchBlob(b.ID)
	require.NoError(t, err)
	require.Equal(t, transfermodel.StateInProgress, got.State)
	require.Equal(t, "/tmp/x", got.Source)
}

func TestDeleteBlobCascadesBlocks(t *testing.T) {
	s := newTestStore(t)
	b := &transfermodel.BlobTransfer{ID: uuid.NewString(), State: transfermodel.StatePending}
	require.NoError(t, s.InsertBlob(b))

	blk := &transfermodel.BlockTransfer{ID: uuid.NewString(), ParentID: b.ID, State: transfermodel.StatePending}
	require.NoError(t, s.InsertBlock(blk))

	require.NoError(t, s.DeleteBlob(b.ID))

	children, err := s.FetchBlocksByParent(b.ID)
	require.NoError(t, err)
	require.Empty(t, children)
}

func TestRecordLargerThanCompressionThresholdRoundTrips(t *testing.T) {
	s := newTestStore(t)
	b := &transfermodel.BlobTransfer{
		ID:          uuid.NewString(),
		Source:      "/tmp/" + string(make([]byte, 512)),
		Destination: "https://example.test/" + string(make([]byte, 512)),
		State:       transfermodel.StatePending,
	}
	require.NoError(t, s.InsertBlob(b))

	got, err := s.FetchBlob(b.ID)
	require.NoError(t, err)
	require.Equal(t, b.Destination, got.Destination)
}

func TestSealedRecordRoundTrips(t *testing.T) {
	dir, err := os.MkdirTemp("", "badgerstore-sealed-*")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	s, err := Open(dir, fakeSealer{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	b := &transfermodel.BlobTransfer{ID: uuid.NewString(), Source: "secret", State: transfermodel.StatePending}
	require.NoError(t, s.InsertBlob(b))

	got, err := s.FetchBlob(b.ID)
	require.NoError(t, err)
	require.Equal(t, "secret", got.Source)
}

// fakeSealer xors with a fixed byte so tests don't pay scrypt's cost.
type fakeSealer struct{}

func (fakeSealer) Seal(p []byte) ([]byte, error) {
	out := make([]byte, len(p))
	for i, b := range p {
		out[i] = b ^ 0x42
	}
	return out, nil
}

func (fakeSealer) Open(c []byte) ([]byte, error) {
	out := make([]byte, len(c))
	for i, b := range c {
		out[i] = b ^ 0x42
	}
	return out, nil
}
