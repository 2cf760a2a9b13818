package protocol

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arvensis/blobtransfer/internal/store"
	"github.com/arvensis/blobtransfer/internal/transfermodel"
	"github.com/arvensis/blobtransfer/internal/transport"
)

// fakeStore is a minimal store.Store double covering only what
// operations.go touches, to keep these tests independent of a real
// backend.
type fakeStore struct {
	blobs  map[string]*transfermodel.BlobTransfer
	blocks map[string]*transfermodel.BlockTransfer
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		blobs:  make(map[string]*transfermodel.BlobTransfer),
		blocks: make(map[string]*transfermodel.BlockTransfer),
	}
}

func (s *fakeStore) InsertBlob(b *transfermodel.BlobTransfer) error { s.blobs[b.ID] = b; return nil }
func (s *fakeStore) UpdateBlob(b *transfermodel.BlobTransfer) error { s.blobs[b.ID] = b; return nil }
func (s *fakeStore) DeleteBlob(id string) error                     { delete(s.blobs, id); return nil }
func (s *fakeStore) FetchBlob(id string) (*transfermodel.BlobTransfer, error) {
	b, ok := s.blobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return b, nil
}
func (s *fakeStore) FetchRootBlobs() ([]*transfermodel.BlobTransfer, error) { return nil, nil }

func (s *fakeStore) InsertBlock(b *transfermodel.BlockTransfer) error {
	s.blocks[b.ID] = b
	return nil
}
func (s *fakeStore) UpdateBlock(b *transfermodel.BlockTransfer) error {
	s.blocks[b.ID] = b
	return nil
}
func (s *fakeStore) DeleteBlock(id string) error { delete(s.blocks, id); return nil }
func (s *fakeStore) FetchBlocksByParent(parentID string) ([]*transfermodel.BlockTransfer, error) {
	var out []*transfermodel.BlockTransfer
	for _, b := range s.blocks {
		if b.ParentID == parentID {
			out = append(out, b)
		}
	}
	return out, nil
}
func (s *fakeStore) FetchRootBlocks() ([]*transfermodel.BlockTransfer, error) { return nil, nil }

func (s *fakeStore) InsertMultiBlob(m *transfermodel.MultiBlobTransfer) error { return nil }
func (s *fakeStore) UpdateMultiBlob(m *transfermodel.MultiBlobTransfer) error { return nil }
func (s *fakeStore) FetchMultiBlob(id string) (*transfermodel.MultiBlobTransfer, error) {
	return nil, store.ErrNotFound
}
func (s *fakeStore) FetchRootMultiBlobs() ([]*transfermodel.MultiBlobTransfer, error) {
	return nil, nil
}
func (s *fakeStore) Save() error  { return nil }
func (s *fakeStore) Close() error { return nil }

var _ store.Store = (*fakeStore)(nil)

// fakeTransport is a minimal transport.Client double.
type fakeTransport struct {
	probeResult   transport.ProbeResult
	probeErr      error
	rangeContent  []byte
	putBlocks     map[string][]byte
	committed     []string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{putBlocks: make(map[string][]byte)}
}

func (f *fakeTransport) Probe(ctx context.Context, source string) (transport.ProbeResult, error) {
	return f.probeResult, f.probeErr
}

func (f *fakeTransport) DownloadRange(ctx context.Context, source string, start, end int64) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.rangeContent[start:end])), nil
}

func (f *fakeTransport) BeginUpload(ctx context.Context, destination, contentType string, totalSize int64, blockCount int) error {
	return nil
}

func (f *fakeTransport) PutBlock(ctx context.Context, destination, blockID string, data io.Reader, size int64) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.putBlocks[blockID] = b
	return nil
}

func (f *fakeTransport) CommitBlockList(ctx context.Context, destination string, blockIDsInOrder []string) error {
	f.committed = blockIDsInOrder
	return nil
}

var _ transport.Client = (*fakeTransport)(nil)

// memoryFile backs both io.WriterAt and io.ReaderAt for tests without
// touching the filesystem.
type memoryFile struct {
	buf []byte
}

func (m *memoryFile) WriteAt(p []byte, off int64) (int, error) {
	end := off + int64(len(p))
	if end > int64(len(m.buf)) {
		grown := make([]byte, end)
		copy(grown, m.buf)
		m.buf = grown
	}
	copy(m.buf[off:end], p)
	return len(p), nil
}

func (m *memoryFile) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m.buf)) {
		return 0, io.EOF
	}
	n := copy(p, m.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func TestDownloadInitialOperationProbesAndDeletesProbeBlock(t *testing.T) {
	s := newFakeStore()
	blob := &transfermodel.BlobTransfer{ID: "b1", Direction: transfermodel.Download, Source: "http://x/y"}
	probe := &transfermodel.BlockTransfer{ID: "b1:probe", ParentID: blob.ID}
	s.blobs[blob.ID] = blob
	s.blocks[probe.ID] = probe

	tr := newFakeTransport()
	tr.probeResult = transport.ProbeResult{TotalSize: 100, ContentType: "text/plain"}

	var probedSize int64
	op := &DownloadInitialOperation{
		Blob: blob, ProbeBlock: probe, Transport: tr, Store: s,
		OnProbed: func(size int64, contentType string) { probedSize = size },
	}
	require.NoError(t, op.Run(context.Background()))

	require.EqualValues(t, 100, probedSize)
	require.True(t, blob.InitialCallComplete)
	require.Equal(t, "text/plain", blob.Properties.ContentType)
	_, stillThere := s.blocks[probe.ID]
	require.False(t, stillThere, "probe block must be deleted once probing completes")
}

func TestBlockOperationDownloadWritesAtOffset(t *testing.T) {
	s := newFakeStore()
	blob := &transfermodel.BlobTransfer{ID: "b1", Direction: transfermodel.Download, Source: "http://x/y"}
	block := &transfermodel.BlockTransfer{ID: "blk-1", ParentID: blob.ID, StartRange: 10, EndRange: 15}

	tr := newFakeTransport()
	tr.rangeContent = []byte("0123456789hello56789")

	dest := &memoryFile{}
	op := &BlockOperation{Blob: blob, Block: block, Transport: tr, Store: s, DestWriterAt: dest}
	require.NoError(t, op.Run(context.Background()))

	require.Equal(t, "hello", string(dest.buf[10:15]))
	require.Equal(t, transfermodel.StateComplete, block.State)
}

func TestBlockOperationUploadReadsSection(t *testing.T) {
	s := newFakeStore()
	blob := &transfermodel.BlobTransfer{ID: "b1", Direction: transfermodel.Upload, Destination: "http://x/y"}
	block := &transfermodel.BlockTransfer{ID: "0", ParentID: blob.ID, StartRange: 0, EndRange: 5}

	tr := newFakeTransport()
	src := &memoryFile{buf: []byte("world-extra-bytes")}
	op := &BlockOperation{Blob: blob, Block: block, Transport: tr, Store: s, SourceReaderAt: src}
	require.NoError(t, op.Run(context.Background()))

	require.Equal(t, "world", string(tr.putBlocks["0"]))
}

func TestUploadFinalOperationCommitsInOrder(t *testing.T) {
	s := newFakeStore()
	blob := &transfermodel.BlobTransfer{ID: "b1", Direction: transfermodel.Upload, Destination: "http://x/y"}
	tr := newFakeTransport()

	called := false
	op := &UploadFinalOperation{
		Blob: blob, BlockIDsInOrder: []string{"0", "1", "2"}, Transport: tr, Store: s,
		OnComplete: func() { called = true },
	}
	require.NoError(t, op.Run(context.Background()))
	require.Equal(t, []string{"0", "1", "2"}, tr.committed)
	require.Equal(t, transfermodel.StateComplete, blob.State)
	require.True(t, called)
}

func TestDownloadFinalOperationRenamesAndCompletes(t *testing.T) {
	s := newFakeStore()
	blob := &transfermodel.BlobTransfer{ID: "b1", Direction: transfermodel.Download}
	renamed := false
	op := &DownloadFinalOperation{
		Blob: blob, BlockIDs: []string{"blk-0"}, Store: s,
		FinalizePath: func() error { renamed = true; return nil },
	}
	require.NoError(t, op.Run(context.Background()))
	require.True(t, renamed)
	require.Equal(t, transfermodel.StateComplete, blob.State)
}
