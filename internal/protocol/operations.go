package protocol

import (
	"context"
	"io"

	"github.com/pkg/errors"

	"github.com/arvensis/blobtransfer/internal/store"
	"github.com/arvensis/blobtransfer/internal/transfermodel"
	"github.com/arvensis/blobtransfer/internal/transport"
	"github.com/arvensis/blobtransfer/internal/txerr"
)

// classifyTransportErr preserves a transport error that already
// carries an HTTP status (tagged by the resty/s3 client via
// txerr.NewTransportStatus) so the retry policy upstream can see it,
// adding message as context without re-tagging over it. An untagged
// error gets a fresh fallback classification.
func classifyTransportErr(fallback txerr.Kind, err error, message string) error {
	if txerr.Classify(err) != txerr.Unknown {
		return errors.WithMessage(err, message)
	}
	return txerr.New(fallback, err, message)
}

// DownloadInitialOperation is the probe step of the download
// protocol: a BlockTransfer spanning [0,1) whose completion discovers
// the blob's total size and hands the result back to OnProbed so the
// caller (internal/blobmgr) can build and enqueue the remaining
// children — operations.go stays agnostic of the manager's in-memory
// bookkeeping.
type DownloadInitialOperation struct {
	Blob       *transfermodel.BlobTransfer
	ProbeBlock *transfermodel.BlockTransfer
	Transport  transport.Client
	Store      store.Store
	OnProbed   func(totalSize int64, contentType string)
}

func (op *DownloadInitialOperation) ID() string             { return op.ProbeBlock.ID }
func (op *DownloadInitialOperation) Dependencies() []string { return nil }

func (op *DownloadInitialOperation) Run(ctx context.Context) error {
	result, err := op.Transport.Probe(ctx, op.Blob.Source)
	if err != nil {
		return classifyTransportErr(txerr.NetworkUnreachable, err, "probe "+op.Blob.Source)
	}

	op.Blob.Properties.TotalSize = result.TotalSize
	if result.ContentType != "" {
		op.Blob.Properties.ContentType = result.ContentType
	}
	op.Blob.InitialCallComplete = true
	if err := op.Store.UpdateBlob(op.Blob); err != nil {
		return txerr.New(txerr.PersistenceFailure, err, "persist probed blob")
	}
	if err := op.Store.DeleteBlock(op.ProbeBlock.ID); err != nil {
		return txerr.New(txerr.PersistenceFailure, err, "delete probe block")
	}

	if op.OnProbed != nil {
		op.OnProbed(result.TotalSize, result.ContentType)
	}
	return nil
}

// BlockOperation moves the bytes for one BlockTransfer: a ranged GET
// into DestWriterAt for downloads, or a ranged read from
// SourceReaderAt into PutBlock for uploads. Re-running an operation
// for the same block (resumption after a partial download) overwrites
// the same destination offset, so retries stay idempotent.
type BlockOperation struct {
	Blob      *transfermodel.BlobTransfer
	Block     *transfermodel.BlockTransfer
	Transport transport.Client
	Store     store.Store

	DestWriterAt   io.WriterAt // set for downloads
	SourceReaderAt io.ReaderAt // set for uploads
}

func (op *BlockOperation) ID() string             { return op.Block.ID }
func (op *BlockOperation) Dependencies() []string { return nil }

func (op *BlockOperation) Run(ctx context.Context) error {
	var err error
	switch op.Blob.Direction {
	case transfermodel.Download:
		err = op.runDownload(ctx)
	case transfermodel.Upload:
		err = op.runUpload(ctx)
	default:
		return errors.Errorf("protocol: unknown direction %q", op.Blob.Direction)
	}
	if err != nil {
		op.Block.State = transfermodel.StateFailed
		_ = op.Store.UpdateBlock(op.Block)
		return err
	}
	op.Block.State = transfermodel.StateComplete
	if updateErr := op.Store.UpdateBlock(op.Block); updateErr != nil {
		return txerr.New(txerr.PersistenceFailure, updateErr, "persist completed block")
	}
	return nil
}

func (op *BlockOperation) runDownload(ctx context.Context) error {
	body, err := op.Transport.DownloadRange(ctx, op.Blob.Source, op.Block.StartRange, op.Block.EndRange)
	if err != nil {
		return classifyTransportErr(txerr.NetworkUnreachable, err, "download block "+op.Block.ID)
	}
	defer body.Close()

	w := &offsetWriter{w: op.DestWriterAt, off: op.Block.StartRange}
	if _, err := io.Copy(w, body); err != nil {
		return txerr.New(txerr.TransportFailure, err, "write block "+op.Block.ID)
	}
	return nil
}

func (op *BlockOperation) runUpload(ctx context.Context) error {
	wireID := op.Block.WireID
	if wireID == "" {
		wireID = op.Block.ID
	}
	section := io.NewSectionReader(op.SourceReaderAt, op.Block.StartRange, op.Block.Size())
	if err := op.Transport.PutBlock(ctx, op.Blob.Destination, wireID, section, op.Block.Size()); err != nil {
		return classifyTransportErr(txerr.TransportFailure, err, "put block "+op.Block.ID)
	}
	return nil
}

// offsetWriter adapts an io.WriterAt to io.Writer, advancing its
// internal offset by each Write's length so io.Copy can stream a
// ranged download body straight into the destination file.
type offsetWriter struct {
	w   io.WriterAt
	off int64
}

func (o *offsetWriter) Write(p []byte) (int, error) {
	n, err := o.w.WriteAt(p, o.off)
	o.off += int64(n)
	return n, err
}

// DownloadFinalOperation depends on every block of a download and
// assembles the destination file once they all complete.
type DownloadFinalOperation struct {
	Blob         *transfermodel.BlobTransfer
	BlockIDs     []string
	Store        store.Store
	TempPath     string
	FinalizePath func() error // renames TempPath to Blob.Destination atomically
	OnComplete   func()
}

func (op *DownloadFinalOperation) ID() string             { return op.Blob.ID + ":finalize" }
func (op *DownloadFinalOperation) Dependencies() []string { return op.BlockIDs }

func (op *DownloadFinalOperation) Run(ctx context.Context) error {
	if op.FinalizePath != nil {
		if err := op.FinalizePath(); err != nil {
			return txerr.New(txerr.TransportFailure, err, "finalize download "+op.Blob.ID)
		}
	}
	op.Blob.State = transfermodel.StateComplete
	if err := op.Store.UpdateBlob(op.Blob); err != nil {
		return txerr.New(txerr.PersistenceFailure, err, "persist completed download")
	}
	if op.OnComplete != nil {
		op.OnComplete()
	}
	return nil
}

// UploadFinalOperation depends on every block of an upload and issues
// the commit-block-list request once they all complete.
type UploadFinalOperation struct {
	Blob             *transfermodel.BlobTransfer
	BlockIDsInOrder  []string
	Transport        transport.Client
	Store            store.Store
	OnComplete       func()
}

func (op *UploadFinalOperation) ID() string             { return op.Blob.ID + ":commit" }
func (op *UploadFinalOperation) Dependencies() []string { return op.BlockIDsInOrder }

func (op *UploadFinalOperation) Run(ctx context.Context) error {
	if err := op.Transport.CommitBlockList(ctx, op.Blob.Destination, op.BlockIDsInOrder); err != nil {
		return classifyTransportErr(txerr.TransportFailure, err, "commit block list "+op.Blob.ID)
	}
	op.Blob.State = transfermodel.StateComplete
	if err := op.Store.UpdateBlob(op.Blob); err != nil {
		return txerr.New(txerr.PersistenceFailure, err, "persist completed upload")
	}
	if op.OnComplete != nil {
		op.OnComplete()
	}
	return nil
}
