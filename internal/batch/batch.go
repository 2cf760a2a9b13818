// Package batch turns a directory into a MultiBlobTransfer: one
// upload BlobTransfer per regular file underneath it, aggregated into
// a single batch progress record. It walks the source directory
// concurrently with github.com/saracen/walker and calls Manager.Add
// once per file found.
package batch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/saracen/walker"

	"github.com/arvensis/blobtransfer/internal/blobmgr"
	"github.com/arvensis/blobtransfer/internal/store"
	"github.com/arvensis/blobtransfer/internal/transfermodel"
)

// Request describes one "upload this directory" command.
type Request struct {
	SourceRoot          string
	DestinationPrefix   string // remote prefix each relative path is uploaded under
	ClientRestorationID string
}

// Ingest walks req.SourceRoot, adds one upload BlobTransfer per
// regular file via mgr.Add, and persists a MultiBlobTransfer
// aggregating the resulting blob ids.
func Ingest(ctx context.Context, mgr *blobmgr.Manager, st store.Store, req Request) (*transfermodel.MultiBlobTransfer, error) {
	multi := &transfermodel.MultiBlobTransfer{
		ID:         uuid.NewString(),
		SourceRoot: req.SourceRoot,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}

	var (
		mu      sync.Mutex
		blobIDs []string
		firstErr error
	)

	walkFn := func(pathname string, fi os.FileInfo) error {
		if !fi.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(req.SourceRoot, pathname)
		if err != nil {
			return err
		}
		dest := filepath.ToSlash(filepath.Join(req.DestinationPrefix, rel))

		blob, err := mgr.Add(ctx, blobmgr.AddRequest{
			Direction:           transfermodel.Upload,
			Source:              pathname,
			Destination:         dest,
			ClientRestorationID: req.ClientRestorationID,
			Properties:          transfermodel.Properties{TotalSize: fi.Size()},
			MultiBlobTransferID: multi.ID,
		})
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return nil // keep walking; a per-file failure doesn't abort the batch
		}
		blobIDs = append(blobIDs, blob.ID)
		return nil
	}

	errCallback := walker.WithErrorCallback(func(pathname string, err error) error {
		mu.Lock()
		if firstErr == nil {
			firstErr = errors.Wrapf(err, "batch: walk %s", pathname)
		}
		mu.Unlock()
		return nil
	})

	if err := walker.Walk(req.SourceRoot, walkFn, errCallback); err != nil {
		return nil, errors.Wrap(err, "batch: walk "+req.SourceRoot)
	}

	multi.BlobIDs = blobIDs
	multi.TotalBlobs = len(blobIDs)
	if err := st.InsertMultiBlob(multi); err != nil {
		return nil, errors.Wrap(err, "batch: persist multi-blob transfer")
	}
	return multi, firstErr
}

// RefreshProgress recomputes CompletedBlobs for a MultiBlobTransfer by
// checking each member blob's persisted state, and saves the result.
// The manager has no notion of MultiBlobTransfer itself, only
// BlobTransfer and BlockTransfer commands, so batches track their own
// aggregate progress this way instead of via the delegate callback.
func RefreshProgress(st store.Store, multiID string) (*transfermodel.MultiBlobTransfer, error) {
	multi, err := st.FetchMultiBlob(multiID)
	if err != nil {
		return nil, err
	}

	completed := 0
	for _, id := range multi.BlobIDs {
		blob, err := st.FetchBlob(id)
		if err != nil {
			continue
		}
		if blob.State == transfermodel.StateComplete {
			completed++
		}
	}
	multi.CompletedBlobs = completed
	multi.UpdatedAt = time.Now()
	if err := st.UpdateMultiBlob(multi); err != nil {
		return nil, err
	}
	return multi, nil
}
