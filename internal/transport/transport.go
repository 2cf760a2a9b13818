// Package transport is the HTTP-facing half of the chunked transfer
// protocols: probing a download's size, fetching byte ranges, and the
// upload side's begin/put-block/commit sequence. Concrete
// implementations live in the resty (default), s3 (optional), and
// faketransport (test-only) subpackages.
package transport

import (
	"context"
	"io"
)

// ProbeResult is what the download-side initial probe discovers about
// the remote blob.
type ProbeResult struct {
	TotalSize   int64
	ContentType string
}

// Client is the transport contract every BlockOperation and finalize
// operation is built against. Implementations must be safe for
// concurrent use: multiple BlockOperations for the same blob run in
// parallel on the queue's worker pool.
type Client interface {
	// Probe discovers a download blob's total size without
	// transferring its body, the work behind DownloadInitialOperation.
	Probe(ctx context.Context, source string) (ProbeResult, error)

	// DownloadRange fetches the half-open byte range [start, end) of
	// source. The caller owns closing the returned reader.
	DownloadRange(ctx context.Context, source string, start, end int64) (io.ReadCloser, error)

	// BeginUpload opens an upload session against destination before
	// any block is put. No-op for transports that need no session.
	BeginUpload(ctx context.Context, destination string, contentType string, totalSize int64, blockCount int) error

	// PutBlock uploads one block's bytes, identified by blockID.
	PutBlock(ctx context.Context, destination string, blockID string, data io.Reader, size int64) error

	// CommitBlockList finalizes an upload, given every blockID in
	// decomposition order.
	CommitBlockList(ctx context.Context, destination string, blockIDsInOrder []string) error
}
