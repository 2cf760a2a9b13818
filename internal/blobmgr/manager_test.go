package blobmgr_test

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arvensis/blobtransfer/internal/blobmgr"
	"github.com/arvensis/blobtransfer/internal/reachability"
	"github.com/arvensis/blobtransfer/internal/store/badgerstore"
	"github.com/arvensis/blobtransfer/internal/transfermodel"
	"github.com/arvensis/blobtransfer/internal/transport/faketransport"
	restyclient "github.com/arvensis/blobtransfer/internal/transport/resty"
)

// alwaysReachable is a reachability.Prober stub so tests don't depend
// on real network access or ticker timing.
type alwaysReachable struct{}

func (alwaysReachable) Probe(ctx context.Context, target string) reachability.Status {
	return reachability.ReachableWiFi
}

func newTestManager(t *testing.T) (*blobmgr.Manager, *faketransport.Server, *httptest.Server) {
	t.Helper()
	dbDir := t.TempDir()
	st, err := badgerstore.Open(filepath.Join(dbDir, "db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	fake := faketransport.New()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client := restyclient.New(5 * time.Second)

	mgr, err := blobmgr.New(blobmgr.Config{
		Store:            st,
		DefaultTransport: client,
		Monitor:          reachability.New(srv.URL, alwaysReachable{}),
		TempDir:          t.TempDir(),
	})
	require.NoError(t, err)
	t.Cleanup(mgr.Close)

	return mgr, fake, srv
}

func TestAddDownloadCompletesEndToEnd(t *testing.T) {
	mgr, fake, srv := newTestManager(t)
	content := []byte("the quick brown fox jumps over the lazy dog, repeated for bulk. " +
		"the quick brown fox jumps over the lazy dog, repeated for bulk.")
	fake.SetObject("/objects/a.bin", content)

	destPath := filepath.Join(t.TempDir(), "downloaded.bin")
	blob, err := mgr.Add(context.Background(), blobmgr.AddRequest{
		Direction:   transfermodel.Download,
		Source:      srv.URL + "/objects/a.bin",
		Destination: destPath,
		Properties:  transfermodel.Properties{BlockSize: 16},
	})
	require.NoError(t, err)
	mgr.Wait()

	got, err := os.ReadFile(destPath)
	require.NoError(t, err)
	require.Equal(t, content, got)

	state, err := mgr.Status(blob.ID)
	require.NoError(t, err)
	require.Equal(t, transfermodel.StateComplete, state)
}

func TestAddUploadCompletesEndToEnd(t *testing.T) {
	mgr, _, srv := newTestManager(t)

	srcPath := filepath.Join(t.TempDir(), "source.bin")
	content := []byte("upload this payload across several small blocks of bytes")
	require.NoError(t, os.WriteFile(srcPath, content, 0o644))

	blob, err := mgr.Add(context.Background(), blobmgr.AddRequest{
		Direction:   transfermodel.Upload,
		Source:      srcPath,
		Destination: srv.URL + "/objects/up-1",
		Properties:  transfermodel.Properties{TotalSize: int64(len(content)), BlockSize: 10},
	})
	require.NoError(t, err)
	mgr.Wait()

	state, err := mgr.Status(blob.ID)
	require.NoError(t, err)
	require.Equal(t, transfermodel.StateComplete, state)

	_, err = os.Stat(srcPath) // source must be left untouched
	require.NoError(t, err)
}

func TestPauseRemovesInFlightWork(t *testing.T) {
	mgr, fake, srv := newTestManager(t)
	content := make([]byte, 64)
	fake.SetObject("/objects/big.bin", content)
	// Every ranged GET fails, so no block ever completes and the
	// finalize unit never becomes dependency-ready: the blob is
	// guaranteed to still be in flight when Pause runs below.
	fake.FailNextRequests("/objects/big.bin", 1_000_000)

	destPath := filepath.Join(t.TempDir(), "out.bin")
	blob, err := mgr.Add(context.Background(), blobmgr.AddRequest{
		Direction:   transfermodel.Download,
		Source:      srv.URL + "/objects/big.bin",
		Destination: destPath,
		Properties:  transfermodel.Properties{BlockSize: 8},
	})
	require.NoError(t, err)

	require.NoError(t, mgr.Pause(blob.ID))
	mgr.Wait()

	state, err := mgr.Status(blob.ID)
	require.NoError(t, err)
	require.Equal(t, transfermodel.StatePaused, state)
}

func TestCancelThenRemove(t *testing.T) {
	mgr, fake, srv := newTestManager(t)
	fake.SetObject("/objects/c.bin", []byte("cancel me"))
	fake.FailNextRequests("/objects/c.bin", 1_000_000)

	blob, err := mgr.Add(context.Background(), blobmgr.AddRequest{
		Direction:   transfermodel.Download,
		Source:      srv.URL + "/objects/c.bin",
		Destination: filepath.Join(t.TempDir(), "c.bin"),
	})
	require.NoError(t, err)

	require.NoError(t, mgr.Cancel(blob.ID))
	mgr.Wait()
	state, err := mgr.Status(blob.ID)
	require.NoError(t, err)
	require.Equal(t, transfermodel.StateCanceled, state)

	require.NoError(t, mgr.Remove(blob.ID))
	_, err = mgr.Status(blob.ID)
	require.Error(t, err)
}

func TestTransientFailureIsRetriedUntilSuccess(t *testing.T) {
	mgr, fake, srv := newTestManager(t)
	content := []byte("retry me once and then let the probe through")
	fake.SetObject("/objects/flaky.bin", content)
	// One failure, well under the default retry budget: the probe
	// (which shares the path's failure counter with the block GET)
	// must be retried rather than left to fail the whole transfer.
	fake.FailNextRequests("/objects/flaky.bin", 1)

	destPath := filepath.Join(t.TempDir(), "flaky.bin")
	blob, err := mgr.Add(context.Background(), blobmgr.AddRequest{
		Direction:   transfermodel.Download,
		Source:      srv.URL + "/objects/flaky.bin",
		Destination: destPath,
		Properties:  transfermodel.Properties{BlockSize: int64(len(content))},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		state, err := mgr.Status(blob.ID)
		return err == nil && state == transfermodel.StateComplete
	}, 5*time.Second, 20*time.Millisecond)

	got, err := os.ReadFile(destPath)
	require.NoError(t, err)
	require.Equal(t, content, got)
}

func TestProbeFailureExhaustsRetriesAndFailsParent(t *testing.T) {
	dbDir := t.TempDir()
	st, err := badgerstore.Open(filepath.Join(dbDir, "db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	fake := faketransport.New()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	mgr, err := blobmgr.New(blobmgr.Config{
		Store:            st,
		DefaultTransport: restyclient.New(5 * time.Second),
		Monitor:          reachability.New(srv.URL, alwaysReachable{}),
		TempDir:          t.TempDir(),
		MaxRetries:       2,
		RetryBackoff:     5 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(mgr.Close)

	fake.SetObject("/objects/broken.bin", make([]byte, 32))
	// Fails every single request, including the probe (a one-byte
	// ranged GET on the same path): the probe exhausts its retry
	// budget, so the block set is never built. Without the
	// parent-failure wiring this blob would sit in StateInProgress
	// forever instead of moving to StateFailed.
	fake.FailNextRequests("/objects/broken.bin", 1_000_000)

	blob, err := mgr.Add(context.Background(), blobmgr.AddRequest{
		Direction:   transfermodel.Download,
		Source:      srv.URL + "/objects/broken.bin",
		Destination: filepath.Join(t.TempDir(), "broken.bin"),
		Properties:  transfermodel.Properties{BlockSize: 8},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		state, err := mgr.Status(blob.ID)
		return err == nil && state == transfermodel.StateFailed
	}, 5*time.Second, 20*time.Millisecond)

	var failed *transfermodel.BlobTransfer
	for _, b := range mgr.Snapshot() {
		if b.ID == blob.ID {
			failed = b
		}
	}
	require.NotNil(t, failed)
	require.NotEmpty(t, failed.Error)
}

func TestResumeAllIsNoOpWhenUnreachable(t *testing.T) {
	dbDir := t.TempDir()
	st, err := badgerstore.Open(filepath.Join(dbDir, "db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	fake := faketransport.New()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	mgr, err := blobmgr.New(blobmgr.Config{
		Store:            st,
		DefaultTransport: restyclient.New(time.Second),
		Monitor:          reachability.New(srv.URL, scriptedUnreachable{}),
		TempDir:          t.TempDir(),
	})
	require.NoError(t, err)
	t.Cleanup(mgr.Close)

	fake.SetObject("/objects/stalled.bin", []byte("stalled"))
	// Every request fails with a retryable 503, so after the first probe
	// attempt the blob is still in flight, waiting on its retry backoff,
	// when Pause runs below.
	fake.FailNextRequests("/objects/stalled.bin", 1_000_000)

	blob, err := mgr.Add(context.Background(), blobmgr.AddRequest{
		Direction:   transfermodel.Download,
		Source:      srv.URL + "/objects/stalled.bin",
		Destination: filepath.Join(t.TempDir(), "never.bin"),
	})
	require.NoError(t, err)
	mgr.Wait()

	require.NoError(t, mgr.Pause(blob.ID))
	mgr.ResumeAll() // reachability.Current() is still Unreachable: must be a no-op

	state, err := mgr.Status(blob.ID)
	require.NoError(t, err)
	require.Equal(t, transfermodel.StatePaused, state)
}

type scriptedUnreachable struct{}

func (scriptedUnreachable) Probe(ctx context.Context, target string) reachability.Status {
	return reachability.Unreachable
}
