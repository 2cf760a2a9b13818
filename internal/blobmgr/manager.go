// Package blobmgr implements the manager facade: a process-wide
// singleton that hydrates transfer state from the Persistent Store,
// reacts to the Reachability Monitor, decomposes and dispatches blobs
// onto the Resumable Work Queue, and reports every state change to a
// Transfer Delegate. It is a mutex-guarded map of in-flight work with
// one orchestration method per command.
package blobmgr

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/arvensis/blobtransfer/internal/protocol"
	"github.com/arvensis/blobtransfer/internal/queue"
	"github.com/arvensis/blobtransfer/internal/reachability"
	"github.com/arvensis/blobtransfer/internal/store"
	"github.com/arvensis/blobtransfer/internal/transfermodel"
	"github.com/arvensis/blobtransfer/internal/transport"
	"github.com/arvensis/blobtransfer/internal/txerr"
)

// Delegate is the manager's sole callback surface: state-change
// notifications, and the supplier of HTTP clients by restoration id.
type Delegate interface {
	TransferStateChanged(recordID string, kind transfermodel.Kind, newState transfermodel.State)
	ClientForRestoration(ctx context.Context, restorationID string) (transport.Client, error)
}

// NopDelegate satisfies Delegate with no-ops, for callers that only
// care about a default transport and don't need restoration or
// notifications.
type NopDelegate struct{}

func (NopDelegate) TransferStateChanged(string, transfermodel.Kind, transfermodel.State) {}
func (NopDelegate) ClientForRestoration(context.Context, string) (transport.Client, error) {
	return nil, errors.New("blobmgr: no delegate configured to resolve a restoration client")
}

// Config wires the Manager's dependencies. Store and DefaultTransport
// are required; everything else falls back to a sensible default.
type Config struct {
	Store             store.Store
	DefaultTransport  transport.Client
	Delegate          Delegate
	MaxConcurrent     int
	ReachabilityProbe string                // URL the reachability Prober targets
	ReachabilityEvery time.Duration         // ticker interval
	Monitor           *reachability.Monitor // supply a fake in tests
	TempDir           string                // scratch dir for in-flight downloads
	MaxRetries        int                   // per-unit retry budget on a retryable TransportFailure
	RetryBackoff      time.Duration         // base backoff; doubles per attempt
	SaveEvery         time.Duration         // how often the serialization goroutine checkpoints the store
}

// Manager is the facade. Construct with New, or use Instance for the
// lazily-constructed process-wide singleton.
type Manager struct {
	store        store.Store
	defaultT     transport.Client
	delegate     Delegate
	queue        *queue.Queue
	monitor      *reachability.Monitor
	tempDir      string
	maxRetries   int
	retryBackoff time.Duration

	mu         sync.Mutex
	blobs      map[string]*transfermodel.BlobTransfer
	multiBlobs map[string]*transfermodel.MultiBlobTransfer

	retryMu    sync.Mutex
	retryState map[string]*retryEntry // unit ID -> retry bookkeeping, for units currently queued

	reachCh  <-chan reachability.Status
	stopCh   chan struct{}
	stopOnce sync.Once
}

// retryEntry tracks one queued unit's owning blob and retry count, so
// onUnitComplete can re-enqueue it on a retryable failure or fail the
// right parent once its retries are exhausted.
type retryEntry struct {
	unit     queue.Unit
	blob     *transfermodel.BlobTransfer
	attempts int
}

var (
	instance     *Manager
	instanceOnce sync.Once
	instanceErr  error
)

// Instance returns the process-wide Manager, constructing it on first
// call with cfg and ignoring cfg on every later call.
func Instance(cfg Config) (*Manager, error) {
	instanceOnce.Do(func() {
		instance, instanceErr = New(cfg)
	})
	return instance, instanceErr
}

// New constructs a Manager directly, bypassing the singleton. Tests
// and multi-tenant hosts that need more than one Manager use this.
func New(cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, errors.New("blobmgr: Config.Store is required")
	}
	if cfg.DefaultTransport == nil {
		return nil, errors.New("blobmgr: Config.DefaultTransport is required")
	}
	if cfg.Delegate == nil {
		cfg.Delegate = NopDelegate{}
	}
	if cfg.TempDir == "" {
		cfg.TempDir = defaultDataDir()
	}
	if err := os.MkdirAll(cfg.TempDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "blobmgr: create temp dir")
	}

	monitor := cfg.Monitor
	if monitor == nil {
		target := cfg.ReachabilityProbe
		if target == "" {
			target = "https://www.gstatic.com/generate_204"
		}
		monitor = reachability.New(target, nil)
	}

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	retryBackoff := cfg.RetryBackoff
	if retryBackoff <= 0 {
		retryBackoff = DefaultRetryBackoff
	}

	m := &Manager{
		store:        cfg.Store,
		defaultT:     cfg.DefaultTransport,
		delegate:     cfg.Delegate,
		monitor:      monitor,
		tempDir:      cfg.TempDir,
		maxRetries:   maxRetries,
		retryBackoff: retryBackoff,
		blobs:        make(map[string]*transfermodel.BlobTransfer),
		multiBlobs:   make(map[string]*transfermodel.MultiBlobTransfer),
		retryState:   make(map[string]*retryEntry),
		stopCh:       make(chan struct{}),
	}
	m.queue = queue.New(cfg.MaxConcurrent, m.onUnitComplete)

	if err := m.loadContext(); err != nil {
		return nil, err
	}

	m.reachCh = monitor.Subscribe()
	interval := cfg.ReachabilityEvery
	if interval <= 0 {
		interval = 30 * time.Second
	}
	monitor.Start(interval)
	go m.watchReachability()

	saveEvery := cfg.SaveEvery
	if saveEvery <= 0 {
		saveEvery = DefaultSaveInterval
	}
	go m.saveLoop(saveEvery)

	return m, nil
}

// DefaultMaxRetries, DefaultRetryBackoff and DefaultSaveInterval are
// the manager's defaults when Config leaves the corresponding field
// unset.
const (
	DefaultMaxRetries   = 3
	DefaultRetryBackoff = 500 * time.Millisecond
	DefaultSaveInterval = 15 * time.Second
)

// Wait blocks until every in-flight queue unit has returned, for
// tests and graceful shutdown.
func (m *Manager) Wait() { m.queue.Wait() }

// Close stops the reachability and save loops and flushes the store
// one last time. It does not close the store; the caller owns that.
func (m *Manager) Close() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.monitor.Stop()
		if err := m.store.Save(); err != nil {
			logrus.WithError(err).Warn("blobmgr: final save on close failed")
		}
	})
}

// saveLoop is the manager's single dedicated serialization context:
// it checkpoints the store on a fixed interval so a transient write
// failure just waits for the next tick to retry, rather than being
// surfaced as a transfer failure.
func (m *Manager) saveLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			if err := m.store.Save(); err != nil {
				logrus.WithError(err).Warn("blobmgr: periodic save failed, retrying next tick")
			}
		}
	}
}

func (m *Manager) watchReachability() {
	for {
		select {
		case <-m.stopCh:
			return
		case status, ok := <-m.reachCh:
			if !ok {
				return
			}
			if status.IsReachable() {
				m.queue.Clear()
				m.ResumeAll()
			} else {
				m.PauseAll()
			}
		}
	}
}

// loadContext hydrates in-memory state from the store: every root
// blob, its children, and every multi-blob. It does not itself
// re-enqueue anything; that happens once the reachability monitor
// reports a status (ResumeAll from watchReachability, or an explicit
// call once the caller knows connectivity is up).
func (m *Manager) loadContext() error {
	blobs, err := m.store.FetchRootBlobs()
	if err != nil {
		return txerr.New(txerr.PersistenceFailure, err, "load blobs")
	}
	m.mu.Lock()
	for _, b := range blobs {
		m.blobs[b.ID] = b
	}
	m.mu.Unlock()

	multis, err := m.store.FetchRootMultiBlobs()
	if err != nil {
		return txerr.New(txerr.PersistenceFailure, err, "load multi-blobs")
	}
	m.mu.Lock()
	for _, mb := range multis {
		m.multiBlobs[mb.ID] = mb
	}
	m.mu.Unlock()
	return nil
}

// AddRequest is a partially populated transfer. ID is generated when
// empty.
type AddRequest struct {
	ID                  string
	Direction           transfermodel.Direction
	Source              string
	Destination         string
	ClientRestorationID string
	Properties          transfermodel.Properties
	MultiBlobTransferID string
}

// Add accepts a partially populated transfer. Uploads must set
// Properties.TotalSize since there is no probe step to discover it.
func (m *Manager) Add(ctx context.Context, req AddRequest) (*transfermodel.BlobTransfer, error) {
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now()
	blob := &transfermodel.BlobTransfer{
		ID:                  id,
		Direction:           req.Direction,
		Source:              req.Source,
		Destination:         req.Destination,
		ClientRestorationID: req.ClientRestorationID,
		Properties:          req.Properties,
		State:               transfermodel.StatePending,
		MultiBlobTransferID: req.MultiBlobTransferID,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if blob.Properties.BlockSize <= 0 {
		basis := blob.Properties.TotalSize
		blob.Properties.BlockSize = protocol.DefaultBlockSizeFor(basis)
	}

	if err := m.store.InsertBlob(blob); err != nil {
		return nil, txerr.New(txerr.PersistenceFailure, err, "insert blob "+id)
	}
	m.mu.Lock()
	m.blobs[id] = blob
	m.mu.Unlock()

	m.notify(blob)

	client, err := m.clientFor(ctx, blob)
	if err != nil {
		m.fail(blob, err)
		return blob, err
	}
	if err := m.dispatch(ctx, blob, client); err != nil {
		m.fail(blob, err)
		return blob, err
	}
	return blob, nil
}

func (m *Manager) clientFor(ctx context.Context, blob *transfermodel.BlobTransfer) (transport.Client, error) {
	if blob.ClientRestorationID == "" {
		return m.defaultT, nil
	}
	client, err := m.delegate.ClientForRestoration(ctx, blob.ClientRestorationID)
	if err != nil {
		return nil, txerr.New(txerr.ClientRestorationFailure, err, "restore client "+blob.ClientRestorationID)
	}
	return client, nil
}

// fail moves blob to failed (via the inProgress -> error -> failed
// transition when that move is legal, or directly when blob never
// reached inProgress) and clears any remaining queued siblings, since
// nothing else working on this blob can make progress once one part
// of it has permanently failed.
func (m *Manager) fail(blob *transfermodel.BlobTransfer, err error) {
	if applyErr := transfermodel.Apply(&blob.State, transfermodel.EventError); applyErr != nil {
		blob.State = transfermodel.StateFailed
	}
	blob.Error = err.Error()
	m.removeBlobUnits(blob)
	_ = m.store.UpdateBlob(blob)
	m.notify(blob)
}

func (m *Manager) notify(blob *transfermodel.BlobTransfer) {
	m.delegate.TransferStateChanged(blob.ID, transfermodel.KindBlob, blob.State)
}

// dispatch queues whatever work blob currently needs: the probe for a
// download whose size is still unknown, or the block set plus
// finalize unit otherwise. It is shared by Add (fresh blob) and
// Resume (blob with pre-existing children).
func (m *Manager) dispatch(ctx context.Context, blob *transfermodel.BlobTransfer, client transport.Client) error {
	if blob.State.Terminal() {
		return nil
	}

	if blob.Direction == transfermodel.Download {
		if !blob.InitialCallComplete {
			return m.enqueueProbe(blob, client)
		}
		return m.enqueueDownloadChildren(ctx, blob, client)
	}
	return m.enqueueUploadChildren(ctx, blob, client)
}

func (m *Manager) enqueueProbe(blob *transfermodel.BlobTransfer, client transport.Client) error {
	probe := &transfermodel.BlockTransfer{
		ID:         blob.ID + ":probe",
		ParentID:   blob.ID,
		StartRange: 0,
		EndRange:   1,
		State:      transfermodel.StatePending,
	}
	if err := m.store.InsertBlock(probe); err != nil {
		return txerr.New(txerr.PersistenceFailure, err, "insert probe block")
	}

	if blob.State == transfermodel.StatePending {
		_ = transfermodel.Apply(&blob.State, transfermodel.EventScheduled)
		if err := m.store.UpdateBlob(blob); err != nil {
			return txerr.New(txerr.PersistenceFailure, err, "persist scheduled blob")
		}
		m.notify(blob)
	}

	op := &protocol.DownloadInitialOperation{
		Blob: blob, ProbeBlock: probe, Transport: client, Store: m.store,
		OnProbed: func(totalSize int64, contentType string) {
			m.onProbed(blob, client)
		},
	}
	m.trackUnit(op, blob)
	m.queue.Add(op)
	return nil
}

// onProbed runs once DownloadInitialOperation finishes: the blob's
// true size is now known, so the remaining children can be built.
func (m *Manager) onProbed(blob *transfermodel.BlobTransfer, client transport.Client) {
	if err := m.enqueueDownloadChildren(context.Background(), blob, client); err != nil {
		m.fail(blob, err)
	}
}

// enqueueDownloadChildren builds (if absent) or reloads the block set
// for a download whose size is known, applying the restart rule to
// any children already persisted, then enqueues a BlockOperation per
// surviving child plus a DownloadFinalOperation depending on all of
// them.
func (m *Manager) enqueueDownloadChildren(ctx context.Context, blob *transfermodel.BlobTransfer, client transport.Client) error {
	children, err := m.store.FetchBlocksByParent(blob.ID)
	if err != nil {
		return txerr.New(txerr.PersistenceFailure, err, "fetch children of "+blob.ID)
	}
	if len(children) == 0 {
		children, err = m.createDownloadChildren(blob)
		if err != nil {
			return err
		}
	}

	tempPath := filepath.Join(m.tempDir, blob.ID+"-"+tempFileSlug(blob.Destination)+".part")
	destFile, err := openWriterAt(tempPath)
	if err != nil {
		return txerr.New(txerr.TransportFailure, err, "open temp file for "+blob.ID)
	}

	var liveIDs []string
	for _, child := range children {
		switch child.State {
		case transfermodel.StateComplete:
			m.queue.MarkDone(child.ID)
			liveIDs = append(liveIDs, child.ID)
		case transfermodel.StateCanceled, transfermodel.StateDeleted:
			// never revived
		default:
			child.State = transfermodel.StatePending
			if err := m.store.UpdateBlock(child); err != nil {
				return txerr.New(txerr.PersistenceFailure, err, "normalize block "+child.ID)
			}
			liveIDs = append(liveIDs, child.ID)
			blockOp := &protocol.BlockOperation{
				Blob: blob, Block: child, Transport: client, Store: m.store, DestWriterAt: destFile,
			}
			m.trackUnit(blockOp, blob)
			m.queue.Add(blockOp)
		}
	}

	destination := blob.Destination
	finalOp := &protocol.DownloadFinalOperation{
		Blob: blob, BlockIDs: liveIDs, Store: m.store, TempPath: tempPath,
		FinalizePath: func() error {
			_ = destFile.Close()
			return os.Rename(tempPath, destination)
		},
		OnComplete: func() { m.notify(blob) },
	}
	m.trackUnit(finalOp, blob)
	m.queue.Add(finalOp)

	if blob.State == transfermodel.StatePending {
		_ = transfermodel.Apply(&blob.State, transfermodel.EventScheduled)
		_ = m.store.UpdateBlob(blob)
		m.notify(blob)
	}
	return nil
}

func (m *Manager) createDownloadChildren(blob *transfermodel.BlobTransfer) ([]*transfermodel.BlockTransfer, error) {
	blockSize := blob.Properties.BlockSize
	ranges := protocol.Decompose(blob.Properties.TotalSize, blockSize, func(i int) string {
		return blob.ID + ":" + strconv.Itoa(i)
	})
	children := make([]*transfermodel.BlockTransfer, 0, len(ranges))
	for _, r := range ranges {
		block := &transfermodel.BlockTransfer{
			ID: r.BlockID, ParentID: blob.ID, StartRange: r.Start, EndRange: r.End,
			State: transfermodel.StatePending,
		}
		if err := m.store.InsertBlock(block); err != nil {
			return nil, txerr.New(txerr.PersistenceFailure, err, "insert block "+block.ID)
		}
		children = append(children, block)
	}
	blob.TotalBlocks = len(children)
	if err := m.store.UpdateBlob(blob); err != nil {
		return nil, txerr.New(txerr.PersistenceFailure, err, "persist total blocks")
	}
	return children, nil
}

// enqueueUploadChildren mirrors enqueueDownloadChildren for uploads:
// decomposition happens eagerly (source size is already known), and
// WireID carries the plain decimal part index transports like the S3
// adapter require.
func (m *Manager) enqueueUploadChildren(ctx context.Context, blob *transfermodel.BlobTransfer, client transport.Client) error {
	children, err := m.store.FetchBlocksByParent(blob.ID)
	if err != nil {
		return txerr.New(txerr.PersistenceFailure, err, "fetch children of "+blob.ID)
	}
	if len(children) == 0 {
		children, err = m.createUploadChildren(blob)
		if err != nil {
			return err
		}
	}

	sourceFile, err := openReaderAt(blob.Source)
	if err != nil {
		return txerr.New(txerr.TransportFailure, err, "open source file "+blob.Source)
	}

	if err := client.BeginUpload(ctx, blob.Destination, blob.Properties.ContentType, blob.Properties.TotalSize, len(children)); err != nil {
		return txerr.New(txerr.TransportFailure, err, "begin upload "+blob.ID)
	}

	var liveWireIDs []string
	for _, child := range children {
		wireID := child.WireID
		if wireID == "" {
			wireID = child.ID
		}
		switch child.State {
		case transfermodel.StateComplete:
			m.queue.MarkDone(child.ID)
			liveWireIDs = append(liveWireIDs, wireID)
		case transfermodel.StateCanceled, transfermodel.StateDeleted:
		default:
			child.State = transfermodel.StatePending
			if err := m.store.UpdateBlock(child); err != nil {
				return txerr.New(txerr.PersistenceFailure, err, "normalize block "+child.ID)
			}
			liveWireIDs = append(liveWireIDs, wireID)
			blockOp := &protocol.BlockOperation{
				Blob: blob, Block: child, Transport: client, Store: m.store, SourceReaderAt: sourceFile,
			}
			m.trackUnit(blockOp, blob)
			m.queue.Add(blockOp)
		}
	}

	finalOp := &protocol.UploadFinalOperation{
		Blob: blob, BlockIDsInOrder: liveWireIDs, Transport: client, Store: m.store,
		OnComplete: func() { m.notify(blob) },
	}
	m.trackUnit(finalOp, blob)
	m.queue.Add(finalOp)

	if blob.State == transfermodel.StatePending {
		_ = transfermodel.Apply(&blob.State, transfermodel.EventScheduled)
		_ = m.store.UpdateBlob(blob)
		m.notify(blob)
	}
	return nil
}

func (m *Manager) createUploadChildren(blob *transfermodel.BlobTransfer) ([]*transfermodel.BlockTransfer, error) {
	blockSize := blob.Properties.BlockSize
	ranges := protocol.Decompose(blob.Properties.TotalSize, blockSize, func(i int) string {
		return strconv.Itoa(i)
	})
	children := make([]*transfermodel.BlockTransfer, 0, len(ranges))
	for _, r := range ranges {
		block := &transfermodel.BlockTransfer{
			ID: blob.ID + ":" + r.BlockID, WireID: r.BlockID, ParentID: blob.ID,
			StartRange: r.Start, EndRange: r.End, State: transfermodel.StatePending,
		}
		if err := m.store.InsertBlock(block); err != nil {
			return nil, txerr.New(txerr.PersistenceFailure, err, "insert block "+block.ID)
		}
		children = append(children, block)
	}
	blob.TotalBlocks = len(children)
	if err := m.store.UpdateBlob(blob); err != nil {
		return nil, txerr.New(txerr.PersistenceFailure, err, "persist total blocks")
	}
	return children, nil
}

// onUnitComplete is the queue.CompletionFunc. Success paths already
// transition state inside the operations themselves (BlockOperation,
// *FinalOperation), so this only reacts to failures: a retryable
// TransportFailure under the retry budget is re-enqueued after a
// backoff; anything else (exhausted retries, a non-retryable kind, or
// an unclassified error) fails the owning blob, since a DownloadFinal/
// UploadFinalOperation depends on every block ID and would otherwise
// wait forever on a block that can never complete.
func (m *Manager) onUnitComplete(unitID string, err error) {
	if err == nil {
		m.clearRetryEntry(unitID)
		return
	}
	kind := txerr.Classify(err)
	if kind == txerr.Canceled {
		m.clearRetryEntry(unitID)
		return
	}

	if kind == txerr.TransportFailure && txerr.IsRetryable(txerr.StatusOf(err)) {
		if entry, ok := m.nextRetry(unitID); ok {
			backoff := m.retryBackoff * time.Duration(int64(1)<<uint(entry.attempts-1))
			logrus.WithFields(logrus.Fields{
				"unit": unitID, "attempt": entry.attempts, "backoff": backoff,
			}).Warn("blobmgr: retrying failed unit")
			time.AfterFunc(backoff, func() {
				if m.retryEntryFor(unitID) == nil {
					return // paused/canceled/removed before the backoff elapsed
				}
				m.queue.Add(entry.unit)
			})
			return
		}
	}

	logrus.WithError(err).WithField("unit", unitID).Warn("blobmgr: unit failed")
	entry := m.retryEntryFor(unitID)
	m.clearRetryEntry(unitID)
	if entry != nil {
		m.fail(entry.blob, err)
	}
}

// trackUnit records which blob owns a just-queued unit, so a later
// failure can look the owner up by unit ID alone; queue.CompletionFunc
// carries no context of its own.
func (m *Manager) trackUnit(unit queue.Unit, blob *transfermodel.BlobTransfer) {
	m.retryMu.Lock()
	m.retryState[unit.ID()] = &retryEntry{unit: unit, blob: blob}
	m.retryMu.Unlock()
}

func (m *Manager) retryEntryFor(unitID string) *retryEntry {
	m.retryMu.Lock()
	defer m.retryMu.Unlock()
	return m.retryState[unitID]
}

func (m *Manager) clearRetryEntry(unitID string) {
	m.retryMu.Lock()
	delete(m.retryState, unitID)
	m.retryMu.Unlock()
}

// nextRetry increments and returns unitID's retry entry if it is
// still tracked and under the retry budget, or ok=false if it should
// not be retried (already exhausted, or untracked because it was
// removed out from under it by a pause/cancel).
func (m *Manager) nextRetry(unitID string) (*retryEntry, bool) {
	m.retryMu.Lock()
	defer m.retryMu.Unlock()
	entry, found := m.retryState[unitID]
	if !found || entry.attempts >= m.maxRetries {
		return nil, false
	}
	entry.attempts++
	return entry, true
}

// Pause sets id's state to paused, removes its in-flight units from
// the queue, and recurses to its children.
func (m *Manager) Pause(id string) error {
	blob, err := m.lookup(id)
	if err != nil {
		return err
	}
	return m.pauseBlob(blob)
}

func (m *Manager) pauseBlob(blob *transfermodel.BlobTransfer) error {
	if !blob.State.Pauseable() {
		return nil
	}
	if err := transfermodel.Apply(&blob.State, transfermodel.EventPause); err != nil {
		return nil
	}
	m.removeBlobUnits(blob)
	if err := m.store.UpdateBlob(blob); err != nil {
		return txerr.New(txerr.PersistenceFailure, err, "persist paused blob")
	}
	m.notify(blob)
	return nil
}

// PauseAll pauses every pauseable (pending or in-progress) blob and
// clears the queue as a fast path.
func (m *Manager) PauseAll() {
	for _, blob := range m.snapshotBlobs() {
		_ = m.pauseBlob(blob)
	}
	m.queue.Clear()
}

func (m *Manager) removeBlobUnits(blob *transfermodel.BlobTransfer) {
	for _, id := range []string{blob.ID + ":probe", blob.ID + ":finalize", blob.ID + ":commit"} {
		m.queue.Remove(id)
		m.clearRetryEntry(id)
	}
	children, err := m.store.FetchBlocksByParent(blob.ID)
	if err != nil {
		return
	}
	for _, c := range children {
		m.queue.Remove(c.ID)
		m.clearRetryEntry(c.ID)
	}
}

// Resume restarts blob per the resumption rules in dispatch, unless
// the network is currently unreachable, in which case it is a no-op.
func (m *Manager) Resume(ctx context.Context, id string) error {
	blob, err := m.lookup(id)
	if err != nil {
		return err
	}
	return m.resumeBlob(ctx, blob)
}

func (m *Manager) resumeBlob(ctx context.Context, blob *transfermodel.BlobTransfer) error {
	if !m.monitor.Current().IsReachable() {
		return nil
	}
	if !blob.State.Resumable() && blob.State != transfermodel.StatePending {
		return nil
	}
	if err := transfermodel.Apply(&blob.State, transfermodel.EventResume); err != nil {
		if blob.State != transfermodel.StatePending {
			return nil
		}
	}
	if err := m.store.UpdateBlob(blob); err != nil {
		return txerr.New(txerr.PersistenceFailure, err, "persist resumed blob")
	}
	m.notify(blob)

	client, err := m.clientFor(ctx, blob)
	if err != nil {
		m.fail(blob, err)
		return err
	}
	if err := m.dispatch(ctx, blob, client); err != nil {
		m.fail(blob, err)
		return err
	}
	return nil
}

// ResumeAll resumes every resumable (or still-pending) blob. It is a
// no-op while unreachable.
func (m *Manager) ResumeAll() {
	if !m.monitor.Current().IsReachable() {
		return
	}
	for _, blob := range m.snapshotBlobs() {
		_ = m.resumeBlob(context.Background(), blob)
	}
}

// Cancel transitions blob to canceled and removes its queue units.
func (m *Manager) Cancel(id string) error {
	blob, err := m.lookup(id)
	if err != nil {
		return err
	}
	return m.cancelBlob(blob)
}

func (m *Manager) cancelBlob(blob *transfermodel.BlobTransfer) error {
	if err := transfermodel.Apply(&blob.State, transfermodel.EventCancel); err != nil {
		return nil
	}
	m.removeBlobUnits(blob)
	if err := m.store.UpdateBlob(blob); err != nil {
		return txerr.New(txerr.PersistenceFailure, err, "persist canceled blob")
	}
	m.notify(blob)
	return nil
}

// CancelAll cancels every non-terminal blob.
func (m *Manager) CancelAll() {
	for _, blob := range m.snapshotBlobs() {
		_ = m.cancelBlob(blob)
	}
}

// Remove drops blob from memory and the queue and deletes it (with
// its children, cascading) from the store.
func (m *Manager) Remove(id string) error {
	blob, err := m.lookup(id)
	if err != nil {
		return err
	}
	return m.removeBlob(blob)
}

func (m *Manager) removeBlob(blob *transfermodel.BlobTransfer) error {
	m.removeBlobUnits(blob)
	if err := m.store.DeleteBlob(blob.ID); err != nil {
		return txerr.New(txerr.PersistenceFailure, err, "delete blob "+blob.ID)
	}
	m.mu.Lock()
	delete(m.blobs, blob.ID)
	m.mu.Unlock()
	blob.State = transfermodel.StateDeleted
	m.notify(blob)
	return nil
}

// RemoveAll removes every blob currently known to the manager.
func (m *Manager) RemoveAll() {
	for _, blob := range m.snapshotBlobs() {
		_ = m.removeBlob(blob)
	}
}

func (m *Manager) lookup(id string) (*transfermodel.BlobTransfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	blob, ok := m.blobs[id]
	if !ok {
		return nil, errors.Wrap(store.ErrNotFound, "blobmgr: "+id)
	}
	return blob, nil
}

func (m *Manager) snapshotBlobs() []*transfermodel.BlobTransfer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*transfermodel.BlobTransfer, 0, len(m.blobs))
	for _, b := range m.blobs {
		out = append(out, b)
	}
	return out
}

// Status returns the current in-memory state of id, for callers that
// just want a read, not a command.
func (m *Manager) Status(id string) (transfermodel.State, error) {
	blob, err := m.lookup(id)
	if err != nil {
		return "", err
	}
	return blob.State, nil
}

// Snapshot returns every blob the manager currently knows about, for
// callers that want to list statuses rather than look up a single id.
func (m *Manager) Snapshot() []*transfermodel.BlobTransfer {
	return m.snapshotBlobs()
}

// tempFileSlug turns a blob's destination path into a short,
// filesystem-safe fragment for its in-flight temp file name, so a
// destination with spaces, unicode, or URL-reserved characters never
// reaches the local filesystem verbatim.
func tempFileSlug(destination string) string {
	base := filepath.Base(destination)
	if s := slug.Make(base); s != "" {
		return s
	}
	return "blob"
}

func openWriterAt(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
}

func openReaderAt(path string) (*os.File, error) {
	return os.Open(path)
}

// defaultDataDir resolves ~/.blobtransfer for scratch files and the
// default store location, falling back to os.TempDir() when the home
// directory can't be resolved (headless containers, restricted
// users).
func defaultDataDir() string {
	home, err := homedir.Dir()
	if err != nil {
		return filepath.Join(os.TempDir(), "blobtransfer")
	}
	return filepath.Join(home, ".blobtransfer")
}

// DefaultDataDir exposes defaultDataDir for callers (cmd/blobctl)
// that need the same default store/temp location before a Manager
// has been constructed.
func DefaultDataDir() string { return defaultDataDir() }
