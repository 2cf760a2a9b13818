// Package transfermodel defines the transfer graph: BlobTransfer and
// BlockTransfer records, their shared state machine, and the
// MultiBlobTransfer batch wrapper.
package transfermodel

import "time"

// Direction is which way bytes move relative to this process.
type Direction string

const (
	Upload   Direction = "upload"
	Download Direction = "download"
)

// State is a node in the transfer state machine shared by BlobTransfer
// and BlockTransfer. See Transition for the legal moves.
type State string

const (
	StatePending    State = "pending"
	StateInProgress State = "inProgress"
	StatePaused     State = "paused"
	StateComplete   State = "complete"
	StateFailed     State = "failed"
	StateCanceled   State = "canceled"
	StateDeleted    State = "deleted"
)

// Terminal reports whether s is an end state (complete, canceled or
// deleted). From complete or canceled, Transition accepts only the
// remove event (to deleted); from deleted it accepts none.
func (s State) Terminal() bool {
	switch s {
	case StateComplete, StateCanceled, StateDeleted:
		return true
	default:
		return false
	}
}

// Pauseable reports whether s accepts a pause event.
func (s State) Pauseable() bool {
	return s == StatePending || s == StateInProgress
}

// Resumable reports whether s accepts a resume event.
func (s State) Resumable() bool {
	return s == StatePaused || s == StateFailed
}

// Kind distinguishes the two leaves of the transfer graph plus the
// batch wrapper, standing in for subclass dispatch on Record.
type Kind string

const (
	KindBlob      Kind = "blob"
	KindBlock     Kind = "block"
	KindMultiBlob Kind = "multiblob"
)

// Record is the tagged-variant interface every persisted record kind
// satisfies, so store and queue code can branch exhaustively on Kind
// instead of relying on subclass dispatch.
type Record interface {
	RecordID() string
	RecordKind() Kind
	RecordState() State
}

// Properties carries direction-specific metadata verbatim, the way
// spec describes it: content type and block size for uploads, the
// probe-discovered total size for downloads, etc.
type Properties struct {
	ContentType string `json:"contentType,omitempty"`
	BlockSize   int64  `json:"blockSize"`
	TotalSize   int64  `json:"totalSize,omitempty"`
}

// BlobTransfer is the parent record: one logical upload or download.
type BlobTransfer struct {
	ID                   string     `json:"id"`
	Direction            Direction  `json:"direction"`
	Source               string     `json:"source"`
	Destination          string     `json:"destination"`
	ClientRestorationID  string     `json:"clientRestorationId"`
	Properties           Properties `json:"properties"`
	State                State      `json:"state"`
	TotalBlocks          int        `json:"totalBlocks"`
	InitialCallComplete  bool       `json:"initialCallComplete"`
	Error                string     `json:"error,omitempty"`
	MultiBlobTransferID  string     `json:"multiBlobTransferId,omitempty"`
	Children             []*BlockTransfer `json:"-"`
	CreatedAt            time.Time  `json:"createdAt"`
	UpdatedAt            time.Time  `json:"updatedAt"`
}

func (b *BlobTransfer) RecordID() string    { return b.ID }
func (b *BlobTransfer) RecordKind() Kind    { return KindBlob }
func (b *BlobTransfer) RecordState() State  { return b.State }

// BlockTransfer is the child record: one contiguous byte range.
type BlockTransfer struct {
	ID         string `json:"id"`
	ParentID   string `json:"parentId"`
	StartRange int64  `json:"startRange"`
	EndRange   int64  `json:"endRange"`
	State      State  `json:"state"`
	// WireID is the identifier handed to transport.Client.PutBlock and
	// listed in CommitBlockList for uploads. It defaults to ID when
	// empty; some backends (e.g. the S3 adapter) require it to be a
	// plain decimal part index distinct from the globally-unique
	// store/queue key ID carries.
	WireID     string    `json:"wireId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func (b *BlockTransfer) RecordID() string   { return b.ID }
func (b *BlockTransfer) RecordKind() Kind   { return KindBlock }
func (b *BlockTransfer) RecordState() State { return b.State }

// Size returns the byte length of the block's range.
func (b *BlockTransfer) Size() int64 { return b.EndRange - b.StartRange }

// MultiBlobTransfer groups a batch of BlobTransfers created from one
// user command (e.g. "upload this directory"). It has no children of
// its own in the queue/state-machine sense — it is purely an
// aggregate progress view over the BlobTransfers it spawned.
type MultiBlobTransfer struct {
	ID             string    `json:"id"`
	SourceRoot     string    `json:"sourceRoot"`
	BlobIDs        []string  `json:"blobIds"`
	TotalBlobs     int       `json:"totalBlobs"`
	CompletedBlobs int       `json:"completedBlobs"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func (m *MultiBlobTransfer) RecordID() string { return m.ID }
func (m *MultiBlobTransfer) RecordKind() Kind { return KindMultiBlob }

// RecordState derives a coarse status from the blob completion count
// since MultiBlobTransfer has no direct transitions of its own.
func (m *MultiBlobTransfer) RecordState() State {
	if m.TotalBlobs > 0 && m.CompletedBlobs >= m.TotalBlobs {
		return StateComplete
	}
	return StateInProgress
}
