// Package badgerstore is a store.Store backed by an embedded BadgerDB:
// records are JSON-encoded under a kind-prefixed key and round-tripped
// through txn.Update/txn.View.
//
// Records are LZ4-compressed before they hit the log, skipping
// compression for small payloads, and optionally ChaCha20-Poly1305
// sealed at rest when a passphrase is configured.
package badgerstore

import (
	"encoding/binary"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"

	"github.com/arvensis/blobtransfer/internal/store"
	"github.com/arvensis/blobtransfer/internal/transfermodel"
)

const (
	prefixBlob      = "blob:"
	prefixBlock     = "block:"
	prefixMultiBlob = "multiblob:"
	// compressMinBytes: payloads this small aren't worth the lz4 frame
	// overhead.
	compressMinBytes = 128
)

// Sealer optionally encrypts/decrypts record bytes at rest. A nil
// Sealer leaves bytes as plain (compressed) JSON.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(ciphertext []byte) ([]byte, error)
}

// Store is a BadgerDB-backed store.Store.
type Store struct {
	db     *badger.DB
	sealer Sealer

	mu       sync.Mutex // guards dirty; held for the whole of a cascade delete
	dirty    bool
}

var _ store.Store = (*Store)(nil)

// Open opens (or creates) a BadgerDB at dbPath. sealer may be nil.
func Open(dbPath string, sealer Sealer) (*Store, error) {
	db, err := badger.Open(badger.DefaultOptions(dbPath).WithLogger(nil))
	if err != nil {
		return nil, errors.Wrap(err, "badgerstore: open")
	}
	return &Store{db: db, sealer: sealer}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Save flushes Badger's value log. Badger's Update transactions are
// already durable on commit, so this just forces a value-log sync for
// callers that want an explicit checkpoint.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}
	if err := s.db.Sync(); err != nil {
		return errors.Wrap(err, "badgerstore: save")
	}
	s.dirty = false
	return nil
}

func (s *Store) markDirty() {
	s.mu.Lock()
	s.dirty = true
	s.mu.Unlock()
}

func (s *Store) encode(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	framed := append([]byte{0}, raw...)
	if len(raw) >= compressMinBytes {
		compressed := make([]byte, lz4.CompressBlockBound(len(raw)))
		var c lz4.Compressor
		n, err := c.CompressBlock(raw, compressed)
		if err == nil && n > 0 && n < len(raw) {
			header := make([]byte, 5)
			header[0] = 1
			binary.BigEndian.PutUint32(header[1:], uint32(len(raw)))
			framed = append(header, compressed[:n]...)
		}
	}
	if s.sealer != nil {
		sealed, err := s.sealer.Seal(framed)
		if err != nil {
			return nil, errors.Wrap(err, "badgerstore: seal")
		}
		return append([]byte{2}, sealed...), nil
	}
	return framed, nil
}

func (s *Store) decode(stored []byte, v interface{}) error {
	if len(stored) == 0 {
		return errors.New("badgerstore: empty record")
	}
	tag, body := stored[0], stored[1:]
	if tag == 2 {
		if s.sealer == nil {
			return errors.New("badgerstore: record is sealed but no sealer configured")
		}
		opened, err := s.sealer.Open(body)
		if err != nil {
			return errors.Wrap(err, "badgerstore: open seal")
		}
		if len(opened) == 0 {
			return errors.New("badgerstore: empty sealed record")
		}
		tag, body = opened[0], opened[1:]
	}
	switch tag {
	case 0:
		return json.Unmarshal(body, v)
	case 1:
		if len(body) < 4 {
			return errors.New("badgerstore: truncated compressed record")
		}
		rawLen := binary.BigEndian.Uint32(body[:4])
		dst := make([]byte, rawLen)
		n, err := lz4.UncompressBlock(body[4:], dst)
		if err != nil {
			return errors.Wrap(err, "badgerstore: lz4 decompress")
		}
		return json.Unmarshal(dst[:n], v)
	default:
		return errors.Errorf("badgerstore: unknown record tag %d", tag)
	}
}

func (s *Store) put(key string, v interface{}) error {
	val, err := s.encode(v)
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), val)
	})
	if err == nil {
		s.markDirty()
	}
	return err
}

func (s *Store) get(key string, v interface{}) error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return store.ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return s.decode(val, v)
		})
	})
}

func (s *Store) delete(key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err == nil {
		s.markDirty()
	}
	return err
}

func (s *Store) scanPrefix(prefix string, fn func(val []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix([]byte(prefix)); it.Next() {
			item := it.Item()
			if err := item.Value(func(val []byte) error { return fn(val) }); err != nil {
				return err
			}
		}
		return nil
	})
}

// --- BlobTransfer ---

func blobKey(id string) string { return prefixBlob + id }

func (s *Store) InsertBlob(b *transfermodel.BlobTransfer) error {
	now := time.Now()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	return s.put(blobKey(b.ID), b)
}

func (s *Store) UpdateBlob(b *transfermodel.BlobTransfer) error {
	var existing transfermodel.BlobTransfer
	if err := s.get(blobKey(b.ID), &existing); err != nil {
		if err == store.ErrNotFound {
			return s.InsertBlob(b)
		}
		return err
	}
	mergeBlob(&existing, b)
	existing.UpdatedAt = time.Now()
	return s.put(blobKey(b.ID), &existing)
}

// mergeBlob applies last-writer-wins per field: a zero-valued field on
// incoming leaves the persisted value untouched, so a progress tick
// racing a pause command never clobbers the other's fields.
func mergeBlob(dst, incoming *transfermodel.BlobTransfer) {
	if incoming.State != "" {
		dst.State = incoming.State
	}
	if incoming.TotalBlocks != 0 {
		dst.TotalBlocks = incoming.TotalBlocks
	}
	dst.InitialCallComplete = dst.InitialCallComplete || incoming.InitialCallComplete
	if incoming.Error != "" {
		dst.Error = incoming.Error
	}
	if incoming.Properties.TotalSize != 0 {
		dst.Properties.TotalSize = incoming.Properties.TotalSize
	}
	if incoming.Properties.BlockSize != 0 {
		dst.Properties.BlockSize = incoming.Properties.BlockSize
	}
	if incoming.Properties.ContentType != "" {
		dst.Properties.ContentType = incoming.Properties.ContentType
	}
	if incoming.MultiBlobTransferID != "" {
		dst.MultiBlobTransferID = incoming.MultiBlobTransferID
	}
}

func (s *Store) FetchBlob(id string) (*transfermodel.BlobTransfer, error) {
	var b transfermodel.BlobTransfer
	if err := s.get(blobKey(id), &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *Store) FetchRootBlobs() ([]*transfermodel.BlobTransfer, error) {
	var out []*transfermodel.BlobTransfer
	err := s.scanPrefix(prefixBlob, func(val []byte) error {
		var b transfermodel.BlobTransfer
		if err := s.decode(val, &b); err != nil {
			return err
		}
		// every persisted BlobTransfer is a root by construction: it
		// is never itself a child of another BlobTransfer.
		out = append(out, &b)
		return nil
	})
	return out, err
}

func (s *Store) DeleteBlob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	children, err := s.fetchBlocksByParentLocked(id)
	if err != nil {
		return err
	}
	for _, c := range children {
		key := []byte(blockKey(c.ID))
		if err := s.db.Update(func(txn *badger.Txn) error { return txn.Delete(key) }); err != nil {
			return errors.Wrap(err, "badgerstore: cascade delete block")
		}
	}
	s.dirty = true
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(blobKey(id)))
	})
}

// --- BlockTransfer ---

func blockKey(id string) string { return prefixBlock + id }

func (s *Store) InsertBlock(b *transfermodel.BlockTransfer) error {
	now := time.Now()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	return s.put(blockKey(b.ID), b)
}

func (s *Store) UpdateBlock(b *transfermodel.BlockTransfer) error {
	var existing transfermodel.BlockTransfer
	if err := s.get(blockKey(b.ID), &existing); err != nil {
		if err == store.ErrNotFound {
			return s.InsertBlock(b)
		}
		return err
	}
	if b.State != "" {
		existing.State = b.State
	}
	existing.UpdatedAt = time.Now()
	return s.put(blockKey(b.ID), &existing)
}

func (s *Store) DeleteBlock(id string) error {
	return s.delete(blockKey(id))
}

func (s *Store) fetchBlocksByParentLocked(parentID string) ([]*transfermodel.BlockTransfer, error) {
	var out []*transfermodel.BlockTransfer
	err := s.scanPrefix(prefixBlock, func(val []byte) error {
		var b transfermodel.BlockTransfer
		if err := s.decode(val, &b); err != nil {
			return err
		}
		if b.ParentID == parentID {
			out = append(out, &b)
		}
		return nil
	})
	return out, err
}

func (s *Store) FetchBlocksByParent(parentID string) ([]*transfermodel.BlockTransfer, error) {
	return s.fetchBlocksByParentLocked(parentID)
}

func (s *Store) FetchRootBlocks() ([]*transfermodel.BlockTransfer, error) {
	var out []*transfermodel.BlockTransfer
	err := s.scanPrefix(prefixBlock, func(val []byte) error {
		var b transfermodel.BlockTransfer
		if err := s.decode(val, &b); err != nil {
			return err
		}
		if b.ParentID == "" {
			out = append(out, &b)
		}
		return nil
	})
	return out, err
}

// --- MultiBlobTransfer ---

func multiBlobKey(id string) string { return prefixMultiBlob + id }

func (s *Store) InsertMultiBlob(m *transfermodel.MultiBlobTransfer) error {
	now := time.Now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	return s.put(multiBlobKey(m.ID), m)
}

func (s *Store) UpdateMultiBlob(m *transfermodel.MultiBlobTransfer) error {
	var existing transfermodel.MultiBlobTransfer
	if err := s.get(multiBlobKey(m.ID), &existing); err != nil {
		if err == store.ErrNotFound {
			return s.InsertMultiBlob(m)
		}
		return err
	}
	if m.CompletedBlobs != 0 {
		existing.CompletedBlobs = m.CompletedBlobs
	}
	if len(m.BlobIDs) != 0 {
		existing.BlobIDs = m.BlobIDs
	}
	existing.UpdatedAt = time.Now()
	return s.put(multiBlobKey(m.ID), &existing)
}

func (s *Store) FetchMultiBlob(id string) (*transfermodel.MultiBlobTransfer, error) {
	var m transfermodel.MultiBlobTransfer
	if err := s.get(multiBlobKey(id), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) FetchRootMultiBlobs() ([]*transfermodel.MultiBlobTransfer, error) {
	var out []*transfermodel.MultiBlobTransfer
	err := s.scanPrefix(prefixMultiBlob, func(val []byte) error {
		var m transfermodel.MultiBlobTransfer
		if err := s.decode(val, &m); err != nil {
			return err
		}
		out = append(out, &m)
		return nil
	})
	return out, err
}

// stripPrefix returns key with prefix removed.
func stripPrefix(key, prefix string) string { return strings.TrimPrefix(key, prefix) }
