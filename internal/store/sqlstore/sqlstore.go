// Package sqlstore is the default store.Store backend: a relational
// schema over GORM, grounded on materials-commons-hydra's
// pkg/mcdb (MustConnectToDB's retry-on-open idiom, gorm.Config with a
// silenced logger, driver-swappable DSN). Unlike badgerstore's
// key/value records, sqlstore models the parent/child relationship as
// a real foreign key with ON DELETE CASCADE, which is the more
// natural fit for the "parent IS NULL" root-fetch predicate and
// cascade-delete invariants.
package sqlstore

import (
	"time"

	"github.com/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/arvensis/blobtransfer/internal/store"
	"github.com/arvensis/blobtransfer/internal/transfermodel"
)

const maxOpenRetries = 5

// Store is a GORM-backed store.Store.
type Store struct {
	db *gorm.DB
}

var _ store.Store = (*Store)(nil)

// OpenSQLite opens (or creates) a SQLite database at path, retrying
// the way MustConnectToDB does for the MySQL case below. path may be
// ":memory:" for tests.
func OpenSQLite(path string) (*Store, error) {
	return open(func() (*gorm.DB, error) {
		return gorm.Open(sqlite.Open(path), gormConfig())
	})
}

// OpenMySQL opens a MySQL database via dsn, e.g. produced the way
// mcdb.MakeDSNFromEnv builds one.
func OpenMySQL(dsn string) (*Store, error) {
	return open(func() (*gorm.DB, error) {
		return gorm.Open(mysql.Open(dsn), gormConfig())
	})
}

func gormConfig() *gorm.Config {
	return &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
}

func open(dial func() (*gorm.DB, error)) (*Store, error) {
	var (
		db  *gorm.DB
		err error
	)
	for attempt := 1; ; attempt++ {
		db, err = dial()
		if err == nil {
			break
		}
		if attempt >= maxOpenRetries {
			return nil, errors.Wrap(err, "sqlstore: open")
		}
		time.Sleep(time.Second)
	}
	if err := db.AutoMigrate(&blobRow{}, &blockRow{}, &multiBlobRow{}); err != nil {
		return nil, errors.Wrap(err, "sqlstore: automigrate")
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Save is a no-op: every write below commits within its own GORM
// call, so there is no pending buffer to flush. It exists to satisfy
// store.Store for callers that checkpoint across backends uniformly.
func (s *Store) Save() error { return nil }

// --- BlobTransfer ---

func (s *Store) InsertBlob(b *transfermodel.BlobTransfer) error {
	now := time.Now()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	row := blobRowFromModel(b)
	if err := s.db.Create(row).Error; err != nil {
		return errors.Wrap(err, "sqlstore: insert blob")
	}
	return nil
}

func (s *Store) UpdateBlob(b *transfermodel.BlobTransfer) error {
	var existing blobRow
	err := s.db.First(&existing, "id = ?", b.ID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.InsertBlob(b)
	}
	if err != nil {
		return errors.Wrap(err, "sqlstore: fetch blob for update")
	}
	updates := map[string]interface{}{"updated_at": time.Now()}
	if b.State != "" {
		updates["state"] = string(b.State)
	}
	if b.TotalBlocks != 0 {
		updates["total_blocks"] = b.TotalBlocks
	}
	if b.InitialCallComplete {
		updates["initial_call_complete"] = true
	}
	if b.Error != "" {
		updates["error"] = b.Error
	}
	if b.Properties.TotalSize != 0 {
		updates["total_size"] = b.Properties.TotalSize
	}
	if b.Properties.BlockSize != 0 {
		updates["block_size"] = b.Properties.BlockSize
	}
	if b.Properties.ContentType != "" {
		updates["content_type"] = b.Properties.ContentType
	}
	if b.MultiBlobTransferID != "" {
		updates["multi_blob_transfer_id"] = b.MultiBlobTransferID
	}
	if err := s.db.Model(&blobRow{}).Where("id = ?", b.ID).Updates(updates).Error; err != nil {
		return errors.Wrap(err, "sqlstore: update blob")
	}
	return nil
}

func (s *Store) FetchBlob(id string) (*transfermodel.BlobTransfer, error) {
	var row blobRow
	err := s.db.First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "sqlstore: fetch blob")
	}
	return row.toModel(), nil
}

func (s *Store) FetchRootBlobs() ([]*transfermodel.BlobTransfer, error) {
	var rows []blobRow
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "sqlstore: fetch root blobs")
	}
	out := make([]*transfermodel.BlobTransfer, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}

func (s *Store) DeleteBlob(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("parent_id = ?", id).Delete(&blockRow{}).Error; err != nil {
			return errors.Wrap(err, "sqlstore: cascade delete blocks")
		}
		if err := tx.Where("id = ?", id).Delete(&blobRow{}).Error; err != nil {
			return errors.Wrap(err, "sqlstore: delete blob")
		}
		return nil
	})
}

// --- BlockTransfer ---

func (s *Store) InsertBlock(b *transfermodel.BlockTransfer) error {
	now := time.Now()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	if err := s.db.Create(blockRowFromModel(b)).Error; err != nil {
		return errors.Wrap(err, "sqlstore: insert block")
	}
	return nil
}

func (s *Store) UpdateBlock(b *transfermodel.BlockTransfer) error {
	var existing blockRow
	err := s.db.First(&existing, "id = ?", b.ID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.InsertBlock(b)
	}
	if err != nil {
		return errors.Wrap(err, "sqlstore: fetch block for update")
	}
	updates := map[string]interface{}{"updated_at": time.Now()}
	if b.State != "" {
		updates["state"] = string(b.State)
	}
	if err := s.db.Model(&blockRow{}).Where("id = ?", b.ID).Updates(updates).Error; err != nil {
		return errors.Wrap(err, "sqlstore: update block")
	}
	return nil
}

func (s *Store) DeleteBlock(id string) error {
	if err := s.db.Where("id = ?", id).Delete(&blockRow{}).Error; err != nil {
		return errors.Wrap(err, "sqlstore: delete block")
	}
	return nil
}

func (s *Store) FetchBlocksByParent(parentID string) ([]*transfermodel.BlockTransfer, error) {
	var rows []blockRow
	if err := s.db.Where("parent_id = ?", parentID).Order("start_range asc").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "sqlstore: fetch blocks by parent")
	}
	out := make([]*transfermodel.BlockTransfer, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}

func (s *Store) FetchRootBlocks() ([]*transfermodel.BlockTransfer, error) {
	var rows []blockRow
	if err := s.db.Where("parent_id = ?", "").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "sqlstore: fetch root blocks")
	}
	out := make([]*transfermodel.BlockTransfer, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}

// --- MultiBlobTransfer ---

func (s *Store) InsertMultiBlob(m *transfermodel.MultiBlobTransfer) error {
	now := time.Now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	if err := s.db.Create(multiBlobRowFromModel(m)).Error; err != nil {
		return errors.Wrap(err, "sqlstore: insert multi-blob")
	}
	return nil
}

func (s *Store) UpdateMultiBlob(m *transfermodel.MultiBlobTransfer) error {
	var existing multiBlobRow
	err := s.db.First(&existing, "id = ?", m.ID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.InsertMultiBlob(m)
	}
	if err != nil {
		return errors.Wrap(err, "sqlstore: fetch multi-blob for update")
	}
	updates := map[string]interface{}{"updated_at": time.Now()}
	if m.CompletedBlobs != 0 {
		updates["completed_blobs"] = m.CompletedBlobs
	}
	if len(m.BlobIDs) != 0 {
		updates["blob_ids_joined"] = joinIDs(m.BlobIDs)
	}
	if err := s.db.Model(&multiBlobRow{}).Where("id = ?", m.ID).Updates(updates).Error; err != nil {
		return errors.Wrap(err, "sqlstore: update multi-blob")
	}
	return nil
}

func (s *Store) FetchMultiBlob(id string) (*transfermodel.MultiBlobTransfer, error) {
	var row multiBlobRow
	err := s.db.First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "sqlstore: fetch multi-blob")
	}
	return row.toModel(), nil
}

func (s *Store) FetchRootMultiBlobs() ([]*transfermodel.MultiBlobTransfer, error) {
	var rows []multiBlobRow
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "sqlstore: fetch root multi-blobs")
	}
	out := make([]*transfermodel.MultiBlobTransfer, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}
