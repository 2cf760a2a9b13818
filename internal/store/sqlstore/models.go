package sqlstore

import (
	"time"

	"github.com/arvensis/blobtransfer/internal/transfermodel"
)

// blobRow is the GORM row for transfermodel.BlobTransfer, grounded on
// the mcmodel.File style (plain struct, explicit TableName, json tags
// alongside GORM's implicit column mapping).
type blobRow struct {
	ID                  string `gorm:"primaryKey"`
	Direction           string
	Source              string
	Destination         string
	ClientRestorationID string `gorm:"index"`
	ContentType         string
	BlockSize           int64
	TotalSize           int64
	State               string `gorm:"index"`
	TotalBlocks         int
	InitialCallComplete bool
	Error               string
	MultiBlobTransferID string `gorm:"index"`
	CreatedAt           time.Time
	UpdatedAt           time.Time

	Blocks []blockRow `gorm:"foreignKey:ParentID;references:ID;constraint:OnDelete:CASCADE"`
}

func (blobRow) TableName() string { return "blob_transfers" }

func (r *blobRow) toModel() *transfermodel.BlobTransfer {
	return &transfermodel.BlobTransfer{
		ID:                  r.ID,
		Direction:           transfermodel.Direction(r.Direction),
		Source:              r.Source,
		Destination:         r.Destination,
		ClientRestorationID: r.ClientRestorationID,
		Properties: transfermodel.Properties{
			ContentType: r.ContentType,
			BlockSize:   r.BlockSize,
			TotalSize:   r.TotalSize,
		},
		State:               transfermodel.State(r.State),
		TotalBlocks:         r.TotalBlocks,
		InitialCallComplete: r.InitialCallComplete,
		Error:               r.Error,
		MultiBlobTransferID: r.MultiBlobTransferID,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
}

func blobRowFromModel(b *transfermodel.BlobTransfer) *blobRow {
	return &blobRow{
		ID:                  b.ID,
		Direction:           string(b.Direction),
		Source:              b.Source,
		Destination:         b.Destination,
		ClientRestorationID: b.ClientRestorationID,
		ContentType:         b.Properties.ContentType,
		BlockSize:           b.Properties.BlockSize,
		TotalSize:           b.Properties.TotalSize,
		State:               string(b.State),
		TotalBlocks:         b.TotalBlocks,
		InitialCallComplete: b.InitialCallComplete,
		Error:               b.Error,
		MultiBlobTransferID: b.MultiBlobTransferID,
		CreatedAt:           b.CreatedAt,
		UpdatedAt:           b.UpdatedAt,
	}
}

// blockRow is the GORM row for transfermodel.BlockTransfer.
type blockRow struct {
	ID         string `gorm:"primaryKey"`
	ParentID   string `gorm:"index"`
	StartRange int64
	EndRange   int64
	State      string `gorm:"index"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (blockRow) TableName() string { return "block_transfers" }

func (r *blockRow) toModel() *transfermodel.BlockTransfer {
	return &transfermodel.BlockTransfer{
		ID:         r.ID,
		ParentID:   r.ParentID,
		StartRange: r.StartRange,
		EndRange:   r.EndRange,
		State:      transfermodel.State(r.State),
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

func blockRowFromModel(b *transfermodel.BlockTransfer) *blockRow {
	return &blockRow{
		ID:         b.ID,
		ParentID:   b.ParentID,
		StartRange: b.StartRange,
		EndRange:   b.EndRange,
		State:      string(b.State),
		CreatedAt:  b.CreatedAt,
		UpdatedAt:  b.UpdatedAt,
	}
}

// multiBlobRow is the GORM row for transfermodel.MultiBlobTransfer.
// BlobIDs is stored as a comma-joined column; the batch is never large
// enough to warrant a join table for this aggregate-only record kind.
type multiBlobRow struct {
	ID             string `gorm:"primaryKey"`
	SourceRoot     string
	BlobIDsJoined  string
	TotalBlobs     int
	CompletedBlobs int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (multiBlobRow) TableName() string { return "multi_blob_transfers" }

func (r *multiBlobRow) toModel() *transfermodel.MultiBlobTransfer {
	return &transfermodel.MultiBlobTransfer{
		ID:             r.ID,
		SourceRoot:     r.SourceRoot,
		BlobIDs:        splitIDs(r.BlobIDsJoined),
		TotalBlobs:     r.TotalBlobs,
		CompletedBlobs: r.CompletedBlobs,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func multiBlobRowFromModel(m *transfermodel.MultiBlobTransfer) *multiBlobRow {
	return &multiBlobRow{
		ID:             m.ID,
		SourceRoot:     m.SourceRoot,
		BlobIDsJoined:  joinIDs(m.BlobIDs),
		TotalBlobs:     m.TotalBlobs,
		CompletedBlobs: m.CompletedBlobs,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func joinIDs(ids []string) string {
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += ","
		}
		out += id
	}
	return out
}

func splitIDs(joined string) []string {
	if joined == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(joined); i++ {
		if i == len(joined) || joined[i] == ',' {
			out = append(out, joined[start:i])
			start = i + 1
		}
	}
	return out
}
