package wbh

import (
	"context"
	"time"
)

// CatalogBlackHole is a persisted blackhole row.
type CatalogBlackHole struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	Destination string    `json:"destination"`
	CreatedAt   time.Time `json:"created_at"`
}

// CatalogItem is a persisted file or directory row.
// ParentID is zero for items at the root of a blackhole.
type CatalogItem struct {
	ID           int64        `json:"id"`
	BlackHoleID  int64        `json:"blackhole_id"`
	ParentID     int64        `json:"parent_id,omitempty"`
	Filename     string       `json:"filename"`
	IsDir        bool         `json:"is_dir"`
	Size         int64        `json:"size"`
	ItemsCount   int64        `json:"items_count"`
	ChunksCount  int64        `json:"chunks_count"`
	Checksum     string       `json:"checksum"`
	ChecksumType ChecksumType `json:"checksum_type"`
	RootPath     string       `json:"root_path"`
	FullPath     string       `json:"full_path"`
	CreatedAt    time.Time    `json:"created_at"`
	ModifiedAt   time.Time    `json:"modified_at"`
	UploadedAt   *time.Time   `json:"uploaded_at,omitempty"`
}

// CatalogChunk is a persisted chunk row.
type CatalogChunk struct {
	ID                 int64          `json:"id"`
	BlackHoleID        int64          `json:"blackhole_id"`
	ItemID             int64          `json:"item_id"`
	Index              int            `json:"index"`
	Size               int64          `json:"size"`
	Filename           string         `json:"filename"`
	Checksum           string         `json:"checksum"`
	ChecksumType       ChecksumType   `json:"checksum_type"`
	Encryption         EncryptionType `json:"encryption"`
	EncryptionMaterial string         `json:"encryption_data,omitempty"`
	MessageID          string         `json:"msg_id"`
	BlobID             string         `json:"file_id"`
	UploadedAt         time.Time      `json:"uploaded_at"`
}

// Catalog is the persistent record of blackholes, items and chunks.
// Lookups return nil and no error when the row does not exist.
type Catalog interface {
	// GetOrCreateBlackHole resolves a blackhole id by its unique name.
	GetOrCreateBlackHole(ctx context.Context, name, destination string) (int64, error)

	// AddItem inserts node and its whole subtree under parentID (zero for root)
	// in one transaction, parents first. It returns the catalog id of every
	// inserted item keyed by local id. Items already inserted under the same
	// local id are returned as they are, so a retried insert is a no-op.
	AddItem(ctx context.Context, blackholeID, parentID int64, node *ItemNode) (map[string]int64, error)

	// AddChunk records an uploaded chunk. The (item, index) pair is unique;
	// writing the same index twice updates the row.
	AddChunk(ctx context.Context, blackholeID, itemID int64, chunk *Chunk) (int64, error)

	// UpdateChunkCount stores the final chunk count and marks the item uploaded.
	UpdateChunkCount(ctx context.Context, itemID int64, count int) error

	// AddBlackHoleSize grows the recorded total size of a blackhole.
	AddBlackHoleSize(ctx context.Context, blackholeID int64, delta int64) error

	// FinalizeItem stores the final chunk count, marks the item uploaded and,
	// the first time only, adds size to the blackhole total. All of it
	// commits together.
	FinalizeItem(ctx context.Context, blackholeID, itemID int64, count int, size int64) error

	GetBlackHoles(ctx context.Context) ([]*CatalogBlackHole, error)
	GetBlackHole(ctx context.Context, id int64) (*CatalogBlackHole, error)

	// GetChildren lists the items whose parent is parentID, or the root items when parentID is zero.
	GetChildren(ctx context.Context, blackholeID, parentID int64) ([]*CatalogItem, error)

	// GetItem loads a single item without its subtree.
	GetItem(ctx context.Context, blackholeID, itemID int64) (*CatalogItem, error)

	// GetChunks lists an item's chunks ordered by index.
	GetChunks(ctx context.Context, blackholeID, itemID int64) ([]*CatalogChunk, error)

	Close() error
}
