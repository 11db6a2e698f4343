package wbh

import (
	"fmt"
	"path"
	"path/filepath"
	"time"
)

// Chunk is one contiguous byte range of one file, the unit of transport,
// checksum and encryption. Index is 0-based with no gaps within a file.
type Chunk struct {
	Index        int            `json:"index"`
	Size         int64          `json:"size"`
	TempName     string         `json:"filename"`
	TempPath     string         `json:"temp_path,omitempty"`
	OriginalName string         `json:"org_filename"`
	OriginalPath string         `json:"org_fullpath"`
	OriginalSize int64          `json:"org_size"`
	Checksum     string         `json:"checksum"` // hex SHA-256 of the plaintext
	ChecksumType ChecksumType   `json:"checksum_type"`
	Encryption   EncryptionType `json:"encryption"`
	// EncryptionMaterial is "<hex key>O<hex nonce>", present iff Encryption is not None.
	EncryptionMaterial string `json:"encryption_data,omitempty"`
	MessageHandle      string `json:"msg_id,omitempty"`
	BlobHandle         string `json:"file_id,omitempty"`
	State              State  `json:"state"`
	CatalogID          int64  `json:"db_id,omitempty"`
}

// WatchItem is a filesystem entry discovered under a BlackHole root.
//
// Children holds the local ids of a directory's direct children; the queue
// owns the items those ids point at. Files carry Chunks instead.
type WatchItem struct {
	LocalID       string   `json:"qid"`
	Name          string   `json:"filename"`
	IsDir         bool     `json:"is_dir"`
	Size          int64    `json:"size"`
	State         State    `json:"state"`
	PathSegments  []string `json:"parents"`
	ParentLocalID string   `json:"parent_qid,omitempty"`
	Children      []string `json:"-"`
	Chunks        []*Chunk `json:"chunks,omitempty"`
	TotalChildren int      `json:"total_children"`

	CatalogID    int64        `json:"db_id,omitempty"`
	Checksum     string       `json:"checksum,omitempty"`
	ChecksumType ChecksumType `json:"checksum_type"`
	ModifiedAt   time.Time    `json:"modified_at"`
	CreatedAt    time.Time    `json:"created_at"`
}

// RelPath returns the item's path relative to the BlackHole root,
// using the OS separator.
func (w *WatchItem) RelPath() string {
	return filepath.Join(append(append([]string{}, w.PathSegments...), w.Name)...)
}

// Key identifies an entry for "already queued" checks. Two items with the
// same parent segments and name are the same entry regardless of local id.
func (w *WatchItem) Key() string {
	return path.Join(append(append([]string{}, w.PathSegments...), w.Name)...)
}

// SameEntry reports whether two items refer to the same filesystem entry.
func (w *WatchItem) SameEntry(other *WatchItem) bool {
	return other != nil && w.Key() == other.Key()
}

// Validate checks the structural invariants of a single item.
func (w *WatchItem) Validate() error {
	if w.Name == "" {
		return fmt.Errorf("%w: item %s has no name", ErrSerialization, w.LocalID)
	}
	if w.IsDir && len(w.Chunks) > 0 {
		return fmt.Errorf("%w: directory %s carries chunks", ErrSerialization, w.Key())
	}
	if !w.IsDir && len(w.Children) > 0 {
		return fmt.Errorf("%w: file %s carries children", ErrSerialization, w.Key())
	}
	for i, ch := range w.Chunks {
		if ch.Index != i {
			return fmt.Errorf("%w: file %s chunk at position %d has index %d", ErrSerialization, w.Key(), i, ch.Index)
		}
	}
	return nil
}

// ChunksDone reports whether every recorded chunk has been confirmed.
func (w *WatchItem) ChunksDone() bool {
	for _, ch := range w.Chunks {
		if ch.State != StateDone {
			return false
		}
	}
	return true
}

// UploadedBytes returns the number of source bytes covered by confirmed chunks.
func (w *WatchItem) UploadedBytes() int64 {
	var n int64
	for _, ch := range w.Chunks {
		if ch.State == StateDone {
			n += ch.OriginalChunkSize()
		}
	}
	return n
}

// OriginalChunkSize is the number of plaintext bytes the chunk covers.
// Encrypted chunks are larger on the wire by the AEAD tag.
func (c *Chunk) OriginalChunkSize() int64 {
	if c.Encryption == EncryptionChaCha20Poly1305 {
		return c.Size - AEADOverhead
	}
	return c.Size
}

// AEADOverhead is the authentication tag length added to every encrypted chunk.
const AEADOverhead = 16

// ItemNode is a WatchItem with its subtree resolved. It is the input to
// recursive cataloging, where parents must be inserted before children.
type ItemNode struct {
	Item     *WatchItem
	Children []*ItemNode
}

// Walk visits n and its descendants depth-first, parent before children.
func (n *ItemNode) Walk(fn func(*ItemNode) error) error {
	if err := fn(n); err != nil {
		return err
	}
	for _, child := range n.Children {
		if err := child.Walk(fn); err != nil {
			return err
		}
	}
	return nil
}
