package transfer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/renameio"

	"wbh-go/internal/crypto"
	"wbh-go/internal/wbh"
)

// ChunkRef is everything needed to fetch and verify one chunk.
type ChunkRef struct {
	Index        int
	BlobID       string
	Encryption   wbh.EncryptionType
	Material     string
	ChecksumType wbh.ChecksumType
	Checksum     string
}

// RefFromCatalog converts a catalog chunk row.
func RefFromCatalog(c *wbh.CatalogChunk) ChunkRef {
	return ChunkRef{
		Index:        c.Index,
		BlobID:       c.BlobID,
		Encryption:   c.Encryption,
		Material:     c.EncryptionMaterial,
		ChecksumType: c.ChecksumType,
		Checksum:     c.Checksum,
	}
}

// RefFromChunk converts a freshly uploaded chunk.
func RefFromChunk(c *wbh.Chunk) ChunkRef {
	return ChunkRef{
		Index:        c.Index,
		BlobID:       c.BlobHandle,
		Encryption:   c.Encryption,
		Material:     c.EncryptionMaterial,
		ChecksumType: c.ChecksumType,
		Checksum:     c.Checksum,
	}
}

// FetchChunk downloads, decrypts and verifies one chunk and returns its
// plaintext. Transport failures are retried up to the engine's limit;
// authentication and checksum failures are not.
func (e *Engine) FetchChunk(ctx context.Context, ref ChunkRef, secret string) ([]byte, error) {
	data, err := e.fetchWithRetry(ctx, ref)
	if err != nil {
		return nil, err
	}

	if ref.Encryption != wbh.EncryptionNone {
		key, nonce, err := crypto.ParseMaterial(ref.Material)
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", ref.Index, err)
		}
		data, err = crypto.Decrypt(data, []byte(secret), key, nonce)
		if err != nil {
			return nil, fmt.Errorf("decrypting chunk %d: %w", ref.Index, err)
		}
	}

	if ref.ChecksumType == wbh.ChecksumSHA256 {
		if got := crypto.HashBytes(data); got != ref.Checksum {
			return nil, &wbh.ChecksumMismatchError{Name: fmt.Sprintf("chunk %d", ref.Index), Want: ref.Checksum, Got: got}
		}
	}
	return data, nil
}

// fetchWithRetry fetches ref into a temp file and returns its bytes.
func (e *Engine) fetchWithRetry(ctx context.Context, ref ChunkRef) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= e.maxRetry; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := e.fetchOnce(ctx, ref)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if !wbh.IsRetryable(err) {
			break
		}
		e.logger.Warn("chunk fetch failed",
			"chunk", ref.Index,
			"blob", ref.BlobID,
			"attempt", attempt,
			"max", e.maxRetry,
			"error", err)
	}
	return nil, fmt.Errorf("fetching chunk %d: %w", ref.Index, lastErr)
}

func (e *Engine) fetchOnce(ctx context.Context, ref ChunkRef) ([]byte, error) {
	tmpPath := filepath.Join(e.tempDir, wbh.TempChunkName(e.clock.Now(), ref.Index))
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("creating temp chunk: %w", err)
	}
	defer os.Remove(tmpPath)
	defer tmp.Close()

	if err := e.transport.Fetch(ctx, ref.BlobID, tmp); err != nil {
		return nil, err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewinding temp chunk: %w", err)
	}
	data, err := io.ReadAll(tmp)
	if err != nil {
		return nil, fmt.Errorf("reading temp chunk: %w", err)
	}
	return data, nil
}

// Receive writes the plaintext of chunks, in index order, to w and checks
// the whole stream against checksum when checksumType is SHA-256. It
// returns the number of bytes written.
func (e *Engine) Receive(ctx context.Context, refs []ChunkRef, secret string, checksumType wbh.ChecksumType, checksum string, w io.Writer) (int64, error) {
	for i, ref := range refs {
		if ref.Index != i {
			return 0, fmt.Errorf("%w: chunk at position %d has index %d", wbh.ErrCatalog, i, ref.Index)
		}
	}

	h := sha256.New()
	out := io.MultiWriter(w, h)
	var written int64
	for _, ref := range refs {
		data, err := e.FetchChunk(ctx, ref, secret)
		if err != nil {
			return written, err
		}
		n, err := out.Write(data)
		written += int64(n)
		if err != nil {
			return written, fmt.Errorf("writing chunk %d: %w", ref.Index, err)
		}
	}

	if checksumType == wbh.ChecksumSHA256 {
		if got := hex.EncodeToString(h.Sum(nil)); got != checksum {
			return written, &wbh.ChecksumMismatchError{Name: "reconstructed file", Want: checksum, Got: got}
		}
	}
	return written, nil
}

// Download rebuilds a cataloged item, file or directory, under destDir
// and returns the number of file bytes written. Nothing is left at the
// destination path of a file that fails verification.
func (e *Engine) Download(ctx context.Context, cat wbh.Catalog, item *wbh.CatalogItem, secret, destDir string) (int64, error) {
	dest := filepath.Join(destDir, filepath.Base(item.Filename))
	if item.IsDir {
		return e.downloadDir(ctx, cat, item, secret, dest)
	}
	return e.downloadFile(ctx, cat, item, secret, dest)
}

func (e *Engine) downloadFile(ctx context.Context, cat wbh.Catalog, item *wbh.CatalogItem, secret, dest string) (int64, error) {
	if item.UploadedAt == nil {
		return 0, fmt.Errorf("%w: %s has not finished uploading", wbh.ErrCatalog, item.FullPath)
	}
	rows, err := cat.GetChunks(ctx, item.BlackHoleID, item.ID)
	if err != nil {
		return 0, err
	}
	if int64(len(rows)) != item.ChunksCount {
		return 0, fmt.Errorf("%w: %s has %d chunks cataloged, want %d", wbh.ErrCatalog, item.FullPath, len(rows), item.ChunksCount)
	}
	refs := make([]ChunkRef, len(rows))
	for i, r := range rows {
		refs[i] = RefFromCatalog(r)
	}

	pf, err := renameio.TempFile(filepath.Dir(dest), dest)
	if err != nil {
		return 0, fmt.Errorf("creating %s: %w", dest, err)
	}
	defer pf.Cleanup()

	n, err := e.Receive(ctx, refs, secret, item.ChecksumType, item.Checksum, pf)
	if err != nil {
		return n, fmt.Errorf("downloading %s: %w", item.FullPath, err)
	}
	if err := pf.Chmod(0644); err != nil {
		return n, fmt.Errorf("setting mode of %s: %w", dest, err)
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return n, fmt.Errorf("replacing %s: %w", dest, err)
	}
	e.logger.Info("file downloaded", "item", item.FullPath, "size", n, "chunks", len(refs))
	return n, nil
}

func (e *Engine) downloadDir(ctx context.Context, cat wbh.Catalog, item *wbh.CatalogItem, secret, dest string) (int64, error) {
	if err := os.MkdirAll(dest, 0755); err != nil {
		return 0, fmt.Errorf("creating %s: %w", dest, err)
	}
	children, err := cat.GetChildren(ctx, item.BlackHoleID, item.ID)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, child := range children {
		n, err := e.Download(ctx, cat, child, secret, dest)
		total += n
		if err != nil {
			return total, err
		}
	}

	if item.ChecksumType == wbh.ChecksumSHA256 {
		got, err := crypto.DirChecksum(dest)
		if err != nil {
			return total, err
		}
		if got != item.Checksum {
			return total, &wbh.ChecksumMismatchError{Name: item.FullPath, Want: item.Checksum, Got: got}
		}
	}
	e.logger.Info("folder downloaded", "item", item.FullPath, "size", total, "children", len(children))
	return total, nil
}
