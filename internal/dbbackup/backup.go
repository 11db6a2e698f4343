package dbbackup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/renameio"

	"wbh-go/internal/transfer"
	"wbh-go/internal/wbh"
)

// Snapshotter writes a consistent copy of the live catalog to dest.
// *catalog.SQLiteCatalog implements it.
type Snapshotter interface {
	BackupTo(ctx context.Context, dest string) error
}

// Codec backs the catalog up through the transfer engine and restores it.
type Codec struct {
	engine  *transfer.Engine
	tempDir string
	clock   wbh.Clock
	logger  wbh.Logger
}

// NewCodec creates a Codec staging snapshots in tempDir.
func NewCodec(engine *transfer.Engine, tempDir string, clock wbh.Clock, logger wbh.Logger) *Codec {
	if clock == nil {
		clock = wbh.RealClock{}
	}
	if logger == nil {
		logger = wbh.NewNopLogger()
	}
	return &Codec{engine: engine, tempDir: tempDir, clock: clock, logger: logger}
}

// Backup snapshots the catalog, uploads the snapshot encrypted under
// secret to destination, posts the recovery code there as text messages
// and returns the code segments in order.
func (c *Codec) Backup(ctx context.Context, snap Snapshotter, name, secret, destination string) ([]string, error) {
	if secret == "" {
		return nil, fmt.Errorf("backup secret is not set")
	}
	if err := os.MkdirAll(c.tempDir, 0700); err != nil {
		return nil, fmt.Errorf("creating temp dir: %w", err)
	}
	snapPath := filepath.Join(c.tempDir, fmt.Sprintf("wbh_%s.db", c.clock.Now().Format("20060102150405")))
	if err := snap.BackupTo(ctx, snapPath); err != nil {
		return nil, err
	}
	defer os.Remove(snapPath)

	info, err := os.Stat(snapPath)
	if err != nil {
		return nil, fmt.Errorf("stat snapshot: %w", err)
	}

	// The snapshot goes through the same path as any watched file, with
	// the backup secret standing in for a BlackHole's own.
	hole := &wbh.BlackHole{
		Name:        "catalog-backup",
		RootPath:    c.tempDir,
		Destination: destination,
		Encryption:  wbh.EncryptionChaCha20Poly1305,
		Secret:      secret,
	}
	item := &wbh.WatchItem{Name: name, Size: info.Size(), State: wbh.StateUploading}
	err = c.engine.Send(ctx, hole, item, snapPath, func(ch *wbh.Chunk) error {
		ch.State = wbh.StateDone
		item.Chunks = append(item.Chunks, ch)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("uploading catalog snapshot: %w", err)
	}

	refs := make([]transfer.ChunkRef, len(item.Chunks))
	for i, ch := range item.Chunks {
		refs[i] = transfer.RefFromChunk(ch)
	}
	code, err := EncodeCode(refs, secret)
	if err != nil {
		return nil, err
	}

	t := c.engine.Transport()
	segments := Split(code, t.MessageLimit())
	for i, seg := range segments {
		if _, err := t.PostMessage(ctx, destination, seg); err != nil {
			return nil, fmt.Errorf("posting recovery code segment %d of %d: %w", i+1, len(segments), err)
		}
	}
	c.logger.Info("catalog backed up",
		"size", info.Size(),
		"chunks", len(refs),
		"segments", len(segments),
		"destination", destination)
	return segments, nil
}

// Fetch rebuilds the catalog file described by code into w.
func (c *Codec) Fetch(ctx context.Context, code, secret string, w io.Writer) (int64, error) {
	refs, err := DecodeCode(code, secret)
	if err != nil {
		return 0, err
	}
	var written int64
	for _, ref := range refs {
		data, err := c.engine.FetchChunk(ctx, ref, secret)
		if err != nil {
			return written, err
		}
		n, err := w.Write(data)
		written += int64(n)
		if err != nil {
			return written, fmt.Errorf("writing chunk %d: %w", ref.Index, err)
		}
	}
	return written, nil
}

// Restore rebuilds the catalog from code and atomically replaces the file
// at dbPath, keeping up to keep previous generations as
// <dbPath>.backup-1 (newest) to <dbPath>.backup-<keep>. The catalog must
// not be open while this runs.
func (c *Codec) Restore(ctx context.Context, code, secret, dbPath string, keep int) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(dbPath), err)
	}
	pf, err := renameio.TempFile(filepath.Dir(dbPath), dbPath)
	if err != nil {
		return fmt.Errorf("creating restore file: %w", err)
	}
	defer pf.Cleanup()

	n, err := c.Fetch(ctx, code, secret, pf)
	if err != nil {
		return err
	}
	if err := rotate(dbPath, keep); err != nil {
		return err
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replacing %s: %w", dbPath, err)
	}
	c.logger.Info("catalog restored", "path", dbPath, "size", n, "kept", keep)
	return nil
}

// rotate shifts path.backup-i to path.backup-(i+1) and path to
// path.backup-1, dropping whatever falls past keep.
func rotate(path string, keep int) error {
	if keep <= 0 {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	for i := keep - 1; i >= 1; i-- {
		src := backupName(path, i)
		if err := os.Rename(src, backupName(path, i+1)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("rotating %s: %w", src, err)
		}
	}
	if err := os.Rename(path, backupName(path, 1)); err != nil {
		return fmt.Errorf("rotating %s: %w", path, err)
	}
	return nil
}

func backupName(path string, n int) string {
	return fmt.Sprintf("%s.backup-%d", path, n)
}
