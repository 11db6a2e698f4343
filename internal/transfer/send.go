package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"wbh-go/internal/crypto"
	"wbh-go/internal/wbh"
)

// Send uploads the chunks of the file at path that item does not have yet.
//
// It seeks past the len(item.Chunks) chunks already confirmed and stops at
// the first chunk that fails, so the next call resumes at exactly that
// index. confirm is called for every uploaded chunk in index order; it
// must record the chunk (appending it to item.Chunks) before returning
// nil, and an error from it stops the upload.
func (e *Engine) Send(ctx context.Context, hole *wbh.BlackHole, item *wbh.WatchItem, path string, confirm func(*wbh.Chunk) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", item.Key(), err)
	}
	defer f.Close()

	index := len(item.Chunks)
	if _, err := f.Seek(int64(index)*e.chunkSize, io.SeekStart); err != nil {
		return fmt.Errorf("seeking to chunk %d of %s: %w", index, item.Key(), err)
	}

	buf := make([]byte, e.chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := io.ReadFull(f, buf)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("reading chunk %d of %s: %w", index, item.Key(), err)
		}

		ch, err := e.sendChunk(ctx, hole, item, index, buf[:n])
		if err != nil {
			e.logger.Warn("chunk upload failed",
				"blackhole", hole.Name,
				"item", item.Key(),
				"chunk", index,
				"error", err)
			return err
		}
		if err := confirm(ch); err != nil {
			return fmt.Errorf("confirming chunk %d of %s: %w", index, item.Key(), err)
		}
		if int64(n) < e.chunkSize {
			return nil
		}
		index++
	}
}

// sendChunk checksums, optionally encrypts, stages and uploads one chunk.
func (e *Engine) sendChunk(ctx context.Context, hole *wbh.BlackHole, item *wbh.WatchItem, index int, data []byte) (*wbh.Chunk, error) {
	ch := &wbh.Chunk{
		Index:        index,
		OriginalName: item.Name,
		OriginalPath: item.Key(),
		OriginalSize: item.Size,
		Checksum:     crypto.HashBytes(data),
		ChecksumType: wbh.ChecksumSHA256,
		Encryption:   hole.Encryption,
		State:        wbh.StateUploading,
	}

	payload := data
	if hole.Encryption == wbh.EncryptionChaCha20Poly1305 {
		sealed, err := crypto.Encrypt(data, []byte(hole.Secret), nil, nil)
		if err != nil {
			return nil, err
		}
		payload = sealed.Ciphertext
		ch.EncryptionMaterial = crypto.FormatMaterial(sealed.Key, sealed.Nonce)
	}
	ch.Size = int64(len(payload))
	ch.TempName = wbh.TempChunkName(e.clock.Now(), index)
	ch.TempPath = filepath.Join(e.tempDir, ch.TempName)

	if err := os.WriteFile(ch.TempPath, payload, 0600); err != nil {
		return nil, fmt.Errorf("writing temp chunk %s: %w", ch.TempName, err)
	}
	defer os.Remove(ch.TempPath)

	tf, err := os.Open(ch.TempPath)
	if err != nil {
		return nil, fmt.Errorf("opening temp chunk %s: %w", ch.TempName, err)
	}
	defer tf.Close()

	h, err := e.transport.Upload(ctx, hole.Destination, wbh.Document{
		Name:    ch.TempName,
		Size:    ch.Size,
		Body:    tf,
		Caption: caption(item, ch),
	})
	if err != nil {
		return nil, err
	}
	ch.MessageHandle = h.MessageID
	ch.BlobHandle = h.BlobID
	e.logger.Debug("chunk sent",
		"blackhole", hole.Name,
		"item", item.Key(),
		"chunk", index,
		"size", ch.Size,
		"blob", h.BlobID)
	return ch, nil
}

func caption(item *wbh.WatchItem, ch *wbh.Chunk) string {
	return fmt.Sprintf("%s\n%s\n%d bytes\n%s", item.Name, item.Key(), item.Size, ch.TempName)
}
