package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"wbh-go/internal/wbh"
)

// FileSystemTransport stores documents and messages under a local root:
//
//	<root>/
//	  <destination>/
//	    blobs/<id>-<name>        (document bytes)
//	    blobs/<id>-<name>.txt    (caption)
//	    messages/<id>.txt        (posted text)
//
// It suits a mounted network share or an external disk.
type FileSystemTransport struct {
	root  string
	limit int
	ids   wbh.IDGenerator
}

// NewFileSystemTransport creates a transport rooted at root.
func NewFileSystemTransport(root string, messageLimit int, ids wbh.IDGenerator) (*FileSystemTransport, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create transport root: %w", err)
	}
	if ids == nil {
		ids = wbh.UUIDGenerator{}
	}
	return &FileSystemTransport{root: root, limit: messageLimit, ids: ids}, nil
}

// destDir validates destination as a single path segment.
func (f *FileSystemTransport) destDir(destination string) (string, error) {
	if destination == "" || destination != filepath.Base(destination) || destination == "." || destination == ".." {
		return "", fmt.Errorf("%w: invalid destination %q", wbh.ErrTransport, destination)
	}
	return filepath.Join(f.root, destination), nil
}

func (f *FileSystemTransport) Upload(ctx context.Context, destination string, doc wbh.Document) (wbh.RemoteHandle, error) {
	dir, err := f.destDir(destination)
	if err != nil {
		return wbh.RemoteHandle{}, err
	}
	blobs := filepath.Join(dir, "blobs")
	if err := os.MkdirAll(blobs, 0755); err != nil {
		return wbh.RemoteHandle{}, fmt.Errorf("%w: creating %s: %w", wbh.ErrTransport, blobs, err)
	}

	id := f.ids.New()
	name := id + "-" + filepath.Base(doc.Name)
	if err := writeFile(filepath.Join(blobs, name), doc.Body, doc.Size); err != nil {
		return wbh.RemoteHandle{}, err
	}
	if doc.Caption != "" {
		if err := os.WriteFile(filepath.Join(blobs, name+".txt"), []byte(doc.Caption), 0644); err != nil {
			return wbh.RemoteHandle{}, fmt.Errorf("%w: writing caption: %w", wbh.ErrTransport, err)
		}
	}
	return wbh.RemoteHandle{MessageID: id, BlobID: destination + "/blobs/" + name}, nil
}

func (f *FileSystemTransport) Fetch(ctx context.Context, blobID string, w io.Writer) error {
	parts := strings.Split(blobID, "/")
	if len(parts) != 3 || parts[1] != "blobs" || parts[2] != filepath.Base(parts[2]) {
		return fmt.Errorf("%w: invalid blob id %q", wbh.ErrTransport, blobID)
	}
	dir, err := f.destDir(parts[0])
	if err != nil {
		return err
	}
	src, err := os.Open(filepath.Join(dir, "blobs", parts[2]))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: blob not found: %s", wbh.ErrTransport, blobID)
		}
		return fmt.Errorf("%w: opening blob: %w", wbh.ErrTransport, err)
	}
	defer src.Close()
	if _, err := io.Copy(w, src); err != nil {
		return fmt.Errorf("%w: reading blob: %w", wbh.ErrTransport, err)
	}
	return nil
}

func (f *FileSystemTransport) PostMessage(ctx context.Context, destination, text string) (string, error) {
	if err := checkMessage(text, f.limit); err != nil {
		return "", err
	}
	dir, err := f.destDir(destination)
	if err != nil {
		return "", err
	}
	messages := filepath.Join(dir, "messages")
	if err := os.MkdirAll(messages, 0755); err != nil {
		return "", fmt.Errorf("%w: creating %s: %w", wbh.ErrTransport, messages, err)
	}
	id := f.ids.New()
	if err := writeFile(filepath.Join(messages, id+".txt"), strings.NewReader(text), int64(len(text))); err != nil {
		return "", err
	}
	return id, nil
}

func (f *FileSystemTransport) MessageLimit() int { return f.limit }

// writeFile writes r to destPath through a temp file in the same
// directory, checking the size before the rename makes it visible.
func writeFile(destPath string, r io.Reader, expectedSize int64) error {
	tmp, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: creating temp file: %w", wbh.ErrTransport, err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("%w: writing data: %w", wbh.ErrTransport, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: closing temp file: %w", wbh.ErrTransport, err)
	}
	if written != expectedSize {
		return fmt.Errorf("%w: size mismatch: expected %d bytes, got %d", wbh.ErrTransport, expectedSize, written)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("%w: renaming temp file: %w", wbh.ErrTransport, err)
	}
	success = true
	return nil
}

var _ wbh.Transport = (*FileSystemTransport)(nil)
