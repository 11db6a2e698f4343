// Package transport holds the remote stores chunks and recovery codes are
// sent to. Every adapter implements wbh.Transport.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"

	"wbh-go/internal/wbh"
)

// MemoryTransport keeps documents and messages in memory. Failures can be
// injected for tests. It is safe for concurrent use.
type MemoryTransport struct {
	mu       sync.RWMutex
	limit    int
	blobs    map[string][]byte
	captions map[string]string
	messages map[string][]string // destination -> texts
	nextID   int

	failUploads map[int]bool // upload sequence numbers that fail
	uploads     int
	failFetch   map[string]int // blob id -> remaining failures
}

// NewMemoryTransport creates an empty memory transport with the given
// message limit.
func NewMemoryTransport(messageLimit int) *MemoryTransport {
	return &MemoryTransport{
		limit:       messageLimit,
		blobs:       make(map[string][]byte),
		captions:    make(map[string]string),
		messages:    make(map[string][]string),
		failUploads: make(map[int]bool),
		failFetch:   make(map[string]int),
	}
}

// FailUpload makes the n-th Upload call (1-based, counted from creation) fail.
func (m *MemoryTransport) FailUpload(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failUploads[n] = true
}

// FailFetch makes the next times Fetch calls for blobID fail.
func (m *MemoryTransport) FailFetch(blobID string, times int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failFetch[blobID] = times
}

// Corrupt flips one byte of a stored blob.
func (m *MemoryTransport) Corrupt(blobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b := m.blobs[blobID]; len(b) > 0 {
		b[len(b)/2] ^= 0xFF
	}
}

func (m *MemoryTransport) Upload(ctx context.Context, destination string, doc wbh.Document) (wbh.RemoteHandle, error) {
	data, err := io.ReadAll(doc.Body)
	if err != nil {
		return wbh.RemoteHandle{}, fmt.Errorf("%w: reading document: %w", wbh.ErrTransport, err)
	}
	if int64(len(data)) != doc.Size {
		return wbh.RemoteHandle{}, fmt.Errorf("%w: size mismatch: expected %d bytes, got %d", wbh.ErrTransport, doc.Size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.uploads++
	if m.failUploads[m.uploads] {
		return wbh.RemoteHandle{}, fmt.Errorf("%w: injected upload failure %d", wbh.ErrTransport, m.uploads)
	}
	m.nextID++
	id := strconv.Itoa(m.nextID)
	blobID := destination + "/" + doc.Name + "#" + id
	m.blobs[blobID] = data
	m.captions[blobID] = doc.Caption
	return wbh.RemoteHandle{MessageID: id, BlobID: blobID}, nil
}

func (m *MemoryTransport) Fetch(ctx context.Context, blobID string, w io.Writer) error {
	m.mu.Lock()
	if n := m.failFetch[blobID]; n > 0 {
		m.failFetch[blobID] = n - 1
		m.mu.Unlock()
		return fmt.Errorf("%w: injected fetch failure for %s", wbh.ErrTransport, blobID)
	}
	data, ok := m.blobs[blobID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: blob not found: %s", wbh.ErrTransport, blobID)
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("%w: writing blob: %w", wbh.ErrTransport, err)
	}
	return nil
}

func (m *MemoryTransport) PostMessage(ctx context.Context, destination, text string) (string, error) {
	if err := checkMessage(text, m.limit); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.messages[destination] = append(m.messages[destination], text)
	return strconv.Itoa(m.nextID), nil
}

func (m *MemoryTransport) MessageLimit() int { return m.limit }

// Messages returns the texts posted to destination in order.
func (m *MemoryTransport) Messages(destination string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string{}, m.messages[destination]...)
}

// Uploads returns how many Upload calls were made, failed ones included.
func (m *MemoryTransport) Uploads() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.uploads
}

// Blobs returns the number of stored documents.
func (m *MemoryTransport) Blobs() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}

// Caption returns the caption a document was uploaded with.
func (m *MemoryTransport) Caption(blobID string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.captions[blobID]
}

var _ wbh.Transport = (*MemoryTransport)(nil)
