package queue

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/renameio"
)

// Store persists the queue document. Save replaces the whole document;
// Load returns nil and no error when nothing was saved yet.
type Store interface {
	Load() ([]byte, error)
	Save(data []byte) error
}

// FileStore keeps the document in a single file that is replaced
// atomically on every save, so a crash leaves either the old or the new
// document and never a torn one.
type FileStore struct {
	path string
}

// NewFileStore creates a store at path, creating its directory.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating queue directory: %w", err)
	}
	return &FileStore{path: path}, nil
}

func (s *FileStore) Load() ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading queue document: %w", err)
	}
	return data, nil
}

func (s *FileStore) Save(data []byte) error {
	if err := renameio.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("writing queue document: %w", err)
	}
	return nil
}

// Quarantine moves an unreadable document aside so the queue can start
// empty without destroying it. It returns the new location.
func (s *FileStore) Quarantine(suffix string) (string, error) {
	dst := s.path + ".corrupt-" + suffix
	if err := os.Rename(s.path, dst); err != nil {
		return "", fmt.Errorf("moving corrupt queue document: %w", err)
	}
	return dst, nil
}

// MemoryStore keeps the document in memory.
type MemoryStore struct {
	mu    sync.Mutex
	data  []byte
	saves int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return nil, nil
	}
	return append([]byte{}, s.data...), nil
}

func (s *MemoryStore) Save(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append([]byte{}, data...)
	s.saves++
	return nil
}

// Saves returns how many times Save was called.
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

var (
	_ Store = (*FileStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
