// Package fs holds the filesystem operations the scanner and queue perform
// on watched roots.
package fs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"wbh-go/internal/wbh"
)

// Entry is a file or directory as observed by one poll. Size is the
// recursive sum of regular file sizes for directories.
type Entry struct {
	Name    string
	Path    string
	IsDir   bool
	Size    int64
	ModTime time.Time
	Ctime   time.Time
}

// TreeEntry is an Entry with its subtree resolved, children in name order.
type TreeEntry struct {
	Entry
	Children []*TreeEntry
}

// OSFilesystemManager performs watched-root operations on the real filesystem.
type OSFilesystemManager struct{}

// NewOSFilesystemManager creates a new filesystem manager.
func NewOSFilesystemManager() *OSFilesystemManager {
	return &OSFilesystemManager{}
}

// supported reports whether the mode is a regular file or directory.
// Symlinks, devices, pipes and sockets are never picked up.
func supported(mode fs.FileMode) bool {
	return mode.IsRegular() || mode.IsDir()
}

// ListRoot returns the supported direct children of root that ignore does
// not match.
func (m *OSFilesystemManager) ListRoot(root string, ignore *IgnoreMatcher) ([]Entry, error) {
	dirEntries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("reading root %s: %w", root, err)
	}

	var entries []Entry
	for _, de := range dirEntries {
		if ignore != nil && ignore.Match(de.Name()) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("stat %s: %w", de.Name(), err)
		}
		if !supported(info.Mode()) {
			continue
		}
		full := filepath.Join(root, de.Name())
		e := entryFromInfo(full, info)
		if e.IsDir {
			if e.Size, err = DirSize(full); err != nil {
				return nil, err
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func entryFromInfo(path string, info fs.FileInfo) Entry {
	e := Entry{
		Name:    info.Name(),
		Path:    path,
		IsDir:   info.IsDir(),
		ModTime: info.ModTime(),
		Ctime:   changeTime(info),
	}
	if !e.IsDir {
		e.Size = info.Size()
	}
	return e
}

// DirSize returns the total size of the regular files under path.
func DirSize(path string) (int64, error) {
	var total int64
	err := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("sizing %s: %w", path, err)
	}
	return total, nil
}

// ReadTree stats path and, for a directory, its whole subtree.
// Unsupported entries are skipped.
func (m *OSFilesystemManager) ReadTree(path string) (*TreeEntry, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if !supported(info.Mode()) {
		return nil, fmt.Errorf("unsupported file type %s: %s", info.Mode().Type(), path)
	}
	return readTree(path, info)
}

func readTree(path string, info fs.FileInfo) (*TreeEntry, error) {
	node := &TreeEntry{Entry: entryFromInfo(path, info)}
	if !node.IsDir {
		return node, nil
	}
	dirEntries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("reading directory %s: %w", path, err)
	}
	for _, de := range dirEntries {
		childInfo, err := de.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", de.Name(), err)
		}
		if !supported(childInfo.Mode()) {
			continue
		}
		child, err := readTree(filepath.Join(path, de.Name()), childInfo)
		if err != nil {
			return nil, err
		}
		node.Size += child.Size
		node.Children = append(node.Children, child)
	}
	return node, nil
}

// Move renames src to dst, creating dst's parent directory.
func (m *OSFilesystemManager) Move(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(dst), err)
	}
	if _, err := os.Lstat(dst); err == nil {
		return fmt.Errorf("moving %s: destination %s already exists", src, dst)
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("moving %s: %w", src, err)
	}
	return nil
}

// Remove deletes a file or an empty directory. A missing path is not an error.
func (m *OSFilesystemManager) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing %s: %w", path, err)
	}
	return nil
}

// RemoveAll deletes path and anything left beneath it, including entries
// ReadTree does not report. A missing path is not an error.
func (m *OSFilesystemManager) RemoveAll(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("removing %s: %w", path, err)
	}
	return nil
}

// SweepTempDir deletes orphaned chunk temp files left in dir by a crash
// and returns how many were removed.
func SweepTempDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading temp dir: %w", err)
	}
	removed := 0
	for _, e := range entries {
		if !e.Type().IsRegular() || !wbh.IsTempChunkName(e.Name()) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, fmt.Errorf("removing temp file %s: %w", e.Name(), err)
		}
		removed++
	}
	return removed, nil
}
