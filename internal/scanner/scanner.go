// Package scanner finds entries in a watched root whose size held still
// for one full poll interval and hands them to the queue.
package scanner

import (
	"fmt"
	"path/filepath"

	"wbh-go/internal/fs"
	"wbh-go/internal/wbh"
)

// Filesystem is what the scanner needs from the disk.
type Filesystem interface {
	ListRoot(root string, ignore *fs.IgnoreMatcher) ([]fs.Entry, error)
	Move(src, dst string) error
}

// Queue receives promoted entries. *queue.Queue implements it.
type Queue interface {
	FilesDir() string
	Contains(item *wbh.WatchItem) bool
	Add(item *wbh.WatchItem) error
}

type observation struct {
	size  int64
	state wbh.State
}

// Scanner tracks the entries of one BlackHole root between polls.
// It is not safe for concurrent use.
type Scanner struct {
	hole    *wbh.BlackHole
	fs      Filesystem
	ignore  *fs.IgnoreMatcher
	logger  wbh.Logger
	tracked map[string]observation
}

// New creates a scanner for hole. ignore decides which root entries are
// never looked at; it must cover the queue directory and the hole file.
func New(hole *wbh.BlackHole, fsys Filesystem, ignore *fs.IgnoreMatcher, logger wbh.Logger) *Scanner {
	if logger == nil {
		logger = wbh.NewNopLogger()
	}
	if ignore == nil {
		ignore = fs.NewIgnoreMatcher(nil)
	}
	return &Scanner{
		hole:    hole,
		fs:      fsys,
		ignore:  ignore,
		logger:  logger,
		tracked: make(map[string]observation),
	}
}

// RootIgnore builds the matcher for a root: the configured patterns, the
// root's own ignore file and the exact names the daemon keeps there.
func RootIgnore(root string, patterns []string, names ...string) (*fs.IgnoreMatcher, error) {
	extra, err := fs.ParseIgnoreFile(filepath.Join(root, fs.IgnoreFilename))
	if err != nil {
		return nil, err
	}
	return fs.NewIgnoreMatcher(patterns).WithPatterns(extra).WithNames(names...), nil
}

// classify compares an entry's size with the previous poll.
func classify(prev observation, seen bool, size int64) wbh.State {
	switch {
	case !seen:
		return wbh.StateNew
	case prev.size == size:
		return wbh.StateUnchanged
	default:
		return wbh.StateChanged
	}
}

// Result is the outcome of one Poll.
type Result struct {
	// Promoted holds the items moved into the queue.
	Promoted []*wbh.WatchItem
	// Settling counts entries seen for the first time or with a new size.
	Settling int
}

// Quiet reports whether the poll neither promoted an entry nor saw one
// still being written.
func (r Result) Quiet() bool { return len(r.Promoted) == 0 && r.Settling == 0 }

// Poll lists the root once. Entries whose size matches the previous poll
// are moved into the queue's files directory and added to q; the rest
// stay tracked for the next poll and are counted as settling.
func (s *Scanner) Poll(q Queue) (Result, error) {
	var res Result
	entries, err := s.fs.ListRoot(s.hole.RootPath, s.ignore)
	if err != nil {
		return res, err
	}

	present := make(map[string]bool, len(entries))
	for _, e := range entries {
		present[e.Name] = true
		prev, seen := s.tracked[e.Name]
		state := classify(prev, seen, e.Size)
		if seen && prev.state != state && !wbh.CanTransition(prev.state, state) {
			return res, fmt.Errorf("entry %s: illegal transition %s -> %s", e.Name, prev.state, state)
		}
		s.tracked[e.Name] = observation{size: e.Size, state: state}
		if state != wbh.StateUnchanged {
			res.Settling++
			s.logger.Debug("entry not stable yet", "blackhole", s.hole.Name, "item", e.Name, "state", state.String(), "size", e.Size)
			continue
		}

		item := &wbh.WatchItem{
			Name:       e.Name,
			IsDir:      e.IsDir,
			Size:       e.Size,
			State:      wbh.StateUnchanged,
			ModifiedAt: e.ModTime,
			CreatedAt:  e.Ctime,
		}
		if err := s.promote(q, e, item); err != nil {
			// Retry on the next poll if the size still holds.
			s.tracked[e.Name] = observation{size: e.Size, state: wbh.StateChanged}
			s.logger.Warn("promoting entry failed", "blackhole", s.hole.Name, "item", e.Name, "error", err)
			continue
		}
		delete(s.tracked, e.Name)
		res.Promoted = append(res.Promoted, item)
	}

	for name := range s.tracked {
		if !present[name] {
			delete(s.tracked, name)
		}
	}
	return res, nil
}

func (s *Scanner) promote(q Queue, e fs.Entry, item *wbh.WatchItem) error {
	if q.Contains(item) {
		return fmt.Errorf("an entry named %s is still queued", e.Name)
	}
	dst := filepath.Join(q.FilesDir(), e.Name)
	if err := s.fs.Move(e.Path, dst); err != nil {
		return err
	}
	if err := q.Add(item); err != nil {
		if merr := s.fs.Move(dst, e.Path); merr != nil {
			s.logger.Error("moving entry back failed", "blackhole", s.hole.Name, "item", e.Name, "error", merr)
		}
		return err
	}
	s.logger.Info("entry promoted", "blackhole", s.hole.Name, "item", e.Name, "dir", e.IsDir, "size", e.Size)
	return nil
}

// Tracked returns the number of entries waiting for a stable size.
func (s *Scanner) Tracked() int { return len(s.tracked) }
