// Package queue is the durable per-BlackHole work list. Items live in a
// flat arena keyed by local id; directories reference their children by
// id. The whole arena is saved as one nested JSON document after every
// mutation.
package queue

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"wbh-go/internal/fs"
	"wbh-go/internal/wbh"
)

const (
	// DocumentName is the queue document inside the queue directory.
	DocumentName = "queue.json"
	// FilesDirname holds the entries moved out of the watched root.
	FilesDirname = "files"
)

// Sender uploads the remaining chunks of a file. It calls confirm once per
// chunk, in index order, after the transport accepted it, and stops at the
// first chunk that fails or that confirm rejects.
type Sender interface {
	Send(ctx context.Context, hole *wbh.BlackHole, item *wbh.WatchItem, path string, confirm func(*wbh.Chunk) error) error
}

// Filesystem is what the queue needs from the disk.
type Filesystem interface {
	ReadTree(path string) (*fs.TreeEntry, error)
	Remove(path string) error
	RemoveAll(path string) error
}

// Queue drives one BlackHole's items through the upload state machine.
// It is not safe for concurrent use.
type Queue struct {
	hole    *wbh.BlackHole
	dir     string
	store   Store
	catalog wbh.Catalog
	sender  Sender
	fs      Filesystem
	ids     wbh.IDGenerator
	clock   wbh.Clock
	logger  wbh.Logger

	items map[string]*wbh.WatchItem
	roots []string

	progress int
	finished int
}

// Deps bundles the collaborators of a Queue.
type Deps struct {
	Store   Store
	Catalog wbh.Catalog
	Sender  Sender
	FS      Filesystem
	IDs     wbh.IDGenerator
	Clock   wbh.Clock
	Logger  wbh.Logger
}

// New creates a queue for hole whose working directory is dir and loads
// any saved document. An unreadable document is logged and the queue
// starts empty; a FileStore moves the bad document aside first.
func New(hole *wbh.BlackHole, dir string, deps Deps) (*Queue, error) {
	if deps.Logger == nil {
		deps.Logger = wbh.NewNopLogger()
	}
	if deps.IDs == nil {
		deps.IDs = wbh.UUIDGenerator{}
	}
	if deps.Clock == nil {
		deps.Clock = wbh.RealClock{}
	}
	q := &Queue{
		hole:    hole,
		dir:     dir,
		store:   deps.Store,
		catalog: deps.Catalog,
		sender:  deps.Sender,
		fs:      deps.FS,
		ids:     deps.IDs,
		clock:   deps.Clock,
		logger:  deps.Logger,
		items:   make(map[string]*wbh.WatchItem),
	}
	if err := q.Load(); err != nil {
		if !errors.Is(err, wbh.ErrSerialization) {
			return nil, err
		}
		q.logger.Error("queue document unreadable, starting empty", "blackhole", hole.Name, "error", err)
		if fsStore, ok := q.store.(*FileStore); ok {
			moved, qerr := fsStore.Quarantine(q.clock.Now().Format("20060102150405"))
			if qerr != nil {
				return nil, qerr
			}
			q.logger.Warn("corrupt queue document moved", "blackhole", hole.Name, "path", moved)
		}
	}
	return q, nil
}

// FilesDir is where entries are moved to once the scanner promotes them.
func (q *Queue) FilesDir() string {
	return filepath.Join(q.dir, FilesDirname)
}

// pathOf returns where item lives on disk.
func (q *Queue) pathOf(item *wbh.WatchItem) string {
	return filepath.Join(q.FilesDir(), item.RelPath())
}

// Load replaces the in-memory arena with the saved document.
func (q *Queue) Load() error {
	data, err := q.store.Load()
	if err != nil {
		return err
	}
	items, roots, err := decode(data)
	if err != nil {
		return err
	}
	q.items, q.roots = items, roots
	return nil
}

// Save writes the whole arena to the store.
func (q *Queue) Save() error {
	data, err := q.encode()
	if err != nil {
		return err
	}
	return q.store.Save(data)
}

// Len returns the number of root items.
func (q *Queue) Len() int { return len(q.roots) }

// Roots returns the root items in queue order.
func (q *Queue) Roots() []*wbh.WatchItem {
	out := make([]*wbh.WatchItem, 0, len(q.roots))
	for _, id := range q.roots {
		out = append(out, q.items[id])
	}
	return out
}

// Find returns the item with the given local id at any depth, or nil.
func (q *Queue) Find(localID string) *wbh.WatchItem {
	return q.items[localID]
}

// Children returns a directory's direct children in name order.
func (q *Queue) Children(item *wbh.WatchItem) []*wbh.WatchItem {
	out := make([]*wbh.WatchItem, 0, len(item.Children))
	for _, id := range item.Children {
		out = append(out, q.items[id])
	}
	return out
}

// Contains reports whether an entry with the same path and name is queued.
func (q *Queue) Contains(item *wbh.WatchItem) bool {
	for _, id := range q.roots {
		if q.items[id].SameEntry(item) {
			return true
		}
	}
	return false
}

// Add queues an entry the scanner found stable and already moved under
// FilesDir. A directory's subtree is expanded into the arena with every
// descendant queued too.
func (q *Queue) Add(item *wbh.WatchItem) error {
	if q.Contains(item) {
		return fmt.Errorf("item %s is already queued", item.Key())
	}
	if item.LocalID == "" {
		item.LocalID = q.ids.New()
	}
	if item.State != wbh.StateInQueue && !wbh.CanTransition(item.State, wbh.StateInQueue) {
		return fmt.Errorf("item %s: cannot queue from state %s", item.Key(), item.State)
	}
	item.State = wbh.StateInQueue

	added := []string{item.LocalID}
	if item.IsDir {
		tree, err := q.fs.ReadTree(q.pathOf(item))
		if err != nil {
			return fmt.Errorf("expanding %s: %w", item.Key(), err)
		}
		item.Size = tree.Size
		item.Children = nil
		added = append(added, q.expand(item, tree)...)
	}

	q.items[item.LocalID] = item
	q.roots = append(q.roots, item.LocalID)
	if err := q.Save(); err != nil {
		for _, id := range added {
			delete(q.items, id)
		}
		q.roots = q.roots[:len(q.roots)-1]
		return err
	}
	q.logger.Info("item queued", "blackhole", q.hole.Name, "item", item.Key(), "dir", item.IsDir, "size", item.Size)
	return nil
}

// expand creates queued items for tree's children under parent and
// returns every id it added.
func (q *Queue) expand(parent *wbh.WatchItem, tree *fs.TreeEntry) []string {
	segments := append(append([]string{}, parent.PathSegments...), parent.Name)
	var added []string
	for _, child := range tree.Children {
		item := &wbh.WatchItem{
			LocalID:       q.ids.New(),
			Name:          child.Name,
			IsDir:         child.IsDir,
			Size:          child.Size,
			State:         wbh.StateInQueue,
			PathSegments:  segments,
			ParentLocalID: parent.LocalID,
			ModifiedAt:    child.ModTime,
			CreatedAt:     child.Ctime,
		}
		if item.IsDir {
			item.TotalChildren = len(child.Children)
		}
		q.items[item.LocalID] = item
		parent.Children = append(parent.Children, item.LocalID)
		added = append(added, item.LocalID)
		if child.IsDir {
			added = append(added, q.expand(item, child)...)
		}
	}
	parent.TotalChildren = len(parent.Children)
	return added
}

// Remove drops the item and its whole subtree from the queue and saves.
func (q *Queue) Remove(localID string) error {
	item := q.items[localID]
	if item == nil {
		return fmt.Errorf("item %s is not queued", localID)
	}
	if item.ParentLocalID == "" {
		q.roots = without(q.roots, localID)
	} else if parent := q.items[item.ParentLocalID]; parent != nil {
		parent.Children = without(parent.Children, localID)
	}
	q.forget(item)
	return q.Save()
}

func (q *Queue) forget(item *wbh.WatchItem) {
	for _, id := range item.Children {
		if child := q.items[id]; child != nil {
			q.forget(child)
		}
	}
	delete(q.items, item.LocalID)
}

func without(ids []string, id string) []string {
	out := ids[:0:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// subtree resolves item and its descendants for cataloging.
func (q *Queue) subtree(item *wbh.WatchItem) *wbh.ItemNode {
	node := &wbh.ItemNode{Item: item}
	for _, id := range item.Children {
		node.Children = append(node.Children, q.subtree(q.items[id]))
	}
	return node
}
