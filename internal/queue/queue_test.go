package queue

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"wbh-go/internal/fs"
	"wbh-go/internal/testutil"
	"wbh-go/internal/wbh"
)

type failingStore struct {
	MemoryStore
	fail bool
}

func (s *failingStore) Save(data []byte) error {
	if s.fail {
		return errors.New("disk full")
	}
	return s.MemoryStore.Save(data)
}

func newTestQueue(t *testing.T, store Store) (*Queue, string) {
	t.Helper()
	root := t.TempDir()
	hole := &wbh.BlackHole{Name: "docs", RootPath: root, Destination: "chat"}
	q, err := New(hole, hole.Dir(".WBH_QUEUE"), Deps{
		Store: store,
		FS:    fs.NewOSFilesystemManager(),
		IDs:   testutil.NewStubIDGenerator(),
		Clock: testutil.FixedClock(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return q, root
}

func TestNextAction(t *testing.T) {
	tests := []struct {
		isDir  bool
		state  wbh.State
		isRoot bool
		want   action
	}{
		{false, wbh.StateInQueue, true, actCatalog},
		{true, wbh.StateInQueue, false, actCatalog},
		{false, wbh.StateUploading, true, actUpload},
		{true, wbh.StateUploading, true, actNone},
		{false, wbh.StateDone, false, actRemoveSource},
		{true, wbh.StateDone, true, actDescend},
		{false, wbh.StateDeleted, true, actForget},
		{true, wbh.StateDeleted, true, actForget},
		{false, wbh.StateDeleted, false, actNone},
		{true, wbh.StateDeleted, false, actNone},
		{false, wbh.StateNew, true, actNone},
		{false, wbh.StateChanged, true, actNone},
		{true, wbh.StateUnchanged, true, actNone},
	}
	for _, tt := range tests {
		got := nextAction(tt.isDir, tt.state, tt.isRoot)
		if got != tt.want {
			t.Errorf("nextAction(dir=%v, %s, root=%v) = %s, want %s", tt.isDir, tt.state, tt.isRoot, got, tt.want)
		}
	}
}

func TestAdvance(t *testing.T) {
	store := &failingStore{}
	q, _ := newTestQueue(t, store)
	item := &wbh.WatchItem{Name: "a.txt", State: wbh.StateUnchanged}
	if err := q.Add(item); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	if err := q.advance(item, wbh.StateDeleted); err == nil {
		t.Error("advance(InQueue -> Deleted) should fail")
	}
	if item.State != wbh.StateInQueue {
		t.Errorf("State = %s after illegal transition, want InQueue", item.State)
	}

	store.fail = true
	if err := q.advance(item, wbh.StateUploading); err == nil {
		t.Fatal("advance() should fail when the save fails")
	}
	if item.State != wbh.StateInQueue {
		t.Errorf("State = %s after failed save, want InQueue", item.State)
	}

	store.fail = false
	if err := q.advance(item, wbh.StateUploading); err != nil {
		t.Fatalf("advance() error = %v", err)
	}
	if !strings.Contains(string(store.data), `"state": "UPLOADING"`) {
		t.Errorf("saved document does not carry the new state:\n%s", store.data)
	}
}

func TestAdd(t *testing.T) {
	store := NewMemoryStore()
	q, _ := newTestQueue(t, store)

	if err := q.Add(&wbh.WatchItem{Name: "a.txt", Size: 3, State: wbh.StateUnchanged}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if store.Saves() != 1 {
		t.Errorf("Saves() = %d, want 1", store.Saves())
	}
	if err := q.Add(&wbh.WatchItem{Name: "a.txt", State: wbh.StateUnchanged}); err == nil {
		t.Error("Add() of an already queued entry should fail")
	}
	if err := q.Add(&wbh.WatchItem{Name: "b.txt", State: wbh.StateNew}); err == nil {
		t.Error("Add() of a New entry should fail")
	}
	if q.Len() != 1 {
		t.Errorf("Len() = %d, want 1", q.Len())
	}
	if got := q.Roots()[0]; got.State != wbh.StateInQueue || got.LocalID != "item-1" {
		t.Errorf("root = %s %s, want item-1 InQueue", got.LocalID, got.State)
	}
}

func TestAdd_ExpandsDirectory(t *testing.T) {
	q, _ := newTestQueue(t, NewMemoryStore())
	testutil.WriteTree(t, filepath.Join(q.FilesDir(), "photos"), map[string]string{
		"b.jpg":       "bbbb",
		"a.jpg":       "aa",
		"trip/c.jpg":  "c",
		"trip/empty/": "",
	})

	dir := &wbh.WatchItem{Name: "photos", IsDir: true, State: wbh.StateUnchanged}
	if err := q.Add(dir); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if dir.Size != 7 {
		t.Errorf("Size = %d, want 7", dir.Size)
	}

	children := q.Children(dir)
	var names []string
	for _, c := range children {
		names = append(names, c.Name)
	}
	if strings.Join(names, ",") != "a.jpg,b.jpg,trip" {
		t.Fatalf("children = %v", names)
	}
	if dir.TotalChildren != 3 {
		t.Errorf("TotalChildren = %d, want 3", dir.TotalChildren)
	}

	trip := children[2]
	nested := q.Children(trip)
	if len(nested) != 2 {
		t.Fatalf("trip has %d children, want 2", len(nested))
	}
	c := nested[0]
	if c.Key() != "photos/trip/c.jpg" || c.ParentLocalID != trip.LocalID || c.State != wbh.StateInQueue {
		t.Errorf("nested child = %s parent=%s state=%s", c.Key(), c.ParentLocalID, c.State)
	}
	if q.Find(c.LocalID) != c {
		t.Error("Find() did not return the nested child")
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	store := NewMemoryStore()
	q, _ := newTestQueue(t, store)
	testutil.WriteTree(t, filepath.Join(q.FilesDir(), "photos"), map[string]string{"x/y.txt": "yy"})

	if err := q.Add(&wbh.WatchItem{Name: "photos", IsDir: true, State: wbh.StateUnchanged}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	file := &wbh.WatchItem{Name: "big.iso", Size: 10, State: wbh.StateUnchanged}
	if err := q.Add(file); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	file.Chunks = []*wbh.Chunk{{Index: 0, Size: 4, Checksum: "abc", ChecksumType: wbh.ChecksumSHA256, BlobHandle: "blob-0", State: wbh.StateDone}}
	if err := q.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	reloaded, _ := newTestQueue(t, store)
	if reloaded.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", reloaded.Len())
	}
	roots := reloaded.Roots()
	if roots[0].Name != "photos" || roots[1].Name != "big.iso" {
		t.Errorf("roots = %s, %s", roots[0].Name, roots[1].Name)
	}
	x := reloaded.Children(roots[0])[0]
	y := reloaded.Children(x)[0]
	if y.Key() != "photos/x/y.txt" || y.ParentLocalID != x.LocalID || x.ParentLocalID != roots[0].LocalID {
		t.Errorf("nested item = %s parent=%s", y.Key(), y.ParentLocalID)
	}
	if len(roots[1].Chunks) != 1 || roots[1].Chunks[0].BlobHandle != "blob-0" || roots[1].Chunks[0].State != wbh.StateDone {
		t.Errorf("chunks not restored: %+v", roots[1].Chunks)
	}
}

func TestNew_QuarantinesCorruptDocument(t *testing.T) {
	dir := t.TempDir()
	docPath := filepath.Join(dir, DocumentName)
	if err := os.WriteFile(docPath, []byte(`[{"qid": "1", "filename": `), 0644); err != nil {
		t.Fatal(err)
	}
	store, err := NewFileStore(docPath)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}

	hole := &wbh.BlackHole{Name: "docs", RootPath: dir}
	q, err := New(hole, dir, Deps{Store: store, FS: fs.NewOSFilesystemManager(), Clock: testutil.FixedClock()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if q.Len() != 0 {
		t.Errorf("Len() = %d, want 0", q.Len())
	}
	if _, err := os.Stat(docPath + ".corrupt-20240115103005"); err != nil {
		t.Errorf("corrupt document not kept aside: %v", err)
	}
}

func TestDecode_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not json", `{{`},
		{"missing id", `[{"filename": "a"}]`},
		{"duplicate id", `[{"qid": "1", "filename": "a"}, {"qid": "1", "filename": "b"}]`},
		{"file with children", `[{"qid": "1", "filename": "a", "children": [{"qid": "2", "filename": "b"}]}]`},
		{"gap in chunks", `[{"qid": "1", "filename": "a", "chunks": [{"index": 1}]}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := decode([]byte(tt.doc)); !errors.Is(err, wbh.ErrSerialization) {
				t.Errorf("decode() error = %v, want ErrSerialization", err)
			}
		})
	}
}

func TestRemove(t *testing.T) {
	q, _ := newTestQueue(t, NewMemoryStore())
	testutil.WriteTree(t, filepath.Join(q.FilesDir(), "photos"), map[string]string{"a/b.txt": "b", "c.txt": "c"})
	dir := &wbh.WatchItem{Name: "photos", IsDir: true, State: wbh.StateUnchanged}
	if err := q.Add(dir); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	a := q.Children(dir)[0]
	b := q.Children(a)[0]
	if err := q.Remove(a.LocalID); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if q.Find(a.LocalID) != nil || q.Find(b.LocalID) != nil {
		t.Error("removed subtree still findable")
	}
	if len(dir.Children) != 1 {
		t.Errorf("parent keeps %d children, want 1", len(dir.Children))
	}

	if err := q.Remove(dir.LocalID); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if q.Len() != 0 {
		t.Errorf("Len() = %d, want 0", q.Len())
	}
	if err := q.Remove("nope"); err == nil {
		t.Error("Remove() of an unknown id should fail")
	}
}
