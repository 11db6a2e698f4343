package fs

import (
	"os"
	"path/filepath"
	"testing"
)

func mustWrite(t *testing.T, path string, size int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(path, make([]byte, size), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}

func TestOSFilesystemManager_ListRoot(t *testing.T) {
	root := t.TempDir()
	mustWrite(t, filepath.Join(root, "file.bin"), 262144)
	mustWrite(t, filepath.Join(root, "album", "a.jpg"), 100)
	mustWrite(t, filepath.Join(root, "album", "raw", "b.raw"), 50)
	mustWrite(t, filepath.Join(root, ".WBH_QUEUE", "queued.bin"), 10)
	mustWrite(t, filepath.Join(root, ".__WBH__.json"), 10)
	if err := os.Symlink(filepath.Join(root, "file.bin"), filepath.Join(root, "link")); err != nil {
		t.Fatalf("Symlink() error = %v", err)
	}

	m := NewOSFilesystemManager()
	ignore := NewIgnoreMatcher(nil).WithNames(".WBH_QUEUE", ".__WBH__.json")
	entries, err := m.ListRoot(root, ignore)
	if err != nil {
		t.Fatalf("ListRoot() error = %v", err)
	}

	got := make(map[string]Entry)
	for _, e := range entries {
		got[e.Name] = e
	}
	if len(got) != 2 {
		t.Fatalf("ListRoot() returned %v, want album and file.bin", entries)
	}
	if got["file.bin"].Size != 262144 || got["file.bin"].IsDir {
		t.Errorf("file.bin = %+v", got["file.bin"])
	}
	if got["album"].Size != 150 || !got["album"].IsDir {
		t.Errorf("album = %+v, want directory of 150 bytes", got["album"])
	}
}

func TestOSFilesystemManager_ReadTree(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "album")
	mustWrite(t, filepath.Join(dir, "z.jpg"), 3)
	mustWrite(t, filepath.Join(dir, "a.jpg"), 2)
	mustWrite(t, filepath.Join(dir, "raw", "b.raw"), 5)

	tree, err := NewOSFilesystemManager().ReadTree(dir)
	if err != nil {
		t.Fatalf("ReadTree() error = %v", err)
	}
	if tree.Size != 10 {
		t.Errorf("tree.Size = %d, want 10", tree.Size)
	}
	var names []string
	for _, c := range tree.Children {
		names = append(names, c.Name)
	}
	want := []string{"a.jpg", "raw", "z.jpg"}
	if len(names) != len(want) {
		t.Fatalf("children = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("children[%d] = %s, want %s", i, names[i], want[i])
		}
	}
	if len(tree.Children[1].Children) != 1 {
		t.Errorf("raw has %d children, want 1", len(tree.Children[1].Children))
	}
}

func TestOSFilesystemManager_Move(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "file.bin")
	mustWrite(t, src, 4)
	dst := filepath.Join(root, ".WBH_QUEUE", "file.bin")

	m := NewOSFilesystemManager()
	if err := m.Move(src, dst); err != nil {
		t.Fatalf("Move() error = %v", err)
	}
	if _, err := os.Stat(dst); err != nil {
		t.Errorf("destination missing after Move(): %v", err)
	}

	mustWrite(t, src, 4)
	if err := m.Move(src, dst); err == nil {
		t.Error("Move() onto an existing entry error = nil")
	}
}

func TestOSFilesystemManager_RemoveAll(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "album")
	mustWrite(t, filepath.Join(dir, "a.jpg"), 4)
	if err := os.Symlink(filepath.Join(dir, "a.jpg"), filepath.Join(dir, "cover.jpg")); err != nil {
		t.Skipf("Symlink() error = %v", err)
	}

	m := NewOSFilesystemManager()
	if err := m.Remove(dir); err == nil {
		t.Fatal("Remove() of a non-empty directory error = nil")
	}
	if err := m.RemoveAll(dir); err != nil {
		t.Fatalf("RemoveAll() error = %v", err)
	}
	if _, err := os.Lstat(dir); !os.IsNotExist(err) {
		t.Errorf("directory still present after RemoveAll(): %v", err)
	}
	if err := m.RemoveAll(dir); err != nil {
		t.Errorf("RemoveAll() of a missing path error = %v", err)
	}
}

func TestSweepTempDir(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "WBHTF20240115103005123456.p0000"), 1)
	mustWrite(t, filepath.Join(dir, "WBHTF20240115103005123456.p0001"), 1)
	mustWrite(t, filepath.Join(dir, "keep.txt"), 1)

	n, err := SweepTempDir(dir)
	if err != nil {
		t.Fatalf("SweepTempDir() error = %v", err)
	}
	if n != 2 {
		t.Errorf("SweepTempDir() = %d, want 2", n)
	}
	if _, err := os.Stat(filepath.Join(dir, "keep.txt")); err != nil {
		t.Errorf("unrelated file removed: %v", err)
	}

	if n, err := SweepTempDir(filepath.Join(dir, "missing")); err != nil || n != 0 {
		t.Errorf("SweepTempDir(missing) = %d, %v", n, err)
	}
}
