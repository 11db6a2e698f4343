package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"wbh-go/internal/fs"
	"wbh-go/internal/queue"
	"wbh-go/internal/scanner"
	"wbh-go/internal/testutil"
	"wbh-go/internal/transfer"
	"wbh-go/internal/wbh"
)

func newPipeline(t *testing.T) (*Pipeline, string) {
	t.Helper()
	root := t.TempDir()
	hole := &wbh.BlackHole{Name: "docs", RootPath: root, Destination: "chat"}
	engine, err := transfer.NewEngine(testutil.NewTestTransport(), transfer.Options{ChunkSize: 1024, TempDir: t.TempDir()}, testutil.FixedClock(), nil)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	osfs := fs.NewOSFilesystemManager()
	q, err := queue.New(hole, hole.Dir(".WBH_QUEUE"), queue.Deps{
		Store:   queue.NewMemoryStore(),
		Catalog: testutil.NewTestCatalog(t),
		Sender:  engine,
		FS:      osfs,
		IDs:     testutil.NewStubIDGenerator(),
	})
	if err != nil {
		t.Fatalf("queue.New() error = %v", err)
	}
	ignore := fs.NewIgnoreMatcher(nil).WithNames(".WBH_QUEUE")
	return &Pipeline{Hole: hole, Scanner: scanner.New(hole, osfs, ignore, nil), Queue: q}, root
}

func TestCycle_BackupAfterSettling(t *testing.T) {
	ctx := context.Background()
	p, root := newPipeline(t)
	backups := 0
	w := New([]*Pipeline{p}, time.Millisecond, nil).WithBackup(func(context.Context) error {
		backups++
		return nil
	})

	if !w.Cycle(ctx) {
		t.Error("empty cycle should be idle")
	}
	if backups != 0 {
		t.Fatal("backup ran with nothing uploaded")
	}

	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}
	// first sighting, then promotion and upload
	if w.Cycle(ctx) {
		t.Error("cycle that saw a new entry should not be idle")
	}
	if w.Cycle(ctx) {
		t.Error("cycle that uploaded should not be idle")
	}
	if !w.NeedsBackup() || backups != 0 {
		t.Fatalf("NeedsBackup() = %v, backups = %d", w.NeedsBackup(), backups)
	}

	if !w.Cycle(ctx) {
		t.Error("settled cycle should be idle")
	}
	if backups != 1 || w.NeedsBackup() {
		t.Errorf("backups = %d, NeedsBackup() = %v, want 1 and false", backups, w.NeedsBackup())
	}

	w.Cycle(ctx)
	if backups != 1 {
		t.Errorf("backup repeated without new uploads: %d", backups)
	}
}

func TestCycle_FailedBackupRetried(t *testing.T) {
	ctx := context.Background()
	p, root := newPipeline(t)
	fail := true
	w := New([]*Pipeline{p}, time.Millisecond, nil).WithBackup(func(context.Context) error {
		if fail {
			return errors.New("transport down")
		}
		return nil
	})
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		w.Cycle(ctx)
	}
	if !w.NeedsBackup() {
		t.Fatal("failed backup should stay pending")
	}
	fail = false
	w.Cycle(ctx)
	if w.NeedsBackup() {
		t.Error("backup still pending after success")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	p, _ := newPipeline(t)
	tempDir := t.TempDir()
	orphan := filepath.Join(tempDir, wbh.TempChunkName(time.Now(), 3))
	if err := os.WriteFile(orphan, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := New([]*Pipeline{p}, 5*time.Millisecond, nil).WithTempDir(tempDir).Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run() error = %v, want DeadlineExceeded", err)
	}
	if _, err := os.Stat(orphan); !os.IsNotExist(err) {
		t.Errorf("orphaned temp file not swept: %v", err)
	}
}
