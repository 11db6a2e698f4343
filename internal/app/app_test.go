package app

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"wbh-go/internal/config"
	"wbh-go/internal/dbbackup"
	"wbh-go/internal/secrets"
	"wbh-go/internal/wbh"
	"wbh-go/internal/watcher"
)

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	base := t.TempDir()
	cfg := &config.Config{
		BaseDir:   base,
		ChunkSize: 1024,
		TempDir:   filepath.Join(base, "tmp"),
		Backup:    config.BackupConfig{Secret: "backup-secret", Destination: "backups"},
		BlackHoles: []config.BlackHoleConfig{{
			Name:        "docs",
			Path:        filepath.Join(base, "docs"),
			Destination: "chat",
			Encryption:  "ChaCha20Poly1305",
			Secret:      "hunter22",
		}},
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) *WBHApp {
	t.Helper()
	a, err := NewWBHApp(context.Background(), cfg, "Test", io.Discard)
	if err != nil {
		t.Fatalf("NewWBHApp() error = %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

// settle runs cycles until an entry written to the root has been seen,
// promoted, uploaded and snapshotted.
func settle(t *testing.T, a *WBHApp, hole *wbh.BlackHole) (backups int) {
	t.Helper()
	ctx := context.Background()
	p, err := a.pipeline(ctx, hole)
	if err != nil {
		t.Fatalf("pipeline() error = %v", err)
	}
	w := watcher.New([]*watcher.Pipeline{p}, time.Millisecond, a.logger).WithBackup(func(ctx context.Context) error {
		backups++
		_, err := a.BackupCatalog(ctx)
		return err
	})
	for i := 0; i < 3; i++ {
		w.Cycle(ctx)
	}
	return backups
}

func TestWBHApp_UploadListGet(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig(t)
	a := newTestApp(t, cfg)
	hole, err := a.BlackHole("docs")
	if err != nil {
		t.Fatal(err)
	}

	content := strings.Repeat("wubwub", 500)
	if err := os.MkdirAll(hole.RootPath, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(hole.RootPath, "notes.txt"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	if got := settle(t, a, hole); got != 1 {
		t.Errorf("backups = %d, want 1", got)
	}

	hf, err := wbh.ReadHoleFile(filepath.Join(hole.RootPath, cfg.HoleFilename))
	if err != nil {
		t.Fatalf("ReadHoleFile() error = %v", err)
	}
	if hf.ID != hole.ID || hf.Name != "docs" {
		t.Errorf("hole file = %+v", hf)
	}

	items, err := a.List(ctx, "docs", 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(items) != 1 || items[0].Filename != "notes.txt" || items[0].ChunksCount != 3 {
		t.Fatalf("List() = %+v", items)
	}
	if _, err := os.Stat(filepath.Join(hole.RootPath, "notes.txt")); !os.IsNotExist(err) {
		t.Errorf("uploaded entry still in root: %v", err)
	}

	dest := t.TempDir()
	n, err := a.Get(ctx, "docs", items[0].ID, dest)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	got, _ := os.ReadFile(filepath.Join(dest, "notes.txt"))
	if n != int64(len(content)) || string(got) != content {
		t.Errorf("Get() wrote %d bytes, content match = %v", n, string(got) == content)
	}

	st, err := a.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if st.Size == 0 || len(st.BlackHoles) != 1 || st.BlackHoles[0].Size != int64(len(content)) {
		t.Errorf("Status() = %+v", st)
	}
}

func TestWBHApp_BackupRestore(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig(t)
	a := newTestApp(t, cfg)
	hole, _ := a.BlackHole("docs")
	if err := os.MkdirAll(hole.RootPath, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(hole.RootPath, "a.txt"), []byte("alpha"), 0644); err != nil {
		t.Fatal(err)
	}
	settle(t, a, hole)

	segments, err := a.BackupCatalog(ctx)
	if err != nil {
		t.Fatalf("BackupCatalog() error = %v", err)
	}
	code := dbbackup.Join(segments)

	if err := a.RestoreCatalog(ctx, code, "not-the-secret"); !errors.Is(err, wbh.ErrAuthentication) {
		t.Errorf("RestoreCatalog() wrong secret error = %v, want ErrAuthentication", err)
	}
	if err := a.RestoreCatalog(ctx, code, cfg.Backup.Secret); err != nil {
		t.Fatalf("RestoreCatalog() error = %v", err)
	}
	if _, err := os.Stat(cfg.Database.Path() + ".backup-1"); err != nil {
		t.Errorf("previous catalog not rotated: %v", err)
	}

	items, err := a.List(ctx, "docs", 0)
	if err != nil {
		t.Fatalf("List() after restore error = %v", err)
	}
	if len(items) != 1 || items[0].Filename != "a.txt" {
		t.Errorf("List() after restore = %+v", items)
	}
}

func TestWBHApp_AddBlackHole(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig(t)
	configPath := filepath.Join(cfg.BaseDir, "wbh.toml")
	a := newTestApp(t, cfg)

	root := filepath.Join(cfg.BaseDir, "photos")
	hole, err := a.AddBlackHole(ctx, config.BlackHoleConfig{
		Name:        "photos",
		Path:        root,
		Destination: "chat",
		Encryption:  "NONE",
	}, configPath)
	if err != nil {
		t.Fatalf("AddBlackHole() error = %v", err)
	}
	if hole.ID == 0 {
		t.Error("AddBlackHole() did not resolve a catalog id")
	}
	if _, err := os.Stat(filepath.Join(root, cfg.HoleFilename)); err != nil {
		t.Errorf("hole file missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, cfg.QueueDirname)); err != nil {
		t.Errorf("queue directory missing: %v", err)
	}

	saved, err := config.ReadFromFile(configPath)
	if err != nil {
		t.Fatalf("ReadFromFile() error = %v", err)
	}
	if saved.FindBlackHole("photos") == nil || saved.FindBlackHole("docs") == nil {
		t.Errorf("saved blackholes = %+v", saved.BlackHoles)
	}

	if _, err := a.AddBlackHole(ctx, config.BlackHoleConfig{Name: "photos", Path: root, Encryption: "NONE"}, configPath); err == nil {
		t.Error("AddBlackHole() accepted a duplicate name")
	}
	if a.Operation().Status != "error" {
		t.Errorf("operation status = %q, want error", a.Operation().Status)
	}
}

func TestWBHApp_AddBlackHole_KeepsSecretRefs(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.BlackHoles[0].SecretRef = "docs"
	configPath := filepath.Join(cfg.BaseDir, "wbh.toml")
	a := newTestApp(t, cfg)

	_, err := a.AddBlackHole(context.Background(), config.BlackHoleConfig{
		Name: "photos", Path: filepath.Join(cfg.BaseDir, "photos"), Encryption: "NONE",
	}, configPath)
	if err != nil {
		t.Fatalf("AddBlackHole() error = %v", err)
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "hunter22") {
		t.Errorf("resolved secret written to config:\n%s", data)
	}
	if cfg.BlackHoles[0].Secret != "hunter22" {
		t.Error("in-memory secret cleared")
	}
}

func TestLoadConfig_ResolvesSecretRefs(t *testing.T) {
	base := t.TempDir()
	cfg := config.NewConfig(base)
	cfg.Backup.SecretRef = "backup"
	cfg.BlackHoles = []config.BlackHoleConfig{{
		Name: "docs", Path: filepath.Join(base, "docs"), Destination: "chat",
		Encryption: "ChaCha20Poly1305", SecretRef: "docs",
	}}
	configPath := filepath.Join(base, "wbh.toml")
	if err := config.Init(configPath, cfg); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	prompted := 0
	passphrase := func() (string, error) {
		prompted++
		return "open sesame", nil
	}

	if _, err := LoadConfig(configPath, passphrase); err == nil {
		t.Fatal("LoadConfig() without a secret store succeeded")
	}

	store := secrets.NewStore(cfg.Secrets.Path)
	if err := store.Save("open sesame", secrets.Secrets{"backup": "bbbbbbbb", "docs": "dddddd"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := LoadConfig(configPath, passphrase)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if got.Backup.Secret != "bbbbbbbb" || got.BlackHoles[0].Secret != "dddddd" {
		t.Errorf("secrets not resolved: backup %q, docs %q", got.Backup.Secret, got.BlackHoles[0].Secret)
	}
	if prompted != 1 {
		t.Errorf("passphrase prompted %d times, want 1", prompted)
	}
}
