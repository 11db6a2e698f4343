package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"wbh-go/internal/config"
)

func TestNewCatalogFromConfig(t *testing.T) {
	t.Run("memory catalog", func(t *testing.T) {
		got, err := NewCatalogFromConfig(config.DatabaseConfig{Type: "memory"}, fixedClock{testNow})
		if err != nil {
			t.Fatalf("NewCatalogFromConfig() error = %v", err)
		}
		got.Close()
	})

	t.Run("sqlite catalog creates its directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "db")
		cfg := config.DatabaseConfig{Type: "sqlite", DataDir: dir, Filename: "wbh.db"}
		got, err := NewCatalogFromConfig(cfg, fixedClock{testNow})
		if err != nil {
			t.Fatalf("NewCatalogFromConfig() error = %v", err)
		}
		defer got.Close()
		if _, err := os.Stat(filepath.Join(dir, "wbh.db")); err != nil {
			t.Errorf("catalog file not created: %v", err)
		}
	})

	t.Run("sqlite catalog without data_dir", func(t *testing.T) {
		if _, err := NewCatalogFromConfig(config.DatabaseConfig{Type: "sqlite"}, nil); err == nil {
			t.Error("NewCatalogFromConfig() error = nil, want error")
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		if _, err := NewCatalogFromConfig(config.DatabaseConfig{Type: "postgres"}, nil); err == nil {
			t.Error("NewCatalogFromConfig() error = nil, want error")
		}
	})
}
