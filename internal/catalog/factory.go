package catalog

import (
	"fmt"
	"os"

	"wbh-go/internal/config"
	"wbh-go/internal/wbh"
)

// NewCatalogFromConfig opens the catalog described by cfg.
func NewCatalogFromConfig(cfg config.DatabaseConfig, clock wbh.Clock) (*SQLiteCatalog, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite catalog")
		}
		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return nil, fmt.Errorf("creating catalog directory: %w", err)
		}
		return NewSQLiteCatalog(cfg.Path(), clock)
	case "memory":
		return NewSQLiteCatalog(":memory:", clock)
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
