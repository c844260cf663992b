package store

import (
	"fmt"
	"os"
	"path/filepath"

	"tt-go/internal/config"
	"tt-go/internal/keys"
)

// OpenFromConfig opens the store described by the database config, verifying
// it against the key at keyPath.
func OpenFromConfig(cfg config.DatabaseConfig, keyPath, deviceID string) (*OpenResult, error) {
	km := keys.NewManager(keyPath)

	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return nil, fmt.Errorf("creating data dir: %w", err)
		}
		dbPath := filepath.Join(cfg.DataDir, deviceID+".db")
		return Open(dbPath, km)
	case "memory":
		return Open(":memory:", km)
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
