package storage

import (
	"fmt"
	"path/filepath"
)

// Driver names accepted by Open.
const (
	DriverMemory   = "memory"
	DriverFile     = "file"
	DriverBolt     = "bolt"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// OpenConfig selects and locates a store driver.
type OpenConfig struct {
	Driver  string
	DataDir string
	DSN     string
}

// Open creates the configured ConversationStore.
func Open(cfg OpenConfig, opts ...Option) (ConversationStore, error) {
	switch cfg.Driver {
	case DriverMemory, "":
		return NewMemoryStore(opts...), nil
	case DriverFile:
		return NewFileStore(filepath.Join(cfg.DataDir, "conversations"), opts...)
	case DriverBolt:
		return NewBoltStore(filepath.Join(cfg.DataDir, "conversations.bolt"), opts...)
	case DriverSQLite:
		dsn := cfg.DSN
		if dsn == "" {
			dsn = filepath.Join(cfg.DataDir, "scanmed.db")
		}
		return NewSQLiteStore(dsn, opts...)
	case DriverPostgres:
		return NewPostgresStore(cfg.DSN, opts...)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", cfg.Driver)
	}
}
