package db

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// MemoryPath opens a private in-memory database
const MemoryPath = ":memory:"

// DefaultBusyTimeout is how long a writer waits for another process's write lock
const DefaultBusyTimeout = 5 * time.Second

// Config controls how Open connects to SQLite
type Config struct {
	// Path is the database file, or MemoryPath
	Path     string
	LogLevel logger.LogLevel
	// BusyTimeout defaults to DefaultBusyTimeout
	BusyTimeout time.Duration
}

// Open connects to the database described by cfg. The relay daemon and CLI
// commands write to the same file, so file databases run in WAL mode with a
// busy timeout and take the write lock when a transaction begins. Settings go
// in the DSN because SQLite pragmas are per connection.
func Open(cfg Config) (*gorm.DB, error) {
	memory := cfg.Path == MemoryPath
	if !memory {
		dir := filepath.Dir(cfg.Path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			slog.Error("Database operation failed",
				"layer", "db",
				"operation", "create_dir",
				"dir", dir,
				"error", err)
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	dsn := buildDSN(cfg)
	database, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(cfg.LogLevel),
	})
	if err != nil {
		slog.Error("Database operation failed",
			"layer", "db",
			"operation", "open",
			"path", cfg.Path,
			"error", err)
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := database.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access connection pool: %w", err)
	}
	if memory {
		// Every connection to :memory: is a separate database
		sqlDB.SetMaxOpenConns(1)
	}

	slog.Debug("Database opened", "path", cfg.Path)
	return database, nil
}

func buildDSN(cfg Config) string {
	params := url.Values{}
	params.Set("_foreign_keys", "on")
	if cfg.Path == MemoryPath {
		return cfg.Path + "?" + params.Encode()
	}

	timeout := cfg.BusyTimeout
	if timeout <= 0 {
		timeout = DefaultBusyTimeout
	}
	params.Set("_busy_timeout", fmt.Sprint(timeout.Milliseconds()))
	params.Set("_journal_mode", "WAL")
	params.Set("_synchronous", "NORMAL")
	params.Set("_txlock", "immediate")
	return cfg.Path + "?" + params.Encode()
}
