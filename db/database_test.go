package db

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestGetGormLogLevel(t *testing.T) {
	tests := []struct {
		name           string
		logLevel       slog.Level
		expectedResult logger.LogLevel
	}{
		{
			name:           "debug level returns info",
			logLevel:       slog.LevelDebug,
			expectedResult: logger.Info,
		},
		{
			name:           "info level returns warn",
			logLevel:       slog.LevelInfo,
			expectedResult: logger.Warn,
		},
		{
			name:           "warn level returns warn",
			logLevel:       slog.LevelWarn,
			expectedResult: logger.Warn,
		},
		{
			name:           "error level returns error",
			logLevel:       slog.LevelError,
			expectedResult: logger.Error,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Create a logger with the specified level
			handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: tt.logLevel,
			})
			originalLogger := slog.Default()
			slog.SetDefault(slog.New(handler))
			defer slog.SetDefault(originalLogger)

			result := getGormLogLevel()
			assert.Equal(t, tt.expectedResult, result)
		})
	}
}

func TestInitDB(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "bubble.db")

	db, err := InitDB(dbPath)
	require.NoError(t, err)
	require.NotNil(t, db)

	_, err = os.Stat(dbPath)
	assert.NoError(t, err)

	assert.True(t, db.Migrator().HasTable(&RelayTokenModel{}))
	assert.True(t, db.Migrator().HasTable(&RelayRequestModel{}))

	// Reopening an initialized database is a no-op migration
	again, err := InitDB(dbPath)
	require.NoError(t, err)
	var count int64
	require.NoError(t, again.Model(&MigrationModel{}).Count(&count).Error)
	assert.Equal(t, int64(len(allMigrations)), count)
}

func TestInitDB_InvalidDirectory(t *testing.T) {
	// A regular file where the data directory should be
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	db, err := InitDB(filepath.Join(blocker, "bubble.db"))
	assert.Error(t, err)
	assert.Nil(t, db)
}

// Test helper function to verify the getGormLogLevel logic in isolation
func TestGetGormLogLevel_DirectCheck(t *testing.T) {
	// Save original logger
	originalLogger := slog.Default()
	defer slog.SetDefault(originalLogger)

	// Test with debug level
	debugHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	slog.SetDefault(slog.New(debugHandler))

	// Verify that debug logging is enabled
	assert.True(t, slog.Default().Enabled(context.TODO(), slog.LevelDebug))

	result := getGormLogLevel()
	assert.Equal(t, logger.Info, result)

	// Test with error level (highest level, disables lower levels)
	errorHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	})
	slog.SetDefault(slog.New(errorHandler))

	// Verify that debug/info/warn logging is disabled
	assert.False(t, slog.Default().Enabled(context.TODO(), slog.LevelDebug))
	assert.False(t, slog.Default().Enabled(context.TODO(), slog.LevelInfo))
	assert.False(t, slog.Default().Enabled(context.TODO(), slog.LevelWarn))
	assert.True(t, slog.Default().Enabled(context.TODO(), slog.LevelError))

	result = getGormLogLevel()
	assert.Equal(t, logger.Error, result)
}

func TestBuildDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want map[string]string
	}{
		{
			name: "file uses wal and busy timeout",
			cfg:  Config{Path: "/data/bubble.db"},
			want: map[string]string{
				"_foreign_keys": "on",
				"_busy_timeout": "5000",
				"_journal_mode": "WAL",
				"_synchronous":  "NORMAL",
				"_txlock":       "immediate",
			},
		},
		{
			name: "custom busy timeout",
			cfg:  Config{Path: "/data/bubble.db", BusyTimeout: 250 * time.Millisecond},
			want: map[string]string{"_busy_timeout": "250"},
		},
		{
			name: "memory only enforces foreign keys",
			cfg:  Config{Path: MemoryPath},
			want: map[string]string{"_foreign_keys": "on", "_journal_mode": "", "_busy_timeout": ""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dsn := buildDSN(tt.cfg)
			path, query, ok := strings.Cut(dsn, "?")
			require.True(t, ok)
			assert.Equal(t, tt.cfg.Path, path)
			params, err := url.ParseQuery(query)
			require.NoError(t, err)
			for key, want := range tt.want {
				assert.Equal(t, want, params.Get(key), key)
			}
		})
	}
}

func TestOpen_FileDatabaseSettings(t *testing.T) {
	database, err := Open(Config{Path: filepath.Join(t.TempDir(), "bubble.db"), LogLevel: logger.Silent})
	require.NoError(t, err)

	var journal string
	require.NoError(t, database.Raw("PRAGMA journal_mode").Scan(&journal).Error)
	assert.Equal(t, "wal", strings.ToLower(journal))

	var busy int
	require.NoError(t, database.Raw("PRAGMA busy_timeout").Scan(&busy).Error)
	assert.Equal(t, int(DefaultBusyTimeout.Milliseconds()), busy)

	var foreignKeys int
	require.NoError(t, database.Raw("PRAGMA foreign_keys").Scan(&foreignKeys).Error)
	assert.Equal(t, 1, foreignKeys)
}

func TestOpen_ConcurrentWritersShareFile(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "bubble.db")
	daemon, err := InitDB(dbPath)
	require.NoError(t, err)
	cli, err := InitDB(dbPath)
	require.NoError(t, err)

	const perWriter = 25
	var wg sync.WaitGroup
	errs := make(chan error, 2*perWriter)
	for i, database := range []*gorm.DB{daemon, cli} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				errs <- database.Create(&RelayRequestModel{
					BaseModel:     BaseModel{ID: uuid.New()},
					ContainerName: fmt.Sprintf("writer-%d", i),
					Outcome:       "accepted",
				}).Error
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	var count int64
	require.NoError(t, daemon.Model(&RelayRequestModel{}).Count(&count).Error)
	assert.Equal(t, int64(2*perWriter), count)
}
