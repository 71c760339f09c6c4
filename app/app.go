// Package app wires bubble's stores, runtime and lifecycle manager from configuration.
package app

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"gorm.io/gorm"

	"github.com/oar-cd/bubble/config"
	"github.com/oar-cd/bubble/db"
	"github.com/oar-cd/bubble/docker"
	"github.com/oar-cd/bubble/encryption"
	"github.com/oar-cd/bubble/gitstore"
	"github.com/oar-cd/bubble/lifecycle"
	"github.com/oar-cd/bubble/logging"
	"github.com/oar-cd/bubble/registry"
	"github.com/oar-cd/bubble/relay"
	"github.com/oar-cd/bubble/repository"
	"github.com/oar-cd/bubble/target"
	"github.com/oar-cd/bubble/watcher"
)

var (
	// Version is set at build time via -ldflags
	Version = "dev"

	appConfig      *config.Config
	database       *gorm.DB
	gitStore       *gitstore.Store
	aliasStore     *target.AliasStore
	resolver       *target.Resolver
	bubbleRegistry *registry.Registry
	runtime        *docker.Runtime
	manager        *lifecycle.Manager
	relayTokens    *relay.Tokens
	tokenRepo      repository.RelayTokenRepository
	auditRepo      repository.RelayAuditRepository
)

// InitializeWithConfig builds every service. It does not contact the container runtime.
func InitializeWithConfig(cfg *config.Config) error {
	appConfig = cfg

	for _, dir := range []string{cfg.DataDir, cfg.GitDir, cfg.WorkspaceDir, cfg.SharedDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	var err error
	database, err = db.InitDB(cfg.DatabasePath)
	if err != nil {
		return err
	}

	key := cfg.RelayKey
	if key == "" {
		if key, err = encryption.LoadOrCreateKey(cfg.RelayKeyPath); err != nil {
			return err
		}
	}
	encryptionSvc, err := encryption.NewEncryptionService(key)
	if err != nil {
		return err
	}

	tokenRepo = repository.NewRelayTokenRepository(database)
	auditRepo = repository.NewRelayAuditRepository(database)
	relayTokens = relay.NewTokens(tokenRepo, encryptionSvc)

	gitStore = gitstore.NewStore(gitstore.Options{
		Root:            cfg.GitDir,
		Host:            cfg.GitHost,
		LockTimeout:     cfg.LockTimeout,
		RefreshInterval: cfg.MirrorRefreshInterval,
		GitTimeout:      cfg.GitTimeout,
	})

	aliasStore, err = target.NewAliasStore(cfg.AliasPath)
	if err != nil {
		return err
	}
	resolver = target.NewResolver(aliasStore, cfg.GitHost)

	bubbleRegistry = registry.New(cfg.RegistryPath, cfg.RegistryLockPath, cfg.LockTimeout)

	runtime, err = docker.New(cfg.DockerHost)
	if err != nil {
		return err
	}

	opts := lifecycle.Options{
		Registry:        bubbleRegistry,
		Git:             gitStore,
		Runtime:         runtime,
		WorkspaceDir:    cfg.WorkspaceDir,
		SharedDir:       cfg.SharedDir,
		RelaySocketPath: cfg.RelaySocketPath,
		DefaultImage:    cfg.DefaultImage,
	}
	if cfg.RelayEnabled {
		opts.Tokens = relayTokens
	}
	manager = lifecycle.NewManager(opts)

	slog.Debug("Application initialized", "data_dir", cfg.DataDir, "relay_enabled", cfg.RelayEnabled)
	return nil
}

// Close releases the database and runtime connections
func Close() {
	if runtime != nil {
		if err := runtime.Close(); err != nil {
			slog.Warn("Failed to close container runtime client", "error", err)
		}
	}
	if database != nil {
		if sqlDB, err := database.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

func GetConfig() *config.Config {
	return appConfig
}

func GetManager() *lifecycle.Manager {
	return manager
}

func GetResolver() *target.Resolver {
	return resolver
}

func GetAliasStore() *target.AliasStore {
	return aliasStore
}

func GetGitStore() *gitstore.Store {
	return gitStore
}

func GetRuntime() *docker.Runtime {
	return runtime
}

func GetRelayTokens() *relay.Tokens {
	return relayTokens
}

func GetRelayTokenRepository() repository.RelayTokenRepository {
	return tokenRepo
}

func GetRelayAuditRepository() repository.RelayAuditRepository {
	return auditRepo
}

// NewWatcher returns a watcher over the configured store and manager
func NewWatcher() *watcher.WatcherService {
	return watcher.NewWatcherService(gitStore, manager, appConfig.MirrorRefreshInterval)
}

// NewRelayServer builds the relay daemon. The returned closer flushes the audit log.
func NewRelayServer() (*relay.Server, io.Closer, error) {
	auditLogger, closer, err := logging.NewAuditLogger(appConfig.RelayLogPath)
	if err != nil {
		return nil, nil, err
	}

	server := relay.NewServer(relay.ServerOptions{
		SocketPath:     appConfig.RelaySocketPath,
		Launcher:       manager,
		Tokens:         relayTokens,
		Validator:      relay.NewValidator(resolver, gitStore),
		Limiter:        relay.NewRateLimiter(relay.Limits(appConfig.RelayLimits)),
		Auditor:        relay.NewAuditor(auditRepo, auditLogger),
		MaxConcurrent:  appConfig.RelayMaxConcurrent,
		RequestTimeout: appConfig.RelayRequestTimeout,
	})
	return server, closer, nil
}

// SetManagerForTesting allows overriding the lifecycle manager for testing purposes
func SetManagerForTesting(m *lifecycle.Manager) {
	manager = m
}

// SetResolverForTesting allows overriding the target resolver for testing purposes
func SetResolverForTesting(r *target.Resolver) {
	resolver = r
}
