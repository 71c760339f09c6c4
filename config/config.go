// Package config loads bubble configuration from defaults, the data directory's
// config.yaml, BUBBLE_* environment variables and command line overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/moby/sys/atomicwriter"
	"gopkg.in/yaml.v3"
)

const (
	DataDir        = ".bubble"
	ConfigFile     = "config.yaml"
	GitDir         = "git"
	WorkspaceDir   = "bubbles"
	SharedDir      = "shared"
	RegistryFile   = "registry.json"
	AliasFile      = "aliases.json"
	DatabaseFile   = "bubble.db"
	RelaySocket    = "relay.sock"
	RelayLogFile   = "relay.log"
	RelayKeyFile   = "relay.key"
	RegistryLock   = "registry.json.lock"
	DefaultGitHost = "github.com"
)

// EnvProvider abstracts environment variable access for testing
type EnvProvider interface {
	Getenv(key string) string
	UserHomeDir() (string, error)
}

// DefaultEnvProvider implements EnvProvider using real OS functions
type DefaultEnvProvider struct{}

func (p *DefaultEnvProvider) Getenv(key string) string {
	return os.Getenv(key)
}

func (p *DefaultEnvProvider) UserHomeDir() (string, error) {
	return os.UserHomeDir()
}

// GetDefaultDataDir returns BUBBLE_HOME if set, otherwise ~/.bubble
func GetDefaultDataDir() string {
	return getDefaultDataDirWithEnv(&DefaultEnvProvider{})
}

func getDefaultDataDirWithEnv(env EnvProvider) string {
	if home := env.Getenv("BUBBLE_HOME"); home != "" {
		return home
	}
	homeDir, _ := env.UserHomeDir()
	return filepath.Join(homeDir, DataDir)
}

// RelayLimits caps relayed bubble creation
type RelayLimits struct {
	PerMinute            int
	PerTenMinutes        int
	PerHour              int
	GlobalPerHour        int
	MaxTrackedContainers int
}

// Config holds configuration for all components
type Config struct {
	// Core paths
	DataDir          string
	ConfigPath       string
	GitDir           string
	WorkspaceDir     string
	SharedDir        string
	RegistryPath     string
	RegistryLockPath string
	AliasPath        string
	DatabasePath     string

	// Logging
	LogLevel     string
	ColorEnabled bool

	// Container runtime
	DockerHost   string
	DefaultImage string

	// Git
	GitHost               string
	GitTimeout            time.Duration
	LockTimeout           time.Duration
	MirrorRefreshInterval time.Duration

	// Relay
	RelayEnabled        bool
	RelaySocketPath     string
	RelayLogPath        string
	RelayKeyPath        string
	RelayKey            string
	RelayMaxConcurrent  int
	RelayRequestTimeout time.Duration
	RelayLimits         RelayLimits

	env EnvProvider
}

// NewConfigForCLI creates a new configuration for CLI usage with optional data directory override
func NewConfigForCLI(cliDataDir string) (*Config, error) {
	return newConfigWithEnv(&DefaultEnvProvider{}, cliDataDir)
}

// NewConfigForCLIWithEnv creates a new configuration with custom environment provider (for testing)
func NewConfigForCLIWithEnv(env EnvProvider, cliDataDir string) (*Config, error) {
	return newConfigWithEnv(env, cliDataDir)
}

func newConfigWithEnv(env EnvProvider, cliDataDir string) (*Config, error) {
	c := &Config{env: env}

	c.setDefaults()

	// The data directory decides where config.yaml lives, so settle it first
	if v := env.Getenv("BUBBLE_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if cliDataDir != "" {
		c.DataDir = cliDataDir
	}
	c.ConfigPath = filepath.Join(c.DataDir, ConfigFile)

	if err := c.loadFromFile(); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	c.loadFromEnv()
	c.derivePaths()

	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return c, nil
}

func (c *Config) setDefaults() {
	c.DataDir = getDefaultDataDirWithEnv(c.env)
	c.LogLevel = "warning"
	c.ColorEnabled = true
	c.DockerHost = "unix:///var/run/docker.sock"
	c.DefaultImage = "base"
	c.GitHost = DefaultGitHost
	c.GitTimeout = 10 * time.Minute
	c.LockTimeout = 5 * time.Minute
	c.MirrorRefreshInterval = 10 * time.Minute
	c.RelayEnabled = false
	c.RelayMaxConcurrent = 4
	c.RelayRequestTimeout = 5 * time.Second
	c.RelayLimits = RelayLimits{
		PerMinute:            3,
		PerTenMinutes:        10,
		PerHour:              20,
		GlobalPerHour:        30,
		MaxTrackedContainers: 100,
	}
}

// fileConfig is the on-disk shape of config.yaml
type fileConfig struct {
	LogLevel string         `yaml:"log_level,omitempty"`
	Color    *bool          `yaml:"color,omitempty"`
	Docker   *dockerSection `yaml:"docker,omitempty"`
	Git      *gitSection    `yaml:"git,omitempty"`
	Relay    *relaySection  `yaml:"relay,omitempty"`
}

type dockerSection struct {
	Host         string `yaml:"host,omitempty"`
	DefaultImage string `yaml:"default_image,omitempty"`
}

type gitSection struct {
	Host            string `yaml:"host,omitempty"`
	Timeout         string `yaml:"timeout,omitempty"`
	LockTimeout     string `yaml:"lock_timeout,omitempty"`
	RefreshInterval string `yaml:"refresh_interval,omitempty"`
}

type relaySection struct {
	Enabled        *bool         `yaml:"enabled,omitempty"`
	MaxConcurrent  int           `yaml:"max_concurrent,omitempty"`
	RequestTimeout string        `yaml:"request_timeout,omitempty"`
	Limits         *limitSection `yaml:"limits,omitempty"`
}

type limitSection struct {
	PerMinute     int `yaml:"per_minute,omitempty"`
	PerTenMinutes int `yaml:"per_ten_minutes,omitempty"`
	PerHour       int `yaml:"per_hour,omitempty"`
	GlobalPerHour int `yaml:"global_per_hour,omitempty"`
}

// loadFromFile overlays config.yaml. A missing file is not an error.
func (c *Config) loadFromFile() error {
	data, err := os.ReadFile(c.ConfigPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", c.ConfigPath, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", c.ConfigPath, err)
	}

	if fc.LogLevel != "" {
		c.LogLevel = fc.LogLevel
	}
	if fc.Color != nil {
		c.ColorEnabled = *fc.Color
	}
	if d := fc.Docker; d != nil {
		if d.Host != "" {
			c.DockerHost = d.Host
		}
		if d.DefaultImage != "" {
			c.DefaultImage = d.DefaultImage
		}
	}
	if g := fc.Git; g != nil {
		if g.Host != "" {
			c.GitHost = g.Host
		}
		if err := parseDurationInto(&c.GitTimeout, "git.timeout", g.Timeout); err != nil {
			return err
		}
		if err := parseDurationInto(&c.LockTimeout, "git.lock_timeout", g.LockTimeout); err != nil {
			return err
		}
		if err := parseDurationInto(&c.MirrorRefreshInterval, "git.refresh_interval", g.RefreshInterval); err != nil {
			return err
		}
	}
	if r := fc.Relay; r != nil {
		if r.Enabled != nil {
			c.RelayEnabled = *r.Enabled
		}
		if r.MaxConcurrent != 0 {
			c.RelayMaxConcurrent = r.MaxConcurrent
		}
		if err := parseDurationInto(&c.RelayRequestTimeout, "relay.request_timeout", r.RequestTimeout); err != nil {
			return err
		}
		if l := r.Limits; l != nil {
			overrideInt(&c.RelayLimits.PerMinute, l.PerMinute)
			overrideInt(&c.RelayLimits.PerTenMinutes, l.PerTenMinutes)
			overrideInt(&c.RelayLimits.PerHour, l.PerHour)
			overrideInt(&c.RelayLimits.GlobalPerHour, l.GlobalPerHour)
		}
	}
	return nil
}

func parseDurationInto(dst *time.Duration, key, value string) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	*dst = d
	return nil
}

func overrideInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

// loadFromEnv loads configuration from environment variables
func (c *Config) loadFromEnv() {
	if v := c.env.Getenv("BUBBLE_DATABASE_PATH"); v != "" {
		c.DatabasePath = v
	}
	if v := c.env.Getenv("BUBBLE_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := c.env.Getenv("BUBBLE_COLOR_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.ColorEnabled = enabled
		}
	}
	if v := c.env.Getenv("BUBBLE_DOCKER_HOST"); v != "" {
		c.DockerHost = v
	}
	if v := c.env.Getenv("BUBBLE_DEFAULT_IMAGE"); v != "" {
		c.DefaultImage = v
	}
	if v := c.env.Getenv("BUBBLE_GIT_HOST"); v != "" {
		c.GitHost = v
	}
	if v := c.env.Getenv("BUBBLE_GIT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.GitTimeout = d
		}
	}
	if v := c.env.Getenv("BUBBLE_LOCK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.LockTimeout = d
		}
	}
	if v := c.env.Getenv("BUBBLE_RELAY_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.RelayEnabled = enabled
		}
	}
	if v := c.env.Getenv("BUBBLE_RELAY_KEY"); v != "" {
		c.RelayKey = v
	}
	if v := c.env.Getenv("BUBBLE_RELAY_SOCKET"); v != "" {
		c.RelaySocketPath = v
	}
}

// derivePaths calculates dependent paths from the base DataDir
func (c *Config) derivePaths() {
	c.GitDir = filepath.Join(c.DataDir, GitDir)
	c.WorkspaceDir = filepath.Join(c.DataDir, WorkspaceDir)
	c.SharedDir = filepath.Join(c.DataDir, SharedDir)
	c.RegistryPath = filepath.Join(c.DataDir, RegistryFile)
	c.RegistryLockPath = filepath.Join(c.DataDir, RegistryLock)
	c.AliasPath = filepath.Join(c.DataDir, AliasFile)
	c.RelayLogPath = filepath.Join(c.DataDir, RelayLogFile)
	c.RelayKeyPath = filepath.Join(c.DataDir, RelayKeyFile)

	if c.RelaySocketPath == "" {
		c.RelaySocketPath = filepath.Join(c.DataDir, RelaySocket)
	}
	if c.DatabasePath == "" {
		c.DatabasePath = filepath.Join(c.DataDir, DatabaseFile)
	}
}

// validate ensures configuration values are valid
func (c *Config) validate() error {
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warning": true, "error": true, "silent": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warning, error or silent)", c.LogLevel)
	}
	if c.GitTimeout <= 0 {
		return fmt.Errorf("git timeout must be positive, got: %v", c.GitTimeout)
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("lock timeout must be positive, got: %v", c.LockTimeout)
	}
	if c.MirrorRefreshInterval < 0 {
		return fmt.Errorf("mirror refresh interval cannot be negative, got: %v", c.MirrorRefreshInterval)
	}
	if c.RelayMaxConcurrent < 1 {
		return fmt.Errorf("relay max concurrent must be at least 1, got: %d", c.RelayMaxConcurrent)
	}
	if c.RelayRequestTimeout <= 0 {
		return fmt.Errorf("relay request timeout must be positive, got: %v", c.RelayRequestTimeout)
	}
	l := c.RelayLimits
	if l.PerMinute < 1 || l.PerTenMinutes < 1 || l.PerHour < 1 || l.GlobalPerHour < 1 {
		return fmt.Errorf("relay limits must be positive")
	}
	if c.GitHost == "" {
		return fmt.Errorf("git host cannot be empty")
	}
	return nil
}

// SetRelayEnabled updates the relay switch and persists it to config.yaml
func (c *Config) SetRelayEnabled(enabled bool) error {
	c.RelayEnabled = enabled
	return c.Save()
}

// Save writes the persistent subset of the configuration to config.yaml.
// Existing keys in the file are preserved.
func (c *Config) Save() error {
	var fc fileConfig
	if data, err := os.ReadFile(c.ConfigPath); err == nil {
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return fmt.Errorf("failed to parse config file %s: %w", c.ConfigPath, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to read config file %s: %w", c.ConfigPath, err)
	}

	if fc.Relay == nil {
		fc.Relay = &relaySection{}
	}
	enabled := c.RelayEnabled
	fc.Relay.Enabled = &enabled

	data, err := yaml.Marshal(&fc)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.ConfigPath), 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := atomicwriter.WriteFile(c.ConfigPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", c.ConfigPath, err)
	}
	return nil
}

// GetLogLevel returns the configured log level
func (c *Config) GetLogLevel() string {
	return c.LogLevel
}
