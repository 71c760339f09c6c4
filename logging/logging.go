// Package logging configures slog for the bubble CLI and the relay audit log.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// LevelSilent is above every level the CLI logs at
const LevelSilent = slog.Level(1000)

// ParseLogLevel converts a level name to a slog.Level. Unknown names map to info.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warning", "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "silent", "none":
		return LevelSilent
	default:
		return slog.LevelInfo
	}
}

// ValidLogLevels returns the level names accepted by --log-level
func ValidLogLevels() []string {
	return []string{"debug", "info", "warning", "error", "silent"}
}

// NewLogger returns a text logger writing to w at the named level
func NewLogger(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: ParseLogLevel(level),
	}))
}

// InitLogging installs a stderr logger at the named level as the default.
// stdout stays free for command output.
func InitLogging(level string) {
	slog.SetDefault(NewLogger(os.Stderr, level))
}

// NewAuditLogger opens the relay audit log at path. Entries are JSON lines with
// UTC timestamps, appended to a file readable only by its owner. The caller
// closes the returned file when done.
func NewAuditLogger(path string) (*slog.Logger, io.Closer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open audit log %s: %w", path, err)
	}
	handler := slog.NewJSONHandler(f, &slog.HandlerOptions{
		Level: slog.LevelInfo,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				a.Value = slog.TimeValue(a.Value.Time().UTC())
			}
			return a
		},
	})
	return slog.New(handler).With("log", "relay_audit"), f, nil
}

// LogLevel is the --log-level flag. Left unset, the configured level applies.
var LogLevel = &logLevelFlag{value: "silent"}

type logLevelFlag struct {
	value string
	set   bool
}

func (l *logLevelFlag) Set(value string) error {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "warn" {
		normalized = "warning"
	}
	if !slices.Contains(ValidLogLevels(), normalized) {
		return fmt.Errorf("invalid value '%s'. Allowed values: %s",
			value, strings.Join(ValidLogLevels(), ", "))
	}
	l.value = normalized
	l.set = true
	return nil
}

func (l *logLevelFlag) String() string {
	return l.value
}

func (l *logLevelFlag) Type() string {
	return fmt.Sprintf("one of [%s]", strings.Join(ValidLogLevels(), "|"))
}

// IsSet returns true if the flag was explicitly set via command line
func (l *logLevelFlag) IsSet() bool {
	return l.set
}

// Resolve picks the level to run at: the flag when given, then the configured
// level, then the flag default.
func (l *logLevelFlag) Resolve(configured string) string {
	if l.set || configured == "" {
		return l.value
	}
	return configured
}
