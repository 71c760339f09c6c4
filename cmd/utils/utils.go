// Package utils provides utility functions for CLI commands in bubble.
package utils

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oar-cd/bubble/domain"
)

// UserError is a command failure whose message is safe to show as is
type UserError struct {
	Operation string
	Message   string
	Err       error
}

func (e *UserError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Operation, e.Message)
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// HandleCommandError logs err with context and returns it in a form fit for the terminal
func HandleCommandError(operation string, err error, context ...any) error {
	slog.Error("Command failed", append([]any{"operation", operation, "error", err}, context...)...)
	return &UserError{Operation: operation, Message: domain.FormatErrorForUser(err), Err: err}
}

// ExitCode maps a command error to the process exit status.
// Retryable failures exit with 75 (EX_TEMPFAIL).
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case domain.IsRetryable(err):
		return 75
	default:
		return 1
	}
}

// SignalContext returns the command's context, cancelled on SIGINT or SIGTERM
func SignalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// InsideBubble reports whether the process runs in a bubble container
func InsideBubble() bool {
	_, err := os.Stat(domain.RelayTokenPath)
	return err == nil
}
