package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrBubbleNotFound = errors.New("bubble not found")
	ErrMirrorNotFound = errors.New("mirror not found")
	ErrRelayDisabled  = errors.New("relay is disabled")
)

// UnrecognizedTargetError is returned for ambiguous, unknown or malformed identifiers
type UnrecognizedTargetError struct {
	Identifier string
	Reason     string
}

func (e *UnrecognizedTargetError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("unrecognized target %q", e.Identifier)
	}
	return fmt.Sprintf("unrecognized target %q: %s", e.Identifier, e.Reason)
}

// NotAGitRepositoryError is returned when a path is not inside a git work tree
type NotAGitRepositoryError struct {
	Path string
}

func (e *NotAGitRepositoryError) Error() string {
	return fmt.Sprintf("%s is not inside a git repository", e.Path)
}

// MirrorLockTimeoutError is returned when another process holds a mirror lock too long.
// The operation can be retried.
type MirrorLockTimeoutError struct {
	Path    string
	Holder  string
	Timeout time.Duration
}

func (e *MirrorLockTimeoutError) Error() string {
	msg := fmt.Sprintf("timed out after %s waiting for lock %s", e.Timeout, e.Path)
	if e.Holder != "" {
		msg += fmt.Sprintf(" (held by %s)", e.Holder)
	}
	return msg + "; retry once the other operation finishes"
}

// Temporary marks the error as retryable
func (e *MirrorLockTimeoutError) Temporary() bool { return true }

// InvalidManifestEntryError is returned for a dependency manifest entry that fails validation
type InvalidManifestEntryError struct {
	Index int
	Field string
	Value string
}

func (e *InvalidManifestEntryError) Error() string {
	return fmt.Sprintf("invalid manifest entry #%d: %s %q is not allowed", e.Index, e.Field, e.Value)
}

// InvalidTransitionError is returned when a lifecycle action is not valid in the current state
type InvalidTransitionError struct {
	Name   string
	From   BubbleState
	Action string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s bubble %q in state %s", e.Action, e.Name, e.From)
}

// RateLimitExceededError is returned when a container exceeds a relay window
type RateLimitExceededError struct {
	Container  string
	Window     string
	Limit      int
	RetryAfter time.Duration
}

func (e *RateLimitExceededError) Error() string {
	if e.Container == "" {
		return fmt.Sprintf("global rate limit exceeded (%d per %s)", e.Limit, e.Window)
	}
	return fmt.Sprintf("rate limit exceeded (%d per %s)", e.Limit, e.Window)
}

// UnauthorizedRelayError is returned when a relayed request cannot be tied to a known container
type UnauthorizedRelayError struct {
	Reason string
}

func (e *UnauthorizedRelayError) Error() string {
	return "unauthorized: " + e.Reason
}

// InvalidRelayTargetError is returned when a relayed target fails validation
type InvalidRelayTargetError struct {
	Target string
	Reason string
	// Err is the underlying cause, if any
	Err error
}

func (e *InvalidRelayTargetError) Error() string {
	return e.Reason
}

func (e *InvalidRelayTargetError) Unwrap() error {
	return e.Err
}

// NotCleanError is returned when archiving a bubble that still holds unsaved work
type NotCleanError struct {
	Name   string
	Status CleanStatus
}

func (e *NotCleanError) Error() string {
	return fmt.Sprintf("bubble %q is not clean: %s", e.Name, e.Status.Summary())
}

// IsRetryable reports whether err is a transient failure worth retrying
func IsRetryable(err error) bool {
	var t interface{ Temporary() bool }
	return errors.As(err, &t) && t.Temporary()
}

// FormatErrorForUser converts technical errors to user-friendly messages.
// This should only be called at the command level.
func FormatErrorForUser(err error) string {
	if err == nil {
		return ""
	}

	var (
		unrecognized *UnrecognizedTargetError
		notRepo      *NotAGitRepositoryError
		lockTimeout  *MirrorLockTimeoutError
		manifest     *InvalidManifestEntryError
		transition   *InvalidTransitionError
		notClean     *NotCleanError
	)
	switch {
	case errors.As(err, &unrecognized), errors.As(err, &notRepo),
		errors.As(err, &manifest), errors.As(err, &transition), errors.As(err, &notClean):
		return err.Error()
	case errors.As(err, &lockTimeout):
		return "another bubble operation is using this repository; try again shortly"
	case errors.Is(err, ErrBubbleNotFound):
		return "bubble not found"
	case errors.Is(err, ErrMirrorNotFound):
		return "repository has not been mirrored yet"
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "cannot connect to the docker daemon"):
		return "container runtime is not reachable"
	case strings.Contains(errStr, "repository not found"):
		return "git repository not found - please check the target and your access permissions"
	case strings.Contains(errStr, "permission denied"):
		return "permission denied"
	case strings.Contains(errStr, "timeout"):
		return "operation timed out"
	default:
		return err.Error()
	}
}
