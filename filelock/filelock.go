// Package filelock provides cross-process exclusive locks backed by a lock file.
//
// A lock file is created with O_EXCL and records the owning process id, host
// and a random nonce. A lock whose owner lives on this host but whose process
// no longer exists is considered stale and broken by the next acquirer, so a
// crashed process cannot wedge later invocations.
package filelock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

const (
	DefaultPollInterval = 100 * time.Millisecond

	// incompleteGrace is how long an empty or unreadable lock file is given
	// before it is treated as left behind by a crash between create and write.
	incompleteGrace = 30 * time.Second
)

// Owner describes the process holding a lock
type Owner struct {
	PID        int       `json:"pid"`
	Host       string    `json:"host"`
	Nonce      string    `json:"nonce"`
	AcquiredAt time.Time `json:"acquired_at"`
}

func (o Owner) String() string {
	if o.PID == 0 {
		return "unknown owner"
	}
	return fmt.Sprintf("pid %d on %s", o.PID, o.Host)
}

// TimeoutError is returned when a lock could not be acquired in time
type TimeoutError struct {
	Path    string
	Holder  Owner
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for %s (held by %s)", e.Timeout, e.Path, e.Holder)
}

// Locker acquires lock files
type Locker struct {
	Timeout      time.Duration
	PollInterval time.Duration

	hostname string
	pid      int
	alive    func(pid int) bool
}

// NewLocker creates a Locker that waits at most timeout for a lock
func NewLocker(timeout time.Duration) *Locker {
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	return &Locker{
		Timeout:      timeout,
		PollInterval: DefaultPollInterval,
		hostname:     host,
		pid:          os.Getpid(),
		alive:        ProcessAlive,
	}
}

// Lock is a held lock. Release is safe to call more than once.
type Lock struct {
	path  string
	owner Owner

	mu       sync.Mutex
	released bool
}

// Path returns the lock file path
func (l *Lock) Path() string {
	return l.path
}

// Owner returns the record written into the lock file
func (l *Lock) Owner() Owner {
	return l.owner
}

var errHeld = errors.New("lock held")

// Acquire blocks until the lock at path is held, the timeout elapses or ctx is done
func (l *Locker) Acquire(ctx context.Context, path string) (*Lock, error) {
	deadline := time.Now().Add(l.Timeout)
	poll := l.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}

	for {
		lock, holder, err := l.TryAcquire(path)
		if err == nil {
			return lock, nil
		}
		if !errors.Is(err, errHeld) {
			return nil, err
		}

		if !time.Now().Before(deadline) {
			return nil, &TimeoutError{Path: path, Holder: holder, Timeout: l.Timeout}
		}

		timer := time.NewTimer(poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// TryAcquire makes a single attempt. When the lock is held by a live process it
// returns the holder and an error wrapping errHeld.
func (l *Locker) TryAcquire(path string) (*Lock, Owner, error) {
	for attempt := 0; attempt < 2; attempt++ {
		lock, err := l.create(path)
		if err == nil {
			return lock, Owner{}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, Owner{}, fmt.Errorf("failed to create lock file %s: %w", path, err)
		}

		holder, stale := l.inspect(path)
		if !stale {
			return nil, holder, fmt.Errorf("%s: %w", path, errHeld)
		}
		if !l.breakStale(path, holder) {
			return nil, holder, fmt.Errorf("%s: %w", path, errHeld)
		}
	}
	return nil, Owner{}, fmt.Errorf("%s: %w", path, errHeld)
}

func (l *Locker) create(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, err
	}

	owner := Owner{
		PID:        l.pid,
		Host:       l.hostname,
		Nonce:      uuid.NewString(),
		AcquiredAt: time.Now().UTC(),
	}
	data, err := json.Marshal(owner)
	if err == nil {
		_, err = f.Write(data)
	}
	if err == nil {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("failed to record lock owner: %w", err)
	}

	return &Lock{path: path, owner: owner}, nil
}

// inspect reads the current holder and decides whether the lock is stale
func (l *Locker) inspect(path string) (Owner, bool) {
	owner, err := readOwner(path)
	if err != nil {
		info, statErr := os.Stat(path)
		if statErr != nil {
			// Gone between our create and stat; the next attempt will win or lose fairly
			return Owner{}, errors.Is(statErr, fs.ErrNotExist)
		}
		return Owner{}, time.Since(info.ModTime()) > incompleteGrace
	}
	if owner.Host != l.hostname {
		return owner, false
	}
	return owner, !l.alive(owner.PID)
}

// breakStale removes a stale lock. The file is first renamed to a private
// tombstone so that two processes breaking the same lock cannot both succeed,
// then the tombstone is checked to still describe the stale owner.
func (l *Locker) breakStale(path string, stale Owner) bool {
	tomb := fmt.Sprintf("%s.stale-%s", path, uuid.NewString())
	if err := os.Rename(path, tomb); err != nil {
		return errors.Is(err, fs.ErrNotExist)
	}

	got, err := readOwner(tomb)
	if err == nil && got.Nonce != stale.Nonce {
		// A live owner replaced the stale file before our rename; put it back
		if linkErr := os.Link(tomb, path); linkErr != nil {
			slog.Warn("Failed to restore lock after stale-lock race",
				"layer", "filelock",
				"operation", "break_stale",
				"path", path,
				"error", linkErr)
		}
		_ = os.Remove(tomb)
		return false
	}

	_ = os.Remove(tomb)
	slog.Info("Broke stale lock",
		"layer", "filelock",
		"operation", "break_stale",
		"path", path,
		"holder", stale.String())
	return true
}

// Release removes the lock file if it still belongs to this lock
func (l *Lock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.released {
		return nil
	}
	l.released = true

	owner, err := readOwner(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read lock %s: %w", l.path, err)
	}
	if owner.Nonce != l.owner.Nonce {
		slog.Warn("Lock no longer owned at release",
			"layer", "filelock",
			"operation", "release",
			"path", l.path,
			"holder", owner.String())
		return nil
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove lock %s: %w", l.path, err)
	}
	return nil
}

// ReadOwner returns the owner recorded in the lock file at path
func ReadOwner(path string) (Owner, error) {
	return readOwner(path)
}

func readOwner(path string) (Owner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Owner{}, err
	}
	var owner Owner
	if err := json.Unmarshal(data, &owner); err != nil {
		return Owner{}, fmt.Errorf("malformed lock file %s: %w", path, err)
	}
	if owner.PID <= 0 {
		return Owner{}, fmt.Errorf("malformed lock file %s: missing pid", path)
	}
	return owner, nil
}

// ProcessAlive reports whether pid names a live process on this host
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}
	// EPERM means the process exists but belongs to someone else
	return errors.Is(err, unix.EPERM)
}
