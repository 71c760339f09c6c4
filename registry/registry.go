// Package registry is the durable record of bubbles, keyed by name with a
// secondary index by target. Reads are lock-free; read-modify-write cycles
// run under a cross-process lock and land with an atomic rename.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/moby/sys/atomicwriter"
	"github.com/oar-cd/bubble/domain"
	"github.com/oar-cd/bubble/filelock"
)

type fileFormat struct {
	Bubbles map[string]*domain.Bubble `json:"bubbles"`
}

// Registry stores bubbles in a JSON file
type Registry struct {
	path     string
	lockPath string
	locker   *filelock.Locker
	now      func() time.Time
}

// New creates a registry backed by path, locked through lockPath
func New(path, lockPath string, lockTimeout time.Duration) *Registry {
	if lockPath == "" {
		lockPath = path + ".lock"
	}
	return &Registry{
		path:     path,
		lockPath: lockPath,
		locker:   filelock.NewLocker(lockTimeout),
		now:      time.Now,
	}
}

// Path returns the registry file location
func (r *Registry) Path() string {
	return r.path
}

// snapshot is one consistent view of the registry file
type snapshot struct {
	bubbles map[string]*domain.Bubble
	byKey   map[string]string
}

func (r *Registry) load() (*snapshot, error) {
	s := &snapshot{bubbles: map[string]*domain.Bubble{}, byKey: map[string]string{}}

	raw, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read registry: %w", err)
	}

	var f fileFormat
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("failed to parse registry %s: %w", r.path, err)
	}
	for name, b := range f.Bubbles {
		if b == nil {
			continue
		}
		b.Name = name
		s.bubbles[name] = b
		if b.State != domain.BubbleStateDestroyed {
			s.byKey[b.Target.Key()] = name
		}
	}
	return s, nil
}

func (r *Registry) save(s *snapshot) error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("failed to create registry directory: %w", err)
	}
	raw, err := json.MarshalIndent(fileFormat{Bubbles: s.bubbles}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode registry: %w", err)
	}
	if err := atomicwriter.WriteFile(r.path, append(raw, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write registry: %w", err)
	}
	return nil
}

// Lookup returns the bubble called name
func (r *Registry) Lookup(name string) (*domain.Bubble, error) {
	s, err := r.load()
	if err != nil {
		return nil, err
	}
	return s.lookup(name)
}

// FindExisting returns the bubble tracking target, or nil
func (r *Registry) FindExisting(t domain.Target) (*domain.Bubble, error) {
	s, err := r.load()
	if err != nil {
		return nil, err
	}
	return s.findExisting(t), nil
}

// List returns bubbles sorted by name; archived ones only when asked
func (r *Registry) List(includeArchived bool) ([]*domain.Bubble, error) {
	s, err := r.load()
	if err != nil {
		return nil, err
	}
	var out []*domain.Bubble
	for _, b := range s.bubbles {
		if b.State == domain.BubbleStateArchived && !includeArchived {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// AllocateName returns the name for target, reusing the name of an existing bubble
func (r *Registry) AllocateName(ctx context.Context, t domain.Target) (string, error) {
	var name string
	err := r.WithLock(ctx, func(tx *Tx) error {
		var err error
		name, err = tx.AllocateName(t)
		return err
	})
	return name, err
}

// Persist writes b, replacing any entry with the same name
func (r *Registry) Persist(ctx context.Context, b *domain.Bubble) error {
	return r.WithLock(ctx, func(tx *Tx) error {
		return tx.Persist(b)
	})
}

// Remove deletes the entry called name. Removing an absent entry is not an error.
func (r *Registry) Remove(ctx context.Context, name string) error {
	return r.WithLock(ctx, func(tx *Tx) error {
		tx.Remove(name)
		return nil
	})
}

// Update applies fn to the entry called name and persists the result
func (r *Registry) Update(ctx context.Context, name string, fn func(b *domain.Bubble) error) (*domain.Bubble, error) {
	var updated *domain.Bubble
	err := r.WithLock(ctx, func(tx *Tx) error {
		var err error
		updated, err = tx.Update(name, fn)
		return err
	})
	return updated, err
}

// WithLock runs fn against a fresh snapshot under the registry lock and
// writes the snapshot back if fn changed it. An error from fn discards changes.
func (r *Registry) WithLock(ctx context.Context, fn func(tx *Tx) error) error {
	if err := os.MkdirAll(filepath.Dir(r.lockPath), 0o755); err != nil {
		return fmt.Errorf("failed to create registry directory: %w", err)
	}
	lock, err := r.locker.Acquire(ctx, r.lockPath)
	if err != nil {
		return fmt.Errorf("failed to lock registry: %w", err)
	}
	defer func() { _ = lock.Release() }()

	s, err := r.load()
	if err != nil {
		return err
	}
	tx := &Tx{snap: s, now: r.now}
	if err := fn(tx); err != nil {
		return err
	}
	if !tx.dirty {
		return nil
	}
	return r.save(s)
}

// Tx is a locked view of the registry handed to WithLock callbacks
type Tx struct {
	snap  *snapshot
	now   func() time.Time
	dirty bool
}

func (tx *Tx) Lookup(name string) (*domain.Bubble, error) {
	return tx.snap.lookup(name)
}

func (tx *Tx) FindExisting(t domain.Target) *domain.Bubble {
	return tx.snap.findExisting(t)
}

// AllocateName picks a free name for target. The same target keeps its name;
// a different target that generates the same base name gets a numeric suffix.
func (tx *Tx) AllocateName(t domain.Target) (string, error) {
	if existing := tx.snap.findExisting(t); existing != nil {
		return existing.Name, nil
	}

	taken := func(name string) bool {
		_, ok := tx.snap.bubbles[name]
		return ok
	}

	if t.IsLocal() {
		for n := 1; n <= maxSuffix; n++ {
			if name := localName(t.Repo, n); !taken(name) {
				return name, nil
			}
		}
		return "", fmt.Errorf("could not find a free name for local checkout %s", t.LocalPath)
	}
	return deduplicate(GenerateName(t, tx.now()), taken)
}

// Persist stores b under its name
func (tx *Tx) Persist(b *domain.Bubble) error {
	if b.Name == "" {
		return fmt.Errorf("bubble has no name")
	}
	if other, ok := tx.snap.byKey[b.Target.Key()]; ok && other != b.Name {
		return fmt.Errorf("target %s is already tracked by bubble %q", b.Target, other)
	}
	if old, ok := tx.snap.bubbles[b.Name]; ok {
		delete(tx.snap.byKey, old.Target.Key())
	}

	now := tx.now().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now

	stored := *b
	tx.snap.bubbles[b.Name] = &stored
	if stored.State != domain.BubbleStateDestroyed {
		tx.snap.byKey[stored.Target.Key()] = stored.Name
	}
	tx.dirty = true
	return nil
}

func (tx *Tx) Remove(name string) {
	b, ok := tx.snap.bubbles[name]
	if !ok {
		return
	}
	if tx.snap.byKey[b.Target.Key()] == name {
		delete(tx.snap.byKey, b.Target.Key())
	}
	delete(tx.snap.bubbles, name)
	tx.dirty = true
}

func (tx *Tx) Update(name string, fn func(b *domain.Bubble) error) (*domain.Bubble, error) {
	current, err := tx.snap.lookup(name)
	if err != nil {
		return nil, err
	}
	if err := fn(current); err != nil {
		return nil, err
	}
	current.Name = name
	if err := tx.Persist(current); err != nil {
		return nil, err
	}
	return current, nil
}

// lookup returns a copy so callers cannot mutate the snapshot behind Persist's back
func (s *snapshot) lookup(name string) (*domain.Bubble, error) {
	b, ok := s.bubbles[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrBubbleNotFound, name)
	}
	c := *b
	return &c, nil
}

func (s *snapshot) findExisting(t domain.Target) *domain.Bubble {
	name, ok := s.byKey[t.Key()]
	if !ok {
		return nil
	}
	c := *s.bubbles[name]
	return &c
}
