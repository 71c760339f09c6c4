// Package watcher keeps mirrors fresh and reports bubbles whose containers
// drifted from the registry.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oar-cd/bubble/domain"
	"github.com/oar-cd/bubble/gitstore"
)

type MirrorUpdater interface {
	UpdateAll(ctx context.Context) ([]*gitstore.Mirror, error)
}

type BubbleInspector interface {
	List(includeArchived bool) ([]*domain.Bubble, error)
	Inspect(ctx context.Context, name string) (*domain.Bubble, domain.ContainerStatus, error)
}

// Drift is a live bubble whose container is not in the recorded state
type Drift struct {
	Name     string
	Recorded domain.BubbleState
	Actual   domain.ContainerStatus
}

type WatcherService struct {
	mirrors      MirrorUpdater
	bubbles      BubbleInspector
	pollInterval time.Duration
}

func NewWatcherService(mirrors MirrorUpdater, bubbles BubbleInspector, pollInterval time.Duration) *WatcherService {
	return &WatcherService{
		mirrors:      mirrors,
		bubbles:      bubbles,
		pollInterval: pollInterval,
	}
}

// Start runs a cycle right away and then every poll interval until ctx is done
func (w *WatcherService) Start(ctx context.Context) error {
	if w.pollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got: %v", w.pollInterval)
	}
	slog.Info("Watcher service starting", "poll_interval", w.pollInterval)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("Watcher service shutting down")
			return nil
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce refreshes every mirror and returns the drifted bubbles
func (w *WatcherService) RunOnce(ctx context.Context) []Drift {
	slog.Debug("Starting watcher cycle")

	updated, err := w.mirrors.UpdateAll(ctx)
	if err != nil {
		slog.Error("Mirror refresh failed", "updated", len(updated), "error", err)
	}

	drift, err := w.checkBubbles(ctx)
	if err != nil {
		slog.Error("Bubble check failed", "error", err)
	}

	slog.Debug("Watcher cycle completed", "mirrors_updated", len(updated), "drifted", len(drift))
	return drift
}

func (w *WatcherService) checkBubbles(ctx context.Context) ([]Drift, error) {
	bubbles, err := w.bubbles.List(false)
	if err != nil {
		return nil, fmt.Errorf("failed to list bubbles: %w", err)
	}

	var drift []Drift
	for _, b := range bubbles {
		if !b.Live() {
			continue
		}
		_, status, err := w.bubbles.Inspect(ctx, b.Name)
		if err != nil {
			slog.Error("Failed to inspect bubble", "bubble", b.Name, "error", err)
			continue
		}
		if matches(b.State, status) {
			continue
		}
		slog.Warn("Bubble container drifted",
			"bubble", b.Name,
			"recorded", b.State.String(),
			"actual", status.String())
		drift = append(drift, Drift{Name: b.Name, Recorded: b.State, Actual: status})
	}
	return drift, nil
}

func matches(state domain.BubbleState, status domain.ContainerStatus) bool {
	switch state {
	case domain.BubbleStateRunning:
		return status == domain.ContainerStatusRunning
	case domain.BubbleStatePaused:
		return status == domain.ContainerStatusPaused
	default:
		return true
	}
}
