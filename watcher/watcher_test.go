package watcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/oar-cd/bubble/domain"
	"github.com/oar-cd/bubble/gitstore"
)

type MockMirrorUpdater struct {
	mock.Mock
}

func (m *MockMirrorUpdater) UpdateAll(ctx context.Context) ([]*gitstore.Mirror, error) {
	args := m.Called(ctx)
	return args.Get(0).([]*gitstore.Mirror), args.Error(1)
}

type MockBubbleInspector struct {
	mock.Mock
}

func (m *MockBubbleInspector) List(includeArchived bool) ([]*domain.Bubble, error) {
	args := m.Called(includeArchived)
	return args.Get(0).([]*domain.Bubble), args.Error(1)
}

func (m *MockBubbleInspector) Inspect(ctx context.Context, name string) (*domain.Bubble, domain.ContainerStatus, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(*domain.Bubble), args.Get(1).(domain.ContainerStatus), args.Error(2)
}

func TestRunOnce_ReportsDrift(t *testing.T) {
	mirrors := &MockMirrorUpdater{}
	bubbles := &MockBubbleInspector{}

	running := &domain.Bubble{Name: "mathlib4-pr-1", State: domain.BubbleStateRunning}
	paused := &domain.Bubble{Name: "batteries-pr-2", State: domain.BubbleStatePaused}
	created := &domain.Bubble{Name: "aesop-main", State: domain.BubbleStateCreated}

	mirrors.On("UpdateAll", mock.Anything).Return([]*gitstore.Mirror{}, nil)
	bubbles.On("List", false).Return([]*domain.Bubble{running, paused, created}, nil)
	bubbles.On("Inspect", mock.Anything, "mathlib4-pr-1").Return(running, domain.ContainerStatusMissing, nil)
	bubbles.On("Inspect", mock.Anything, "batteries-pr-2").Return(paused, domain.ContainerStatusPaused, nil)
	bubbles.On("Inspect", mock.Anything, "aesop-main").Return(created, domain.ContainerStatusMissing, nil)

	w := NewWatcherService(mirrors, bubbles, time.Minute)
	drift := w.RunOnce(context.Background())

	assert.Equal(t, []Drift{{
		Name:     "mathlib4-pr-1",
		Recorded: domain.BubbleStateRunning,
		Actual:   domain.ContainerStatusMissing,
	}}, drift)
	mirrors.AssertExpectations(t)
	bubbles.AssertExpectations(t)
}

func TestRunOnce_ContinuesAfterErrors(t *testing.T) {
	mirrors := &MockMirrorUpdater{}
	bubbles := &MockBubbleInspector{}

	b := &domain.Bubble{Name: "lean4-main", State: domain.BubbleStateRunning}
	mirrors.On("UpdateAll", mock.Anything).Return([]*gitstore.Mirror{}, errors.New("network down"))
	bubbles.On("List", false).Return([]*domain.Bubble{b}, nil)
	bubbles.On("Inspect", mock.Anything, "lean4-main").Return(b, domain.ContainerStatusUnknown, errors.New("daemon unreachable"))

	w := NewWatcherService(mirrors, bubbles, time.Minute)
	assert.Empty(t, w.RunOnce(context.Background()))
	bubbles.AssertExpectations(t)
}

func TestStart_StopsOnCancel(t *testing.T) {
	mirrors := &MockMirrorUpdater{}
	bubbles := &MockBubbleInspector{}
	cycled := make(chan struct{}, 1)
	mirrors.On("UpdateAll", mock.Anything).Return([]*gitstore.Mirror{}, nil).Run(func(mock.Arguments) {
		select {
		case cycled <- struct{}{}:
		default:
		}
	})
	bubbles.On("List", false).Return([]*domain.Bubble{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- NewWatcherService(mirrors, bubbles, time.Hour).Start(ctx)
	}()

	select {
	case <-cycled:
	case <-time.After(time.Second):
		t.Fatal("watcher did not run its first cycle")
	}
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestStart_RejectsZeroInterval(t *testing.T) {
	err := NewWatcherService(&MockMirrorUpdater{}, &MockBubbleInspector{}, 0).Start(context.Background())
	assert.Error(t, err)
}
