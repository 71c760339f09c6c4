package mocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/oar-cd/bubble/domain"
)

// FakeContainer is a container held by FakeRuntime
type FakeContainer struct {
	Spec   domain.ContainerSpec
	Status domain.ContainerStatus
}

// ExecCall records one Exec invocation
type ExecCall struct {
	Name string
	Cmd  []string
}

// FakeRuntime is an in-memory container runtime implementing lifecycle.Runtime, lifecycle.Freezer and lifecycle.Starter
type FakeRuntime struct {
	mu         sync.Mutex
	containers map[string]*FakeContainer

	// ExecFunc answers Exec calls on running containers; nil succeeds with no output
	ExecFunc  func(name string, cmd []string) (*domain.ExecResult, error)
	CreateErr error

	Execs    []ExecCall
	Creates  int
	Destroys int
}

func NewFakeRuntime() *FakeRuntime {
	return &FakeRuntime{containers: map[string]*FakeContainer{}}
}

func (f *FakeRuntime) Create(ctx context.Context, spec domain.ContainerSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return f.CreateErr
	}
	if _, ok := f.containers[spec.Name]; ok {
		return fmt.Errorf("container %s already exists", spec.Name)
	}
	f.containers[spec.Name] = &FakeContainer{Spec: spec, Status: domain.ContainerStatusRunning}
	f.Creates++
	return nil
}

func (f *FakeRuntime) Destroy(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.containers, name)
	f.Destroys++
	return nil
}

func (f *FakeRuntime) Exec(ctx context.Context, name string, cmd []string) (*domain.ExecResult, error) {
	f.mu.Lock()
	c, ok := f.containers[name]
	f.Execs = append(f.Execs, ExecCall{Name: name, Cmd: append([]string(nil), cmd...)})
	execFunc := f.ExecFunc
	f.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("container %s not found", name)
	}
	if c.Status != domain.ContainerStatusRunning {
		return nil, fmt.Errorf("container %s is not running", name)
	}
	if execFunc != nil {
		return execFunc(name, cmd)
	}
	return &domain.ExecResult{}, nil
}

func (f *FakeRuntime) Status(ctx context.Context, name string) (domain.ContainerStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[name]
	if !ok {
		return domain.ContainerStatusMissing, nil
	}
	return c.Status, nil
}

func (f *FakeRuntime) Pause(ctx context.Context, name string) error {
	return f.setStatus(name, domain.ContainerStatusRunning, domain.ContainerStatusPaused)
}

func (f *FakeRuntime) Unpause(ctx context.Context, name string) error {
	return f.setStatus(name, domain.ContainerStatusPaused, domain.ContainerStatusRunning)
}

func (f *FakeRuntime) Start(ctx context.Context, name string) error {
	return f.setStatus(name, domain.ContainerStatusStopped, domain.ContainerStatusRunning)
}

func (f *FakeRuntime) Stop(ctx context.Context, name string) error {
	return f.setStatus(name, domain.ContainerStatusRunning, domain.ContainerStatusStopped)
}

func (f *FakeRuntime) setStatus(name string, from, to domain.ContainerStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[name]
	if !ok {
		return fmt.Errorf("container %s not found", name)
	}
	if c.Status != from {
		return fmt.Errorf("container %s is %s", name, c.Status)
	}
	c.Status = to
	return nil
}

// Container returns a copy of the named container
func (f *FakeRuntime) Container(name string) (FakeContainer, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[name]
	if !ok {
		return FakeContainer{}, false
	}
	return *c, true
}

// SetStatus forces a container's status, creating it when missing
func (f *FakeRuntime) SetStatus(name string, status domain.ContainerStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[name]
	if !ok {
		c = &FakeContainer{Spec: domain.ContainerSpec{Name: name}}
		f.containers[name] = c
	}
	c.Status = status
}

// ExecsFor returns the commands run in the named container
func (f *FakeRuntime) ExecsFor(name string) [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]string
	for _, e := range f.Execs {
		if e.Name == name {
			out = append(out, e.Cmd)
		}
	}
	return out
}

// RuntimeWithoutFreezer hides the Freezer and Starter methods of a runtime
type RuntimeWithoutFreezer struct {
	Runtime *FakeRuntime
}

func (r RuntimeWithoutFreezer) Create(ctx context.Context, spec domain.ContainerSpec) error {
	return r.Runtime.Create(ctx, spec)
}

func (r RuntimeWithoutFreezer) Destroy(ctx context.Context, name string) error {
	return r.Runtime.Destroy(ctx, name)
}

func (r RuntimeWithoutFreezer) Exec(ctx context.Context, name string, cmd []string) (*domain.ExecResult, error) {
	return r.Runtime.Exec(ctx, name, cmd)
}

func (r RuntimeWithoutFreezer) Status(ctx context.Context, name string) (domain.ContainerStatus, error) {
	return r.Runtime.Status(ctx, name)
}
