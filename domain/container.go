package domain

// ContainerStatus is the runtime's view of a container
type ContainerStatus int

const (
	ContainerStatusUnknown ContainerStatus = iota
	ContainerStatusMissing
	ContainerStatusRunning
	ContainerStatusPaused
	ContainerStatusStopped
)

func (s ContainerStatus) String() string {
	switch s {
	case ContainerStatusMissing:
		return "missing"
	case ContainerStatusRunning:
		return "running"
	case ContainerStatusPaused:
		return "paused"
	case ContainerStatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Mount is a host directory bind-mounted into a container
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// ContainerSpec is everything a runtime needs to create a bubble's container
type ContainerSpec struct {
	Name    string
	Image   string
	Mounts  []Mount
	Env     map[string]string
	WorkDir string
	Labels  map[string]string
}

// ExecResult is the outcome of a command run inside a container
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Success reports whether the command exited with status 0
func (r *ExecResult) Success() bool {
	return r != nil && r.ExitCode == 0
}
