package gitstore

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Runner executes git. Arguments are passed as a list and never through a shell.
type Runner interface {
	// Run executes git in dir (no -C when dir is empty) and returns stdout
	Run(ctx context.Context, dir string, args ...string) (string, error)
}

// ExecRunner runs the git binary
type ExecRunner struct {
	Binary string
}

func NewExecRunner() *ExecRunner {
	return &ExecRunner{Binary: "git"}
}

func (r *ExecRunner) Run(ctx context.Context, dir string, args ...string) (string, error) {
	fullArgs := args
	if dir != "" {
		fullArgs = append([]string{"-C", dir}, args...)
	}

	var stdout, stderr bytes.Buffer
	command := exec.CommandContext(ctx, r.Binary, fullArgs...)
	command.Stdout = &stdout
	command.Stderr = &stderr
	command.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")

	if err := command.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w (stderr: %s)",
			strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
