package testrunner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/noah-isme/gema-review-api/pkg/docker"
)

// Sandbox is the subset of the Docker sandbox used by ContainerExecutor.
type Sandbox interface {
	Run(ctx context.Context, req docker.Request) (docker.Result, error)
	MountPath() string
}

// ContainerExecutor runs invocations inside a network-less container.
type ContainerExecutor struct {
	sandbox Sandbox
	image   string
}

// NewContainerExecutor builds an executor backed by sandbox using image.
func NewContainerExecutor(sandbox Sandbox, image string) *ContainerExecutor {
	return &ContainerExecutor{sandbox: sandbox, image: image}
}

// Execute mounts dir into the container and runs inv there.
func (e *ContainerExecutor) Execute(ctx context.Context, dir string, inv Invocation, timeout time.Duration) (Execution, error) {
	req := docker.Request{
		Image:     e.image,
		Cmd:       append([]string{inv.Command}, inv.Args...),
		Timeout:   timeout,
		Workspace: dir,
		Env: []string{
			"PYTHONDONTWRITEBYTECODE=1",
			"PYTHONUNBUFFERED=1",
			"PYTHONPATH=" + e.sandbox.MountPath(),
		},
	}

	result, err := e.sandbox.Run(ctx, req)
	if err != nil {
		return Execution{}, fmt.Errorf("%w: %v", ErrNotStarted, err)
	}

	output := strings.TrimRight(result.Stdout, "\n")
	if result.Stderr != "" {
		output = strings.TrimLeft(output+"\n"+result.Stderr, "\n")
	}

	return Execution{
		Output:   output,
		ExitCode: result.ExitCode,
		TimedOut: result.TimedOut,
	}, nil
}
