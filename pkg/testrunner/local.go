package testrunner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// LocalExecutor runs invocations as child processes of the current process.
type LocalExecutor struct {
	// ExtraPath is appended to PATH so user-site installs of pytest are found.
	ExtraPath []string
}

// NewLocalExecutor builds a local executor that also searches ~/.local/bin.
func NewLocalExecutor() *LocalExecutor {
	var extra []string
	if home, err := os.UserHomeDir(); err == nil {
		extra = append(extra, filepath.Join(home, ".local", "bin"))
	}
	return &LocalExecutor{ExtraPath: extra}
}

// Execute runs inv in dir and force-kills it once timeout elapses.
func (e *LocalExecutor) Execute(parent context.Context, dir string, inv Invocation, timeout time.Duration) (Execution, error) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.resolve(inv.Command), inv.Args...)
	cmd.Dir = dir
	cmd.Env = e.environment(dir)
	cmd.WaitDelay = time.Second

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	err := cmd.Run()
	execution := Execution{Output: output.String()}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		execution.TimedOut = true
		execution.ExitCode = -1
		return execution, nil
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			execution.ExitCode = exitErr.ExitCode()
			return execution, nil
		}
		return execution, fmt.Errorf("%w: %v", ErrNotStarted, err)
	}

	return execution, nil
}

func (e *LocalExecutor) resolve(command string) string {
	if strings.ContainsRune(command, os.PathSeparator) {
		return command
	}
	if _, err := exec.LookPath(command); err == nil {
		return command
	}
	for _, dir := range e.ExtraPath {
		candidate := filepath.Join(dir, command)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	return command
}

func (e *LocalExecutor) environment(dir string) []string {
	env := os.Environ()

	path := os.Getenv("PATH")
	for _, extra := range e.ExtraPath {
		path = strings.Trim(path+string(os.PathListSeparator)+extra, string(os.PathListSeparator))
	}

	pythonPath := dir
	if existing := os.Getenv("PYTHONPATH"); existing != "" {
		pythonPath = dir + string(os.PathListSeparator) + existing
	}

	return append(env,
		"PATH="+path,
		"PYTHONDONTWRITEBYTECODE=1",
		"PYTHONUNBUFFERED=1",
		"PYTHONPATH="+pythonPath,
	)
}
