// Package build runs the configured build command inside the disposable
// build directory.
package build

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joescharf/buildbench/internal/procstream"
)

// ErrBuildFailed is returned when the build command cannot be spawned or exits non-zero.
var ErrBuildFailed = errors.New("build failed")

// Result describes one finished build.
type Result struct {
	Command  []string
	Dir      string
	ExitCode int
	Duration time.Duration
}

// Runner executes a build command with dir as its working directory,
// passing each output line to onLine in emission order.
type Runner interface {
	Run(ctx context.Context, dir string, command []string, onLine func(string)) (Result, error)
}

// CommandRunner implements Runner with os/exec.
type CommandRunner struct {
	// Stderr controls whether standard error lines are forwarded as well as stdout.
	Stderr bool
	// Env is appended to the inherited environment.
	Env []string
}

// NewCommandRunner returns a runner that forwards both stdout and stderr.
func NewCommandRunner() *CommandRunner {
	return &CommandRunner{Stderr: true}
}

// Run spawns command in dir and waits for it. A zero exit is success; a
// non-zero exit or spawn failure returns an error wrapping ErrBuildFailed.
func (r *CommandRunner) Run(ctx context.Context, dir string, command []string, onLine func(string)) (Result, error) {
	res := Result{Command: command, Dir: dir, ExitCode: -1}
	if len(command) == 0 {
		return res, fmt.Errorf("%w: empty build command", ErrBuildFailed)
	}

	cmd := procstream.Command(ctx, command[0], command[1:]...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), r.Env...)

	start := time.Now()
	err := procstream.Run(cmd, func(l procstream.Line) {
		if onLine == nil || (l.Stream == procstream.Stderr && !r.Stderr) {
			return
		}
		onLine(l.Text)
	})
	res.Duration = time.Since(start)

	if err == nil {
		res.ExitCode = 0
		return res, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, ctxErr
	}

	display := strings.Join(command, " ")
	var exitErr *procstream.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.Code
		return res, fmt.Errorf("%w: %q exited with code %d", ErrBuildFailed, display, exitErr.Code)
	}
	return res, fmt.Errorf("%w: %q: %v", ErrBuildFailed, display, err)
}
