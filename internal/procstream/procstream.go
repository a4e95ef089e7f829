// Package procstream runs external processes and streams their output line
// by line while they run.
package procstream

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Stream names the pipe a line was read from.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// Line is one line of process output with its line terminator removed.
type Line struct {
	Stream Stream
	Text   string
}

// ExitError reports a process that ran to completion with a non-zero status.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

const maxLineSize = 1024 * 1024

// waitDelay bounds how long Run keeps reading output after the command exits
// or its context is cancelled, when leftover processes still hold the pipes.
const waitDelay = 2 * time.Second

// Command returns a command bound to ctx for use with Run. Cancelling ctx
// kills the command and, on Unix, every process it started.
func Command(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = waitDelay
	killTree(cmd)
	return cmd
}

// Run starts cmd, calls onLine for every line written to stdout or stderr and
// waits for the process to exit. onLine is never called concurrently; lines
// from one pipe keep their order.
//
// A non-zero exit yields *ExitError. Failing to start yields a wrapped
// exec/os error. A command that exits cleanly but leaves a background process
// holding its output open counts as a success once cmd.WaitDelay expires.
func Run(cmd *exec.Cmd, onLine func(Line)) error {
	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		_ = stdoutW.Close()
		_ = stderrW.Close()
		return fmt.Errorf("start %s: %w", cmd.Path, err)
	}

	var mu sync.Mutex
	emit := func(l Line) {
		if onLine == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		onLine(l)
	}

	var g errgroup.Group
	g.Go(func() error { return pump(stdoutR, Stdout, emit) })
	g.Go(func() error { return pump(stderrR, Stderr, emit) })

	// Wait returns once the process is gone and its pipes are drained or
	// abandoned after WaitDelay; only then do the pumps see EOF.
	waitErr := cmd.Wait()
	_ = stdoutW.Close()
	_ = stderrW.Close()
	pumpErr := g.Wait()

	if waitErr != nil && !errors.Is(waitErr, exec.ErrWaitDelay) {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return &ExitError{Code: exitErr.ExitCode()}
		}
		return fmt.Errorf("wait %s: %w", cmd.Path, waitErr)
	}
	if pumpErr != nil {
		return fmt.Errorf("read output: %w", pumpErr)
	}
	return nil
}

func pump(r io.Reader, stream Stream, emit func(Line)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	scanner.Split(ScanLines)
	for scanner.Scan() {
		emit(Line{Stream: stream, Text: scanner.Text()})
	}
	if err := scanner.Err(); err != nil {
		// Keep draining so the child never blocks on a full pipe.
		_, _ = io.Copy(io.Discard, r)
		return err
	}
	return nil
}

// ScanLines is a bufio.SplitFunc that treats "\n", "\r\n" and a lone "\r" as
// line breaks. git rewrites its progress meter with bare carriage returns.
func ScanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\n' {
			return i + 1, data[:i], nil
		}
		if i+1 < len(data) {
			if data[i+1] == '\n' {
				return i + 2, data[:i], nil
			}
			return i + 1, data[:i], nil
		}
		if atEOF {
			return i + 1, data[:i], nil
		}
		// A trailing '\r' may be the first half of "\r\n".
		return 0, nil, nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
