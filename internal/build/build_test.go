package build

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandRunner_Success(t *testing.T) {
	dir := t.TempDir()
	r := NewCommandRunner()

	var lines []string
	res, err := r.Run(context.Background(), dir, []string{"sh", "-c", "echo compiling; echo done"}, func(line string) {
		lines = append(lines, line)
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, []string{"compiling", "done"}, lines)
	assert.Equal(t, dir, res.Dir)
}

func TestCommandRunner_RunsInBuildDir(t *testing.T) {
	dir := t.TempDir()
	r := NewCommandRunner()

	_, err := r.Run(context.Background(), dir, []string{"sh", "-c", "echo artifact > out.txt"}, nil)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "artifact\n", string(data))
}

func TestCommandRunner_NonZeroExit(t *testing.T) {
	r := NewCommandRunner()

	res, err := r.Run(context.Background(), t.TempDir(), []string{"sh", "-c", "echo boom 1>&2; exit 2"}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBuildFailed))
	assert.Equal(t, 2, res.ExitCode)
	assert.Contains(t, err.Error(), "exited with code 2")
}

func TestCommandRunner_SpawnFailure(t *testing.T) {
	r := NewCommandRunner()

	_, err := r.Run(context.Background(), t.TempDir(), []string{"buildbench-no-such-compiler"}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBuildFailed))
}

func TestCommandRunner_EmptyCommand(t *testing.T) {
	_, err := NewCommandRunner().Run(context.Background(), t.TempDir(), nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBuildFailed))
}

func TestCommandRunner_StderrFiltered(t *testing.T) {
	r := &CommandRunner{Stderr: false}

	var lines []string
	_, err := r.Run(context.Background(), t.TempDir(), []string{"sh", "-c", "echo out; echo err 1>&2"}, func(line string) {
		lines = append(lines, line)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"out"}, lines)
}

func TestCommandRunner_Env(t *testing.T) {
	r := &CommandRunner{Stderr: true, Env: []string{"BUILDBENCH_TEST_VALUE=42"}}

	var lines []string
	_, err := r.Run(context.Background(), t.TempDir(), []string{"sh", "-c", "echo $BUILDBENCH_TEST_VALUE"}, func(line string) {
		lines = append(lines, line)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"42"}, lines)
}

func TestCommandRunner_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewCommandRunner().Run(ctx, t.TempDir(), []string{"sleep", "5"}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestCommandRunner_CancelStopsSpawnedCompilers(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := NewCommandRunner().Run(ctx, t.TempDir(), []string{"sh", "-c", "sleep 5 & echo started; wait"}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), 3*time.Second)
}
