package bench

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joescharf/buildbench/internal/build"
	"github.com/joescharf/buildbench/internal/git"
	"github.com/joescharf/buildbench/internal/power"
	"github.com/joescharf/buildbench/internal/score"
	"github.com/joescharf/buildbench/internal/store"
	"github.com/joescharf/buildbench/internal/workspace"
)

const testRepo = "https://github.com/rust-lang/rustlings.git"

// fakePower replays charge and charging readings; the last value repeats.
type fakePower struct {
	mu          sync.Mutex
	percents    []int
	states      []power.ChargingState
	percentHits int
	stateHits   int
}

func (f *fakePower) ChargePercentage() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.percentHits++
	if len(f.percents) == 0 {
		return 100, nil
	}
	v := f.percents[0]
	if len(f.percents) > 1 {
		f.percents = f.percents[1:]
	}
	return v, nil
}

func (f *fakePower) ChargingState() (power.ChargingState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stateHits++
	if len(f.states) == 0 {
		return power.StateDischarging, nil
	}
	v := f.states[0]
	if len(f.states) > 1 {
		f.states = f.states[1:]
	}
	return v, nil
}

func (f *fakePower) calls() (percent, state int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.percentHits, f.stateHits
}

// fakeGit "clones" by writing a small tree into dest.
type fakeGit struct {
	remote    string
	remoteErr error
	cloneErr  error
	clones    int
}

func (f *fakeGit) Clone(_ context.Context, url, dest string, onLine func(string)) error {
	f.clones++
	if f.cloneErr != nil {
		return f.cloneErr
	}
	onLine("Cloning into '" + dest + "'...")
	if err := os.MkdirAll(filepath.Join(dest, "src"), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dest, "Cargo.toml"), []byte("[package]\nname = \"demo\"\n"), 0o644); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dest, "src", "main.rs"), []byte("fn main() {}\n"), 0o644)
}

func (f *fakeGit) RemoteURL(string) (string, error) {
	if f.remoteErr != nil {
		return "", f.remoteErr
	}
	if f.remote == "" {
		return testRepo, nil
	}
	return f.remote, nil
}

func (f *fakeGit) LastCommitHash(string) (string, error) {
	return "abc1234", nil
}

var errCopyFailed = errors.New("copy failed: disk full")

// failingCopy writes part of the tree and then fails, like a full disk.
type failingCopy struct {
	*workspace.FSManager
	copies int
}

func (f *failingCopy) CopyTree(_ context.Context, _, dst string) (workspace.CopyStats, error) {
	f.copies++
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return workspace.CopyStats{}, err
	}
	if err := os.WriteFile(filepath.Join(dst, "Cargo.toml"), []byte("[pack"), 0o644); err != nil {
		return workspace.CopyStats{}, err
	}
	return workspace.CopyStats{Files: 1, Bytes: 5}, errCopyFailed
}

// fakeBuilder runs fn for every build and counts invocations.
type fakeBuilder struct {
	mu    sync.Mutex
	fn    func(ctx context.Context, n int, dir string) error
	count int
}

func (f *fakeBuilder) Run(ctx context.Context, dir string, command []string, onLine func(string)) (build.Result, error) {
	f.mu.Lock()
	f.count++
	n := f.count
	f.mu.Unlock()

	onLine("Compiling demo v0.1.0")
	res := build.Result{Command: command, Dir: dir}
	if f.fn != nil {
		if err := f.fn(ctx, n, dir); err != nil {
			res.ExitCode = 1
			return res, err
		}
	}
	return res, nil
}

func (f *fakeBuilder) builds() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

type testRig struct {
	engine  *Engine
	cfg     Config
	git     *fakeGit
	builder *fakeBuilder
	power   *fakePower
	store   *store.SQLiteStore
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	root := t.TempDir()

	st, err := store.NewSQLiteStore(filepath.Join(root, "runs.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })

	rig := &testRig{
		git:     &fakeGit{},
		builder: &fakeBuilder{},
		power:   &fakePower{},
		store:   st,
	}
	rig.engine = &Engine{
		Workspace: workspace.NewFSManager(),
		Git:       rig.git,
		Builder:   rig.builder,
		Ledger:    score.NewLedger(root),
		Power:     rig.power,
		Store:     st,
		Now:       time.Now,
	}

	preset, err := LookupPreset("rustlings")
	require.NoError(t, err)
	rig.cfg = NewConfig(preset, root)
	rig.cfg.PollInterval = time.Millisecond
	return rig
}

// drain collects every event and the run's outcome.
func drain(t *testing.T, run *Run) ([]Event, Summary, error) {
	t.Helper()
	var events []Event
	for ev := range run.Events() {
		events = append(events, ev)
	}
	sum, err := run.Wait()
	return events, sum, err
}

func lines(events []Event, kind EventKind) []string {
	var out []string
	for _, ev := range events {
		if ev.Kind == kind {
			out = append(out, ev.String())
		}
	}
	return out
}

var _ git.Client = (*fakeGit)(nil)
var _ build.Runner = (*fakeBuilder)(nil)
var _ power.Monitor = (*fakePower)(nil)
