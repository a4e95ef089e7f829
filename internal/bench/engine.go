package bench

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/joescharf/buildbench/internal/build"
	"github.com/joescharf/buildbench/internal/git"
	"github.com/joescharf/buildbench/internal/models"
	"github.com/joescharf/buildbench/internal/power"
	"github.com/joescharf/buildbench/internal/score"
	"github.com/joescharf/buildbench/internal/store"
	"github.com/joescharf/buildbench/internal/workspace"
)

// EventBuffer bounds the event channel. A slow reporter eventually blocks the
// worker rather than growing memory.
const EventBuffer = 256

// UnplugMessage is emitted while the loop waits for external power to go away.
const UnplugMessage = "Please unplug the system to start the benchmarking"

// Engine wires the collaborators of a benchmark run. Store is optional.
type Engine struct {
	Workspace workspace.Manager
	Git       git.Client
	Builder   build.Runner
	Ledger    *score.Ledger
	Power     power.Monitor
	Store     store.Store
	Now       func() time.Time
}

// Summary describes how a run ended.
type Summary struct {
	RunID      score.RunID
	StoreID    string
	Score      int
	Iterations int
	Status     models.RunStatus
}

// Run is a benchmark in progress. Events must be drained until closed.
type Run struct {
	events  chan Event
	done    chan struct{}
	summary Summary
	err     error
}

// Events returns the ordered progress stream. It is closed when the worker exits.
func (r *Run) Events() <-chan Event {
	return r.events
}

// Wait blocks until the worker exits and returns its summary and fatal error.
// A cancelled run returns the context's error with status interrupted.
func (r *Run) Wait() (Summary, error) {
	<-r.done
	return r.summary, r.err
}

// Start validates cfg and launches the worker. sourcePresent reports whether
// an existing checkout should be reused instead of cloned.
func (e *Engine) Start(ctx context.Context, cfg Config, sourcePresent bool) (*Run, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if e.Workspace == nil || e.Git == nil || e.Builder == nil || e.Ledger == nil || e.Power == nil {
		return nil, fmt.Errorf("engine is missing a collaborator")
	}

	r := &Run{
		events: make(chan Event, EventBuffer),
		done:   make(chan struct{}),
	}
	w := &worker{engine: e, cfg: cfg, run: r}
	go func() {
		defer close(r.done)
		defer close(r.events)
		r.err = w.work(ctx, sourcePresent)
		r.summary = w.summary
	}()
	return r, nil
}

type worker struct {
	engine  *Engine
	cfg     Config
	run     *Run
	summary Summary
}

func (w *worker) now() time.Time {
	if w.engine.Now != nil {
		return w.engine.Now()
	}
	return time.Now()
}

func (w *worker) emit(ctx context.Context, ev Event) {
	ev.At = w.now()
	select {
	case w.run.events <- ev:
	case <-ctx.Done():
	}
}

func (w *worker) status(ctx context.Context, format string, a ...any) {
	w.emit(ctx, Event{Kind: EventStatus, Line: fmt.Sprintf(format, a...)})
}

func (w *worker) warn(ctx context.Context, format string, a ...any) {
	w.emit(ctx, Event{Kind: EventWarning, Line: fmt.Sprintf(format, a...)})
}

func (w *worker) output(ctx context.Context) func(string) {
	return func(line string) {
		w.emit(ctx, Event{Kind: EventOutput, Line: line})
	}
}

func (w *worker) work(ctx context.Context, sourcePresent bool) error {
	e, layout := w.engine, w.cfg.Layout

	if err := e.Workspace.EnsureRoot(layout.Root); err != nil {
		return w.abort(ctx, err)
	}
	if err := w.materialize(ctx, sourcePresent); err != nil {
		return w.abort(ctx, err)
	}
	if err := w.gate(ctx); err != nil {
		return w.abort(ctx, err)
	}
	if err := w.prepare(ctx); err != nil {
		return w.abort(ctx, err)
	}

	for i := 1; ; i++ {
		if i > 1 && w.cfg.Gate == GateEveryIteration {
			if err := w.gate(ctx); err != nil {
				return w.finish(ctx, err)
			}
		}
		if err := w.iterate(ctx); err != nil {
			return w.finish(ctx, err)
		}
		w.summary.Iterations = i
		if w.cfg.MaxIterations > 0 && i >= w.cfg.MaxIterations {
			w.status(ctx, "Completed %d iterations", i)
			return w.finish(ctx, nil)
		}
	}
}

// materialize clones the repository unless an existing checkout is reused.
func (w *worker) materialize(ctx context.Context, sourcePresent bool) error {
	e, src := w.engine, w.cfg.Layout.SourceDir

	if sourcePresent {
		remote, err := e.Git.RemoteURL(src)
		switch {
		case err != nil:
			w.warn(ctx, "Could not read the remote of %s: %v", src, err)
		case !git.SameRemote(remote, w.cfg.Repository):
			w.warn(ctx, "Existing checkout points at %s, not %s", remote, w.cfg.Repository)
		}
		w.status(ctx, "Reusing existing checkout at %s", src)
		return nil
	}

	w.status(ctx, "Cloning %s", w.cfg.Repository)
	return e.Git.Clone(ctx, w.cfg.Repository, src, w.output(ctx))
}

// gate blocks while the machine is on external power, re-reading every tick.
func (w *worker) gate(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		cs, err := w.engine.Power.ChargingState()
		if err != nil {
			return fmt.Errorf("read charging state: %w", err)
		}
		if !cs.PluggedIn() {
			return nil
		}
		w.status(ctx, UnplugMessage)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// prepare clears a stale build directory and starts a fresh score record.
func (w *worker) prepare(ctx context.Context) error {
	e, cfg := w.engine, w.cfg

	if err := e.Workspace.RemoveStale(cfg.Layout.BuildDir); err != nil {
		return err
	}

	started := w.now()
	id := score.NewRunID(started)
	if err := e.Ledger.Reset(id); err != nil {
		return err
	}
	w.summary.RunID = id
	w.summary.Status = models.RunStatusRunning

	w.status(ctx, "Using repository: %s", cfg.Repository)
	w.status(ctx, "Using build command: %s", cfg.BuildString())
	w.status(ctx, "Score file: %s", e.Ledger.Path(id))

	if e.Store == nil {
		return nil
	}
	commit, err := e.Git.LastCommitHash(cfg.Layout.SourceDir)
	if err != nil {
		commit = ""
	}
	rec := &models.Run{
		ScoreFile:    id.FileName(),
		RepoURL:      cfg.Repository,
		BuildCmd:     cfg.BuildString(),
		SourceCommit: commit,
		GatePolicy:   string(cfg.Gate),
		Status:       models.RunStatusRunning,
		StartedAt:    started.UTC(),
	}
	if err := e.Store.CreateRun(ctx, rec); err != nil {
		w.warn(ctx, "Run history unavailable: %v", err)
		return nil
	}
	w.summary.StoreID = rec.ID
	return nil
}

// iterate performs one copy, build, score and cleanup cycle.
func (w *worker) iterate(ctx context.Context) error {
	e, layout := w.engine, w.cfg.Layout

	if err := ctx.Err(); err != nil {
		return err
	}

	w.status(ctx, "Copying repo")
	stats, err := e.Workspace.CopyTree(ctx, layout.SourceDir, layout.BuildDir)
	if err != nil {
		return err
	}
	w.emit(ctx, Event{Kind: EventOutput, Line: fmt.Sprintf("Copied %s files (%s)",
		humanize.Comma(int64(stats.Files)), humanize.Bytes(uint64(stats.Bytes)))})

	w.status(ctx, "Building")
	if _, err := e.Builder.Run(ctx, layout.BuildDir, w.cfg.BuildCommand, w.output(ctx)); err != nil {
		return err
	}
	w.status(ctx, "Build successful!")

	n, err := e.Ledger.Increment(w.summary.RunID)
	if err != nil {
		return err
	}
	w.summary.Score = n
	w.emit(ctx, Event{Kind: EventScore, Score: n})

	if e.Store != nil && w.summary.StoreID != "" {
		if err := e.Store.UpdateRunScore(ctx, w.summary.StoreID, n); err != nil {
			w.warn(ctx, "Could not record score in run history: %v", err)
		}
	}

	return e.Workspace.RemoveStale(layout.BuildDir)
}

// abort handles failures before a score record exists.
func (w *worker) abort(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		w.summary.Status = models.RunStatusInterrupted
		return ctx.Err()
	}
	w.summary.Status = models.RunStatusFailed
	return err
}

// finish records the final status of a started run. err nil means the
// iteration cap was reached.
func (w *worker) finish(ctx context.Context, err error) error {
	e := w.engine
	status := models.RunStatusCompleted
	msg := ""

	switch {
	case err == nil:
	case ctx.Err() != nil:
		status = models.RunStatusInterrupted
		err = ctx.Err()
	default:
		status = models.RunStatusFailed
		msg = err.Error()
	}
	w.summary.Status = status

	// A failed or interrupted iteration may leave a partial copy or build
	// output behind; the build directory never outlives its iteration.
	if err != nil {
		if rmErr := e.Workspace.RemoveStale(w.cfg.Layout.BuildDir); rmErr != nil {
			w.warn(ctx, "Could not remove build directory: %v", rmErr)
			if msg != "" {
				msg += "; "
			}
			msg += fmt.Sprintf("leftover build directory: %v", rmErr)
		}
	}

	if e.Store != nil && w.summary.StoreID != "" {
		// The run context may already be cancelled; the final write must still land.
		if serr := e.Store.FinishRun(context.WithoutCancel(ctx), w.summary.StoreID, status, msg); serr != nil && err == nil {
			w.warn(ctx, "Could not finalize run history: %v", serr)
		}
	}
	return err
}
