package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/joescharf/buildbench/internal/bench"
	"github.com/joescharf/buildbench/internal/build"
	"github.com/joescharf/buildbench/internal/daemon"
	"github.com/joescharf/buildbench/internal/git"
	"github.com/joescharf/buildbench/internal/models"
	"github.com/joescharf/buildbench/internal/power"
	"github.com/joescharf/buildbench/internal/workspace"
)

var (
	runRepo       string
	runBuild      string
	runPreset     string
	runGate       string
	runSourceDir  string
	runBuildDir   string
	runInterval   time.Duration
	runIterations int
)

var runCmd = &cobra.Command{
	Use:   "run [flags] [-- build args...]",
	Short: "Run the benchmark until the battery runs out",
	Long: `Clone the repository once, then loop: copy it into a fresh build
directory, run the build command, score a successful build, and delete the
copy. The loop stops on the first failed build, on Ctrl-C, or when the
battery dies.

The build command is --build split on spaces, followed by any arguments
after "--", so both of these run "cargo build --release":

  buildbench run -b cargo -- build --release
  buildbench run -b "cargo build --release"`,
	Example: `  buildbench run
  buildbench run --preset hyprland
  buildbench run -r https://github.com/BurntSushi/ripgrep.git -b cargo build
  buildbench run --gate every-iteration --iterations 10`,
	Args: cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRun(cmd, args)
	},
}

func init() {
	addRunFlags(runCmd)
	rootCmd.AddCommand(runCmd)
}

// addRunFlags registers the run flags on cmd. The root command carries the
// same flags so bare `buildbench` behaves like `buildbench run`.
func addRunFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.SetInterspersed(true)
	f.StringVarP(&runRepo, "repo", "r", "", "Repository URL to clone (http://, https:// or git@)")
	f.StringVarP(&runBuild, "build", "b", "", "Build command; remaining arguments are appended")
	f.StringVarP(&runPreset, "preset", "p", "", "Workload preset ("+strings.Join(bench.PresetNames(), ", ")+")")
	f.StringVar(&runGate, "gate", "", "When to wait for the charger to be unplugged: once or every-iteration")
	f.StringVar(&runSourceDir, "source-dir", "", "Persistent checkout directory (default <app_dir>/repo-dir)")
	f.StringVar(&runBuildDir, "build-dir", "", "Disposable build directory (default <app_dir>/build-dir)")
	f.DurationVar(&runInterval, "interval", 0, "Power polling interval (default from poll_interval)")
	f.IntVar(&runIterations, "iterations", 0, "Stop after this many successful builds (0 runs until the battery dies)")
}

// resolveRunConfig builds the run configuration from the preset, then the
// config file and environment, then flags.
func resolveRunConfig(flags *pflag.FlagSet, args []string) (bench.Config, error) {
	presetName := viper.GetString("preset")
	if flags.Changed("preset") {
		presetName = runPreset
	}
	preset, err := bench.LookupPreset(presetName)
	if err != nil {
		return bench.Config{}, err
	}
	cfg := bench.NewConfig(preset, appDir())

	if repo := viper.GetString("repo"); repo != "" {
		cfg.Repository = repo
	}
	if flags.Changed("repo") {
		cfg.Repository = runRepo
	}

	buildCmd, err := buildTokens(viper.GetString("build"), flags.Changed("build"), args)
	if err != nil {
		return bench.Config{}, err
	}
	if len(buildCmd) > 0 {
		cfg.BuildCommand = buildCmd
	}

	gate := viper.GetString("gate")
	if flags.Changed("gate") {
		gate = runGate
	}
	if cfg.Gate, err = bench.ParseGatePolicy(gate); err != nil {
		return bench.Config{}, err
	}

	if iv := viper.GetDuration("poll_interval"); iv > 0 {
		cfg.PollInterval = iv
	}
	if flags.Changed("interval") {
		cfg.PollInterval = runInterval
	}

	if runSourceDir != "" {
		cfg.Layout.SourceDir = absPath(runSourceDir)
	}
	if runBuildDir != "" {
		cfg.Layout.BuildDir = absPath(runBuildDir)
	}
	cfg.MaxIterations = runIterations

	if err := cfg.Validate(); err != nil {
		return bench.Config{}, err
	}
	return cfg, nil
}

// buildTokens joins --build with the positional arguments that followed it.
func buildTokens(configured string, flagSet bool, args []string) ([]string, error) {
	if !flagSet {
		if len(args) > 0 {
			return nil, fmt.Errorf("unexpected arguments %q (use --build to set the build command)", strings.Join(args, " "))
		}
		return strings.Fields(configured), nil
	}
	tokens := append(strings.Fields(runBuild), args...)
	if len(tokens) == 0 {
		return nil, fmt.Errorf("--build needs a command")
	}
	return tokens, nil
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := resolveRunConfig(cmd.Flags(), args)
	if err != nil {
		return err
	}
	env, err := buildEnv()
	if err != nil {
		return err
	}

	ui.VerboseLog("Source: %s", cfg.Layout.SourceDir)
	ui.VerboseLog("Build:  %s", cfg.Layout.BuildDir)
	ui.VerboseLog("Gate:   %s (poll every %s)", cfg.Gate, cfg.PollInterval)
	if len(env) > 0 {
		ui.VerboseLog("Env:    %s", strings.Join(env, " "))
	}

	if dryRun {
		ui.DryRunMsg("Would benchmark %s with %q under %s", git.ShortName(cfg.Repository), cfg.BuildString(), cfg.Layout.Root)
		return nil
	}

	lock := pidFile()
	if err := lock.Acquire(); err != nil {
		if errors.Is(err, daemon.ErrAlreadyRunning) {
			return fmt.Errorf("%w; stop it with 'buildbench stop'", err)
		}
		return err
	}
	defer func() { _ = lock.Release() }()

	parent := cmdContext(cmd)
	engine := newEngine(parent, env)

	// Prompts run before signals are trapped so Ctrl-C still exits them.
	// Any no-battery prompt happens here, before the worker starts.
	if _, err := engine.Power.ChargingState(); err != nil {
		return err
	}
	if err := bench.CheckCharge(parent, engine.Power, confirmer, cfg.PollInterval, reportEvent); err != nil {
		return err
	}
	present, err := bench.DecideSource(cfg.Layout, confirmer, engine.Workspace)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, shutdownSignals()...)
	defer stop()

	run, err := engine.Start(ctx, cfg, present)
	if err != nil {
		return err
	}
	for ev := range run.Events() {
		reportEvent(ev)
	}
	sum, err := run.Wait()
	return reportSummary(sum, err)
}

// buildEnv returns the build_env entries added to every build's environment.
func buildEnv() ([]string, error) {
	env := viper.GetStringSlice("build_env")
	for _, kv := range env {
		if k, _, ok := strings.Cut(kv, "="); !ok || k == "" {
			return nil, fmt.Errorf("invalid build_env entry %q: want KEY=VALUE", kv)
		}
	}
	return env, nil
}

// newEngine wires the real collaborators. Run history is best effort.
func newEngine(ctx context.Context, env []string) *bench.Engine {
	builder := build.NewCommandRunner()
	builder.Env = env

	e := &bench.Engine{
		Workspace: workspace.NewFSManager(),
		Git:       git.NewClient(),
		Builder:   builder,
		Ledger:    ledger(),
		Power:     power.NewBatteryMonitor(confirmer),
		Now:       time.Now,
	}

	s, err := getStore()
	if err != nil {
		ui.Warning("Run history disabled: %v", err)
		return e
	}
	if n, err := s.CloseStaleRuns(ctx); err != nil {
		ui.VerboseLog("Could not close stale runs: %v", err)
	} else if n > 0 {
		ui.VerboseLog("Marked %d previous run(s) as ended", n)
	}
	e.Store = s
	return e
}

func reportEvent(ev bench.Event) {
	switch ev.Kind {
	case bench.EventStatus:
		ui.Info("%s", ev.Line)
	case bench.EventOutput:
		ui.Raw(ev.Line)
	case bench.EventWarning:
		ui.Warning("%s", ev.Line)
	case bench.EventScore:
		ui.Success("%s", ev.String())
	}
}

func reportSummary(sum bench.Summary, err error) error {
	switch sum.Status {
	case models.RunStatusInterrupted:
		ui.Warning("Interrupted after %d successful builds", sum.Score)
		ui.Info("Score file: %s", ledger().Path(sum.RunID))
		return nil
	case models.RunStatusCompleted:
		ui.Success("Finished %d iterations, final score %d", sum.Iterations, sum.Score)
		return nil
	}
	if err != nil && sum.RunID != "" {
		ui.Error("Benchmark stopped with score %d", sum.Score)
	}
	return err
}
