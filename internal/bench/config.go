// Package bench drives the benchmark: power gating, source materialization
// and the copy, build, score and cleanup loop.
package bench

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/joescharf/buildbench/internal/git"
	"github.com/joescharf/buildbench/internal/prompt"
	"github.com/joescharf/buildbench/internal/workspace"
)

var (
	// ErrInvalidRepo is returned by Config.Validate for a malformed repository.
	ErrInvalidRepo = git.ErrInvalidRemote

	// ErrUserDeclined is returned when the operator answers no to a required prompt.
	ErrUserDeclined = prompt.ErrDeclined
)

// DefaultPreset is used when neither config nor flags pick one.
const DefaultPreset = "rustlings"

// DefaultPollInterval is how often power state is re-read while waiting.
const DefaultPollInterval = time.Second

// GatePolicy controls when the loop waits for the charger to be unplugged.
type GatePolicy string

const (
	GateOnce           GatePolicy = "once"
	GateEveryIteration GatePolicy = "every-iteration"
)

// ParseGatePolicy accepts "once" (or empty) and "every-iteration".
func ParseGatePolicy(s string) (GatePolicy, error) {
	switch GatePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", GateOnce:
		return GateOnce, nil
	case GateEveryIteration, "every":
		return GateEveryIteration, nil
	default:
		return "", fmt.Errorf("invalid gate policy %q (want %q or %q)", s, GateOnce, GateEveryIteration)
	}
}

// Preset is a named repository and build command pair.
type Preset struct {
	Name         string
	Repository   string
	BuildCommand []string
}

// Presets holds the built-in workloads.
var Presets = map[string]Preset{
	"rustlings": {
		Name:         "rustlings",
		Repository:   "https://github.com/rust-lang/rustlings.git",
		BuildCommand: []string{"cargo", "build"},
	},
	"hyprland": {
		Name:         "hyprland",
		Repository:   "https://github.com/hyprwm/Hyprland.git",
		BuildCommand: []string{"make", "all"},
	},
}

// PresetNames returns the preset names in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LookupPreset returns the named preset; empty means DefaultPreset.
func LookupPreset(name string) (Preset, error) {
	if name == "" {
		name = DefaultPreset
	}
	p, ok := Presets[strings.ToLower(name)]
	if !ok {
		return Preset{}, fmt.Errorf("unknown preset %q (available: %s)", name, strings.Join(PresetNames(), ", "))
	}
	return p, nil
}

// Config is the immutable description of one run.
type Config struct {
	Repository   string
	BuildCommand []string
	Layout       workspace.Layout
	Gate         GatePolicy
	PollInterval time.Duration
	// MaxIterations stops the loop after that many successful builds; 0 runs
	// until the process is stopped.
	MaxIterations int
}

// NewConfig starts a config from a preset rooted at root.
func NewConfig(p Preset, root string) Config {
	return Config{
		Repository:   p.Repository,
		BuildCommand: append([]string(nil), p.BuildCommand...),
		Layout:       workspace.NewLayout(root),
		Gate:         GateOnce,
		PollInterval: DefaultPollInterval,
	}
}

// Validate checks the config once before a run starts.
func (c Config) Validate() error {
	if err := git.ValidateRemote(c.Repository); err != nil {
		return err
	}
	if len(c.BuildCommand) == 0 || strings.TrimSpace(c.BuildCommand[0]) == "" {
		return fmt.Errorf("build command is empty")
	}
	if err := c.Layout.Validate(); err != nil {
		return err
	}
	if _, err := ParseGatePolicy(string(c.Gate)); err != nil {
		return err
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.PollInterval)
	}
	if c.MaxIterations < 0 {
		return fmt.Errorf("iterations must not be negative, got %d", c.MaxIterations)
	}
	return nil
}

// BuildString renders the build command for display and storage.
func (c Config) BuildString() string {
	return strings.Join(c.BuildCommand, " ")
}
