package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/joescharf/buildbench/internal/bench"
	"github.com/joescharf/buildbench/internal/output"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", appName), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage buildbench configuration.

Every key can also be set through a BUILDBENCH_* environment variable, e.g.
BUILDBENCH_GATE=every-iteration or BUILDBENCH_PROMPT_ASSUME_YES=true.

Running bare 'buildbench config' is the same as 'buildbench config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write config.yaml with the current values and their meaning",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file location",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, err := configFilePath()
		if err != nil {
			return err
		}
		fmt.Fprintln(ui.Out, cfgPath)
		return nil
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd, configShowCmd, configPathCmd, configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// setting documents one config key. Derived settings default from other keys
// and are written commented out so they keep following them.
type setting struct {
	Key     string
	Help    string
	Derived bool
	Value   func() any
}

// EnvVar is the environment variable viper maps onto the key.
func (s setting) EnvVar() string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(s.Key, ".", "_"))
}

func settings() []setting {
	str := func(key string) func() any {
		return func() any { return viper.GetString(key) }
	}
	return []setting{
		{Key: "app_dir", Help: "Checkout, build directory, score files and run history", Derived: true,
			Value: func() any { return appDir() }},
		{Key: "db_path", Help: "SQLite run history (default: <app_dir>/runs.db)", Derived: true,
			Value: func() any { return dbPath() }},
		{Key: "preset", Help: "Workload preset: " + strings.Join(bench.PresetNames(), ", "),
			Value: str("preset")},
		{Key: "repo", Help: "Repository to clone instead of the preset's", Value: str("repo")},
		{Key: "build", Help: "Build command instead of the preset's", Value: str("build")},
		{Key: "build_env", Help: "KEY=VALUE entries added to every build's environment",
			Value: func() any { return viper.GetStringSlice("build_env") }},
		{Key: "gate", Help: `Wait for the charger to be unplugged "once" or "every-iteration"`,
			Value: str("gate")},
		{Key: "poll_interval", Help: "How often the battery is re-read while waiting",
			Value: func() any { return viper.GetDuration("poll_interval").String() }},
		{Key: "prompt.assume_yes", Help: "Answer yes to every confirmation (unattended runs)",
			Value: func() any { return viper.GetBool("prompt.assume_yes") }},
	}
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	data, err := renderConfig(settings())
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would create config file: %s", cfgPath)
		fmt.Fprintln(ui.Out)
		fmt.Fprint(ui.Out, string(data))
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(cfgPath), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(cfgPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, string(data))
	return nil
}

// renderConfig encodes the settings as a commented YAML document. Nested keys
// such as prompt.assume_yes become nested mappings.
func renderConfig(list []setting) ([]byte, error) {
	head := []string{
		"# buildbench configuration",
		"# See: buildbench config show (for effective values and sources)",
	}
	root := &yaml.Node{Kind: yaml.MappingNode}

	for _, s := range list {
		if s.Derived {
			head = append(head, "#", "# "+s.Help, fmt.Sprintf("# %s: %v", s.Key, s.Value()))
			continue
		}
		if err := placeSetting(root, s); err != nil {
			return nil, err
		}
	}

	doc := &yaml.Node{
		Kind:        yaml.DocumentNode,
		HeadComment: strings.Join(head, "\n"),
		Content:     []*yaml.Node{root},
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return buf.Bytes(), nil
}

func placeSetting(m *yaml.Node, s setting) error {
	parts := strings.Split(s.Key, ".")
	for _, p := range parts[:len(parts)-1] {
		m = childMapping(m, p)
	}

	var val yaml.Node
	if err := val.Encode(s.Value()); err != nil {
		return fmt.Errorf("encode %s: %w", s.Key, err)
	}
	if val.Kind == yaml.ScalarNode && val.Tag == "!!str" {
		val.Style = yaml.DoubleQuotedStyle
	}

	key := &yaml.Node{Kind: yaml.ScalarNode, Value: parts[len(parts)-1], HeadComment: "# " + s.Help}
	m.Content = append(m.Content, key, &val)
	return nil
}

func childMapping(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	child := &yaml.Node{Kind: yaml.MappingNode}
	m.Content = append(m.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: key}, child)
	return child
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	inFile := fileKeys(cfgPath)
	for _, s := range settings() {
		fmt.Fprintf(ui.Out, "  %-20s %v  %s\n", s.Key, s.Value(), output.Cyan(settingSource(s, inFile)))
	}
	return nil
}

// fileKeys returns the dotted keys set in the YAML file at path. An unreadable
// or malformed file sets nothing.
func fileKeys(path string) map[string]bool {
	keys := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return keys
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil || len(doc.Content) == 0 {
		return keys
	}
	collectKeys("", doc.Content[0], keys)
	return keys
}

func collectKeys(prefix string, n *yaml.Node, into map[string]bool) {
	if n.Kind != yaml.MappingNode {
		return
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		key := n.Content[i].Value
		if prefix != "" {
			key = prefix + "." + key
		}
		if v := n.Content[i+1]; v.Kind == yaml.MappingNode {
			collectKeys(key, v, into)
			continue
		}
		into[key] = true
	}
}

// settingSource reports where the effective value of s comes from, in viper's
// precedence order.
func settingSource(s setting, inFile map[string]bool) string {
	if _, ok := os.LookupEnv(s.EnvVar()); ok {
		return fmt.Sprintf("(env: %s)", s.EnvVar())
	}
	if inFile[s.Key] {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set; set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'buildbench config init' first)", cfgPath)
	}

	if dryRun {
		ui.DryRunMsg("Would open %s in %s", cfgPath, editor)
		return nil
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}
