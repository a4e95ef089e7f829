package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/buildbench/internal/daemon"
	"github.com/joescharf/buildbench/internal/output"
	"github.com/joescharf/buildbench/internal/prompt"
	"github.com/joescharf/buildbench/internal/score"
	"github.com/joescharf/buildbench/internal/store"
)

const (
	appName   = "buildbench"
	envPrefix = "BUILDBENCH"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store
	confirmer prompt.Confirmer

	verbose   bool
	dryRun    bool
	assumeYes bool
)

var rootCmd = &cobra.Command{
	Use:   appName,
	Short: "Battery compile benchmark for laptops",
	Long: `buildbench clones a repository, then copies and builds it over and over
until the battery runs out. The score is the number of successful builds.

Running bare 'buildbench' is the same as 'buildbench run'. Unplug the charger
before starting; the benchmark waits until it is running on battery.`,
	Args:              cobra.ArbitraryArgs,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	err := rootCmd.Execute()
	if dataStore != nil {
		_ = dataStore.Close()
	}
	if errors.Is(err, prompt.ErrDeclined) {
		fmt.Fprintln(os.Stderr, "Exiting...")
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runRun(cmd, args)
	}
	addRunFlags(rootCmd)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().BoolVarP(&assumeYes, "yes", "y", false, "Answer yes to every confirmation")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/buildbench/config.yaml)")
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		configDir, err := configDirFunc()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

// setDefaults registers every key's default. db_path has none so that it
// follows app_dir unless set explicitly.
func setDefaults() {
	viper.SetDefault("app_dir", defaultAppDir())
	viper.SetDefault("db_path", "")
	viper.SetDefault("preset", "rustlings")
	viper.SetDefault("repo", "")
	viper.SetDefault("build", "")
	viper.SetDefault("build_env", []string{})
	viper.SetDefault("gate", "once")
	viper.SetDefault("poll_interval", "1s")
	viper.SetDefault("prompt.assume_yes", false)
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	if assumeYes || viper.GetBool("prompt.assume_yes") {
		confirmer = prompt.AssumeYes{}
	} else {
		confirmer = prompt.NewTerminal()
	}

	// Store is opened lazily so scores/config/version work without a db.
}

// defaultAppDir follows the XDG data directory on Unix and the roaming
// application data directory on Windows.
func defaultAppDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}
	if runtime.GOOS == "windows" {
		if dir, err := os.UserConfigDir(); err == nil {
			return filepath.Join(dir, appName)
		}
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", appName)
}

func appDir() string {
	return viper.GetString("app_dir")
}

func dbPath() string {
	if p := viper.GetString("db_path"); p != "" {
		return p
	}
	return filepath.Join(appDir(), "runs.db")
}

// pidFile returns the run lock for the configured app directory.
func pidFile() *daemon.PIDFile {
	return daemon.NewPIDFile(filepath.Join(appDir(), appName+".pid"))
}

func ledger() *score.Ledger {
	return score.NewLedger(appDir())
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	s, err := store.NewSQLiteStore(dbPath())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(cmdContext(rootCmd)); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// cmdContext returns the command's context, or Background when the command
// is invoked directly rather than through Execute.
func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
