package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantana5/syncwarden/internal/api"
	"github.com/psantana5/syncwarden/internal/config"
	"github.com/psantana5/syncwarden/internal/logging"
)

var (
	cfgFile      string
	outputFormat string
	portable     bool
	jsonLogs     bool

	// v holds flag and SYNCWARDEN_* environment overrides.
	v = viper.New()
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "syncwarden",
	Short: "Supervisor for a long-running sync daemon",
	Long: `syncwarden starts, detects and stops a sync daemon such as syncthing,
whether it launched the daemon itself or the daemon was already running.

Run "syncwarden run" to start the supervisor. The other commands talk to a
running supervisor through its local control API.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is <app dir>/config.yaml)")
	flags.BoolVar(&portable, "portable", false, "keep config, logs and journal in the working directory")
	flags.StringVar(&outputFormat, "output", "table", "output format: table or json")
	flags.BoolVar(&jsonLogs, "json-logs", false, "write logs as JSON lines")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("addr", "", "control API address (default from config)")
	flags.String("api-key", "", "control API key")
	flags.String("executable", "", "path of the sync daemon executable")

	v.BindPFlag("log_level", flags.Lookup("log-level"))
	v.BindPFlag("control.listen", flags.Lookup("addr"))
	v.BindPFlag("control.api_key", flags.Lookup("api-key"))
	v.BindPFlag("executable_path", flags.Lookup("executable"))
}

// initConfig reads in ENV variables if set
func initConfig() {
	v.SetEnvPrefix("syncwarden")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// IsJSONOutput returns true if JSON output is requested
func IsJSONOutput() bool {
	return outputFormat == "json"
}

// appDirs resolves the application directory for this invocation.
func appDirs() (config.Dirs, error) {
	return config.ResolveDirs(portable || v.GetBool("portable"))
}

func configPath(dirs config.Dirs) string {
	if cfgFile != "" {
		return cfgFile
	}
	return dirs.ConfigFile()
}

// loadConfig loads (creating or merging as needed) the config file and
// applies flag and environment overrides.
func loadConfig() (*config.Config, config.Dirs, bool, error) {
	dirs, err := appDirs()
	if err != nil {
		return nil, dirs, false, err
	}
	if err := dirs.EnsureExists(); err != nil {
		return nil, dirs, false, err
	}
	cfg, written, err := config.LoadOrCreate(configPath(dirs))
	if err != nil {
		return nil, dirs, false, err
	}
	cfg.ApplyOverrides(v)
	if err := cfg.Validate(); err != nil {
		return nil, dirs, false, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, dirs, written, nil
}

// startupLevel is the level used before the config file is read.
func startupLevel() logging.Level {
	if lvl := v.GetString("log_level"); lvl != "" {
		return logging.ParseLevel(lvl)
	}
	return logging.INFO
}

// newClient builds a control API client from config and overrides.
func newClient() (*api.Client, error) {
	cfg, _, _, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Control.Listen == "" {
		return nil, fmt.Errorf("control API is disabled (control.listen is empty)")
	}
	return api.NewClient(cfg.Control.Listen, cfg.Control.APIKey), nil
}
