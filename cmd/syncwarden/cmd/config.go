package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/psantana5/syncwarden/internal/api"
	"github.com/psantana5/syncwarden/internal/logging"
)

const redacted = "<redacted>"

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
	Long:  `Commands for creating, inspecting and securing the supervisor configuration.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long:  `Print the configuration after flag and SYNCWARDEN_* overrides. Keys are redacted.`,
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create or complete the config file and exit",
	Long: `Write the config file with defaults when it does not exist. An existing
file gains any keys it is missing; values already set are kept.`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file location",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dirs, err := appDirs()
		if err != nil {
			return err
		}
		fmt.Println(configPath(dirs))
		return nil
	},
}

var configHashKeyCmd = &cobra.Command{
	Use:   "hash-key [key]",
	Short: "Hash a control API key for control.api_key_hash",
	Long: `Print the bcrypt hash of key. Without an argument a random key is
generated and printed along with its hash.

Example:
  syncwarden config hash-key
  syncwarden config hash-key "my secret"`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConfigHashKey,
}

var configLogrotateCmd = &cobra.Command{
	Use:   "logrotate",
	Short: "Print a logrotate stanza for the log directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dirs, err := appDirs()
		if err != nil {
			return err
		}
		fmt.Print(logging.GenerateLogrotateConfig(dirs.LogDir()))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configHashKeyCmd)
	configCmd.AddCommand(configLogrotateCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, _, _, err := loadConfig()
	if err != nil {
		return err
	}
	if IsJSONOutput() {
		return printJSON(cfg)
	}
	shown := *cfg
	if shown.Control.APIKey != "" {
		shown.Control.APIKey = redacted
	}
	if shown.Control.APIKeyHash != "" {
		shown.Control.APIKeyHash = redacted
	}
	encoder := yaml.NewEncoder(os.Stdout)
	encoder.SetIndent(2)
	defer encoder.Close()
	return encoder.Encode(shown)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	_, dirs, written, err := loadConfig()
	if err != nil {
		return err
	}
	path := configPath(dirs)
	if written {
		fmt.Printf("Wrote %s\n", path)
	} else {
		fmt.Printf("%s is up to date\n", path)
	}
	return nil
}

func runConfigHashKey(cmd *cobra.Command, args []string) error {
	var key string
	if len(args) == 1 {
		key = args[0]
	} else {
		generated, err := api.GenerateKey()
		if err != nil {
			return err
		}
		key = generated
		fmt.Printf("key:  %s\n", key)
	}
	hash, err := api.HashKey(key)
	if err != nil {
		return err
	}
	fmt.Printf("hash: %s\n", hash)
	return nil
}
