// Package app provides the entry point for the devicesync command-line application.
package app

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ledgerkit/devicesync/internal/config"
	"github.com/ledgerkit/devicesync/internal/versions"
)

const defaultConfigPath = "devicesync.yaml"

var rootCmd = &cobra.Command{
	Use:   "devicesync",
	Short: "Device ledger sync engine",
	Long: `devicesync keeps the local ledger of a device in step with the cloud.
It pulls committed segments, restores from snapshots when the local state is
too far behind or damaged, and pushes locally recorded events.`,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		configureLogging(viper.GetString("log-file"), viper.GetBool("debug"))
	},
	Run: func(cmd *cobra.Command, _ []string) {
		// If no subcommand is provided, print help
		if err := cmd.Help(); err != nil {
			slog.Error("Error displaying help", "error", err)
		}
	},
}

// NewRootCmd creates a new root command for the devicesync CLI
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().String("config", defaultConfigPath, "Path to the configuration file (YAML format)")
	rootCmd.PersistentFlags().String("log-file", "", "Also write logs to this file, rotated by size")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")

	for _, name := range []string{"config", "log-file", "debug"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			slog.Error("Error binding flag", "flag", name, "error", err)
		}
	}
	viper.SetEnvPrefix(config.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(authCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(versionCmd)

	return rootCmd
}

// loadConfig reads and validates the configuration selected by --config
func loadConfig() (*config.Config, error) {
	path := viper.GetString("config")
	cfg, err := config.LoadConfig(config.WithConfigPath(path))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from %s: %w", path, err)
	}
	return cfg, nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of devicesync",
	RunE: func(cmd *cobra.Command, _ []string) error {
		info := versions.GetVersionInfo()

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			data, err := json.MarshalIndent(info, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal version info: %w", err)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}

		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "devicesync %s (commit %s, built %s, %s %s)\n",
			info.Version, info.Commit, info.BuildDate, info.GoVersion, info.Platform)
		return nil
	},
}

func init() {
	versionCmd.Flags().String("format", "text", "Output format (text or json)")
}
