package app

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ledgerkit/devicesync/internal/config"
)

const defaultStoragePath = "data"

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Enroll this device",
	Long: `Assign this device an identifier and write it to the configuration file.
A missing configuration file is created with file storage and the streams
given with --stream. Existing identifiers are kept.`,
	RunE: runInit,
}

func init() {
	addInitFlags(initCmd.Flags())
}

func addInitFlags(flags *pflag.FlagSet) {
	flags.String("name", "", "Human readable device name")
	flags.StringSlice("stream", nil, "Stream to sync (repeatable, required for a new configuration)")
	flags.String("storage-path", defaultStoragePath, "Directory of the local store for a new configuration")
	flags.String("api-url", "", "Base URL of the sync API for a new configuration")
}

func runInit(cmd *cobra.Command, _ []string) error {
	path := viper.GetString("config")
	name, _ := cmd.Flags().GetString("name")

	cfg, err := config.LoadConfig(config.WithConfigPath(path))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		cfg, err = newConfig(cmd)
		if err != nil {
			return err
		}
		slog.Info("Creating configuration", "path", path)
	case err != nil:
		return fmt.Errorf("failed to load configuration from %s: %w", path, err)
	}

	if cfg.Device.ID == "" {
		cfg.Device.ID = uuid.NewString()
	}
	if name != "" {
		cfg.Device.Name = name
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.Save(path); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Device %s enrolled, configuration written to %s\n", cfg.Device.ID, path)
	return nil
}

func newConfig(cmd *cobra.Command) (*config.Config, error) {
	streams, _ := cmd.Flags().GetStringSlice("stream")
	storagePath, _ := cmd.Flags().GetString("storage-path")
	apiURL, _ := cmd.Flags().GetString("api-url")

	if len(streams) == 0 {
		return nil, fmt.Errorf("at least one --stream is required to create a configuration")
	}

	return &config.Config{
		Cloud:   config.CloudConfig{APIURL: apiURL},
		Streams: streams,
		Storage: config.StorageConfig{Type: config.StorageTypeFile, Path: storagePath},
	}, nil
}
