package app

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ledgerkit/devicesync/internal/auth"
	"github.com/ledgerkit/devicesync/internal/config"
	"github.com/ledgerkit/devicesync/internal/secrets"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the credentials used for the sync API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Usage()
	},
}

var authSetTokenCmd = &cobra.Command{
	Use:   "set-token",
	Short: "Store the credentials issued by sign-in",
	RunE: func(cmd *cobra.Command, _ []string) error {
		access, _ := cmd.Flags().GetString("access")
		refresh, _ := cmd.Flags().GetString("refresh")
		expiresIn, _ := cmd.Flags().GetDuration("expires-in")

		tokens, err := openTokenSource()
		if err != nil {
			return err
		}

		var expiry time.Time
		if expiresIn > 0 {
			expiry = time.Now().Add(expiresIn)
		}
		if err := tokens.SetTokens(access, refresh, expiry); err != nil {
			return fmt.Errorf("failed to store credentials: %w", err)
		}

		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Credentials stored")
		return nil
	},
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the stored credentials",
	RunE: func(cmd *cobra.Command, _ []string) error {
		tokens, err := openTokenSource()
		if err != nil {
			return err
		}
		if err := tokens.Clear(); err != nil {
			return fmt.Errorf("failed to remove credentials: %w", err)
		}

		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
		return nil
	},
}

func init() {
	authSetTokenCmd.Flags().String("access", "", "Access token (required)")
	authSetTokenCmd.Flags().String("refresh", "", "Refresh token")
	authSetTokenCmd.Flags().Duration("expires-in", 0, "Lifetime of the access token (0 = unknown)")
	if err := authSetTokenCmd.MarkFlagRequired("access"); err != nil {
		panic(err)
	}

	authCmd.AddCommand(authSetTokenCmd)
	authCmd.AddCommand(authLogoutCmd)
}

func openTokenSource() (*auth.TokenSource, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	store, err := newSecretStore(cfg)
	if err != nil {
		return nil, err
	}
	return auth.NewTokenSource(store), nil
}

func newSecretStore(cfg *config.Config) (secrets.Store, error) {
	store, err := secrets.New(secrets.Config{
		Type:        cfg.GetSecretsType(),
		ServiceName: cfg.Secrets.ServiceName,
		Path:        cfg.Secrets.Path,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open secret store: %w", err)
	}
	return store, nil
}
