package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lanki/edge/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "edge",
	Short: "Edge gateway for the note service",
	Long: `Edge gateway fronting the note service. It terminates browser
sessions via OIDC, enforces CSRF and per-user rate limits, and proxies
API calls to the backend with graceful degradation.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		return nil
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().String("db-url", "", "Session store connection URL (env: DATABASE_URL)")
	rootCmd.PersistentFlags().String("server-addr", "", "Server bind address (env: SERVER_ADDR)")
	rootCmd.PersistentFlags().String("base-url", "", "Public base URL of the gateway (env: BASE_URL)")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging (env: DEBUG)")
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
