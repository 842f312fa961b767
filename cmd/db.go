package cmd

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/lanki/edge/internal/db/bunx"
	"github.com/lanki/edge/internal/repository"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Session store management commands",
}

var dbInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the session schema",
	Long:  `Creates the sessions table in the configured database. Run once during initial setup; safe to re-run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.DatabaseURL == "" || cfg.DatabaseURL == "memory" {
			return fmt.Errorf("DATABASE_URL must point at a SQLite or PostgreSQL database")
		}
		db, err := bunx.NewDB(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer bunx.Close(db)

		if err := bunx.EnsureSchema(cmd.Context(), db); err != nil {
			return err
		}
		log.Printf("Session schema ready (%s)", bunx.DetectDatabaseType(cfg.DatabaseURL))
		return nil
	},
}

var dbSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete expired sessions once",
	Long:  `Removes expired session rows. The server runs this periodically on its own; the command exists for cron-driven deployments.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.DatabaseURL == "" || cfg.DatabaseURL == "memory" {
			return fmt.Errorf("DATABASE_URL must point at a SQLite or PostgreSQL database")
		}
		db, err := bunx.NewDB(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer bunx.Close(db)

		deleted, err := repository.NewBunSessionRepository(db).DeleteExpired(cmd.Context())
		if err != nil {
			return err
		}
		log.Printf("Removed %d expired sessions", deleted)
		return nil
	},
}

func init() {
	dbCmd.AddCommand(dbInitCmd)
	dbCmd.AddCommand(dbSweepCmd)
	rootCmd.AddCommand(dbCmd)
}
