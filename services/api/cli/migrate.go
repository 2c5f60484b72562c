package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ramiqadoumi/go-task-reminder/internal/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Long: `Connect to PostgreSQL and apply schema migrations.

Reads the DSN from --postgres-dsn flag, API_POSTGRES_DSN env var, or config file.
Migrations are idempotent and safe to re-run. The sqlite store applies its
schema on open and needs no migration.`,
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	dsn := viper.GetString("postgres_dsn")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := postgres.NewPool(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	out := cmd.OutOrStdout()
	if err := postgres.Migrate(ctx, pool, func(name string) {
		fmt.Fprintf(out, "applied %s\n", name)
	}); err != nil {
		return err
	}
	fmt.Fprintln(out, "migrations complete")
	return nil
}
