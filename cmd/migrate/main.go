package main

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"text/tabwriter"
	"time"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"TroveLedger/internal/observability"
	"TroveLedger/internal/persistence"
	"TroveLedger/migrations"
)

var cmdMain = &cobra.Command{
	Use:          "migrate",
	Short:        "Manage the TroveLedger Postgres schema",
	SilenceUsage: true,
}

var cmdUp = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	Args:  cobra.NoArgs,
	RunE:  migrateUp,
}

var cmdDown = &cobra.Command{
	Use:   "down",
	Short: "Roll back the last applied migration",
	Args:  cobra.NoArgs,
	RunE:  migrateDown,
}

var cmdStatus = &cobra.Command{
	Use:   "status",
	Short: "List migrations and whether they are applied",
	Args:  cobra.NoArgs,
	RunE:  migrateStatus,
}

var flagMain struct {
	PostgresURL   string
	MigrationsDir string
	Timeout       time.Duration
}

func init() {
	cmdMain.AddCommand(cmdUp, cmdDown, cmdStatus)

	defaultDSN := os.Getenv("TROVE_POSTGRES_DSN")
	if defaultDSN == "" {
		defaultDSN = "postgres://localhost:5432/troveledger?sslmode=disable"
	}
	cmdMain.PersistentFlags().StringVar(&flagMain.PostgresURL, "dsn", defaultDSN, "Postgres connection string")
	cmdMain.PersistentFlags().StringVar(&flagMain.MigrationsDir, "dir", os.Getenv("TROVE_MIGRATIONS_DIR"), "Migrations directory; the embedded migrations when empty")
	cmdMain.PersistentFlags().DurationVar(&flagMain.Timeout, "timeout", time.Minute, "Overall timeout")
}

func main() {
	if err := cmdMain.Execute(); err != nil {
		os.Exit(1)
	}
}

// withMigrator opens the database and hands a migrator to fn.
func withMigrator(cmd *cobra.Command, fn func(ctx context.Context, m *persistence.Migrator) error) error {
	db, err := sql.Open("postgres", flagMain.PostgresURL)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	var files fs.FS = migrations.FS
	if flagMain.MigrationsDir != "" {
		files = os.DirFS(flagMain.MigrationsDir)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), flagMain.Timeout)
	defer cancel()
	return fn(ctx, persistence.NewMigrator(db, files, observability.NewLogger("migrate")))
}

func migrateUp(cmd *cobra.Command, _ []string) error {
	return withMigrator(cmd, func(ctx context.Context, m *persistence.Migrator) error {
		n, err := m.Up(ctx)
		if err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", n)
		return nil
	})
}

func migrateDown(cmd *cobra.Command, _ []string) error {
	return withMigrator(cmd, func(ctx context.Context, m *persistence.Migrator) error {
		rolledBack, err := m.Down(ctx)
		if err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}
		if !rolledBack {
			fmt.Fprintln(cmd.OutOrStdout(), "nothing to roll back")
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), "rolled back the last migration")
		return nil
	})
}

func migrateStatus(cmd *cobra.Command, _ []string) error {
	return withMigrator(cmd, func(ctx context.Context, m *persistence.Migrator) error {
		statuses, err := m.Status(ctx)
		if err != nil {
			return fmt.Errorf("migrate status: %w", err)
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "VERSION\tFILE\tAPPLIED AT")
		for _, s := range statuses {
			applied := "pending"
			if s.Applied {
				applied = s.AppliedAt.Format(time.RFC3339)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Version, s.Filename, applied)
		}
		return tw.Flush()
	})
}
