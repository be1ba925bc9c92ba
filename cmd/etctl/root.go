package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"expenseterminal/internal/db"
)

// migrator is the subset of *db.Migrator the commands drive.
type migrator interface {
	Up() error
	Down(steps int) error
	Force(version int) error
	Version() (version uint, dirty bool, err error)
	Close() error
}

type migratorFactory func(databaseURL string, logger *slog.Logger) (migrator, error)

func newDBMigrator(databaseURL string, logger *slog.Logger) (migrator, error) {
	return db.NewMigrator(databaseURL, logger)
}

func newRootCmd(open migratorFactory, newSSM ssmClientFactory) *cobra.Command {
	root := &cobra.Command{
		Use:           "etctl",
		Short:         "ExpenseTerminal operator CLI",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("database-url", "", "Postgres connection string (default $DATABASE_URL)")
	root.PersistentFlags().BoolP("verbose", "v", false, "log at debug level")

	root.AddCommand(newMigrateCmd(open))
	root.AddCommand(newSecretsCmd(newSSM))
	return root
}

func newMigrateCmd(open migratorFactory) *cobra.Command {
	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: withMigrator(open, func(cmd *cobra.Command, _ []string, m migrator) error {
			if err := m.Up(); err != nil {
				return err
			}
			return printVersion(cmd, m)
		}),
	}

	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: withMigrator(open, func(cmd *cobra.Command, _ []string, m migrator) error {
			steps, _ := cmd.Flags().GetInt("steps")
			if err := m.Down(steps); err != nil {
				return err
			}
			return printVersion(cmd, m)
		}),
	}
	down.Flags().Int("steps", 1, "number of migrations to roll back")

	ver := &cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		Args:  cobra.NoArgs,
		RunE: withMigrator(open, func(cmd *cobra.Command, _ []string, m migrator) error {
			return printVersion(cmd, m)
		}),
	}

	force := &cobra.Command{
		Use:   "force VERSION",
		Short: "Mark VERSION as applied and clear the dirty flag",
		Long: "Force records VERSION without running any migration. Use it only after\n" +
			"repairing a schema that a failed migration left dirty.",
		Args: cobra.ExactArgs(1),
		RunE: withMigrator(open, func(cmd *cobra.Command, args []string, m migrator) error {
			v, err := strconv.Atoi(args[0])
			if err != nil || v < 0 {
				return fmt.Errorf("invalid version %q", args[0])
			}
			if err := m.Force(v); err != nil {
				return err
			}
			return printVersion(cmd, m)
		}),
	}

	migrate.AddCommand(up, down, ver, force)
	return migrate
}

// withMigrator opens a migrator for the duration of one command.
func withMigrator(open migratorFactory, run func(*cobra.Command, []string, migrator) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		url, err := databaseURL(cmd)
		if err != nil {
			return err
		}
		m, err := open(url, cliLogger(cmd))
		if err != nil {
			return err
		}
		defer m.Close()
		return run(cmd, args, m)
	}
}

func databaseURL(cmd *cobra.Command) (string, error) {
	if url, _ := cmd.Flags().GetString("database-url"); url != "" {
		return url, nil
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("reading .env: %w", err)
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url, nil
	}
	return "", errors.New("no database URL: pass --database-url or set DATABASE_URL")
}

func cliLogger(cmd *cobra.Command) *slog.Logger {
	lvl := slog.LevelInfo
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		lvl = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: lvl}))
}

func printVersion(cmd *cobra.Command, m migrator) error {
	v, dirty, err := m.Version()
	if err != nil {
		return err
	}
	state := "clean"
	if dirty {
		state = "dirty"
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (%s)\n", v, state)
	return nil
}
