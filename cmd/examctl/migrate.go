package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"
	"github.com/stemsi/exstem-engine/internal/config"
)

func newMigrateCmd(a *app) *cobra.Command {
	var migrationDir string

	cmd := &cobra.Command{
		Use:       "migrate <up|down|version|force> [version]",
		Short:     "Run PostgreSQL schema migrations",
		Args:      cobra.RangeArgs(1, 2),
		ValidArgs: []string{"up", "down", "version", "force"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.StoreDriver != config.StoreDriverPostgres {
				fmt.Fprintln(cmd.OutOrStdout(), "SQLite schema is created on startup; nothing to migrate")
				return nil
			}
			if a.cfg.DatabaseURL == "" {
				return errors.New("DATABASE_URL is not set")
			}

			m, err := migrate.New("file://"+migrationDir, a.cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("migration failed to initialize: %w", err)
			}
			defer m.Close()

			out := cmd.OutOrStdout()
			switch args[0] {
			case "up":
				if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
					return fmt.Errorf("up failed: %w", err)
				}
				fmt.Fprintln(out, "Migrated up successfully")
			case "down":
				if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
					return fmt.Errorf("down failed: %w", err)
				}
				fmt.Fprintln(out, "Migrated down successfully")
			case "version":
				version, dirty, err := m.Version()
				if err != nil {
					return fmt.Errorf("version failed: %w", err)
				}
				fmt.Fprintf(out, "Version: %d, Dirty: %t\n", version, dirty)
			case "force":
				if len(args) < 2 {
					return errors.New("force requires a version argument")
				}
				v, err := strconv.Atoi(args[1])
				if err != nil {
					return fmt.Errorf("invalid version: %w", err)
				}
				if err := m.Force(v); err != nil {
					return fmt.Errorf("force failed: %w", err)
				}
				fmt.Fprintf(out, "Forced version to %d\n", v)
			default:
				return fmt.Errorf("unknown migrate command %q", args[0])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&migrationDir, "path", "migrations", "Path to migration files")
	return cmd
}
