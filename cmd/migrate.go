package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"

	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/store/pg"
)

var migrationsDir string

// resolveMigrationsDir returns an on-disk override, or "" for the schema
// embedded in the binary.
func resolveMigrationsDir() string {
	if migrationsDir != "" {
		return migrationsDir
	}
	return os.Getenv("AICIB_MIGRATIONS_DIR")
}

// schemaState is what the managed database reports about its schema.
type schemaState struct {
	Version  uint
	Latest   uint
	Dirty    bool
	Migrated bool
}

func (s schemaState) Pending() uint {
	if s.Latest <= s.Version {
		return 0
	}
	return s.Latest - s.Version
}

func (s schemaState) String() string {
	switch {
	case !s.Migrated:
		return fmt.Sprintf("not migrated, %d pending (run: aicib migrate up)", s.Latest)
	case s.Dirty:
		return fmt.Sprintf("v%d DIRTY (fix the failed migration, then: aicib migrate force %d)", s.Version, s.Version-1)
	case s.Pending() > 0:
		return fmt.Sprintf("v%d, %d pending (run: aicib migrate up)", s.Version, s.Pending())
	}
	return fmt.Sprintf("v%d (up to date)", s.Version)
}

func readSchema(m *migrate.Migrate) (schemaState, error) {
	latest, err := pg.LatestVersion(resolveMigrationsDir())
	if err != nil {
		return schemaState{}, err
	}
	st := schemaState{Latest: latest}
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("read version: %w", err)
	}
	st.Version, st.Dirty, st.Migrated = v, dirty, true
	return st, nil
}

// withMigrator runs fn against the managed database. The standalone
// SQLite store creates its schema on open and has nothing to migrate.
func withMigrator(fn func(m *migrate.Migrate) error) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.IsManagedMode() {
		return errors.New("database.mode is standalone: the SQLite schema is created on open, migrations apply to managed mode only")
	}
	if cfg.Database.PostgresDSN == "" {
		return errors.New("AICIB_POSTGRES_DSN environment variable is not set")
	}
	m, err := pg.NewMigrator(cfg.Database.PostgresDSN, resolveMigrationsDir())
	if err != nil {
		return err
	}
	defer m.Close()
	return fn(m)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the Postgres schema (managed mode)",
	}
	cmd.PersistentFlags().StringVar(&migrationsDir, "migrations-dir", "", "path to migrations directory (default: embedded schema)")

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(m *migrate.Migrate) error {
				if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
					return fmt.Errorf("migrate up: %w", err)
				}
				return logSchema(m, "migration complete")
			})
		},
	})

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations (default: 1 step)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if steps <= 0 {
				steps = 1
			}
			return withMigrator(func(m *migrate.Migrate) error {
				if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
					return fmt.Errorf("migrate down: %w", err)
				}
				return logSchema(m, "rollback complete")
			})
		},
	}
	down.Flags().IntVarP(&steps, "steps", "n", 1, "number of steps to roll back")
	cmd.AddCommand(down)

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the schema version and pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(m *migrate.Migrate) error {
				st, err := readSchema(m)
				if err != nil {
					return err
				}
				fmt.Println("schema:", st)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "force <version>",
		Short: "Mark the schema as version without running migrations (clears dirty)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid version: %w", err)
			}
			return withMigrator(func(m *migrate.Migrate) error {
				if err := m.Force(version); err != nil {
					return fmt.Errorf("force version: %w", err)
				}
				return logSchema(m, "forced version")
			})
		},
	})

	return cmd
}

func logSchema(m *migrate.Migrate, msg string) error {
	st, err := readSchema(m)
	if err != nil {
		return err
	}
	slog.Info(msg, "version", st.Version, "dirty", st.Dirty, "pending", st.Pending())
	return nil
}
