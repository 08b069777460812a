package main

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
)

const defaultSourceURL = "file://db/migrations"

func main() {
	msg, err := run(os.Args[1:], defaultDeps())
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(msg)
}

type deps struct {
	loadEnv     func(...string) error
	getenv      func(string) string
	openDB      func(driverName, dataSourceName string) (*sql.DB, error)
	newMigrator func(db *sql.DB, sourceURL string) (migrator, error)
}

func defaultDeps() deps {
	return deps{
		loadEnv:     godotenv.Load,
		getenv:      os.Getenv,
		openDB:      sql.Open,
		newMigrator: newPostgresMigrator,
	}
}

type migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Force(version int) error
	Version() (version uint, dirty bool, err error)
}

// Overridden in tests to avoid requiring a real Postgres database connection.
var withPostgresInstance = func(db *sql.DB) (migratedb.Driver, error) {
	return postgres.WithInstance(db, &postgres.Config{})
}

var newMigrateWithDB = func(sourceURL string, databaseName string, driver migratedb.Driver) (migrator, error) {
	return migrate.NewWithDatabaseInstance(sourceURL, databaseName, driver)
}

func newPostgresMigrator(db *sql.DB, sourceURL string) (migrator, error) {
	driver, err := withPostgresInstance(db)
	if err != nil {
		return nil, fmt.Errorf("create migration driver: %w", err)
	}
	m, err := newMigrateWithDB(sourceURL, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("create migrate instance: %w", err)
	}
	return m, nil
}

// run executes one migrate subcommand and returns the line to print.
func run(args []string, d deps) (string, error) {
	var msg string
	root := newRootCmd(d, &msg)
	root.SetArgs(args)
	root.SilenceUsage = true
	root.SilenceErrors = true
	if err := root.Execute(); err != nil {
		return "", err
	}
	return msg, nil
}

func newRootCmd(d deps, out *string) *cobra.Command {
	var source string
	root := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or inspect database schema migrations",
	}
	root.PersistentFlags().StringVar(&source, "source", defaultSourceURL, "Migration source URL")

	withMigrator := func(fn func(m migrator) (string, error)) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			m, closeDB, err := openMigrator(d, source)
			if err != nil {
				return err
			}
			defer closeDB()
			msg, err := fn(m)
			if err != nil {
				return err
			}
			*out = msg
			return nil
		}
	}

	var upSteps, downSteps int
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(m migrator) (string, error) {
			return finish("up", applyDirection(m, "up", upSteps))
		}),
	}
	upCmd.Flags().IntVar(&upSteps, "steps", 0, "Number of migrations to apply (0 = all)")

	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(m migrator) (string, error) {
			return finish("down", applyDirection(m, "down", downSteps))
		}),
	}
	downCmd.Flags().IntVar(&downSteps, "steps", 0, "Number of migrations to roll back (0 = all)")

	var dirtyOnly bool
	forceCmd := &cobra.Command{
		Use:   "force [version]",
		Short: "Set the migration version and clear the dirty flag",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !dirtyOnly && len(args) == 0 {
				return errors.New("force needs a version, or --dirty to pin the current one")
			}
			version := -1
			if len(args) == 1 {
				v, err := strconv.Atoi(args[0])
				if err != nil || v < 0 {
					return fmt.Errorf("invalid version %q", args[0])
				}
				version = v
			}
			return withMigrator(func(m migrator) (string, error) {
				return forceVersion(m, version, dirtyOnly)
			})(cmd, args)
		},
	}
	forceCmd.Flags().BoolVar(&dirtyOnly, "dirty", false, "Only force when the database is dirty, pinning it to its current version")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the current migration version",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(m migrator) (string, error) {
			v, dirty, err := m.Version()
			if errors.Is(err, migrate.ErrNilVersion) {
				return "No migrations applied", nil
			}
			if err != nil {
				return "", fmt.Errorf("read migration version: %w", err)
			}
			if dirty {
				return fmt.Sprintf("Version %d (dirty)", v), nil
			}
			return fmt.Sprintf("Version %d", v), nil
		}),
	}

	root.AddCommand(upCmd, downCmd, forceCmd, versionCmd)
	return root
}

func openMigrator(d deps, source string) (migrator, func(), error) {
	if d.loadEnv != nil {
		_ = d.loadEnv()
	}
	databaseURL := ""
	if d.getenv != nil {
		databaseURL = d.getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		return nil, nil, errors.New("DATABASE_URL environment variable is required")
	}
	if d.openDB == nil || d.newMigrator == nil {
		return nil, nil, errors.New("openDB and newMigrator dependencies are required")
	}
	db, err := d.openDB("postgres", databaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	m, err := d.newMigrator(db, source)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return m, func() { _ = db.Close() }, nil
}

func finish(direction string, err error) (string, error) {
	if errors.Is(err, migrate.ErrNoChange) {
		return "No migrations to apply", nil
	}
	if err != nil {
		return "", fmt.Errorf("migration failed: %w", err)
	}
	return fmt.Sprintf("Migration %s completed successfully", direction), nil
}

func forceVersion(m migrator, version int, dirtyOnly bool) (string, error) {
	if dirtyOnly {
		v, dirty, err := m.Version()
		if err != nil {
			return "", fmt.Errorf("read migration version: %w", err)
		}
		if !dirty {
			return "Database is not dirty (no force needed)", nil
		}
		if version < 0 {
			version = int(v)
		}
	}
	if err := m.Force(version); err != nil {
		return "", fmt.Errorf("force version %d: %w", version, err)
	}
	return fmt.Sprintf("Forced database to version %d", version), nil
}

func applyDirection(m migrator, direction string, steps int) error {
	switch direction {
	case "up":
		if steps > 0 {
			return m.Steps(steps)
		}
		return m.Up()
	case "down":
		if steps > 0 {
			return m.Steps(-steps)
		}
		return m.Down()
	}
	return fmt.Errorf("invalid direction: %s (must be 'up' or 'down')", direction)
}
