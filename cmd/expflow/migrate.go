package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap"

	"github.com/BaSui01/expflow/config"
	"github.com/BaSui01/expflow/internal/migration"
)

// =============================================================================
// Database Migration Commands
// =============================================================================

// runMigrate handles the migrate command and its subcommands
func runMigrate(args []string) {
	if len(args) < 1 {
		printMigrateUsage()
		os.Exit(1)
	}

	subcommand := args[0]
	subargs := args[1:]

	switch subcommand {
	case "up":
		withMigrator(subargs, func(ctx context.Context, m *migration.Migrator) error {
			return m.Up(ctx)
		})
	case "down":
		withMigrator(subargs, func(ctx context.Context, m *migration.Migrator) error {
			return m.Down(ctx)
		})
	case "version":
		withMigrator(subargs, func(ctx context.Context, m *migration.Migrator) error {
			version, dirty, err := m.Version(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("version: %d dirty: %v\n", version, dirty)
			return nil
		})
	case "force":
		runMigrateForce(subargs)
	case "help", "-h", "--help":
		printMigrateUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown migrate subcommand: %s\n", subcommand)
		printMigrateUsage()
		os.Exit(1)
	}
}

func printMigrateUsage() {
	fmt.Println(`Database Migration Commands

Usage:
  expflow migrate <subcommand> [options]

Subcommands:
  up        Apply all pending migrations
  down      Rollback the last migration
  version   Show current migration version
  force <v> Force set migration version (use with caution)
  help      Show this help message

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Database type: postgres, mysql (default: from config)
  --db-url <url>      Database connection URL (default: from config)

SQLite deployments do not use versioned migrations; the schema is
auto-migrated on startup.

Examples:
  expflow migrate up
  expflow migrate up --config /etc/expflow/config.yaml
  expflow migrate down
  expflow migrate force 0`)
}

// createMigrator creates a migrator from command line flags
func createMigrator(fs *flag.FlagSet, args []string) (*migration.Migrator, error) {
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Database type (postgres, mysql)")
	dbURL := fs.String("db-url", "", "Database connection URL")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	logger := zap.NewNop()

	// If db-type and db-url are provided, use them directly
	if *dbType != "" && *dbURL != "" {
		return migration.NewMigrator(&migration.Config{
			DatabaseType: migration.DatabaseType(*dbType),
			DatabaseURL:  *dbURL,
		}, logger)
	}

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if *dbType != "" {
		cfg.Database.Driver = *dbType
	}

	url := cfg.Database.MigrationURL()
	if url == "" {
		return nil, fmt.Errorf("driver %q does not use versioned migrations", cfg.Database.Driver)
	}
	return migration.NewMigrator(&migration.Config{
		DatabaseType: migration.DatabaseType(cfg.Database.Driver),
		DatabaseURL:  url,
	}, logger)
}

// withMigrator runs fn against a migrator built from flags and exits on error
func withMigrator(args []string, fn func(context.Context, *migration.Migrator) error) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	migrator, err := createMigrator(fs, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}
	defer migrator.Close()

	if err := fn(context.Background(), migrator); err != nil {
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		os.Exit(1)
	}
}

// runMigrateForce forces the migration version
func runMigrateForce(args []string) {
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "Usage: expflow migrate force <version>\n")
		os.Exit(1)
	}

	version, err := strconv.ParseInt(args[0], 10, 32)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid version number: %s\n", args[0])
		os.Exit(1)
	}

	withMigrator(args[1:], func(ctx context.Context, m *migration.Migrator) error {
		return m.Force(ctx, int(version))
	})
}
