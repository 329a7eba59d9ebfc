package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/dvloznov/journal-classifier/internal/logger"
	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"
)

var (
	dsn           = flag.String("dsn", "", "Postgres connection string (defaults to DATABASE_URL)")
	appliedBy     = flag.String("applied-by", "migrate-cli", "Name of the tool applying migrations")
	migrationsDir = flag.String("migrations", "", "Read migrations from this directory instead of the embedded set")
	dryRun        = flag.Bool("dry-run", false, "List pending migrations without applying them")
)

func main() {
	flag.Parse()

	log := logger.New()
	_ = godotenv.Load()

	if *dsn == "" {
		*dsn = os.Getenv("DATABASE_URL")
	}
	if *dsn == "" {
		log.Fatal().Msg("Error: -dsn flag or DATABASE_URL is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	var (
		fsys fs.FS = embeddedMigrations
		dir        = "migrations"
	)
	if *migrationsDir != "" {
		fsys, dir = os.DirFS(*migrationsDir), "."
	}

	migrations, err := readMigrations(fsys, dir, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read migrations")
	}
	log.Info().Int("count", len(migrations)).Msg("Found migration files")

	conn, err := pgx.Connect(ctx, *dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer conn.Close(context.Background())

	if err := ensureSchemaMigrationsTable(ctx, conn); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure schema_migrations table")
	}

	applied, err := getAppliedMigrations(ctx, conn)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to get applied migrations")
	}
	log.Info().Int("count", len(applied)).Msg("Found already applied migrations")

	pending, err := pendingMigrations(migrations, applied)
	if err != nil {
		log.Fatal().Err(err).Msg("Refusing to migrate")
	}

	if len(pending) == 0 {
		log.Info().Msg("No new migrations to apply. Database is up to date.")
		return
	}

	for _, m := range pending {
		label := fmt.Sprintf("%04d_%s", m.Version, m.Name)
		if *dryRun {
			log.Info().Str("migration", label).Msg("Pending")
			continue
		}

		log.Info().Str("migration", label).Msg("Applying")
		if err := applyMigration(ctx, conn, m, *appliedBy); err != nil {
			log.Fatal().Err(err).Str("migration", label).Msg("Failed to apply migration")
		}
	}

	if !*dryRun {
		log.Info().Int("count", len(pending)).Msg("Successfully applied migrations")
	}
}
