package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ignite/funnel-studio/internal/config"
	"github.com/ignite/funnel-studio/internal/pkg/logger"
	_ "github.com/lib/pq"
	"go.uber.org/multierr"
)

const createMigrationsTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
	name       TEXT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

func main() {
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger.Configure(logger.ParseLevel(cfg.Log.Level), cfg.Log.Development, cfg.Log.Redact())
	defer logger.Sync()
	if cfg.Database.URL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	dir := "migrations"
	listOnly := false
	for _, a := range os.Args[1:] {
		if a == "--list" {
			listOnly = true
		} else {
			dir = a
		}
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.Error("connect failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		logger.Error("ping failed", "error", err)
		os.Exit(1)
	}

	if listOnly {
		if err := listTables(ctx, db); err != nil {
			logger.Error("listing tables failed", "error", err)
			os.Exit(1)
		}
		return
	}

	applied, err := apply(ctx, db, dir)
	logger.Info("migrations complete", "applied", applied)
	if err != nil {
		logger.Error("migrations failed", "error", err)
		os.Exit(1)
	}
}

func listTables(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx, `SELECT tablename FROM pg_tables
		WHERE schemaname = 'public' AND (tablename LIKE 'funnel%' OR tablename = 'schema_migrations')
		ORDER BY tablename`)
	if err != nil {
		return err
	}
	defer rows.Close()
	n := 0
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return err
		}
		fmt.Println(" ", t)
		n++
	}
	fmt.Printf("Total: %d tables\n", n)
	return rows.Err()
}

// apply runs every *.sql file in dir that is not yet recorded in
// schema_migrations, each in its own transaction. A failing file does not
// stop later ones; all failures are returned together.
func apply(ctx context.Context, db *sql.DB, dir string) (int, error) {
	if _, err := db.ExecContext(ctx, createMigrationsTable); err != nil {
		return 0, fmt.Errorf("creating schema_migrations: %w", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read migrations dir %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	var errs error
	okCount := 0
	for _, f := range files {
		var done bool
		if err := db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE name = $1)`, f).Scan(&done); err != nil {
			return okCount, fmt.Errorf("checking %s: %w", f, err)
		}
		if done {
			logger.Debug("migration already applied", "file", f)
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, f))
		if err != nil {
			return okCount, fmt.Errorf("read %s: %w", f, err)
		}
		if strings.TrimSpace(string(data)) == "" {
			continue
		}
		if err := applyFile(ctx, db, f, string(data)); err != nil {
			logger.Warn("migration failed", "file", f, "error", err)
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", f, err))
			continue
		}
		logger.Info("migration applied", "file", f)
		okCount++
	}
	return okCount, errs
}

func applyFile(ctx context.Context, db *sql.DB, name, content string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, content); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, name); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
