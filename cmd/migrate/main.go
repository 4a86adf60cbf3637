package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/ignite/formbridge/internal/config"
)

const createVersionTable = `
	CREATE TABLE IF NOT EXISTS bridge_schema_migrations (
		version    TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`

func main() {
	dir := flag.String("dir", "migrations", "directory holding the .sql files")
	list := flag.Bool("list", false, "list applied migrations and bridge tables, then exit")
	flag.Parse()

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Events.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	db, err := sql.Open("postgres", cfg.Events.DatabaseURL)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("ping: %v", err)
	}
	log.Println("Connected to database")

	if *list {
		if err := listState(ctx, db, os.Stdout); err != nil {
			log.Fatal(err)
		}
		return
	}

	files, err := migrationFiles(*dir)
	if err != nil {
		log.Fatalf("read migrations dir %s: %v", *dir, err)
	}
	applied, err := apply(ctx, db, *dir, files, os.Stdout)
	if err != nil {
		log.Fatalf("Stopped after %d migration(s): %v", applied, err)
	}
	log.Printf("Migrations complete (%d applied)", applied)
}

// apply runs every file not yet recorded in bridge_schema_migrations, each in
// its own transaction together with its version row. It stops at the first
// failure so later files never run against a half-migrated schema.
func apply(ctx context.Context, db *sql.DB, dir string, files []string, out io.Writer) (int, error) {
	if _, err := db.ExecContext(ctx, createVersionTable); err != nil {
		return 0, fmt.Errorf("creating version table: %w", err)
	}
	done, err := appliedVersions(ctx, db)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, f := range files {
		if done[f] {
			fmt.Fprintf(out, "  %s ... already applied\n", f)
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, f))
		if err != nil {
			return n, err
		}
		if strings.TrimSpace(string(data)) == "" {
			continue
		}
		fmt.Fprintf(out, "  %s ... ", f)
		if err := applyOne(ctx, db, f, string(data)); err != nil {
			fmt.Fprintln(out, "ERROR")
			return n, fmt.Errorf("%s: %w", f, err)
		}
		fmt.Fprintln(out, "OK")
		n++
	}
	return n, nil
}

func applyOne(ctx context.Context, db *sql.DB, version, script string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO bridge_schema_migrations (version) VALUES ($1)`, version); err != nil {
		return err
	}
	return tx.Commit()
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT version FROM bridge_schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("reading applied versions: %w", err)
	}
	defer rows.Close()
	done := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		done[v] = true
	}
	return done, rows.Err()
}

func listState(ctx context.Context, db *sql.DB, out io.Writer) error {
	rows, err := db.QueryContext(ctx, `SELECT tablename FROM pg_tables WHERE schemaname = 'public' AND tablename LIKE 'bridge_%' ORDER BY tablename`)
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
		fmt.Fprintln(out, " ", t)
		n++
	}
	if err := rows.Err(); err != nil {
		return err
	}
	fmt.Fprintf(out, "Total: %d tables\n", n)
	return nil
}

// migrationFiles returns the .sql files in dir in apply order.
func migrationFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}
