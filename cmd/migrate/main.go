package main

import (
	"database/sql"
	"fmt"
	"io/fs"
	"log"
	"os"
	"sort"
	"strings"

	_ "github.com/lib/pq"

	"github.com/pulseboard/adinsights/internal/pkg/logger"
)

// Applies every *.sql file in the migrations directory in lexical order,
// each in its own transaction. The files are idempotent (CREATE IF NOT
// EXISTS), so re-running after adding a migration is safe.
func main() {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL is required")
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

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("ping: %v", err)
	}
	logger.Info("connected to database")

	if listOnly {
		if err := listTables(db); err != nil {
			log.Fatalf("list tables: %v", err)
		}
		return
	}

	fsys := os.DirFS(dir)
	files, err := migrationFiles(fsys)
	if err != nil {
		log.Fatalf("read migrations dir %s: %v", dir, err)
	}

	applied, failed := 0, 0
	for _, name := range files {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			log.Fatalf("read %s: %v", name, err)
		}
		if err := applyMigration(db, string(data)); err != nil {
			logger.Error("migration failed", "file", name, "error", err.Error())
			failed++
			continue
		}
		logger.Info("migration applied", "file", name)
		applied++
	}
	logger.Info("migrations complete", "applied", applied, "failed", failed)
	if failed > 0 {
		os.Exit(1)
	}
}

// migrationFiles returns the names of a migration tree's .sql files in
// apply order.
func migrationFiles(fsys fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)
	return files, nil
}

// applyMigration runs one migration file inside its own transaction.
// Blank files are skipped.
func applyMigration(db *sql.DB, content string) error {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if _, err := tx.Exec(content); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func listTables(db *sql.DB) error {
	rows, err := db.Query("SELECT tablename FROM pg_tables WHERE schemaname='public' ORDER BY tablename")
	if err != nil {
		return err
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		var table string
		if err := rows.Scan(&table); err != nil {
			return err
		}
		fmt.Println(" ", table)
		n++
	}
	fmt.Printf("Total: %d tables\n", n)
	return rows.Err()
}
