// Package db owns the SQLite database: connection setup, schema migrations
// and the corpus writer used to index forms, questions and answers.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Open opens (or creates) the civisearch database and applies the
// performance pragmas used across the project.
func Open(path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 30000",
		"PRAGMA cache_size = -64000", // 64MB cache
		"PRAGMA temp_store = memory",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("applying pragma %q: %w", pragma, err)
		}
	}

	return conn, nil
}

// Optimize runs the SQLite maintenance statements. Called from the optimize
// command and after large corpus writes.
func Optimize(conn *sql.DB) error {
	for _, stmt := range []string{"PRAGMA optimize", "ANALYZE"} {
		if _, err := conn.Exec(stmt); err != nil {
			return fmt.Errorf("running %s: %w", stmt, err)
		}
	}
	return nil
}
