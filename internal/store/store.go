// Package store persists metrics, alerts, recommendations and reports to
// sqlite. It is the durable history sink; the in-memory engine never waits
// on it.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

func Open(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir data dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA synchronous=NORMAL; PRAGMA temp_store=MEMORY;`); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS metrics (
			name TEXT NOT NULL,
			kind TEXT NOT NULL,
			value REAL NOT NULL,
			ts DATETIME NOT NULL,
			tags_json TEXT NOT NULL DEFAULT '{}'
		);`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			rule TEXT NOT NULL,
			severity TEXT NOT NULL,
			message TEXT NOT NULL,
			ts DATETIME NOT NULL,
			resolved INTEGER NOT NULL DEFAULT 0,
			resolved_ts DATETIME
		);`,
		`CREATE TABLE IF NOT EXISTS scaling_recommendations (
			id TEXT PRIMARY KEY,
			action TEXT NOT NULL,
			resource TEXT NOT NULL,
			cur INTEGER NOT NULL,
			rec INTEGER NOT NULL,
			confidence REAL NOT NULL,
			reasoning TEXT NOT NULL,
			ts DATETIME NOT NULL,
			applied INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS reports (
			id TEXT PRIMARY KEY,
			start_ts DATETIME NOT NULL,
			end_ts DATETIME NOT NULL,
			summary_json TEXT NOT NULL,
			score REAL NOT NULL,
			ts DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_metrics_name_ts ON metrics(name, ts DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(ts DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_recommendations_resource_ts ON scaling_recommendations(resource, ts DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate failed: %w", err)
		}
	}
	return nil
}
