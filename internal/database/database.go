package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// DB wraps the sqlite table store and owns the three sync bookkeeping
// tables (queue, per-record status, append-only log).
type DB struct {
	*sql.DB
	logger *zerolog.Logger
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("database initialized")
	return &DB{DB: db, logger: logger}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		// Durable job queue
		`CREATE TABLE IF NOT EXISTS notion_sync_queue (
            id TEXT PRIMARY KEY,
            table_name TEXT NOT NULL,
            record_id TEXT NOT NULL,
            operation TEXT NOT NULL,
            data TEXT,
            status TEXT NOT NULL DEFAULT 'pending',
            attempts INTEGER NOT NULL DEFAULT 0,
            error TEXT,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            claimed_at DATETIME,
            processed_at DATETIME
        )`,

		// Last-known reconciliation state per record
		`CREATE TABLE IF NOT EXISTS notion_sync_status (
            table_name TEXT NOT NULL,
            record_id TEXT NOT NULL,
            d1_updated_at DATETIME,
            notion_page_id TEXT,
            last_synced_at DATETIME,
            sync_status TEXT,
            PRIMARY KEY (table_name, record_id)
        )`,

		// Append-only audit log
		`CREATE TABLE IF NOT EXISTS notion_sync_log (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            table_name TEXT NOT NULL,
            record_id TEXT NOT NULL,
            operation TEXT NOT NULL,
            status TEXT NOT NULL,
            details TEXT,
            synced_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,

		`CREATE INDEX IF NOT EXISTS idx_sync_queue_status ON notion_sync_queue(status, attempts)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_status_page ON notion_sync_status(table_name, notion_page_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_queue_created ON notion_sync_queue(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_log_synced ON notion_sync_log(synced_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("executing %q: %w", query, err)
		}
	}
	return nil
}

func (db *DB) Close() error {
	return db.DB.Close()
}
