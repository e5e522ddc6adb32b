package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLiteBackup stores backup copies as extended-JSON documents in a local
// SQLite file. It is the backup driver for single-node deployments.
type SQLiteBackup struct {
	db     *sql.DB
	path   string
	logger *zap.SugaredLogger
}

// configureSQLiteConnection sets WAL mode and a busy timeout, then verifies the journal mode.
func configureSQLiteConnection(db *sql.DB, logger *zap.SugaredLogger, dbPath string) error {
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set busy timeout to prevent immediate SQLITE_BUSY errors
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	// In-memory databases report "memory" rather than "wal"
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to query journal mode: %w", err)
	}
	if dbPath != ":memory:" && journalMode != "wal" {
		return fmt.Errorf("WAL mode not enabled (got: %s, expected: wal)", journalMode)
	}
	logger.Infow("SQLite backup journal mode verified", "mode", journalMode)
	return nil
}

// NewSQLiteBackup opens (or creates) the backup database at dbPath.
func NewSQLiteBackup(dbPath string, logger *zap.SugaredLogger) (*SQLiteBackup, error) {
	if err := validateDatabasePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite backup database: %w", err)
	}

	// Single writer; connections never expire so ":memory:" keeps its data.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := configureSQLiteConnection(db, logger, dbPath); err != nil {
		_ = db.Close()
		return nil, err
	}

	b := &SQLiteBackup{db: db, path: dbPath, logger: logger}
	if err := b.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Infow("SQLite backup store initialized", "path", dbPath)
	return b, nil
}

func (b *SQLiteBackup) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS backup_documents (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		document TEXT NOT NULL, -- MongoDB extended JSON
		saved_at DATETIME NOT NULL,
		PRIMARY KEY (collection, id)
	);
	CREATE INDEX IF NOT EXISTS idx_backup_documents_saved_at ON backup_documents(saved_at);
	`
	_, err := b.db.Exec(schema)
	return err
}

// Save upserts a copy of doc under (collection, id).
func (b *SQLiteBackup) Save(ctx context.Context, collection, id string, doc interface{}) error {
	data, err := bson.MarshalExtJSON(doc, false, false)
	if err != nil {
		return fmt.Errorf("failed to marshal backup document: %w", err)
	}

	_, err = b.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO backup_documents (collection, id, document, saved_at) VALUES (?, ?, ?, ?)`,
		collection, id, string(data), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save backup to %s: %w", collection, err)
	}
	return nil
}

// Load decodes the backup copy of (collection, id) into dst.
func (b *SQLiteBackup) Load(ctx context.Context, collection, id string, dst interface{}) error {
	var data string
	err := b.db.QueryRowContext(ctx,
		`SELECT document FROM backup_documents WHERE collection = ? AND id = ?`, collection, id).Scan(&data)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load backup: %w", err)
	}
	if err := bson.UnmarshalExtJSON([]byte(data), false, dst); err != nil {
		return fmt.Errorf("failed to decode backup document: %w", err)
	}
	return nil
}

// Count returns the number of backup copies in a collection.
func (b *SQLiteBackup) Count(ctx context.Context, collection string) (int64, error) {
	var n int64
	err := b.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM backup_documents WHERE collection = ?`, collection).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count backups in %s: %w", collection, err)
	}
	return n, nil
}

// Close closes the database.
func (b *SQLiteBackup) Close(context.Context) error {
	return b.db.Close()
}

// validateDatabasePath rejects traversal, null bytes and absolute paths
// outside the temp directory.
func validateDatabasePath(dbPath string) error {
	if dbPath == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if dbPath == ":memory:" {
		return nil
	}
	if len(dbPath) > 512 {
		return fmt.Errorf("database path exceeds maximum length of 512 characters")
	}
	if filepath.IsAbs(dbPath) && !strings.HasPrefix(dbPath, os.TempDir()) {
		return fmt.Errorf("absolute paths not allowed: %s", dbPath)
	}
	if strings.Contains(dbPath, "..") {
		return fmt.Errorf("path traversal not allowed (..): %s", dbPath)
	}
	if strings.Contains(dbPath, "\x00") {
		return fmt.Errorf("null bytes not allowed in path")
	}
	return nil
}
