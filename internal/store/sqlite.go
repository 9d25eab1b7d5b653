package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLite is a measurement store backed by a SQLite file in WAL mode.
type SQLite struct {
	*sqlStore
}

// NewSQLite opens (or creates) the SQLite file at dbPath and starts the
// background batch writer.
func NewSQLite(dbPath string, batchSize int, flushInterval time.Duration, pub Publisher) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	// Writes come from the batch writer only; WAL lets readers run alongside.
	db.SetMaxOpenConns(4)

	s, err := newSQLStore(db, DriverSQLite, dbPath, batchSize, flushInterval, pub)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &SQLite{s}, nil
}
