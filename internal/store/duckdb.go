package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
)

// DuckDB is a measurement store backed by a DuckDB file.
type DuckDB struct {
	*sqlStore
}

// NewDuckDB opens (or creates) a DuckDB database at dbPath and starts the
// background batch writer.
func NewDuckDB(dbPath string, batchSize int, flushInterval time.Duration, pub Publisher) (*DuckDB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	if _, err := db.Exec("SET enable_external_access=false"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set security settings: %w", err)
	}

	s, err := newSQLStore(db, DriverDuckDB, dbPath, batchSize, flushInterval, pub)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &DuckDB{s}, nil
}
