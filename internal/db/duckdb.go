// Package db owns the portal's DuckDB connection. The raster catalog and
// the registry snapshot store share it.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/marcboeker/go-duckdb/v2"
)

var (
	instance *sql.DB
	once     sync.Once
	initErr  error
)

// Config holds database configuration.
type Config struct {
	DataDir string
	DBName  string
}

// Get returns the singleton DuckDB connection.
func Get(cfg Config) (*sql.DB, error) {
	once.Do(func() {
		duckdbDir := filepath.Join(cfg.DataDir, "duckdb")
		if err := os.MkdirAll(duckdbDir, 0755); err != nil {
			initErr = fmt.Errorf("failed to create duckdb directory: %w", err)
			return
		}

		dbPath := filepath.Join(duckdbDir, cfg.DBName+".duckdb")
		instance, initErr = sql.Open("duckdb", dbPath)
		if initErr != nil {
			return
		}

		// The spatial extension is optional; the catalog and registry
		// tables work without it.
		if _, err := instance.Exec("INSTALL spatial; LOAD spatial;"); err != nil {
			// Extension might already be installed, continue
		}
	})
	return instance, initErr
}

// Open returns a standalone DuckDB connection at the given path. Tests
// pass an empty path for an in-memory database.
func Open(path string) (*sql.DB, error) {
	return sql.Open("duckdb", path)
}

// Close closes the singleton connection.
func Close() error {
	if instance != nil {
		return instance.Close()
	}
	return nil
}
