/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/loqalabs/loqa-lectern/internal/logging"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaFiles embed.FS

// Database wraps the SQLite connection holding the reference corpus
type Database struct {
	db       *sql.DB
	path     string
	readOnly bool
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string
	// ReadOnly opens an existing corpus without touching it. Writable
	// databases get the schema applied on open.
	ReadOnly bool
}

// NewDatabase opens the corpus database
func NewDatabase(config DatabaseConfig) (*Database, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("database path must be provided")
	}

	dsn := config.Path
	if config.ReadOnly {
		if _, err := os.Stat(config.Path); err != nil {
			return nil, fmt.Errorf("corpus database not found: %w", err)
		}
		dsn = "file:" + config.Path + "?mode=ro"
	} else if err := ensureDir(filepath.Dir(config.Path)); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := configureSQLite(db, config.ReadOnly); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure SQLite: %w", err)
	}

	database := &Database{
		db:       db,
		path:     config.Path,
		readOnly: config.ReadOnly,
	}

	if !config.ReadOnly {
		if err := database.migrate(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	logging.LogDatabaseOperation("OPEN", "super_bible", zap.String("path", config.Path), zap.Bool("read_only", config.ReadOnly))
	return database, nil
}

// ensureDir creates directory if it doesn't exist
func ensureDir(dir string) error {
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0750)
}

// configureSQLite applies connection pragmas; write-related ones are skipped
// for read-only corpora
func configureSQLite(db *sql.DB, readOnly bool) error {
	pragmas := []string{
		"PRAGMA cache_size = 10000",    // 10MB cache
		"PRAGMA temp_store = memory",   // Store temp tables in memory
		"PRAGMA mmap_size = 268435456", // 256MB memory-mapped I/O
		"PRAGMA busy_timeout = 5000",   // 5 second timeout for locks
	}
	if readOnly {
		pragmas = append(pragmas, "PRAGMA query_only = ON")
	} else {
		pragmas = append(pragmas,
			"PRAGMA journal_mode = WAL",
			"PRAGMA synchronous = NORMAL",
		)
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %q: %w", pragma, err)
		}
	}

	return nil
}

// migrate applies the embedded schema
func (d *Database) migrate() error {
	schemaSQL, err := schemaFiles.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema.sql: %w", err)
	}

	if _, err := d.db.Exec(string(schemaSQL)); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	logging.LogDatabaseOperation("MIGRATE", "super_bible")
	return nil
}

// DB returns the underlying sql.DB instance
func (d *Database) DB() *sql.DB {
	return d.db
}

// Close closes the database connection
func (d *Database) Close() error {
	if d.db != nil {
		logging.LogDatabaseOperation("CLOSE", "super_bible", zap.String("path", d.path))
		return d.db.Close()
	}
	return nil
}

// Ping tests the database connection
func (d *Database) Ping() error {
	return d.db.Ping()
}

// ReadOnly reports whether the connection refuses writes
func (d *Database) ReadOnly() bool {
	return d.readOnly
}

func logRows(operation string, rows int, fields ...zap.Field) {
	logging.LogDatabaseOperation(operation, "super_bible", append([]zap.Field{zap.Int("rows", rows)}, fields...)...)
}
