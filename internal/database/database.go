// Herdmap - Cattle Farm Monitoring and Live Location Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herdmap

// Package database provides the DuckDB-backed position store: an
// append-only location history and a per-entity current position table.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/tomtom215/herdmap/internal/config"
	"github.com/tomtom215/herdmap/internal/logging"
)

// DB wraps the DuckDB connection and provides data access methods
type DB struct {
	conn *sql.DB
	cfg  *config.DatabaseConfig
}

// New creates a new database connection and initializes the schema.
// An empty cfg.Path opens an in-memory database, used by tests.
func New(cfg *config.DatabaseConfig) (*DB, error) {
	numThreads := cfg.Threads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}

	connStr := ""
	if cfg.Path != "" {
		// Ensure parent directory exists for the database file.
		// 0750 permissions per gosec G301.
		dbDir := filepath.Dir(cfg.Path)
		if dbDir != "" && dbDir != "." {
			if err := os.MkdirAll(dbDir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
			}
		}

		// preserve_insertion_order=false reduces memory usage but may change result order
		preserveOrder := "true"
		if !cfg.PreserveInsertionOrder {
			preserveOrder = "false"
		}

		connStr = fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s&preserve_insertion_order=%s",
			cfg.Path, numThreads, cfg.MaxMemory, preserveOrder)
	}

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{
		conn: conn,
		cfg:  cfg,
	}

	db.configureConnectionPool(numThreads)

	if err := db.initialize(); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logging.Warn().Err(closeErr).Msg("Failed to close database after init failure")
		}
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Int("threads", numThreads).
		Msg("Database initialized")

	return db, nil
}

// configureConnectionPool tunes database/sql pooling for DuckDB's
// in-process engine.
func (db *DB) configureConnectionPool(numThreads int) {
	db.conn.SetMaxOpenConns(numThreads)
	db.conn.SetMaxIdleConns(2)
	db.conn.SetConnMaxLifetime(1 * time.Hour)
	db.conn.SetConnMaxIdleTime(5 * time.Minute)
}

// initialize creates the schema. Idempotent: safe across restarts.
func (db *DB) initialize() error {
	statements := []string{
		`CREATE SEQUENCE IF NOT EXISTS location_history_id_seq START 1`,

		`CREATE TABLE IF NOT EXISTS location_history (
			id BIGINT PRIMARY KEY DEFAULT nextval('location_history_id_seq'),
			animal_id BIGINT,
			collar_id BIGINT,
			latitude DOUBLE NOT NULL,
			longitude DOUBLE NOT NULL,
			altitude_meters DOUBLE,
			accuracy_meters DOUBLE,
			speed_kmh DOUBLE,
			heading_degrees DOUBLE,
			battery_level DOUBLE,
			signal_quality INTEGER,
			temperature_celsius DOUBLE,
			recorded_at TIMESTAMP NOT NULL,
			received_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS current_locations (
			entity_key VARCHAR PRIMARY KEY,
			animal_id BIGINT,
			collar_id BIGINT,
			latitude DOUBLE NOT NULL,
			longitude DOUBLE NOT NULL,
			battery_level DOUBLE,
			signal_quality INTEGER,
			temperature_celsius DOUBLE,
			recorded_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_history_recorded_at ON location_history(recorded_at)`,
		`CREATE INDEX IF NOT EXISTS idx_history_animal ON location_history(animal_id)`,
	}

	for _, stmt := range statements {
		if _, err := db.conn.Exec(stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}

	return nil
}

// Conn exposes the underlying *sql.DB for health checks and tests.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Ping verifies the database connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close closes the database connection.
func (db *DB) Close() error {
	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
