// Package db provides database schema migration management.
package db

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"
)

// migration is one schema step. Migrations are embedded rather than read
// from a directory: the module ships inside a mobile app bundle.
type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "sync queue",
		SQL: `
		CREATE TABLE IF NOT EXISTS sync_queue (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			operation TEXT NOT NULL CHECK(operation IN ('create','update','delete')),
			payload TEXT NOT NULL,
			client_updated_at INTEGER NOT NULL,
			attempt_count INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending','processing','error')),
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_sync_queue_entity ON sync_queue(entity_type, entity_id);
		CREATE INDEX IF NOT EXISTS idx_sync_queue_status ON sync_queue(status);`,
	},
	{
		Version:     2,
		Description: "entity mirror",
		SQL: `
		CREATE TABLE IF NOT EXISTS entity_mirror (
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			payload TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			sync_status TEXT NOT NULL DEFAULT 'draft'
				CHECK(sync_status IN ('draft','pending','processing','synced','error')),
			PRIMARY KEY (entity_type, entity_id)
		);
		CREATE INDEX IF NOT EXISTS idx_entity_mirror_status ON entity_mirror(sync_status);
		CREATE INDEX IF NOT EXISTS idx_entity_mirror_updated ON entity_mirror(entity_type, updated_at);`,
	},
	{
		Version:     3,
		Description: "sync state singleton",
		SQL: `
		CREATE TABLE IF NOT EXISTS sync_state (
			id INTEGER PRIMARY KEY CHECK(id = 1),
			device_id TEXT NOT NULL,
			last_sync_at INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT ''
		);`,
	},
	{
		Version:     4,
		Description: "bootstrap watermark",
		SQL: `
		ALTER TABLE sync_state ADD COLUMN last_bootstrap_at INTEGER NOT NULL DEFAULT 0;`,
	},
}

// Migrator applies embedded schema migrations.
type Migrator struct {
	db *sql.DB
}

// NewMigrator creates a new Migrator instance.
func NewMigrator(db *sql.DB) *Migrator {
	return &Migrator{db: db}
}

// Initialize creates the schema_migrations table if it doesn't exist.
func (m *Migrator) Initialize() error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY CHECK(version > 0),
		applied_at INTEGER NOT NULL CHECK(applied_at > 0),
		description TEXT NOT NULL CHECK(length(description) > 0),
		checksum TEXT NOT NULL CHECK(length(checksum) = 64)
	);`
	_, err := m.db.Exec(query)
	return err
}

// CurrentVersion returns the current schema version.
func (m *Migrator) CurrentVersion() (int, error) {
	var version int
	err := m.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	return version, err
}

// Up applies all pending migrations in version order inside transactions.
// Re-running is a no-op; a checksum mismatch on an applied version fails.
func (m *Migrator) Up() error {
	if err := m.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize migrations table: %w", err)
	}

	applied, err := m.appliedChecksums()
	if err != nil {
		return err
	}

	for _, mig := range migrations {
		sum := checksum(mig.SQL)

		if prev, ok := applied[mig.Version]; ok {
			if prev != sum {
				return fmt.Errorf("migration %d checksum mismatch: schema drift", mig.Version)
			}
			continue
		}

		tx, err := m.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", mig.Version, err)
		}

		if _, err := tx.Exec(mig.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", mig.Version, mig.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, applied_at, description, checksum) VALUES (?, ?, ?, ?)",
			mig.Version, time.Now().Unix(), mig.Description, sum,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", mig.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", mig.Version, err)
		}
	}

	return nil
}

func (m *Migrator) appliedChecksums() (map[int]string, error) {
	rows, err := m.db.Query("SELECT version, checksum FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]string)
	for rows.Next() {
		var version int
		var sum string
		if err := rows.Scan(&version, &sum); err != nil {
			return nil, err
		}
		applied[version] = sum
	}
	return applied, rows.Err()
}

func checksum(sql string) string {
	sum := sha256.Sum256([]byte(sql))
	return hex.EncodeToString(sum[:])
}
