package index

import (
	"database/sql"
	"fmt"
	"log"
	"time"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "Initial schema",
		SQL: `
CREATE TABLE IF NOT EXISTS sites (
    station_num INTEGER PRIMARY KEY,
    name TEXT,
    state TEXT,
    notes TEXT,
    auto_download BOOLEAN DEFAULT FALSE,
    tz_offset_seconds INTEGER
);

CREATE TABLE IF NOT EXISTS files (
    station_num INTEGER NOT NULL,
    model TEXT NOT NULL,
    init_time DATETIME NOT NULL,
    end_time DATETIME NOT NULL,
    file_name TEXT NOT NULL UNIQUE,
    PRIMARY KEY (station_num, model, init_time)
);

CREATE TABLE IF NOT EXISTS site_ids (
    station_num INTEGER NOT NULL,
    id TEXT NOT NULL UNIQUE
);

CREATE INDEX IF NOT EXISTS idx_files_station_model ON files(station_num, model, init_time);
`,
	},
	{
		Version:     2,
		Description: "Add per-file identity and location snapshot columns",
		SQL: `
ALTER TABLE files ADD COLUMN id TEXT;
ALTER TABLE files ADD COLUMN lat REAL;
ALTER TABLE files ADD COLUMN lon REAL;
ALTER TABLE files ADD COLUMN elevation_m REAL;

CREATE INDEX IF NOT EXISTS idx_files_id ON files(id, model, init_time);
`,
	},
}

// Migrate brings the index schema up to date, applying each pending migration
// in its own transaction.
func (s *Store) Migrate() error {
	if err := s.ensureMigrationsTable(); err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}

	applied, err := s.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("get applied migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}

		log.Printf("migrations: applying %d - %s", m.Version, m.Description)

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Description, time.Now().UTC(),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

func (s *Store) ensureMigrationsTable() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at DATETIME
		)
	`)
	return err
}

func (s *Store) getAppliedMigrations() (map[int]bool, error) {
	rows, err := s.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

// MigrationVersion reports the highest applied schema version, 0 for a fresh
// database.
func (s *Store) MigrationVersion() (int, error) {
	var version sql.NullInt64
	err := s.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}
