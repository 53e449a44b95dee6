package sqlitestore

import (
	"fmt"
)

const currentSchemaVersion = 2

// RunMigrations applies any pending database migrations
func (s *Store) RunMigrations() error {
	version, err := s.getSchemaVersion()
	if err != nil {
		return err
	}

	if version < 2 {
		if err := s.migrateToV2(); err != nil {
			return fmt.Errorf("migration to v2 failed: %w", err)
		}
	}

	return nil
}

// getSchemaVersion returns the current schema version, 1 if not set
func (s *Store) getSchemaVersion() (int, error) {
	var version int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 1) FROM offlog_schema_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

// migrateToV2 adds the client request id to queued mutations
func (s *Store) migrateToV2() error {
	// SQLite doesn't have IF NOT EXISTS for ALTER TABLE, so we check first
	var colCount int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM pragma_table_info('mutations')
		WHERE name='request_id'
	`).Scan(&colCount)
	if err != nil {
		return err
	}
	if colCount == 0 {
		if _, err := s.db.Exec(`ALTER TABLE mutations ADD COLUMN request_id TEXT NOT NULL DEFAULT ''`); err != nil {
			return err
		}
	}

	_, err = s.db.Exec("INSERT OR REPLACE INTO offlog_schema_version (version) VALUES (?)", currentSchemaVersion)
	return err
}
