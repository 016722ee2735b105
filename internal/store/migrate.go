// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"database/sql"
	"fmt"
)

// migrate brings the schema to the current shape. Forward-only, idempotent,
// all statements inside one transaction so a crash mid-migration leaves the
// old schema intact.
func (s *Store) migrate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS agent_sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL UNIQUE,
			log_file_path TEXT NOT NULL UNIQUE,
			project_path TEXT NOT NULL,
			agent_type TEXT NOT NULL CHECK (agent_type IN ('claude', 'codex')),
			display_name TEXT NOT NULL,
			created_at TEXT NOT NULL,
			last_activity_at TEXT NOT NULL,
			current_window TEXT,
			is_pinned INTEGER NOT NULL DEFAULT 0,
			last_user_message TEXT,
			last_resume_error TEXT,
			last_known_log_size INTEGER,
			is_codex_exec INTEGER NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS app_settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_window ON agent_sessions(current_window);
		CREATE INDEX IF NOT EXISTS idx_sessions_activity ON agent_sessions(last_activity_at DESC);
	`); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	// Legacy databases predate the CREATE IF NOT EXISTS above, so their
	// agent_sessions may be missing newer columns or carry dropped ones.
	cols, err := tableColumns(tx, "agent_sessions")
	if err != nil {
		return err
	}

	if !cols["last_user_message"] {
		if _, err := tx.Exec(`ALTER TABLE agent_sessions ADD COLUMN last_user_message TEXT`); err != nil {
			return fmt.Errorf("add last_user_message: %w", err)
		}
	}
	if !cols["last_resume_error"] {
		if _, err := tx.Exec(`ALTER TABLE agent_sessions ADD COLUMN last_resume_error TEXT`); err != nil {
			return fmt.Errorf("add last_resume_error: %w", err)
		}
	}
	if !cols["last_known_log_size"] {
		if _, err := tx.Exec(`ALTER TABLE agent_sessions ADD COLUMN last_known_log_size INTEGER`); err != nil {
			return fmt.Errorf("add last_known_log_size: %w", err)
		}
	}
	if !cols["is_codex_exec"] {
		if _, err := tx.Exec(`ALTER TABLE agent_sessions ADD COLUMN is_codex_exec INTEGER NOT NULL DEFAULT 0`); err != nil {
			return fmt.Errorf("add is_codex_exec: %w", err)
		}
	}

	// session_source is obsolete. Synthetic rows only ever existed with it,
	// so delete them before dropping the column.
	if cols["session_source"] {
		if _, err := tx.Exec(`DELETE FROM agent_sessions WHERE session_source = 'synthetic'`); err != nil {
			return fmt.Errorf("delete synthetic rows: %w", err)
		}
		if _, err := tx.Exec(`ALTER TABLE agent_sessions DROP COLUMN session_source`); err != nil {
			return fmt.Errorf("drop session_source: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	return nil
}

func tableColumns(tx *sql.Tx, table string) (map[string]bool, error) {
	rows, err := tx.Query(`SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return nil, fmt.Errorf("table info %s: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		cols[name] = true
	}
	return cols, rows.Err()
}
