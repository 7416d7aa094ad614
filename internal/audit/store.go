// Package audit is the SQLite-backed append-only audit log and long-term
// memory store: every inbound/outbound message and tool execution the
// conversation manager handles, plus the facts a user has asked the agent
// to remember across conversations.
package audit

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Store owns one SQLite connection and implements both
// conversation.AuditStore and conversation.MemoryStore.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and
// ensures its schema exists. path may be ":memory:" for a private
// in-process database, used by tests; an empty path selects it too.
func Open(path string) (*Store, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("audit: opening database: %w", err)
	}
	db.SetMaxOpenConns(1) // mattn/go-sqlite3 serializes writers anyway; avoids SQLITE_BUSY

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS audit_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			source TEXT NOT NULL,
			user_id TEXT,
			session_id TEXT,
			message_type TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_logs_source ON audit_logs(source)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_logs_message_type ON audit_logs(message_type)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_logs_session ON audit_logs(session_id)`,

		`CREATE TABLE IF NOT EXISTS tool_executions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			audit_log_id INTEGER REFERENCES audit_logs(id),
			timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			tool_name TEXT NOT NULL,
			parameters TEXT,
			result TEXT,
			duration_ms INTEGER,
			success INTEGER NOT NULL,
			error_message TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tool_executions_tool_name ON tool_executions(tool_name)`,
		`CREATE INDEX IF NOT EXISTS idx_tool_executions_audit_log_id ON tool_executions(audit_log_id)`,

		`CREATE TABLE IF NOT EXISTS memories (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			content TEXT NOT NULL,
			category TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_category ON memories(category)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("audit: creating schema: %w", err)
		}
	}
	return nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
