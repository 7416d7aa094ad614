package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/nexhearth/mimirgo/internal/models"
)

// LogMessage records one inbound or outbound message and returns its id.
func (s *Store) LogMessage(ctx context.Context, entry models.AuditLogEntry) (int64, error) {
	var metadataJSON sql.NullString
	if len(entry.Metadata) > 0 {
		b, err := json.Marshal(entry.Metadata)
		if err != nil {
			return 0, fmt.Errorf("audit: marshaling metadata: %w", err)
		}
		metadataJSON = sql.NullString{String: string(b), Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (source, user_id, session_id, message_type, content, metadata)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.Source, nullString(entry.UserID), nullString(entry.SessionID), entry.MessageType, entry.Content, metadataJSON,
	)
	if err != nil {
		return 0, fmt.Errorf("audit: logging message: %w", err)
	}
	return res.LastInsertId()
}

// LogToolExecution records one tool call made during a conversation turn.
func (s *Store) LogToolExecution(ctx context.Context, entry models.ToolExecutionEntry) error {
	var paramsJSON sql.NullString
	if len(entry.Parameters) > 0 {
		b, err := json.Marshal(entry.Parameters)
		if err != nil {
			return fmt.Errorf("audit: marshaling tool parameters: %w", err)
		}
		paramsJSON = sql.NullString{String: string(b), Valid: true}
	}

	var auditLogID sql.NullInt64
	if entry.AuditLogID != 0 {
		auditLogID = sql.NullInt64{Int64: entry.AuditLogID, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tool_executions (audit_log_id, tool_name, parameters, result, duration_ms, success, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		auditLogID, entry.ToolName, paramsJSON, nullString(entry.Result), entry.DurationMs, boolToInt(entry.Success), nullString(entry.ErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("audit: logging tool execution: %w", err)
	}
	return nil
}

// RecentMessages returns the most recent user/assistant messages for a
// session, oldest first, capped at limit. It satisfies
// conversation.AuditStore, used to rebuild in-memory history on restart.
func (s *Store) RecentMessages(ctx context.Context, sessionID string, limit int) ([]models.AuditLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, source, user_id, session_id, message_type, content
		FROM audit_logs
		WHERE session_id = ? AND message_type IN ('user', 'assistant')
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("audit: querying recent messages: %w", err)
	}
	defer rows.Close()

	var entries []models.AuditLogEntry
	for rows.Next() {
		var e models.AuditLogEntry
		var userID, sid sql.NullString
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Source, &userID, &sid, &e.MessageType, &e.Content); err != nil {
			return nil, fmt.Errorf("audit: scanning message row: %w", err)
		}
		e.UserID = userID.String
		e.SessionID = sid.String
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// GetRecentLogs returns audit entries newest-first, optionally filtered by
// source and/or message type.
func (s *Store) GetRecentLogs(ctx context.Context, limit, offset int, source, messageType string) ([]models.AuditLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, timestamp, source, user_id, session_id, message_type, content, metadata FROM audit_logs WHERE 1=1`
	var args []any
	if source != "" {
		query += " AND source = ?"
		args = append(args, source)
	}
	if messageType != "" {
		query += " AND message_type = ?"
		args = append(args, messageType)
	}
	query += " ORDER BY timestamp DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: querying recent logs: %w", err)
	}
	defer rows.Close()
	return scanAuditLogs(rows)
}

// GetLogByID returns one audit entry with its associated tool executions,
// or (nil, nil) if it doesn't exist.
func (s *Store) GetLogByID(ctx context.Context, id int64) (*models.AuditLogEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, timestamp, source, user_id, session_id, message_type, content, metadata
		FROM audit_logs WHERE id = ?`, id)

	var e models.AuditLogEntry
	var userID, sessionID, metadataJSON sql.NullString
	if err := row.Scan(&e.ID, &e.Timestamp, &e.Source, &userID, &sessionID, &e.MessageType, &e.Content, &metadataJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("audit: fetching log %d: %w", id, err)
	}
	e.UserID = userID.String
	e.SessionID = sessionID.String
	if metadataJSON.Valid && metadataJSON.String != "" {
		_ = json.Unmarshal([]byte(metadataJSON.String), &e.Metadata)
	}

	execRows, err := s.db.QueryContext(ctx, `
		SELECT id, audit_log_id, timestamp, tool_name, parameters, result, duration_ms, success, error_message
		FROM tool_executions WHERE audit_log_id = ? ORDER BY timestamp`, id)
	if err != nil {
		return nil, fmt.Errorf("audit: fetching tool executions for log %d: %w", id, err)
	}
	defer execRows.Close()

	for execRows.Next() {
		var t models.ToolExecutionEntry
		var auditLogID sql.NullInt64
		var params, result, errMsg sql.NullString
		if err := execRows.Scan(&t.ID, &auditLogID, &t.Timestamp, &t.ToolName, &params, &result, &t.DurationMs, &t.Success, &errMsg); err != nil {
			return nil, fmt.Errorf("audit: scanning tool execution: %w", err)
		}
		t.AuditLogID = auditLogID.Int64
		t.Result = result.String
		t.ErrorMessage = errMsg.String
		if params.Valid && params.String != "" {
			_ = json.Unmarshal([]byte(params.String), &t.Parameters)
		}
		e.ToolExecutions = append(e.ToolExecutions, t)
	}

	return &e, nil
}

// SearchLogs finds audit entries whose content contains query.
func (s *Store) SearchLogs(ctx context.Context, query string, limit, offset int) ([]models.AuditLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, source, user_id, session_id, message_type, content, metadata
		FROM audit_logs WHERE content LIKE ?
		ORDER BY timestamp DESC LIMIT ? OFFSET ?`,
		"%"+query+"%", limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("audit: searching logs: %w", err)
	}
	defer rows.Close()
	return scanAuditLogs(rows)
}

// GetLogCount returns the total number of audit entries matching an
// optional source/message-type filter.
func (s *Store) GetLogCount(ctx context.Context, source, messageType string) (int, error) {
	query := "SELECT COUNT(*) FROM audit_logs WHERE 1=1"
	var args []any
	if source != "" {
		query += " AND source = ?"
		args = append(args, source)
	}
	if messageType != "" {
		query += " AND message_type = ?"
		args = append(args, messageType)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("audit: counting logs: %w", err)
	}
	return count, nil
}

// CleanupOldLogs deletes audit entries (and their tool executions) older
// than the given number of days, returning how many audit rows were
// removed.
func (s *Store) CleanupOldLogs(ctx context.Context, days int) (int64, error) {
	cutoff := fmt.Sprintf("-%d days", days)

	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM tool_executions
		WHERE audit_log_id IN (SELECT id FROM audit_logs WHERE timestamp < datetime('now', ?))`, cutoff); err != nil {
		return 0, fmt.Errorf("audit: cleaning up old tool executions: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_logs WHERE timestamp < datetime('now', ?)`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("audit: cleaning up old logs: %w", err)
	}
	return res.RowsAffected()
}

func scanAuditLogs(rows *sql.Rows) ([]models.AuditLogEntry, error) {
	var entries []models.AuditLogEntry
	for rows.Next() {
		var e models.AuditLogEntry
		var userID, sessionID, metadataJSON sql.NullString
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Source, &userID, &sessionID, &e.MessageType, &e.Content, &metadataJSON); err != nil {
			return nil, fmt.Errorf("audit: scanning log row: %w", err)
		}
		e.UserID = userID.String
		e.SessionID = sessionID.String
		if metadataJSON.Valid && metadataJSON.String != "" {
			_ = json.Unmarshal([]byte(metadataJSON.String), &e.Metadata)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
