package audit

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/nexhearth/mimirgo/internal/models"
)

func setupMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &Store{db: db}, mock
}

func TestLogMessageReturnsInsertID(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectExec("INSERT INTO audit_logs").
		WithArgs("telegram", "42", "telegram:42", "user", "hello", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(7, 1))

	id, err := store.LogMessage(context.Background(), models.AuditLogEntry{
		Source: "telegram", UserID: "42", SessionID: "telegram:42",
		MessageType: "user", Content: "hello",
	})
	if err != nil {
		t.Fatalf("LogMessage: %v", err)
	}
	if id != 7 {
		t.Errorf("id = %d, want 7", id)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestLogToolExecutionRecordsSuccess(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectExec("INSERT INTO tool_executions").
		WithArgs(sqlmock.AnyArg(), "call_service", sqlmock.AnyArg(), "ok", int64(12), 1, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.LogToolExecution(context.Background(), models.ToolExecutionEntry{
		ToolName: "call_service", Result: "ok", DurationMs: 12, Success: true,
	})
	if err != nil {
		t.Fatalf("LogToolExecution: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRecentMessagesReturnsChronologicalOrder(t *testing.T) {
	store, mock := setupMockStore(t)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "timestamp", "source", "user_id", "session_id", "message_type", "content"}).
		AddRow(2, now, "telegram", "42", "telegram:42", "assistant", "second").
		AddRow(1, now.Add(-time.Minute), "telegram", "42", "telegram:42", "user", "first")

	mock.ExpectQuery("SELECT id, timestamp, source, user_id, session_id, message_type, content").
		WithArgs("telegram:42", 50).
		WillReturnRows(rows)

	entries, err := store.RecentMessages(context.Background(), "telegram:42", 50)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Content != "first" || entries[1].Content != "second" {
		t.Errorf("expected chronological order, got %q then %q", entries[0].Content, entries[1].Content)
	}
}

func TestGetLogCountAppliesFilters(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectQuery("SELECT COUNT.*FROM audit_logs WHERE 1=1 AND source = \\? AND message_type = \\?").
		WithArgs("telegram", "user").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	count, err := store.GetLogCount(context.Background(), "telegram", "user")
	if err != nil {
		t.Fatalf("GetLogCount: %v", err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
}
