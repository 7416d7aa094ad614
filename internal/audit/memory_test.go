package audit

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/nexhearth/mimirgo/internal/models"
)

func TestAddMemoryReturnsInsertID(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectExec("INSERT INTO memories").
		WithArgs("likes the porch light warm white", "user_preference").
		WillReturnResult(sqlmock.NewResult(5, 1))

	id, err := store.AddMemory(context.Background(), "likes the porch light warm white", models.MemoryUserPreference)
	if err != nil {
		t.Fatalf("AddMemory: %v", err)
	}
	if id != 5 {
		t.Errorf("id = %d, want 5", id)
	}
}

func TestDeleteMemoryReportsWhetherFound(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectExec("DELETE FROM memories WHERE id = \\?").
		WithArgs(int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	deleted, err := store.DeleteMemory(context.Background(), 9)
	if err != nil {
		t.Fatalf("DeleteMemory: %v", err)
	}
	if deleted {
		t.Error("expected deleted=false when no row matched")
	}
}

func TestSummaryFormatsMemoriesByCategory(t *testing.T) {
	store, mock := setupMockStore(t)

	rows := sqlmock.NewRows([]string{"id", "content", "category", "created_at"}).
		AddRow(1, "kitchen light is warm white", "device_info", time.Now()).
		AddRow(2, "prefers celsius", "user_preference", time.Now())

	mock.ExpectQuery("SELECT id, content, category, created_at FROM memories ORDER BY created_at DESC$").
		WillReturnRows(rows)

	summary, err := store.Summary(context.Background())
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if summary == "" {
		t.Fatal("expected non-empty summary")
	}
	if !strings.Contains(summary, "[device_info] kitchen light is warm white") || !strings.Contains(summary, "[user_preference] prefers celsius") {
		t.Errorf("unexpected summary: %q", summary)
	}
}

func TestSummaryEmptyWhenNoMemories(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectQuery("SELECT id, content, category, created_at FROM memories ORDER BY created_at DESC$").
		WillReturnRows(sqlmock.NewRows([]string{"id", "content", "category", "created_at"}))

	summary, err := store.Summary(context.Background())
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if summary != "" {
		t.Errorf("expected empty summary, got %q", summary)
	}
}
