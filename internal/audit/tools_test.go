package audit

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestStoreMemoryToolRequiresContent(t *testing.T) {
	store, _ := setupMockStore(t)
	tool := &storeMemoryTool{store: store}

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"category":"general"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError || !strings.Contains(result.Content, "content is required") {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestStoreMemoryToolDefaultsInvalidCategoryToGeneral(t *testing.T) {
	store, mock := setupMockStore(t)
	mock.ExpectExec("INSERT INTO memories").
		WithArgs("likes jazz in the evening", "general").
		WillReturnResult(sqlmock.NewResult(1, 1))

	tool := &storeMemoryTool{store: store}
	result, err := tool.Execute(context.Background(), json.RawMessage(`{"content":"likes jazz in the evening","category":"not_a_real_category"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", result.Content)
	}
}

func TestRecallMemoriesToolNoResults(t *testing.T) {
	store, mock := setupMockStore(t)
	mock.ExpectQuery("SELECT id, content, category, created_at FROM memories ORDER BY created_at DESC$").
		WillReturnRows(sqlmock.NewRows([]string{"id", "content", "category", "created_at"}))

	tool := &recallMemoriesTool{store: store}
	result, err := tool.Execute(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Content != "No memories found." {
		t.Errorf("unexpected content: %q", result.Content)
	}
}

func TestForgetMemoryToolRequiresMemoryID(t *testing.T) {
	store, _ := setupMockStore(t)
	tool := &forgetMemoryTool{store: store}

	result, err := tool.Execute(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError || !strings.Contains(result.Content, "memory_id is required") {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestForgetMemoryToolReportsNotFound(t *testing.T) {
	store, mock := setupMockStore(t)
	mock.ExpectExec("DELETE FROM memories WHERE id = \\?").
		WithArgs(int64(99)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	tool := &forgetMemoryTool{store: store}
	result, err := tool.Execute(context.Background(), json.RawMessage(`{"memory_id":99}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(result.Content, "not found") {
		t.Errorf("unexpected content: %q", result.Content)
	}
}
