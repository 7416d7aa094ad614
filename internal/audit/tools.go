package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nexhearth/mimirgo/internal/agent"
	"github.com/nexhearth/mimirgo/internal/models"
)

// Tools returns the long-term memory tools (store_memory, recall_memories,
// forget_memory), grounded on the original implementation's memory tool
// trio: store a fact, search/recall facts, delete a fact by id.
func Tools(store *Store) []agent.Tool {
	return []agent.Tool{
		&storeMemoryTool{store},
		&recallMemoriesTool{store},
		&forgetMemoryTool{store},
	}
}

func memoryCategorySchema() map[string]any {
	enum := make([]any, len(models.ValidMemoryCategories))
	for i, c := range models.ValidMemoryCategories {
		enum[i] = string(c)
	}
	return map[string]any{
		"type": "string",
		"enum": enum,
		"description": "user_preference (language, style), device_info (device names, locations), " +
			"automation_note (notes about automations), home_layout (rooms, areas), " +
			"routine (schedules, habits), general (anything else).",
	}
}

type storeMemoryTool struct {
	store *Store
}

func (t *storeMemoryTool) Name() string { return "store_memory" }
func (t *storeMemoryTool) Description() string {
	return "Store a fact or preference to remember long-term. Use this when the user asks you to " +
		"remember something, or shares information about their home, devices, preferences, or " +
		"routines worth keeping across conversations. Be concise: store the essence, not the full exchange."
}

func (t *storeMemoryTool) Schema() json.RawMessage {
	b, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"content":  map[string]any{"type": "string", "description": "The fact or preference to remember. Be concise and specific."},
			"category": memoryCategorySchema(),
		},
		"required": []string{"content", "category"},
	})
	return b
}

func (t *storeMemoryTool) Execute(ctx context.Context, raw json.RawMessage) (*agent.ToolResult, error) {
	var params struct {
		Content  string `json:"content"`
		Category string `json:"category"`
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		return agent.ErrorResult("invalid parameters: %v", err), nil
	}
	if strings.TrimSpace(params.Content) == "" {
		return agent.ErrorResult("content is required."), nil
	}
	category := models.MemoryCategory(params.Category)
	if !models.IsValidMemoryCategory(category) {
		category = models.MemoryGeneral
	}

	id, err := t.store.AddMemory(ctx, params.Content, category)
	if err != nil {
		return agent.ErrorResult("storing memory: %v", err), nil
	}
	return &agent.ToolResult{Content: fmt.Sprintf("Remembered (id %d): %s", id, params.Content)}, nil
}

type recallMemoriesTool struct {
	store *Store
}

func (t *recallMemoriesTool) Name() string { return "recall_memories" }
func (t *recallMemoriesTool) Description() string {
	return "Search stored memories for relevant information. Use this to recall previously stored " +
		"facts about the user's home, preferences, or devices."
}

func (t *recallMemoriesTool) Schema() json.RawMessage {
	cat := memoryCategorySchema()
	cat["description"] = "Optional: restrict to one category."
	b, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query":    map[string]any{"type": "string", "description": "Search term to find relevant memories."},
			"category": cat,
		},
	})
	return b
}

func (t *recallMemoriesTool) Execute(ctx context.Context, raw json.RawMessage) (*agent.ToolResult, error) {
	var params struct {
		Query    string `json:"query"`
		Category string `json:"category"`
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &params); err != nil {
			return agent.ErrorResult("invalid parameters: %v", err), nil
		}
	}

	var (
		memories []models.Memory
		err      error
	)
	switch {
	case params.Query != "":
		memories, err = t.store.SearchMemories(ctx, params.Query)
	case params.Category != "":
		memories, err = t.store.GetMemoriesByCategory(ctx, models.MemoryCategory(params.Category))
	default:
		memories, err = t.store.GetAllMemories(ctx)
	}
	if err != nil {
		return agent.ErrorResult("recalling memories: %v", err), nil
	}
	if len(memories) == 0 {
		return &agent.ToolResult{Content: "No memories found."}, nil
	}

	total := len(memories)
	if len(memories) > maxRecalledMemories {
		memories = memories[:maxRecalledMemories]
	}
	var b strings.Builder
	for _, m := range memories {
		fmt.Fprintf(&b, "- [%d, %s] %s\n", m.ID, m.Category, m.Content)
	}
	return &agent.ToolResult{Content: fmt.Sprintf("Found %d memories:\n%s", total, strings.TrimRight(b.String(), "\n"))}, nil
}

type forgetMemoryTool struct {
	store *Store
}

func (t *forgetMemoryTool) Name() string { return "forget_memory" }
func (t *forgetMemoryTool) Description() string {
	return "Delete a stored memory by its id. Use this when the user wants to remove outdated or incorrect information."
}

func (t *forgetMemoryTool) Schema() json.RawMessage {
	b, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"memory_id": map[string]any{"type": "integer", "description": "The id of the memory to delete."},
		},
		"required": []string{"memory_id"},
	})
	return b
}

func (t *forgetMemoryTool) Execute(ctx context.Context, raw json.RawMessage) (*agent.ToolResult, error) {
	var params struct {
		MemoryID *int64 `json:"memory_id"`
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		return agent.ErrorResult("invalid parameters: %v", err), nil
	}
	if params.MemoryID == nil {
		return agent.ErrorResult("memory_id is required."), nil
	}

	deleted, err := t.store.DeleteMemory(ctx, *params.MemoryID)
	if err != nil {
		return agent.ErrorResult("deleting memory: %v", err), nil
	}
	if !deleted {
		return &agent.ToolResult{Content: fmt.Sprintf("Memory %d not found.", *params.MemoryID)}, nil
	}
	return &agent.ToolResult{Content: fmt.Sprintf("Memory %d forgotten.", *params.MemoryID)}, nil
}
