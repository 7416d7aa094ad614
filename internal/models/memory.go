package models

import "time"

// MemoryCategory is the closed set of categories a stored memory can belong
// to. The set mirrors the "store_memory" tool's own enum, not an invented
// taxonomy.
type MemoryCategory string

const (
	MemoryUserPreference MemoryCategory = "user_preference"
	MemoryDeviceInfo     MemoryCategory = "device_info"
	MemoryAutomationNote MemoryCategory = "automation_note"
	MemoryHomeLayout     MemoryCategory = "home_layout"
	MemoryRoutine        MemoryCategory = "routine"
	MemoryGeneral        MemoryCategory = "general"
)

// ValidMemoryCategories lists every category accepted by the memory store,
// in the order they should be presented to the LLM in tool schemas.
var ValidMemoryCategories = []MemoryCategory{
	MemoryUserPreference,
	MemoryDeviceInfo,
	MemoryAutomationNote,
	MemoryHomeLayout,
	MemoryRoutine,
	MemoryGeneral,
}

// IsValidMemoryCategory reports whether c is one of ValidMemoryCategories.
func IsValidMemoryCategory(c MemoryCategory) bool {
	for _, v := range ValidMemoryCategories {
		if v == c {
			return true
		}
	}
	return false
}

// Memory is one stored, long-term fact or preference.
type Memory struct {
	ID        int64          `json:"id"`
	Content   string         `json:"content"`
	Category  MemoryCategory `json:"category"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditLogEntry is one append-only record of an inbound or outbound message.
type AuditLogEntry struct {
	ID             int64             `json:"id"`
	Timestamp      time.Time         `json:"timestamp"`
	Source         string            `json:"source"` // "telegram", "web", "system"
	UserID         string            `json:"user_id,omitempty"`
	SessionID      string            `json:"session_id,omitempty"`
	MessageType    string            `json:"message_type"` // "user", "assistant", "tool", "error"
	Content        string            `json:"content"`
	Metadata       map[string]any    `json:"metadata,omitempty"`
	ToolExecutions []ToolExecutionEntry `json:"tool_executions,omitempty"`
}

// ToolExecutionEntry is one record of a tool call made during a turn.
type ToolExecutionEntry struct {
	ID           int64          `json:"id"`
	AuditLogID   int64          `json:"audit_log_id,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
	ToolName     string         `json:"tool_name"`
	Parameters   map[string]any `json:"parameters,omitempty"`
	Result       string         `json:"result,omitempty"`
	DurationMs   int64          `json:"duration_ms"`
	Success      bool           `json:"success"`
	ErrorMessage string         `json:"error_message,omitempty"`
}

// ToolCall is a single tool invocation requested by an LLM.
type ToolCall struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Input []byte `json:"input"` // raw JSON arguments
}
