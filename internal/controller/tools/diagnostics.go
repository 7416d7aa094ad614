package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nexhearth/mimirgo/internal/agent"
	"github.com/nexhearth/mimirgo/internal/controller"
)

const (
	defaultErrorLogLines = 50
	maxErrorLogLines     = 200
	defaultLogbookHours  = 24
	maxLogbookHours      = 168
	maxLogbookEntries    = 50
)

// GetErrorLogTool returns the controller's recent error log.
type GetErrorLogTool struct {
	client *controller.Client
}

func (t *GetErrorLogTool) Name() string { return "get_error_log" }
func (t *GetErrorLogTool) Description() string {
	return "Get the controller's error log. Shows recent errors and warnings. Use this to diagnose issues."
}

func (t *GetErrorLogTool) Schema() json.RawMessage {
	return schema(map[string]any{
		"lines": intParam("Number of lines to return (default 50, max 200)."),
	})
}

func (t *GetErrorLogTool) Execute(ctx context.Context, raw json.RawMessage) (*agent.ToolResult, error) {
	params, err := decodeParams(raw)
	if err != nil {
		return agent.ErrorResult("invalid parameters: %v", err), nil
	}
	lines := getInt(params, "lines", defaultErrorLogLines)
	if lines > maxErrorLogLines {
		lines = maxErrorLogLines
	}

	log, err := t.client.GetErrorLog(ctx)
	if err != nil {
		return agent.ErrorResult("getting error log: %v", err), nil
	}

	logLines := strings.Split(strings.TrimSpace(log), "\n")
	if len(logLines) > lines {
		logLines = logLines[len(logLines)-lines:]
	}
	if len(logLines) == 0 || (len(logLines) == 1 && logLines[0] == "") {
		return &agent.ToolResult{Content: "No errors in log."}, nil
	}

	return &agent.ToolResult{Content: fmt.Sprintf("Error log (last %d lines):\n%s", len(logLines), strings.Join(logLines, "\n"))}, nil
}

// GetLogbookTool returns recent logbook entries, optionally for one entity.
type GetLogbookTool struct {
	client *controller.Client
}

func (t *GetLogbookTool) Name() string { return "get_logbook" }
func (t *GetLogbookTool) Description() string {
	return "Get recent logbook entries showing what happened with entities. Use this to see the history of state changes and events."
}

func (t *GetLogbookTool) Schema() json.RawMessage {
	return schema(map[string]any{
		"entity_id": stringParam("Filter by entity ID (optional)."),
		"hours":     intParam("How many hours of history to retrieve (default 24, max 168)."),
	})
}

func (t *GetLogbookTool) Execute(ctx context.Context, raw json.RawMessage) (*agent.ToolResult, error) {
	params, err := decodeParams(raw)
	if err != nil {
		return agent.ErrorResult("invalid parameters: %v", err), nil
	}
	entityID := getString(params, "entity_id")
	hours := getInt(params, "hours", defaultLogbookHours)
	if hours > maxLogbookHours {
		hours = maxLogbookHours
	}

	startTime := time.Now().UTC().Add(-time.Duration(hours) * time.Hour).Format(time.RFC3339)

	entries, err := t.client.GetLogbook(ctx, entityID, startTime, "")
	if err != nil {
		return agent.ErrorResult("getting logbook: %v", err), nil
	}
	if len(entries) == 0 {
		return &agent.ToolResult{Content: "No logbook entries found for the specified criteria."}, nil
	}

	truncated := false
	if len(entries) > maxLogbookEntries {
		entries = entries[:maxLogbookEntries]
		truncated = true
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Logbook entries (last %d hours", hours)
	if entityID != "" {
		fmt.Fprintf(&b, ", entity: %s", entityID)
	}
	b.WriteString("):\n")
	for _, entry := range entries {
		when, _ := entry["when"].(string)
		if len(when) > 19 {
			when = when[:19]
		}
		name, _ := entry["name"].(string)
		if name == "" {
			name = "Unknown"
		}
		message, _ := entry["message"].(string)
		if message == "" {
			message, _ = entry["state"].(string)
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", when, name, message)
	}
	if truncated {
		b.WriteString("\n(Results limited to 50 entries)")
	}
	return &agent.ToolResult{Content: strings.TrimRight(b.String(), "\n")}, nil
}

// GetHistoryTool returns state-history samples for one or more entities.
type GetHistoryTool struct {
	client *controller.Client
}

func (t *GetHistoryTool) Name() string { return "get_history" }
func (t *GetHistoryTool) Description() string {
	return "Get historical state changes for one or more entities over a time window."
}

func (t *GetHistoryTool) Schema() json.RawMessage {
	return schema(map[string]any{
		"entity_ids": arrayParam("Entity IDs to fetch history for."),
		"hours":      intParam("How many hours of history to retrieve (default 24, max 168)."),
	}, "entity_ids")
}

func (t *GetHistoryTool) Execute(ctx context.Context, raw json.RawMessage) (*agent.ToolResult, error) {
	params, err := decodeParams(raw)
	if err != nil {
		return agent.ErrorResult("invalid parameters: %v", err), nil
	}

	rawIDs, _ := params["entity_ids"].([]any)
	entityIDs := make([]string, 0, len(rawIDs))
	for _, id := range rawIDs {
		if s, ok := id.(string); ok {
			entityIDs = append(entityIDs, s)
		}
	}
	if len(entityIDs) == 0 {
		return agent.ErrorResult("entity_ids is required."), nil
	}

	hours := getInt(params, "hours", defaultLogbookHours)
	if hours > maxLogbookHours {
		hours = maxLogbookHours
	}
	startTime := time.Now().UTC().Add(-time.Duration(hours) * time.Hour).Format(time.RFC3339)

	histories, err := t.client.GetHistory(ctx, entityIDs, startTime, "")
	if err != nil {
		return agent.ErrorResult("getting history: %v", err), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "History (last %d hours):\n", hours)
	for _, series := range histories {
		if len(series) == 0 {
			continue
		}
		fmt.Fprintf(&b, "%s:\n", series[0].EntityID)
		for _, sample := range series {
			fmt.Fprintf(&b, "  [%s] %s\n", sample.LastChanged.Format(time.RFC3339), sample.State)
		}
	}
	return &agent.ToolResult{Content: strings.TrimRight(b.String(), "\n")}, nil
}
