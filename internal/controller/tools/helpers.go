package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nexhearth/mimirgo/internal/agent"
	"github.com/nexhearth/mimirgo/internal/controller"
)

var helperTypes = []string{
	"input_boolean", "input_number", "input_text", "input_select", "input_datetime", "input_button",
}

// GetHelpersTool lists helper entities (input_boolean, input_number, ...)
// by filtering entity state across every known helper domain.
type GetHelpersTool struct {
	client *controller.Client
}

func (t *GetHelpersTool) Name() string { return "get_helpers" }
func (t *GetHelpersTool) Description() string {
	return "List helper entities (input_boolean, input_number, input_text, input_select, input_datetime, input_button)."
}

func (t *GetHelpersTool) Schema() json.RawMessage {
	return schema(map[string]any{
		"helper_type": stringParam("Restrict to one helper type (e.g. 'input_boolean'). Leave empty for all helper types."),
		"search":      stringParam("Search term to filter helper names or IDs."),
	})
}

func (t *GetHelpersTool) Execute(ctx context.Context, raw json.RawMessage) (*agent.ToolResult, error) {
	params, err := decodeParams(raw)
	if err != nil {
		return agent.ErrorResult("invalid parameters: %v", err), nil
	}

	states, err := t.client.GetStates(ctx)
	if err != nil {
		return agent.ErrorResult("getting helpers: %v", err), nil
	}

	helperType := getString(params, "helper_type")
	types := helperTypes
	if helperType != "" {
		types = []string{helperType}
	}

	var matched []string
	for _, s := range filterBySearch(states, getString(params, "search")) {
		for _, ht := range types {
			if strings.HasPrefix(s.EntityID, ht+".") {
				matched = append(matched, fmt.Sprintf("- %s (%s): %s", s.EntityID, friendlyName(s), s.State))
				break
			}
		}
	}

	if len(matched) == 0 {
		return &agent.ToolResult{Content: "No helpers found matching the criteria."}, nil
	}
	return &agent.ToolResult{Content: fmt.Sprintf("Found %d helpers:\n%s", len(matched), strings.Join(matched, "\n"))}, nil
}

// CreateHelperTool creates or replaces a helper's configuration.
type CreateHelperTool struct {
	client *controller.Client
}

func (t *CreateHelperTool) Name() string { return "create_helper" }
func (t *CreateHelperTool) Description() string {
	return "Create or replace a helper (input_boolean, input_number, input_text, input_select, input_datetime, input_button)."
}

func (t *CreateHelperTool) Schema() json.RawMessage {
	return schema(map[string]any{
		"helper_type": stringParam("Helper type (e.g. 'input_boolean')."),
		"helper_id":   stringParam("Unique ID for the helper (without the type prefix)."),
		"config":      objectParam("Helper configuration (e.g. {\"name\": \"Vacation Mode\"})."),
	}, "helper_type", "helper_id", "config")
}

func (t *CreateHelperTool) Execute(ctx context.Context, raw json.RawMessage) (*agent.ToolResult, error) {
	params, err := decodeParams(raw)
	if err != nil {
		return agent.ErrorResult("invalid parameters: %v", err), nil
	}
	helperType := getString(params, "helper_type")
	helperID := getString(params, "helper_id")
	config, _ := params["config"].(map[string]any)
	if helperType == "" || helperID == "" || len(config) == 0 {
		return agent.ErrorResult("helper_type, helper_id, and config are required."), nil
	}

	if _, err := t.client.PutHelperConfig(ctx, helperType, helperID, config); err != nil {
		return agent.ErrorResult("creating helper: %v", err), nil
	}
	return &agent.ToolResult{Content: fmt.Sprintf("Helper '%s.%s' created successfully.", helperType, helperID)}, nil
}

// DeleteHelperTool deletes a helper.
type DeleteHelperTool struct {
	client *controller.Client
}

func (t *DeleteHelperTool) Name() string { return "delete_helper" }
func (t *DeleteHelperTool) Description() string {
	return "Permanently delete a helper entity. Use with caution."
}

func (t *DeleteHelperTool) Schema() json.RawMessage {
	return schema(map[string]any{
		"helper_type": stringParam("Helper type (e.g. 'input_boolean')."),
		"helper_id":   stringParam("The helper ID to delete (without the type prefix)."),
	}, "helper_type", "helper_id")
}

func (t *DeleteHelperTool) Execute(ctx context.Context, raw json.RawMessage) (*agent.ToolResult, error) {
	params, err := decodeParams(raw)
	if err != nil {
		return agent.ErrorResult("invalid parameters: %v", err), nil
	}
	helperType := getString(params, "helper_type")
	helperID := getString(params, "helper_id")
	if helperType == "" || helperID == "" {
		return agent.ErrorResult("helper_type and helper_id are required."), nil
	}

	if err := t.client.DeleteHelperConfig(ctx, helperType, helperID); err != nil {
		return agent.ErrorResult("deleting helper: %v", err), nil
	}
	return &agent.ToolResult{Content: fmt.Sprintf("Helper '%s.%s' deleted successfully.", helperType, helperID)}, nil
}
