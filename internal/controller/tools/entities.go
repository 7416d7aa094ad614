package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nexhearth/mimirgo/internal/agent"
	"github.com/nexhearth/mimirgo/internal/controller"
)

const maxListedEntities = 50

// GetEntitiesTool lists entities, optionally filtered by domain and a free
// text search over entity id and friendly name.
type GetEntitiesTool struct {
	client *controller.Client
}

func (t *GetEntitiesTool) Name() string        { return "get_entities" }
func (t *GetEntitiesTool) Description() string {
	return "List entities in the smart-home controller. Can filter by domain (e.g. 'light', 'automation', 'switch'). Returns entity IDs, states, and friendly names."
}

func (t *GetEntitiesTool) Schema() json.RawMessage {
	return schema(map[string]any{
		"domain": stringParam("Filter by domain (e.g. 'light', 'automation', 'switch', 'sensor'). Leave empty for all entities."),
		"search": stringParam("Search term to filter entity IDs or friendly names."),
	})
}

func (t *GetEntitiesTool) Execute(ctx context.Context, raw json.RawMessage) (*agent.ToolResult, error) {
	params, err := decodeParams(raw)
	if err != nil {
		return agent.ErrorResult("invalid parameters: %v", err), nil
	}

	states, err := t.client.GetStates(ctx)
	if err != nil {
		return agent.ErrorResult("getting entities: %v", err), nil
	}

	states = filterByDomain(states, strings.ToLower(getString(params, "domain")))
	states = filterBySearch(states, getString(params, "search"))

	if len(states) == 0 {
		return &agent.ToolResult{Content: "No entities found matching the criteria."}, nil
	}

	shown := states
	truncated := false
	if len(shown) > maxListedEntities {
		shown = shown[:maxListedEntities]
		truncated = true
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d entities", len(states))
	if truncated {
		b.WriteString(" (showing first 50)")
	}
	b.WriteString(":\n")
	for _, s := range shown {
		name := friendlyName(s)
		if name != s.EntityID {
			fmt.Fprintf(&b, "- %s (%s): %s\n", s.EntityID, name, s.State)
		} else {
			fmt.Fprintf(&b, "- %s: %s\n", s.EntityID, s.State)
		}
	}
	return &agent.ToolResult{Content: strings.TrimRight(b.String(), "\n")}, nil
}

// GetEntityStateTool returns the full state and attributes of one entity.
type GetEntityStateTool struct {
	client *controller.Client
}

func (t *GetEntityStateTool) Name() string { return "get_entity_state" }
func (t *GetEntityStateTool) Description() string {
	return "Get the current state and attributes of a specific controller entity. Use this to check the detailed state of lights, sensors, automations, etc."
}

func (t *GetEntityStateTool) Schema() json.RawMessage {
	return schema(map[string]any{
		"entity_id": stringParam("The entity ID (e.g. 'light.bedroom', 'automation.motion_lights')."),
	}, "entity_id")
}

func (t *GetEntityStateTool) Execute(ctx context.Context, raw json.RawMessage) (*agent.ToolResult, error) {
	params, err := decodeParams(raw)
	if err != nil {
		return agent.ErrorResult("invalid parameters: %v", err), nil
	}
	entityID := getString(params, "entity_id")
	if entityID == "" {
		return agent.ErrorResult("entity_id is required."), nil
	}

	state, err := t.client.GetState(ctx, entityID)
	if err != nil {
		return agent.ErrorResult("getting entity state: %v", err), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Entity: %s\n", state.EntityID)
	fmt.Fprintf(&b, "State: %s\n", state.State)
	if !state.LastChanged.IsZero() {
		fmt.Fprintf(&b, "Last Changed: %s\n", state.LastChanged.Format("2006-01-02T15:04:05Z07:00"))
	}
	if len(state.Attributes) > 0 {
		b.WriteString("Attributes:\n")
		for k, v := range state.Attributes {
			fmt.Fprintf(&b, "  %s: %v\n", k, v)
		}
	}
	return &agent.ToolResult{Content: strings.TrimRight(b.String(), "\n")}, nil
}

// RenameEntityTool sets an entity's registry display name.
type RenameEntityTool struct {
	client *controller.Client
}

func (t *RenameEntityTool) Name() string { return "rename_entity" }
func (t *RenameEntityTool) Description() string {
	return "Rename an entity's friendly name in the entity registry."
}

func (t *RenameEntityTool) Schema() json.RawMessage {
	return schema(map[string]any{
		"entity_id": stringParam("The entity ID to rename (e.g. 'light.bedroom')."),
		"name":      stringParam("The new friendly name."),
	}, "entity_id", "name")
}

func (t *RenameEntityTool) Execute(ctx context.Context, raw json.RawMessage) (*agent.ToolResult, error) {
	params, err := decodeParams(raw)
	if err != nil {
		return agent.ErrorResult("invalid parameters: %v", err), nil
	}
	entityID := getString(params, "entity_id")
	name := getString(params, "name")
	if entityID == "" || name == "" {
		return agent.ErrorResult("entity_id and name are required."), nil
	}

	entry, err := t.client.UpdateEntityRegistry(ctx, entityID, controller.UpdateEntityRegistryOptions{Name: &name})
	if err != nil {
		return agent.ErrorResult("renaming entity: %v", err), nil
	}
	return &agent.ToolResult{Content: fmt.Sprintf("Entity '%s' renamed to '%s'.", entry.EntityID, name)}, nil
}

// AssignEntityAreaTool moves an entity to a different area.
type AssignEntityAreaTool struct {
	client *controller.Client
}

func (t *AssignEntityAreaTool) Name() string { return "assign_entity_area" }
func (t *AssignEntityAreaTool) Description() string {
	return "Assign an entity to an area (room) in the entity registry."
}

func (t *AssignEntityAreaTool) Schema() json.RawMessage {
	return schema(map[string]any{
		"entity_id": stringParam("The entity ID to move (e.g. 'light.bedroom')."),
		"area_id":   stringParam("The target area ID. Use an empty string to clear the area assignment."),
	}, "entity_id", "area_id")
}

func (t *AssignEntityAreaTool) Execute(ctx context.Context, raw json.RawMessage) (*agent.ToolResult, error) {
	params, err := decodeParams(raw)
	if err != nil {
		return agent.ErrorResult("invalid parameters: %v", err), nil
	}
	entityID := getString(params, "entity_id")
	if entityID == "" {
		return agent.ErrorResult("entity_id is required."), nil
	}
	areaID := getString(params, "area_id")

	entry, err := t.client.UpdateEntityRegistry(ctx, entityID, controller.UpdateEntityRegistryOptions{AreaID: &areaID})
	if err != nil {
		return agent.ErrorResult("assigning entity area: %v", err), nil
	}
	if areaID == "" {
		return &agent.ToolResult{Content: fmt.Sprintf("Entity '%s' area assignment cleared.", entry.EntityID)}, nil
	}
	return &agent.ToolResult{Content: fmt.Sprintf("Entity '%s' assigned to area '%s'.", entry.EntityID, areaID)}, nil
}

// AssignEntityLabelsTool replaces an entity's registry labels.
type AssignEntityLabelsTool struct {
	client *controller.Client
}

func (t *AssignEntityLabelsTool) Name() string { return "assign_entity_labels" }
func (t *AssignEntityLabelsTool) Description() string {
	return "Replace the set of labels assigned to an entity in the entity registry."
}

func (t *AssignEntityLabelsTool) Schema() json.RawMessage {
	return schema(map[string]any{
		"entity_id": stringParam("The entity ID to label (e.g. 'light.bedroom')."),
		"labels":    arrayParam("The full list of label IDs the entity should have, replacing any existing labels."),
	}, "entity_id", "labels")
}

func (t *AssignEntityLabelsTool) Execute(ctx context.Context, raw json.RawMessage) (*agent.ToolResult, error) {
	params, err := decodeParams(raw)
	if err != nil {
		return agent.ErrorResult("invalid parameters: %v", err), nil
	}
	entityID := getString(params, "entity_id")
	if entityID == "" {
		return agent.ErrorResult("entity_id is required."), nil
	}

	rawLabels, _ := params["labels"].([]any)
	labels := make([]string, 0, len(rawLabels))
	for _, l := range rawLabels {
		if s, ok := l.(string); ok {
			labels = append(labels, s)
		}
	}

	entry, err := t.client.UpdateEntityRegistry(ctx, entityID, controller.UpdateEntityRegistryOptions{Labels: labels})
	if err != nil {
		return agent.ErrorResult("assigning entity labels: %v", err), nil
	}
	return &agent.ToolResult{Content: fmt.Sprintf("Entity '%s' labels set to %v.", entry.EntityID, labels)}, nil
}
