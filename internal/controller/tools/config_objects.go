package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nexhearth/mimirgo/internal/agent"
	"github.com/nexhearth/mimirgo/internal/controller"
	"github.com/nexhearth/mimirgo/internal/models"
)

// configObjectTools returns the list/get/create/update/delete tool family
// for one config object class (automation, script, or scene). The classes
// share one config API shape (config/<class>/config/<id>) and one
// internal-id resolution quirk: the entity's registry `id` attribute,
// not its entity_id, addresses the config endpoint, and only
// UI-created objects carry that attribute.
func configObjectTools(client *controller.Client, class models.ConfigObjectClass) []agent.Tool {
	return []agent.Tool{
		&listConfigObjectsTool{client: client, class: class},
		&getConfigObjectTool{client: client, class: class},
		&createConfigObjectTool{client: client, class: class},
		&updateConfigObjectTool{client: client, class: class},
		&deleteConfigObjectTool{client: client, class: class},
	}
}

type listConfigObjectsTool struct {
	client *controller.Client
	class  models.ConfigObjectClass
}

func (t *listConfigObjectsTool) Name() string { return "get_" + string(t.class) + "s" }
func (t *listConfigObjectsTool) Description() string {
	return fmt.Sprintf("List all %ss with their current state and last triggered time, if any.", t.class)
}

func (t *listConfigObjectsTool) Schema() json.RawMessage {
	return schema(map[string]any{
		"search": stringParam(fmt.Sprintf("Search term to filter %s names or IDs.", t.class)),
	})
}

func (t *listConfigObjectsTool) Execute(ctx context.Context, raw json.RawMessage) (*agent.ToolResult, error) {
	params, err := decodeParams(raw)
	if err != nil {
		return agent.ErrorResult("invalid parameters: %v", err), nil
	}

	states, err := t.client.GetStates(ctx)
	if err != nil {
		return agent.ErrorResult("getting %ss: %v", t.class, err), nil
	}
	states = filterByDomain(states, string(t.class))
	states = filterBySearch(states, getString(params, "search"))

	if len(states) == 0 {
		return &agent.ToolResult{Content: fmt.Sprintf("No %ss found matching the criteria.", t.class)}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d %ss:\n", len(states), t.class)
	for _, s := range states {
		status := "OFF"
		if s.State == "on" {
			status = "ON"
		}
		fmt.Fprintf(&b, "- [%s] %s (%s)\n", status, friendlyName(s), s.EntityID)
		if lastTriggered, ok := s.Attributes["last_triggered"]; ok {
			fmt.Fprintf(&b, "    Last triggered: %v\n", lastTriggered)
		}
	}
	return &agent.ToolResult{Content: strings.TrimRight(b.String(), "\n")}, nil
}

type getConfigObjectTool struct {
	client *controller.Client
	class  models.ConfigObjectClass
}

func (t *getConfigObjectTool) Name() string { return "get_" + string(t.class) + "_config" }
func (t *getConfigObjectTool) Description() string {
	return fmt.Sprintf("Get the full configuration of a %s. Use this to see its definition before modifying it. Only UI-created %ss can be retrieved this way.", t.class, t.class)
}

func (t *getConfigObjectTool) Schema() json.RawMessage {
	return schema(map[string]any{
		"entity_id": stringParam(fmt.Sprintf("The %s entity ID (e.g. '%s.example').", t.class, t.class)),
	}, "entity_id")
}

func (t *getConfigObjectTool) Execute(ctx context.Context, raw json.RawMessage) (*agent.ToolResult, error) {
	params, err := decodeParams(raw)
	if err != nil {
		return agent.ErrorResult("invalid parameters: %v", err), nil
	}
	entityID := qualifyEntityID(getString(params, "entity_id"), t.class)
	if entityID == string(t.class)+"." {
		return agent.ErrorResult("entity_id is required."), nil
	}

	internalID, errResult := t.resolveInternalID(ctx, entityID)
	if errResult != nil {
		return errResult, nil
	}

	config, err := t.client.GetConfigObject(ctx, t.class, internalID)
	if err != nil {
		return agent.ErrorResult("getting %s config: %v", t.class, err), nil
	}

	return &agent.ToolResult{Content: fmt.Sprintf(
		"Configuration for '%s' (internal ID: %s):\n\n```yaml\n%s```", entityID, internalID, toYAML(config),
	)}, nil
}

func (t *getConfigObjectTool) resolveInternalID(ctx context.Context, entityID string) (string, *agent.ToolResult) {
	return resolveInternalID(ctx, t.client, t.class, entityID)
}

type createConfigObjectTool struct {
	client *controller.Client
	class  models.ConfigObjectClass
}

func (t *createConfigObjectTool) Name() string { return "create_" + string(t.class) }
func (t *createConfigObjectTool) Description() string {
	return fmt.Sprintf("Create a new %s. Provide an id and full configuration. The config follows the controller's native %s YAML format.", t.class, t.class)
}

func (t *createConfigObjectTool) Schema() json.RawMessage {
	return schema(map[string]any{
		"id":          stringParam(fmt.Sprintf("Unique ID for the %s (lowercase, underscores).", t.class)),
		"alias":       stringParam("Human-readable name."),
		"description": stringParam(fmt.Sprintf("Description of what the %s does.", t.class)),
		"trigger":     arrayParam("List of triggers (automations only)."),
		"condition":   arrayParam("List of conditions (optional, automations only)."),
		"action":      arrayParam("List of actions / sequence steps."),
		"mode":        stringParam("Execution mode: 'single', 'restart', 'queued', or 'parallel'. Default 'single'."),
	}, "id", "alias", "action")
}

func (t *createConfigObjectTool) Execute(ctx context.Context, raw json.RawMessage) (*agent.ToolResult, error) {
	params, err := decodeParams(raw)
	if err != nil {
		return agent.ErrorResult("invalid parameters: %v", err), nil
	}
	id := getString(params, "id")
	alias := getString(params, "alias")
	action, _ := params["action"].([]any)
	if id == "" || alias == "" || len(action) == 0 {
		return agent.ErrorResult("id, alias, and action are required."), nil
	}

	config := buildObjectConfig(params, t.class)

	if _, err := t.client.PutConfigObject(ctx, t.class, id, config); err != nil {
		return agent.ErrorResult("creating %s: %v", t.class, err), nil
	}
	if _, err := t.client.CallService(ctx, string(t.class), "reload", nil, nil); err != nil {
		return agent.ErrorResult("%s created but reload failed: %v", t.class, err), nil
	}

	return &agent.ToolResult{Content: fmt.Sprintf(
		"%s '%s' (%s.%s) created successfully!\n\n```yaml\n%s```",
		strings.ToUpper(string(t.class[:1]))+string(t.class[1:]), alias, t.class, id, toYAML(config),
	)}, nil
}

type updateConfigObjectTool struct {
	client *controller.Client
	class  models.ConfigObjectClass
}

func (t *updateConfigObjectTool) Name() string { return "update_" + string(t.class) }
func (t *updateConfigObjectTool) Description() string {
	return fmt.Sprintf("Update an existing %s. First use get_%s_config to see the current config, then provide the full updated configuration.", t.class, t.class)
}

func (t *updateConfigObjectTool) Schema() json.RawMessage {
	return schema(map[string]any{
		"entity_id": stringParam(fmt.Sprintf("The %s entity ID to update.", t.class)),
		"config":    objectParam("Full replacement configuration (alias, trigger/action, condition, mode)."),
	}, "entity_id", "config")
}

func (t *updateConfigObjectTool) Execute(ctx context.Context, raw json.RawMessage) (*agent.ToolResult, error) {
	params, err := decodeParams(raw)
	if err != nil {
		return agent.ErrorResult("invalid parameters: %v", err), nil
	}
	entityID := qualifyEntityID(getString(params, "entity_id"), t.class)
	config, _ := params["config"].(map[string]any)
	if entityID == string(t.class)+"." || len(config) == 0 {
		return agent.ErrorResult("entity_id and config are required."), nil
	}
	if _, ok := config["alias"]; !ok {
		return agent.ErrorResult("config must include at least 'alias' and 'action'."), nil
	}
	if _, ok := config["action"]; !ok {
		return agent.ErrorResult("config must include at least 'alias' and 'action'."), nil
	}

	internalID, errResult := resolveInternalID(ctx, t.client, t.class, entityID)
	if errResult != nil {
		return errResult, nil
	}

	if _, err := t.client.PutConfigObject(ctx, t.class, internalID, config); err != nil {
		return agent.ErrorResult("updating %s: %v", t.class, err), nil
	}
	if _, err := t.client.CallService(ctx, string(t.class), "reload", nil, nil); err != nil {
		return agent.ErrorResult("%s updated but reload failed: %v", t.class, err), nil
	}

	return &agent.ToolResult{Content: fmt.Sprintf(
		"'%s' updated successfully!\n\n```yaml\n%s```", entityID, toYAML(config),
	)}, nil
}

type deleteConfigObjectTool struct {
	client *controller.Client
	class  models.ConfigObjectClass
}

func (t *deleteConfigObjectTool) Name() string { return "delete_" + string(t.class) }
func (t *deleteConfigObjectTool) Description() string {
	return fmt.Sprintf("Permanently delete a %s. Use with caution.", t.class)
}

func (t *deleteConfigObjectTool) Schema() json.RawMessage {
	return schema(map[string]any{
		"entity_id": stringParam(fmt.Sprintf("The %s entity ID to delete.", t.class)),
	}, "entity_id")
}

func (t *deleteConfigObjectTool) Execute(ctx context.Context, raw json.RawMessage) (*agent.ToolResult, error) {
	params, err := decodeParams(raw)
	if err != nil {
		return agent.ErrorResult("invalid parameters: %v", err), nil
	}
	entityID := qualifyEntityID(getString(params, "entity_id"), t.class)
	if entityID == string(t.class)+"." {
		return agent.ErrorResult("entity_id is required."), nil
	}

	internalID, errResult := resolveInternalID(ctx, t.client, t.class, entityID)
	if errResult != nil {
		return errResult, nil
	}

	if err := t.client.DeleteConfigObject(ctx, t.class, internalID); err != nil {
		return agent.ErrorResult("deleting %s: %v", t.class, err), nil
	}
	if _, err := t.client.CallService(ctx, string(t.class), "reload", nil, nil); err != nil {
		return agent.ErrorResult("%s deleted but reload failed: %v", t.class, err), nil
	}

	return &agent.ToolResult{Content: fmt.Sprintf("'%s' deleted successfully.", entityID)}, nil
}

// qualifyEntityID prefixes a bare id with "<class>." if it doesn't already
// carry the domain prefix, matching the controller's addressing convention.
func qualifyEntityID(entityID string, class models.ConfigObjectClass) string {
	prefix := string(class) + "."
	if entityID == "" {
		return prefix
	}
	if strings.HasPrefix(entityID, prefix) {
		return entityID
	}
	return prefix + entityID
}

// resolveInternalID looks up the registry `id` attribute the config API
// addresses the object by, which is distinct from its entity_id and only
// present on objects created through the UI.
func resolveInternalID(ctx context.Context, client *controller.Client, class models.ConfigObjectClass, entityID string) (string, *agent.ToolResult) {
	state, err := client.GetState(ctx, entityID)
	if err != nil {
		return "", agent.ErrorResult("looking up %s: %v", entityID, err)
	}
	internalID, ok := state.Attributes["id"].(string)
	if !ok || internalID == "" {
		return "", agent.ErrorResult(
			"%s '%s' does not have an internal ID. This usually means it was created via YAML files instead of the UI; only UI-created %ss can be modified through this API.",
			class, entityID, class,
		)
	}
	return internalID, nil
}

func buildObjectConfig(params map[string]any, class models.ConfigObjectClass) map[string]any {
	config := map[string]any{
		"alias":  getString(params, "alias"),
		"action": params["action"],
	}
	if class == models.ClassAutomation {
		config["trigger"] = params["trigger"]
		if condition, ok := params["condition"]; ok {
			config["condition"] = condition
		}
	}
	mode := getString(params, "mode")
	if mode == "" {
		mode = "single"
	}
	config["mode"] = mode
	if description := getString(params, "description"); description != "" {
		config["description"] = description
	}
	return config
}
