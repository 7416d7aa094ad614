// Package tools adapts internal/controller.Client into agent.Tool
// implementations: the callable surface the LLM planning loop actually
// invokes to read and mutate the smart-home controller's state.
package tools

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nexhearth/mimirgo/internal/agent"
	"github.com/nexhearth/mimirgo/internal/controller"
	"github.com/nexhearth/mimirgo/internal/models"
)

// All returns every controller-backed tool, ready to register on an
// agent.ToolRegistry.
func All(client *controller.Client) []agent.Tool {
	tools := []agent.Tool{
		&GetEntitiesTool{client: client},
		&GetEntityStateTool{client: client},
		&CallServiceTool{client: client},
		&GetServicesTool{client: client},
		&GetErrorLogTool{client: client},
		&GetLogbookTool{client: client},
		&GetHistoryTool{client: client},
		&RenameEntityTool{client: client},
		&AssignEntityAreaTool{client: client},
		&AssignEntityLabelsTool{client: client},
		&GetHelpersTool{client: client},
		&CreateHelperTool{client: client},
		&DeleteHelperTool{client: client},
	}
	tools = append(tools, configObjectTools(client, models.ClassAutomation)...)
	tools = append(tools, configObjectTools(client, models.ClassScript)...)
	tools = append(tools, configObjectTools(client, models.ClassScene)...)
	return tools
}

func schema(properties map[string]any, required ...string) json.RawMessage {
	if required == nil {
		required = []string{}
	}
	raw, err := json.Marshal(map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	})
	if err != nil {
		panic("tools: failed to marshal static schema: " + err.Error())
	}
	return raw
}

func stringParam(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func intParam(description string) map[string]any {
	return map[string]any{"type": "integer", "description": description}
}

func objectParam(description string) map[string]any {
	return map[string]any{"type": "object", "description": description}
}

func arrayParam(description string) map[string]any {
	return map[string]any{"type": "array", "description": description}
}

func getString(params map[string]any, key string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}

func getInt(params map[string]any, key string, def int) int {
	v, ok := params[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return def
	}
}

func decodeParams(raw json.RawMessage) (map[string]any, error) {
	var params map[string]any
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, err
	}
	return params, nil
}

func friendlyName(state models.EntityState) string {
	if name, ok := state.Attributes["friendly_name"].(string); ok && name != "" {
		return name
	}
	return state.EntityID
}

func filterByDomain(states []models.EntityState, domain string) []models.EntityState {
	if domain == "" {
		return states
	}
	prefix := domain + "."
	filtered := make([]models.EntityState, 0, len(states))
	for _, s := range states {
		if strings.HasPrefix(s.EntityID, prefix) {
			filtered = append(filtered, s)
		}
	}
	return filtered
}

func filterBySearch(states []models.EntityState, search string) []models.EntityState {
	if search == "" {
		return states
	}
	search = strings.ToLower(search)
	filtered := make([]models.EntityState, 0, len(states))
	for _, s := range states {
		if strings.Contains(strings.ToLower(s.EntityID), search) ||
			strings.Contains(strings.ToLower(friendlyName(s)), search) {
			filtered = append(filtered, s)
		}
	}
	return filtered
}

func toYAML(v any) string {
	out, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(out)
}

func sortedDomains(services map[string][]models.Service) []string {
	domains := make([]string, 0, len(services))
	for d := range services {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	return domains
}
