package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nexhearth/mimirgo/internal/agent"
	"github.com/nexhearth/mimirgo/internal/controller"
)

// CallServiceTool calls a domain.service on the controller, optionally
// targeting one entity with additional service data.
type CallServiceTool struct {
	client *controller.Client
}

func (t *CallServiceTool) Name() string { return "call_service" }
func (t *CallServiceTool) Description() string {
	return "Call a controller service. Use this to control devices, trigger automations, run scripts, etc."
}

func (t *CallServiceTool) Schema() json.RawMessage {
	return schema(map[string]any{
		"domain":       stringParam("Service domain (e.g. 'light', 'automation', 'switch', 'script')."),
		"service":      stringParam("Service name (e.g. 'turn_on', 'turn_off', 'toggle', 'trigger')."),
		"entity_id":    stringParam("Target entity ID (e.g. 'light.bedroom')."),
		"service_data": objectParam("Additional service data (e.g. {\"brightness\": 255} for lights)."),
	}, "domain", "service")
}

func (t *CallServiceTool) Execute(ctx context.Context, raw json.RawMessage) (*agent.ToolResult, error) {
	params, err := decodeParams(raw)
	if err != nil {
		return agent.ErrorResult("invalid parameters: %v", err), nil
	}
	domain := getString(params, "domain")
	service := getString(params, "service")
	if domain == "" || service == "" {
		return agent.ErrorResult("domain and service are required."), nil
	}

	data, _ := params["service_data"].(map[string]any)

	var target map[string]any
	if entityID := getString(params, "entity_id"); entityID != "" {
		target = map[string]any{"entity_id": entityID}
	}

	affected, err := t.client.CallService(ctx, domain, service, data, target)
	if err != nil {
		return agent.ErrorResult("calling service: %v", err), nil
	}

	if len(affected) == 0 {
		return &agent.ToolResult{Content: fmt.Sprintf("Service %s.%s called successfully.", domain, service)}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Service %s.%s called successfully. Affected entities:\n", domain, service)
	for _, s := range affected {
		fmt.Fprintf(&b, "%s: %s\n", s.EntityID, s.State)
	}
	return &agent.ToolResult{Content: strings.TrimRight(b.String(), "\n")}, nil
}

const maxServicesPerDomainListed = 5

// GetServicesTool lists services available for a domain, or every domain.
type GetServicesTool struct {
	client *controller.Client
}

func (t *GetServicesTool) Name() string { return "get_services" }
func (t *GetServicesTool) Description() string {
	return "List available services for a domain. Shows what actions can be performed. Leave domain empty to list all domains."
}

func (t *GetServicesTool) Schema() json.RawMessage {
	return schema(map[string]any{
		"domain": stringParam("Service domain to list (e.g. 'light', 'automation', 'switch'). Leave empty to list all domains."),
	})
}

func (t *GetServicesTool) Execute(ctx context.Context, raw json.RawMessage) (*agent.ToolResult, error) {
	params, err := decodeParams(raw)
	if err != nil {
		return agent.ErrorResult("invalid parameters: %v", err), nil
	}
	domainFilter := strings.ToLower(getString(params, "domain"))

	services, err := t.client.GetServices(ctx)
	if err != nil {
		return agent.ErrorResult("getting services: %v", err), nil
	}

	if domainFilter != "" {
		if _, ok := services[domainFilter]; !ok {
			return &agent.ToolResult{Content: fmt.Sprintf("No services found for domain '%s'.", domainFilter)}, nil
		}
	}

	if len(services) == 0 {
		return &agent.ToolResult{Content: "No services found."}, nil
	}

	var b strings.Builder
	b.WriteString("Available services:\n")
	for _, domain := range sortedDomains(services) {
		if domainFilter != "" && domain != domainFilter {
			continue
		}
		svcs := services[domain]
		if domainFilter != "" || len(svcs) <= maxServicesPerDomainListed {
			fmt.Fprintf(&b, "\n%s:\n", domain)
			for _, svc := range svcs {
				desc := svc.Description
				if len(desc) > 80 {
					desc = desc[:80] + "..."
				}
				fmt.Fprintf(&b, "  - %s: %s\n", svc.Service, desc)
			}
		} else {
			fmt.Fprintf(&b, "%s: %d services\n", domain, len(svcs))
		}
	}
	return &agent.ToolResult{Content: strings.TrimRight(b.String(), "\n")}, nil
}
