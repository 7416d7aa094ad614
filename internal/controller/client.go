// Package controller implements the REST and one-shot WebSocket surface
// of a Home-Assistant-like smart-home controller: entity/service
// lookups, service calls, and CRUD over automations, scripts, scenes,
// and helpers.
package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nexhearth/mimirgo/internal/models"
)

const (
	defaultTimeout          = 10 * time.Second
	defaultMaxResponseBytes = int64(1 << 20)
)

// APIError wraps a non-2xx HTTP response or a failed WebSocket command
// with the controller's status code and message.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("controller API error (%d): %s", e.Status, e.Message)
}

// Config configures a Client.
type Config struct {
	BaseURL          string
	Token            string
	Timeout          time.Duration
	MaxResponseBytes int64
	HTTPClient       *http.Client
}

// Client wraps the controller's REST API, plus the handful of registry
// operations that the controller only exposes over its WebSocket API.
type Client struct {
	baseURL  string // e.g. https://ha.local:8123/api
	token    string
	client   *http.Client
	maxBytes int64
}

// NewClient creates a controller client. baseURL is the controller's root
// URL (without a trailing "/api" — that suffix is added here).
func NewClient(cfg Config) (*Client, error) {
	root := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if root == "" {
		return nil, fmt.Errorf("controller: base_url is required")
	}
	parsed, err := url.Parse(root)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("controller: invalid base_url")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("controller: base_url scheme must be http or https")
	}

	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, fmt.Errorf("controller: token is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	maxBytes := cfg.MaxResponseBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxResponseBytes
	}

	return &Client{
		baseURL:  root + "/api",
		token:    token,
		client:   httpClient,
		maxBytes: maxBytes,
	}, nil
}

func (c *Client) doJSON(ctx context.Context, method, endpoint string, payload any) (json.RawMessage, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("controller: encode request body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+strings.TrimPrefix(endpoint, "/"), body)
	if err != nil {
		return nil, fmt.Errorf("controller: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("controller: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("controller: read response: %w", err)
	}
	if int64(len(data)) > c.maxBytes {
		return nil, fmt.Errorf("controller: response too large")
	}

	if resp.StatusCode >= 400 {
		msg := strings.TrimSpace(string(data))
		if msg == "" {
			msg = resp.Status
		}
		return nil, &APIError{Status: resp.StatusCode, Message: msg}
	}
	return json.RawMessage(data), nil
}

// Ping reports whether the controller is reachable and authenticated.
func (c *Client) Ping(ctx context.Context) bool {
	_, err := c.doJSON(ctx, http.MethodGet, "", nil)
	return err == nil
}

// GetConfig returns the controller's own configuration object.
func (c *Client) GetConfig(ctx context.Context) (map[string]any, error) {
	raw, err := c.doJSON(ctx, http.MethodGet, "config", nil)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("controller: decode config: %w", err)
	}
	return out, nil
}

// GetStates returns the current state of every entity.
func (c *Client) GetStates(ctx context.Context) ([]models.EntityState, error) {
	raw, err := c.doJSON(ctx, http.MethodGet, "states", nil)
	if err != nil {
		return nil, err
	}
	var wire []entityStateWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("controller: decode states: %w", err)
	}
	out := make([]models.EntityState, 0, len(wire))
	for _, w := range wire {
		out = append(out, w.toModel())
	}
	return out, nil
}

// GetState returns the current state of a single entity.
func (c *Client) GetState(ctx context.Context, entityID string) (*models.EntityState, error) {
	raw, err := c.doJSON(ctx, http.MethodGet, "states/"+url.PathEscape(entityID), nil)
	if err != nil {
		return nil, err
	}
	var w entityStateWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("controller: decode state: %w", err)
	}
	s := w.toModel()
	return &s, nil
}

// GetServices returns every service the controller exposes, grouped by domain.
func (c *Client) GetServices(ctx context.Context) (map[string][]models.Service, error) {
	raw, err := c.doJSON(ctx, http.MethodGet, "services", nil)
	if err != nil {
		return nil, err
	}
	var wire []struct {
		Domain   string                    `json:"domain"`
		Services map[string]map[string]any `json:"services"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("controller: decode services: %w", err)
	}
	out := make(map[string][]models.Service, len(wire))
	for _, domainData := range wire {
		services := make([]models.Service, 0, len(domainData.Services))
		for name, data := range domainData.Services {
			svc := models.Service{Domain: domainData.Domain, Service: name}
			if v, ok := data["name"].(string); ok {
				svc.Name = v
			}
			if v, ok := data["description"].(string); ok {
				svc.Description = v
			}
			if v, ok := data["fields"].(map[string]any); ok {
				svc.Fields = v
			}
			services = append(services, svc)
		}
		out[domainData.Domain] = services
	}
	return out, nil
}

// CallService invokes domain.service with the given data, merging target
// (entity_id/device_id/area_id selectors) directly into the request body.
func (c *Client) CallService(ctx context.Context, domain, service string, data, target map[string]any) ([]models.EntityState, error) {
	domain = strings.TrimSpace(domain)
	service = strings.TrimSpace(service)
	if domain == "" || service == "" {
		return nil, fmt.Errorf("controller: domain and service are required")
	}

	body := map[string]any{}
	for k, v := range data {
		body[k] = v
	}
	for k, v := range target {
		body[k] = v
	}

	raw, err := c.doJSON(ctx, http.MethodPost, "services/"+url.PathEscape(domain)+"/"+url.PathEscape(service), body)
	if err != nil {
		return nil, err
	}
	var wire []entityStateWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		// Not every service call returns changed-state objects; that's fine.
		return nil, nil
	}
	out := make([]models.EntityState, 0, len(wire))
	for _, w := range wire {
		out = append(out, w.toModel())
	}
	return out, nil
}

// GetErrorLog returns the controller's plain-text error log.
func (c *Client) GetErrorLog(ctx context.Context) (string, error) {
	raw, err := c.doJSON(ctx, http.MethodGet, "error_log", nil)
	if err != nil {
		return "", err
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	return string(raw), nil
}

// GetLogbook returns logbook entries, optionally filtered to one entity
// and/or a time range.
func (c *Client) GetLogbook(ctx context.Context, entityID, startTime, endTime string) ([]map[string]any, error) {
	endpoint := "logbook"
	if startTime != "" {
		endpoint += "/" + startTime
	}
	var params []string
	if entityID != "" {
		params = append(params, "entity="+url.QueryEscape(entityID))
	}
	if endTime != "" {
		params = append(params, "end_time="+url.QueryEscape(endTime))
	}
	if len(params) > 0 {
		endpoint += "?" + strings.Join(params, "&")
	}

	raw, err := c.doJSON(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("controller: decode logbook: %w", err)
	}
	return out, nil
}

// GetHistory returns state history for the given entities over a time range.
func (c *Client) GetHistory(ctx context.Context, entityIDs []string, startTime, endTime string) ([][]models.EntityState, error) {
	if len(entityIDs) == 0 {
		return nil, fmt.Errorf("controller: at least one entity_id is required")
	}
	endpoint := "history/period"
	if startTime != "" {
		endpoint += "/" + startTime
	}
	params := []string{"filter_entity_id=" + url.QueryEscape(strings.Join(entityIDs, ","))}
	if endTime != "" {
		params = append(params, "end_time="+url.QueryEscape(endTime))
	}
	endpoint += "?" + strings.Join(params, "&")

	raw, err := c.doJSON(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	var wire [][]entityStateWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("controller: decode history: %w", err)
	}
	out := make([][]models.EntityState, 0, len(wire))
	for _, series := range wire {
		states := make([]models.EntityState, 0, len(series))
		for _, w := range series {
			states = append(states, w.toModel())
		}
		out = append(out, states)
	}
	return out, nil
}

// SendTelegramMessage relays a message through the controller's own
// telegram_bot integration rather than a direct bot API call, so any
// controller-side routing (multiple chats, allow-lists) still applies.
func (c *Client) SendTelegramMessage(ctx context.Context, message string, chatID int64, target string) error {
	data := map[string]any{"message": message}
	switch {
	case chatID != 0:
		data["target"] = chatID
	case target != "":
		data["target"] = target
	}
	_, err := c.CallService(ctx, "telegram_bot", "send_message", data, nil)
	return err
}

// Config object CRUD: automations, scripts, scenes share one shape keyed
// by ConfigObjectClass; helpers additionally vary by helper type
// (input_boolean, input_number, ...) so they get their own methods.

// GetConfigObject fetches one automation/script/scene's stored configuration.
func (c *Client) GetConfigObject(ctx context.Context, class models.ConfigObjectClass, id string) (map[string]any, error) {
	id = class.StripPrefix(id)
	raw, err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("config/%s/config/%s", class, id), nil)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("controller: decode config object: %w", err)
	}
	return out, nil
}

// PutConfigObject creates or replaces one automation/script/scene's configuration.
func (c *Client) PutConfigObject(ctx context.Context, class models.ConfigObjectClass, id string, config map[string]any) (map[string]any, error) {
	id = class.StripPrefix(id)
	raw, err := c.doJSON(ctx, http.MethodPost, fmt.Sprintf("config/%s/config/%s", class, id), config)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("controller: decode config object result: %w", err)
	}
	return out, nil
}

// DeleteConfigObject deletes one automation/script/scene.
func (c *Client) DeleteConfigObject(ctx context.Context, class models.ConfigObjectClass, id string) error {
	id = class.StripPrefix(id)
	_, err := c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("config/%s/config/%s", class, id), nil)
	return err
}

// GetHelperConfig fetches a helper's (input_boolean, input_number, ...) configuration.
func (c *Client) GetHelperConfig(ctx context.Context, helperType, helperID string) (map[string]any, error) {
	helperID = strings.TrimPrefix(helperID, helperType+".")
	raw, err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("config/%s/config/%s", helperType, helperID), nil)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("controller: decode helper config: %w", err)
	}
	return out, nil
}

// PutHelperConfig creates or replaces a helper's configuration.
func (c *Client) PutHelperConfig(ctx context.Context, helperType, helperID string, config map[string]any) (map[string]any, error) {
	helperID = strings.TrimPrefix(helperID, helperType+".")
	raw, err := c.doJSON(ctx, http.MethodPost, fmt.Sprintf("config/%s/config/%s", helperType, helperID), config)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("controller: decode helper config result: %w", err)
	}
	return out, nil
}

// DeleteHelperConfig deletes a helper.
func (c *Client) DeleteHelperConfig(ctx context.Context, helperType, helperID string) error {
	helperID = strings.TrimPrefix(helperID, helperType+".")
	_, err := c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("config/%s/config/%s", helperType, helperID), nil)
	return err
}

// entityStateWire is the controller's wire shape for an entity state,
// with timestamps as RFC3339 strings rather than time.Time.
type entityStateWire struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged string         `json:"last_changed"`
	LastUpdated string         `json:"last_updated"`
}

func (w entityStateWire) toModel() models.EntityState {
	return models.EntityState{
		EntityID:    w.EntityID,
		State:       w.State,
		Attributes:  w.Attributes,
		LastChanged: parseControllerTime(w.LastChanged),
		LastUpdated: parseControllerTime(w.LastUpdated),
	}
}

func parseControllerTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// --- Registry operations (WebSocket-only) ---
//
// The controller doesn't expose entity/area/label registries over REST;
// each call here opens a short-lived WebSocket connection, authenticates,
// sends one command, reads one result, and closes. This is deliberately
// not the persistent connection the event bridge keeps open.

func (c *Client) wsURL() string {
	u := strings.Replace(c.baseURL, "/api", "/api/websocket", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	u = strings.Replace(u, "https://", "wss://", 1)
	return u
}

func (c *Client) wsCommand(ctx context.Context, commandType string, params map[string]any) (json.RawMessage, error) {
	dialer := websocket.Dialer{HandshakeTimeout: defaultTimeout}
	conn, _, err := dialer.DialContext(ctx, c.wsURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("controller: websocket dial: %w", err)
	}
	defer conn.Close()

	var hello struct{ Type string `json:"type"` }
	if err := conn.ReadJSON(&hello); err != nil {
		return nil, fmt.Errorf("controller: websocket handshake: %w", err)
	}
	if hello.Type != "auth_required" {
		return nil, fmt.Errorf("controller: expected auth_required, got %q", hello.Type)
	}

	if err := conn.WriteJSON(map[string]string{"type": "auth", "access_token": c.token}); err != nil {
		return nil, fmt.Errorf("controller: websocket auth: %w", err)
	}
	var authResp struct{ Type string `json:"type"` }
	if err := conn.ReadJSON(&authResp); err != nil {
		return nil, fmt.Errorf("controller: websocket auth response: %w", err)
	}
	if authResp.Type != "auth_ok" {
		return nil, &APIError{Status: 401, Message: "websocket authentication failed"}
	}

	command := map[string]any{"id": 1, "type": commandType}
	for k, v := range params {
		command[k] = v
	}
	if err := conn.WriteJSON(command); err != nil {
		return nil, fmt.Errorf("controller: websocket send command: %w", err)
	}

	var result struct {
		Success bool            `json:"success"`
		Result  json.RawMessage `json:"result"`
		Error   struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := conn.ReadJSON(&result); err != nil {
		return nil, fmt.Errorf("controller: websocket read result: %w", err)
	}
	if !result.Success {
		return nil, &APIError{Status: 0, Message: fmt.Sprintf("websocket command failed: %s", result.Error.Message)}
	}
	return result.Result, nil
}

// GetEntityRegistry lists every entity in the entity registry.
func (c *Client) GetEntityRegistry(ctx context.Context) ([]models.Entity, error) {
	raw, err := c.wsCommand(ctx, "config/entity_registry/list", nil)
	if err != nil {
		return nil, err
	}
	return decodeEntityList(raw)
}

// GetEntityRegistryEntry fetches one entity's registry entry.
func (c *Client) GetEntityRegistryEntry(ctx context.Context, entityID string) (*models.Entity, error) {
	raw, err := c.wsCommand(ctx, "config/entity_registry/get", map[string]any{"entity_id": entityID})
	if err != nil {
		return nil, err
	}
	var wire entityWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("controller: decode entity registry entry: %w", err)
	}
	e := wire.toModel()
	return &e, nil
}

// UpdateEntityRegistryOptions are the optional fields UpdateEntityRegistry
// may change; a nil pointer means "leave unchanged".
type UpdateEntityRegistryOptions struct {
	Name       *string
	AreaID     *string
	Labels     []string
	DisabledBy *string
	HiddenBy   *string
	Icon       *string
}

// UpdateEntityRegistry updates an entity's registry entry (name, area,
// labels, enabled/visible state, icon).
func (c *Client) UpdateEntityRegistry(ctx context.Context, entityID string, opts UpdateEntityRegistryOptions) (*models.Entity, error) {
	params := map[string]any{"entity_id": entityID}
	if opts.Name != nil {
		params["name"] = *opts.Name
	}
	if opts.AreaID != nil {
		if *opts.AreaID == "" {
			params["area_id"] = nil
		} else {
			params["area_id"] = *opts.AreaID
		}
	}
	if opts.Labels != nil {
		params["labels"] = opts.Labels
	}
	if opts.DisabledBy != nil {
		params["disabled_by"] = *opts.DisabledBy
	}
	if opts.HiddenBy != nil {
		params["hidden_by"] = *opts.HiddenBy
	}
	if opts.Icon != nil {
		params["icon"] = *opts.Icon
	}

	raw, err := c.wsCommand(ctx, "config/entity_registry/update", params)
	if err != nil {
		return nil, err
	}
	var wire entityWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("controller: decode updated entity: %w", err)
	}
	e := wire.toModel()
	return &e, nil
}

// Area is one entry in the controller's area registry.
type Area struct {
	AreaID string `json:"area_id"`
	Name   string `json:"name"`
}

// GetAreas lists every configured area.
func (c *Client) GetAreas(ctx context.Context) ([]Area, error) {
	raw, err := c.wsCommand(ctx, "config/area_registry/list", nil)
	if err != nil {
		return nil, err
	}
	var out []Area
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("controller: decode areas: %w", err)
	}
	return out, nil
}

// Label is one entry in the controller's label registry.
type Label struct {
	LabelID string `json:"label_id"`
	Name    string `json:"name"`
	Color   string `json:"color,omitempty"`
}

// GetLabels lists every configured label.
func (c *Client) GetLabels(ctx context.Context) ([]Label, error) {
	raw, err := c.wsCommand(ctx, "config/label_registry/list", nil)
	if err != nil {
		return nil, err
	}
	var out []Label
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("controller: decode labels: %w", err)
	}
	return out, nil
}

type entityWire struct {
	EntityID string   `json:"entity_id"`
	Name     string   `json:"name"`
	AreaID   string   `json:"area_id"`
	DeviceID string   `json:"device_id"`
	Platform string   `json:"platform"`
	Labels   []string `json:"labels"`
}

func (w entityWire) toModel() models.Entity {
	return models.Entity{
		EntityID: w.EntityID,
		Name:     w.Name,
		AreaID:   w.AreaID,
		DeviceID: w.DeviceID,
		Platform: w.Platform,
		Labels:   w.Labels,
	}
}

func decodeEntityList(raw json.RawMessage) ([]models.Entity, error) {
	var wire []entityWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("controller: decode entity registry: %w", err)
	}
	out := make([]models.Entity, 0, len(wire))
	for _, w := range wire {
		out = append(out, w.toModel())
	}
	return out, nil
}
