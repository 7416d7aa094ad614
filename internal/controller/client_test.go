package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nexhearth/mimirgo/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	c, err := NewClient(Config{BaseURL: srv.URL, Token: "test-token"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c, srv
}

func TestNewClientRequiresBaseURLAndToken(t *testing.T) {
	if _, err := NewClient(Config{Token: "x"}); err == nil {
		t.Error("expected error for missing base_url")
	}
	if _, err := NewClient(Config{BaseURL: "http://localhost:8123"}); err == nil {
		t.Error("expected error for missing token")
	}
	if _, err := NewClient(Config{BaseURL: "not-a-url", Token: "x"}); err == nil {
		t.Error("expected error for invalid base_url")
	}
}

func TestPing(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Errorf("missing bearer auth header, got %q", r.Header.Get("Authorization"))
		}
		w.Write([]byte(`{"message": "API running."}`))
	})
	defer srv.Close()

	if !c.Ping(context.Background()) {
		t.Error("expected ping to succeed")
	}
}

func TestGetStatesDecodesTimestamps(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/states" {
			t.Errorf("path = %q, want /api/states", r.URL.Path)
		}
		json.NewEncoder(w).Encode([]map[string]any{
			{
				"entity_id":    "light.kitchen",
				"state":        "on",
				"attributes":   map[string]any{"brightness": 200},
				"last_changed": "2026-01-01T12:00:00+00:00",
				"last_updated": "2026-01-01T12:00:00+00:00",
			},
		})
	})
	defer srv.Close()

	states, err := c.GetStates(context.Background())
	if err != nil {
		t.Fatalf("GetStates: %v", err)
	}
	if len(states) != 1 || states[0].EntityID != "light.kitchen" {
		t.Fatalf("unexpected states: %+v", states)
	}
	if states[0].LastChanged.IsZero() {
		t.Error("expected last_changed to be parsed")
	}
}

func TestCallServiceMergesTargetIntoBody(t *testing.T) {
	var gotBody map[string]any
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/services/light/turn_on" {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`[]`))
	})
	defer srv.Close()

	_, err := c.CallService(context.Background(), "light", "turn_on",
		map[string]any{"brightness": 200},
		map[string]any{"entity_id": "light.kitchen"})
	if err != nil {
		t.Fatalf("CallService: %v", err)
	}
	if gotBody["entity_id"] != "light.kitchen" || gotBody["brightness"] != float64(200) {
		t.Errorf("unexpected merged body: %+v", gotBody)
	}
}

func TestGetConfigObjectStripsPrefix(t *testing.T) {
	var gotPath string
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{"alias": "test"}`))
	})
	defer srv.Close()

	_, err := c.GetConfigObject(context.Background(), models.ClassAutomation, "automation.morning_lights")
	if err != nil {
		t.Fatalf("GetConfigObject: %v", err)
	}
	if gotPath != "/api/config/automation/config/morning_lights" {
		t.Errorf("path = %q, want prefix stripped", gotPath)
	}
}

func TestErrorResponseBecomesAPIError(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("entity not found"))
	})
	defer srv.Close()

	_, err := c.GetState(context.Background(), "light.missing")
	if err == nil {
		t.Fatal("expected an error for a 404 response")
	}
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if apiErr.Status != http.StatusNotFound {
		t.Errorf("status = %d, want 404", apiErr.Status)
	}
}
