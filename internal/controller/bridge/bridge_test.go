package bridge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nexhearth/mimirgo/internal/models"
)

// fakeControllerServer runs a minimal Home-Assistant-style WebSocket
// endpoint: it performs the auth handshake and then hands the connection to
// afterAuth, which plays out whatever subscribe_events response the test
// wants to exercise.
func fakeControllerServer(t *testing.T, afterAuth func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if err := conn.WriteJSON(map[string]string{"type": "auth_required"}); err != nil {
			return
		}
		var authMsg struct {
			Type string `json:"type"`
		}
		if err := conn.ReadJSON(&authMsg); err != nil {
			return
		}
		if err := conn.WriteJSON(map[string]string{"type": "auth_ok"}); err != nil {
			return
		}

		afterAuth(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestConnectAndServeWaitsForSubscribeConfirmation(t *testing.T) {
	confirmed := make(chan struct{})
	srv := fakeControllerServer(t, func(conn *websocket.Conn) {
		var cmd struct {
			ID   int64  `json:"id"`
			Type string `json:"type"`
		}
		if err := conn.ReadJSON(&cmd); err != nil || cmd.Type != "subscribe_events" {
			return
		}
		conn.WriteJSON(map[string]any{"id": cmd.ID, "type": "result", "success": true})
		close(confirmed)
		// Keep the connection open until the test cancels ctx.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	b := New(srv.URL, "token", nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	var connected bool
	go func() { done <- b.connectAndServe(ctx, &connected) }()

	select {
	case <-confirmed:
	case <-time.After(2 * time.Second):
		t.Fatal("server never received subscribe_events")
	}

	// Give connectAndServe a moment to process the result frame before
	// tearing the connection down.
	time.Sleep(50 * time.Millisecond)
	if !b.IsConnected() {
		t.Error("expected bridge to report connected once subscribe_events was confirmed")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("connectAndServe did not return after ctx was cancelled")
	}
}

func TestConnectAndServeFailsWhenSubscribeIsRejected(t *testing.T) {
	srv := fakeControllerServer(t, func(conn *websocket.Conn) {
		var cmd struct {
			ID   int64  `json:"id"`
			Type string `json:"type"`
		}
		if err := conn.ReadJSON(&cmd); err != nil || cmd.Type != "subscribe_events" {
			return
		}
		conn.WriteJSON(map[string]any{
			"id":      cmd.ID,
			"type":    "result",
			"success": false,
			"error":   map[string]string{"message": "unknown_command"},
		})
	})

	b := New(srv.URL, "token", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var connected bool
	err := b.connectAndServe(ctx, &connected)
	if err == nil {
		t.Fatal("expected an error when subscribe_events is rejected")
	}
	if !strings.Contains(err.Error(), "rejected") {
		t.Errorf("error = %v, want it to mention the rejection", err)
	}
	if connected {
		t.Error("expected the bridge not to report a successful connection on a rejected subscription")
	}
	if b.IsConnected() {
		t.Error("expected IsConnected to remain false after a rejected subscription")
	}
}

func TestWsURLFromBase(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"https no trailing slash", "https://home.example.com", "wss://home.example.com/api/websocket"},
		{"http with trailing slash", "http://10.0.0.5:8123/", "ws://10.0.0.5:8123/api/websocket"},
		{"strips every trailing slash", "http://10.0.0.5:8123//", "ws://10.0.0.5:8123/api/websocket"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := wsURLFromBase(tc.in); got != tc.want {
				t.Errorf("wsURLFromBase(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestDispatchCombinesSpecificAndCatchAllHandlers(t *testing.T) {
	b := New("http://localhost:8123", "token", nil)

	var mu sync.Mutex
	var seen []string

	b.OnEvent("state_changed", func(ctx context.Context, event models.ControllerEvent) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, "specific")
	})
	b.OnEvent("*", func(ctx context.Context, event models.ControllerEvent) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, "catch-all")
	})

	b.dispatch(context.Background(), models.ControllerEvent{EventType: "state_changed"})

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 {
		t.Fatalf("expected both handlers invoked, got %v", seen)
	}
}

func TestDispatchRecoversFromHandlerPanic(t *testing.T) {
	b := New("http://localhost:8123", "token", nil)

	called := false
	b.OnEvent("*", func(ctx context.Context, event models.ControllerEvent) {
		panic("boom")
	})
	b.OnEvent("*", func(ctx context.Context, event models.ControllerEvent) {
		called = true
	})

	b.dispatch(context.Background(), models.ControllerEvent{EventType: "anything"})

	if !called {
		t.Error("expected second handler to still run after first panicked")
	}
}

func TestIsConnectedDefaultsFalse(t *testing.T) {
	b := New("http://localhost:8123", "token", nil)
	if b.IsConnected() {
		t.Error("expected new bridge to report not connected")
	}
}

func TestSendCommandFailsWhenNotConnected(t *testing.T) {
	b := New("http://localhost:8123", "token", nil)
	if _, err := b.SendCommand(context.Background(), "call_service", nil); err == nil {
		t.Error("expected error when sending a command with no live connection")
	}
}
