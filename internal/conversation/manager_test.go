package conversation

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/nexhearth/mimirgo/internal/agent"
	"github.com/nexhearth/mimirgo/internal/mode"
	"github.com/nexhearth/mimirgo/internal/models"
	"github.com/nexhearth/mimirgo/internal/ratelimit"
)

type fakeProvider struct {
	responses []*agent.CompletionResponse
	calls     int
	lastReq   *agent.CompletionRequest
}

func (f *fakeProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (*agent.CompletionResponse, error) {
	f.lastReq = req
	resp := f.responses[f.calls]
	f.calls++
	return resp, nil
}

func (f *fakeProvider) Stream(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	panic("not used in these tests")
}
func (f *fakeProvider) Name() string  { return "fake" }
func (f *fakeProvider) Model() string { return "fake-model" }

type echoTool struct{}

func (echoTool) Name() string                  { return "echo" }
func (echoTool) Description() string           { return "Echoes its input." }
func (echoTool) Schema() json.RawMessage       { return json.RawMessage(`{"type":"object"}`) }
func (echoTool) Execute(ctx context.Context, raw json.RawMessage) (*agent.ToolResult, error) {
	return &agent.ToolResult{Content: "echoed: " + string(raw)}, nil
}

type fakeAudit struct {
	messages []models.AuditLogEntry
	tools    []models.ToolExecutionEntry
}

func (f *fakeAudit) LogMessage(ctx context.Context, entry models.AuditLogEntry) (int64, error) {
	f.messages = append(f.messages, entry)
	return int64(len(f.messages)), nil
}
func (f *fakeAudit) LogToolExecution(ctx context.Context, entry models.ToolExecutionEntry) error {
	f.tools = append(f.tools, entry)
	return nil
}
func (f *fakeAudit) RecentMessages(ctx context.Context, sessionID string, limit int) ([]models.AuditLogEntry, error) {
	return f.messages, nil
}

func newTestManager(t *testing.T, provider *fakeProvider) (*Manager, *fakeAudit) {
	t.Helper()
	registry := agent.NewToolRegistry(nil, nil)
	if err := registry.Register(echoTool{}); err != nil {
		t.Fatalf("registering tool: %v", err)
	}
	audit := &fakeAudit{}
	modeManager := mode.NewManager(0)
	mgr := NewManager(provider, registry, modeManager, audit, nil, Config{}, nil)
	return mgr, audit
}

func testUser() models.UserContext {
	return models.UserContext{UserID: "42", Username: "alice", Source: "telegram"}
}

func TestProcessMessageReturnsFinalText(t *testing.T) {
	provider := &fakeProvider{responses: []*agent.CompletionResponse{
		{Content: "the kitchen light is on"},
	}}
	mgr, audit := newTestManager(t, provider)

	reply, err := mgr.ProcessMessage(context.Background(), "is the kitchen light on?", testUser())
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if reply != "the kitchen light is on" {
		t.Errorf("reply = %q", reply)
	}
	if len(audit.messages) != 2 {
		t.Errorf("expected 2 audit messages (user + assistant), got %d", len(audit.messages))
	}
}

func TestProcessMessageRunsToolLoop(t *testing.T) {
	provider := &fakeProvider{responses: []*agent.CompletionResponse{
		{ToolCalls: []models.ToolCall{{ID: "call_1", Name: "echo", Input: []byte(`{"x":1}`)}}},
		{Content: "done"},
	}}
	mgr, _ := newTestManager(t, provider)

	reply, err := mgr.ProcessMessage(context.Background(), "echo something", testUser())
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if reply != "done" {
		t.Errorf("reply = %q", reply)
	}
	if provider.calls != 2 {
		t.Errorf("expected 2 completion calls, got %d", provider.calls)
	}

	history := mgr.GetHistory(testUser())
	foundToolResult := false
	for _, msg := range history {
		if msg.Role == "tool" {
			foundToolResult = true
			if len(msg.ToolResults) != 1 || msg.ToolResults[0].Content != `echoed: {"x":1}` {
				t.Errorf("unexpected tool result message: %+v", msg.ToolResults)
			}
		}
	}
	if !foundToolResult {
		t.Error("expected a tool-result message in history")
	}
}

func TestProcessMessageHitsIterationLimit(t *testing.T) {
	responses := make([]*agent.CompletionResponse, 0, 3)
	for i := 0; i < 3; i++ {
		responses = append(responses, &agent.CompletionResponse{
			ToolCalls: []models.ToolCall{{ID: "call", Name: "echo", Input: []byte(`{}`)}},
		})
	}
	provider := &fakeProvider{responses: responses}
	registry := agent.NewToolRegistry(nil, nil)
	registry.Register(echoTool{})
	mgr := NewManager(provider, registry, mode.NewManager(0), nil, nil, Config{MaxToolIterations: 3}, nil)

	reply, err := mgr.ProcessMessage(context.Background(), "loop forever", testUser())
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if reply != iterationLimitFallback {
		t.Errorf("reply = %q, want iteration limit fallback", reply)
	}
}

func TestProcessMessageHandlesModeCommand(t *testing.T) {
	provider := &fakeProvider{}
	mgr, audit := newTestManager(t, provider)

	reply, err := mgr.ProcessMessage(context.Background(), "enable chat mode", testUser())
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if reply == "" {
		t.Error("expected a non-empty mode-change confirmation")
	}
	if provider.calls != 0 {
		t.Error("expected the LLM not to be called for a mode command")
	}
	if len(audit.messages) != 2 {
		t.Errorf("expected mode command to still be audited, got %d messages", len(audit.messages))
	}
}

func TestProcessMessageEmptyResponseFallsBack(t *testing.T) {
	provider := &fakeProvider{responses: []*agent.CompletionResponse{{Content: "   "}}}
	mgr, _ := newTestManager(t, provider)

	reply, err := mgr.ProcessMessage(context.Background(), "hello", testUser())
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if reply != emptyResponseFallback {
		t.Errorf("reply = %q, want empty-response fallback", reply)
	}
}

func TestGuardBlocksWriteInChatMode(t *testing.T) {
	modeManager := mode.NewManager(0)
	modeManager.SetMode(mode.Chat)
	limiter := ratelimit.New(ratelimit.Config{})
	guard := NewGuard(modeManager, limiter)

	allowed, reason := guard.Allow("call_service")
	if allowed {
		t.Fatal("expected call_service to be blocked in chat mode")
	}
	if reason == "" {
		t.Error("expected a non-empty block reason")
	}

	allowed, _ = guard.Allow("get_entities")
	if !allowed {
		t.Error("expected read-only tool to remain allowed in chat mode")
	}
}

func TestGuardEnforcesRateLimit(t *testing.T) {
	modeManager := mode.NewManager(0)
	limiter := ratelimit.New(ratelimit.Config{DeletionsPerHour: 1})
	guard := NewGuard(modeManager, limiter)

	allowed, _ := guard.Allow("delete_automation")
	if !allowed {
		t.Fatal("expected first deletion to be allowed")
	}
	guard.Record("delete_automation")

	allowed, reason := guard.Allow("delete_automation")
	if allowed {
		t.Error("expected second deletion to be rate limited")
	}
	if reason == "" {
		t.Error("expected a non-empty rate-limit reason")
	}
}

func TestRegistryExecutePrefixesModeDenialWithError(t *testing.T) {
	modeManager := mode.NewManager(0)
	modeManager.SetMode(mode.Chat)
	guard := NewGuard(modeManager, ratelimit.New(ratelimit.Config{}))

	registry := agent.NewToolRegistry(guard, nil)
	if err := registry.Register(echoTool{}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	// echo isn't in the tool-category map, so it defaults to Write and is
	// blocked in chat mode.
	result, err := registry.Execute(context.Background(), "echo", nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected the chat-mode denial to be reported as an error")
	}
	if !strings.HasPrefix(result.Content, "Error: ") {
		t.Errorf("content = %q, want it to start with %q", result.Content, "Error: ")
	}
}

func TestRegistryExecutePrefixesRateLimitDenialWithError(t *testing.T) {
	modeManager := mode.NewManager(0)
	limiter := ratelimit.New(ratelimit.Config{DeletionsPerHour: 1})
	guard := NewGuard(modeManager, limiter)

	registry := agent.NewToolRegistry(guard, nil)
	deleteTool := &fakeDeleteTool{}
	if err := registry.Register(deleteTool); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := registry.Execute(context.Background(), "delete_automation", nil); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	result, err := registry.Execute(context.Background(), "delete_automation", nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected the second deletion to be rejected")
	}
	if !strings.HasPrefix(result.Content, "Error: ") {
		t.Errorf("content = %q, want it to start with %q", result.Content, "Error: ")
	}
}

type fakeDeleteTool struct{}

func (fakeDeleteTool) Name() string            { return "delete_automation" }
func (fakeDeleteTool) Description() string     { return "Deletes an automation." }
func (fakeDeleteTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (fakeDeleteTool) Execute(ctx context.Context, raw json.RawMessage) (*agent.ToolResult, error) {
	return &agent.ToolResult{Content: "deleted"}, nil
}
