package agent

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

type fakeTool struct {
	name    string
	schema  json.RawMessage
	result  *ToolResult
	err     error
	panic   any
	execd   bool
}

func (t *fakeTool) Name() string             { return t.name }
func (t *fakeTool) Description() string      { return "fake tool for tests" }
func (t *fakeTool) Schema() json.RawMessage  { return t.schema }
func (t *fakeTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	t.execd = true
	if t.panic != nil {
		panic(t.panic)
	}
	if t.err != nil {
		return nil, t.err
	}
	return t.result, nil
}

type fixedGuard struct {
	allowed  bool
	reason   string
	recorded []string
}

func (g *fixedGuard) Allow(toolName string) (bool, string) {
	return g.allowed, g.reason
}

func (g *fixedGuard) Record(toolName string) {
	g.recorded = append(g.recorded, toolName)
}

func TestExecuteUnknownToolIsCapitalizedAndErrorPrefixed(t *testing.T) {
	r := NewToolRegistry(nil, nil)

	result, err := r.Execute(context.Background(), "does_not_exist", nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected an error result for an unknown tool")
	}
	if !strings.HasPrefix(result.Content, "Error: Unknown tool") {
		t.Errorf("content = %q, want it to start with %q", result.Content, "Error: Unknown tool")
	}
}

func TestExecuteGuardDenialIsErrorPrefixed(t *testing.T) {
	tool := &fakeTool{name: "delete_automation", result: &ToolResult{Content: "deleted"}}
	guard := &fixedGuard{allowed: false, reason: "Rate limit exceeded: 5/5 deletions in the last hour."}

	r := NewToolRegistry(guard, nil)
	if err := r.Register(tool); err != nil {
		t.Fatalf("Register: %v", err)
	}

	result, err := r.Execute(context.Background(), "delete_automation", nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected a denial to be reported as an error result")
	}
	wantPrefix := "Error: " + guard.reason
	if result.Content != wantPrefix {
		t.Errorf("content = %q, want %q", result.Content, wantPrefix)
	}
	if tool.execd {
		t.Error("tool should not have run when the guard denied the call")
	}
	if len(guard.recorded) != 0 {
		t.Error("guard.Record should not be called for a denied call")
	}
}

func TestExecuteAllowedCallRecordsAndRuns(t *testing.T) {
	tool := &fakeTool{name: "get_entities", result: &ToolResult{Content: "ok"}}
	guard := &fixedGuard{allowed: true}

	r := NewToolRegistry(guard, nil)
	if err := r.Register(tool); err != nil {
		t.Fatalf("Register: %v", err)
	}

	result, err := r.Execute(context.Background(), "get_entities", nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", result.Content)
	}
	if !tool.execd {
		t.Error("expected the tool to run")
	}
	if len(guard.recorded) != 1 || guard.recorded[0] != "get_entities" {
		t.Errorf("expected Record to be called once with the tool name, got %v", guard.recorded)
	}
}

func TestExecuteInvokesCallback(t *testing.T) {
	tool := &fakeTool{name: "call_service", result: &ToolResult{Content: "done"}}

	var gotName string
	var gotResult *ToolResult
	var gotDuration time.Duration
	onExec := func(ctx context.Context, toolName string, params json.RawMessage, result *ToolResult, duration time.Duration) {
		gotName = toolName
		gotResult = result
		gotDuration = duration
	}

	r := NewToolRegistry(nil, onExec)
	if err := r.Register(tool); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := r.Execute(context.Background(), "call_service", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if gotName != "call_service" {
		t.Errorf("callback toolName = %q, want call_service", gotName)
	}
	if gotResult == nil || gotResult.Content != "done" {
		t.Errorf("callback result = %+v, want Content=done", gotResult)
	}
	if gotDuration < 0 {
		t.Errorf("callback duration = %v, want non-negative", gotDuration)
	}
}

func TestExecuteRecoversFromPanic(t *testing.T) {
	tool := &fakeTool{name: "flaky", panic: "boom"}
	r := NewToolRegistry(nil, nil)
	if err := r.Register(tool); err != nil {
		t.Fatalf("Register: %v", err)
	}

	result, err := r.Execute(context.Background(), "flaky", nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError || !strings.Contains(result.Content, "panicked") {
		t.Errorf("unexpected result: %+v", result)
	}
}
