package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Tool parameter limits, kept from the teacher's own registry: they exist
// to bound resource use on malformed or adversarial tool-call payloads,
// not because any legitimate tool needs inputs this large.
const (
	MaxToolNameLength  = 256
	MaxToolParamsSize  = 10 << 20
)

// ExecutionCallback is invoked exactly once per Execute call, after the
// tool has run (or been rejected before running), carrying the audit
// fields the conversation manager persists.
type ExecutionCallback func(ctx context.Context, toolName string, params json.RawMessage, result *ToolResult, duration time.Duration)

// ExecutionGuard decides whether a tool call may proceed before the
// registry dispatches it. It is the chokepoint spec.md's mode and
// rate-limit policies are wired through.
type ExecutionGuard interface {
	// Allow returns (true, "") if the call may proceed, or (false, reason)
	// if it must be rejected without running the tool.
	Allow(toolName string) (bool, string)

	// Record is called once after a call the guard allowed runs and
	// returns a non-error result, so rate limiters can account for it.
	// Calls that fail are not recorded.
	Record(toolName string)
}

// ToolRegistry holds the set of tools available to the LLM in the current
// conversation and is the single place tool calls are dispatched from.
type ToolRegistry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	schema map[string]*jsonschema.Schema

	guard    ExecutionGuard
	onExec   ExecutionCallback
}

// NewToolRegistry creates an empty registry. guard and onExec may be nil.
func NewToolRegistry(guard ExecutionGuard, onExec ExecutionCallback) *ToolRegistry {
	return &ToolRegistry{
		tools:  make(map[string]Tool),
		schema: make(map[string]*jsonschema.Schema),
		guard:  guard,
		onExec: onExec,
	}
}

// Register adds a tool to the registry, compiling its JSON-Schema
// descriptor once so Execute doesn't pay compilation cost per call. If a
// tool with the same name already exists, it is replaced (last write
// wins, matching the teacher's own Register semantics).
func (r *ToolRegistry) Register(tool Tool) error {
	compiled, err := compileToolSchema(tool.Name(), tool.Schema())
	if err != nil {
		return fmt.Errorf("tool %q: compiling schema: %w", tool.Name(), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
	r.schema[tool.Name()] = compiled
	return nil
}

func compileToolSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	resourceName := "tool://" + name
	if len(raw) == 0 {
		raw = json.RawMessage(`{"type":"object"}`)
	}
	if err := compiler.AddResource(resourceName, bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return compiler.Compile(resourceName)
}

// Get returns a tool by name.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Descriptors returns every registered tool as an LLM-facing descriptor.
func (r *ToolRegistry) Descriptors() []ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolDescriptor, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, ToolDescriptor{Name: t.Name(), Description: t.Description(), Schema: t.Schema()})
	}
	return out
}

// Names returns the registered tool names.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	return out
}

// Execute validates, gates, dispatches, and audits one tool call. It never
// returns a non-nil error for an expected failure (unknown tool, invalid
// arguments, policy denial, tool panic) — those are all communicated as an
// "Error:"-prefixed ToolResult so the LLM can react to them. A non-nil
// error return is reserved for truly unexpected conditions.
func (r *ToolRegistry) Execute(ctx context.Context, name string, params json.RawMessage) (result *ToolResult, err error) {
	start := time.Now()
	defer func() {
		if r.onExec != nil {
			r.onExec(ctx, name, params, result, time.Since(start))
		}
	}()

	if len(name) > MaxToolNameLength {
		return ErrorResult("tool name exceeds maximum length of %d characters", MaxToolNameLength), nil
	}
	if len(params) > MaxToolParamsSize {
		return ErrorResult("tool parameters exceed maximum size of %d bytes", MaxToolParamsSize), nil
	}

	r.mu.RLock()
	tool, ok := r.tools[name]
	schema := r.schema[name]
	r.mu.RUnlock()
	if !ok {
		return ErrorResult("Unknown tool '%s'", name), nil
	}

	if schema != nil {
		var decoded any
		if len(params) == 0 {
			decoded = map[string]any{}
		} else if jsonErr := json.Unmarshal(params, &decoded); jsonErr != nil {
			return ErrorResult("invalid arguments for '%s': %v", name, jsonErr), nil
		}
		if validErr := schema.Validate(decoded); validErr != nil {
			return ErrorResult("invalid arguments for '%s': %v", name, validErr), nil
		}
	}

	if r.guard != nil {
		if allowed, reason := r.guard.Allow(name); !allowed {
			return &ToolResult{Content: "Error: " + reason, IsError: true}, nil
		}
	}

	result = r.safeExecute(ctx, tool, params)

	if r.guard != nil && !result.IsError {
		r.guard.Record(name)
	}
	return result, nil
}

// safeExecute recovers from a panicking tool so one bad tool can't take
// down the whole conversation turn.
func (r *ToolRegistry) safeExecute(ctx context.Context, tool Tool, params json.RawMessage) (result *ToolResult) {
	defer func() {
		if p := recover(); p != nil {
			result = ErrorResult("tool '%s' panicked: %v", tool.Name(), p)
		}
	}()

	res, err := tool.Execute(ctx, params)
	if err != nil {
		return ErrorResult("executing %s: %v", tool.Name(), err)
	}
	if res == nil {
		return ErrorResult("tool '%s' returned no result", tool.Name())
	}
	return res
}
