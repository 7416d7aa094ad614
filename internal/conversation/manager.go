// Package conversation drives one turn of the agent's conversation loop:
// checking for a mode command, building the system prompt, calling the LLM
// provider, and running any tool calls it asks for until it produces a
// final answer or the iteration budget runs out.
package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nexhearth/mimirgo/internal/agent"
	"github.com/nexhearth/mimirgo/internal/agent/providers"
	"github.com/nexhearth/mimirgo/internal/backoff"
	"github.com/nexhearth/mimirgo/internal/metrics"
	"github.com/nexhearth/mimirgo/internal/mode"
	"github.com/nexhearth/mimirgo/internal/models"
	"github.com/nexhearth/mimirgo/internal/tracing"

	"go.opentelemetry.io/otel/trace"
)

const (
	defaultMaxHistory       = 50
	defaultMaxToolIterations = 10

	emptyResponseFallback  = "I didn't get a usable response back from the model. Try rephrasing, or try again in a moment."
	iterationLimitFallback = "I've gone through a lot of tool calls on this without reaching an answer, so I'm stopping here rather than loop further. Ask me to keep going if you'd like another pass."

	// maxCompletionAttempts bounds retries for a single LLM call that fails
	// with a retryable ProviderError (rate limit, timeout, server error).
	maxCompletionAttempts = 3
)

// AuditStore is the subset of the audit log the conversation manager needs:
// recording each inbound/outbound message and each tool call, and reading a
// session's recent messages back for LoadHistoryFromAudit. Implemented by
// package audit; kept as a narrow interface here so conversation doesn't
// depend on audit's storage details.
type AuditStore interface {
	LogMessage(ctx context.Context, entry models.AuditLogEntry) (int64, error)
	LogToolExecution(ctx context.Context, entry models.ToolExecutionEntry) error
	RecentMessages(ctx context.Context, sessionID string, limit int) ([]models.AuditLogEntry, error)
}

// MemoryStore is the subset of long-term memory the conversation manager
// needs: a short prose summary to fold into the system prompt. Implemented
// by package audit alongside AuditStore.
type MemoryStore interface {
	Summary(ctx context.Context) (string, error)
}

// Config configures a Manager. Zero values fall back to defaults matching
// the original implementation's (50 messages of history, 10 tool
// iterations per turn).
type Config struct {
	MaxHistory        int
	MaxToolIterations int
}

// Manager drives the conversation loop for every user talking to the
// agent, regardless of channel. It owns per-session history and serializes
// turns for the same session: within one session, LLM calls and tool
// executions never run concurrently, matching the single-session-at-a-time
// conversational model every channel adapter assumes.
type Manager struct {
	llm      agent.LLMProvider
	registry *agent.ToolRegistry
	mode     *mode.Manager
	audit    AuditStore
	memory   MemoryStore
	logger   *slog.Logger

	maxHistory        int
	maxToolIterations int

	historyMu sync.Mutex
	history   map[string][]agent.CompletionMessage

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	metrics *metrics.Metrics
	tracer  *tracing.Tracer
}

// SetMetrics wires a Prometheus collector set into the manager. Nil is a
// valid value (the zero state) and disables instrumentation.
func (m *Manager) SetMetrics(mx *metrics.Metrics) {
	m.metrics = mx
}

// SetTracer wires a span tracer into the manager. Nil disables tracing.
func (m *Manager) SetTracer(t *tracing.Tracer) {
	m.tracer = t
}

// NewManager builds a Manager. audit and memory may be nil, in which case
// messages aren't persisted and no memory summary is folded into the
// system prompt (used by tests).
func NewManager(llm agent.LLMProvider, registry *agent.ToolRegistry, modeManager *mode.Manager, audit AuditStore, memory MemoryStore, cfg Config, logger *slog.Logger) *Manager {
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = defaultMaxHistory
	}
	if cfg.MaxToolIterations <= 0 {
		cfg.MaxToolIterations = defaultMaxToolIterations
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		llm:               llm,
		registry:          registry,
		mode:              modeManager,
		audit:             audit,
		memory:            memory,
		logger:            logger,
		maxHistory:        cfg.MaxHistory,
		maxToolIterations: cfg.MaxToolIterations,
		history:           make(map[string][]agent.CompletionMessage),
		locks:             make(map[string]*sync.Mutex),
	}
}

// sessionKey identifies one conversation thread: a user on a channel.
// Different channels for the same person get independent history, matching
// how each channel adapter authenticates its own users.
func sessionKey(user models.UserContext) string {
	return user.Source + ":" + user.UserID
}

func (m *Manager) lockFor(sessionID string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[sessionID] = l
	}
	return l
}

// ProcessMessage runs one full conversational turn for user: mode-command
// handling, the bounded tool-calling loop, and history/audit bookkeeping.
// The returned string is the text to send back to the user; a non-nil
// error means the LLM provider itself failed (e.g. the upstream API
// returned an error), which the caller should surface as a generic
// failure rather than retry the loop itself.
func (m *Manager) ProcessMessage(ctx context.Context, userMessage string, user models.UserContext) (string, error) {
	sessionID := sessionKey(user)

	if m.tracer != nil {
		var span trace.Span
		ctx, span = m.tracer.StartConversationTurn(ctx, user.Source, sessionID)
		defer span.End()
	}
	if m.metrics != nil {
		m.metrics.MessageCounter.WithLabelValues(user.Source, "user").Inc()
	}

	lock := m.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if m.mode != nil {
		if mode.IsModeQuery(userMessage) {
			resp := m.mode.FormatResponse()
			m.logTurn(ctx, sessionID, user, userMessage, resp)
			return resp, nil
		}
		if newMode, ok := mode.ParseModeCommand(userMessage); ok {
			resp := m.mode.SetMode(newMode)
			if m.metrics != nil {
				m.metrics.ModeChangeCounter.WithLabelValues(string(newMode)).Inc()
			}
			m.logTurn(ctx, sessionID, user, userMessage, resp)
			return resp, nil
		}
	}

	history := m.historyFor(sessionID)
	history = append(history, agent.CompletionMessage{Role: "user", Content: userMessage})
	m.logMessage(ctx, sessionID, user, "user", userMessage)

	memorySummary := ""
	if m.memory != nil {
		if s, err := m.memory.Summary(ctx); err != nil {
			m.logger.Warn("conversation: fetching memory summary", "error", err)
		} else {
			memorySummary = s
		}
	}

	status := mode.Status{Description: "Standard mode. Confirmation required for destructive actions."}
	if m.mode != nil {
		status = m.mode.GetStatus()
	}
	system := buildSystemPrompt(status, user, memorySummary)
	tools := m.registry.Descriptors()

	iteration := 0
	for ; iteration < m.maxToolIterations; iteration++ {
		resp, err := m.complete(ctx, &agent.CompletionRequest{
			System:   system,
			Messages: history,
			Tools:    tools,
		})
		if err != nil {
			m.saveHistory(sessionID, history)
			return "", fmt.Errorf("conversation: completion: %w", err)
		}

		if resp.HasToolCalls() {
			history = append(history, agent.CompletionMessage{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls})
			results := m.executeToolCalls(ctx, sessionID, user, resp.ToolCalls)
			history = append(history, agent.CompletionMessage{Role: "tool", ToolResults: results})
			continue
		}

		reply := strings.TrimSpace(resp.Content)
		if reply == "" {
			reply = emptyResponseFallback
		}
		history = append(history, agent.CompletionMessage{Role: "assistant", Content: reply})
		m.saveHistory(sessionID, trimHistory(history, m.maxHistory))
		m.logMessage(ctx, sessionID, user, "assistant", reply)
		m.recordTurn(user, iteration)
		return reply, nil
	}

	m.saveHistory(sessionID, trimHistory(history, m.maxHistory))
	m.logMessage(ctx, sessionID, user, "error", iterationLimitFallback)
	m.recordTurn(user, iteration)
	return iterationLimitFallback, nil
}

func (m *Manager) recordTurn(user models.UserContext, iterations int) {
	if m.metrics == nil {
		return
	}
	m.metrics.MessageCounter.WithLabelValues(user.Source, "assistant").Inc()
	m.metrics.ToolIterations.WithLabelValues(user.Source).Observe(float64(iterations))
}

// complete calls the LLM provider, retrying with exponential backoff when
// the failure is a ProviderError the provider itself marked retryable
// (rate limit, timeout, transient server error). Any other error, or
// exhausting the attempt budget, returns immediately.
func (m *Manager) complete(ctx context.Context, req *agent.CompletionRequest) (resp *agent.CompletionResponse, err error) {
	provider, model := m.llm.Name(), m.llm.Model()

	if m.tracer != nil {
		var span trace.Span
		ctx, span = m.tracer.StartLLMRequest(ctx, provider, model)
		defer func() {
			m.tracer.RecordError(span, err)
			span.End()
		}()
	}

	policy := backoff.DefaultPolicy()
	start := time.Now()
	for attempt := 1; attempt <= maxCompletionAttempts; attempt++ {
		var callResp *agent.CompletionResponse
		callResp, err = m.llm.Complete(ctx, req)
		if err == nil {
			m.observeCompletion(provider, model, "ok", start, callResp)
			return callResp, nil
		}

		var perr *providers.ProviderError
		if m.metrics != nil && errors.As(err, &perr) {
			m.metrics.LLMFailoverCounter.WithLabelValues(provider, string(perr.Reason)).Inc()
		}
		if !errors.As(err, &perr) || !perr.Reason.IsRetryable() || attempt == maxCompletionAttempts {
			m.observeCompletion(provider, model, "error", start, nil)
			return nil, err
		}
		m.logger.Warn("conversation: retrying completion", "attempt", attempt, "provider", perr.Provider, "reason", perr.Reason)
		if sleepErr := backoff.SleepWithBackoff(ctx, policy, attempt); sleepErr != nil {
			err = sleepErr
			m.observeCompletion(provider, model, "error", start, nil)
			return nil, err
		}
	}
	m.observeCompletion(provider, model, "error", start, nil)
	return nil, err
}

func (m *Manager) observeCompletion(provider, model, status string, start time.Time, resp *agent.CompletionResponse) {
	if m.metrics == nil {
		return
	}
	inputTokens, outputTokens := 0, 0
	if resp != nil {
		inputTokens, outputTokens = resp.InputTokens, resp.OutputTokens
	}
	m.metrics.ObserveLLMRequest(provider, model, status, time.Since(start), inputTokens, outputTokens)
}

// executeToolCalls runs every tool call the LLM requested, in order, and
// audits each one. Calls run sequentially, not concurrently: a later call
// may depend on a state change an earlier one just made.
func (m *Manager) executeToolCalls(ctx context.Context, sessionID string, user models.UserContext, calls []models.ToolCall) []agent.ToolResultMessage {
	results := make([]agent.ToolResultMessage, 0, len(calls))
	for _, call := range calls {
		callCtx := ctx
		var span trace.Span
		if m.tracer != nil {
			callCtx, span = m.tracer.StartToolExecution(ctx, call.Name)
		}

		start := time.Now()
		result, err := m.registry.Execute(callCtx, call.Name, call.Input)
		duration := time.Since(start)
		if err != nil {
			result = agent.ErrorResult("tool execution failed: %v", err)
		}

		if span != nil {
			if result.IsError {
				m.tracer.RecordError(span, fmt.Errorf("%s", result.Content))
			}
			span.End()
		}
		if m.metrics != nil {
			status := "ok"
			if result.IsError {
				status = "error"
			}
			m.metrics.ObserveToolExecution(call.Name, status, duration)
		}

		results = append(results, agent.ToolResultMessage{
			ToolCallID: call.ID,
			Content:    result.Content,
			IsError:    result.IsError,
		})
		m.logToolExecution(ctx, sessionID, user, call, result, duration)
	}
	return results
}

func (m *Manager) historyFor(sessionID string) []agent.CompletionMessage {
	m.historyMu.Lock()
	defer m.historyMu.Unlock()
	existing := m.history[sessionID]
	out := make([]agent.CompletionMessage, len(existing))
	copy(out, existing)
	return out
}

func (m *Manager) saveHistory(sessionID string, history []agent.CompletionMessage) {
	m.historyMu.Lock()
	defer m.historyMu.Unlock()
	m.history[sessionID] = history
	if m.metrics != nil {
		m.metrics.ActiveSessions.Set(float64(len(m.history)))
	}
}

// trimHistory keeps only the most recent max messages. It's only ever
// called on a complete turn (user message through final assistant reply),
// never mid-loop, so it can't split an assistant tool_calls message from
// its tool-result reply.
func trimHistory(history []agent.CompletionMessage, max int) []agent.CompletionMessage {
	if max <= 0 || len(history) <= max {
		return history
	}
	return history[len(history)-max:]
}

// GetHistory returns a copy of the stored conversation history for a user.
func (m *Manager) GetHistory(user models.UserContext) []agent.CompletionMessage {
	return m.historyFor(sessionKey(user))
}

// GetContextSummary describes how much history is buffered for a user,
// suitable for a "/status"-style diagnostic reply.
func (m *Manager) GetContextSummary(user models.UserContext) string {
	history := m.historyFor(sessionKey(user))
	if len(history) == 0 {
		return "No conversation history yet."
	}
	turns := 0
	for _, msg := range history {
		if msg.Role == "user" {
			turns++
		}
	}
	return fmt.Sprintf("%d messages buffered (%d user turns, capped at %d).", len(history), turns, m.maxHistory)
}

// LoadHistoryFromAudit rebuilds a session's in-memory history from the
// audit log, so a restart doesn't lose context mid-conversation. Tool
// executions aren't replayed into history; only the user/assistant text
// turns the LLM actually sees are.
func (m *Manager) LoadHistoryFromAudit(ctx context.Context, user models.UserContext) error {
	if m.audit == nil {
		return nil
	}
	sessionID := sessionKey(user)
	entries, err := m.audit.RecentMessages(ctx, sessionID, m.maxHistory)
	if err != nil {
		return fmt.Errorf("conversation: loading history from audit: %w", err)
	}

	history := make([]agent.CompletionMessage, 0, len(entries))
	for _, e := range entries {
		switch e.MessageType {
		case "user":
			history = append(history, agent.CompletionMessage{Role: "user", Content: e.Content})
		case "assistant":
			history = append(history, agent.CompletionMessage{Role: "assistant", Content: e.Content})
		}
	}
	m.saveHistory(sessionID, trimHistory(history, m.maxHistory))
	return nil
}

func (m *Manager) logMessage(ctx context.Context, sessionID string, user models.UserContext, messageType, content string) {
	if m.audit == nil {
		return
	}
	_, err := m.audit.LogMessage(ctx, models.AuditLogEntry{
		Source:      user.Source,
		UserID:      user.UserID,
		SessionID:   sessionID,
		MessageType: messageType,
		Content:     content,
	})
	if err != nil {
		m.logger.Warn("conversation: logging message", "error", err)
	}
}

// logTurn audits a mode-command exchange as a plain user/assistant pair,
// since it never reaches the LLM loop.
func (m *Manager) logTurn(ctx context.Context, sessionID string, user models.UserContext, userMessage, reply string) {
	m.logMessage(ctx, sessionID, user, "user", userMessage)
	m.logMessage(ctx, sessionID, user, "assistant", reply)
}

func (m *Manager) logToolExecution(ctx context.Context, sessionID string, user models.UserContext, call models.ToolCall, result *agent.ToolResult, duration time.Duration) {
	if m.audit == nil {
		return
	}
	var params map[string]any
	_ = json.Unmarshal(call.Input, &params)

	entry := models.ToolExecutionEntry{
		Timestamp:  time.Now(),
		ToolName:   call.Name,
		Parameters: params,
		Result:     result.Content,
		DurationMs: duration.Milliseconds(),
		Success:    !result.IsError,
	}
	if result.IsError {
		entry.ErrorMessage = result.Content
	}
	if err := m.audit.LogToolExecution(ctx, entry); err != nil {
		m.logger.Warn("conversation: logging tool execution", "error", err, "tool", call.Name, "session", sessionID)
	}
}
