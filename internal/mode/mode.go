// Package mode implements the operator's tri-state operating mode: how
// cautiously the agent is allowed to act on the controller without asking
// first.
package mode

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// OperatingMode is the agent's current posture toward mutating the
// controller's state.
type OperatingMode string

const (
	// Chat is read-only: the agent can look things up but never calls a
	// write or destructive tool.
	Chat OperatingMode = "chat"
	// Normal allows writes, flags destructive calls as needing confirmation.
	Normal OperatingMode = "normal"
	// YOLO auto-approves everything, including destructive calls, until it
	// expires.
	YOLO OperatingMode = "yolo"
)

// ToolCategory buckets a tool by how cautious the current mode should be
// about letting it run.
type ToolCategory string

const (
	ReadOnly    ToolCategory = "read_only"
	Write       ToolCategory = "write"
	Destructive ToolCategory = "destructive"
)

// toolCategories is the fixed mapping from tool name to category. A tool
// absent from this map defaults to Write — categorization errs toward
// caution, not permissiveness.
var toolCategories = map[string]ToolCategory{
	"get_entities":          ReadOnly,
	"get_entity_state":      ReadOnly,
	"get_automations":       ReadOnly,
	"get_automation_config": ReadOnly,
	"get_scripts":           ReadOnly,
	"get_script_config":     ReadOnly,
	"get_scenes":            ReadOnly,
	"get_scene_config":      ReadOnly,
	"get_helpers":           ReadOnly,
	"get_services":          ReadOnly,
	"get_error_log":         ReadOnly,
	"get_logbook":           ReadOnly,
	"get_history":           ReadOnly,
	"recall_memories":       ReadOnly,

	"call_service":         Write,
	"create_automation":    Write,
	"update_automation":    Write,
	"create_script":        Write,
	"update_script":        Write,
	"create_scene":         Write,
	"update_scene":         Write,
	"create_helper":        Write,
	"store_memory":         Write,
	"rename_entity":        Write,
	"assign_entity_area":   Write,
	"assign_entity_labels": Write,

	"delete_automation": Destructive,
	"delete_script":     Destructive,
	"delete_scene":      Destructive,
	"delete_helper":     Destructive,
	"forget_memory":     Destructive,
}

// CategoryOf returns a tool's category, defaulting to Write when the tool
// is not in the fixed map.
func CategoryOf(toolName string) ToolCategory {
	if c, ok := toolCategories[toolName]; ok {
		return c
	}
	return Write
}

// IsWriteOperation reports whether a tool mutates controller state.
func IsWriteOperation(toolName string) bool {
	c := CategoryOf(toolName)
	return c == Write || c == Destructive
}

// DefaultYOLODuration is how long YOLO mode lasts before auto-reverting to
// Normal, absent an explicit override.
const DefaultYOLODuration = 10 * time.Minute

// ChangeCallback is invoked once whenever the effective mode changes,
// including the automatic YOLO-to-Normal reversion.
type ChangeCallback func(newMode OperatingMode)

// Manager tracks the current operating mode, including the YOLO timer, and
// is safe for concurrent use.
type Manager struct {
	mu sync.Mutex

	yoloDuration time.Duration
	current      OperatingMode
	yoloActivatedAt time.Time

	onChange ChangeCallback
}

// NewManager creates a Manager starting in Normal mode.
func NewManager(yoloDuration time.Duration) *Manager {
	if yoloDuration <= 0 {
		yoloDuration = DefaultYOLODuration
	}
	return &Manager{
		yoloDuration: yoloDuration,
		current:      Normal,
	}
}

// SetChangeCallback registers a callback fired whenever the mode changes,
// replacing any previously registered callback.
func (m *Manager) SetChangeCallback(cb ChangeCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = cb
}

// Current returns the effective operating mode, reverting an expired YOLO
// window to Normal first.
func (m *Manager) Current() OperatingMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentLocked()
}

func (m *Manager) currentLocked() OperatingMode {
	if m.current == YOLO && m.yoloExpiredLocked() {
		m.current = Normal
		m.yoloActivatedAt = time.Time{}
		if m.onChange != nil {
			m.onChange(Normal)
		}
	}
	return m.current
}

func (m *Manager) yoloExpiredLocked() bool {
	if m.yoloActivatedAt.IsZero() {
		return true
	}
	return time.Since(m.yoloActivatedAt) >= m.yoloDuration
}

// YOLORemaining returns how much of the YOLO window is left, or zero if
// the agent isn't currently in YOLO mode.
func (m *Manager) YOLORemaining() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != YOLO || m.yoloActivatedAt.IsZero() {
		return 0
	}
	remaining := m.yoloDuration - time.Since(m.yoloActivatedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// SetMode switches the operating mode and returns a human-readable status
// message describing the change.
func (m *Manager) SetMode(newMode OperatingMode) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	old := m.current
	m.current = newMode

	var message string
	switch newMode {
	case YOLO:
		m.yoloActivatedAt = time.Now()
		message = fmt.Sprintf(
			"YOLO mode activated for %d minutes. All actions will be auto-approved. Be careful!",
			int(m.yoloDuration.Minutes()),
		)
	case Chat:
		m.yoloActivatedAt = time.Time{}
		message = "Chat mode activated. I can analyze and recommend, but I won't make any changes until you switch to Normal or YOLO mode."
	default: // Normal
		newMode = Normal
		m.current = Normal
		m.yoloActivatedAt = time.Time{}
		message = "Normal mode activated. I'll ask for confirmation before making significant changes."
	}

	if m.onChange != nil && old != newMode {
		m.onChange(newMode)
	}
	return message
}

// CheckToolAllowed reports whether a tool may run in the current mode. If
// not allowed, the returned message explains why, suitable for returning
// directly to the LLM as a tool result.
func (m *Manager) CheckToolAllowed(toolName string) (bool, string) {
	mode := m.Current()
	category := CategoryOf(toolName)

	if category == ReadOnly {
		return true, ""
	}

	if mode == Chat {
		return false, fmt.Sprintf(
			"I'm in Chat mode and cannot execute '%s'. Switch to Normal mode ('enable normal mode') or YOLO mode ('enable yolo mode') if you want me to make changes.",
			toolName,
		)
	}

	return true, ""
}

// NeedsConfirmation reports whether a tool call should be held for
// operator confirmation before it runs, given the current mode. YOLO never
// confirms; Chat never gets here because CheckToolAllowed already blocked
// it; Normal confirms destructive calls only.
func (m *Manager) NeedsConfirmation(toolName string) bool {
	mode := m.Current()
	if mode == YOLO || mode == Chat {
		return false
	}
	return CategoryOf(toolName) == Destructive
}

// Status is a snapshot of the current mode suitable for serializing back
// to a caller.
type Status struct {
	Mode              OperatingMode
	Description       string
	YOLORemaining     time.Duration
}

func describe(m OperatingMode) string {
	switch m {
	case Chat:
		return "Read-only mode. Analysis and recommendations only."
	case YOLO:
		return "Auto-approve mode. All actions executed without confirmation."
	default:
		return "Standard mode. Confirmation required for destructive actions."
	}
}

// GetStatus returns a snapshot of the current mode.
func (m *Manager) GetStatus() Status {
	mode := m.Current()
	s := Status{Mode: mode, Description: describe(mode)}
	if mode == YOLO {
		s.YOLORemaining = m.YOLORemaining()
	}
	return s
}

// FormatResponse renders the current mode status as a chat-facing message.
func (m *Manager) FormatResponse() string {
	s := m.GetStatus()
	msg := fmt.Sprintf("I'm currently in **%s** mode.\n\n%s\n", strings.ToUpper(string(s.Mode)), s.Description)
	if s.Mode == YOLO {
		msg += fmt.Sprintf("\nYOLO mode expires in %.1f minutes.", s.YOLORemaining.Minutes())
	}
	return msg
}

var chatPatterns = []string{
	"enable chat mode",
	"switch to chat mode",
	"activate chat mode",
	"chat mode",
	"read only mode",
	"read-only mode",
}

var normalPatterns = []string{
	"enable normal mode",
	"switch to normal mode",
	"activate normal mode",
	"normal mode",
	"disable yolo mode",
	"disable yolo",
	"exit yolo mode",
}

var yoloPatterns = []string{
	"enable yolo mode",
	"switch to yolo mode",
	"activate yolo mode",
	"yolo mode",
	"yolo",
}

var modeQueryPatterns = []string{
	"what mode",
	"which mode",
	"current mode",
	"what's my mode",
	"what is my mode",
	"mode status",
}

// ParseModeCommand looks for a mode-switch phrase in a user message. It
// checks Chat patterns first, then Normal, then YOLO — a message
// containing multiple phrases resolves to the first category matched, not
// necessarily the phrase appearing earliest in the text. Returns ("", false)
// if the message isn't a mode command.
func ParseModeCommand(message string) (OperatingMode, bool) {
	lower := strings.ToLower(strings.TrimSpace(message))

	for _, p := range chatPatterns {
		if strings.Contains(lower, p) {
			return Chat, true
		}
	}
	for _, p := range normalPatterns {
		if strings.Contains(lower, p) {
			return Normal, true
		}
	}
	for _, p := range yoloPatterns {
		if strings.Contains(lower, p) {
			return YOLO, true
		}
	}
	return "", false
}

// IsModeQuery reports whether a message is asking what the current mode is,
// rather than trying to change it.
func IsModeQuery(message string) bool {
	lower := strings.ToLower(strings.TrimSpace(message))
	for _, p := range modeQueryPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
