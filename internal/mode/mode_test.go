package mode

import (
	"testing"
	"time"
)

func TestParseModeCommand(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  OperatingMode
		wantOK bool
	}{
		{name: "enable chat mode", input: "enable chat mode", want: Chat, wantOK: true},
		{name: "read only mode", input: "Read-Only Mode please", want: Chat, wantOK: true},
		{name: "enable normal mode", input: "enable normal mode", want: Normal, wantOK: true},
		{name: "disable yolo", input: "disable yolo", want: Normal, wantOK: true},
		{name: "yolo bare word", input: "yolo", want: YOLO, wantOK: true},
		{name: "enable yolo mode", input: "enable yolo mode", want: YOLO, wantOK: true},
		{name: "chat wins over yolo when both present", input: "chat mode, not yolo", want: Chat, wantOK: true},
		{name: "unrelated message", input: "turn on the kitchen light", want: "", wantOK: false},
		{name: "empty", input: "", want: "", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseModeCommand(tt.input)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("ParseModeCommand(%q) = (%q, %v), want (%q, %v)", tt.input, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestIsModeQuery(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"what mode are you in?", true},
		{"current mode", true},
		{"mode status", true},
		{"turn off the lights", false},
	}
	for _, tt := range tests {
		if got := IsModeQuery(tt.input); got != tt.want {
			t.Errorf("IsModeQuery(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestCategoryOfDefaultsToWrite(t *testing.T) {
	if got := CategoryOf("some_unknown_tool"); got != Write {
		t.Errorf("CategoryOf(unknown) = %v, want %v", got, Write)
	}
	if got := CategoryOf("get_entities"); got != ReadOnly {
		t.Errorf("CategoryOf(get_entities) = %v, want %v", got, ReadOnly)
	}
	if got := CategoryOf("delete_automation"); got != Destructive {
		t.Errorf("CategoryOf(delete_automation) = %v, want %v", got, Destructive)
	}
}

func TestCheckToolAllowed(t *testing.T) {
	m := NewManager(time.Minute)

	if allowed, _ := m.CheckToolAllowed("get_entities"); !allowed {
		t.Error("read-only tool should always be allowed")
	}

	m.SetMode(Chat)
	if allowed, msg := m.CheckToolAllowed("call_service"); allowed || msg == "" {
		t.Errorf("write tool should be blocked in chat mode, got allowed=%v msg=%q", allowed, msg)
	}

	m.SetMode(Normal)
	if allowed, _ := m.CheckToolAllowed("call_service"); !allowed {
		t.Error("write tool should be allowed in normal mode")
	}
}

func TestNeedsConfirmation(t *testing.T) {
	m := NewManager(time.Minute)
	m.SetMode(Normal)

	if !m.NeedsConfirmation("delete_automation") {
		t.Error("destructive tool should need confirmation in normal mode")
	}
	if m.NeedsConfirmation("call_service") {
		t.Error("plain write tool should not need confirmation in normal mode")
	}

	m.SetMode(YOLO)
	if m.NeedsConfirmation("delete_automation") {
		t.Error("nothing should need confirmation in yolo mode")
	}
}

func TestYOLOExpiry(t *testing.T) {
	m := NewManager(10 * time.Millisecond)
	m.SetMode(YOLO)

	if m.Current() != YOLO {
		t.Fatal("expected yolo mode immediately after activation")
	}

	time.Sleep(20 * time.Millisecond)

	if got := m.Current(); got != Normal {
		t.Errorf("expected yolo to expire back to normal, got %v", got)
	}
}

func TestSetModeCallback(t *testing.T) {
	m := NewManager(time.Minute)
	var seen []OperatingMode
	m.SetChangeCallback(func(newMode OperatingMode) {
		seen = append(seen, newMode)
	})

	m.SetMode(YOLO)
	m.SetMode(YOLO) // no-op transition, should not fire again
	m.SetMode(Chat)

	want := []OperatingMode{YOLO, Chat}
	if len(seen) != len(want) {
		t.Fatalf("got %d callback firings, want %d: %v", len(seen), len(want), seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("callback[%d] = %v, want %v", i, seen[i], want[i])
		}
	}
}
