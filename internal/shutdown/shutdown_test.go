package shutdown

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestShutdownCoordinator_PhaseOrder(t *testing.T) {
	coord := NewShutdownCoordinator(5*time.Second, nil)

	var order []string
	var mu sync.Mutex

	record := func(name string) ShutdownFunc {
		return func(ctx context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	// Register in reverse order to ensure phase order is respected
	coord.RegisterFunc("store1", PhaseCloseStore, record("store1"))
	coord.RegisterFunc("external1", PhaseCloseExternal, record("external1"))
	coord.RegisterFunc("drain1", PhaseDrainConversations, record("drain1"))
	coord.RegisterFunc("intake1", PhaseStopIntake, record("intake1"))

	ctx := context.Background()
	coord.Shutdown(ctx)

	expected := []string{"intake1", "drain1", "external1", "store1"}
	if len(order) != len(expected) {
		t.Fatalf("expected %d handlers, got %d: %v", len(expected), len(order), order)
	}

	for i, exp := range expected {
		if order[i] != exp {
			t.Errorf("order[%d] = %s, want %s", i, order[i], exp)
		}
	}
}

func TestShutdownCoordinator_ConcurrentWithinPhase(t *testing.T) {
	coord := NewShutdownCoordinator(5*time.Second, nil)

	var maxConcurrent int32
	var current int32

	handler := func(_ string) ShutdownFunc {
		return func(ctx context.Context) error {
			c := atomic.AddInt32(&current, 1)
			for {
				m := atomic.LoadInt32(&maxConcurrent)
				if c <= m || atomic.CompareAndSwapInt32(&maxConcurrent, m, c) {
					break
				}
			}
			time.Sleep(30 * time.Millisecond)
			atomic.AddInt32(&current, -1)
			return nil
		}
	}

	for i := 0; i < 3; i++ {
		coord.RegisterExternal("conn"+string(rune('A'+i)), handler("conn"))
	}

	start := time.Now()
	coord.Shutdown(context.Background())
	elapsed := time.Since(start)

	if elapsed > 100*time.Millisecond {
		t.Errorf("expected concurrent execution, took %v", elapsed)
	}
	if maxConcurrent < 2 {
		t.Errorf("expected concurrent execution, max concurrent was %d", maxConcurrent)
	}
}

func TestShutdownCoordinator_HandlerError(t *testing.T) {
	coord := NewShutdownCoordinator(5*time.Second, nil)
	testErr := errors.New("handler error")

	var handlersCalled int32

	coord.RegisterFunc("failing", PhaseCloseExternal, func(ctx context.Context) error {
		atomic.AddInt32(&handlersCalled, 1)
		return testErr
	})
	coord.RegisterFunc("succeeding", PhaseCloseExternal, func(ctx context.Context) error {
		atomic.AddInt32(&handlersCalled, 1)
		return nil
	})

	results := coord.Shutdown(context.Background())

	if atomic.LoadInt32(&handlersCalled) != 2 {
		t.Errorf("expected 2 handlers called, got %d", handlersCalled)
	}

	var foundError bool
	for _, r := range results {
		if r.Name == "failing" && errors.Is(r.Error, testErr) {
			foundError = true
			break
		}
	}
	if !foundError {
		t.Error("expected to find handler error in results")
	}
}

func TestShutdownCoordinator_HandlerTimeout(t *testing.T) {
	coord := NewShutdownCoordinator(50*time.Millisecond, nil)

	coord.Register(ShutdownHandler{
		Name:    "slow",
		Phase:   PhaseCloseExternal,
		Timeout: 30 * time.Millisecond,
		Func: func(ctx context.Context) error {
			select {
			case <-time.After(100 * time.Millisecond):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})

	start := time.Now()
	results := coord.Shutdown(context.Background())
	elapsed := time.Since(start)

	if elapsed > 80*time.Millisecond {
		t.Errorf("expected handler to timeout, took %v", elapsed)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if !errors.Is(results[0].Error, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", results[0].Error)
	}
}

func TestShutdownCoordinator_OnlyOnce(t *testing.T) {
	coord := NewShutdownCoordinator(5*time.Second, nil)

	var callCount int32
	coord.RegisterFunc("counter", PhaseCloseExternal, func(ctx context.Context) error {
		atomic.AddInt32(&callCount, 1)
		return nil
	})

	coord.Shutdown(context.Background())
	coord.Shutdown(context.Background())
	coord.Shutdown(context.Background())

	if atomic.LoadInt32(&callCount) != 1 {
		t.Errorf("expected handler to be called once, called %d times", callCount)
	}
}

func TestShutdownCoordinator_IsShuttingDown(t *testing.T) {
	coord := NewShutdownCoordinator(5*time.Second, nil)

	if coord.IsShuttingDown() {
		t.Error("should not be shutting down initially")
	}

	coord.Shutdown(context.Background())

	if !coord.IsShuttingDown() {
		t.Error("should be shutting down after Shutdown()")
	}
}

func TestShutdownCoordinator_Done(t *testing.T) {
	coord := NewShutdownCoordinator(5*time.Second, nil)

	done := coord.Done()

	select {
	case <-done:
		t.Error("done channel should not be closed initially")
	default:
	}

	coord.Shutdown(context.Background())

	select {
	case <-done:
	default:
		t.Error("done channel should be closed after shutdown")
	}
}

func TestShutdownCoordinator_RegisterConvenience(t *testing.T) {
	coord := NewShutdownCoordinator(5*time.Second, nil)

	var phases []ShutdownPhase

	coord.RegisterExternal("bridge", func(ctx context.Context) error {
		return nil
	})
	coord.RegisterStore("audit-db", func(ctx context.Context) error {
		return nil
	})

	results := coord.Shutdown(context.Background())

	for _, r := range results {
		phases = append(phases, r.Phase)
	}

	if len(phases) != 2 {
		t.Fatalf("expected 2 results, got %d", len(phases))
	}

	foundExternal := false
	foundStore := false
	for _, p := range phases {
		if p == PhaseCloseExternal {
			foundExternal = true
		}
		if p == PhaseCloseStore {
			foundStore = true
		}
	}
	if !foundExternal || !foundStore {
		t.Error("expected both external and store phases")
	}
}

func TestShutdownCoordinator_ContextCancellation(t *testing.T) {
	coord := NewShutdownCoordinator(5*time.Second, nil)

	var phasesRun []ShutdownPhase
	var mu sync.Mutex

	record := func(phase ShutdownPhase) ShutdownFunc {
		return func(ctx context.Context) error {
			mu.Lock()
			phasesRun = append(phasesRun, phase)
			mu.Unlock()
			time.Sleep(50 * time.Millisecond)
			return nil
		}
	}

	coord.RegisterFunc("intake", PhaseStopIntake, record(PhaseStopIntake))
	coord.RegisterFunc("drain", PhaseDrainConversations, record(PhaseDrainConversations))
	coord.RegisterFunc("external", PhaseCloseExternal, record(PhaseCloseExternal))

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	coord.Shutdown(ctx)

	mu.Lock()
	count := len(phasesRun)
	mu.Unlock()

	if count == 0 {
		t.Error("expected at least one phase to run")
	}
}

func TestShutdownPhase_String(t *testing.T) {
	tests := []struct {
		phase    ShutdownPhase
		expected string
	}{
		{PhaseStopIntake, "stop-intake"},
		{PhaseDrainConversations, "drain-conversations"},
		{PhaseCloseExternal, "close-external"},
		{PhaseCloseStore, "close-store"},
		{ShutdownPhase(99), "phase-99"},
	}

	for _, tt := range tests {
		if got := tt.phase.String(); got != tt.expected {
			t.Errorf("%d.String() = %q, want %q", tt.phase, got, tt.expected)
		}
	}
}

func TestShutdownCoordinator_Results(t *testing.T) {
	coord := NewShutdownCoordinator(5*time.Second, nil)

	coord.RegisterFunc("handler1", PhaseCloseExternal, func(ctx context.Context) error {
		return nil
	})
	coord.RegisterFunc("handler2", PhaseCloseExternal, func(ctx context.Context) error {
		return errors.New("failed")
	})

	coord.Shutdown(context.Background())

	results := coord.Results()
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}

	for _, r := range results {
		if r.Name == "" {
			t.Error("result should have a name")
		}
		if r.Duration == 0 {
			t.Error("result should have a duration")
		}
	}
}

func TestShutdownCoordinator_InvalidPhase(t *testing.T) {
	coord := NewShutdownCoordinator(5*time.Second, nil)

	var called bool
	coord.Register(ShutdownHandler{
		Name:  "invalid-phase",
		Phase: ShutdownPhase(100),
		Func: func(ctx context.Context) error {
			called = true
			return nil
		},
	})

	coord.Shutdown(context.Background())

	if !called {
		t.Error("handler with invalid phase should still be called")
	}
}

func TestShutdownCoordinator_EmptyPhases(t *testing.T) {
	coord := NewShutdownCoordinator(5*time.Second, nil)

	coord.RegisterFunc("cleanup", PhaseCloseStore, func(ctx context.Context) error {
		return nil
	})

	results := coord.Shutdown(context.Background())

	if len(results) != 1 {
		t.Errorf("expected 1 result, got %d", len(results))
	}
}
