package circuitbreaker

import (
	"context"
	"errors"
	"testing"
)

func TestTripsAfterConsecutiveFailures(t *testing.T) {
	var transitions []State
	cfg := DefaultConfig("result-store")
	cfg.TripAfter = 2
	cfg.OnStateChange = func(name string, s State) {
		if name != "result-store" {
			t.Errorf("hook got circuit %q", name)
		}
		transitions = append(transitions, s)
	}

	b, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("new circuit should start closed, got %v", b.State())
	}

	down := errors.New("connection refused")
	for i := 0; i < 2; i++ {
		if err := b.Do(context.Background(), func() error { return down }); err != down {
			t.Fatalf("call %d: got %v, want the op error", i, err)
		}
	}

	called := false
	err = b.Do(context.Background(), func() error {
		called = true
		return nil
	})
	if !Tripped(err) {
		t.Errorf("open circuit should reject, got %v", err)
	}
	if called {
		t.Error("op must not run while the circuit is open")
	}
	if b.State() != StateOpen {
		t.Errorf("state = %v, want open", b.State())
	}
	if len(transitions) == 0 || transitions[len(transitions)-1] != StateOpen {
		t.Errorf("hook transitions = %v, want trailing open", transitions)
	}
}

func TestSuccessKeepsCircuitClosed(t *testing.T) {
	b, err := New(DefaultConfig("result-publish"), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	for i := 0; i < 10; i++ {
		if err := b.Do(context.Background(), func() error { return nil }); err != nil {
			t.Fatalf("call %d failed: %v", i, err)
		}
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestStateGaugeValues(t *testing.T) {
	cases := []struct {
		state State
		value float64
		name  string
	}{
		{StateClosed, 0, "closed"},
		{StateHalfOpen, 1, "half-open"},
		{StateOpen, 2, "open"},
	}
	for _, tc := range cases {
		if tc.state.Value() != tc.value {
			t.Errorf("%s value = %g, want %g", tc.name, tc.state.Value(), tc.value)
		}
		if tc.state.String() != tc.name {
			t.Errorf("String() = %q, want %q", tc.state.String(), tc.name)
		}
	}
}

func TestManagerReusesCircuits(t *testing.T) {
	seeded := make(map[string]State)
	m := NewManager(nil, func(name string, s State) { seeded[name] = s })

	a, err := m.Acquire("result-store")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	b, err := m.Acquire("result-store")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if a != b {
		t.Error("same name should return the same circuit")
	}
	if seeded["result-store"] != StateClosed {
		t.Errorf("hook not seeded with closed state: %v", seeded)
	}
	if states := m.States(); states["result-store"] != StateClosed {
		t.Errorf("States() = %v", states)
	}
}
