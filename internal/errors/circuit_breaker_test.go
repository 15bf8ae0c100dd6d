package errors

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCircuitBreaker_TripsAfterThreshold(t *testing.T) {
	config := CircuitBreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          50 * time.Millisecond,
	}
	cb := NewCircuitBreaker("test", config, nil)

	failing := func(ctx context.Context) error {
		return NewTransientError(errors.New("boom"), "boom")
	}

	_ = cb.Execute(context.Background(), failing)
	if cb.State() != CircuitClosed {
		t.Fatalf("state = %v, want closed after one failure", cb.State())
	}

	_ = cb.Execute(context.Background(), failing)
	if cb.State() != CircuitOpen {
		t.Fatalf("state = %v, want open after threshold failures", cb.State())
	}

	err := cb.Execute(context.Background(), func(ctx context.Context) error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen while open, got %v", err)
	}
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	config := CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          10 * time.Millisecond,
	}
	cb := NewCircuitBreaker("test", config, nil)

	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return NewTransientError(errors.New("boom"), "boom")
	})
	if cb.State() != CircuitOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	time.Sleep(15 * time.Millisecond)

	err := cb.Execute(context.Background(), func(ctx context.Context) error { return nil })
	if err != nil {
		t.Fatalf("Execute() in half-open returned error: %v", err)
	}
	if cb.State() != CircuitClosed {
		t.Fatalf("state = %v, want closed after half-open success", cb.State())
	}
}

func TestCircuitBreaker_OnStateChangeCallback(t *testing.T) {
	var transitions []string
	config := CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
		OnStateChange: func(name string, from, to CircuitState) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	}
	cb := NewCircuitBreaker("reviewer", config, nil)

	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return NewTransientError(errors.New("boom"), "boom")
	})

	if len(transitions) != 1 || transitions[0] != "closed->open" {
		t.Fatalf("transitions = %v, want [closed->open]", transitions)
	}
}
