package control

import (
	"testing"
	"time"
)

func TestCircuitBreaker_StateTransitions(t *testing.T) {
	c := NewCircuitBreaker(2, 100*time.Millisecond)
	now := time.Now()

	if c.State() != CircuitClosed {
		t.Fatalf("expected closed, got %s", c.State())
	}

	if c.RecordFailure(now) {
		t.Fatal("first failure must not open the breaker")
	}
	if c.State() != CircuitClosed {
		t.Fatalf("expected closed after first failure, got %s", c.State())
	}

	if !c.RecordFailure(now) {
		t.Fatal("expected breaker to report opening")
	}
	if c.State() != CircuitOpen {
		t.Fatalf("expected open after threshold failures, got %s", c.State())
	}

	if c.Allow(now.Add(10 * time.Millisecond)) {
		t.Fatal("expected deny while cooldown not elapsed")
	}
	if !c.Allow(now.Add(120 * time.Millisecond)) {
		t.Fatal("expected allow after cooldown")
	}
	if c.State() != CircuitHalfOpen {
		t.Fatalf("expected half_open, got %s", c.State())
	}

	if !c.RecordSuccess() {
		t.Fatal("expected state change on probe success")
	}
	if c.State() != CircuitClosed {
		t.Fatalf("expected closed after probe success, got %s", c.State())
	}
	if c.RecordSuccess() {
		t.Fatal("closed breaker must not report a change")
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	c := NewCircuitBreaker(1, time.Second)
	now := time.Now()
	c.RecordFailure(now)
	if !c.Allow(now.Add(2 * time.Second)) {
		t.Fatal("expected probe after cooldown")
	}
	if !c.RecordFailure(now.Add(2 * time.Second)) {
		t.Fatal("half-open failure must reopen")
	}
	if c.Allow(now.Add(2500 * time.Millisecond)) {
		t.Fatal("expected deny after reopening")
	}
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	c := NewCircuitBreaker(0, 0)
	if c.Threshold != 5 || c.Cooldown != 30*time.Second {
		t.Fatalf("unexpected defaults: threshold=%d cooldown=%s", c.Threshold, c.Cooldown)
	}
}
