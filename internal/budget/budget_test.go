package budget

import (
	"errors"
	"testing"
)

func TestNormalizeDefaults(t *testing.T) {
	cfg := Config{}.Normalize()
	if cfg.MaxToolCalls != DefaultMaxToolCalls {
		t.Fatalf("MaxToolCalls = %d", cfg.MaxToolCalls)
	}
	if cfg.MaxReasoningLoops != DefaultMaxReasoningLoops {
		t.Fatalf("MaxReasoningLoops = %d", cfg.MaxReasoningLoops)
	}
}

func TestValidate(t *testing.T) {
	bad := int64(-1)
	if err := (Config{MaxTokens: &bad}).Validate(); err == nil {
		t.Fatal("negative max_tokens accepted")
	}
	if err := (Config{MaxToolCalls: 5}).Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestToolCallCeiling(t *testing.T) {
	m := NewMonitor(Config{MaxToolCalls: 2, MaxReasoningLoops: 3})
	if err := m.AddToolCalls(1); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if got := m.RemainingToolCalls(); got != 1 {
		t.Fatalf("remaining = %d", got)
	}
	if err := m.AddToolCalls(1); err != nil {
		t.Fatalf("second call: %v", err)
	}
	err := m.AddToolCalls(1)
	var exceeded ErrExceeded
	if !errors.As(err, &exceeded) || exceeded.Kind != "tool_calls" {
		t.Fatalf("expected tool_calls ErrExceeded, got %v", err)
	}
	if got := m.RemainingToolCalls(); got != 0 {
		t.Fatalf("remaining after breach = %d", got)
	}
}

func TestSpendCeiling(t *testing.T) {
	maxCost := 0.01
	m := NewMonitor(Config{MaxCost: &maxCost})
	if err := m.AddSpend(0.005, 100); err != nil {
		t.Fatalf("under limit: %v", err)
	}
	err := m.AddSpend(0.006, 100)
	var exceeded ErrExceeded
	if !errors.As(err, &exceeded) || exceeded.Kind != "cost" {
		t.Fatalf("expected cost ErrExceeded, got %v", err)
	}
	calls, tokens, cost := m.Usage()
	if calls != 0 || tokens != 200 || cost <= 0.01 {
		t.Fatalf("usage = %d %d %f", calls, tokens, cost)
	}
}
