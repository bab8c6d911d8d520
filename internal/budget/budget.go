// Package budget defines the spend guardrails applied to one session: tool
// call and reasoning loop ceilings plus optional token and cost limits.
// Exhaustion never kills a session; the orchestrator folds it into a forced
// best-effort answer.
package budget

import "fmt"

// Config defines budget guardrails for a session.
type Config struct {
	MaxToolCalls      int      // total tool calls across the session; 0 = default
	MaxReasoningLoops int      // reasoning rounds per user message; 0 = default
	MaxTokens         *int64   // total LLM tokens, nil = unlimited
	MaxCost           *float64 // total LLM spend in dollars, nil = unlimited
}

// Defaults applied when a field is unset.
const (
	DefaultMaxToolCalls      = 24
	DefaultMaxReasoningLoops = 8
)

// Normalize fills unset fields with defaults.
func (c Config) Normalize() Config {
	if c.MaxToolCalls <= 0 {
		c.MaxToolCalls = DefaultMaxToolCalls
	}
	if c.MaxReasoningLoops <= 0 {
		c.MaxReasoningLoops = DefaultMaxReasoningLoops
	}
	return c
}

// Validate ensures the budget values are sane before use.
func (c Config) Validate() error {
	if c.MaxToolCalls < 0 {
		return fmt.Errorf("max_tool_calls cannot be negative")
	}
	if c.MaxReasoningLoops < 0 {
		return fmt.Errorf("max_reasoning_loops cannot be negative")
	}
	if c.MaxTokens != nil && *c.MaxTokens < 0 {
		return fmt.Errorf("max_tokens cannot be negative")
	}
	if c.MaxCost != nil && *c.MaxCost < 0 {
		return fmt.Errorf("max_cost cannot be negative")
	}
	return nil
}

// Clone produces a deep copy of the config.
func (c Config) Clone() Config {
	clone := Config{
		MaxToolCalls:      c.MaxToolCalls,
		MaxReasoningLoops: c.MaxReasoningLoops,
	}
	if c.MaxTokens != nil {
		v := *c.MaxTokens
		clone.MaxTokens = &v
	}
	if c.MaxCost != nil {
		v := *c.MaxCost
		clone.MaxCost = &v
	}
	return clone
}
