package budget

import (
	"fmt"
	"sync"
)

// ErrExceeded is returned when usage surpasses a configured limit.
type ErrExceeded struct {
	Kind  string
	Usage string
	Limit string
}

func (e ErrExceeded) Error() string {
	return fmt.Sprintf("budget %s exceeded: usage=%s limit=%s", e.Kind, e.Usage, e.Limit)
}

// Monitor tracks actual usage against configured limits during a session.
type Monitor struct {
	mu         sync.Mutex
	config     Config
	toolCalls  int
	tokensUsed int64
	costUsed   float64
}

// NewMonitor clones the provided config and starts tracking usage.
func NewMonitor(cfg Config) *Monitor {
	return &Monitor{config: cfg.Normalize().Clone()}
}

// AddToolCalls records n dispatched calls, failing once the ceiling is hit.
func (m *Monitor) AddToolCalls(n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.toolCalls += n
	if m.toolCalls > m.config.MaxToolCalls {
		return ErrExceeded{
			Kind:  "tool_calls",
			Usage: fmt.Sprintf("%d calls", m.toolCalls),
			Limit: fmt.Sprintf("%d calls", m.config.MaxToolCalls),
		}
	}
	return nil
}

// RemainingToolCalls reports how many calls may still be dispatched.
func (m *Monitor) RemainingToolCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	left := m.config.MaxToolCalls - m.toolCalls
	if left < 0 {
		return 0
	}
	return left
}

// MaxReasoningLoops returns the per-message loop ceiling.
func (m *Monitor) MaxReasoningLoops() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config.MaxReasoningLoops
}

// AddSpend records LLM cost and tokens, returning an error if a limit is
// breached.
func (m *Monitor) AddSpend(cost float64, tokens int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.costUsed += cost
	m.tokensUsed += tokens
	if m.config.MaxCost != nil && m.costUsed > *m.config.MaxCost {
		return ErrExceeded{
			Kind:  "cost",
			Usage: fmt.Sprintf("$%.4f", m.costUsed),
			Limit: fmt.Sprintf("$%.4f", *m.config.MaxCost),
		}
	}
	if m.config.MaxTokens != nil && m.tokensUsed > *m.config.MaxTokens {
		return ErrExceeded{
			Kind:  "tokens",
			Usage: fmt.Sprintf("%d tokens", m.tokensUsed),
			Limit: fmt.Sprintf("%d tokens", *m.config.MaxTokens),
		}
	}
	return nil
}

// Usage returns the accumulated metrics.
func (m *Monitor) Usage() (toolCalls int, tokens int64, cost float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.toolCalls, m.tokensUsed, m.costUsed
}
