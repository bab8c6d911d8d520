// Package llm holds the reasoning-model providers. Failures surface as
// toolerr.ErrReasoningUnavailable so the control loop can back off and retry
// instead of fabricating an answer.
package llm

import (
	"context"
	"fmt"
	"time"
)

const DefaultTimeout = 60 * time.Second

// Usage is the token and dollar accounting for one completion.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	Cost         float64
}

// Provider produces one completion per call. Implementations are safe for
// concurrent use.
type Provider interface {
	Complete(ctx context.Context, system, prompt string) (string, Usage, error)
	Model() string
}

// Config selects and parametrizes a provider.
type Config struct {
	Provider        string // "openai" | "anthropic"
	APIKey          string
	BaseURL         string
	Model           string
	Temperature     float64
	MaxTokens       int
	Timeout         time.Duration
	CostPer1KInput  float64
	CostPer1KOutput float64
}

func (c *Config) normalize() {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 4096
	}
}

// NewProvider builds the configured provider.
func NewProvider(cfg Config) (Provider, error) {
	cfg.normalize()
	switch cfg.Provider {
	case "openai":
		return NewOpenAIProvider(cfg), nil
	case "anthropic":
		return NewAnthropicProvider(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider type: %s", cfg.Provider)
	}
}

func cost(cfg Config, usage Usage) float64 {
	inputCost := float64(usage.InputTokens) / 1000.0 * cfg.CostPer1KInput
	outputCost := float64(usage.OutputTokens) / 1000.0 * cfg.CostPer1KOutput
	return inputCost + outputCost
}
