package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/arman-khosravi/tabletalk/internal/toolerr"
)

// AnthropicProvider talks to the messages endpoint.
type AnthropicProvider struct {
	cfg    Config
	client *http.Client
}

func NewAnthropicProvider(cfg Config) *AnthropicProvider {
	cfg.normalize()
	return &AnthropicProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (p *AnthropicProvider) Model() string { return p.cfg.Model }

func (p *AnthropicProvider) Complete(ctx context.Context, system, prompt string) (string, Usage, error) {
	apiKey := p.cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return "", Usage{}, fmt.Errorf("Anthropic API key not configured")
	}

	type message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	type messagesReq struct {
		Model       string    `json:"model"`
		System      string    `json:"system,omitempty"`
		Messages    []message `json:"messages"`
		Temperature float64   `json:"temperature,omitempty"`
		MaxTokens   int       `json:"max_tokens"`
	}

	body, err := json.Marshal(messagesReq{
		Model:       p.cfg.Model,
		System:      system,
		Messages:    []message{{Role: "user", Content: prompt}},
		Temperature: p.cfg.Temperature,
		MaxTokens:   p.cfg.MaxTokens,
	})
	if err != nil {
		return "", Usage{}, fmt.Errorf("marshal: %w", err)
	}

	baseURL := p.cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.anthropic.com/v1"
	}
	req, err := http.NewRequestWithContext(ctx, "POST", baseURL+"/messages", bytes.NewBuffer(body))
	if err != nil {
		return "", Usage{}, fmt.Errorf("request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", Usage{}, fmt.Errorf("anthropic: %v: %w", err, toolerr.ErrReasoningUnavailable)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", Usage{}, fmt.Errorf("anthropic status %d: %w", resp.StatusCode, toolerr.ErrReasoningUnavailable)
	}

	var out struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", Usage{}, fmt.Errorf("decode: %v: %w", err, toolerr.ErrReasoningUnavailable)
	}

	var parts []string
	for _, block := range out.Content {
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	if len(parts) == 0 {
		return "", Usage{}, fmt.Errorf("anthropic returned no text content: %w", toolerr.ErrReasoningUnavailable)
	}

	usage := Usage{
		InputTokens:  int64(out.Usage.InputTokens),
		OutputTokens: int64(out.Usage.OutputTokens),
	}
	usage.Cost = cost(p.cfg, usage)
	return strings.Join(parts, "\n"), usage, nil
}
