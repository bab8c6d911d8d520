package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/arman-khosravi/tabletalk/internal/toolerr"
)

// OpenAIProvider talks to the chat completions endpoint.
type OpenAIProvider struct {
	cfg    Config
	client *http.Client
}

func NewOpenAIProvider(cfg Config) *OpenAIProvider {
	cfg.normalize()
	return &OpenAIProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (p *OpenAIProvider) Model() string { return p.cfg.Model }

func (p *OpenAIProvider) Complete(ctx context.Context, system, prompt string) (string, Usage, error) {
	apiKey := p.cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return "", Usage{}, fmt.Errorf("OpenAI API key not configured")
	}

	type chatMsg struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	type chatReq struct {
		Model       string    `json:"model"`
		Messages    []chatMsg `json:"messages"`
		Temperature float64   `json:"temperature,omitempty"`
		MaxTokens   int       `json:"max_tokens,omitempty"`
	}

	messages := []chatMsg{}
	if system != "" {
		messages = append(messages, chatMsg{Role: "system", Content: system})
	}
	messages = append(messages, chatMsg{Role: "user", Content: prompt})

	body, err := json.Marshal(chatReq{
		Model:       p.cfg.Model,
		Messages:    messages,
		Temperature: p.cfg.Temperature,
		MaxTokens:   p.cfg.MaxTokens,
	})
	if err != nil {
		return "", Usage{}, fmt.Errorf("marshal: %w", err)
	}

	baseURL := p.cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	req, err := http.NewRequestWithContext(ctx, "POST", baseURL+"/chat/completions", bytes.NewBuffer(body))
	if err != nil {
		return "", Usage{}, fmt.Errorf("request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", Usage{}, fmt.Errorf("openai: %v: %w", err, toolerr.ErrReasoningUnavailable)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", Usage{}, fmt.Errorf("openai status %d: %w", resp.StatusCode, toolerr.ErrReasoningUnavailable)
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", Usage{}, fmt.Errorf("decode: %v: %w", err, toolerr.ErrReasoningUnavailable)
	}
	if len(out.Choices) == 0 {
		return "", Usage{}, fmt.Errorf("openai returned no choices: %w", toolerr.ErrReasoningUnavailable)
	}

	usage := Usage{
		InputTokens:  int64(out.Usage.PromptTokens),
		OutputTokens: int64(out.Usage.CompletionTokens),
	}
	usage.Cost = cost(p.cfg, usage)
	return out.Choices[0].Message.Content, usage, nil
}
