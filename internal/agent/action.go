package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/arman-khosravi/tabletalk/internal/session"
)

// Action is what one reasoning step asks for: either a final answer or a
// round of tool calls, never both.
type Action struct {
	Answer    string
	ToolCalls []session.ToolCall
}

type actionPayload struct {
	Answer    string `json:"answer"`
	ToolCalls []struct {
		Tool string                 `json:"tool"`
		Args map[string]interface{} `json:"args"`
	} `json:"tool_calls"`
}

// parseAction decodes the model's reply. Models wrap JSON in prose or code
// fences often enough that we extract the outermost object before decoding.
func parseAction(reply string) (Action, error) {
	raw := extractJSON(reply)
	if raw == "" {
		return Action{}, fmt.Errorf("no JSON object in reply")
	}
	var payload actionPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return Action{}, fmt.Errorf("decode action: %w", err)
	}
	if payload.Answer == "" && len(payload.ToolCalls) == 0 {
		return Action{}, fmt.Errorf("action carries neither answer nor tool_calls")
	}
	if payload.Answer != "" && len(payload.ToolCalls) > 0 {
		return Action{}, fmt.Errorf("action carries both answer and tool_calls")
	}

	action := Action{Answer: payload.Answer}
	for _, call := range payload.ToolCalls {
		if strings.TrimSpace(call.Tool) == "" {
			return Action{}, fmt.Errorf("tool call without a tool name")
		}
		action.ToolCalls = append(action.ToolCalls, session.ToolCall{
			Tool: call.Tool,
			Args: call.Args,
		})
	}
	return action, nil
}

// extractJSON returns the first balanced top-level JSON object in s.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1]
				}
			}
		}
	}
	return ""
}
