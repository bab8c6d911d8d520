package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/arman-khosravi/tabletalk/internal/capability"
	"github.com/arman-khosravi/tabletalk/internal/session"
)

const systemPromptHeader = `You are a data assistant with access to a relational database, YouTube
transcripts and web pages through tools. You must reply with a single JSON
object and nothing else. Reply either with a final answer:

  {"answer": "..."}

or with one round of tool calls:

  {"tool_calls": [{"tool": "<name>", "args": {...}}, ...]}

Issue multiple tool calls in one round only when they do not depend on each
other. Ground answers in tool results; if a tool fails, adapt or say what
went wrong. Available tools:`

const correctiveMessage = `Your previous reply was not a valid action. Reply with exactly one JSON
object: {"answer": "..."} or {"tool_calls": [{"tool": ..., "args": {...}}]}.`

const forcedAnswerMessage = `The tool budget for this session is exhausted. Reply now with
{"answer": "..."} giving the best answer you can from the conversation so
far, noting anything you could not verify.`

func buildSystemPrompt(specs []capability.ToolSpec) string {
	var b strings.Builder
	b.WriteString(systemPromptHeader)
	b.WriteString("\n")
	for _, spec := range specs {
		schema, _ := json.Marshal(spec.InputSchema)
		fmt.Fprintf(&b, "\n- %s: %s\n  args schema: %s", spec.Name, spec.Description, schema)
	}
	return b.String()
}

// buildHistoryPrompt renders the session transcript the way the reasoning
// step consumes it.
func buildHistoryPrompt(turns []session.Turn) string {
	var b strings.Builder
	for _, turn := range turns {
		switch {
		case turn.Call != nil:
			args, _ := json.Marshal(turn.Call.Args)
			fmt.Fprintf(&b, "[agent -> %s] call %s args=%s\n", turn.Call.Tool, turn.Call.ID, args)
		case turn.Record != nil:
			if turn.Record.Status == session.ResultOK {
				fmt.Fprintf(&b, "[tool result %s]\n%s\n", turn.Record.CallID, turn.Record.Content)
			} else {
				fmt.Fprintf(&b, "[tool error %s] code=%s %s\n", turn.Record.CallID, turn.Record.ErrorCode, turn.Record.ErrorMessage)
			}
		default:
			fmt.Fprintf(&b, "[%s] %s\n", turn.Role, turn.Content)
		}
	}
	b.WriteString("\nNext action:")
	return b.String()
}
