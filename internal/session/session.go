// Package session holds the per-conversation state: the ordered, append-only
// turn history plus the forward-only lifecycle status. A session is owned by
// exactly one orchestrator loop at a time and is never shared across
// conversations.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Turn roles.
const (
	RoleUser  = "user"
	RoleAgent = "agent"
	RoleTool  = "tool"
)

// Session statuses. Transitions only move forward:
// active -> completed | failed.
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Tool result statuses.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// ToolCall is a single dispatched invocation. Immutable once created.
type ToolCall struct {
	ID   string                 `json:"id"`
	Tool string                 `json:"tool"`
	Args map[string]interface{} `json:"args,omitempty"`
}

// ToolRecord is the outcome of exactly one ToolCall, matched by call id.
type ToolRecord struct {
	CallID       string `json:"call_id"`
	Status       string `json:"status"`
	Content      string `json:"content,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// Turn is one entry in the conversation history.
type Turn struct {
	Role      string      `json:"role"`
	Content   string      `json:"content,omitempty"`
	Call      *ToolCall   `json:"call,omitempty"`
	Record    *ToolRecord `json:"record,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// Session is one caller's multi-turn conversation.
type Session struct {
	mu        sync.RWMutex
	id        string
	userID    string
	status    string
	turns     []Turn
	calls     map[string]bool // call id -> has a record
	createdAt time.Time
	updatedAt time.Time
}

// New creates an active session. An empty id gets a fresh UUID.
func New(id, userID string) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()
	return &Session{
		id:        id,
		userID:    userID,
		status:    StatusActive,
		calls:     make(map[string]bool),
		createdAt: now,
		updatedAt: now,
	}
}

func (s *Session) ID() string     { return s.id }
func (s *Session) UserID() string { return s.userID }

// Status returns the current lifecycle status.
func (s *Session) Status() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Turns returns a copy of the history in append order.
func (s *Session) Turns() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// UpdatedAt reports the time of the last append or status change.
func (s *Session) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

// Append adds a turn to the history. Tool call ids must be unique within the
// session; a tool record must reference a prior call that has no record yet.
func (s *Session) Append(turn Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusActive {
		return fmt.Errorf("session %s is %s, history is sealed", s.id, s.status)
	}
	if turn.Call != nil {
		if _, seen := s.calls[turn.Call.ID]; seen {
			return fmt.Errorf("duplicate tool call id %s", turn.Call.ID)
		}
		s.calls[turn.Call.ID] = false
	}
	if turn.Record != nil {
		resolved, seen := s.calls[turn.Record.CallID]
		if !seen {
			return fmt.Errorf("tool record references unknown call id %s", turn.Record.CallID)
		}
		if resolved {
			return fmt.Errorf("tool call %s already has a record", turn.Record.CallID)
		}
		s.calls[turn.Record.CallID] = true
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	s.turns = append(s.turns, turn)
	s.updatedAt = turn.CreatedAt
	return nil
}

// Transition moves the session to a terminal status. Moving backwards, or
// out of a terminal status, is rejected.
func (s *Session) Transition(status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status != StatusCompleted && status != StatusFailed {
		return fmt.Errorf("invalid target status %q", status)
	}
	if s.status != StatusActive {
		if s.status == status {
			return nil
		}
		return fmt.Errorf("session %s already %s", s.id, s.status)
	}
	s.status = status
	s.updatedAt = time.Now().UTC()
	return nil
}

// Answered reports whether the conversation is at rest on an agent answer,
// with no message mid-flight. Sessions ending in this state close as
// completed; anything else closes as failed.
func (s *Session) Answered() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.turns) == 0 {
		return false
	}
	last := s.turns[len(s.turns)-1]
	return last.Role == RoleAgent && last.Call == nil && last.Content != ""
}

// UnresolvedCalls returns call ids that have no matching record yet.
func (s *Session) UnresolvedCalls() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for _, turn := range s.turns {
		if turn.Call != nil && !s.calls[turn.Call.ID] {
			out = append(out, turn.Call.ID)
		}
	}
	return out
}

// Restore rebuilds a session from persisted state. Used when rehydrating
// from the store or cache; validation mirrors Append.
func Restore(id, userID, status string, turns []Turn) (*Session, error) {
	s := New(id, userID)
	for _, turn := range turns {
		if err := s.Append(turn); err != nil {
			return nil, fmt.Errorf("restore %s: %w", id, err)
		}
	}
	if status != StatusActive {
		if err := s.Transition(status); err != nil {
			return nil, err
		}
	}
	return s, nil
}
