// Package types provides the shared domain model used across atelier packages.
// This package exists to break import cycles between session, persist, and
// events. Types here are foundational data structures with no heavy
// dependencies.
package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// CAPS
// =============================================================================

// Hard limits on per-session history. Oldest entries are evicted FIFO once a
// cap is hit, so a long-running session cannot grow without bound.
const (
	MaxMessages       = 1000
	MaxReasoningSteps = 100
	MaxToolCalls      = 500
)

// =============================================================================
// ENUMS
// =============================================================================

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ParseRole validates a wire-format role string. Unknown values are rejected
// rather than coerced so a tampered or future-versioned file fails loudly.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown message role %q", s)
}

// ToolCallStatus tracks a tool invocation through its lifecycle.
type ToolCallStatus string

const (
	ToolCallPending   ToolCallStatus = "pending"
	ToolCallRunning   ToolCallStatus = "running"
	ToolCallCompleted ToolCallStatus = "completed"
	ToolCallError     ToolCallStatus = "error"
)

// ParseToolCallStatus validates a wire-format tool call status.
func ParseToolCallStatus(s string) (ToolCallStatus, error) {
	switch ToolCallStatus(s) {
	case ToolCallPending, ToolCallRunning, ToolCallCompleted, ToolCallError:
		return ToolCallStatus(s), nil
	}
	return "", fmt.Errorf("unknown tool call status %q", s)
}

// TodoStatus tracks a todo item.
type TodoStatus string

const (
	TodoPending    TodoStatus = "pending"
	TodoInProgress TodoStatus = "in_progress"
	TodoCompleted  TodoStatus = "completed"
)

// ParseTodoStatus validates a wire-format todo status.
func ParseTodoStatus(s string) (TodoStatus, error) {
	switch TodoStatus(s) {
	case TodoPending, TodoInProgress, TodoCompleted:
		return TodoStatus(s), nil
	}
	return "", fmt.Errorf("unknown todo status %q", s)
}

// =============================================================================
// SESSION
// =============================================================================

// SessionConfig holds the LLM parameters a session was created with.
type SessionConfig struct {
	Provider    string  `json:"provider"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// Session is the immutable identity of one working session. It changes only
// through explicit rename/reconfigure/resume operations.
type Session struct {
	ID          string        `json:"id"` // UUIDv4
	Name        string        `json:"name"`
	ProjectPath string        `json:"project_path"` // absolute directory
	Config      SessionConfig `json:"config"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// NewSession creates a Session with a fresh UUIDv4 and both timestamps set
// to now.
func NewSession(name, projectPath string, cfg SessionConfig) Session {
	now := time.Now().UTC()
	return Session{
		ID:          uuid.NewString(),
		Name:        name,
		ProjectPath: projectPath,
		Config:      cfg,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// ValidateSessionID checks that id is a well-formed UUID.
func ValidateSessionID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("invalid session id %q: %w", id, err)
	}
	return nil
}

// =============================================================================
// CONVERSATION
// =============================================================================

// Message is one conversation entry, stored in append order.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage creates a Message with a fresh id and the current time.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// ReasoningStep records one intermediate thinking step from the assistant.
type ReasoningStep struct {
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ToolCall records one tool invocation and its outcome.
type ToolCall struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Args      map[string]string `json:"args,omitempty"`
	Result    string            `json:"result,omitempty"`
	Status    ToolCallStatus    `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
}

// Todo is one entry of the session's task list.
type Todo struct {
	Content    string     `json:"content"`
	Status     TodoStatus `json:"status"`
	ActiveForm string     `json:"active_form"`
}

// StreamingBuffer accumulates a partial assistant response while it is in
// flight. It exists only between StartStreaming and EndStreaming.
type StreamingBuffer struct {
	MessageID   string `json:"message_id"`
	Content     string `json:"content"`
	IsStreaming bool   `json:"is_streaming"`
}

// =============================================================================
// TOOL EXECUTION CONTEXT
// =============================================================================

// ToolContext is the execution context the core hands to the tool executor
// collaborator. All file and shell access performed under this context must
// route through the owning session's manager.
type ToolContext struct {
	SessionID   string        `json:"session_id"`
	ProjectRoot string        `json:"project_root"`
	Timeout     time.Duration `json:"timeout"`
}
