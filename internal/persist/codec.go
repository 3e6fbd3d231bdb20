// Package persist implements the sign-save-resume pipeline: tamper-evident
// JSON snapshots of stopped sessions, atomic writes, verified loads, and the
// registry-mediated resume flow that guarantees at most one live copy of a
// session exists at any time.
package persist

import (
	"fmt"
	"time"

	"atelier/internal/errors"
	"atelier/internal/session"
	"atelier/internal/types"
)

// schemaVersion is bumped whenever the on-disk shape changes incompatibly.
const schemaVersion = 1

// persistedSession is the exact on-disk shape. Enums and timestamps are plain
// strings so a file edited by hand or by another tool fails loudly at decode
// time instead of smuggling in coerced values. The signature field covers
// every other field; see sign/verify in store.go.
type persistedSession struct {
	Version      int                `json:"version"`
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	ProjectPath  string             `json:"project_path"`
	Config       persistedConfig    `json:"config"`
	CreatedAt    string             `json:"created_at"`
	UpdatedAt    string             `json:"updated_at"`
	ClosedAt     string             `json:"closed_at"`
	Signature    string             `json:"signature"`
	Conversation []persistedMessage `json:"conversation"`
	Todos        []persistedTodo    `json:"todos"`
}

type persistedConfig struct {
	Provider    string  `json:"provider"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

type persistedMessage struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

type persistedTodo struct {
	Content    string `json:"content"`
	Status     string `json:"status"`
	ActiveForm string `json:"active_form"`
}

// encode projects a snapshot into the wire shape. Reasoning steps and tool
// calls are ephemeral working state and are intentionally not persisted.
func encode(snap session.Snapshot, closedAt time.Time) persistedSession {
	p := persistedSession{
		Version:     schemaVersion,
		ID:          snap.Session.ID,
		Name:        snap.Session.Name,
		ProjectPath: snap.Session.ProjectPath,
		Config: persistedConfig{
			Provider:    snap.Session.Config.Provider,
			Model:       snap.Session.Config.Model,
			Temperature: snap.Session.Config.Temperature,
			MaxTokens:   snap.Session.Config.MaxTokens,
		},
		CreatedAt:    snap.Session.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:    snap.Session.UpdatedAt.UTC().Format(time.RFC3339Nano),
		ClosedAt:     closedAt.UTC().Format(time.RFC3339Nano),
		Conversation: make([]persistedMessage, 0, len(snap.Messages)),
		Todos:        make([]persistedTodo, 0, len(snap.Todos)),
	}
	for _, m := range snap.Messages {
		p.Conversation = append(p.Conversation, persistedMessage{
			ID:        m.ID,
			Role:      string(m.Role),
			Content:   m.Content,
			Timestamp: m.Timestamp.UTC().Format(time.RFC3339Nano),
		})
	}
	for _, td := range snap.Todos {
		p.Todos = append(p.Todos, persistedTodo{
			Content:    td.Content,
			Status:     string(td.Status),
			ActiveForm: td.ActiveForm,
		})
	}
	return p
}

// decode validates the wire shape strictly and rebuilds a snapshot. Every
// enum, timestamp, id, and cap is checked; anything off means the file is
// corrupt or forged.
func decode(p persistedSession) (session.Snapshot, error) {
	if p.Version != schemaVersion {
		return session.Snapshot{}, corrupt(p.ID, fmt.Errorf("unsupported schema version %d", p.Version))
	}
	if err := types.ValidateSessionID(p.ID); err != nil {
		return session.Snapshot{}, corrupt(p.ID, err)
	}
	if len(p.Conversation) > types.MaxMessages {
		return session.Snapshot{}, corrupt(p.ID, fmt.Errorf("conversation exceeds cap: %d", len(p.Conversation)))
	}

	createdAt, err := parseTime("created_at", p.CreatedAt)
	if err != nil {
		return session.Snapshot{}, corrupt(p.ID, err)
	}
	updatedAt, err := parseTime("updated_at", p.UpdatedAt)
	if err != nil {
		return session.Snapshot{}, corrupt(p.ID, err)
	}
	if _, err := parseTime("closed_at", p.ClosedAt); err != nil {
		return session.Snapshot{}, corrupt(p.ID, err)
	}

	snap := session.Snapshot{
		Session: types.Session{
			ID:          p.ID,
			Name:        p.Name,
			ProjectPath: p.ProjectPath,
			Config: types.SessionConfig{
				Provider:    p.Config.Provider,
				Model:       p.Config.Model,
				Temperature: p.Config.Temperature,
				MaxTokens:   p.Config.MaxTokens,
			},
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		Messages: make([]types.Message, 0, len(p.Conversation)),
		Todos:    make([]types.Todo, 0, len(p.Todos)),
	}

	for i, m := range p.Conversation {
		role, err := types.ParseRole(m.Role)
		if err != nil {
			return session.Snapshot{}, corrupt(p.ID, fmt.Errorf("message %d: %w", i, err))
		}
		ts, err := parseTime(fmt.Sprintf("message %d timestamp", i), m.Timestamp)
		if err != nil {
			return session.Snapshot{}, corrupt(p.ID, err)
		}
		snap.Messages = append(snap.Messages, types.Message{
			ID:        m.ID,
			Role:      role,
			Content:   m.Content,
			Timestamp: ts,
		})
	}
	for i, td := range p.Todos {
		status, err := types.ParseTodoStatus(td.Status)
		if err != nil {
			return session.Snapshot{}, corrupt(p.ID, fmt.Errorf("todo %d: %w", i, err))
		}
		snap.Todos = append(snap.Todos, types.Todo{
			Content:    td.Content,
			Status:     status,
			ActiveForm: td.ActiveForm,
		})
	}
	return snap, nil
}

func parseTime(field, value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad %s %q: %w", field, value, err)
	}
	return t, nil
}

func corrupt(id string, err error) error {
	return &errors.IntegrityError{
		Path: id,
		Err:  fmt.Errorf("%w: %v", errors.ErrCorrupt, err),
	}
}
