package session

import (
	"os"
	"time"

	"atelier/internal/audit"
	"atelier/internal/errors"
	"atelier/internal/security"
	"atelier/internal/types"
)

// Manager is one session's gateway to the filesystem. Every read, write, and
// listing goes through the session's boundary validator, and every attempt is
// recorded in the audit trail, including the denied ones.
type Manager struct {
	sessionID string
	validator *security.Validator
	audit     *audit.Store // nil disables auditing
}

// NewManager creates the file gateway for a session rooted at the validator's
// project root.
func NewManager(sessionID string, validator *security.Validator, store *audit.Store) *Manager {
	return &Manager{sessionID: sessionID, validator: validator, audit: store}
}

// Root returns the canonical project root this manager is confined to.
func (m *Manager) Root() string { return m.validator.Root() }

// ToolContext builds the execution context handed to tool executors working
// under this session.
func (m *Manager) ToolContext(timeout time.Duration) types.ToolContext {
	return types.ToolContext{
		SessionID:   m.sessionID,
		ProjectRoot: m.validator.Root(),
		Timeout:     timeout,
	}
}

// ReadFile returns the contents of path after boundary validation.
func (m *Manager) ReadFile(path string) ([]byte, error) {
	resolved, err := m.validator.ValidateExisting(path)
	if err != nil {
		m.record(audit.OpRead, path, "", 0, err)
		return nil, err
	}
	data, err := m.validator.ReadFile(path)
	m.record(audit.OpRead, path, resolved, len(data), err)
	return data, err
}

// WriteFile writes data to path after boundary validation, creating parent
// directories inside the boundary as needed.
func (m *Manager) WriteFile(path string, data []byte) error {
	resolved, err := m.validator.ValidatePath(path)
	if err != nil {
		m.record(audit.OpWrite, path, "", 0, err)
		return err
	}
	err = m.validator.WriteFile(path, data)
	m.record(audit.OpWrite, path, resolved, len(data), err)
	return err
}

// ListDir returns the entries of the directory at path after boundary
// validation.
func (m *Manager) ListDir(path string) ([]os.DirEntry, error) {
	resolved, err := m.validator.ValidateExisting(path)
	if err != nil {
		m.record(audit.OpList, path, "", 0, err)
		return nil, err
	}
	entries, err := m.validator.ListDir(path)
	m.record(audit.OpList, path, resolved, len(entries), err)
	return entries, err
}

func (m *Manager) record(op audit.Op, path, resolved string, n int, err error) {
	if m.audit == nil {
		return
	}
	e := audit.Event{
		SessionID: m.sessionID,
		Op:        op,
		Path:      path,
		Resolved:  resolved,
		Success:   err == nil,
		Bytes:     n,
	}
	if err != nil {
		e.Error = err.Error()
		e.Denied = isDenial(err)
	}
	m.audit.Record(e)
}

// isDenial distinguishes validator rejections from plain I/O failures.
func isDenial(err error) bool {
	return errors.Is(err, errors.ErrOutsideBoundary) ||
		errors.Is(err, errors.ErrSymlinkEscape) ||
		errors.Is(err, errors.ErrOwnershipMismatch)
}
