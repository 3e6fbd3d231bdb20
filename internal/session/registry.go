// Package session implements the concurrency core: the registry that bounds
// how many sessions run at once, the per-session state actor, the supervised
// worker tree around each session, and the top-level supervisor that owns
// them all.
package session

import (
	"path/filepath"
	"sync"

	"atelier/internal/errors"
	"atelier/internal/logging"
	"atelier/internal/types"
)

// Registry tracks every active session under one lock. It is the single
// serialization point for the session cap, project-path uniqueness, and resume
// mutual exclusion: whichever caller registers an id or path first wins, and
// everyone else gets a typed error.
type Registry struct {
	mu     sync.Mutex
	max    int
	byID   map[string]types.Session
	byPath map[string]string // canonical project path -> session id
}

// NewRegistry creates a Registry that admits at most max concurrent sessions.
func NewRegistry(max int) *Registry {
	if max <= 0 {
		max = 1
	}
	return &Registry{
		max:    max,
		byID:   make(map[string]types.Session),
		byPath: make(map[string]string),
	}
}

// Register admits sess, or reports why it cannot. The cap check, the id
// check, and the path-uniqueness check happen under one lock acquisition so
// two concurrent registrations can never both slip past a full registry or
// claim the same project.
func (r *Registry) Register(sess types.Session) error {
	path := filepath.Clean(sess.ProjectPath)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[sess.ID]; ok {
		return &errors.CapacityError{
			SessionID:   sess.ID,
			ProjectPath: path,
			Err:         errors.ErrAlreadyActive,
		}
	}
	if len(r.byID) >= r.max {
		logging.Registry("rejected session %s: %d/%d slots in use", sess.ID, len(r.byID), r.max)
		return &errors.CapacityError{
			SessionID:   sess.ID,
			ProjectPath: path,
			Err:         errors.ErrLimitReached,
		}
	}
	if holder, ok := r.byPath[path]; ok {
		logging.Registry("rejected session %s: path %s held by %s", sess.ID, path, holder)
		return &errors.CapacityError{
			SessionID:   sess.ID,
			ProjectPath: path,
			Err:         errors.ErrDuplicatePath,
		}
	}

	sess.ProjectPath = path
	r.byID[sess.ID] = sess
	r.byPath[path] = sess.ID
	logging.RegistryDebug("registered session %s at %s (%d/%d)", sess.ID, path, len(r.byID), r.max)
	return nil
}

// Unregister removes the session, freeing its slot and its path claim.
// Unregistering an unknown id is a no-op.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.byID[id]
	if !ok {
		return
	}
	delete(r.byID, id)
	delete(r.byPath, sess.ProjectPath)
	logging.RegistryDebug("unregistered session %s (%d/%d)", id, len(r.byID), r.max)
}

// Lookup returns the registered session by id.
func (r *Registry) Lookup(id string) (types.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.byID[id]
	return sess, ok
}

// LookupByPath returns the session holding the given project path.
func (r *Registry) LookupByPath(path string) (types.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byPath[filepath.Clean(path)]
	if !ok {
		return types.Session{}, false
	}
	return r.byID[id], true
}

// ListAll returns a snapshot of every registered session.
func (r *Registry) ListAll() []types.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.Session, 0, len(r.byID))
	for _, sess := range r.byID {
		out = append(out, sess)
	}
	return out
}

// Count returns the number of active sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}
