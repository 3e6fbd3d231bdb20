package session

import (
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"atelier/internal/audit"
	"atelier/internal/config"
	"atelier/internal/errors"
	"atelier/internal/events"
	"atelier/internal/logging"
	"atelier/internal/types"
)

// Top is the top-level supervisor. It owns the registry and one Supervisor
// per active session; sessions are isolated one-for-one at this level, so a
// failing session tree takes down nothing but itself.
type Top struct {
	registry *Registry
	router   *events.Router
	store    *audit.Store
	clients  ClientFactory

	stopTimeout    time.Duration
	checkOwnership bool

	mu   sync.Mutex
	sups map[string]*Supervisor
}

// NewTop creates the top-level supervisor. store may be nil to disable
// auditing; router may be nil when no UI is attached.
func NewTop(cfg *config.Config, router *events.Router, store *audit.Store, clients ClientFactory) *Top {
	stopTimeout, err := cfg.StopTimeout()
	if err != nil {
		stopTimeout = 10 * time.Second
	}
	return &Top{
		registry:       NewRegistry(cfg.Sessions.MaxSessions),
		router:         router,
		store:          store,
		clients:        clients,
		stopTimeout:    stopTimeout,
		checkOwnership: cfg.Security.CheckOwnership,
		sups:           make(map[string]*Supervisor),
	}
}

// Registry exposes the session registry. Resume coordination registers
// through it before any worker tree is built.
func (t *Top) Registry() *Registry { return t.registry }

// CreateSession starts a brand new session rooted at projectPath. The
// registry is consulted first, so the cap and path-uniqueness checks gate
// every tree before a single goroutine is spawned.
func (t *Top) CreateSession(name, projectPath string, cfg types.SessionConfig) (types.Session, error) {
	info, err := os.Stat(projectPath)
	if err != nil {
		return types.Session{}, errors.NewValidationError("project_path", projectPath, err)
	}
	if !info.IsDir() {
		return types.Session{}, errors.NewValidationError("project_path", projectPath,
			fmt.Errorf("not a directory"))
	}

	sess := types.NewSession(name, projectPath, cfg)
	if err := t.registry.Register(sess); err != nil {
		return types.Session{}, err
	}
	if err := t.start(sess, nil); err != nil {
		t.registry.Unregister(sess.ID)
		return types.Session{}, err
	}
	t.publish(sess.ID, events.KindSessionStarted, sess)
	logging.Session("created session %s (%s) at %s", sess.ID, sess.Name, sess.ProjectPath)
	return sess, nil
}

// Restore starts a worker tree for a session whose identity and history were
// recovered from disk. The caller must have registered the session already;
// on failure the caller unregisters, keeping registration and rollback in one
// place.
func (t *Top) Restore(snap Snapshot) error {
	if _, ok := t.registry.Lookup(snap.Session.ID); !ok {
		return errors.Internal(
			fmt.Sprintf("restore session %s", snap.Session.ID),
			fmt.Errorf("session not registered"),
		)
	}
	if err := t.start(snap.Session, &snap); err != nil {
		return err
	}
	t.publish(snap.Session.ID, events.KindSessionResumed, snap.Session)
	logging.Session("resumed session %s (%s) with %d messages",
		snap.Session.ID, snap.Session.Name, len(snap.Messages))
	return nil
}

func (t *Top) start(sess types.Session, restore *Snapshot) error {
	sup, err := startSupervisor(sess, restore, t.router, t.store, t.clients, t.checkOwnership, t.onChildExit)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.sups[sess.ID] = sup
	t.mu.Unlock()
	return nil
}

// onChildExit handles a session tree that tore itself down after a child
// failure. The slot and path claim are released so the project can be
// reopened.
func (t *Top) onChildExit(id string, cause error) {
	t.mu.Lock()
	delete(t.sups, id)
	t.mu.Unlock()

	t.registry.Unregister(id)
	t.publish(id, events.KindSessionStopped, cause.Error())
	if t.router != nil {
		t.router.ForgetSession(id)
	}
	logging.Supervisor("session %s removed after failure: %v", id, cause)
}

// StopSession gracefully stops one session and releases its registry slot.
func (t *Top) StopSession(id string) error {
	t.mu.Lock()
	sup, ok := t.sups[id]
	if ok {
		delete(t.sups, id)
	}
	t.mu.Unlock()
	if !ok {
		return &errors.AvailabilityError{Resource: "session " + id, Err: errors.ErrNotFound}
	}

	sup.Stop(t.stopTimeout)
	t.registry.Unregister(id)
	t.publish(id, events.KindSessionStopped, nil)
	if t.router != nil {
		t.router.ForgetSession(id)
	}
	logging.Session("stopped session %s", id)
	return nil
}

// Get returns the supervisor for id.
func (t *Top) Get(id string) (*Supervisor, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sup, ok := t.sups[id]
	return sup, ok
}

// GetState returns the state actor for id.
func (t *Top) GetState(id string) (*State, bool) {
	sup, ok := t.Get(id)
	if !ok {
		return nil, false
	}
	return sup.State(), true
}

// GetAgent returns the conversation worker for id.
func (t *Top) GetAgent(id string) (*Agent, bool) {
	sup, ok := t.Get(id)
	if !ok {
		return nil, false
	}
	return sup.Agent(), true
}

// GetManager returns the file gateway for id.
func (t *Top) GetManager(id string) (*Manager, bool) {
	sup, ok := t.Get(id)
	if !ok {
		return nil, false
	}
	return sup.Manager(), true
}

// ListActive returns every running session.
func (t *Top) ListActive() []types.Session {
	return t.registry.ListAll()
}

// Shutdown stops all sessions concurrently and waits for every tree to
// finish.
func (t *Top) Shutdown() {
	t.mu.Lock()
	sups := make([]*Supervisor, 0, len(t.sups))
	for _, sup := range t.sups {
		sups = append(sups, sup)
	}
	t.sups = make(map[string]*Supervisor)
	t.mu.Unlock()

	var g errgroup.Group
	for _, sup := range sups {
		sup := sup
		g.Go(func() error {
			sup.Stop(t.stopTimeout)
			t.registry.Unregister(sup.Session().ID)
			return nil
		})
	}
	_ = g.Wait() // children report nothing fatal on stop
	logging.Session("top supervisor shut down (%d sessions stopped)", len(sups))
}

func (t *Top) publish(sessionID string, kind events.Kind, payload interface{}) {
	if t.router != nil {
		t.router.Publish(events.NewEvent(sessionID, kind, payload))
	}
}
