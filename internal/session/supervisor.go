package session

import (
	"sync"
	"time"

	"atelier/internal/audit"
	"atelier/internal/events"
	"atelier/internal/logging"
	"atelier/internal/security"
	"atelier/internal/types"
)

// ClientFactory builds the stream client for a newly started session.
type ClientFactory func(sess types.Session) (StreamClient, error)

// Restart intensity: more than maxRestarts child failures inside
// restartWindow escalates to the top level instead of looping forever.
const (
	maxRestarts   = 3
	restartWindow = time.Minute
)

// Supervisor owns one session's worker tree: the state actor, the agent
// worker, and the file manager. Supervision is all-for-one within the tree:
// when a child dies abnormally every sibling is stopped and the whole set is
// restarted together, so the agent can never observe state from before the
// crash. Repeated failures escalate upward and the session is removed.
type Supervisor struct {
	sess      types.Session
	router    *events.Router
	store     *audit.Store
	clients   ClientFactory
	validator *security.Validator
	manager   *Manager

	onExit func(id string, cause error)

	mu    sync.Mutex
	state *State
	agent *Agent

	childErr chan error
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// startSupervisor builds and starts the full worker tree for sess. When
// restore is non-nil the state actor is seeded from it instead of starting
// empty. Startup is atomic: if any step fails, everything already started is
// rolled back and an error is returned instead of a partially wired tree.
func startSupervisor(
	sess types.Session,
	restore *Snapshot,
	router *events.Router,
	store *audit.Store,
	clients ClientFactory,
	checkOwnership bool,
	onExit func(id string, cause error),
) (*Supervisor, error) {
	var opts []security.Option
	if checkOwnership {
		opts = append(opts, security.WithOwnershipCheck())
	}
	validator, err := security.NewValidator(sess.ProjectPath, opts...)
	if err != nil {
		return nil, err
	}

	s := &Supervisor{
		sess:      sess,
		router:    router,
		store:     store,
		clients:   clients,
		validator: validator,
		onExit:    onExit,
		childErr:  make(chan error, 1),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	s.manager = NewManager(sess.ID, validator, store)

	if err := s.startChildren(restore); err != nil {
		return nil, err
	}
	go s.run()

	logging.Supervisor("session %s tree started (root %s)", sess.ID, validator.Root())
	return s, nil
}

// startChildren brings up the state actor and the agent. On failure nothing
// stays running.
func (s *Supervisor) startChildren(restore *Snapshot) error {
	var state *State
	if restore != nil {
		state = NewStateFromSnapshot(*restore, s.router)
	} else {
		state = NewState(s.sess, s.router)
	}

	client, err := s.clients(s.sess)
	if err != nil {
		state.Close()
		return err
	}
	agent := NewAgent(state, client, s.reportChildFailure)

	s.mu.Lock()
	s.state = state
	s.agent = agent
	s.mu.Unlock()
	return nil
}

// stopChildren tears the tree down in order: the agent first, so no new
// operations reach the state actor, then the actor itself.
func (s *Supervisor) stopChildren() {
	s.mu.Lock()
	state, agent := s.state, s.agent
	s.mu.Unlock()
	if agent != nil {
		agent.Stop()
	}
	if state != nil {
		state.Close()
	}
}

// reportChildFailure is the agent's fatal-error callback. It runs on the
// dying child's goroutine, so it only posts the error; the supervisor loop
// does the actual stop/restart work.
func (s *Supervisor) reportChildFailure(cause error) {
	select {
	case s.childErr <- cause:
	default:
	}
}

// run is the supervisor loop: it waits for a child failure or a stop request
// and restarts or unwinds accordingly. New requests reach the tree again only
// after a restart fully completed, because the accessors hand out the new
// children only once startChildren has swapped them in.
func (s *Supervisor) run() {
	var failures []time.Time

	for {
		select {
		case cause := <-s.childErr:
			logging.SupervisorError("session %s child failed: %v", s.sess.ID, cause)
			s.stopChildren()

			now := time.Now()
			live := failures[:0]
			for _, ts := range failures {
				if now.Sub(ts) < restartWindow {
					live = append(live, ts)
				}
			}
			failures = append(live, now)

			if len(failures) > maxRestarts {
				logging.SupervisorError("session %s exceeded %d restarts in %s, giving up",
					s.sess.ID, maxRestarts, restartWindow)
				s.exit(cause)
				return
			}

			if err := s.startChildren(nil); err != nil {
				logging.SupervisorError("session %s restart failed: %v", s.sess.ID, err)
				s.exit(err)
				return
			}
			logging.SupervisorWarn("session %s tree restarted (attempt %d/%d)",
				s.sess.ID, len(failures), maxRestarts)
			if s.router != nil {
				s.router.Publish(events.NewEvent(s.sess.ID, events.KindSessionRestored, cause.Error()))
			}

		case <-s.quit:
			s.stopChildren()
			close(s.done)
			return
		}
	}
}

// exit unwinds after an unrecoverable failure. Children are already stopped.
func (s *Supervisor) exit(cause error) {
	close(s.done)
	if s.onExit != nil {
		s.onExit(s.sess.ID, cause)
	}
}

// Session returns the supervised session's identity.
func (s *Supervisor) Session() types.Session { return s.sess }

// State returns the session's current state actor.
func (s *Supervisor) State() *State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Agent returns the session's current conversation worker.
func (s *Supervisor) Agent() *Agent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agent
}

// Manager returns the session's file gateway.
func (s *Supervisor) Manager() *Manager { return s.manager }

// Done is closed once the tree has fully stopped, for any reason.
func (s *Supervisor) Done() <-chan struct{} { return s.done }

// Stop tears the tree down. If teardown exceeds timeout the call returns
// anyway and the leak is logged.
func (s *Supervisor) Stop(timeout time.Duration) {
	s.stopOnce.Do(func() { close(s.quit) })
	select {
	case <-s.done:
		logging.Supervisor("session %s tree stopped", s.sess.ID)
	case <-time.After(timeout):
		logging.SupervisorWarn("session %s tree did not stop within %s", s.sess.ID, timeout)
	}
}