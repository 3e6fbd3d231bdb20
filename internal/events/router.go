// Package events routes session-scoped events to subscribers. Each session
// is its own topic; an event always carries the session id it belongs to, so
// a subscriber can never attribute activity to the wrong session.
//
// Delivery is synchronous with panic isolation: an event handed to Publish is
// dispatched to every subscriber before Publish returns, so events are never
// dropped, and one misbehaving handler cannot block the others.
//
// Subscribers consume on two tiers. Events for their focused session arrive
// in full (the subscriber is expected to re-sync its detailed view). Events
// for any other session arrive as a lightweight activity marker (streaming
// flag, unread count, pending tool count), enough to badge a session list
// without shipping payloads the subscriber would discard. What to render is
// the UI collaborator's problem, not this package's.
package events

import (
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"atelier/internal/logging"
)

// Kind classifies an event.
type Kind string

const (
	KindSessionStarted  Kind = "session.started"
	KindSessionStopped  Kind = "session.stopped"
	KindSessionResumed  Kind = "session.resumed"
	KindSessionRestored Kind = "session.restored" // supervisor restart completed

	KindMessageAppended Kind = "message.appended"
	KindStreamStarted   Kind = "stream.started"
	KindStreamChunk     Kind = "stream.chunk"
	KindStreamEnded     Kind = "stream.ended"
	KindTodosUpdated    Kind = "todos.updated"
	KindToolCallAdded   Kind = "toolcall.added"
	KindToolCallUpdated Kind = "toolcall.updated"

	KindPersistedAdded   Kind = "persisted.added"   // file appeared in sessions dir
	KindPersistedRemoved Kind = "persisted.removed" // file consumed or cleaned up
)

// Event is one session-scoped occurrence.
type Event struct {
	SessionID string
	Kind      Kind
	Payload   interface{}
	Timestamp time.Time
}

// NewEvent stamps an event with the current time.
func NewEvent(sessionID string, kind Kind, payload interface{}) Event {
	return Event{SessionID: sessionID, Kind: kind, Payload: payload, Timestamp: time.Now()}
}

// Activity is the lightweight marker delivered for non-focused sessions.
type Activity struct {
	SessionID        string
	Streaming        bool
	UnreadCount      int
	PendingToolCalls int
}

// Handler receives full events for the subscriber's focused session.
type Handler func(Event)

// ActivityHandler receives markers for all other sessions.
type ActivityHandler func(Activity)

type subscription struct {
	id         string
	focus      string
	onFocused  Handler
	onActivity ActivityHandler
	unread     map[string]int // per-session unread counts while not focused
}

// sessionActivity is router-global per-session state backing the markers.
type sessionActivity struct {
	streaming   bool
	pendingTool int
}

// Router fans session events out to subscribers.
type Router struct {
	mu       sync.RWMutex
	subs     map[string]*subscription
	activity map[string]*sessionActivity
	nextID   uint64
}

// NewRouter creates an empty Router.
func NewRouter() *Router {
	return &Router{
		subs:     make(map[string]*subscription),
		activity: make(map[string]*sessionActivity),
	}
}

// Subscribe registers a subscriber. focus may be empty (no focused session:
// everything arrives as activity markers). Returns the subscription id.
func (r *Router) Subscribe(focus string, onFocused Handler, onActivity ActivityHandler) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := fmt.Sprintf("sub-%d", r.nextID)
	r.subs[id] = &subscription{
		id:         id,
		focus:      focus,
		onFocused:  onFocused,
		onActivity: onActivity,
		unread:     make(map[string]int),
	}
	return id
}

// Unsubscribe removes a subscription. Returns false if the id is unknown.
func (r *Router) Unsubscribe(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[id]; !ok {
		return false
	}
	delete(r.subs, id)
	return true
}

// SetFocus switches a subscriber's focused session and clears its unread
// count for that session, since focusing implies a full state sync.
func (r *Router) SetFocus(subID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[subID]
	if !ok {
		return
	}
	sub.focus = sessionID
	delete(sub.unread, sessionID)
}

// Publish dispatches an event to all subscribers. Focused subscribers get
// the full event; the rest get an activity marker for the event's session.
func (r *Router) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	r.mu.Lock()
	act := r.trackLocked(e)

	type delivery struct {
		sub     *subscription
		focused bool
		marker  Activity
	}
	deliveries := make([]delivery, 0, len(r.subs))
	for _, sub := range r.subs {
		if sub.focus == e.SessionID {
			deliveries = append(deliveries, delivery{sub: sub, focused: true})
			continue
		}
		if countsAsUnread(e.Kind) {
			sub.unread[e.SessionID]++
		}
		marker := Activity{
			SessionID:        e.SessionID,
			Streaming:        act.streaming,
			UnreadCount:      sub.unread[e.SessionID],
			PendingToolCalls: act.pendingTool,
		}
		deliveries = append(deliveries, delivery{sub: sub, marker: marker})
	}
	r.mu.Unlock()

	logging.Events("publish %s for %s to %d subscribers", e.Kind, e.SessionID, len(deliveries))

	for _, d := range deliveries {
		if d.focused {
			if d.sub.onFocused != nil {
				safeDispatch(func() { d.sub.onFocused(e) }, e)
			}
		} else if d.sub.onActivity != nil {
			marker := d.marker
			safeDispatch(func() { d.sub.onActivity(marker) }, e)
		}
	}
}

// trackLocked updates the router-global per-session activity state.
func (r *Router) trackLocked(e Event) *sessionActivity {
	act, ok := r.activity[e.SessionID]
	if !ok {
		act = &sessionActivity{}
		r.activity[e.SessionID] = act
	}
	switch e.Kind {
	case KindStreamStarted:
		act.streaming = true
	case KindStreamEnded:
		act.streaming = false
	case KindToolCallAdded:
		act.pendingTool++
	case KindToolCallUpdated:
		if act.pendingTool > 0 {
			act.pendingTool--
		}
	case KindSessionStopped:
		act.streaming = false
		act.pendingTool = 0
	}
	return act
}

// countsAsUnread reports whether an event should bump the unread badge of a
// non-focused session.
func countsAsUnread(k Kind) bool {
	switch k {
	case KindMessageAppended, KindStreamEnded:
		return true
	}
	return false
}

// ForgetSession drops all tracked state for a session that no longer exists.
func (r *Router) ForgetSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.activity, sessionID)
	for _, sub := range r.subs {
		delete(sub.unread, sessionID)
	}
}

// safeDispatch invokes a handler and recovers from panics so one subscriber
// cannot starve the rest of delivery.
func safeDispatch(fn func(), e Event) {
	defer func() {
		if rec := recover(); rec != nil {
			logging.Get(logging.CategoryEvents).Error(
				"handler panicked for %s/%s: %v\n%s", e.SessionID, e.Kind, rec, debug.Stack())
		}
	}()
	fn()
}
