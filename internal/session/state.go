package session

import (
	stderrors "errors"
	"sync"
	"time"

	"atelier/internal/errors"
	"atelier/internal/events"
	"atelier/internal/logging"
	"atelier/internal/types"
)

// ErrStateClosed is returned by State operations after Close.
var ErrStateClosed = stderrors.New("session state closed")

// Snapshot is a point-in-time copy of everything a session would need to be
// reconstructed later. All slices are owned by the caller.
type Snapshot struct {
	Session   types.Session
	Messages  []types.Message
	Reasoning []types.ReasoningStep
	ToolCalls []types.ToolCall
	Todos     []types.Todo
}

// stateData is the mutable interior of a State. It is only ever touched by
// the actor goroutine, so no field needs a lock.
type stateData struct {
	session   types.Session
	messages  []types.Message
	reasoning []types.ReasoningStep
	toolCalls []types.ToolCall
	todos     []types.Todo
	streaming types.StreamingBuffer
}

// State holds one session's conversation history behind an actor goroutine.
// Callers never touch the data directly; every operation is a function shipped
// to the actor over a channel and executed in arrival order, which makes each
// operation atomic without fine-grained locking.
type State struct {
	sessionID string
	router    *events.Router

	ops  chan func(*stateData)
	quit chan struct{}
	done chan struct{}

	closeOnce sync.Once
}

// NewState creates a State for sess and starts its actor goroutine.
// router may be nil when no UI is attached.
func NewState(sess types.Session, router *events.Router) *State {
	return newState(stateData{session: sess}, router)
}

// NewStateFromSnapshot rebuilds a State from persisted history. Slices are
// copied so the snapshot stays usable by the caller.
func NewStateFromSnapshot(snap Snapshot, router *events.Router) *State {
	data := stateData{
		session:   snap.Session,
		messages:  append([]types.Message(nil), snap.Messages...),
		reasoning: append([]types.ReasoningStep(nil), snap.Reasoning...),
		toolCalls: append([]types.ToolCall(nil), snap.ToolCalls...),
		todos:     append([]types.Todo(nil), snap.Todos...),
	}
	return newState(data, router)
}

func newState(data stateData, router *events.Router) *State {
	s := &State{
		sessionID: data.session.ID,
		router:    router,
		ops:       make(chan func(*stateData)),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go s.run(data)
	logging.SessionDebug("state actor started for session %s", s.sessionID)
	return s
}

func (s *State) run(data stateData) {
	defer close(s.done)
	for {
		select {
		case op := <-s.ops:
			op(&data)
		case <-s.quit:
			return
		}
	}
}

// do ships fn to the actor and waits for it to finish. After Close it fails
// immediately instead of blocking forever.
func (s *State) do(fn func(*stateData)) error {
	ran := make(chan struct{})
	wrapped := func(d *stateData) {
		fn(d)
		close(ran)
	}
	select {
	case s.ops <- wrapped:
	case <-s.done:
		return ErrStateClosed
	}
	<-ran
	return nil
}

// Close stops the actor and waits for it to exit. Safe to call more than once.
func (s *State) Close() {
	s.closeOnce.Do(func() {
		close(s.quit)
		logging.SessionDebug("state actor stopping for session %s", s.sessionID)
	})
	<-s.done
}

// SessionID returns the owning session's id.
func (s *State) SessionID() string { return s.sessionID }

// publish runs on the actor goroutine; handlers must not call back into this
// State or they will deadlock against the actor.
func (s *State) publish(kind events.Kind, payload interface{}) {
	if s.router != nil {
		s.router.Publish(events.NewEvent(s.sessionID, kind, payload))
	}
}

// =============================================================================
// MESSAGES
// =============================================================================

// AppendMessage adds msg to the history, evicting the oldest message first if
// the cap is already reached.
func (s *State) AppendMessage(msg types.Message) error {
	return s.do(func(d *stateData) {
		if len(d.messages) >= types.MaxMessages {
			d.messages = d.messages[1:]
		}
		d.messages = append(d.messages, msg)
		d.session.UpdatedAt = time.Now().UTC()
		s.publish(events.KindMessageAppended, msg)
	})
}

// GetMessages returns a copy of up to limit messages starting at offset.
// limit <= 0 means "to the end". An offset past the history yields an empty
// slice, not an error.
func (s *State) GetMessages(offset, limit int) ([]types.Message, error) {
	var out []types.Message
	err := s.do(func(d *stateData) {
		if offset < 0 {
			offset = 0
		}
		if offset >= len(d.messages) {
			out = []types.Message{}
			return
		}
		end := len(d.messages)
		if limit > 0 && offset+limit < end {
			end = offset + limit
		}
		out = append([]types.Message(nil), d.messages[offset:end]...)
	})
	return out, err
}

// =============================================================================
// STREAMING
// =============================================================================

// StartStreaming opens a streaming buffer for the assistant message being
// generated. Any previous buffer is discarded.
func (s *State) StartStreaming(messageID string) error {
	return s.do(func(d *stateData) {
		d.streaming = types.StreamingBuffer{MessageID: messageID, IsStreaming: true}
		s.publish(events.KindStreamStarted, messageID)
	})
}

// UpdateStreaming appends a chunk to the open buffer. Chunks arriving with no
// open buffer are dropped; the stream was cancelled under the producer.
func (s *State) UpdateStreaming(chunk string) error {
	return s.do(func(d *stateData) {
		if !d.streaming.IsStreaming {
			return
		}
		d.streaming.Content += chunk
		s.publish(events.KindStreamChunk, chunk)
	})
}

// EndStreaming closes the buffer and promotes its content to a normal
// assistant message. Returns the finished message.
func (s *State) EndStreaming() (types.Message, error) {
	var msg types.Message
	err := s.do(func(d *stateData) {
		if !d.streaming.IsStreaming {
			return
		}
		msg = types.NewMessage(types.RoleAssistant, d.streaming.Content)
		if d.streaming.MessageID != "" {
			msg.ID = d.streaming.MessageID
		}
		if len(d.messages) >= types.MaxMessages {
			d.messages = d.messages[1:]
		}
		d.messages = append(d.messages, msg)
		d.streaming = types.StreamingBuffer{}
		d.session.UpdatedAt = time.Now().UTC()
		s.publish(events.KindStreamEnded, msg)
	})
	return msg, err
}

// Streaming returns a copy of the current buffer.
func (s *State) Streaming() (types.StreamingBuffer, error) {
	var buf types.StreamingBuffer
	err := s.do(func(d *stateData) { buf = d.streaming })
	return buf, err
}

// =============================================================================
// TODOS, TOOL CALLS, REASONING
// =============================================================================

// UpdateTodos replaces the whole todo list. The list is replaced wholesale
// rather than patched so readers never observe a half-applied update.
func (s *State) UpdateTodos(todos []types.Todo) error {
	return s.do(func(d *stateData) {
		d.todos = append([]types.Todo(nil), todos...)
		d.session.UpdatedAt = time.Now().UTC()
		s.publish(events.KindTodosUpdated, d.todos)
	})
}

// AddToolCall records a new tool invocation, evicting the oldest first if the
// cap is reached.
func (s *State) AddToolCall(tc types.ToolCall) error {
	return s.do(func(d *stateData) {
		if len(d.toolCalls) >= types.MaxToolCalls {
			d.toolCalls = d.toolCalls[1:]
		}
		d.toolCalls = append(d.toolCalls, tc)
		d.session.UpdatedAt = time.Now().UTC()
		s.publish(events.KindToolCallAdded, tc)
	})
}

// UpdateToolCallResult sets the result and status of an existing tool call.
// An id that was never recorded, or was already evicted, yields ErrNotFound.
func (s *State) UpdateToolCallResult(id, result string, status types.ToolCallStatus) error {
	var found bool
	err := s.do(func(d *stateData) {
		for i := range d.toolCalls {
			if d.toolCalls[i].ID == id {
				d.toolCalls[i].Result = result
				d.toolCalls[i].Status = status
				found = true
				s.publish(events.KindToolCallUpdated, d.toolCalls[i])
				return
			}
		}
	})
	if err != nil {
		return err
	}
	if !found {
		return &errors.AvailabilityError{Resource: "tool call " + id, Err: errors.ErrNotFound}
	}
	return nil
}

// AddReasoningStep records one intermediate thinking step, FIFO-capped.
func (s *State) AddReasoningStep(step types.ReasoningStep) error {
	return s.do(func(d *stateData) {
		if len(d.reasoning) >= types.MaxReasoningSteps {
			d.reasoning = d.reasoning[1:]
		}
		d.reasoning = append(d.reasoning, step)
	})
}

// =============================================================================
// SNAPSHOT
// =============================================================================

// Snapshot copies the full session state inside the actor, so it is
// consistent with respect to every other operation.
func (s *State) Snapshot() (Snapshot, error) {
	var snap Snapshot
	err := s.do(func(d *stateData) {
		snap = Snapshot{
			Session:   d.session,
			Messages:  append([]types.Message(nil), d.messages...),
			Reasoning: append([]types.ReasoningStep(nil), d.reasoning...),
			ToolCalls: append([]types.ToolCall(nil), d.toolCalls...),
			Todos:     append([]types.Todo(nil), d.todos...),
		}
	})
	return snap, err
}
