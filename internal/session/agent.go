package session

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"atelier/internal/logging"
	"atelier/internal/types"
)

// ErrAgentStopped is returned by Submit after the agent has shut down.
var ErrAgentStopped = stderrors.New("agent stopped")

// StreamHandler receives the pieces of one streamed completion.
type StreamHandler struct {
	OnChunk func(text string)
	OnStep  func(reasoning string)
}

// StreamClient is the contract a model provider implements. Stream blocks
// until the completion finishes, the context is cancelled, or the provider
// fails; it must stop calling the handler once it returns.
type StreamClient interface {
	Stream(ctx context.Context, prompt string, h StreamHandler) error
}

// Agent is one session's conversation worker. It owns a single goroutine that
// takes prompts off a queue, drives the stream client, and writes everything
// it learns into the session state. Prompts are strictly sequential per
// session.
type Agent struct {
	state  *State
	client StreamClient
	fail   func(error) // reports fatal worker errors to the supervisor

	inbox chan string
	quit  chan struct{}
	done  chan struct{}

	mu       sync.Mutex
	cancel   context.CancelFunc // cancels the in-flight stream, nil when idle
	stopOnce sync.Once
}

// NewAgent creates and starts the worker. fail is invoked at most once, from
// the worker goroutine, when a prompt cannot be processed.
func NewAgent(state *State, client StreamClient, fail func(error)) *Agent {
	a := &Agent{
		state:  state,
		client: client,
		fail:   fail,
		inbox:  make(chan string, 16),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go a.run()
	return a
}

// Submit queues a prompt for processing.
func (a *Agent) Submit(prompt string) error {
	select {
	case a.inbox <- prompt:
		return nil
	case <-a.done:
		return ErrAgentStopped
	}
}

// CancelCurrent aborts the in-flight stream, if any. Queued prompts are
// unaffected.
func (a *Agent) CancelCurrent() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
	}
}

// Stop cancels any in-flight stream and shuts the worker down, waiting for
// the goroutine to exit.
func (a *Agent) Stop() {
	a.stopOnce.Do(func() {
		close(a.quit)
		a.CancelCurrent()
	})
	<-a.done
}

func (a *Agent) run() {
	defer close(a.done)
	for {
		select {
		case prompt := <-a.inbox:
			if err := a.handle(prompt); err != nil {
				logging.SessionError("session %s worker failed: %v", a.state.SessionID(), err)
				if a.fail != nil {
					a.fail(err)
				}
				return
			}
		case <-a.quit:
			return
		}
	}
}

// handle processes one prompt end to end. Cancellation is not a failure;
// whatever streamed before the cancel is kept as a partial assistant message.
func (a *Agent) handle(prompt string) error {
	if err := a.state.AppendMessage(types.NewMessage(types.RoleUser, prompt)); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()
	defer func() {
		cancel()
		a.mu.Lock()
		a.cancel = nil
		a.mu.Unlock()
	}()

	msgID := uuid.NewString()
	if err := a.state.StartStreaming(msgID); err != nil {
		return err
	}

	streamErr := a.client.Stream(ctx, prompt, StreamHandler{
		OnChunk: func(text string) {
			// Chunks racing a state close are dropped, not fatal.
			_ = a.state.UpdateStreaming(text)
		},
		OnStep: func(reasoning string) {
			_ = a.state.AddReasoningStep(types.ReasoningStep{
				Content:   reasoning,
				Timestamp: time.Now().UTC(),
			})
		},
	})

	if _, err := a.state.EndStreaming(); err != nil {
		return err
	}
	if streamErr != nil && !stderrors.Is(streamErr, context.Canceled) {
		return streamErr
	}
	return nil
}
