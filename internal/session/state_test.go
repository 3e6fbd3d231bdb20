package session

import (
	"fmt"
	"sync"
	"testing"

	"atelier/internal/errors"
	"atelier/internal/events"
	"atelier/internal/types"
)

func newTestState(t *testing.T) *State {
	t.Helper()
	s := NewState(testSession(t.TempDir()), nil)
	t.Cleanup(s.Close)
	return s
}

func TestStateAppendAndGet(t *testing.T) {
	s := newTestState(t)

	for i := 0; i < 5; i++ {
		if err := s.AppendMessage(types.NewMessage(types.RoleUser, fmt.Sprintf("m%d", i))); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.GetMessages(0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 5 || all[0].Content != "m0" || all[4].Content != "m4" {
		t.Fatalf("unexpected history: %+v", all)
	}

	page, err := s.GetMessages(2, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].Content != "m2" || page[1].Content != "m3" {
		t.Fatalf("unexpected page: %+v", page)
	}

	past, err := s.GetMessages(100, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(past) != 0 {
		t.Fatalf("offset past end should be empty, got %d", len(past))
	}
}

func TestStateMessageCapFIFO(t *testing.T) {
	s := newTestState(t)

	for i := 0; i < types.MaxMessages+10; i++ {
		if err := s.AppendMessage(types.NewMessage(types.RoleUser, fmt.Sprintf("m%d", i))); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.GetMessages(0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != types.MaxMessages {
		t.Fatalf("len = %d, want %d", len(all), types.MaxMessages)
	}
	if all[0].Content != "m10" {
		t.Fatalf("oldest surviving message = %s, want m10", all[0].Content)
	}
}

func TestStateStreamingLifecycle(t *testing.T) {
	s := newTestState(t)

	if err := s.StartStreaming("msg-1"); err != nil {
		t.Fatal(err)
	}
	for _, chunk := range []string{"hel", "lo ", "world"} {
		if err := s.UpdateStreaming(chunk); err != nil {
			t.Fatal(err)
		}
	}

	buf, err := s.Streaming()
	if err != nil {
		t.Fatal(err)
	}
	if !buf.IsStreaming || buf.Content != "hello world" {
		t.Fatalf("buffer = %+v", buf)
	}

	msg, err := s.EndStreaming()
	if err != nil {
		t.Fatal(err)
	}
	if msg.ID != "msg-1" || msg.Role != types.RoleAssistant || msg.Content != "hello world" {
		t.Fatalf("finished message = %+v", msg)
	}

	buf, err = s.Streaming()
	if err != nil {
		t.Fatal(err)
	}
	if buf.IsStreaming {
		t.Fatal("buffer still open after EndStreaming")
	}

	all, _ := s.GetMessages(0, 0)
	if len(all) != 1 || all[0].Content != "hello world" {
		t.Fatalf("history = %+v", all)
	}
}

func TestStateChunkWithoutStreamDropped(t *testing.T) {
	s := newTestState(t)

	if err := s.UpdateStreaming("orphan"); err != nil {
		t.Fatal(err)
	}
	buf, _ := s.Streaming()
	if buf.Content != "" {
		t.Fatalf("orphan chunk was kept: %+v", buf)
	}
}

func TestStateToolCallUpdate(t *testing.T) {
	s := newTestState(t)

	tc := types.ToolCall{ID: "tc-1", Name: "read_file", Status: types.ToolCallRunning}
	if err := s.AddToolCall(tc); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateToolCallResult("tc-1", "ok", types.ToolCallCompleted); err != nil {
		t.Fatal(err)
	}

	err := s.UpdateToolCallResult("tc-missing", "", types.ToolCallError)
	if !errors.Is(err, errors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	snap, err := s.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.ToolCalls) != 1 || snap.ToolCalls[0].Result != "ok" ||
		snap.ToolCalls[0].Status != types.ToolCallCompleted {
		t.Fatalf("tool calls = %+v", snap.ToolCalls)
	}
}

func TestStateReasoningCapFIFO(t *testing.T) {
	s := newTestState(t)

	for i := 0; i < types.MaxReasoningSteps+5; i++ {
		if err := s.AddReasoningStep(types.ReasoningStep{Content: fmt.Sprintf("r%d", i)}); err != nil {
			t.Fatal(err)
		}
	}

	snap, _ := s.Snapshot()
	if len(snap.Reasoning) != types.MaxReasoningSteps {
		t.Fatalf("len = %d, want %d", len(snap.Reasoning), types.MaxReasoningSteps)
	}
	if snap.Reasoning[0].Content != "r5" {
		t.Fatalf("oldest surviving step = %s, want r5", snap.Reasoning[0].Content)
	}
}

func TestStateClosedOperationsFail(t *testing.T) {
	s := NewState(testSession(t.TempDir()), nil)
	s.Close()
	s.Close() // idempotent

	if err := s.AppendMessage(types.NewMessage(types.RoleUser, "late")); err != ErrStateClosed {
		t.Fatalf("expected ErrStateClosed, got %v", err)
	}
	if _, err := s.GetMessages(0, 0); err != ErrStateClosed {
		t.Fatalf("expected ErrStateClosed, got %v", err)
	}
}

// Hammer the actor from many goroutines; the final count must be exact and
// snapshots must never observe a torn update.
func TestStateConcurrentAppends(t *testing.T) {
	s := newTestState(t)

	const writers, per = 10, 50
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < per; i++ {
				if err := s.AppendMessage(types.NewMessage(types.RoleUser, fmt.Sprintf("w%d-%d", w, i))); err != nil {
					t.Error(err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	all, err := s.GetMessages(0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != writers*per {
		t.Fatalf("len = %d, want %d", len(all), writers*per)
	}
}

func TestStateSnapshotRoundTrip(t *testing.T) {
	s := newTestState(t)

	s.AppendMessage(types.NewMessage(types.RoleUser, "hello"))
	s.UpdateTodos([]types.Todo{{Content: "fix bug", Status: types.TodoInProgress, ActiveForm: "Fixing bug"}})
	s.AddToolCall(types.ToolCall{ID: "tc-1", Name: "list_dir", Status: types.ToolCallCompleted})

	snap, err := s.Snapshot()
	if err != nil {
		t.Fatal(err)
	}

	restored := NewStateFromSnapshot(snap, nil)
	defer restored.Close()

	again, err := restored.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	if len(again.Messages) != 1 || again.Messages[0].Content != "hello" {
		t.Fatalf("messages = %+v", again.Messages)
	}
	if len(again.Todos) != 1 || again.Todos[0].Status != types.TodoInProgress {
		t.Fatalf("todos = %+v", again.Todos)
	}
	if again.Session.ID != snap.Session.ID {
		t.Fatalf("session id changed: %s != %s", again.Session.ID, snap.Session.ID)
	}
}

func TestStatePublishesEvents(t *testing.T) {
	router := events.NewRouter()
	sess := testSession(t.TempDir())
	s := NewState(sess, router)
	defer s.Close()

	var (
		mu   sync.Mutex
		seen []events.Kind
	)
	router.Subscribe(sess.ID, func(e events.Event) {
		mu.Lock()
		seen = append(seen, e.Kind)
		mu.Unlock()
	}, nil)

	s.AppendMessage(types.NewMessage(types.RoleUser, "hi"))
	s.StartStreaming("m1")
	s.UpdateStreaming("chunk")
	s.EndStreaming()

	mu.Lock()
	defer mu.Unlock()
	want := []events.Kind{
		events.KindMessageAppended,
		events.KindStreamStarted,
		events.KindStreamChunk,
		events.KindStreamEnded,
	}
	if len(seen) != len(want) {
		t.Fatalf("events = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("event %d = %s, want %s", i, seen[i], want[i])
		}
	}
}
