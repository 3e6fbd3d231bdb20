package events

import (
	"sync"
	"testing"
)

func TestFocusedGetsFullEvent(t *testing.T) {
	r := NewRouter()

	var got []Event
	r.Subscribe("s1", func(e Event) { got = append(got, e) }, nil)

	r.Publish(NewEvent("s1", KindMessageAppended, "hello"))

	if len(got) != 1 {
		t.Fatalf("got %d events, want 1", len(got))
	}
	if got[0].SessionID != "s1" || got[0].Kind != KindMessageAppended {
		t.Errorf("event = %+v", got[0])
	}
	if got[0].Timestamp.IsZero() {
		t.Error("timestamp not stamped")
	}
}

func TestNonFocusedGetsActivityMarker(t *testing.T) {
	r := NewRouter()

	var markers []Activity
	r.Subscribe("s1", nil, func(a Activity) { markers = append(markers, a) })

	r.Publish(NewEvent("s2", KindMessageAppended, "for someone else"))
	r.Publish(NewEvent("s2", KindStreamStarted, nil))

	if len(markers) != 2 {
		t.Fatalf("got %d markers, want 2", len(markers))
	}
	if markers[0].SessionID != "s2" || markers[0].UnreadCount != 1 {
		t.Errorf("first marker = %+v", markers[0])
	}
	if !markers[1].Streaming {
		t.Error("second marker should show streaming")
	}
}

func TestNeverDeliveredUnderWrongSessionID(t *testing.T) {
	r := NewRouter()

	var mu sync.Mutex
	seen := map[string]int{}
	r.Subscribe("s1", func(e Event) {
		mu.Lock()
		seen["full:"+e.SessionID]++
		mu.Unlock()
	}, func(a Activity) {
		mu.Lock()
		seen["marker:"+a.SessionID]++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for _, sid := range []string{"s1", "s2", "s3"} {
		wg.Add(1)
		go func(sid string) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				r.Publish(NewEvent(sid, KindMessageAppended, i))
			}
		}(sid)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if seen["full:s1"] != 50 {
		t.Errorf("full s1 = %d, want 50", seen["full:s1"])
	}
	if seen["full:s2"] != 0 || seen["full:s3"] != 0 {
		t.Error("non-focused sessions must never arrive as full events")
	}
	if seen["marker:s2"] != 50 || seen["marker:s3"] != 50 {
		t.Errorf("markers: s2=%d s3=%d, want 50 each (never dropped)", seen["marker:s2"], seen["marker:s3"])
	}
}

func TestSetFocusClearsUnread(t *testing.T) {
	r := NewRouter()

	var last Activity
	id := r.Subscribe("s1", nil, func(a Activity) { last = a })

	for i := 0; i < 3; i++ {
		r.Publish(NewEvent("s2", KindMessageAppended, i))
	}
	if last.UnreadCount != 3 {
		t.Fatalf("unread = %d, want 3", last.UnreadCount)
	}

	// Focus s2, then unfocus it again: the badge restarts from zero.
	r.SetFocus(id, "s2")
	r.SetFocus(id, "s1")
	r.Publish(NewEvent("s2", KindMessageAppended, "new"))
	if last.UnreadCount != 1 {
		t.Errorf("unread after refocus = %d, want 1", last.UnreadCount)
	}
}

func TestPendingToolCount(t *testing.T) {
	r := NewRouter()

	var last Activity
	r.Subscribe("", nil, func(a Activity) { last = a })

	r.Publish(NewEvent("s2", KindToolCallAdded, nil))
	r.Publish(NewEvent("s2", KindToolCallAdded, nil))
	if last.PendingToolCalls != 2 {
		t.Errorf("pending = %d, want 2", last.PendingToolCalls)
	}
	r.Publish(NewEvent("s2", KindToolCallUpdated, nil))
	if last.PendingToolCalls != 1 {
		t.Errorf("pending = %d, want 1", last.PendingToolCalls)
	}
}

func TestPanickingHandlerDoesNotBlockOthers(t *testing.T) {
	r := NewRouter()

	r.Subscribe("s1", func(Event) { panic("bad subscriber") }, nil)
	var delivered bool
	r.Subscribe("s1", func(Event) { delivered = true }, nil)

	r.Publish(NewEvent("s1", KindMessageAppended, "x"))

	if !delivered {
		t.Error("second subscriber should still receive the event")
	}
}

func TestUnsubscribe(t *testing.T) {
	r := NewRouter()

	count := 0
	id := r.Subscribe("s1", func(Event) { count++ }, nil)
	r.Publish(NewEvent("s1", KindMessageAppended, nil))
	if !r.Unsubscribe(id) {
		t.Fatal("Unsubscribe returned false")
	}
	r.Publish(NewEvent("s1", KindMessageAppended, nil))

	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
	if r.Unsubscribe("sub-999") {
		t.Error("unknown id should return false")
	}
}

func TestForgetSession(t *testing.T) {
	r := NewRouter()

	var last Activity
	r.Subscribe("s1", nil, func(a Activity) { last = a })

	r.Publish(NewEvent("s2", KindStreamStarted, nil))
	r.Publish(NewEvent("s2", KindMessageAppended, nil))
	r.ForgetSession("s2")
	r.Publish(NewEvent("s2", KindMessageAppended, nil))

	if last.UnreadCount != 1 {
		t.Errorf("unread = %d, want 1 after forget", last.UnreadCount)
	}
	if last.Streaming {
		t.Error("streaming flag should be reset after forget")
	}
}
