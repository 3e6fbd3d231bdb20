package session

import (
	"fmt"
	"sync"
	"testing"

	"atelier/internal/errors"
	"atelier/internal/types"
)

func testSession(path string) types.Session {
	return types.NewSession("test", path, types.SessionConfig{Provider: "scripted", Model: "m"})
}

func TestRegistryCap(t *testing.T) {
	r := NewRegistry(3)

	for i := 0; i < 3; i++ {
		if err := r.Register(testSession(fmt.Sprintf("/proj/%d", i))); err != nil {
			t.Fatalf("register %d: %v", i, err)
		}
	}

	err := r.Register(testSession("/proj/overflow"))
	if !errors.Is(err, errors.ErrLimitReached) {
		t.Fatalf("expected ErrLimitReached, got %v", err)
	}
	if r.Count() != 3 {
		t.Fatalf("count = %d, want 3", r.Count())
	}
}

func TestRegistryDuplicatePath(t *testing.T) {
	r := NewRegistry(10)

	if err := r.Register(testSession("/proj/a")); err != nil {
		t.Fatal(err)
	}

	// Same directory spelled differently still collides.
	err := r.Register(testSession("/proj/a/../a"))
	if !errors.Is(err, errors.ErrDuplicatePath) {
		t.Fatalf("expected ErrDuplicatePath, got %v", err)
	}

	var capErr *errors.CapacityError
	if !errors.As(err, &capErr) {
		t.Fatalf("expected CapacityError, got %T", err)
	}
	if capErr.ProjectPath != "/proj/a" {
		t.Fatalf("ProjectPath = %q, want cleaned /proj/a", capErr.ProjectPath)
	}
}

func TestRegistryAlreadyActive(t *testing.T) {
	r := NewRegistry(10)
	sess := testSession("/proj/a")

	if err := r.Register(sess); err != nil {
		t.Fatal(err)
	}

	dup := sess
	dup.ProjectPath = "/proj/b"
	if err := r.Register(dup); !errors.Is(err, errors.ErrAlreadyActive) {
		t.Fatalf("expected ErrAlreadyActive, got %v", err)
	}
}

func TestRegistryUnregisterFreesSlotAndPath(t *testing.T) {
	r := NewRegistry(1)
	sess := testSession("/proj/a")

	if err := r.Register(sess); err != nil {
		t.Fatal(err)
	}
	r.Unregister(sess.ID)

	if err := r.Register(testSession("/proj/a")); err != nil {
		t.Fatalf("slot not freed: %v", err)
	}
	if _, ok := r.Lookup(sess.ID); ok {
		t.Fatal("unregistered session still resolvable")
	}
}

func TestRegistryLookupByPath(t *testing.T) {
	r := NewRegistry(10)
	sess := testSession("/proj/a")
	if err := r.Register(sess); err != nil {
		t.Fatal(err)
	}

	got, ok := r.LookupByPath("/proj/a/../a")
	if !ok || got.ID != sess.ID {
		t.Fatalf("LookupByPath = %v, %v; want %s", got.ID, ok, sess.ID)
	}
}

// Concurrent registrations race for a full registry; exactly max must win.
func TestRegistryConcurrentRegistration(t *testing.T) {
	const max, attempts = 10, 100
	r := NewRegistry(max)

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		won int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := r.Register(testSession(fmt.Sprintf("/proj/%d", i))); err == nil {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if won != max {
		t.Fatalf("%d registrations won, want exactly %d", won, max)
	}
	if r.Count() != max {
		t.Fatalf("count = %d, want %d", r.Count(), max)
	}
}

// Two goroutines racing for the same project path; exactly one must win.
func TestRegistryConcurrentSamePath(t *testing.T) {
	r := NewRegistry(10)

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		won int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.Register(testSession("/proj/shared")); err == nil {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if won != 1 {
		t.Fatalf("%d registrations won the path, want exactly 1", won)
	}
}
