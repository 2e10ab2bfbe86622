package event

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/TheEntropyCollective/flowgraph/pkg/core/status"
)

const (
	evStart Event = 0x1
	evEOF   Event = 0x3
)

func TestRegisterEventIdempotent(t *testing.T) {
	m := NewManager()
	if st := m.RegisterEvent(evStart); st != status.Success {
		t.Fatalf("RegisterEvent returned %s", st)
	}
	if st := m.RegisterEvent(evStart); st != status.Success {
		t.Errorf("Re-registration should succeed, got %s", st)
	}
}

func TestCallbackRequiresRegisteredEvent(t *testing.T) {
	m := NewManager()
	st := m.RegisterCallback(evStart, func(any) error { return nil })
	if st != status.EventNotFound {
		t.Errorf("Expected EventNotFound, got %s", st)
	}
}

func TestEmitUnregisteredEvent(t *testing.T) {
	m := NewManager()
	if st := m.EmitEvent(evStart, nil); st != status.EventNotFound {
		t.Errorf("Expected EventNotFound, got %s", st)
	}
	if st := m.WaitForEvent(evStart); st != status.EventNotFound {
		t.Errorf("Expected EventNotFound from wait, got %s", st)
	}
}

func TestCallbacksRunInRegistrationOrder(t *testing.T) {
	m := NewManager()
	m.RegisterEvent(evStart)

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		m.RegisterCallback(evStart, func(any) error {
			order = append(order, i)
			return nil
		})
	}

	if st := m.EmitEvent(evStart, nil); st != status.Success {
		t.Fatalf("EmitEvent returned %s", st)
	}
	for i, got := range order {
		if got != i {
			t.Fatalf("callback order violated: %v", order)
		}
	}
	if len(order) != 5 {
		t.Fatalf("Expected 5 callbacks, got %d", len(order))
	}
}

func TestCallbackFailureIsCollectedNotFatal(t *testing.T) {
	m := NewManager()
	m.RegisterEvent(evStart)

	ran := 0
	m.RegisterCallback(evStart, func(any) error { ran++; return errors.New("boom") })
	m.RegisterCallback(evStart, func(any) error { ran++; return nil })

	if st := m.EmitEvent(evStart, nil); st != status.CallbackFail {
		t.Errorf("Expected CallbackFail, got %s", st)
	}
	if ran != 2 {
		t.Errorf("A failing callback must not stop the rest, ran %d", ran)
	}

	// The event still fired for waiters.
	if st := m.WaitForEvent(evStart); st != status.Success {
		t.Errorf("WaitForEvent after failing emission returned %s", st)
	}
}

func TestCallbackReceivesData(t *testing.T) {
	m := NewManager()
	m.RegisterEvent(evEOF)

	var got any
	m.RegisterCallback(evEOF, func(data any) error {
		got = data
		return nil
	})
	m.EmitEvent(evEOF, 42)
	if got != 42 {
		t.Errorf("Expected callback data 42, got %v", got)
	}
}

func TestWaitBeforeAndAfterEmit(t *testing.T) {
	m := NewManager()
	m.RegisterEvent(evEOF)

	released := make(chan status.Status, 1)
	go func() {
		released <- m.WaitForEvent(evEOF)
	}()
	time.Sleep(10 * time.Millisecond)
	m.EmitEvent(evEOF, nil)

	select {
	case st := <-released:
		if st != status.Success {
			t.Errorf("WaitForEvent returned %s", st)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter not released by emit")
	}

	// A wait after the emission returns immediately.
	doneBy := time.Now().Add(100 * time.Millisecond)
	if st := m.WaitForEvent(evEOF); st != status.Success {
		t.Errorf("WaitForEvent after emission returned %s", st)
	}
	if time.Now().After(doneBy) {
		t.Error("WaitForEvent on a fired event should return immediately")
	}
}

func TestConcurrentEmitSerialized(t *testing.T) {
	m := NewManager()
	m.RegisterEvent(evStart)

	inCallback := false
	var mu sync.Mutex
	m.RegisterCallback(evStart, func(any) error {
		mu.Lock()
		if inCallback {
			mu.Unlock()
			t.Error("callback re-entered for the same event")
			return nil
		}
		inCallback = true
		mu.Unlock()

		time.Sleep(time.Millisecond)

		mu.Lock()
		inCallback = false
		mu.Unlock()
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.EmitEvent(evStart, nil)
		}()
	}
	wg.Wait()
}

func TestObserverSeesEmissions(t *testing.T) {
	m := NewManager()
	m.RegisterEvent(evEOF)

	var seen []Event
	m.SetObserver(func(e Event, data any) { seen = append(seen, e) })
	m.EmitEvent(evEOF, nil)
	m.SetObserver(nil)
	m.EmitEvent(evEOF, nil)

	if len(seen) != 1 || seen[0] != evEOF {
		t.Errorf("observer saw %v", seen)
	}
}
