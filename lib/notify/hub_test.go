package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dCR/lib/consistency"
)

// recv does a non-blocking read; delivery happens inside Publish, so a
// published event is already buffered when Publish returns.
func recv(t *testing.T, ch <-chan Event) (Event, bool) {
	t.Helper()
	select {
	case ev := <-ch:
		return ev, true
	default:
		return Event{}, false
	}
}

// TestSubscribeExactKey verifies that an exact-key subscription sees its own
// key and nothing else.
func TestSubscribeExactKey(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe(consistency.KindConfig, "app/db.yaml")
	defer cancel()

	hub.Publish(Event{Kind: consistency.KindConfig, Key: "app/db.yaml", Version: 7})
	hub.Publish(Event{Kind: consistency.KindConfig, Key: "app/cache.yaml", Version: 8})
	hub.Publish(Event{Kind: consistency.KindInstance, Key: "app/db.yaml", Version: 9})

	ev, ok := recv(t, ch)
	if !ok || ev.Version != 7 {
		t.Fatalf("Expected the matching event, got (%+v, %v)", ev, ok)
	}
	if ev, ok := recv(t, ch); ok {
		t.Fatalf("Foreign keys and kinds must not be delivered, got %+v", ev)
	}
}

// TestSubscribeKindWide verifies that an empty key subscribes to every key
// of the kind.
func TestSubscribeKindWide(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe(consistency.KindInstance, "")
	defer cancel()

	hub.Publish(Event{Kind: consistency.KindInstance, Key: "orders@@i-1", Version: 1})
	hub.Publish(Event{Kind: consistency.KindInstance, Key: "orders@@i-2", Version: 2})
	hub.Publish(Event{Kind: consistency.KindConfig, Key: "app/db.yaml", Version: 3})

	var got []string
	for {
		ev, ok := recv(t, ch)
		if !ok {
			break
		}
		got = append(got, ev.Key)
	}
	if len(got) != 2 || got[0] != "orders@@i-1" || got[1] != "orders@@i-2" {
		t.Fatalf("Expected both instance events in order, got %v", got)
	}
}

// TestMultipleSubscribers verifies every subscriber of a topic gets its own
// copy of an event.
func TestMultipleSubscribers(t *testing.T) {
	hub := NewHub()
	a, cancelA := hub.Subscribe(consistency.KindConfig, "k")
	defer cancelA()
	b, cancelB := hub.Subscribe(consistency.KindConfig, "k")
	defer cancelB()
	wide, cancelW := hub.Subscribe(consistency.KindConfig, "")
	defer cancelW()

	hub.Publish(Event{Kind: consistency.KindConfig, Key: "k", Version: 1})

	for name, ch := range map[string]<-chan Event{"a": a, "b": b, "wide": wide} {
		if _, ok := recv(t, ch); !ok {
			t.Errorf("Subscriber %s missed the event", name)
		}
	}
}

// TestCancelStopsDelivery verifies cancelled subscriptions drop out and that
// cancelling twice is harmless.
func TestCancelStopsDelivery(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe(consistency.KindConfig, "k")

	hub.Publish(Event{Kind: consistency.KindConfig, Key: "k", Version: 1})
	if _, ok := recv(t, ch); !ok {
		t.Fatal("Expected the event before cancel")
	}

	cancel()
	cancel()

	hub.Publish(Event{Kind: consistency.KindConfig, Key: "k", Version: 2})
	if ev, ok := recv(t, ch); ok {
		t.Fatalf("No delivery after cancel, got %+v", ev)
	}
}

// TestLatestWins verifies the overflow discipline: a full buffer sheds the
// oldest events, so the subscriber always converges on the newest state.
func TestLatestWins(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe(consistency.KindConfig, "k")
	defer cancel()

	total := DefaultSubscriberBuffer + 5
	for i := 1; i <= total; i++ {
		hub.Publish(Event{Kind: consistency.KindConfig, Key: "k", Version: uint64(i)})
	}

	var received []uint64
	for {
		ev, ok := recv(t, ch)
		if !ok {
			break
		}
		received = append(received, ev.Version)
	}

	if len(received) != DefaultSubscriberBuffer {
		t.Fatalf("Expected a full buffer, got %d events", len(received))
	}
	if got := received[len(received)-1]; got != uint64(total) {
		t.Errorf("The newest event must survive, got version %d, want %d", got, total)
	}
	if received[0] != uint64(total-DefaultSubscriberBuffer+1) {
		t.Errorf("Expected the oldest %d events dropped, first survivor is %d", total-DefaultSubscriberBuffer, received[0])
	}
}

// TestWait verifies the long-poll primitive: versions at or below since are
// ignored, the first newer one is returned.
func TestWait(t *testing.T) {
	hub := NewHub()

	done := make(chan struct{})
	go func() {
		defer close(done)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		ev, ok := hub.Wait(ctx, consistency.KindConfig, "k", 3)
		if !ok || ev.Version != 4 {
			t.Errorf("Wait = (%+v, %v), want version 4", ev, ok)
		}
	}()

	// give Wait time to subscribe before publishing
	time.Sleep(20 * time.Millisecond)
	hub.Publish(Event{Kind: consistency.KindConfig, Key: "k", Version: 3}) // stale, ignored
	hub.Publish(Event{Kind: consistency.KindConfig, Key: "k", Version: 4})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return")
	}
}

// TestWaitContextEnds verifies Wait reports false when nothing newer shows
// up in time.
func TestWaitContextEnds(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if ev, ok := hub.Wait(ctx, consistency.KindConfig, "k", 0); ok {
		t.Fatalf("Expected a timeout, got %+v", ev)
	}
}

// TestConcurrentChurn hammers the hub with parallel publishes and
// subscription churn; the test passes if nothing deadlocks and a subscriber
// created after the churn still receives events.
func TestConcurrentChurn(t *testing.T) {
	hub := NewHub()
	var wg sync.WaitGroup

	for g := 0; g < 4; g++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				hub.Publish(Event{Kind: consistency.KindInstance, Key: "churn", Version: uint64(i)})
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				ch, cancel := hub.Subscribe(consistency.KindInstance, "churn")
				recv(t, ch)
				cancel()
			}
		}()
	}
	wg.Wait()

	ch, cancel := hub.Subscribe(consistency.KindInstance, "churn")
	defer cancel()
	hub.Publish(Event{Kind: consistency.KindInstance, Key: "churn", Version: 999})
	if ev, ok := recv(t, ch); !ok || ev.Version != 999 {
		t.Fatalf("Post-churn subscriber missed the event, got (%+v, %v)", ev, ok)
	}
}
