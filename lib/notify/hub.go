// Package notify fans accepted mutations out to in-process watchers. The
// state machines publish an Event for every change they apply and the rpc
// layer turns subscriptions into config watch long-polls and naming pushes.
//
// Delivery is best-effort with a latest-wins discipline: a slow subscriber
// loses the oldest buffered events, never the newest. Watchers treat an
// event as an invalidation and re-read the data they care about, so gaps
// are harmless.
package notify

import (
	"context"
	"sync/atomic"

	"github.com/VictoriaMetrics/metrics"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/ValentinKolb/dCR/lib/consistency"
)

// DefaultSubscriberBuffer is the per-subscription channel capacity. Sixteen
// events absorb a burst of writes between two reads of a long-poll loop.
const DefaultSubscriberBuffer = 16

var (
	metricPublished = metrics.NewCounter("dcr_notify_published_total")
	metricDropped   = metrics.NewCounter("dcr_notify_dropped_total")
)

// Event describes one accepted mutation. Version is the state machine's
// version for the key (the raft log index on the strongly consistent side).
type Event struct {
	Kind    consistency.DataKind
	Key     string
	Version uint64
}

// topic is the subscription address: an exact key, or every key of a kind
// when the key is empty.
type topic struct {
	kind consistency.DataKind
	key  string
}

type subscriber struct {
	id uint64
	ch chan Event
}

// Hub is the process-wide event exchange. The zero value is not usable,
// create one with NewHub. Publish never blocks, so it is safe to call from
// state machine apply paths that hold locks.
type Hub struct {
	subs *xsync.MapOf[topic, []subscriber]
	seq  atomic.Uint64
}

func NewHub() *Hub {
	return &Hub{
		subs: xsync.NewMapOf[topic, []subscriber](),
	}
}

// Subscribe registers a watcher for the given kind. With a non-empty key
// only events for exactly that key are delivered; with an empty key the
// subscription covers every key of the kind. The returned cancel func is
// idempotent and releases the subscription; the channel is never closed.
func (h *Hub) Subscribe(kind consistency.DataKind, key string) (<-chan Event, func()) {
	id := h.seq.Add(1)
	ch := make(chan Event, DefaultSubscriberBuffer)
	tp := topic{kind: kind, key: key}

	h.subs.Compute(tp, func(old []subscriber, _ bool) ([]subscriber, bool) {
		// copy-on-write: published snapshots iterate without a lock
		next := make([]subscriber, 0, len(old)+1)
		next = append(next, old...)
		next = append(next, subscriber{id: id, ch: ch})
		return next, false
	})

	cancel := func() {
		h.subs.Compute(tp, func(old []subscriber, loaded bool) ([]subscriber, bool) {
			if !loaded {
				return nil, true
			}
			next := make([]subscriber, 0, len(old))
			for _, sub := range old {
				if sub.id != id {
					next = append(next, sub)
				}
			}
			return next, len(next) == 0
		})
	}
	return ch, cancel
}

// Publish delivers the event to all exact-key and kind-wide subscribers.
// It never blocks: full subscriber buffers lose their oldest event first.
func (h *Hub) Publish(ev Event) {
	metricPublished.Inc()
	if ev.Key != "" {
		h.deliver(topic{kind: ev.Kind, key: ev.Key}, ev)
	}
	h.deliver(topic{kind: ev.Kind}, ev)
}

func (h *Hub) deliver(tp topic, ev Event) {
	subs, ok := h.subs.Load(tp)
	if !ok {
		return
	}
	for _, sub := range subs {
		send(sub.ch, ev)
	}
}

func send(ch chan Event, ev Event) {
	for {
		select {
		case ch <- ev:
			return
		default:
			// full: drop the oldest buffered event and retry
			select {
			case <-ch:
				metricDropped.Inc()
			default:
			}
		}
	}
}

// Wait blocks until an event for (kind, key) with a version above since
// arrives or the context ends. It reports whether such an event was seen.
// Wait only observes events published after it subscribes; long-poll
// callers should check current state for a newer version first and use
// Wait for the remaining quiet case.
func (h *Hub) Wait(ctx context.Context, kind consistency.DataKind, key string, since uint64) (Event, bool) {
	ch, cancel := h.Subscribe(kind, key)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return Event{}, false
		case ev := <-ch:
			if ev.Version > since {
				return ev, true
			}
		}
	}
}
