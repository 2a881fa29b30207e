package distro

import (
	"context"
	"sort"
	"time"

	"github.com/ValentinKolb/dCR/lib/state"
)

// ----------------------------------------------------------------------------
// Push Replication
// ----------------------------------------------------------------------------

// syncLoop drains the dirty-key queue into a pending set and flushes it as
// one batch per coalescing window. A key written ten times in one window
// travels once, with its latest state.
func (e *Engine) syncLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.SyncDelay)
	defer ticker.Stop()

	pending := make(map[string]struct{})
	recv := e.queue.Recv()

	for {
		select {
		case <-e.closeCh:
			return
		case key, ok := <-recv:
			if !ok {
				return
			}
			pending[*key] = struct{}{}
		case <-ticker.C:
			if len(pending) == 0 {
				continue
			}
			e.flush(pending)
			pending = make(map[string]struct{})
		}
	}
}

// flush snapshots the current state of all pending keys and pushes the batch
// to every peer concurrently.
func (e *Engine) flush(pending map[string]struct{}) {
	peers := e.alivePeers()
	if len(peers) == 0 {
		return
	}

	items := make([]state.DataItem, 0, len(pending))
	for key := range pending {
		// tombstones travel too, that is how deletes propagate
		if item, ok := e.machine.GetRaw(key); ok {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Key < items[j].Key })

	for _, peer := range peers {
		e.wg.Add(1)
		go e.sendBatch(peer.ID, peer.Address, items)
	}
}

// sendBatch pushes one batch to one peer, retrying once after RetryDelay.
// A batch failing twice is abandoned: the verify rounds repair the gap.
func (e *Engine) sendBatch(peerID, addr string, items []state.DataItem) {
	defer e.wg.Done()

	send := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.PeerTimeout)
		defer cancel()
		return e.peers.Sync(ctx, addr, items)
	}

	if err := send(); err == nil {
		metricSyncs.Inc()
		return
	}
	metricSyncFails.Inc()

	select {
	case <-e.closeCh:
		return
	case <-time.After(e.cfg.RetryDelay):
	}

	if err := send(); err != nil {
		metricSyncFails.Inc()
		log.Debugf("sync batch abandoned, verify will repair: peer=%s, items=%d, err=%v",
			peerID, len(items), err)
		return
	}
	metricSyncs.Inc()
}

// HandleSync merges a batch pushed by a peer and returns how many items
// actually changed local state. Served even while the engine itself is still
// loading: merges are idempotent and only ever move state forward.
func (e *Engine) HandleSync(items []state.DataItem) int {
	applied := 0
	for _, item := range items {
		if _, ok := e.machine.Merge(item); ok {
			applied++
		}
	}
	return applied
}
