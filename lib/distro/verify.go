package distro

import (
	"context"
	"sync"
	"time"

	"github.com/ValentinKolb/dCR/lib/state"
)

// ----------------------------------------------------------------------------
// Anti-Entropy
// ----------------------------------------------------------------------------

// verifyLoop periodically asserts the locally owned key space towards all
// peers. Push replication is the fast path; these digest rounds are the
// repair path that catches every batch the fast path lost.
func (e *Engine) verifyLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.VerifyInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.closeCh:
			return
		case <-ticker.C:
			if e.ready.Load() {
				e.verifyOnce()
			}
		}
	}
}

// verifyOnce sends the digest of all locally owned keys (live and tombstoned)
// to every peer. The digest is authoritative for the owned partitions: peers
// pull what they lack and drop what the digest no longer lists.
func (e *Engine) verifyOnce() {
	ring := e.ring.Load()
	peers := e.alivePeers()
	if ring == nil || len(peers) == 0 {
		return
	}
	metricVerifies.Inc()

	digest := e.machine.Digest(func(key string) bool {
		return ring.Owns(key, e.cfg.MemberID)
	})

	var wg sync.WaitGroup
	for _, peer := range peers {
		wg.Add(1)
		go func(id, addr string) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), e.cfg.PeerTimeout)
			defer cancel()
			if err := e.peers.Verify(ctx, addr, e.cfg.MemberID, digest); err != nil {
				metricVerifyFails.Inc()
				log.Debugf("verify failed: peer=%s, err=%v", id, err)
			}
		}(peer.ID, peer.Address)
	}
	wg.Wait()
}

// HandleVerify repairs local state against a peer's digest of its owned key
// space. Three verdicts per key:
//
//   - listed but locally missing or stale: pull it from the sender
//   - held locally, owned by the sender, absent from the digest and younger
//     than the tombstone retention: push it back to the sender (a write the
//     owner never received, e.g. accepted here during a partition)
//   - held locally, owned by the sender, absent and older than the
//     retention: drop it, the owner deleted it and already purged the
//     tombstone
//
// Returns the pulled and dropped counts.
func (e *Engine) HandleVerify(ctx context.Context, from string, digest map[string]uint64) (pulled, dropped int) {
	var wants []string
	for key, version := range digest {
		local, ok := e.machine.GetRaw(key)
		if !ok || local.Version < version {
			wants = append(wants, key)
		}
	}

	if len(wants) > 0 {
		pctx, cancel := context.WithTimeout(ctx, e.cfg.PeerTimeout)
		items, err := e.peers.Pull(pctx, e.addressOf(from), wants)
		cancel()
		if err != nil {
			log.Debugf("pull after verify failed: peer=%s, keys=%d, err=%v", from, len(wants), err)
		} else {
			for _, item := range items {
				if _, ok := e.machine.Merge(item); ok {
					pulled++
				}
			}
			metricPulled.Add(pulled)
		}
	}

	ring := e.ring.Load()
	if ring == nil {
		return pulled, dropped
	}
	cutoff := time.Now().UnixMilli() - e.cfg.TombstoneTTL.Milliseconds()
	var (
		victims []string
		orphans []state.DataItem
	)
	e.machine.Range(func(item state.DataItem) bool {
		if _, listed := digest[item.Key]; listed {
			return true
		}
		if ring.Owner(item.Key) != from {
			return true
		}
		if item.Stamp < cutoff {
			victims = append(victims, item.Key)
		} else {
			orphans = append(orphans, item)
		}
		return true
	})

	for _, key := range victims {
		if e.machine.Remove(key) {
			dropped++
		}
	}
	if dropped > 0 {
		metricDropped.Add(dropped)
		log.Debugf("dropped keys absent from owner digest: owner=%s, dropped=%d", from, dropped)
	}

	if len(orphans) > 0 {
		sctx, cancel := context.WithTimeout(ctx, e.cfg.PeerTimeout)
		err := e.peers.Sync(sctx, e.addressOf(from), orphans)
		cancel()
		if err != nil {
			log.Debugf("orphan push to owner failed: owner=%s, items=%d, err=%v", from, len(orphans), err)
		} else {
			log.Infof("pushed orphaned keys back to their owner: owner=%s, items=%d", from, len(orphans))
		}
	}

	return pulled, dropped
}

// HandlePull returns the current items for the requested keys, tombstones
// included. Unknown keys are skipped.
func (e *Engine) HandlePull(keys []string) []state.DataItem {
	items := make([]state.DataItem, 0, len(keys))
	for _, key := range keys {
		if item, ok := e.machine.GetRaw(key); ok {
			items = append(items, item)
		}
	}
	return items
}

// HandleSnapshot returns the complete local data set, tombstones included.
// Served even while loading, so two members booting together exchange their
// partial states instead of waiting on each other.
func (e *Engine) HandleSnapshot() []state.DataItem {
	return e.machine.Items(nil)
}
