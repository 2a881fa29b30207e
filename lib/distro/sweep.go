package distro

import (
	"time"

	"github.com/ValentinKolb/dCR/lib/state"
)

// ----------------------------------------------------------------------------
// Heartbeat Expiry
// ----------------------------------------------------------------------------

// onMachineChange keeps the expiry heap in step with every accepted mutation
// and forwards the item to the configured change listener. Invoked by the
// machine outside its per-key critical section.
func (e *Engine) onMachineChange(item state.DataItem) {
	e.heapMu.Lock()
	if deadline := expiryDeadline(item); deadline > 0 {
		e.heap.Schedule(item.Key, deadline)
	} else {
		e.heap.Cancel(item.Key)
	}
	e.heapMu.Unlock()

	if e.cfg.OnChange != nil {
		e.cfg.OnChange(item)
	}
}

// expiryDeadline computes when the item next needs the sweeper's attention:
// one missed heartbeat budget for the unhealthy verdict, two for deletion.
// Zero means the item never expires.
func expiryDeadline(item state.DataItem) int64 {
	if item.Tombstone() || item.TTLSec == 0 {
		return 0
	}
	base := item.Beat
	if base == 0 {
		base = item.Stamp
	}
	budget := int64(item.TTLSec) * 1000
	if item.Unhealthy() {
		return base + 2*budget
	}
	return base + budget
}

// sweepLoop pops due deadlines and passes expiry verdicts on the items this
// member owns. Non-owners reschedule and wait for the owner's replicated
// verdict instead, so an instance is only ever expired by one member. The
// loop also purges tombstones past their retention.
func (e *Engine) sweepLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.closeCh:
			return
		case <-ticker.C:
			now := time.Now().UnixMilli()
			e.sweepDue(now)

			if purged := e.machine.PurgeTombstones(now - e.cfg.TombstoneTTL.Milliseconds()); purged > 0 {
				metricPurged.Add(purged)
				log.Debugf("purged tombstones: member=%s, purged=%d", e.cfg.MemberID, purged)
			}
		}
	}
}

func (e *Engine) sweepDue(now int64) {
	e.heapMu.Lock()
	var due []string
	for {
		key, ok := e.heap.PopDue(now)
		if !ok {
			break
		}
		due = append(due, key)
	}
	e.heapMu.Unlock()

	if len(due) == 0 {
		return
	}

	ring := e.ring.Load()
	for _, key := range due {
		item, ok := e.machine.GetRaw(key)
		if !ok || item.Tombstone() || item.TTLSec == 0 {
			continue
		}

		if ring == nil || !ring.Owns(key, e.cfg.MemberID) {
			// not ours to judge; check again one budget later in case
			// ownership moves here
			e.reschedule(key, now+int64(item.TTLSec)*1000)
			continue
		}

		base := item.Beat
		if base == 0 {
			base = item.Stamp
		}
		elapsed := now - base
		budget := int64(item.TTLSec) * 1000

		switch {
		case elapsed >= 2*budget:
			e.machine.Tombstone(key, e.cfg.MemberID, now)
			e.enqueue(key)
			metricExpired.Inc()
			log.Infof("instance expired: key=%s, silent for %dms", key, elapsed)
		case elapsed >= budget:
			if _, marked := e.machine.MarkUnhealthy(key, e.cfg.MemberID, now); marked {
				e.enqueue(key)
				metricUnhealthy.Inc()
				log.Debugf("instance unhealthy: key=%s, silent for %dms", key, elapsed)
			} else {
				// already unhealthy, the deletion deadline is still ahead
				e.reschedule(key, base+2*budget)
			}
		default:
			// a heartbeat arrived since this deadline was set
			e.reschedule(key, expiryDeadline(item))
		}
	}
}

func (e *Engine) reschedule(key string, deadline int64) {
	e.heapMu.Lock()
	e.heap.Schedule(key, deadline)
	e.heapMu.Unlock()
}
