package distro

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dCR/lib/cluster"
	"github.com/ValentinKolb/dCR/lib/consistency"
	"github.com/ValentinKolb/dCR/lib/state"
	"github.com/ValentinKolb/dCR/lib/util"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	log = logger.GetLogger("distro")

	metricApplies     = metrics.NewCounter("dcr_distro_applies_total")
	metricReads       = metrics.NewCounter("dcr_distro_reads_total")
	metricSyncs       = metrics.NewCounter("dcr_distro_sync_batches_total")
	metricSyncFails   = metrics.NewCounter("dcr_distro_sync_failures_total")
	metricVerifies    = metrics.NewCounter("dcr_distro_verify_rounds_total")
	metricVerifyFails = metrics.NewCounter("dcr_distro_verify_failures_total")
	metricPulled      = metrics.NewCounter("dcr_distro_items_pulled_total")
	metricDropped     = metrics.NewCounter("dcr_distro_items_dropped_total")
	metricUnhealthy   = metrics.NewCounter("dcr_distro_marked_unhealthy_total")
	metricExpired     = metrics.NewCounter("dcr_distro_expired_total")
	metricPurged      = metrics.NewCounter("dcr_distro_tombstones_purged_total")
)

// Engine is the eventually consistent engine. Every member holds a full
// replica; writes land locally first and are then pushed to all peers in
// coalesced batches, with periodic digest verification as the repair path.
// See the package documentation for the protocol.
type Engine struct {
	cfg     Config
	machine *state.APMachine
	peers   IPeerClient
	members IMembership

	ring atomic.Pointer[Ring]
	view atomic.Pointer[cluster.View]

	queue *util.LockFreeMPSC[string] // keys awaiting push replication

	heapMu sync.Mutex
	heap   *util.MapHeap[string] // per-key expiry deadlines, owner sweep

	ready atomic.Bool

	viewCancel func()
	closeOnce  sync.Once
	closeCh    chan struct{}
	wg         sync.WaitGroup
}

// NewEngine creates the distro engine and starts its replication loops. The
// engine serves once the initial load from a peer completed (immediately in a
// single-member cluster).
func NewEngine(cfg Config, machine *state.APMachine, peers IPeerClient, members IMembership) (*Engine, error) {
	if cfg.MemberID == "" {
		return nil, fmt.Errorf("distro: member id must not be empty")
	}
	if machine == nil || peers == nil || members == nil {
		return nil, fmt.Errorf("distro: machine, peers and members must not be nil")
	}

	e := &Engine{
		cfg:     cfg.withDefaults(),
		machine: machine,
		peers:   peers,
		members: members,
		queue:   util.NewLockFreeMPSC[string](),
		heap:    util.NewMapHeap[string](),
		closeCh: make(chan struct{}),
	}

	// all mutations (local, merged, swept) flow through one hook: it keeps
	// the expiry heap current and feeds the configured change listener
	machine.SetOnChange(e.onMachineChange)

	e.applyView(members.View())
	viewCh, cancel := members.Subscribe()
	e.viewCancel = cancel

	e.wg.Add(5)
	go e.viewLoop(viewCh)
	go e.loadLoop()
	go e.syncLoop()
	go e.verifyLoop()
	go e.sweepLoop()

	return e, nil
}

// ----------------------------------------------------------------------------
// Interface Methods (docu see consistency.IAPEngine)
// ----------------------------------------------------------------------------

func (e *Engine) Apply(_ context.Context, op consistency.Operation) (consistency.Outcome, error) {
	if !e.ready.Load() {
		return consistency.Outcome{}, consistency.NewError(consistency.ErrCUnavailable, "distro engine is loading")
	}
	if op.Kind.Consistency() != consistency.ModeAP {
		return consistency.Outcome{}, consistency.NewErrorf(consistency.ErrCInvalidOperation,
			"kind %q is not eventually consistent", op.Kind)
	}
	metricApplies.Inc()

	stamp := op.Stamp
	if stamp == 0 {
		stamp = time.Now().UnixMilli()
	}
	origin := op.Origin
	if origin == "" {
		origin = e.cfg.MemberID
	}

	switch op.Verb {
	case consistency.VerbPut:
		if op.Kind != consistency.KindInstance {
			return consistency.Outcome{}, consistency.NewErrorf(consistency.ErrCInvalidOperation,
				"kind %q accepts no puts", op.Kind)
		}
		ttl := op.TTLSec
		if ttl == 0 {
			ttl = e.cfg.InstanceTTLSec
		}
		item := e.machine.Put(op.Key, op.Value, origin, ttl, stamp)
		e.enqueue(op.Key)
		return consistency.Outcome{Ok: true, Index: item.Version}, nil

	case consistency.VerbTouch:
		item, ok := e.machine.Touch(op.Key, origin, stamp)
		if !ok {
			// unknown or deleted: the caller re-registers
			return consistency.Outcome{}, nil
		}
		e.enqueue(op.Key)
		return consistency.Outcome{Ok: true, Index: item.Version}, nil

	case consistency.VerbDelete:
		if op.Kind != consistency.KindInstance {
			return consistency.Outcome{}, consistency.NewErrorf(consistency.ErrCInvalidOperation,
				"kind %q accepts no deletes", op.Kind)
		}
		// deleting a missing key still leaves a replicated tombstone
		item, _ := e.machine.Tombstone(op.Key, origin, stamp)
		e.enqueue(op.Key)
		return consistency.Outcome{Ok: true, Index: item.Version}, nil

	default:
		return consistency.Outcome{}, consistency.NewErrorf(consistency.ErrCInvalidOperation,
			"verb %q needs the strongly consistent engine", op.Verb)
	}
}

func (e *Engine) Read(_ context.Context, q consistency.Query) (consistency.Outcome, error) {
	if !e.ready.Load() {
		return consistency.Outcome{}, consistency.NewError(consistency.ErrCUnavailable, "distro engine is loading")
	}
	if q.Kind.Consistency() != consistency.ModeAP {
		return consistency.Outcome{}, consistency.NewErrorf(consistency.ErrCInvalidOperation,
			"kind %q is not eventually consistent", q.Kind)
	}
	metricReads.Inc()

	// all distro reads are local, none is linearizable
	switch q.Verb {
	case consistency.QueryGet:
		item, ok := e.machine.Get(q.Key)
		if !ok {
			return consistency.Outcome{Stale: true}, nil
		}
		return consistency.Outcome{
			Ok:    true,
			Index: item.Version,
			Value: item.Value,
			Items: []consistency.Item{item.Item()},
			Stale: true,
		}, nil

	case consistency.QueryHas:
		_, ok := e.machine.Get(q.Key)
		return consistency.Outcome{Ok: ok, Stale: true}, nil

	case consistency.QueryList:
		items := e.machine.List(q.Key, int(q.Limit), true)
		out := make([]consistency.Item, len(items))
		for i, item := range items {
			out[i] = item.Item()
		}
		return consistency.Outcome{Ok: true, Items: out, Stale: true}, nil

	case consistency.QueryInfo:
		data, err := json.Marshal(e.machine.Info())
		if err != nil {
			return consistency.Outcome{}, consistency.NewErrorf(consistency.ErrCInternal,
				"marshal info: %v", err)
		}
		return consistency.Outcome{Ok: true, Value: data, Stale: true}, nil

	default:
		return consistency.Outcome{}, consistency.NewErrorf(consistency.ErrCInvalidOperation,
			"query %q is not served by the distro engine", q.Verb)
	}
}

func (e *Engine) Ready() bool {
	return e.ready.Load()
}

func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		close(e.closeCh)
		e.viewCancel()
		e.queue.Close()
		e.wg.Wait()
		log.Infof("distro engine stopped: member=%s", e.cfg.MemberID)
	})
	return nil
}

// ----------------------------------------------------------------------------
// Membership / Ring
// ----------------------------------------------------------------------------

func (e *Engine) viewLoop(ch <-chan cluster.View) {
	defer e.wg.Done()
	for {
		select {
		case <-e.closeCh:
			return
		case v, ok := <-ch:
			if !ok {
				return
			}
			e.applyView(v)
		}
	}
}

// applyView rebuilds the ownership ring from a membership view. Down members
// leave the ring (their partitions move to the survivors); suspects stay. A
// changed ring triggers an immediate verify round so that newly owned key
// spaces are asserted right away.
func (e *Engine) applyView(v cluster.View) {
	e.view.Store(&v)

	ids := make([]string, 0, len(v.Members))
	for _, m := range v.Alive() {
		ids = append(ids, m.ID)
	}
	ring := BuildRing(v.Version, ids)

	old := e.ring.Swap(ring)
	if old != nil && old.SameMembers(ring) {
		return
	}
	log.Infof("ownership ring rebuilt: version=%d, members=%d", ring.Version, len(ids))

	if old != nil && e.ready.Load() {
		go e.verifyOnce()
	}
}

// alivePeers returns all remote members the engine replicates to.
func (e *Engine) alivePeers() []cluster.Member {
	v := e.view.Load()
	if v == nil {
		return nil
	}
	var out []cluster.Member
	for _, m := range v.Alive() {
		if m.ID != e.cfg.MemberID {
			out = append(out, m)
		}
	}
	return out
}

// addressOf resolves a member id to its address, falling back to the id
// itself (ids are addresses by convention).
func (e *Engine) addressOf(id string) string {
	if v := e.view.Load(); v != nil {
		if m, ok := v.Member(id); ok && m.Address != "" {
			return m.Address
		}
	}
	return id
}

func (e *Engine) enqueue(key string) {
	k := key
	e.queue.Push(&k)
}

// ----------------------------------------------------------------------------
// Initial Load
// ----------------------------------------------------------------------------

// loadLoop fetches a full snapshot from any peer before the engine starts
// serving. Peers answer snapshots even while loading themselves, so two
// members booting at once hand each other their (possibly empty) state
// instead of deadlocking.
func (e *Engine) loadLoop() {
	defer e.wg.Done()

	peers := e.alivePeers()
	if len(peers) == 0 {
		e.ready.Store(true)
		log.Infof("no peers, distro engine ready: member=%s", e.cfg.MemberID)
		return
	}

	for {
		for _, peer := range peers {
			ctx, cancel := context.WithTimeout(context.Background(), e.cfg.PeerTimeout)
			items, err := e.peers.Snapshot(ctx, peer.Address)
			cancel()
			if err != nil {
				log.Debugf("initial load attempt failed: peer=%s, err=%v", peer.ID, err)
				continue
			}

			merged := 0
			for _, item := range items {
				if _, applied := e.machine.Merge(item); applied {
					merged++
				}
			}
			e.ready.Store(true)
			log.Infof("initial load complete: member=%s, peer=%s, items=%d, merged=%d",
				e.cfg.MemberID, peer.ID, len(items), merged)
			return
		}

		log.Warningf("initial load failed on all peers, retrying: member=%s, peers=%d",
			e.cfg.MemberID, len(peers))
		select {
		case <-e.closeCh:
			return
		case <-time.After(e.cfg.LoadRetryDelay):
		}
		peers = e.alivePeers()
		if len(peers) == 0 {
			e.ready.Store(true)
			log.Infof("no peers left, distro engine ready: member=%s", e.cfg.MemberID)
			return
		}
	}
}
