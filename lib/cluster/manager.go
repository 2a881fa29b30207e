package cluster

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var (
	log = logger.GetLogger("cluster")

	metricProbes      = metrics.NewCounter("dcr_cluster_probes_total")
	metricProbeFails  = metrics.NewCounter("dcr_cluster_probe_failures_total")
	metricTransitions = metrics.NewCounter("dcr_cluster_state_transitions_total")
)

// Manager tracks the liveness of all cluster members. It probes every
// remote member on a fixed interval, re-resolves the member list via the
// configured lookup, and publishes a new immutable View whenever anything
// changes. See the package documentation for the state model.
type Manager struct {
	cfg    Config
	lookup ILookup
	pinger IPinger

	mu      sync.Mutex
	members map[string]*Member // guarded by mu, id -> live record
	version uint64             // guarded by mu, bumped on every publish

	view atomic.Pointer[View] // latest published snapshot

	subs   *xsync.MapOf[uint64, chan View]
	subSeq atomic.Uint64

	closeOnce sync.Once
	closeCh   chan struct{}
	wg        sync.WaitGroup
}

// NewManager creates a membership manager. The lookup provides the member
// list, the pinger decides whether a single member is reachable. Start must
// be called before the manager probes anything.
func NewManager(cfg Config, lookup ILookup, pinger IPinger) (*Manager, error) {
	if cfg.LocalID == "" {
		return nil, fmt.Errorf("cluster: local id must not be empty")
	}
	if lookup == nil {
		return nil, fmt.Errorf("cluster: lookup must not be nil")
	}
	if pinger == nil {
		return nil, fmt.Errorf("cluster: pinger must not be nil")
	}

	m := &Manager{
		cfg:     cfg.withDefaults(),
		lookup:  lookup,
		pinger:  pinger,
		members: make(map[string]*Member),
		subs:    xsync.NewMapOf[uint64, chan View](),
		closeCh: make(chan struct{}),
	}

	// the local member always exists and is always up
	m.members[cfg.LocalID] = &Member{
		ID:      cfg.LocalID,
		Address: cfg.LocalAddress,
		State:   StateUp,
		SeenAt:  time.Now().UnixMilli(),
	}

	return m, nil
}

// Start resolves the initial member list and launches the probe and refresh
// loops. It blocks until the first resolve finished (or failed, which is not
// fatal: the refresh loop retries).
func (m *Manager) Start(ctx context.Context) error {
	members, err := m.lookup.Resolve(ctx)
	if err != nil {
		log.Warningf("initial member lookup failed (will retry): lookup=%s, err=%v", m.lookup.Name(), err)
	} else {
		m.reconcile(members)
	}

	m.mu.Lock()
	m.publishLocked()
	m.mu.Unlock()

	m.wg.Add(2)
	go m.probeLoop()
	go m.refreshLoop()

	log.Infof("membership manager started: local=%s, lookup=%s, probe=%v", m.cfg.LocalID, m.lookup.Name(), m.cfg.ProbeInterval)
	return nil
}

// View returns the latest published snapshot. The returned value is immutable
// and safe to retain.
func (m *Manager) View() View {
	if v := m.view.Load(); v != nil {
		return *v
	}
	return View{}
}

// Self returns the local member's record.
func (m *Manager) Self() Member {
	v := m.View()
	if mem, ok := v.Member(m.cfg.LocalID); ok {
		return mem
	}
	return Member{ID: m.cfg.LocalID, Address: m.cfg.LocalAddress, State: StateUp}
}

// Peers returns all remote members that are not down.
func (m *Manager) Peers() []Member {
	var out []Member
	v := m.View()
	for _, mem := range v.Alive() {
		if mem.ID != m.cfg.LocalID {
			out = append(out, mem)
		}
	}
	return out
}

// Subscribe registers for view updates. The returned channel receives every
// published view (latest-wins: slow consumers may miss intermediate versions
// but always see the newest). The cancel function releases the subscription;
// the channel is never closed.
func (m *Manager) Subscribe() (<-chan View, func()) {
	id := m.subSeq.Add(1)
	ch := make(chan View, 4)
	m.subs.Store(id, ch)

	// deliver the current view immediately so subscribers need no extra
	// View() call to initialize
	if v := m.view.Load(); v != nil {
		ch <- *v
	}

	cancel := func() {
		m.subs.Delete(id)
	}
	return ch, cancel
}

// Close stops the probe and refresh loops. Subscriber channels stay open but
// receive no further updates.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		close(m.closeCh)
		m.wg.Wait()
		if err := m.lookup.Close(); err != nil {
			log.Warningf("lookup close failed: lookup=%s, err=%v", m.lookup.Name(), err)
		}
		log.Infof("membership manager stopped: local=%s", m.cfg.LocalID)
	})
	return nil
}

// ----------------------------------------------------------------------------
// Background Loops
// ----------------------------------------------------------------------------

func (m *Manager) probeLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.closeCh:
			return
		case <-ticker.C:
			m.probeOnce()
		}
	}
}

func (m *Manager) refreshLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.closeCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ProbeTimeout)
			members, err := m.lookup.Resolve(ctx)
			cancel()
			if err != nil {
				log.Warningf("member lookup failed: lookup=%s, err=%v", m.lookup.Name(), err)
				continue
			}
			if m.reconcile(members) {
				m.mu.Lock()
				m.publishLocked()
				m.mu.Unlock()
			}
		}
	}
}

// probeOnce pings all remote members concurrently and applies the results.
// The local member is never probed.
func (m *Manager) probeOnce() {
	m.mu.Lock()
	targets := make([]Member, 0, len(m.members))
	for _, mem := range m.members {
		if mem.ID == m.cfg.LocalID {
			continue
		}
		targets = append(targets, *mem)
	}
	m.mu.Unlock()

	if len(targets) == 0 {
		return
	}

	type verdict struct {
		id string
		ok bool
	}
	results := make(chan verdict, len(targets))

	for _, t := range targets {
		go func(t Member) {
			ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ProbeTimeout)
			defer cancel()
			metricProbes.Inc()
			err := m.pinger.Ping(ctx, t.Address)
			if err != nil {
				metricProbeFails.Inc()
			}
			results <- verdict{id: t.ID, ok: err == nil}
		}(t)
	}

	now := time.Now().UnixMilli()
	changed := false

	m.mu.Lock()
	for range targets {
		v := <-results
		mem, ok := m.members[v.id]
		if !ok {
			continue // removed by a concurrent reconcile
		}
		if m.applyVerdictLocked(mem, v.ok, now) {
			changed = true
		}
	}
	if changed {
		m.publishLocked()
	}
	m.mu.Unlock()
}

// applyVerdictLocked updates a single member record from one probe result and
// reports whether the member's state changed. Caller must hold mu.
func (m *Manager) applyVerdictLocked(mem *Member, ok bool, now int64) bool {
	if ok {
		mem.SeenAt = now
		mem.Fails = 0
		if mem.State != StateUp {
			log.Infof("member recovered: id=%s, address=%s, was=%s", mem.ID, mem.Address, mem.State)
			mem.State = StateUp
			metricTransitions.Inc()
			return true
		}
		return false
	}

	mem.Fails++
	switch {
	case mem.Fails >= m.cfg.DownAfter && mem.State != StateDown:
		log.Warningf("member down: id=%s, address=%s, fails=%d", mem.ID, mem.Address, mem.Fails)
		mem.State = StateDown
		metricTransitions.Inc()
		return true
	case mem.Fails >= m.cfg.SuspectAfter && mem.State == StateUp:
		log.Infof("member suspect: id=%s, address=%s, fails=%d", mem.ID, mem.Address, mem.Fails)
		mem.State = StateSuspect
		metricTransitions.Inc()
		return true
	}
	return false
}

// reconcile merges a freshly resolved member list into the live map: new
// members join as up, known members keep their probe state but pick up
// address/meta changes, absent members are dropped. The local member is never
// dropped. Reports whether anything changed.
func (m *Manager) reconcile(resolved []Member) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	changed := false
	seen := make(map[string]bool, len(resolved)+1)
	seen[m.cfg.LocalID] = true
	now := time.Now().UnixMilli()

	for _, r := range resolved {
		if r.ID == "" {
			r.ID = r.Address
		}
		if r.ID == m.cfg.LocalID {
			continue
		}
		seen[r.ID] = true

		mem, known := m.members[r.ID]
		if !known {
			log.Infof("member joined: id=%s, address=%s", r.ID, r.Address)
			m.members[r.ID] = &Member{
				ID:      r.ID,
				Address: r.Address,
				State:   StateUp,
				SeenAt:  now,
				Meta:    r.Meta,
			}
			changed = true
			continue
		}
		if mem.Address != r.Address {
			log.Infof("member address changed: id=%s, old=%s, new=%s", r.ID, mem.Address, r.Address)
			mem.Address = r.Address
			changed = true
		}
		if len(r.Meta) > 0 && !metaEqual(mem.Meta, r.Meta) {
			mem.Meta = r.Meta
			changed = true
		}
	}

	for id := range m.members {
		if !seen[id] {
			log.Infof("member left: id=%s, address=%s", id, m.members[id].Address)
			delete(m.members, id)
			changed = true
		}
	}

	return changed
}

// publishLocked builds an immutable snapshot from the live map, stores it and
// fans it out to all subscribers. Caller must hold mu. Slow subscribers are
// drained so they always end up with the latest view.
func (m *Manager) publishLocked() {
	m.version++

	members := make([]Member, 0, len(m.members))
	for _, mem := range m.members {
		cp := *mem
		if len(mem.Meta) > 0 {
			cp.Meta = make(map[string]string, len(mem.Meta))
			for k, v := range mem.Meta {
				cp.Meta[k] = v
			}
		}
		members = append(members, cp)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })

	v := View{
		Version: m.version,
		Local:   m.cfg.LocalID,
		Members: members,
	}
	m.view.Store(&v)

	m.subs.Range(func(_ uint64, ch chan View) bool {
		for {
			select {
			case ch <- v:
				return true
			default:
				// full: drop the oldest buffered view and retry
				select {
				case <-ch:
				default:
				}
			}
		}
	})
}

func metaEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
