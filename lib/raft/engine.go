package raft

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/ValentinKolb/dCR/lib/consistency"
	"github.com/ValentinKolb/dCR/lib/raft/internal"
	"github.com/ValentinKolb/dCR/lib/state"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/client"
	"github.com/lni/dragonboat/v4/logger"
	sm "github.com/lni/dragonboat/v4/statemachine"
	"github.com/puzpuzpuz/xsync/v3"
)

var (
	retries = 5
	// dragonboat claims the "raft" logger name for its own raft package,
	// so the engine logs under a distinct name.
	log = logger.GetLogger("engine")
)

var (
	metricProposals      = metrics.NewCounter(`dcr_raft_proposals_total`)
	metricProposalErrors = metrics.NewCounter(`dcr_raft_proposal_errors_total`)
	metricProposeRetries = metrics.NewCounter(`dcr_raft_propose_retries_total`)
	metricReads          = metrics.NewCounter(`dcr_raft_reads_total`)
	metricStaleReads     = metrics.NewCounter(`dcr_raft_stale_reads_total`)
	metricLockSweeps     = metrics.NewCounter(`dcr_raft_lock_sweeps_total`)
)

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

// Config carries the per-replica settings of the replicated engine.
type Config struct {
	ShardID   uint64
	ReplicaID uint64

	// Timeout is the per-attempt deadline for proposals and linearizable
	// reads. Defaults to 3s.
	Timeout time.Duration

	// Members seeds the replicaID -> raft address book used for leader
	// hints. Membership changes keep the book up to date.
	Members map[uint64]string

	// SweepInterval is how often the leader checks for expired locks.
	// Defaults to 1s.
	SweepInterval time.Duration

	// SnapshotInterval is the time-based snapshot cadence on the leader,
	// in addition to dragonboat's entry-count based snapshotting.
	// 0 disables it.
	SnapshotInterval time.Duration
}

// --------------------------------------------------------------------------
// Engine
// --------------------------------------------------------------------------

// Engine is the strongly consistent engine. It encapsulates a Dragonboat
// NodeHost which is used to communicate with the replicated state machine:
// every mutation travels through the raft log, reads are linearizable unless
// the caller explicitly asks for stale data.
//
// The engine does not own the NodeHost; the caller starts and stops it.
type Engine struct {
	nh        *dragonboat.NodeHost
	shardID   uint64
	replicaID uint64
	cs        *client.Session
	timeout   time.Duration
	members   *xsync.MapOf[uint64, string]

	closeOnce sync.Once
	closeCh   chan struct{}
	wg        sync.WaitGroup
}

// NewEngine creates the replicated engine on top of a started NodeHost and
// launches the leader-side maintenance loops (lock sweep, snapshots).
func NewEngine(nh *dragonboat.NodeHost, cfg Config) *Engine {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Second
	}

	e := &Engine{
		nh:        nh,
		shardID:   cfg.ShardID,
		replicaID: cfg.ReplicaID,
		cs:        nh.GetNoOPSession(cfg.ShardID),
		timeout:   cfg.Timeout,
		members:   xsync.NewMapOf[uint64, string](),
		closeCh:   make(chan struct{}),
	}
	for id, addr := range cfg.Members {
		e.members.Store(id, addr)
	}

	e.wg.Add(1)
	go e.sweepLoop(cfg.SweepInterval)
	if cfg.SnapshotInterval > 0 {
		e.wg.Add(1)
		go e.snapshotLoop(cfg.SnapshotInterval)
	}
	return e
}

// --------------------------------------------------------------------------
// Internal write and read operations (used by interface methods)
// --------------------------------------------------------------------------

// write sends a serialized command via SyncPropose, retrying while the raft
// runtime reports system busy.
func (e *Engine) write(ctx context.Context, cmd []byte) (sm.Result, error) {
	for i := 0; i < retries; i++ {
		attemptCtx, cancel := context.WithTimeout(ctx, e.timeout)
		res, err := e.nh.SyncPropose(attemptCtx, e.cs, cmd)
		cancel()

		// Check for system busy errors
		if errors.Is(err, dragonboat.ErrSystemBusy) {
			metricProposeRetries.Inc()
			log.Infof("SyncPropose: system busy, retrying (%d/%d)...", i+1, retries)
			select {
			case <-time.After(e.timeout / 10):
				continue
			case <-ctx.Done():
				return sm.Result{}, mapEngineError(ctx.Err(), "propose")
			}
		}

		if err != nil {
			return sm.Result{}, mapEngineError(err, "propose")
		}
		return res, nil
	}
	return sm.Result{}, consistency.NewError(consistency.ErrCUnavailable, "proposal retries exhausted")
}

// read is a generic helper that queries the state machine and attempts to
// convert the response into the expected type R.
//
// By default it uses SyncRead for linearizable results. If linearizability
// is not required, the stale parameter selects the faster StaleRead path
// that answers from local state.
func read[R any](e *Engine, ctx context.Context, q internal.Query, stale bool) (R, error) {
	var zero R
	for i := 0; i < retries; i++ {

		var res interface{}
		var err error

		if stale {
			metricStaleReads.Inc()
			res, err = e.nh.StaleRead(e.shardID, q)
		} else {
			metricReads.Inc()
			attemptCtx, cancel := context.WithTimeout(ctx, e.timeout)
			res, err = e.nh.SyncRead(attemptCtx, e.shardID, q)
			cancel()
		}

		// Check for system busy errors
		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncRead: system busy, retrying (%d/%d)...", i+1, retries)
			select {
			case <-time.After(e.timeout / 10):
				continue
			case <-ctx.Done():
				return zero, mapEngineError(ctx.Err(), "read")
			}
		}

		if err != nil {
			var ce *consistency.Error
			if errors.As(err, &ce) {
				return zero, ce
			}
			return zero, mapEngineError(err, "read")
		}

		casted, ok := res.(R)
		if !ok {
			return zero, consistency.NewErrorf(consistency.ErrCInternal,
				"unexpected type: received %T, expected %T", res, zero)
		}
		return casted, nil
	}
	return zero, consistency.NewError(consistency.ErrCUnavailable, "read retries exhausted")
}

// mapEngineError translates dragonboat and context errors into the typed
// error vocabulary clients and the transport layer understand.
func mapEngineError(err error, op string) error {
	switch {
	case errors.Is(err, dragonboat.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return consistency.NewErrorf(consistency.ErrCTimeout, "%s timed out: %v", op, err)
	case errors.Is(err, context.Canceled):
		return consistency.NewErrorf(consistency.ErrCTimeout, "%s canceled: %v", op, err)
	case errors.Is(err, dragonboat.ErrShardNotReady):
		return consistency.NewErrorf(consistency.ErrCUnavailable, "%s: shard has no quorum yet: %v", op, err)
	case errors.Is(err, dragonboat.ErrShardNotFound):
		return consistency.NewErrorf(consistency.ErrCUnavailable, "%s: shard not started on this node: %v", op, err)
	case errors.Is(err, dragonboat.ErrClosed):
		return consistency.NewErrorf(consistency.ErrCUnavailable, "%s: node host closed: %v", op, err)
	case errors.Is(err, dragonboat.ErrRejected):
		return consistency.NewErrorf(consistency.ErrCMembershipChange, "%s rejected: %v", op, err)
	default:
		return consistency.NewErrorf(consistency.ErrCInternal, "%s failed: %v", op, err)
	}
}

// commandFromOperation validates and translates a consistency operation into
// its raft log representation.
func commandFromOperation(op consistency.Operation) (*internal.Command, error) {
	if op.Kind.Consistency() != consistency.ModeCP {
		return nil, consistency.NewErrorf(consistency.ErrCInvalidOperation,
			"data kind %q is not strongly consistent", op.Kind)
	}

	var cmdType internal.CommandType
	switch op.Verb {
	case consistency.VerbPut:
		cmdType = internal.CommandTPut
	case consistency.VerbPutIfAbsent:
		cmdType = internal.CommandTPutIfAbsent
	case consistency.VerbDelete:
		cmdType = internal.CommandTDelete
	default:
		return nil, consistency.NewErrorf(consistency.ErrCInvalidOperation,
			"verb %q is not replicated", op.Verb)
	}

	stamp := op.Stamp
	if stamp == 0 {
		stamp = time.Now().UnixMilli()
	}

	return &internal.Command{
		Type:   cmdType,
		Kind:   op.Kind,
		TTLSec: op.TTLSec,
		Stamp:  stamp,
		Key:    op.Key,
		Value:  op.Value,
		Origin: op.Origin,
	}, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see consistency.ICPEngine)
// --------------------------------------------------------------------------

func (e *Engine) Propose(ctx context.Context, op consistency.Operation) (consistency.Outcome, error) {
	metricProposals.Inc()

	cmd, err := commandFromOperation(op)
	if err != nil {
		metricProposalErrors.Inc()
		return consistency.Outcome{}, err
	}

	res, err := e.write(ctx, cmd.Serialize())
	if err != nil {
		metricProposalErrors.Inc()
		return consistency.Outcome{}, err
	}
	if res.Value != uint64(consistency.ErrCSuccess) {
		metricProposalErrors.Inc()
		return consistency.Outcome{}, consistency.NewError(consistency.ErrCode(res.Value), string(res.Data))
	}
	return consistency.Outcome{Ok: true, Index: internal.ParseIndex(res.Data)}, nil
}

func (e *Engine) Read(ctx context.Context, q consistency.Query) (consistency.Outcome, error) {
	switch q.Verb {

	case consistency.QueryGet:
		res, err := read[internal.QueryResult](e, ctx, internal.Query{
			Type: internal.QueryTGet, Kind: q.Kind, Key: q.Key,
		}, q.Stale)
		if err != nil {
			return consistency.Outcome{}, err
		}
		outcome := consistency.Outcome{Ok: res.Ok, Stale: q.Stale}
		if res.Ok {
			outcome.Value = res.Item.Value
			outcome.Index = res.Item.Version
			outcome.Items = []consistency.Item{res.Item}
		}
		return outcome, nil

	case consistency.QueryHas:
		ok, err := read[bool](e, ctx, internal.Query{
			Type: internal.QueryTHas, Kind: q.Kind, Key: q.Key,
		}, q.Stale)
		if err != nil {
			return consistency.Outcome{}, err
		}
		return consistency.Outcome{Ok: ok, Stale: q.Stale}, nil

	case consistency.QueryList:
		items, err := read[[]consistency.Item](e, ctx, internal.Query{
			Type: internal.QueryTList, Kind: q.Kind, Key: q.Key, Limit: int(q.Limit),
		}, q.Stale)
		if err != nil {
			return consistency.Outcome{}, err
		}
		return consistency.Outcome{Ok: true, Items: items, Stale: q.Stale}, nil

	case consistency.QueryHistory:
		items, err := read[[]consistency.Item](e, ctx, internal.Query{
			Type: internal.QueryTHistory, Key: q.Key, Limit: int(q.Limit),
		}, q.Stale)
		if err != nil {
			return consistency.Outcome{}, err
		}
		return consistency.Outcome{Ok: true, Items: items, Stale: q.Stale}, nil

	case consistency.QueryInfo:
		// machine metadata never needs linearizability
		info, err := read[state.Info](e, ctx, internal.Query{Type: internal.QueryTInfo}, true)
		if err != nil {
			return consistency.Outcome{}, err
		}
		data, err := json.Marshal(info)
		if err != nil {
			return consistency.Outcome{}, consistency.NewErrorf(consistency.ErrCInternal,
				"marshal machine info: %v", err)
		}
		return consistency.Outcome{Ok: true, Value: data, Stale: true}, nil

	default:
		return consistency.Outcome{}, consistency.NewErrorf(consistency.ErrCInvalidOperation,
			"unknown query verb: %d", q.Verb)
	}
}

func (e *Engine) LeaderHint() (string, bool) {
	leaderID, _, valid, err := e.nh.GetLeaderID(e.shardID)
	if err != nil || !valid {
		return "", false
	}
	return e.members.Load(leaderID)
}

func (e *Engine) Ready() bool {
	_, _, valid, err := e.nh.GetLeaderID(e.shardID)
	return err == nil && valid
}

func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		close(e.closeCh)
	})
	e.wg.Wait()
	return nil
}

// IsLeader reports whether this replica currently leads the shard.
func (e *Engine) IsLeader() bool {
	leaderID, _, valid, err := e.nh.GetLeaderID(e.shardID)
	return err == nil && valid && leaderID == e.replicaID
}

// --------------------------------------------------------------------------
// Interface Methods (docu see consistency.IMembershipAdmin)
// --------------------------------------------------------------------------

func (e *Engine) AddReplica(ctx context.Context, replicaID uint64, target string) error {
	ccid, err := e.configChangeID(ctx)
	if err != nil {
		return err
	}
	attemptCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if err := e.nh.SyncRequestAddReplica(attemptCtx, e.shardID, replicaID, target, ccid); err != nil {
		return mapEngineError(err, "add replica")
	}
	e.members.Store(replicaID, target)
	log.Infof("replica %d (%s) added to shard %d", replicaID, target, e.shardID)
	return nil
}

func (e *Engine) RemoveReplica(ctx context.Context, replicaID uint64) error {
	ccid, err := e.configChangeID(ctx)
	if err != nil {
		return err
	}
	attemptCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if err := e.nh.SyncRequestDeleteReplica(attemptCtx, e.shardID, replicaID, ccid); err != nil {
		return mapEngineError(err, "remove replica")
	}
	e.members.Delete(replicaID)
	log.Infof("replica %d removed from shard %d", replicaID, e.shardID)
	return nil
}

func (e *Engine) AddNonVoting(ctx context.Context, replicaID uint64, target string) error {
	ccid, err := e.configChangeID(ctx)
	if err != nil {
		return err
	}
	attemptCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if err := e.nh.SyncRequestAddNonVoting(attemptCtx, e.shardID, replicaID, target, ccid); err != nil {
		return mapEngineError(err, "add non-voting replica")
	}
	e.members.Store(replicaID, target)
	log.Infof("non-voting replica %d (%s) added to shard %d", replicaID, target, e.shardID)
	return nil
}

func (e *Engine) Membership(ctx context.Context) (consistency.MembershipInfo, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	ms, err := e.nh.SyncGetShardMembership(attemptCtx, e.shardID)
	if err != nil {
		return consistency.MembershipInfo{}, mapEngineError(err, "membership query")
	}

	// Fill address book gaps from the authoritative view. Seeded entries win:
	// they carry the advertise addresses clients can actually reach, the raft
	// view only knows inter-replica addresses.
	for id, addr := range ms.Nodes {
		e.members.LoadOrStore(id, addr)
	}

	info := consistency.MembershipInfo{
		ConfigChangeID: ms.ConfigChangeID,
		Replicas:       ms.Nodes,
		NonVoting:      ms.NonVotings,
	}
	if leaderID, _, valid, err := e.nh.GetLeaderID(e.shardID); err == nil && valid {
		info.LeaderID = leaderID
		info.IsLeader = leaderID == e.replicaID
	}
	return info, nil
}

// configChangeID fetches the current config change id required to order
// membership changes. A mismatch on submit means a concurrent change won.
func (e *Engine) configChangeID(ctx context.Context) (uint64, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	ms, err := e.nh.SyncGetShardMembership(attemptCtx, e.shardID)
	if err != nil {
		return 0, mapEngineError(err, "membership query")
	}
	return ms.ConfigChangeID, nil
}

// --------------------------------------------------------------------------
// Maintenance Loops
// --------------------------------------------------------------------------

// sweepLoop periodically removes expired locks. Only the leader proposes
// sweeps, so the cluster performs at most one per interval.
func (e *Engine) sweepLoop(interval time.Duration) {
	defer e.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.closeCh:
			return
		case <-ticker.C:
			e.sweepExpiredLocks()
		}
	}
}

func (e *Engine) sweepExpiredLocks() {
	if !e.IsLeader() {
		return
	}

	// local state is good enough to decide whether a sweep is worth
	// proposing, the machine re-checks against the command stamp anyway
	res, err := e.nh.StaleRead(e.shardID, internal.Query{Type: internal.QueryTLockDeadlines})
	if err != nil {
		return
	}
	deadlines, ok := res.(map[string]int64)
	if !ok || len(deadlines) == 0 {
		return
	}

	now := time.Now().UnixMilli()
	expired := false
	for _, deadline := range deadlines {
		if deadline <= now {
			expired = true
			break
		}
	}
	if !expired {
		return
	}

	cmd := internal.Command{Type: internal.CommandTSweepLocks, Kind: consistency.KindLock, Stamp: now}
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	if _, err := e.nh.SyncPropose(ctx, e.cs, cmd.Serialize()); err != nil {
		log.Warningf("lock sweep proposal failed: %v", err)
		return
	}
	metricLockSweeps.Inc()
	log.Debugf("proposed lock sweep at %d", now)
}

// snapshotLoop requests a time-based snapshot so that log compaction also
// happens on shards with low write volume.
func (e *Engine) snapshotLoop(interval time.Duration) {
	defer e.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.closeCh:
			return
		case <-ticker.C:
			if !e.IsLeader() {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
			_, err := e.nh.SyncRequestSnapshot(ctx, e.shardID, dragonboat.SnapshotOption{})
			cancel()
			if err != nil && !errors.Is(err, dragonboat.ErrRejected) {
				log.Warningf("snapshot request failed: %v", err)
			}
		}
	}
}
