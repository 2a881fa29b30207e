package raft

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dCR/lib/consistency"
	"github.com/ValentinKolb/dCR/lib/raft/internal"
	"github.com/ValentinKolb/dCR/lib/state"
)

// LocalEngine is the standalone twin of the replicated engine. It applies
// commands straight to an in-process CP machine and fakes the log index with
// an atomic counter, so single-node deployments behave exactly like a
// cluster of one - including lock expiry - without running raft.
type LocalEngine struct {
	machine   *state.CPMachine
	index     atomic.Uint64
	advertise string

	closeOnce sync.Once
	closeCh   chan struct{}
	wg        sync.WaitGroup
}

// NewLocalEngine creates a standalone engine. The advertise address is what
// clients get as leader hint; it may be empty.
func NewLocalEngine(factory MachineFactory, advertise string) *LocalEngine {
	e := &LocalEngine{
		machine:   factory(),
		advertise: advertise,
		closeCh:   make(chan struct{}),
	}
	e.wg.Add(1)
	go e.sweepLoop(time.Second)
	return e
}

// incAndGetIndex increments the index and returns the new value.
// It is used to ensure that each write operation has a unique index.
//
// Thread-safety: This method is thread-safe since it uses atomic operations.
func (e *LocalEngine) incAndGetIndex() uint64 {
	return e.index.Add(1)
}

// --------------------------------------------------------------------------
// Interface Methods (docu see consistency.ICPEngine)
// --------------------------------------------------------------------------

func (e *LocalEngine) Propose(_ context.Context, op consistency.Operation) (consistency.Outcome, error) {
	cmd, err := commandFromOperation(op)
	if err != nil {
		return consistency.Outcome{}, err
	}

	code, data := internal.Dispatch(e.machine, cmd, e.incAndGetIndex())
	if code != consistency.ErrCSuccess {
		return consistency.Outcome{}, consistency.NewError(code, string(data))
	}
	return consistency.Outcome{Ok: true, Index: internal.ParseIndex(data)}, nil
}

func (e *LocalEngine) Read(_ context.Context, q consistency.Query) (consistency.Outcome, error) {
	switch q.Verb {

	case consistency.QueryGet:
		res, err := internal.Resolve(e.machine, internal.Query{
			Type: internal.QueryTGet, Kind: q.Kind, Key: q.Key,
		})
		if err != nil {
			return consistency.Outcome{}, err
		}
		qr := res.(internal.QueryResult)
		outcome := consistency.Outcome{Ok: qr.Ok}
		if qr.Ok {
			outcome.Value = qr.Item.Value
			outcome.Index = qr.Item.Version
			outcome.Items = []consistency.Item{qr.Item}
		}
		return outcome, nil

	case consistency.QueryHas:
		res, err := internal.Resolve(e.machine, internal.Query{
			Type: internal.QueryTHas, Kind: q.Kind, Key: q.Key,
		})
		if err != nil {
			return consistency.Outcome{}, err
		}
		return consistency.Outcome{Ok: res.(bool)}, nil

	case consistency.QueryList:
		res, err := internal.Resolve(e.machine, internal.Query{
			Type: internal.QueryTList, Kind: q.Kind, Key: q.Key, Limit: int(q.Limit),
		})
		if err != nil {
			return consistency.Outcome{}, err
		}
		return consistency.Outcome{Ok: true, Items: res.([]consistency.Item)}, nil

	case consistency.QueryHistory:
		res, err := internal.Resolve(e.machine, internal.Query{
			Type: internal.QueryTHistory, Key: q.Key, Limit: int(q.Limit),
		})
		if err != nil {
			return consistency.Outcome{}, err
		}
		return consistency.Outcome{Ok: true, Items: res.([]consistency.Item)}, nil

	case consistency.QueryInfo:
		res, err := internal.Resolve(e.machine, internal.Query{Type: internal.QueryTInfo})
		if err != nil {
			return consistency.Outcome{}, err
		}
		data, err := json.Marshal(res.(state.Info))
		if err != nil {
			return consistency.Outcome{}, consistency.NewErrorf(consistency.ErrCInternal,
				"marshal machine info: %v", err)
		}
		return consistency.Outcome{Ok: true, Value: data}, nil

	default:
		return consistency.Outcome{}, consistency.NewErrorf(consistency.ErrCInvalidOperation,
			"unknown query verb: %d", q.Verb)
	}
}

func (e *LocalEngine) LeaderHint() (string, bool) {
	return e.advertise, e.advertise != ""
}

func (e *LocalEngine) Ready() bool { return true }

func (e *LocalEngine) Close() error {
	e.closeOnce.Do(func() {
		close(e.closeCh)
	})
	e.wg.Wait()
	e.machine.Close()
	return nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see consistency.IMembershipAdmin)
// --------------------------------------------------------------------------

func (e *LocalEngine) AddReplica(_ context.Context, _ uint64, _ string) error {
	return consistency.NewError(consistency.ErrCInvalidOperation, "standalone mode has a single replica")
}

func (e *LocalEngine) RemoveReplica(_ context.Context, _ uint64) error {
	return consistency.NewError(consistency.ErrCInvalidOperation, "standalone mode has a single replica")
}

func (e *LocalEngine) AddNonVoting(_ context.Context, _ uint64, _ string) error {
	return consistency.NewError(consistency.ErrCInvalidOperation, "standalone mode has a single replica")
}

func (e *LocalEngine) Membership(_ context.Context) (consistency.MembershipInfo, error) {
	return consistency.MembershipInfo{
		Replicas: map[uint64]string{1: e.advertise},
		LeaderID: 1,
		IsLeader: true,
	}, nil
}

// --------------------------------------------------------------------------
// Maintenance
// --------------------------------------------------------------------------

func (e *LocalEngine) sweepLoop(interval time.Duration) {
	defer e.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.closeCh:
			return
		case <-ticker.C:
			now := time.Now().UnixMilli()
			for _, deadline := range e.machine.LockDeadlines() {
				if deadline <= now {
					e.machine.SweepLocks(e.incAndGetIndex(), now)
					break
				}
			}
		}
	}
}
