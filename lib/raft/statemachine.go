package raft

import (
	"io"
	"time"

	"github.com/ValentinKolb/dCR/lib/consistency"
	"github.com/ValentinKolb/dCR/lib/raft/internal"
	"github.com/ValentinKolb/dCR/lib/state"
	sm "github.com/lni/dragonboat/v4/statemachine"
)

// --------------------------------------------------------------------------
// State Machine Implementation
// --------------------------------------------------------------------------

// MachineFactory creates the CP state machine a replica runs on. The factory
// pattern lets the caller hook up the machine (e.g. watch notifications)
// before dragonboat takes ownership of it.
type MachineFactory func() *state.CPMachine

// ConsistencyStateMachine adapts the CP state machine to the Dragonboat RAFT
// runtime. Dragonboat serializes Update calls; lookups and snapshots run
// concurrently and rely on the machine's own locking.
type ConsistencyStateMachine struct {
	replicaID uint64
	shardID   uint64
	machine   *state.CPMachine
}

// CreateStateMachineFactory returns the constructor dragonboat invokes when
// it starts a replica of the consistency shard.
func CreateStateMachineFactory(factory MachineFactory) func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
	return func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
		return &ConsistencyStateMachine{
			replicaID: replicaID,
			shardID:   shardID,
			machine:   factory(),
		}
	}
}

// Lookup handles read-only queries by delegating to the shared resolve path.
func (fsm *ConsistencyStateMachine) Lookup(itf interface{}) (interface{}, error) {
	q, ok := itf.(internal.Query)
	if !ok {
		return nil, consistency.NewErrorf(consistency.ErrCInternal, "invalid query type: %T", itf)
	}
	return internal.Resolve(fsm.machine, q)
}

// Update applies a batch of committed log entries to the CP machine.
// Each entry carries its own raft index, which becomes the version of the
// entry it writes.
func (fsm *ConsistencyStateMachine) Update(entries []sm.Entry) ([]sm.Entry, error) {
	if len(entries) == 0 {
		return entries, nil
	}

	start := time.Now()

	for idx, e := range entries {
		if len(e.Cmd) == 0 {
			entries[idx].Result = sm.Result{
				Value: uint64(consistency.ErrCInvalidOperation),
				Data:  []byte("empty command ignored"),
			}
			continue
		}

		cmd := internal.Command{}
		if err := cmd.Deserialize(e.Cmd); err != nil {
			entries[idx].Result = sm.Result{
				Value: uint64(consistency.ErrCInternal),
				Data:  []byte("failed to deserialize command: " + err.Error()),
			}
			continue
		}

		code, data := internal.Dispatch(fsm.machine, &cmd, e.Index)
		entries[idx].Result = sm.Result{Value: uint64(code), Data: data}
	}

	// Log if the update took long
	if elapsed := time.Since(start); elapsed > time.Millisecond {
		log.Infof("state machine batch applied %d entries, took %.2fms",
			len(entries), float64(elapsed)/float64(time.Millisecond))
	}
	return entries, nil
}

// PrepareSnapshot is not used: Save locks the machine for reading and
// streams a consistent image, updates wait for the duration of the write.
func (fsm *ConsistencyStateMachine) PrepareSnapshot() (interface{}, error) {
	return nil, nil
}

// SaveSnapshot streams the machine's deterministic snapshot to the writer.
func (fsm *ConsistencyStateMachine) SaveSnapshot(_ interface{}, writer io.Writer, _ sm.ISnapshotFileCollection, _ <-chan struct{}) error {
	return fsm.machine.Save(writer)
}

// RecoverFromSnapshot replaces the machine state with the snapshot image.
func (fsm *ConsistencyStateMachine) RecoverFromSnapshot(r io.Reader, _ []sm.SnapshotFile, _ <-chan struct{}) error {
	return fsm.machine.Load(r)
}

// Close performs any necessary cleanup.
func (fsm *ConsistencyStateMachine) Close() error {
	fsm.machine.Close()
	return nil
}
