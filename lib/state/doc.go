// Package state implements the two replicated state machines of dCR.
//
// # Overview
//
// Both consistency engines drive a state machine that lives in this package:
//
//   - CPMachine holds the strongly consistent data: configuration entries with
//     their bounded release histories, the namespace registry, namespace locks
//     and gray release rules. It is driven exclusively by the raft engine (or
//     the standalone engine), which feeds it applied log entries in order.
//   - APMachine holds the eventually consistent data: service instances and
//     their heartbeat state. It is driven by the distro engine, which applies
//     local writes and merges deltas received from peers.
//
// Both machines share one contract (IStateMachine): versioned writes where a
// write carrying a version at or below the stored one is a silent no-op, plus
// binary snapshot save/load with a magic header. The CP snapshot feeds raft
// snapshotting and recovery; the AP snapshot feeds the distro full-state
// transfer that new nodes perform before declaring themselves ready.
//
// # Determinism
//
// CPMachine is strictly deterministic: given the same sequence of applied
// commands it produces byte-identical snapshots on every replica. Wall-clock
// time enters only through the command payload (the proposer's stamp recorded
// in the raft log), never through the local clock. Lock expiry is therefore
// decided by comparing stored deadlines against stamps carried in commands -
// all replicas reach the same verdict.
//
// APMachine resolves concurrent updates with a commutative, idempotent merge:
// the higher version wins, ties fall back to the higher stamp, and identical
// version+stamp merges only widen the heartbeat watermark. Applying the same
// delta twice leaves the state unchanged.
//
// # Concurrency
//
// CPMachine uses one coarse RWMutex: the raft engine serializes writes anyway
// and lookups only need a consistent view. APMachine is sharded with per-key
// atomic merges (xsync Compute) because every request-handling goroutine may
// write to it concurrently.
package state
