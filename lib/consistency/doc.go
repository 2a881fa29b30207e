// Package consistency defines the shared vocabulary and the routing layer of
// the dCR consistency substrate.
//
// # Overview
//
// dCR replicates two categories of data with different guarantees:
//
//   - CP data (configuration entries, namespaces, locks, release metadata and
//     gray rules) is replicated through a raft group and is strongly
//     consistent: a successful write is durable on a quorum and every
//     linearizable read observes it.
//   - AP data (service instances and their heartbeats) is replicated through
//     the distro protocol and is eventually consistent: writes succeed locally
//     and converge across the cluster within bounded time.
//
// Every piece of data carries a DataKind. The kind decides once and forever
// which engine replicates it; the mapping is a static table compiled into this
// package and is never rebound at runtime. Callers therefore never choose a
// protocol - they describe WHAT they want to store, and the router decides HOW
// it is replicated.
//
// # Operation Model
//
// All mutations are expressed as an Operation (kind, verb, key, value, ttl)
// and all reads as a Query (kind, verb, key). The engines answer both with a
// single normalized Outcome carrying the applied index (raft log index for CP,
// item version for AP), an optional value and an optional item list. This one
// response shape is shared by both engines so that callers (the RPC adapters,
// the lock manager, the CLI) never special-case the protocol.
//
// # Error Model
//
// All errors surfaced by the engines are *consistency.Error values with a
// numeric code:
//
//   - ErrCNotLeader: the local node cannot commit CP writes; the error carries
//     a hint naming the current leader when known. Retryable against the hint.
//   - ErrCUnavailable: no quorum / engine still loading. Retryable later.
//   - ErrCTimeout: the operation MAY have been applied; the outcome is unknown
//     to the caller. Not blindly retryable for non-idempotent operations.
//   - ErrCConflict: the operation lost a first-writer-wins race (lock
//     acquisition, put-if-absent).
//   - ErrCMembershipChange: a raft membership change is already in flight;
//     only one may be pending at a time.
//   - ErrCInvalidOperation: the kind/verb combination is not served.
//   - ErrCInternal: unexpected engine failure.
//
// Replication-internal failures (a failed sync to a peer, a failed verify
// round) never surface here: they are logged, counted and repaired by the
// anti-entropy machinery.
//
// A read served from local state without a read-index round is marked with
// Outcome.Stale = true. Staleness is informational, never an error.
package consistency
