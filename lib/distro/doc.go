// Package distro implements the eventually consistent replication engine for
// naming data (service instances and their heartbeats). Every member of the
// cluster holds a full replica; there is no quorum and no leader. Writes are
// accepted by any member, applied locally first and then spread to all peers.
//
// # Architecture
//
// The engine is built from five cooperating parts:
//
//   - Ring: a consistent-hash ring (160 virtual nodes per member) computed
//     from the membership view. It assigns each key exactly one owner. All
//     members compute the same ring from the same view, so ownership needs
//     no coordination. Down members leave the ring, suspects stay.
//
//   - Push scheduler: local writes enqueue their key into a lock-free MPSC
//     queue. A scheduler goroutine coalesces the dirty keys per window
//     (default 1s) and pushes one batch with the latest state of every key
//     to each peer. A failed batch is retried once, then abandoned.
//
//   - Verify loop: every interval (default 5s) each member sends every peer
//     a digest (key -> version) of the key space it owns. The receiver pulls
//     the keys it is missing or holds stale, pushes back fresh keys the
//     owner's digest does not list (writes the owner never received), and
//     drops listed-nowhere keys older than the tombstone retention (the
//     owner deleted them and already purged the marker). This is the repair
//     path: push replication may lose batches, verify may not lose anything.
//
//   - Loader: on start with peers present, the engine fetches a full
//     snapshot from any peer before it starts serving. Snapshot requests are
//     answered even by members that are themselves still loading, so a cold
//     cluster boot converges instead of deadlocking.
//
//   - Sweeper: the owner of a key watches its heartbeat. An instance silent
//     for one ttl budget is marked unhealthy, for two budgets it is deleted.
//     Both verdicts bump the item version and replicate like any write, so
//     non-owners never expire anything on their own. Deletions leave
//     tombstones which are purged after a retention period (default 60s).
//
// # Conflict Resolution
//
// Concurrent updates of the same key are ordered by (Version, Stamp): the
// higher version wins, at equal versions the higher stamp wins, and at
// identical version+stamp only the heartbeat watermark widens. Local writes
// always assign version max(known)+1, so a re-registration supersedes every
// previously replicated state including tombstones. The merge is commutative
// and idempotent; any exchange order converges.
//
// # Usage
//
//	machine := state.NewAPMachine(nil)
//	engine, err := distro.NewEngine(distro.Config{
//		MemberID: "10.0.0.1:8080",
//	}, machine, peerClient, clusterManager)
//	if err != nil { ... }
//	defer engine.Close()
//
//	outcome, err := engine.Apply(ctx, consistency.Operation{
//		Kind:  consistency.KindInstance,
//		Verb:  consistency.VerbPut,
//		Key:   "orders@@10.0.0.7:9100",
//		Value: instanceJSON,
//	})
//
// Reads are always served from local state and marked Stale: the engine
// trades the linearizability of the raft engine for availability during
// partitions, which is the right trade-off for ephemeral service instances
// that re-register and re-beat continuously anyway.
package distro
