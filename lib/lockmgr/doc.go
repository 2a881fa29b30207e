// Package lockmgr implements distributed locks on top of the strongly
// consistent engine. It provides a simple yet robust way to coordinate
// access to shared resources (typically namespaces and config groups)
// across multiple processes or nodes.
//
// The lock manager only ever stores through the provided router and has no
// other internal state. It is therefore safe to create multiple managers
// over the same router, even one per acquire or release call. As long as
// the same cluster is behind them, all locks work as expected.
//
// Core Functionality:
//   - Lock acquisition with per-acquisition fencing tokens
//   - Automatic lock expiration through lease lifetimes (TTL)
//   - Safe release operations that verify ownership
//
// Implementation Approach:
//
//	Locks are implemented by leveraging the atomic conditional operations
//	of the replicated state machine. Specifically:
//
//	- Lock Acquisition: Proposes a put-if-absent for the lock key carrying
//	  a freshly generated token. The state machine applies commands in log
//	  order, so exactly one concurrent proposer wins; everyone else gets a
//	  conflict verdict. The machine is the sole arbiter - lock reads expose
//	  the holder name, never the token, so there is no read-back check.
//
//	- Ambiguous Timeouts: A proposal that times out may or may not have
//	  been applied. Because the machine treats a re-acquisition with the
//	  same token as a lease renewal, the manager simply re-proposes the
//	  identical command until the context expires. Whichever attempt lands
//	  first, the verdict is the same.
//
//	- Lifetimes: Every lock carries a lease deadline derived from the
//	  replicated command stamp, so a crashed holder cannot block a resource
//	  forever. A lifetime of zero selects the engine default.
//
//	- Safe Release: The delete command carries the token and the machine
//	  rejects it unless the token matches the stored one. A conflict is
//	  disambiguated with a follow-up read: an absent lock means it already
//	  expired or was released (reported as success, release is idempotent),
//	  a present one means somebody else holds it now.
//
// Thread Safety:
//
//	The manager is stateless apart from its router reference and may be
//	shared freely between goroutines. All ordering guarantees come from
//	the replicated log underneath.
//
// Distributed Considerations:
//
//	Commands travel through the consensus log, so the locks are true
//	distributed locks: acquisition is linearizable across the cluster and
//	survives leader changes. Callers should bound every call with a
//	context deadline - during a quorum loss an acquisition can otherwise
//	retry indefinitely.
//
// Usage Example:
//
//	locks := lockmgr.NewLockManager(router, "scheduler-1")
//
//	// Take the lock for 30 seconds
//	token, ok, err := locks.AcquireLock(ctx, "namespaces/prod", 30)
//	if err != nil {
//	    // Handle error
//	}
//
//	if ok {
//	    // Use the resource safely
//	    // ...
//
//	    // Give the lock back when done
//	    released, err := locks.ReleaseLock(ctx, "namespaces/prod", token)
//	    if err != nil {
//	        // Handle error
//	    }
//	    _ = released
//	}
//
// Security Considerations:
//
//	Tokens are randomly generated and never exposed through reads, which
//	protects against accidental lock stealing. The mechanism is not
//	designed to resist malicious actors: anyone with write access to the
//	cluster could sweep or overwrite lock state directly.
//
// Performance Impact:
//
//	Both operations cost one consensus round in the common case:
//	- AcquireLock: one replicated put-if-absent
//	- ReleaseLock: one replicated delete, plus one read on conflict
//
//	Latency is therefore dominated by the consensus layer, not by the
//	manager itself.
package lockmgr
