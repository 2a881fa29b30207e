// Package cluster maintains the server membership view: which peers exist,
// how to reach them, and whether they are alive.
//
// The view is versioned and copy-on-write. Every change (lookup refresh,
// probe verdict) publishes a new immutable View with a higher version;
// readers always see a consistent snapshot without locking, and subscribers
// (the AP engine's ownership ring, the cluster service) receive each new
// view on a channel.
//
// Member addresses come from a pluggable ILookup:
//
//   - static: a fixed address list from the configuration
//   - file: a viper-readable file with a "members" list, re-read when its
//     modification time changes
//   - addrsrv: an HTTP endpoint answering one address per line, polled
//     periodically (the conventional address-server protocol)
//
// Liveness is decided by an IPinger (implemented by the rpc client): every
// probe interval all remote members are pinged concurrently. A member
// degrades to suspect after SuspectAfter consecutive failures and to down
// after DownAfter; any success restores it to up. Suspect members still own
// their data partitions, down members do not - the distinction is what keeps
// a brief network hiccup from reshuffling the ownership ring.
//
// The local member is always part of the view, always up, and never probed
// or removed by a lookup refresh.
package cluster
