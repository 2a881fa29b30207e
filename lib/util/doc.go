// Package util provides shared low-level building blocks for the dCR
// consistency engines.
//
// The package contains:
//   - mpsc: A lock-free Multi-Producer Single-Consumer (MPSC) queue used to feed
//     the AP replication scheduler with sync tasks from concurrent writers
//   - mapheap: A generic priority queue with key-based access, used to order
//     expiry deadlines (instance heartbeats, lock lifetimes) for the sweep loops
//   - hash: Seeded string hashing for shard striping inside the state machines
//   - statistics: Size histograms and distribution metrics used for state
//     machine info reporting and the perf command
//
// All components are dependency-free and safe to use from any engine package.
// Thread-safety is documented per type; the MPSC queue and the histogram are
// safe for concurrent use, the heap requires external synchronization.
package util
