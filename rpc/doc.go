// Package rpc provides the remote procedure call framework of the cluster.
// It carries client traffic (config, naming, lock operations) and the node
// to node traffic (peer replication, liveness probes, membership changes)
// over the same frame protocol.
//
// The package is organized into several subpackages:
//
//   - common: Core data structures and utilities used across the RPC system,
//     including the Message protocol, the service ids, configuration
//     structures, and logging.
//
//   - transport: Network communication abstractions with pluggable
//     implementations (TCP, Unix sockets, HTTP).
//
//   - serializer: Message serialization with multiple format options
//     (Binary, JSON, GOB) for converting between Message objects and byte
//     arrays.
//
//   - client: Typed RPC clients for the four services plus the peer client
//     the distro engine and the failure detector run on.
//
//   - server: RPC server components that handle incoming requests, one
//     adapter per service backed by the consistency router.
package rpc
