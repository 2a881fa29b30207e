// Package server implements the RPC server for the cluster node.
// It provides one adapter per wire service (config, naming, lock, cluster),
// along with the core server implementation that dispatches requests by
// service id.
//
// The package focuses on:
//   - Server-side RPC request handling for all four wire services
//   - Adapter pattern to decouple application logic from RPC mechanisms
//   - Routing writes and reads through the consistency router so every
//     adapter sees the engine the data kind demands
//   - Long-poll config watches fed by the notify hub
//
// Key Components:
//
//   - IRPCServerAdapter: Interface defining the contract for all server
//     adapters, with the Handle method that processes a single request.
//
//   - NewConfigAdapter: Factory function creating the adapter for config,
//     namespace and gray release operations, including watch long-polls.
//
//   - NewNamingAdapter: Factory function creating the adapter for instance
//     registration, heartbeats and service discovery queries.
//
//   - NewLockAdapter: Factory function creating the adapter for distributed
//     lock acquisition and release.
//
//   - NewClusterAdapter: Factory function creating the adapter for the peer
//     replication protocol, membership changes and cluster introspection.
//
//   - NewRPCServer: Factory function creating a configured server with the
//     specified transport and serializer mechanisms.
//
// Usage Example:
//
//	// Create server configuration
//	config := common.ServerConfig{
//	  NodeID:        "node-1",
//	  TimeoutSecond: 5,
//	  LogLevel:      "info",
//	  Transport:     common.ServerTransportConfig{Endpoint: "0.0.0.0:8080"},
//	}
//
//	// Create the server and register the services it should expose
//	s := server.NewRPCServer(
//	  config,
//	  tcp.NewTCPServerTransport(),
//	  serializer.NewBinarySerializer(),
//	)
//	s.RegisterService(common.ServiceConfig, server.NewConfigAdapter(router, hub))
//	s.RegisterService(common.ServiceNaming, server.NewNamingAdapter(router))
//	s.RegisterService(common.ServiceLock, server.NewLockAdapter(router))
//	s.RegisterService(common.ServiceCluster, server.NewClusterAdapter(engine, members, admin, router))
//
//	// Start the server
//	if err := s.Serve(); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//
// A node does not have to expose every service: a standalone config node can
// register only the config and lock adapters, and the cluster adapter
// degrades gracefully when no membership admin is available.
//
// Thread Safety:
//
//	The server implementation is thread-safe and can handle concurrent
//	requests across multiple connections. Each request is processed
//	independently under its own deadline. RegisterService must be called
//	before Serve; Serve blocks until Close is called.
package server
