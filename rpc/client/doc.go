// Package client implements the RPC clients of the cluster: one typed client
// per wire service plus the peer client the nodes use among themselves.
//
// The package focuses on:
//   - Typed access to the config, naming, lock and cluster services
//   - Integration with the transport and serialization layers
//   - Rebuilding the typed consistency errors carried by error responses,
//     leader hints included, so callers can decide about retries
//
// Key Components:
//
//   - NewConfigClient: Factory function that creates a client for config,
//     namespace and gray release operations including watch long-polls.
//
//   - NewNamingClient: Factory function that creates a client for instance
//     registration, heartbeats and service discovery.
//
//   - NewLockClient: Factory function that creates a client for distributed
//     locks, bound to one holder name.
//
//   - NewClusterClient: Factory function that creates a client for cluster
//     introspection and raft membership changes.
//
//   - NewPeerClient: Factory function that creates the node to node client
//     the distro engine and the failure detector run on. It keeps one
//     transport per peer address.
//
// Usage Example:
//
//	// Configure the client
//	config := common.ClientConfig{
//	  Transport: common.ClientTransportConfig{
//	    Endpoints:              []string{"localhost:5000"},
//	    ConnectionsPerEndpoint: 1,
//	    RetryCount:             3,
//	  },
//	  TimeoutSecond: 5,
//	}
//
//	// Create a config client
//	configs, _ := client.NewConfigClient(config, tcp.NewTCPClientTransport(), serializer.NewBinarySerializer())
//	defer configs.Close()
//
//	// Publish and read a config
//	version, _ := configs.Publish("prod@@web@@app.yaml", []byte("retries: 3"), "me")
//	value, _, ok, _ := configs.Get("prod@@web@@app.yaml", false)
//
//	// Watch for the next change
//	next, changed, _ := configs.Watch("prod@@web@@app.yaml", version, 3)
//
//	// Register a service instance and send heartbeats
//	naming, _ := client.NewNamingClient(config, tcp.NewTCPClientTransport(), serializer.NewBinarySerializer())
//	naming.Register("orders", "10.0.0.1:9100", []byte(`{"weight":1}`), 30)
//	ok, _ = naming.Beat("orders", "10.0.0.1:9100")
//
// Writes against a follower fail with a not-leader error whose hint names
// the leader's advertise address; callers reconnect there or simply retry,
// round-robin endpoints eventually hit the leader.
//
// Performance Considerations:
//
//   - For applications that frequently send large payloads, increasing
//     ConnectionsPerEndpoint can improve throughput by allowing parallel
//     requests.
//
//   - For small messages, a single connection per endpoint is often more
//     efficient due to reduced connection overhead.
//
//   - The choice of serializer significantly affects performance. The binary
//     serializer provides the best performance and smallest payload size.
//
// Thread Safety:
//
//	All client implementations are thread-safe and can be used concurrently
//	from multiple goroutines without additional synchronization.
package client
