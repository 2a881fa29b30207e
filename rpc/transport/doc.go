// Package transport defines the interfaces and abstractions for RPC communication
// in the cluster. It provides a common contract that all transport implementations
// must fulfill, enabling protocol-agnostic communication.
//
// The package focuses on:
//   - Defining clear interfaces for client and server transport layers
//   - Supporting service-based request routing (config, naming, lock, cluster)
//   - Enabling multiple transport implementations (HTTP, TCP, Unix sockets)
//
// Key Components:
//
//   - IRPCClientTransport: Interface for client-side transport implementations that
//     handles connection management and request sending.
//
//   - IRPCServerTransport: Interface for server-side transport implementations that
//     receives requests, routes them to the registered handler and supports
//     graceful shutdown via Close.
//
//   - ServerHandleFunc: Function type for request handling callbacks. The serviceID
//     selects which registered service adapter processes the request.
package transport
