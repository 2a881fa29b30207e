// Package common provides core data structures and utilities shared across
// the consistency substrate's rpc layer. It defines fundamental types,
// configuration structures, and protocol elements used by other packages.
//
// The package focuses on:
//   - Message protocol definition for the four rpc services
//   - Configuration structures for client and server components
//   - Custom logging implementation integrated with Dragonboat
//   - Utilities for Dragonboat (RAFT) integration
//
// Key Components:
//
//   - Message: Core data structure for all RPC communication between
//     components, with a flexible structure that adapts to different
//     operation types. Includes factory methods for creating the request and
//     response messages of every service.
//
//   - MessageType: Enumeration defining all supported operation types,
//     categorized into the config, naming, lock and cluster services plus
//     control messages. ServiceOf maps a message type to the frame-level
//     service id it is routed under.
//
//   - WireItem: Wire form of a replicated item, mirroring the state machine
//     item shape so peer sync batches round-trip without loss.
//
//   - ServerConfig: Comprehensive configuration for server nodes, including
//     RAFT parameters, distro timings, storage settings, network
//     configuration, and operation modes. Provides utilities for converting
//     to Dragonboat-specific configurations.
//
//   - ClientConfig: Configuration for client components, controlling
//     connection parameters, timeouts, and retry behavior.
//
//   - Logger: Custom logging implementation that integrates with Dragonboat's
//     logging system while providing consistent formatting across the
//     application.
package common
