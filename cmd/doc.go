// Package cmd implements the command-line interface for the dCR configuration
// and registry server. It provides a hierarchical command structure with
// operations for running a server node and interacting with it as a client.
//
// The package is organized into several subpackages:
//
//   - config: Commands for configuration operations (publish, get, watch, gray releases, namespaces)
//   - naming: Commands for service registry operations (register, beat, query)
//   - lock: Commands for distributed locking (acquire, release)
//   - cluster: Commands for cluster inspection and membership changes
//   - serve: Commands for starting and configuring a dCR server node
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See dcr -help for a list of all commands.
package cmd
