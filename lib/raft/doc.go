// Package raft implements the strongly consistent engine on top of the
// Dragonboat RAFT consensus library. It provides the consistency.ICPEngine
// and consistency.IMembershipAdmin interfaces for configuration, namespace,
// lock, release-history and gray-rule data, operating across multiple nodes
// while maintaining linearizable consistency.
//
// Architecture:
//
// The package consists of four main components:
//
//   - Engine: Implements the consistency.ICPEngine interface and communicates
//     with the RAFT cluster. It translates operations into log commands,
//     sends them to the consensus layer, maps raft runtime errors onto the
//     typed consistency error vocabulary, and runs the leader-side
//     maintenance loops (lock sweep, time-based snapshots).
//
//   - State Machine: A Dragonboat IConcurrentStateMachine implementation
//     wrapping the state.CPMachine. Each replica applies committed commands
//     in log order, so all replicas hold identical state.
//
//   - Log Protocol: Defined in the internal package: the Command binary
//     format that travels through the raft log, the Query structures for
//     the lookup path, and the shared Dispatch/Resolve translation both
//     engines apply commands through.
//
//   - LocalEngine: A standalone twin for single-node deployments. It applies
//     the same commands to the same machine without consensus, substituting
//     an atomic counter for the log index.
//
// Write Operations:
//
//	All mutations follow this flow:
//
//	1. The operation is validated and serialized into a Command
//	2. The Command is proposed to the RAFT cluster via SyncPropose
//	3. The leader replicates the command to a majority of followers
//	4. Once committed, every replica applies the command via Dispatch
//	5. The result code and the applied index are returned to the proposer
//
//	The version of every written entry is the raft log index of its command,
//	giving a globally consistent ordering without clock coordination. Wall
//	clock time enters the machine only through the stamp the proposer put
//	into the command, so replicas never consult their own clocks and stay
//	deterministic.
//
// Lock Expiry:
//
//	Locks carry deadlines decided against command stamps. The leader's sweep
//	loop checks local deadlines once per interval and, when one is overdue,
//	proposes a SweepLocks command. The removal itself therefore replicates
//	like any other write, and followers never act on their own clocks.
//
// Read Operations:
//
//	By default reads use SyncRead, which guarantees the answering node has
//	applied all committed entries first (linearizable). Callers that can
//	tolerate slightly outdated answers set Stale on the query to use the
//	faster StaleRead path served from local state. Machine metadata (Info)
//	is always read stale.
//
// Error Handling and Retries:
//
//	The engine retries operations while Dragonboat reports ErrSystemBusy,
//	sleeping a tenth of the configured timeout between attempts. All other
//	raft runtime errors are mapped onto the typed vocabulary of the
//	consistency package (timeout, unavailable, membership change), so
//	callers and the transport layer can decide on retries without knowing
//	dragonboat's error set.
//
// Snapshotting and Recovery:
//
//	The state machine streams the CP machine's deterministic snapshot
//	format. Dragonboat takes entry-count based snapshots on its own; the
//	engine additionally requests time-based snapshots on the leader so that
//	log compaction happens on low-write shards too. On startup or when
//	joining, a replica restores the most recent snapshot and then replays
//	the log entries committed after it.
//
// Usage:
//
//	  // Create NodeHost (RAFT client)
//	  nh, err := dragonboat.NewNodeHost(nodeHostConfig)
//	  if err != nil { ... }
//
//	  // Machine factory, hooked up to the watch hub
//	  factory := func() *state.CPMachine {
//	      m := state.NewCPMachine()
//	      m.SetOnChange(hub.PublishCP)
//	      return m
//	  }
//
//	  // Create and start shard (RAFT server)
//	  err = nh.StartConcurrentReplica(
//	      clusterMembers,
//	      false,
//	      raft.CreateStateMachineFactory(factory),
//	      shardConfig)
//	  if err != nil { ... }
//
//	  // Create the engine
//	  engine := raft.NewEngine(nh, raft.Config{
//	      ShardID:   shardID,
//	      ReplicaID: replicaID,
//	      Timeout:   3 * time.Second,
//	      Members:   clusterMembers,
//	  })
//
//	  // Wait for engine.Ready(), then route operations to it
//
// For single-node deployments without consensus overhead, use NewLocalEngine
// with the same machine factory; it implements the identical interfaces.
package raft
