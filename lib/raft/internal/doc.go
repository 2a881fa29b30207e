// Package internal defines the wire format of the replicated log and the
// shared command dispatch for the strongly consistent engine.
//
// A Command is what travels through the raft log: a compact binary encoding
// of one mutation, self-describing enough that every replica can apply it
// without further context. A Query never enters the log; it is handed to the
// state machine in memory via the lookup path and therefore stays a plain
// struct.
//
// Dispatch and Resolve translate commands and queries into calls on the CP
// state machine. Both the replicated engine and the standalone engine go
// through them, so a mutation has exactly one interpretation no matter how
// it reaches the machine.
package internal
