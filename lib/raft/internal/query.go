package internal

import (
	"github.com/ValentinKolb/dCR/lib/consistency"
)

// QueryType defines the possible lookups against the replicated state machine.
type QueryType uint8

const (
	QueryTGet           QueryType = iota // Retrieve an entry by kind and key.
	QueryTHas                            // Check whether an entry exists.
	QueryTList                           // List entries of a kind under a key prefix.
	QueryTHistory                        // Retrieve the release history of a config key.
	QueryTInfo                           // Retrieve metadata about the machine.
	QueryTLockDeadlines                  // Retrieve all lock deadlines (sweep scheduling).
)

func (q QueryType) String() string {
	switch q {
	case QueryTGet:
		return "Get"
	case QueryTHas:
		return "Has"
	case QueryTList:
		return "List"
	case QueryTHistory:
		return "History"
	case QueryTInfo:
		return "Info"
	case QueryTLockDeadlines:
		return "LockDeadlines"
	default:
		return "Unknown"
	}
}

// Query defines the structure for lookup requests (read-only) sent via
// SyncRead or StaleRead. Queries never enter the raft log, so no binary
// format is needed.
type Query struct {
	Type  QueryType
	Kind  consistency.DataKind
	Key   string // key, or prefix for QueryTList
	Limit int    // result cap for list/history queries, 0 = machine default
}

// QueryResult is the result of a QueryTGet operation. All other query
// results are primitive types or predefined structs (bool, []consistency.Item,
// state.Info, map[string]int64).
type QueryResult struct {
	Ok   bool
	Item consistency.Item
}
