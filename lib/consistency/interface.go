package consistency

import (
	"context"
)

// --------------------------------------------------------------------------
// Data Kinds
// --------------------------------------------------------------------------

// DataKind tags every replicated datum with the category that decides its
// consistency guarantee. The kind-to-protocol mapping is static (see Mode).
type DataKind uint8

const (
	KindUnknown   DataKind = iota
	KindConfig             // configuration entries (CP)
	KindNamespace          // namespace registry (CP)
	KindLock               // namespace locks (CP)
	KindRelease            // release history metadata, written on config publish (CP)
	KindGray               // gray release rules (CP)
	KindInstance           // service instances (AP)
	KindBeat               // instance heartbeats (AP)
)

// Mode is the consistency guarantee a DataKind is replicated under.
type Mode uint8

const (
	ModeUnknown Mode = iota
	ModeCP           // raft group, strongly consistent
	ModeAP           // distro protocol, eventually consistent
)

// kindModes is the static routing table. It is compiled in and never changes
// at runtime: re-binding a kind to a different protocol mid-flight would break
// both guarantees at once.
var kindModes = map[DataKind]Mode{
	KindConfig:    ModeCP,
	KindNamespace: ModeCP,
	KindLock:      ModeCP,
	KindRelease:   ModeCP,
	KindGray:      ModeCP,
	KindInstance:  ModeAP,
	KindBeat:      ModeAP,
}

// Consistency returns the protocol this kind is replicated under.
func (k DataKind) Consistency() Mode {
	return kindModes[k]
}

func (k DataKind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindNamespace:
		return "namespace"
	case KindLock:
		return "lock"
	case KindRelease:
		return "release"
	case KindGray:
		return "gray"
	case KindInstance:
		return "instance"
	case KindBeat:
		return "beat"
	default:
		return "unknown"
	}
}

// --------------------------------------------------------------------------
// Operation Model
// --------------------------------------------------------------------------

// Verb enumerates the mutations the engines accept.
type Verb uint8

const (
	VerbPut         Verb = iota + 1 // insert or update
	VerbPutIfAbsent                 // insert only if the key does not exist (first writer wins)
	VerbDelete                      // remove (CP: also cascades history/gray for configs; AP: tombstone)
	VerbTouch                       // refresh an instance heartbeat (AP only)
)

func (v Verb) String() string {
	switch v {
	case VerbPut:
		return "put"
	case VerbPutIfAbsent:
		return "put-if-absent"
	case VerbDelete:
		return "delete"
	case VerbTouch:
		return "touch"
	default:
		return "unknown"
	}
}

// QueryVerb enumerates the reads the engines accept.
type QueryVerb uint8

const (
	QueryGet     QueryVerb = iota + 1 // value for an exact key
	QueryHas                          // existence check
	QueryList                         // all items under a key prefix
	QueryHistory                      // release history of a config key (CP only)
	QueryInfo                         // engine/state machine info snapshot
)

func (v QueryVerb) String() string {
	switch v {
	case QueryGet:
		return "get"
	case QueryHas:
		return "has"
	case QueryList:
		return "list"
	case QueryHistory:
		return "history"
	case QueryInfo:
		return "info"
	default:
		return "unknown"
	}
}

// Operation describes a single mutation. The key is an opaque composite built
// by the caller (e.g. "ns@@group@@dataID"); the engines never parse it.
type Operation struct {
	Kind   DataKind
	Verb   Verb
	Key    string
	Value  []byte // payload; for lock operations the owner token
	Origin string // logical actor recorded with the write: lock holder name, instance origin node
	TTLSec uint64 // lock lifetime or heartbeat TTL, 0 = engine default / none
	Stamp  int64  // proposer wall clock (unix-milli), 0 = engine fills it in
}

// Query describes a single read.
type Query struct {
	Kind  DataKind
	Verb  QueryVerb
	Key   string
	Limit uint32 // cap for list/history results, 0 = engine default
	Stale bool   // CP only: serve from local state, skip the read-index round
}

// Item is one element of a multi-item outcome (lists, histories, sync batches).
type Item struct {
	Key     string `json:"key"`
	Value   []byte `json:"value,omitempty"`
	Version uint64 `json:"version"`
	Stamp   int64  `json:"stamp"`
	Flags   uint8  `json:"flags,omitempty"`
	Beat    int64  `json:"beat,omitempty"`
}

// Item flag bits.
const (
	FlagTombstone uint8 = 1 << 0 // item is a deletion marker
	FlagUnhealthy uint8 = 1 << 1 // instance missed its heartbeat deadline
	FlagGray      uint8 = 1 << 2 // release record has gray rules attached
)

// Outcome is the single normalized response shape of both engines.
type Outcome struct {
	Ok    bool   // operation-level success (key found, race won, ...)
	Index uint64 // raft log index (CP) or item version (AP) of the applied/observed state
	Value []byte
	Items []Item
	Stale bool // read was served without a linearizability round
}

// --------------------------------------------------------------------------
// Engine Interfaces
// --------------------------------------------------------------------------

// ICPEngine is the strongly consistent engine (raft group or the standalone
// single-node engine).
type ICPEngine interface {
	// Propose replicates the operation through the raft log and returns after
	// it is applied. The returned Outcome.Index is the raft log index.
	Propose(ctx context.Context, op Operation) (Outcome, error)
	// Read serves a query. With q.Stale unset the read is linearizable
	// (read-index); with q.Stale set it is served from local applied state
	// and the Outcome is marked Stale.
	Read(ctx context.Context, q Query) (Outcome, error)
	// LeaderHint names the member currently believed to be the leader.
	LeaderHint() (string, bool)
	// Ready reports whether the engine can serve operations.
	Ready() bool
	// Close releases all engine resources.
	Close() error
}

// IAPEngine is the eventually consistent engine (distro protocol).
type IAPEngine interface {
	// Apply merges the operation into local state and schedules replication
	// to all peers. Never blocks on the network.
	Apply(ctx context.Context, op Operation) (Outcome, error)
	// Read serves a query from local state only.
	Read(ctx context.Context, q Query) (Outcome, error)
	// Ready reports whether the initial data load has completed.
	Ready() bool
	// Close stops the replication loops.
	Close() error
}

// IMembershipAdmin is implemented by CP engines that support raft membership
// changes. Only one change may be in flight at a time; a second concurrent
// request fails with ErrCMembershipChange.
type IMembershipAdmin interface {
	// AddReplica adds a voting replica.
	AddReplica(ctx context.Context, replicaID uint64, target string) error
	// RemoveReplica removes a replica (self-removal is allowed).
	RemoveReplica(ctx context.Context, replicaID uint64) error
	// AddNonVoting adds a non-voting learner replica.
	AddNonVoting(ctx context.Context, replicaID uint64, target string) error
	// Membership returns the current raft membership.
	Membership(ctx context.Context) (MembershipInfo, error)
}

// MembershipInfo describes the raft group membership as of one config-change.
type MembershipInfo struct {
	ConfigChangeID uint64            `json:"config_change_id"`
	Replicas       map[uint64]string `json:"replicas"`
	NonVoting      map[uint64]string `json:"non_voting,omitempty"`
	LeaderID       uint64            `json:"leader_id"`
	IsLeader       bool              `json:"is_leader"`
}

// IRouter is the single programmatic entry point of the substrate. All
// callers (RPC adapters, lock manager, CLI plumbing) go through it; none of
// them ever reach an engine directly.
type IRouter interface {
	// Apply classifies the operation by kind and forwards it to the matching
	// engine.
	Apply(ctx context.Context, op Operation) (Outcome, error)
	// Read classifies the query by kind and forwards it to the matching engine.
	Read(ctx context.Context, q Query) (Outcome, error)
	// Ready reports whether both engines can serve.
	Ready() bool
	// LeaderHint exposes the CP engine's current leader belief.
	LeaderHint() (string, bool)
}
