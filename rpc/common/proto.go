package common

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ValentinKolb/dCR/lib/consistency"
	"github.com/ValentinKolb/dCR/lib/state"
)

// --------------------------------------------------------------------------
// Service Identifiers
// --------------------------------------------------------------------------

// Service identifiers are carried in the frame header and route a request to
// the matching server adapter.
const (
	ServiceConfig uint64 = iota + 1
	ServiceNaming
	ServiceLock
	ServiceCluster
)

// KeySeparator joins the segments of composite keys, e.g.
// "namespace@@group@@dataID" for configs and "service@@host:port" for
// instances. The engines treat keys as opaque; only this layer and the
// CLI compose and split them.
const KeySeparator = "@@"

// ServiceOf returns the service a message type belongs to, or 0 for general
// types (success, error, unknown).
func ServiceOf(t MessageType) uint64 {
	switch {
	case t >= MsgTCfgPublish && t <= MsgTCfgWatch:
		return ServiceConfig
	case t >= MsgTNamRegister && t <= MsgTNamServices:
		return ServiceNaming
	case t >= MsgTLockAcquire && t <= MsgTLockRelease:
		return ServiceLock
	case t >= MsgTClsSync && t <= MsgTClsInfo:
		return ServiceCluster
	default:
		return 0
	}
}

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message used for both requests and responses.
// Which fields are used depends on the type of message.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// General fields
	Key     string `json:"key,omitempty"`     // config key, instance key, lock resource, join target
	Value   []byte `json:"value,omitempty"`   // payload: config content, instance metadata, lock token, info blobs
	Version uint64 `json:"version,omitempty"` // item version, watch baseline, replica id for join/leave
	TTLSec  uint64 `json:"ttl_sec,omitempty"` // lock lifetime, heartbeat TTL, watch wait budget
	Stamp   int64  `json:"stamp,omitempty"`   // wall clock of the reported state (unix-milli)
	Origin  string `json:"origin,omitempty"`  // logical actor: publisher, instance origin, lock holder, digest sender
	Limit   uint32 `json:"limit,omitempty"`   // cap for list/history results, 0 = server default
	Stale   bool   `json:"stale,omitempty"`   // request: allow local read; response: served without linearizability

	// Batch fields
	Keys   []string          `json:"keys,omitempty"`   // pull requests, service name lists
	Items  []WireItem        `json:"items,omitempty"`  // list/history/query results, peer sync batches
	Digest map[string]uint64 `json:"digest,omitempty"` // key -> version map for peer verify

	// Response only fields
	Ok   bool   `json:"ok,omitempty"`   // operation-level success (key found, race won, ...)
	Err  string `json:"err,omitempty"`  // empty if no error, otherwise the error message
	Code uint64 `json:"code,omitempty"` // consistency error code, meaningful when Err is set
	Hint string `json:"hint,omitempty"` // leader hint for not-leader errors

	// Meta information
	Meta []byte `json:"meta,omitempty"` // unused, can be used for additional adapters
}

// --------------------------------------------------------------------------
// Wire Items
// --------------------------------------------------------------------------

// WireItem is the wire form of a replicated item. It mirrors state.DataItem
// field for field so peer sync batches round-trip without loss; list and
// history results use the same shape with the fields they have.
type WireItem struct {
	Key     string `json:"key"`
	Value   []byte `json:"value,omitempty"`
	Version uint64 `json:"version"`
	Stamp   int64  `json:"stamp,omitempty"`
	Origin  string `json:"origin,omitempty"`
	Beat    int64  `json:"beat,omitempty"`
	TTLSec  uint64 `json:"ttl_sec,omitempty"`
	Flags   uint8  `json:"flags,omitempty"`
}

// NewWireItem converts a state.DataItem to its wire form.
func NewWireItem(it state.DataItem) WireItem {
	return WireItem{
		Key:     it.Key,
		Value:   it.Value,
		Version: it.Version,
		Stamp:   it.Stamp,
		Origin:  it.Origin,
		Beat:    it.Beat,
		TTLSec:  it.TTLSec,
		Flags:   it.Flags,
	}
}

// DataItem converts the wire form back to a state.DataItem.
func (w WireItem) DataItem() state.DataItem {
	return state.DataItem{
		Key:     w.Key,
		Value:   w.Value,
		Version: w.Version,
		Stamp:   w.Stamp,
		Origin:  w.Origin,
		Beat:    w.Beat,
		TTLSec:  w.TTLSec,
		Flags:   w.Flags,
	}
}

// WireItemsFromData converts a batch of data items to wire form.
func WireItemsFromData(items []state.DataItem) []WireItem {
	if items == nil {
		return nil
	}
	out := make([]WireItem, len(items))
	for i, it := range items {
		out[i] = NewWireItem(it)
	}
	return out
}

// DataItemsFromWire converts a wire batch back to data items.
func DataItemsFromWire(items []WireItem) []state.DataItem {
	if items == nil {
		return nil
	}
	out := make([]state.DataItem, len(items))
	for i, w := range items {
		out[i] = w.DataItem()
	}
	return out
}

// WireItemsFromList converts query result items to wire form.
func WireItemsFromList(items []consistency.Item) []WireItem {
	if items == nil {
		return nil
	}
	out := make([]WireItem, len(items))
	for i, it := range items {
		out[i] = WireItem{
			Key:     it.Key,
			Value:   it.Value,
			Version: it.Version,
			Stamp:   it.Stamp,
			Beat:    it.Beat,
			Flags:   it.Flags,
		}
	}
	return out
}

// ListFromWireItems converts a wire batch back to query result items.
func ListFromWireItems(items []WireItem) []consistency.Item {
	if items == nil {
		return nil
	}
	out := make([]consistency.Item, len(items))
	for i, w := range items {
		out[i] = consistency.Item{
			Key:     w.Key,
			Value:   w.Value,
			Version: w.Version,
			Stamp:   w.Stamp,
			Beat:    w.Beat,
			Flags:   w.Flags,
		}
	}
	return out
}

// --------------------------------------------------------------------------
// Error Folding
// --------------------------------------------------------------------------

// withError folds err into a response message. Consistency errors keep their
// code and leader hint so the client side can rebuild the typed error; other
// errors are reported as internal.
func withError(msg *Message, err error) *Message {
	if err == nil {
		return msg
	}
	var cerr *consistency.Error
	if errors.As(err, &cerr) {
		msg.Err = cerr.Msg
		msg.Code = uint64(cerr.Code)
		msg.Hint = cerr.Leader
		return msg
	}
	msg.Err = err.Error()
	msg.Code = uint64(consistency.ErrCInternal)
	return msg
}

// NewErrorResponse creates a generic Error response.
func NewErrorResponse(err error) *Message {
	return withError(&Message{MsgType: MsgTError}, err)
}

// ErrorFromMessage rebuilds the error carried by a response message, or nil
// if the message reports none.
func ErrorFromMessage(msg *Message) error {
	if msg == nil {
		return consistency.NewError(consistency.ErrCInternal, "empty response")
	}
	if msg.Err == "" {
		return nil
	}
	return &consistency.Error{
		Code:   consistency.ErrCode(msg.Code),
		Msg:    msg.Err,
		Leader: msg.Hint,
	}
}

// --------------------------------------------------------------------------
// Message Factory Functions (config service)
// --------------------------------------------------------------------------

// NewConfigPublishRequest creates a new config Publish request.
func NewConfigPublishRequest(key string, value []byte, origin string) *Message {
	return &Message{
		MsgType: MsgTCfgPublish,
		Key:     key,
		Value:   value,
		Origin:  origin,
	}
}

// NewConfigPublishResponse creates a new config Publish response. The version
// is the raft index the publish was applied at.
func NewConfigPublishResponse(version uint64, err error) *Message {
	return withError(&Message{
		MsgType: MsgTCfgPublish,
		Ok:      err == nil,
		Version: version,
	}, err)
}

// NewConfigGetRequest creates a new config Get request. With stale set the
// server answers from local applied state without a linearizability round.
func NewConfigGetRequest(key string, stale bool) *Message {
	return &Message{
		MsgType: MsgTCfgGet,
		Key:     key,
		Stale:   stale,
	}
}

// NewConfigGetResponse creates a new config Get response.
func NewConfigGetResponse(value []byte, version uint64, ok, stale bool, err error) *Message {
	return withError(&Message{
		MsgType: MsgTCfgGet,
		Ok:      ok,
		Value:   value,
		Version: version,
		Stale:   stale,
	}, err)
}

// NewConfigRemoveRequest creates a new config Remove request.
func NewConfigRemoveRequest(key string) *Message {
	return &Message{
		MsgType: MsgTCfgRemove,
		Key:     key,
	}
}

// NewConfigRemoveResponse creates a new config Remove response. Ok reports
// whether the key existed.
func NewConfigRemoveResponse(ok bool, err error) *Message {
	return withError(&Message{
		MsgType: MsgTCfgRemove,
		Ok:      ok,
	}, err)
}

// NewConfigListRequest creates a new config List request for all configs
// under a key prefix.
func NewConfigListRequest(prefix string, limit uint32, stale bool) *Message {
	return &Message{
		MsgType: MsgTCfgList,
		Key:     prefix,
		Limit:   limit,
		Stale:   stale,
	}
}

// NewConfigListResponse creates a new config List response.
func NewConfigListResponse(items []WireItem, stale bool, err error) *Message {
	return withError(&Message{
		MsgType: MsgTCfgList,
		Ok:      err == nil,
		Items:   items,
		Stale:   stale,
	}, err)
}

// NewConfigHistoryRequest creates a new config History request.
func NewConfigHistoryRequest(key string, limit uint32) *Message {
	return &Message{
		MsgType: MsgTCfgHistory,
		Key:     key,
		Limit:   limit,
	}
}

// NewConfigHistoryResponse creates a new config History response. Items carry
// the release records, newest first.
func NewConfigHistoryResponse(items []WireItem, err error) *Message {
	return withError(&Message{
		MsgType: MsgTCfgHistory,
		Ok:      err == nil,
		Items:   items,
	}, err)
}

// NewGrayPublishRequest creates a new gray rule Publish request.
func NewGrayPublishRequest(key string, rules []byte, origin string) *Message {
	return &Message{
		MsgType: MsgTCfgGrayPublish,
		Key:     key,
		Value:   rules,
		Origin:  origin,
	}
}

// NewGrayPublishResponse creates a new gray rule Publish response.
func NewGrayPublishResponse(version uint64, err error) *Message {
	return withError(&Message{
		MsgType: MsgTCfgGrayPublish,
		Ok:      err == nil,
		Version: version,
	}, err)
}

// NewGrayRemoveRequest creates a new gray rule Remove request.
func NewGrayRemoveRequest(key string) *Message {
	return &Message{
		MsgType: MsgTCfgGrayRemove,
		Key:     key,
	}
}

// NewGrayRemoveResponse creates a new gray rule Remove response.
func NewGrayRemoveResponse(ok bool, err error) *Message {
	return withError(&Message{
		MsgType: MsgTCfgGrayRemove,
		Ok:      ok,
	}, err)
}

// NewNamespaceCreateRequest creates a new namespace Create request. Creation
// is first-writer-wins: creating an existing namespace reports Ok=false.
func NewNamespaceCreateRequest(name string, meta []byte) *Message {
	return &Message{
		MsgType: MsgTNSCreate,
		Key:     name,
		Value:   meta,
	}
}

// NewNamespaceCreateResponse creates a new namespace Create response.
func NewNamespaceCreateResponse(ok bool, err error) *Message {
	return withError(&Message{
		MsgType: MsgTNSCreate,
		Ok:      ok,
	}, err)
}

// NewNamespaceRemoveRequest creates a new namespace Remove request.
func NewNamespaceRemoveRequest(name string) *Message {
	return &Message{
		MsgType: MsgTNSRemove,
		Key:     name,
	}
}

// NewNamespaceRemoveResponse creates a new namespace Remove response.
func NewNamespaceRemoveResponse(ok bool, err error) *Message {
	return withError(&Message{
		MsgType: MsgTNSRemove,
		Ok:      ok,
	}, err)
}

// NewNamespaceListRequest creates a new namespace List request.
func NewNamespaceListRequest(limit uint32) *Message {
	return &Message{
		MsgType: MsgTNSList,
		Limit:   limit,
	}
}

// NewNamespaceListResponse creates a new namespace List response.
func NewNamespaceListResponse(items []WireItem, err error) *Message {
	return withError(&Message{
		MsgType: MsgTNSList,
		Ok:      err == nil,
		Items:   items,
	}, err)
}

// NewConfigWatchRequest creates a new config Watch request. The server holds
// the request until the key moves past the since version or waitSec expires.
func NewConfigWatchRequest(key string, since uint64, waitSec uint64) *Message {
	return &Message{
		MsgType: MsgTCfgWatch,
		Key:     key,
		Version: since,
		TTLSec:  waitSec,
	}
}

// NewConfigWatchResponse creates a new config Watch response. Ok=false means
// the wait budget expired without a change.
func NewConfigWatchResponse(key string, version uint64, changed bool, err error) *Message {
	return withError(&Message{
		MsgType: MsgTCfgWatch,
		Ok:      changed,
		Key:     key,
		Version: version,
	}, err)
}

// --------------------------------------------------------------------------
// Message Factory Functions (naming service)
// --------------------------------------------------------------------------

// NewInstanceRegisterRequest creates a new instance Register request.
func NewInstanceRegisterRequest(key string, value []byte, origin string, ttlSec uint64) *Message {
	return &Message{
		MsgType: MsgTNamRegister,
		Key:     key,
		Value:   value,
		Origin:  origin,
		TTLSec:  ttlSec,
	}
}

// NewInstanceRegisterResponse creates a new instance Register response.
func NewInstanceRegisterResponse(version uint64, err error) *Message {
	return withError(&Message{
		MsgType: MsgTNamRegister,
		Ok:      err == nil,
		Version: version,
	}, err)
}

// NewInstanceDeregisterRequest creates a new instance Deregister request.
func NewInstanceDeregisterRequest(key string) *Message {
	return &Message{
		MsgType: MsgTNamDeregister,
		Key:     key,
	}
}

// NewInstanceDeregisterResponse creates a new instance Deregister response.
func NewInstanceDeregisterResponse(ok bool, err error) *Message {
	return withError(&Message{
		MsgType: MsgTNamDeregister,
		Ok:      ok,
	}, err)
}

// NewInstanceBeatRequest creates a new instance heartbeat request.
func NewInstanceBeatRequest(key string) *Message {
	return &Message{
		MsgType: MsgTNamBeat,
		Key:     key,
	}
}

// NewInstanceBeatResponse creates a new instance heartbeat response. Ok=false
// means the instance is unknown and should re-register.
func NewInstanceBeatResponse(ok bool, err error) *Message {
	return withError(&Message{
		MsgType: MsgTNamBeat,
		Ok:      ok,
	}, err)
}

// NewInstanceQueryRequest creates a new instance Query request listing the
// instances of one service.
func NewInstanceQueryRequest(service string, limit uint32) *Message {
	return &Message{
		MsgType: MsgTNamQuery,
		Key:     service,
		Limit:   limit,
	}
}

// NewInstanceQueryResponse creates a new instance Query response.
func NewInstanceQueryResponse(items []WireItem, err error) *Message {
	return withError(&Message{
		MsgType: MsgTNamQuery,
		Ok:      err == nil,
		Items:   items,
	}, err)
}

// NewServiceListRequest creates a new service List request. The prefix scopes
// the listing (namespace or namespace@@group).
func NewServiceListRequest(prefix string, limit uint32) *Message {
	return &Message{
		MsgType: MsgTNamServices,
		Key:     prefix,
		Limit:   limit,
	}
}

// NewServiceListResponse creates a new service List response carrying the
// distinct service names.
func NewServiceListResponse(services []string, err error) *Message {
	return withError(&Message{
		MsgType: MsgTNamServices,
		Ok:      err == nil,
		Keys:    services,
	}, err)
}

// --------------------------------------------------------------------------
// Message Factory Functions (lock service)
// --------------------------------------------------------------------------

// NewLockAcquireRequest creates a new lock Acquire request.
func NewLockAcquireRequest(resource, holder string, ttlSec uint64) *Message {
	return &Message{
		MsgType: MsgTLockAcquire,
		Key:     resource,
		Origin:  holder,
		TTLSec:  ttlSec,
	}
}

// NewLockAcquireResponse creates a new lock Acquire response. On success the
// value carries the owner token needed for release.
func NewLockAcquireResponse(token []byte, ok bool, err error) *Message {
	return withError(&Message{
		MsgType: MsgTLockAcquire,
		Ok:      ok,
		Value:   token,
	}, err)
}

// NewLockReleaseRequest creates a new lock Release request.
func NewLockReleaseRequest(resource string, token []byte) *Message {
	return &Message{
		MsgType: MsgTLockRelease,
		Key:     resource,
		Value:   token,
	}
}

// NewLockReleaseResponse creates a new lock Release response.
func NewLockReleaseResponse(ok bool, err error) *Message {
	return withError(&Message{
		MsgType: MsgTLockRelease,
		Ok:      ok,
	}, err)
}

// --------------------------------------------------------------------------
// Message Factory Functions (cluster service)
// --------------------------------------------------------------------------

// NewPeerSyncRequest creates a new peer Sync request pushing a batch of items.
func NewPeerSyncRequest(items []WireItem) *Message {
	return &Message{
		MsgType: MsgTClsSync,
		Items:   items,
	}
}

// NewPeerSyncResponse creates a new peer Sync response.
func NewPeerSyncResponse(err error) *Message {
	return withError(&Message{
		MsgType: MsgTClsSync,
		Ok:      err == nil,
	}, err)
}

// NewPeerVerifyRequest creates a new peer Verify request carrying the digest
// of the sender's owned key space.
func NewPeerVerifyRequest(from string, digest map[string]uint64) *Message {
	return &Message{
		MsgType: MsgTClsVerify,
		Origin:  from,
		Digest:  digest,
	}
}

// NewPeerVerifyResponse creates a new peer Verify response.
func NewPeerVerifyResponse(err error) *Message {
	return withError(&Message{
		MsgType: MsgTClsVerify,
		Ok:      err == nil,
	}, err)
}

// NewPeerPullRequest creates a new peer Pull request for the given keys.
func NewPeerPullRequest(keys []string) *Message {
	return &Message{
		MsgType: MsgTClsPull,
		Keys:    keys,
	}
}

// NewPeerPullResponse creates a new peer Pull response.
func NewPeerPullResponse(items []WireItem, err error) *Message {
	return withError(&Message{
		MsgType: MsgTClsPull,
		Ok:      err == nil,
		Items:   items,
	}, err)
}

// NewPeerSnapshotRequest creates a new peer Snapshot request for the complete
// data set, tombstones included.
func NewPeerSnapshotRequest() *Message {
	return &Message{
		MsgType: MsgTClsSnapshot,
	}
}

// NewPeerSnapshotResponse creates a new peer Snapshot response.
func NewPeerSnapshotResponse(items []WireItem, err error) *Message {
	return withError(&Message{
		MsgType: MsgTClsSnapshot,
		Ok:      err == nil,
		Items:   items,
	}, err)
}

// NewPingRequest creates a new liveness Ping request.
func NewPingRequest() *Message {
	return &Message{
		MsgType: MsgTClsPing,
	}
}

// NewPingResponse creates a new liveness Ping response.
func NewPingResponse(err error) *Message {
	return withError(&Message{
		MsgType: MsgTClsPing,
		Ok:      err == nil,
	}, err)
}

// NewMembersRequest creates a new cluster Members request.
func NewMembersRequest() *Message {
	return &Message{
		MsgType: MsgTClsMembers,
	}
}

// NewMembersResponse creates a new cluster Members response. The value is the
// JSON encoded membership view.
func NewMembersResponse(view []byte, err error) *Message {
	return withError(&Message{
		MsgType: MsgTClsMembers,
		Ok:      err == nil,
		Value:   view,
	}, err)
}

// NewJoinRequest creates a new cluster Join request. The version field
// carries the replica id, the key the raft target address; ok flags a
// non-voting learner.
func NewJoinRequest(replicaID uint64, target string, nonVoting bool) *Message {
	return &Message{
		MsgType: MsgTClsJoin,
		Version: replicaID,
		Key:     target,
		Ok:      nonVoting,
	}
}

// NewJoinResponse creates a new cluster Join response.
func NewJoinResponse(err error) *Message {
	return withError(&Message{
		MsgType: MsgTClsJoin,
		Ok:      err == nil,
	}, err)
}

// NewLeaveRequest creates a new cluster Leave request. The version field
// carries the replica id to remove.
func NewLeaveRequest(replicaID uint64) *Message {
	return &Message{
		MsgType: MsgTClsLeave,
		Version: replicaID,
	}
}

// NewLeaveResponse creates a new cluster Leave response.
func NewLeaveResponse(err error) *Message {
	return withError(&Message{
		MsgType: MsgTClsLeave,
		Ok:      err == nil,
	}, err)
}

// NewClusterInfoRequest creates a new cluster Info request.
func NewClusterInfoRequest() *Message {
	return &Message{
		MsgType: MsgTClsInfo,
	}
}

// NewClusterInfoResponse creates a new cluster Info response. The value is a
// JSON blob with raft membership, readiness and engine details.
func NewClusterInfoResponse(info []byte, err error) *Message {
	return withError(&Message{
		MsgType: MsgTClsInfo,
		Ok:      err == nil,
		Value:   info,
	}, err)
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	switch t {
	case MsgTCfgPublish:
		return "config.publish"
	case MsgTCfgGet:
		return "config.get"
	case MsgTCfgRemove:
		return "config.remove"
	case MsgTCfgList:
		return "config.list"
	case MsgTCfgHistory:
		return "config.history"
	case MsgTCfgGrayPublish:
		return "config.grayPublish"
	case MsgTCfgGrayRemove:
		return "config.grayRemove"
	case MsgTNSCreate:
		return "ns.create"
	case MsgTNSRemove:
		return "ns.remove"
	case MsgTNSList:
		return "ns.list"
	case MsgTCfgWatch:
		return "config.watch"
	case MsgTNamRegister:
		return "naming.register"
	case MsgTNamDeregister:
		return "naming.deregister"
	case MsgTNamBeat:
		return "naming.beat"
	case MsgTNamQuery:
		return "naming.query"
	case MsgTNamServices:
		return "naming.services"
	case MsgTLockAcquire:
		return "lock.acquire"
	case MsgTLockRelease:
		return "lock.release"
	case MsgTClsSync:
		return "cluster.sync"
	case MsgTClsVerify:
		return "cluster.verify"
	case MsgTClsPull:
		return "cluster.pull"
	case MsgTClsSnapshot:
		return "cluster.snapshot"
	case MsgTClsPing:
		return "cluster.ping"
	case MsgTClsMembers:
		return "cluster.members"
	case MsgTClsJoin:
		return "cluster.join"
	case MsgTClsLeave:
		return "cluster.leave"
	case MsgTClsInfo:
		return "cluster.info"
	case MsgTError:
		return "error"
	case MsgTSuccess:
		return "success"
	default:
		return "unknown"
	}
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
// This allows MessageType to be deserialized from a string in JSON.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	// Convert string back to MessageType
	switch s {
	case "config.publish":
		*t = MsgTCfgPublish
	case "config.get":
		*t = MsgTCfgGet
	case "config.remove":
		*t = MsgTCfgRemove
	case "config.list":
		*t = MsgTCfgList
	case "config.history":
		*t = MsgTCfgHistory
	case "config.grayPublish":
		*t = MsgTCfgGrayPublish
	case "config.grayRemove":
		*t = MsgTCfgGrayRemove
	case "ns.create":
		*t = MsgTNSCreate
	case "ns.remove":
		*t = MsgTNSRemove
	case "ns.list":
		*t = MsgTNSList
	case "config.watch":
		*t = MsgTCfgWatch
	case "naming.register":
		*t = MsgTNamRegister
	case "naming.deregister":
		*t = MsgTNamDeregister
	case "naming.beat":
		*t = MsgTNamBeat
	case "naming.query":
		*t = MsgTNamQuery
	case "naming.services":
		*t = MsgTNamServices
	case "lock.acquire":
		*t = MsgTLockAcquire
	case "lock.release":
		*t = MsgTLockRelease
	case "cluster.sync":
		*t = MsgTClsSync
	case "cluster.verify":
		*t = MsgTClsVerify
	case "cluster.pull":
		*t = MsgTClsPull
	case "cluster.snapshot":
		*t = MsgTClsSnapshot
	case "cluster.ping":
		*t = MsgTClsPing
	case "cluster.members":
		*t = MsgTClsMembers
	case "cluster.join":
		*t = MsgTClsJoin
	case "cluster.leave":
		*t = MsgTClsLeave
	case "cluster.info":
		*t = MsgTClsInfo
	case "error":
		*t = MsgTError
	case "success":
		*t = MsgTSuccess
	default:
		return fmt.Errorf("unknown message type: %s", s)
	}

	return nil
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	// General message types

	MsgTUnknown MessageType = iota
	MsgTSuccess             // Indicates a successful operation
	MsgTError               // Indicates an error occurred

	// Config service operations

	MsgTCfgPublish     // Publish a config (creates a release record)
	MsgTCfgGet         // Get a config value
	MsgTCfgRemove      // Remove a config (cascades history and gray rules)
	MsgTCfgList        // List configs under a key prefix
	MsgTCfgHistory     // Release history of a config
	MsgTCfgGrayPublish // Attach gray release rules to a config
	MsgTCfgGrayRemove  // Remove the gray release rules (full promotion)
	MsgTNSCreate       // Create a namespace
	MsgTNSRemove       // Remove a namespace
	MsgTNSList         // List namespaces
	MsgTCfgWatch       // Long-poll for a config change

	// Naming service operations

	MsgTNamRegister   // Register a service instance
	MsgTNamDeregister // Deregister a service instance
	MsgTNamBeat       // Refresh an instance heartbeat
	MsgTNamQuery      // List the instances of a service
	MsgTNamServices   // List the distinct service names under a prefix

	// Lock service operations

	MsgTLockAcquire // Acquire a distributed lock
	MsgTLockRelease // Release a distributed lock

	// Cluster service operations

	MsgTClsSync     // Peer push-sync batch
	MsgTClsVerify   // Peer digest verify
	MsgTClsPull     // Peer pull of specific keys
	MsgTClsSnapshot // Peer full snapshot
	MsgTClsPing     // Liveness probe
	MsgTClsMembers  // Membership view
	MsgTClsJoin     // Add a raft replica
	MsgTClsLeave    // Remove a raft replica
	MsgTClsInfo     // Raft membership and engine info
)
