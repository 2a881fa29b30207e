package client

import (
	"github.com/ValentinKolb/dCR/lib/cluster"
	"github.com/ValentinKolb/dCR/lib/consistency"
	"github.com/ValentinKolb/dCR/rpc/common"
)

// IConfigClient is the remote surface of the config service. Keys are passed
// through opaque; callers compose them with common.KeySeparator (the CLI
// builds "namespace@@group@@dataID").
type IConfigClient interface {
	// Publish writes a config revision and returns its version.
	Publish(key string, value []byte, origin string) (version uint64, err error)
	// Get reads a config. With stale=true the read is served from local
	// applied state of the answering node.
	Get(key string, stale bool) (value []byte, version uint64, ok bool, err error)
	// Remove deletes a config, its history and its gray rule.
	Remove(key string) (ok bool, err error)
	// List returns the configs under a key prefix, sorted by key.
	List(prefix string, limit uint32, stale bool) ([]common.WireItem, error)
	// History returns the retained release records of a key, newest first.
	// The item value carries the content checksum in hex.
	History(key string, limit uint32) ([]common.WireItem, error)
	// PublishGray attaches a gray rule to an existing config.
	PublishGray(key string, rules []byte, origin string) (version uint64, err error)
	// RemoveGray detaches the gray rule, the stable config stays.
	RemoveGray(key string) (ok bool, err error)
	// CreateNamespace registers a namespace, first writer wins.
	CreateNamespace(name string, meta []byte) (ok bool, err error)
	// RemoveNamespace drops a namespace registry entry.
	RemoveNamespace(name string) (ok bool, err error)
	// ListNamespaces returns all registered namespaces.
	ListNamespaces(limit uint32) ([]common.WireItem, error)
	// Watch long-polls until the key moves past since or waitSec runs out.
	// waitSec must stay below the client timeout, the transport read
	// deadline bounds the poll.
	Watch(key string, since uint64, waitSec uint64) (version uint64, changed bool, err error)
	// Close releases the underlying transport.
	Close() error
}

// INamingClient is the remote surface of the naming service. It composes the
// instance key from service and instance id, so all callers share one key
// convention.
type INamingClient interface {
	// Register announces an instance (host:port) of a service with its
	// metadata. A ttl of 0 falls back to the server default.
	Register(service, instance string, meta []byte, ttlSec uint64) (version uint64, err error)
	// Deregister removes an instance.
	Deregister(service, instance string) (ok bool, err error)
	// Beat renews an instance lease. Ok=false without an error means the
	// server does not know the instance and the caller must re-register.
	Beat(service, instance string) (ok bool, err error)
	// Query returns the instances of a service.
	Query(service string, limit uint32) ([]common.WireItem, error)
	// Services returns the distinct service names under a prefix.
	Services(prefix string, limit uint32) ([]string, error)
	// Close releases the underlying transport.
	Close() error
}

// ILockClient is the remote surface of the lock service. The holder name is
// fixed at construction; tokens fence concurrent holders.
type ILockClient interface {
	// Acquire takes the lock if it is free and returns the fencing token.
	Acquire(resource string, ttlSec uint64) (token []byte, ok bool, err error)
	// Release gives the lock back; only the token of the current holder
	// releases.
	Release(resource string, token []byte) (ok bool, err error)
	// Close releases the underlying transport.
	Close() error
}

// ClusterInfo is the decoded payload of a cluster info response.
type ClusterInfo struct {
	Ready      bool                        `json:"ready"`
	Leader     string                      `json:"leader,omitempty"`
	Membership *consistency.MembershipInfo `json:"membership,omitempty"`
}

// IClusterClient is the remote surface of the cluster service as seen by
// operators. The peer replication calls live on PeerClient instead.
type IClusterClient interface {
	// Ping probes the node.
	Ping() error
	// Members returns the node's membership view.
	Members() (cluster.View, error)
	// Join adds a replica (or a non-voting learner) to the raft shard.
	Join(replicaID uint64, target string, nonVoting bool) error
	// Leave removes a replica from the raft shard.
	Leave(replicaID uint64) error
	// Info returns readiness, leader and raft membership of the node.
	Info() (ClusterInfo, error)
	// Close releases the underlying transport.
	Close() error
}
