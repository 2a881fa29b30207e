package common

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/lni/dragonboat/v4/config"
)

// --------------------------------------------------------------------------
// helper functions to interface with Dragonboat (for the server util)
// --------------------------------------------------------------------------

// RaftShardID is the dragonboat shard hosting the CP state machine. The
// substrate runs a single raft group; all strongly consistent kinds share it.
const RaftShardID uint64 = 100

// Dragonboat uses RTT (Round Trip Time) to determine the timing of elections
// and heartbeats. These default values are selected according to the RAFT
// paper.
const (
	electionRTTFactor  = 10
	heartbeatRTTFactor = 1
)

// ToDragonboatConfig converts the ServerConfig to a Dragonboat Config.
func (c *ServerConfig) ToDragonboatConfig() config.Config {
	return config.Config{
		ReplicaID:          c.ReplicaID,
		ShardID:            RaftShardID,
		ElectionRTT:        electionRTTFactor,  // in units of RTTMillisecond
		HeartbeatRTT:       heartbeatRTTFactor, // in units of RTTMillisecond
		CheckQuorum:        true,
		SnapshotEntries:    c.SnapshotEntries,
		CompactionOverhead: c.CompactionOverhead,
		MaxInMemLogSize:    0,
	}
}

// ToNodeHostConfig creates a NodeHostConfig for Dragonboat.
func (c *ServerConfig) ToNodeHostConfig() config.NodeHostConfig {
	return config.NodeHostConfig{
		WALDir:         c.DataDir,
		NodeHostDir:    c.DataDir,
		RTTMillisecond: c.RTTMillisecond,
		RaftAddress:    c.RaftAddr,
	}
}

// --------------------------------------------------------------------------
// Transport configuration structs
// --------------------------------------------------------------------------

// ServerTransportConfig carries the listener-level settings. The tcp and unix
// transports use all of them; the http transport uses only the endpoint.
type ServerTransportConfig struct {
	Endpoint        string // listen address (host:port, socket path or http addr)
	TCPNoDelay      bool   // disable Nagle's algorithm
	TCPKeepAliveSec int    // keep-alive period, 0 = os default
	TCPLingerSec    int    // linger on close, -1 = os default
	ReadBufferSize  int    // kernel read buffer, 0 = os default
	WriteBufferSize int    // kernel write buffer, 0 = os default
	WorkersPerConn  int    // concurrent request handlers per connection
}

// ClientTransportConfig carries the dialer-level settings of the rpc client.
type ClientTransportConfig struct {
	Endpoints              []string // server endpoints, requests round-robin over them
	ConnectionsPerEndpoint int      // parallel connections per endpoint (min 1)
	RetryCount             int      // send retries after connection errors
	TCPNoDelay             bool
	TCPKeepAliveSec        int
	TCPLingerSec           int
	ReadBufferSize         int
	WriteBufferSize        int
}

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

// ServerConfig holds all configuration parameters of one dCR server: node
// identity, cluster formation, the raft and distro engines and the rpc
// surface.
type ServerConfig struct {
	// Node identity
	NodeID        string // stable member id, by convention the advertise address
	AdvertiseAddr string // address peers reach this server's rpc endpoint at
	RaftAddr      string // dragonboat inter-replica address
	ReplicaID     uint64
	DataDir       string

	// Cluster formation
	Standalone     bool              // single replica, direct apply, no raft transport
	Join           bool              // join an existing raft group instead of bootstrapping
	ClusterMembers map[uint64]string // initial replicaID -> raft address book
	Members        []string          // static member rpc addresses (lookup "static")
	MemberFile     string            // membership file path (lookup "file")
	AddrServer     string            // membership http endpoint (lookup "addrsrv")

	// Dragonboat parameters
	RTTMillisecond      uint64
	SnapshotEntries     uint64
	CompactionOverhead  uint64
	SnapshotIntervalSec uint64 // time-based snapshot cadence, 0 = off

	// Distro parameters
	SyncDelayMs       uint64 // push coalescing window
	RetryDelaySec     uint64 // pause before the single batch resend
	VerifyIntervalSec uint64 // anti-entropy cadence
	VerifyTimeoutSec  uint64 // per-peer call deadline
	BeatTTLSec        uint64 // default heartbeat budget for instances

	// RPC parameters
	TimeoutSecond int64                 // per-request handler deadline
	Serializer    string                // json | gob | binary
	TransportType string                // tcp | unix | http
	Transport     ServerTransportConfig // listener settings

	// Observability
	LogLevel    string
	PprofAddr   string // pprof http listener, empty = off
	MetricsAddr string // prometheus scrape listener, empty = off
}

// LookupMode names the membership lookup strategy the configuration selects.
// An address server wins over a member file, a member file over the static
// list.
func (c *ServerConfig) LookupMode() string {
	switch {
	case c.AddrServer != "":
		return "addrsrv"
	case c.MemberFile != "":
		return "file"
	default:
		return "static"
	}
}

// String returns a formatted string representation of the configuration.
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// Node Identity
	addSection("Node Identity")
	addField("Node ID", c.NodeID)
	addField("Advertise Address", c.AdvertiseAddr)
	addField("Replica ID", strconv.FormatUint(c.ReplicaID, 10))
	addField("RAFT Address", c.RaftAddr)

	// Cluster formation
	addSection("Cluster")
	if c.Standalone {
		addField("Mode", "standalone")
	} else {
		addField("Mode", "cluster")
		addField("Join", fmt.Sprintf("%t", c.Join))
		addField("Member Lookup", c.LookupMode())
		switch c.LookupMode() {
		case "addrsrv":
			addField("Address Server", c.AddrServer)
		case "file":
			addField("Member File", c.MemberFile)
		default:
			addField("Members", strings.Join(c.Members, ", "))
		}

		// Sort keys for consistent output
		sb.WriteString("  Initial RAFT Members:\n")
		var keys []uint64
		for k := range c.ClusterMembers {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("    Replica %d: %s\n", k, c.ClusterMembers[k]))
		}

		// RAFT parameters
		addSection("RAFT Parameters")
		addField("Round Trip Time (ms)", fmt.Sprintf("%d ms", c.RTTMillisecond))
		addField("Election RTT (ms)", fmt.Sprintf("%d", c.RTTMillisecond*electionRTTFactor))
		addField("Heartbeat RTT (ms)", fmt.Sprintf("%d", c.RTTMillisecond*heartbeatRTTFactor))
		addField("Check Quorum", fmt.Sprintf("%t", true))
		addField("Snapshot Entries", fmt.Sprintf("%d", c.SnapshotEntries))
		addField("Snapshot Interval", fmt.Sprintf("%d sec", c.SnapshotIntervalSec))
		addField("Compaction Overhead", fmt.Sprintf("%d", c.CompactionOverhead))

		// Storage
		addSection("Storage")
		addField("Data Directory", c.DataDir)

		// Distro parameters
		addSection("Distro Parameters")
		addField("Sync Delay", fmt.Sprintf("%d ms", c.SyncDelayMs))
		addField("Retry Delay", fmt.Sprintf("%d sec", c.RetryDelaySec))
		addField("Verify Interval", fmt.Sprintf("%d sec", c.VerifyIntervalSec))
		addField("Verify Timeout", fmt.Sprintf("%d sec", c.VerifyTimeoutSec))
		addField("Beat TTL", fmt.Sprintf("%d sec", c.BeatTTLSec))
	}

	// RPC settings
	addSection("RPC Server")
	addField("Transport", c.TransportType)
	addField("Endpoint", c.Transport.Endpoint)
	addField("Serializer", c.Serializer)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	if c.Transport.WorkersPerConn > 0 {
		addField("Workers Per Conn", strconv.Itoa(c.Transport.WorkersPerConn))
	}

	// Observability
	addSection("Observability")
	addField("Log Level", c.LogLevel)
	if c.PprofAddr != "" {
		addField("Pprof", c.PprofAddr)
	}
	if c.MetricsAddr != "" {
		addField("Metrics", c.MetricsAddr)
	}

	return sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

// ClientConfig holds the configuration of the rpc client side.
type ClientConfig struct {
	Transport     ClientTransportConfig
	TimeoutSecond int
	Serializer    string // json | gob | binary
	TransportType string // tcp | unix | http
}

// String returns a formatted string representation of the client
// configuration.
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// General Client Settings
	addSection("Client Configuration")
	addField("Transport", c.TransportType)
	addField("Serializer", c.Serializer)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Retry Count", strconv.Itoa(c.Transport.RetryCount))
	connections := c.Transport.ConnectionsPerEndpoint
	if connections < 1 {
		connections = 1
	}
	addField("Connections Per Endpoint", strconv.Itoa(connections))

	// Endpoints
	addSection("Endpoints")
	for i, endpoint := range c.Transport.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}

	return sb.String()
}
