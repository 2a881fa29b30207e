package serve

import (
	"fmt"
	"strings"

	cmdUtil "github.com/ValentinKolb/dCR/cmd/util"
	"github.com/ValentinKolb/dCR/lib/util"
	"github.com/ValentinKolb/dCR/rpc/common"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = &common.ServerConfig{}

	// hintMembers maps replica ids to advertise addresses. It seeds the leader
	// hint book of the raft engine; dragonboat itself only ever sees the raft
	// addresses.
	hintMembers map[uint64]string

	ServeCmd = &cobra.Command{
		Use:     "serve",
		Short:   "Start a dCR server node",
		Long:    `Start a dCR server node with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is DCR_<flag> (e.g. DCR_TIMEOUT=15)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(initConfig)

	// add flags
	key := "node-id"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Stable identifier of this node. Defaults to the advertise address; every node of a cluster needs a distinct value"))

	key = "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:8080", cmdUtil.WrapString("The address on which the API will listen (e.g. http:localhost:8080, /tmp/dcr.sock, ...)"))

	key = "advertise"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("The address peers and clients use to reach this node's API. Defaults to the endpoint; must be set when the endpoint binds a wildcard address"))

	key = "standalone"
	ServeCmd.PersistentFlags().Bool(key, false, cmdUtil.WrapString("Run as a single node without RAFT replication. Configs, namespaces and locks are applied directly to local state"))

	key = "join"
	ServeCmd.PersistentFlags().Bool(key, false, cmdUtil.WrapString("Join an existing RAFT group instead of bootstrapping a new one. The node must first be added via 'dcr cluster join'"))

	key = "raft-addr"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("(Cluster Mode) The address dragonboat uses for replica to replica traffic (e.g. localhost:63001)"))

	key = "cluster-members"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("(Cluster Mode) Comma-separated list of the initial RAFT members in the format 'advertiseAddr=raftAddr,...'. The advertise address doubles as the member identity"))

	key = "members"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Comma-separated list of member API addresses for the failure detector and the instance replication ring. Defaults to the advertise halves of --cluster-members"))

	key = "member-file"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Path to a file with one member API address per line. Re-read on change; overrides --members"))

	key = "addr-server"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("URL of an address server returning one member API address per line. Polled periodically; overrides --members and --member-file"))

	key = "data-dir"
	ServeCmd.PersistentFlags().String(key, "data", cmdUtil.WrapString("(Cluster Mode) Directory for the RAFT log and snapshots"))

	key = "rtt-millisecond"
	ServeCmd.PersistentFlags().Int(key, 100, cmdUtil.WrapString("(Cluster Mode) RTTMillisecond defines the average Round Trip Time (RTT) in milliseconds between two NodeHost instances. Other raft configuration parameters (ElectionRTT, HeartbeatRTT) are derived from this value"))

	key = "snapshot-entries"
	ServeCmd.PersistentFlags().Int(key, 1024, cmdUtil.WrapString("(Cluster Mode) SnapshotEntries defines how often the state machine should be snapshotted automatically, in terms of applied Raft log entries. 0 disables automatic snapshotting (not recommended)"))

	key = "compaction-overhead"
	ServeCmd.PersistentFlags().Int(key, 512, cmdUtil.WrapString("(Cluster Mode) CompactionOverhead defines the number of log entries retained after a snapshot. Recommended value is about 1/2 of SnapshotEntries"))

	key = "snapshot-interval-sec"
	ServeCmd.PersistentFlags().Int(key, 1800, cmdUtil.WrapString("(Cluster Mode) Additional time-based snapshot cadence on the leader in seconds. 0 disables it"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 5, cmdUtil.WrapString("Per-request timeout in seconds"))

	key = "sync-delay-ms"
	ServeCmd.PersistentFlags().Int(key, 1000, cmdUtil.WrapString("Coalescing window in milliseconds for pushing instance writes to peers"))

	key = "retry-delay-sec"
	ServeCmd.PersistentFlags().Int(key, 3, cmdUtil.WrapString("Pause in seconds before a failed peer batch is resent"))

	key = "verify-interval-sec"
	ServeCmd.PersistentFlags().Int(key, 5, cmdUtil.WrapString("Anti-entropy round cadence in seconds for the instance replication"))

	key = "verify-timeout-sec"
	ServeCmd.PersistentFlags().Int(key, 3, cmdUtil.WrapString("Per-peer call deadline in seconds for instance replication and liveness probes"))

	key = "beat-ttl-sec"
	ServeCmd.PersistentFlags().Int(key, 15, cmdUtil.WrapString("Default heartbeat budget in seconds for instances registered without an explicit ttl"))

	key = "workers-per-conn"
	ServeCmd.PersistentFlags().Int(key, 32, cmdUtil.WrapString("Concurrent request handlers per connection (tcp and unix transports)"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))

	key = "pprof-addr"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Address for the pprof http listener (e.g. localhost:6060). Empty disables it"))

	key = "metrics-addr"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Address for the prometheus /metrics listener (e.g. localhost:9100). Empty disables it"))
}

// processConfig reads the configuration from the command line flags and
// environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// node identity: the advertise address doubles as the node id unless an
	// explicit id is configured
	serveCmdConfig.Transport.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.AdvertiseAddr = viper.GetString("advertise")
	if serveCmdConfig.AdvertiseAddr == "" {
		serveCmdConfig.AdvertiseAddr = serveCmdConfig.Transport.Endpoint
	}
	serveCmdConfig.NodeID = viper.GetString("node-id")
	if serveCmdConfig.NodeID == "" {
		serveCmdConfig.NodeID = serveCmdConfig.AdvertiseAddr
	}
	serveCmdConfig.ReplicaID = uint64(util.HashString(serveCmdConfig.NodeID, 0))

	// cluster formation
	serveCmdConfig.Standalone = viper.GetBool("standalone")
	serveCmdConfig.Join = viper.GetBool("join")
	serveCmdConfig.RaftAddr = viper.GetString("raft-addr")
	serveCmdConfig.MemberFile = viper.GetString("member-file")
	serveCmdConfig.AddrServer = viper.GetString("addr-server")
	if members := viper.GetString("members"); members != "" {
		serveCmdConfig.Members = splitList(members)
	}

	if serveCmdConfig.Standalone && serveCmdConfig.Join {
		return fmt.Errorf("--standalone and --join are mutually exclusive")
	}

	// parse the initial raft members
	serveCmdConfig.ClusterMembers = nil
	hintMembers = nil
	if clusterMembers := viper.GetString("cluster-members"); clusterMembers != "" {
		serveCmdConfig.ClusterMembers = make(map[uint64]string)
		hintMembers = make(map[uint64]string)
		var advertised []string
		for _, member := range splitList(clusterMembers) {
			parts := strings.SplitN(member, "=", 2)
			if len(parts) != 2 {
				return fmt.Errorf("invalid cluster member format: %s (expected advertiseAddr=raftAddr)", member)
			}
			advertise := strings.TrimSpace(parts[0])
			raftAddr := strings.TrimSpace(parts[1])
			id := uint64(util.HashString(advertise, 0))
			serveCmdConfig.ClusterMembers[id] = raftAddr
			hintMembers[id] = advertise
			advertised = append(advertised, advertise)
		}
		// the failure detector defaults to probing the api addresses of the
		// raft members
		if len(serveCmdConfig.Members) == 0 {
			serveCmdConfig.Members = advertised
		}
	}

	if !serveCmdConfig.Standalone {
		if serveCmdConfig.RaftAddr == "" {
			return fmt.Errorf("--raft-addr is required in cluster mode")
		}
		if len(serveCmdConfig.ClusterMembers) == 0 && !serveCmdConfig.Join {
			return fmt.Errorf("--cluster-members is required to bootstrap a cluster")
		}
		// a bootstrapping node must be one of the initial members
		if _, ok := serveCmdConfig.ClusterMembers[serveCmdConfig.ReplicaID]; !ok && !serveCmdConfig.Join {
			return fmt.Errorf("node %q (replica %d) is not listed in --cluster-members", serveCmdConfig.NodeID, serveCmdConfig.ReplicaID)
		}
	}

	// the hint book always knows this node, also when joining an existing
	// group where --cluster-members stays empty
	if hintMembers == nil {
		hintMembers = make(map[uint64]string)
	}
	if _, ok := hintMembers[serveCmdConfig.ReplicaID]; !ok {
		hintMembers[serveCmdConfig.ReplicaID] = serveCmdConfig.AdvertiseAddr
	}

	// read the remaining settings
	serveCmdConfig.DataDir = viper.GetString("data-dir")
	serveCmdConfig.RTTMillisecond = viper.GetUint64("rtt-millisecond")
	serveCmdConfig.SnapshotEntries = viper.GetUint64("snapshot-entries")
	serveCmdConfig.CompactionOverhead = viper.GetUint64("compaction-overhead")
	serveCmdConfig.SnapshotIntervalSec = viper.GetUint64("snapshot-interval-sec")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.SyncDelayMs = viper.GetUint64("sync-delay-ms")
	serveCmdConfig.RetryDelaySec = viper.GetUint64("retry-delay-sec")
	serveCmdConfig.VerifyIntervalSec = viper.GetUint64("verify-interval-sec")
	serveCmdConfig.VerifyTimeoutSec = viper.GetUint64("verify-timeout-sec")
	serveCmdConfig.BeatTTLSec = viper.GetUint64("beat-ttl-sec")
	serveCmdConfig.Serializer = viper.GetString("serializer")
	serveCmdConfig.TransportType = viper.GetString("transport")
	serveCmdConfig.Transport.WorkersPerConn = viper.GetInt("workers-per-conn")
	serveCmdConfig.LogLevel = viper.GetString("log-level")
	serveCmdConfig.PprofAddr = viper.GetString("pprof-addr")
	serveCmdConfig.MetricsAddr = viper.GetString("metrics-addr")

	return nil
}

// splitList splits a comma-separated flag value, dropping empty entries.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// initConfig reads in serveCmdConfig file and ENV variables if set.
func initConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("dcr")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}
