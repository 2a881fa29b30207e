package serve

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os/signal"
	"syscall"
	"time"

	"github.com/ValentinKolb/dCR/lib/cluster"
	"github.com/ValentinKolb/dCR/lib/consistency"
	"github.com/ValentinKolb/dCR/lib/distro"
	"github.com/ValentinKolb/dCR/lib/notify"
	"github.com/ValentinKolb/dCR/lib/raft"
	"github.com/ValentinKolb/dCR/lib/state"
	"github.com/ValentinKolb/dCR/rpc/client"
	"github.com/ValentinKolb/dCR/rpc/common"
	"github.com/ValentinKolb/dCR/rpc/serializer"
	"github.com/ValentinKolb/dCR/rpc/server"
	"github.com/ValentinKolb/dCR/rpc/transport"
	rpchttp "github.com/ValentinKolb/dCR/rpc/transport/http"
	"github.com/ValentinKolb/dCR/rpc/transport/tcp"
	"github.com/ValentinKolb/dCR/rpc/transport/unix"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
)

var log = logger.GetLogger("rpc")

// run boots a full node: consistency engines, membership, replication and
// the rpc surface, then blocks until the process is signalled or the
// transport fails. Shutdown tears the components down in reverse order.
func run(_ *cobra.Command, _ []string) error {
	cfg := serveCmdConfig
	common.InitLoggers(cfg.LogLevel)

	// parse the serializer
	var s serializer.IRPCSerializer
	switch cfg.Serializer {
	case "json":
		s = serializer.NewJSONSerializer()
	case "gob":
		s = serializer.NewGOBSerializer()
	case "binary":
		s = serializer.NewBinarySerializer()
	default:
		return fmt.Errorf("invalid serializer %s", cfg.Serializer)
	}

	// parse the server transport and the matching client transport factory
	// for node-to-node traffic
	var t transport.IRPCServerTransport
	var peerTransport func() transport.IRPCClientTransport
	switch cfg.TransportType {
	case "http":
		t = rpchttp.NewHttpServerTransport()
		peerTransport = rpchttp.NewHttpClientTransport
	case "tcp":
		t = tcp.NewTCPServerTransport()
		peerTransport = tcp.NewTCPClientTransport
	case "unix":
		t = unix.NewUnixServerTransport()
		peerTransport = unix.NewUnixClientTransport
	default:
		return fmt.Errorf("invalid transport %s", cfg.TransportType)
	}

	// the hub fans state changes out to config watchers; both state machines
	// publish into it
	hub := notify.NewHub()

	factory := func() *state.CPMachine {
		m := state.NewCPMachine()
		m.SetOnChange(func(kind consistency.DataKind, key string, version uint64) {
			hub.Publish(notify.Event{Kind: kind, Key: key, Version: version})
		})
		return m
	}

	// strongly consistent engine: raft replicated, or direct apply in
	// standalone mode
	var (
		cp    consistency.ICPEngine
		admin consistency.IMembershipAdmin
		nh    *dragonboat.NodeHost
	)
	if cfg.Standalone {
		local := raft.NewLocalEngine(factory, cfg.AdvertiseAddr)
		cp, admin = local, local
		log.Infof("standalone mode: configs and locks are not replicated")
	} else {
		var err error
		nh, err = dragonboat.NewNodeHost(cfg.ToNodeHostConfig())
		if err != nil {
			return fmt.Errorf("failed to create node host: %w", err)
		}
		initial := cfg.ClusterMembers
		if cfg.Join {
			// a joining replica learns the membership from the group
			initial = nil
		}
		if err := nh.StartConcurrentReplica(initial, cfg.Join, raft.CreateStateMachineFactory(factory), cfg.ToDragonboatConfig()); err != nil {
			nh.Close()
			return fmt.Errorf("failed to start replica: %w", err)
		}
		engine := raft.NewEngine(nh, raft.Config{
			ShardID:          common.RaftShardID,
			ReplicaID:        cfg.ReplicaID,
			Timeout:          time.Duration(cfg.TimeoutSecond) * time.Second,
			Members:          hintMembers,
			SnapshotInterval: time.Duration(cfg.SnapshotIntervalSec) * time.Second,
		})
		cp, admin = engine, engine
	}

	// one peer client serves the instance replication and the liveness probes
	peers := client.NewPeerClient(common.ClientConfig{
		TimeoutSecond: int(cfg.VerifyTimeoutSec),
		Serializer:    cfg.Serializer,
		TransportType: cfg.TransportType,
		Transport: common.ClientTransportConfig{
			ConnectionsPerEndpoint: 2,
			RetryCount:             1,
		},
	}, peerTransport, s)

	// membership manager with the configured lookup strategy
	var lookup cluster.ILookup
	switch cfg.LookupMode() {
	case "addrsrv":
		lookup = cluster.NewAddrSrvLookup(cfg.AddrServer)
	case "file":
		lookup = cluster.NewFileLookup(cfg.MemberFile)
	default:
		members := cfg.Members
		if len(members) == 0 {
			members = []string{cfg.AdvertiseAddr}
		}
		lookup = cluster.NewStaticLookup(members)
	}
	manager, err := cluster.NewManager(cluster.Config{
		LocalID:      cfg.NodeID,
		LocalAddress: cfg.AdvertiseAddr,
		ProbeTimeout: time.Duration(cfg.VerifyTimeoutSec) * time.Second,
	}, lookup, peers)
	if err != nil {
		return err
	}
	if err := manager.Start(context.Background()); err != nil {
		return err
	}

	// eventually consistent engine for instances and beats
	dist, err := distro.NewEngine(distro.Config{
		MemberID:       cfg.NodeID,
		SyncDelay:      time.Duration(cfg.SyncDelayMs) * time.Millisecond,
		RetryDelay:     time.Duration(cfg.RetryDelaySec) * time.Second,
		VerifyInterval: time.Duration(cfg.VerifyIntervalSec) * time.Second,
		PeerTimeout:    time.Duration(cfg.VerifyTimeoutSec) * time.Second,
		InstanceTTLSec: cfg.BeatTTLSec,
		OnChange: func(item state.DataItem) {
			hub.Publish(notify.Event{Kind: consistency.KindInstance, Key: item.Key, Version: item.Version})
		},
	}, state.NewAPMachine(nil), peers, manager)
	if err != nil {
		return err
	}

	// the router classifies operations by data kind
	router := consistency.NewRouter(cp, dist)

	// rpc surface: one adapter per service
	srv := server.NewRPCServer(*cfg, t, s)
	srv.RegisterService(common.ServiceConfig, server.NewConfigAdapter(router, hub))
	srv.RegisterService(common.ServiceNaming, server.NewNamingAdapter(router))
	srv.RegisterService(common.ServiceLock, server.NewLockAdapter(router))
	srv.RegisterService(common.ServiceCluster, server.NewClusterAdapter(dist, manager, admin, router))

	// optional observability listeners
	if cfg.PprofAddr != "" {
		go func() {
			log.Infof("starting pprof server on %s", cfg.PprofAddr)
			log.Errorf("pprof server stopped: %v", http.ListenAndServe(cfg.PprofAddr, nil))
		}()
	}
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
			metrics.WritePrometheus(w, true)
		})
		go func() {
			log.Infof("starting metrics server on %s", cfg.MetricsAddr)
			log.Errorf("metrics server stopped: %v", http.ListenAndServe(cfg.MetricsAddr, mux))
		}()
	}

	// serve until the transport fails or the process is signalled
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve() }()

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var serveErr error
	select {
	case <-sigCtx.Done():
		log.Infof("shutdown signal received")
	case serveErr = <-errCh:
	}

	// teardown in reverse construction order
	_ = srv.Close()
	_ = dist.Close()
	_ = manager.Close()
	_ = cp.Close()
	if nh != nil {
		nh.Close()
	}
	_ = peers.Close()

	return serveErr
}
