package cluster

import (
	"fmt"
	"strconv"
	"time"

	cmdUtil "github.com/ValentinKolb/dCR/cmd/util"
	"github.com/ValentinKolb/dCR/lib/util"
	"github.com/ValentinKolb/dCR/rpc/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	rpcCluster client.IClusterClient

	// ClusterCommands represents the cluster command group
	ClusterCommands = &cobra.Command{
		Use:               "cluster",
		Short:             "Inspect and manage cluster membership",
		PersistentPreRunE: setupClusterClient,
	}

	// pingCmd represents the ping command
	pingCmd = &cobra.Command{
		Use:   "ping",
		Short: "Check if a server is reachable",
		RunE:  runPing,
	}

	// membersCmd represents the members command
	membersCmd = &cobra.Command{
		Use:   "members",
		Short: "Show the membership view of a server",
		Long:  "Show the membership view of the answering server: every known node with its liveness state. Suspect nodes still own their data partitions, down nodes do not.",
		RunE:  runMembers,
	}

	// joinCmd represents the join command
	joinCmd = &cobra.Command{
		Use:   "join [replica-id] [raft-target]",
		Short: "Add a replica to the consensus group",
		Long:  "Add a replica to the consensus group. The replica id is either numeric or the advertise address of the node (the id is derived from the address). The raft target is the host:port the new replica listens on for raft traffic.",
		Args:  cobra.ExactArgs(2),
		RunE:  runJoin,
	}

	// leaveCmd represents the leave command
	leaveCmd = &cobra.Command{
		Use:   "leave [replica-id]",
		Short: "Remove a replica from the consensus group",
		Long:  "Remove a replica from the consensus group. The replica id is either numeric or the advertise address of the node.",
		Args:  cobra.ExactArgs(1),
		RunE:  runLeave,
	}

	// infoCmd represents the info command
	infoCmd = &cobra.Command{
		Use:   "info",
		Short: "Show readiness, leader and consensus membership of a server",
		RunE:  runInfo,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(cmdUtil.InitClientConfig)

	// Add subcommands to cluster command
	ClusterCommands.AddCommand(pingCmd)
	ClusterCommands.AddCommand(membersCmd)
	ClusterCommands.AddCommand(joinCmd)
	ClusterCommands.AddCommand(leaveCmd)
	ClusterCommands.AddCommand(infoCmd)

	// Add common RPC flags to the cluster command
	cmdUtil.SetupRPCClientFlags(ClusterCommands)

	// Add flags specific to join
	joinCmd.Flags().Bool("non-voting", false, cmdUtil.WrapString("Add the replica as a non-voting learner instead of a full member"))
}

// setupClusterClient initializes the cluster client
func setupClusterClient(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper and configure logging
	if err := cmdUtil.InitClientLoggers(cmd); err != nil {
		return err
	}

	// Get client configuration components
	config := cmdUtil.GetClientConfig()

	// Get serializer and transport
	s, err := cmdUtil.GetSerializer()
	if err != nil {
		return err
	}

	t, err := cmdUtil.GetTransport()
	if err != nil {
		return err
	}

	// Create the cluster client
	rpcCluster, err = client.NewClusterClient(*config, t, s)

	return err
}

// parseReplicaID accepts a numeric replica id or an advertise address. Server
// nodes derive their replica id from the advertise address, so operators can
// name nodes the same way they configure them.
func parseReplicaID(arg string) uint64 {
	if id, err := strconv.ParseUint(arg, 10, 64); err == nil {
		return id
	}
	return uint64(util.HashString(arg, 0))
}

// runPing handles the ping command
func runPing(_ *cobra.Command, _ []string) error {
	start := time.Now()

	if err := rpcCluster.Ping(); err != nil {
		return fmt.Errorf("ping failed: %v", err)
	}

	fmt.Printf("ok, rtt=%s\n", time.Since(start).Round(time.Microsecond))

	return nil
}

// runMembers handles the members command
func runMembers(_ *cobra.Command, _ []string) error {
	view, err := rpcCluster.Members()

	if err != nil {
		return fmt.Errorf("failed to get members: %v", err)
	}

	fmt.Printf("version=%d, local=%s\n", view.Version, view.Local)

	for _, m := range view.Members {
		self := ""
		if m.ID == view.Local {
			self = " (self)"
		}
		seen := "never"
		if m.SeenAt > 0 {
			seen = time.Since(time.UnixMilli(m.SeenAt)).Round(time.Second).String() + " ago"
		}
		fmt.Printf("id=%s, state=%s, fails=%d, seen=%s%s\n", m.ID, m.State, m.Fails, seen, self)
	}

	fmt.Printf("%d member(s)\n", len(view.Members))

	return nil
}

// runJoin handles the join command
func runJoin(_ *cobra.Command, args []string) error {
	replicaID := parseReplicaID(args[0])
	target := args[1]
	nonVoting := viper.GetBool("non-voting")

	if err := rpcCluster.Join(replicaID, target, nonVoting); err != nil {
		return fmt.Errorf("failed to add replica: %v", err)
	}

	if nonVoting {
		fmt.Printf("added non-voting replica, id=%d, target=%s\n", replicaID, target)
	} else {
		fmt.Printf("added replica, id=%d, target=%s\n", replicaID, target)
	}

	return nil
}

// runLeave handles the leave command
func runLeave(_ *cobra.Command, args []string) error {
	replicaID := parseReplicaID(args[0])

	if err := rpcCluster.Leave(replicaID); err != nil {
		return fmt.Errorf("failed to remove replica: %v", err)
	}

	fmt.Printf("removed replica, id=%d\n", replicaID)

	return nil
}

// runInfo handles the info command
func runInfo(_ *cobra.Command, _ []string) error {
	info, err := rpcCluster.Info()

	if err != nil {
		return fmt.Errorf("failed to get cluster info: %v", err)
	}

	fmt.Printf("ready=%v, leader=%s\n", info.Ready, info.Leader)

	if ms := info.Membership; ms != nil {
		fmt.Printf("config-change-id=%d, leader-id=%d, is-leader=%v\n", ms.ConfigChangeID, ms.LeaderID, ms.IsLeader)
		for id, addr := range ms.Replicas {
			fmt.Printf("replica=%d, target=%s\n", id, addr)
		}
		for id, addr := range ms.NonVoting {
			fmt.Printf("non-voting=%d, target=%s\n", id, addr)
		}
	}

	return nil
}
