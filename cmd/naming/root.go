package naming

import (
	"github.com/ValentinKolb/dCR/cmd/util"
	"github.com/ValentinKolb/dCR/rpc/client"
	"github.com/spf13/cobra"
)

var (
	rpcNaming client.INamingClient

	// NamingCommands represents the naming command group
	NamingCommands = &cobra.Command{
		Use:               "naming",
		Short:             "Manage service instances",
		PersistentPreRunE: setupNamingClient,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitClientConfig)

	// Add common RPC flags to the naming command
	util.SetupRPCClientFlags(NamingCommands)

	// Add subcommands
	NamingCommands.AddCommand(registerCmd)
	NamingCommands.AddCommand(deregisterCmd)
	NamingCommands.AddCommand(beatCmd)
	NamingCommands.AddCommand(queryCmd)
	NamingCommands.AddCommand(servicesCmd)
	NamingCommands.AddCommand(perfTestCmd)
}

// setupNamingClient initializes the RPC naming client
func setupNamingClient(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper and configure logging
	if err := util.InitClientLoggers(cmd); err != nil {
		return err
	}

	// Get client configuration components
	config := util.GetClientConfig()

	// Get serializer and transport
	s, err := util.GetSerializer()
	if err != nil {
		return err
	}

	t, err := util.GetTransport()
	if err != nil {
		return err
	}

	// Create the naming client
	rpcNaming, err = client.NewNamingClient(
		*config,
		t,
		s,
	)

	return err
}
