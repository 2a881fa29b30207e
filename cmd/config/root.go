package config

import (
	"github.com/ValentinKolb/dCR/cmd/util"
	"github.com/ValentinKolb/dCR/rpc/client"
	"github.com/spf13/cobra"
)

var (
	rpcConfig client.IConfigClient

	// ConfigCommands represents the config command group
	ConfigCommands = &cobra.Command{
		Use:               "config",
		Short:             "Manage configurations, gray releases and namespaces",
		PersistentPreRunE: setupConfigClient,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitClientConfig)

	// Add common RPC flags to the config command
	util.SetupRPCClientFlags(ConfigCommands)

	// Configs are addressed as namespace / group / dataID
	ConfigCommands.PersistentFlags().String("namespace", "default", util.WrapString("Namespace the config belongs to"))
	ConfigCommands.PersistentFlags().String("group", "default", util.WrapString("Group the config belongs to"))

	// Add subcommands
	ConfigCommands.AddCommand(publishCmd)
	ConfigCommands.AddCommand(getCmd)
	ConfigCommands.AddCommand(removeCmd)
	ConfigCommands.AddCommand(listCmd)
	ConfigCommands.AddCommand(historyCmd)
	ConfigCommands.AddCommand(watchCmd)
	ConfigCommands.AddCommand(grayCmd)
	ConfigCommands.AddCommand(nsCmd)

	grayCmd.AddCommand(grayPublishCmd)
	grayCmd.AddCommand(grayRemoveCmd)

	nsCmd.AddCommand(nsCreateCmd)
	nsCmd.AddCommand(nsRemoveCmd)
	nsCmd.AddCommand(nsListCmd)
}

// setupConfigClient initializes the RPC config client
func setupConfigClient(cmd *cobra.Command, _ []string) error {
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

	// Create the config client
	rpcConfig, err = client.NewConfigClient(
		*config,
		t,
		s,
	)

	return err
}
