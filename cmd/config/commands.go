package config

import (
	"fmt"

	"github.com/ValentinKolb/dCR/lib/consistency"
	"github.com/ValentinKolb/dCR/rpc/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// configKey composes the full config key from the namespace and group flags
// and the dataID argument. The server treats the composed key as opaque.
func configKey(dataID string) string {
	return viper.GetString("namespace") + common.KeySeparator + viper.GetString("group") + common.KeySeparator + dataID
}

// listPrefix composes the key prefix for list operations. An empty dataID
// prefix selects the whole group.
func listPrefix(dataID string) string {
	return configKey(dataID)
}

var (
	publishCmd = &cobra.Command{
		Use:   "publish [dataID] [content]",
		Short: "Publish a config revision",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := configKey(args[0])
			version, err := rpcConfig.Publish(key, []byte(args[1]), viper.GetString("origin"))
			if err != nil {
				return err
			}
			fmt.Printf("published key=%s, version=%d\n", key, version)
			return nil
		},
	}
	getCmd = &cobra.Command{
		Use:   "get [dataID]",
		Short: "Read the current revision of a config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := configKey(args[0])
			value, version, ok, err := rpcConfig.Get(key, viper.GetBool("stale"))
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, found=%v, version=%d, content=%s\n", key, ok, version, value)
			return nil
		},
	}
	removeCmd = &cobra.Command{
		Use:   "remove [dataID]",
		Short: "Remove a config, its history and its gray rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := configKey(args[0])
			if _, err := rpcConfig.Remove(key); err != nil {
				return err
			}
			fmt.Printf("removed key=%s\n", key)
			return nil
		},
	}
	listCmd = &cobra.Command{
		Use:   "list [dataID-prefix]",
		Short: "List the configs of a group, optionally narrowed by a dataID prefix",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}
			items, err := rpcConfig.List(listPrefix(prefix), uint32(viper.GetUint64("limit")), viper.GetBool("stale"))
			if err != nil {
				return err
			}
			for _, item := range items {
				gray := ""
				if item.Flags&consistency.FlagGray != 0 {
					gray = ", gray=true"
				}
				fmt.Printf("key=%s, version=%d%s\n", item.Key, item.Version, gray)
			}
			fmt.Printf("%d config(s)\n", len(items))
			return nil
		},
	}
	historyCmd = &cobra.Command{
		Use:   "history [dataID]",
		Short: "Show the release history of a config, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := rpcConfig.History(configKey(args[0]), uint32(viper.GetUint64("limit")))
			if err != nil {
				return err
			}
			for _, item := range items {
				fmt.Printf("version=%d, stamp=%d, origin=%s, checksum=%s\n", item.Version, item.Stamp, item.Origin, item.Value)
			}
			fmt.Printf("%d release(s)\n", len(items))
			return nil
		},
	}
	watchCmd = &cobra.Command{
		Use:   "watch [dataID]",
		Short: "Long-poll a config for a change past a known version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := configKey(args[0])
			version, changed, err := rpcConfig.Watch(key, viper.GetUint64("since"), viper.GetUint64("wait"))
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, changed=%v, version=%d\n", key, changed, version)
			return nil
		},
	}

	grayCmd = &cobra.Command{
		Use:   "gray",
		Short: "Manage gray release rules",
	}
	grayPublishCmd = &cobra.Command{
		Use:   "publish [dataID] [rules]",
		Short: "Attach a gray rule to an existing config",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := configKey(args[0])
			version, err := rpcConfig.PublishGray(key, []byte(args[1]), viper.GetString("origin"))
			if err != nil {
				return err
			}
			fmt.Printf("gray published key=%s, version=%d\n", key, version)
			return nil
		},
	}
	grayRemoveCmd = &cobra.Command{
		Use:   "remove [dataID]",
		Short: "Detach the gray rule, the stable config stays",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := configKey(args[0])
			if _, err := rpcConfig.RemoveGray(key); err != nil {
				return err
			}
			fmt.Printf("gray removed key=%s\n", key)
			return nil
		},
	}

	nsCmd = &cobra.Command{
		Use:   "ns",
		Short: "Manage namespaces",
	}
	nsCreateCmd = &cobra.Command{
		Use:   "create [name]",
		Short: "Register a namespace (first writer wins)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := rpcConfig.CreateNamespace(args[0], []byte(viper.GetString("meta")))
			if err != nil {
				return err
			}
			fmt.Printf("namespace=%s, created=%v\n", args[0], ok)
			return nil
		},
	}
	nsRemoveCmd = &cobra.Command{
		Use:   "remove [name]",
		Short: "Remove a namespace registry entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := rpcConfig.RemoveNamespace(args[0]); err != nil {
				return err
			}
			fmt.Printf("removed namespace=%s\n", args[0])
			return nil
		},
	}
	nsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List all registered namespaces",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := rpcConfig.ListNamespaces(uint32(viper.GetUint64("limit")))
			if err != nil {
				return err
			}
			for _, item := range items {
				fmt.Printf("namespace=%s, version=%d, meta=%s\n", item.Key, item.Version, item.Value)
			}
			fmt.Printf("%d namespace(s)\n", len(items))
			return nil
		},
	}
)

func init() {
	publishCmd.Flags().String("origin", "", "Author recorded in the release history")
	grayPublishCmd.Flags().String("origin", "", "Author recorded in the release history")

	getCmd.Flags().Bool("stale", false, "Serve the read from local applied state instead of the linearizable path")
	listCmd.Flags().Bool("stale", false, "Serve the read from local applied state instead of the linearizable path")
	listCmd.Flags().Uint64("limit", 0, "Maximum number of configs to return (0 = server default)")
	historyCmd.Flags().Uint64("limit", 0, "Maximum number of releases to return (0 = server default)")
	nsListCmd.Flags().Uint64("limit", 0, "Maximum number of namespaces to return (0 = server default)")
	nsCreateCmd.Flags().String("meta", "", "Optional namespace metadata (e.g. a description)")

	watchCmd.Flags().Uint64("since", 0, "Version the caller already knows; returns immediately when the config is newer")
	watchCmd.Flags().Uint64("wait", 8, "Seconds to hold the poll open; must stay below the client timeout")
}
