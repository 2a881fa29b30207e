package naming

import (
	"fmt"

	"github.com/ValentinKolb/dCR/lib/consistency"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	registerCmd = &cobra.Command{
		Use:   "register [service] [instance]",
		Short: "Register an instance (host:port) of a service",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := rpcNaming.Register(args[0], args[1], []byte(viper.GetString("meta")), viper.GetUint64("ttl"))
			if err != nil {
				return err
			}
			fmt.Printf("registered service=%s, instance=%s, version=%d\n", args[0], args[1], version)
			return nil
		},
	}
	deregisterCmd = &cobra.Command{
		Use:   "deregister [service] [instance]",
		Short: "Deregister an instance of a service",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := rpcNaming.Deregister(args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("deregistered service=%s, instance=%s\n", args[0], args[1])
			return nil
		},
	}
	beatCmd = &cobra.Command{
		Use:   "beat [service] [instance]",
		Short: "Renew the lease of an instance",
		Long:  "Renew the lease of an instance. Reports ok=false when the server does not know the instance; the instance must then be registered again.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := rpcNaming.Beat(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Printf("service=%s, instance=%s, ok=%v\n", args[0], args[1], ok)
			return nil
		},
	}
	queryCmd = &cobra.Command{
		Use:   "query [service]",
		Short: "List the instances of a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := rpcNaming.Query(args[0], uint32(viper.GetUint64("limit")))
			if err != nil {
				return err
			}
			for _, item := range items {
				health := "healthy"
				if item.Flags&consistency.FlagUnhealthy != 0 {
					health = "unhealthy"
				}
				fmt.Printf("instance=%s, version=%d, origin=%s, %s\n", item.Key, item.Version, item.Origin, health)
			}
			fmt.Printf("%d instance(s)\n", len(items))
			return nil
		},
	}
	servicesCmd = &cobra.Command{
		Use:   "services [prefix]",
		Short: "List the distinct service names, optionally narrowed by a prefix",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}
			names, err := rpcNaming.Services(prefix, uint32(viper.GetUint64("limit")))
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Println(name)
			}
			fmt.Printf("%d service(s)\n", len(names))
			return nil
		},
	}
)

func init() {
	registerCmd.Flags().String("meta", "", "Optional instance metadata (e.g. a weight)")
	registerCmd.Flags().Uint64("ttl", 0, "Heartbeat budget in seconds (0 = server default)")
	queryCmd.Flags().Uint64("limit", 0, "Maximum number of instances to return (0 = server default)")
	servicesCmd.Flags().Uint64("limit", 0, "Maximum number of service names to return (0 = all)")
}
