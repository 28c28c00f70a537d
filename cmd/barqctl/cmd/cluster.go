package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/barqdb/barq/internal/cluster"
)

func newClusterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cluster",
		Short: "Inspect shard routing for the configured cluster topology",
	}
	cmd.AddCommand(newClusterRouteCmd())
	return cmd
}

func newClusterRouteCmd() *cobra.Command {
	var preference string

	cmd := &cobra.Command{
		Use:   "route KEY",
		Short: "Resolve which node a key's shard routes to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]

			clusterCfg, err := cluster.ConfigFromEnvOrDefault()
			if err != nil {
				return err
			}
			router, err := cluster.NewRouter(clusterCfg)
			if err != nil {
				return err
			}

			routing := router.Route(key, cluster.ReadPreference(preference))
			fmt.Fprintf(cmd.OutOrStdout(), "shard=%d primary=%s replicas=%v target=%s role=%s\n",
				routing.Shard, routing.Primary, routing.Replicas, routing.Target, routing.Role)
			return nil
		},
	}

	cmd.Flags().StringVar(&preference, "read-preference", "", "primary, followers, or any (defaults to the cluster config's preference)")
	return cmd
}
