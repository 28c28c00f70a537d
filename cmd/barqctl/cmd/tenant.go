package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/barqdb/barq/internal/storage"
)

func newTenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Inspect and tune tenant resource usage",
	}
	cmd.AddCommand(newTenantUsageCmd())
	cmd.AddCommand(newTenantListCmd())
	cmd.AddCommand(newTenantSetQuotaCmd())
	return cmd
}

func newTenantSetQuotaCmd() *cobra.Command {
	var maxCollections int
	var maxDiskBytes int64
	var maxMemoryBytes int64
	var maxQPS int

	cmd := &cobra.Command{
		Use:   "set-quota TENANT",
		Short: "Set a tenant's resource quota, persisted across restarts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant := args[0]
			q := storage.Quota{
				MaxCollections: maxCollections,
				MaxDiskBytes:   maxDiskBytes,
				MaxMemoryBytes: maxMemoryBytes,
				MaxQPS:         maxQPS,
			}
			if err := engine.SetQuota(tenant, q); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "quota set for %q\n", tenant)
			return nil
		},
	}
	cmd.Flags().IntVar(&maxCollections, "max-collections", 0, "maximum number of collections (0 = unlimited)")
	cmd.Flags().Int64Var(&maxDiskBytes, "max-disk-bytes", 0, "maximum on-disk bytes (0 = unlimited)")
	cmd.Flags().Int64Var(&maxMemoryBytes, "max-memory-bytes", 0, "maximum resident bytes (0 = unlimited)")
	cmd.Flags().IntVar(&maxQPS, "max-qps", 0, "maximum inserts+deletes per second (0 = unlimited)")
	return cmd
}

func newTenantUsageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "usage TENANT",
		Short: "Print per-collection document counts for a tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant := args[0]
			names := engine.Catalog().CollectionNames(tenant)

			total := 0
			for _, name := range names {
				coll, err := engine.Catalog().Collection(tenant, name)
				if err != nil {
					return err
				}
				n := coll.Len()
				total += n
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d documents\n", name, n)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "total\t%d documents across %d collections\n", total, len(names))
			return nil
		},
	}
	return cmd
}

func newTenantListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List known tenants",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, tenant := range engine.Catalog().Tenants() {
				fmt.Fprintln(cmd.OutOrStdout(), tenant)
			}
			return nil
		},
	}
	return cmd
}
