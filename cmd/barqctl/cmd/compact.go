package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/barqdb/barq/pkg/document"
)

func newCompactCmd() *cobra.Command {
	var tenant string
	var flushFirst bool

	cmd := &cobra.Command{
		Use:   "compact COLLECTION",
		Short: "Flush the WAL and compact a collection's segments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]

			if flushFirst {
				if err := engine.Flush(tenant, name); err != nil {
					return err
				}
			}
			if err := engine.Compact(tenant, name); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "compacted %q/%q\n", tenant, name)
			return nil
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", document.DefaultTenantID, "tenant id")
	cmd.Flags().BoolVar(&flushFirst, "flush", true, "flush the in-memory WAL tail into a segment before compacting")

	return cmd
}
