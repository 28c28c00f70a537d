package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/barqdb/barq/pkg/document"
)

func newCollectionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collection",
		Short: "Create, drop, and inspect collections",
	}
	cmd.AddCommand(newCollectionCreateCmd())
	cmd.AddCommand(newCollectionDropCmd())
	cmd.AddCommand(newCollectionListCmd())
	return cmd
}

func newCollectionCreateCmd() *cobra.Command {
	var tenant string
	var dim int
	var metric string
	var index string
	var textField string

	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a collection with a vector field and an optional indexed text field",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]

			m, err := parseMetric(metric)
			if err != nil {
				return err
			}
			idx, err := parseIndexType(index)
			if err != nil {
				return err
			}

			fields := []document.FieldSchema{
				{
					Name:      "embedding",
					Kind:      document.FieldVector,
					Dimension: dim,
					Metric:    m,
					IndexType: idx,
					Required:  true,
				},
			}
			if textField != "" {
				fields = append(fields, document.FieldSchema{
					Name:    textField,
					Kind:    document.FieldText,
					Indexed: true,
				})
			}

			schema := document.CollectionSchema{
				Name:     name,
				TenantID: tenant,
				Fields:   fields,
			}

			if _, err := engine.CreateCollection(schema); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created collection %q for tenant %q (dim=%d metric=%s index=%s)\n", name, tenant, dim, m, idx)
			return nil
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", document.DefaultTenantID, "tenant id")
	cmd.Flags().IntVar(&dim, "dim", 0, "vector dimension (required)")
	cmd.Flags().StringVar(&metric, "metric", "cosine", "distance metric: cosine, l2, dot")
	cmd.Flags().StringVar(&index, "index", "flat", "vector index type: flat, hnsw, ivf")
	cmd.Flags().StringVar(&textField, "text-field", "text", "name of the indexed text field; empty disables BM25 for this collection")
	_ = cmd.MarkFlagRequired("dim")

	return cmd
}

func newCollectionDropCmd() *cobra.Command {
	var tenant string

	cmd := &cobra.Command{
		Use:   "drop NAME",
		Short: "Drop a collection and its on-disk data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if err := engine.DropCollection(tenant, name); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "dropped collection %q for tenant %q\n", name, tenant)
			return nil
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", document.DefaultTenantID, "tenant id")
	return cmd
}

func newCollectionListCmd() *cobra.Command {
	var tenant string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List collections for a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			names := engine.Catalog().CollectionNames(tenant)
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", document.DefaultTenantID, "tenant id")
	return cmd
}

func parseMetric(s string) (document.Metric, error) {
	switch s {
	case "cosine":
		return document.MetricCosine, nil
	case "l2":
		return document.MetricL2, nil
	case "dot":
		return document.MetricDot, nil
	default:
		return "", fmt.Errorf("unknown metric %q (want cosine, l2, or dot)", s)
	}
}

func parseIndexType(s string) (document.IndexType, error) {
	switch s {
	case "flat":
		return document.IndexFlat, nil
	case "hnsw":
		return document.IndexHNSW, nil
	case "ivf":
		return document.IndexIVF, nil
	default:
		return "", fmt.Errorf("unknown index type %q (want flat, hnsw, or ivf)", s)
	}
}
