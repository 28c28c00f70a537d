package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/barqdb/barq/pkg/collection"
	"github.com/barqdb/barq/pkg/document"
)

func newSearchCmd() *cobra.Command {
	var tenant string
	var vectorCSV string
	var text string
	var topK int

	cmd := &cobra.Command{
		Use:   "search COLLECTION",
		Short: "Search a collection by vector, text, or both (hybrid)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]

			coll, err := engine.Catalog().Collection(tenant, name)
			if err != nil {
				return err
			}

			switch {
			case vectorCSV != "" && text != "":
				vector, err := parseVector(vectorCSV)
				if err != nil {
					return err
				}
				results, err := coll.SearchHybrid(cmd.Context(), vector, text, topK, collection.HybridWeights{}, nil)
				if err != nil {
					return err
				}
				for _, r := range results {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\tfused=%.4f\tvector=%.4f\tbm25=%.4f\n", r.ID, r.FusedScore, r.VectorNorm, r.BM25Norm)
				}
			case vectorCSV != "":
				vector, err := parseVector(vectorCSV)
				if err != nil {
					return err
				}
				results, err := coll.Search(vector, topK, nil)
				if err != nil {
					return err
				}
				for _, r := range results {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%.4f\n", r.ID, r.Score)
				}
			case text != "":
				results, err := coll.SearchText(text, topK, nil)
				if err != nil {
					return err
				}
				for _, r := range results {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%.4f\n", r.ID, r.Score)
				}
			default:
				return fmt.Errorf("search requires --vector, --text, or both")
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", document.DefaultTenantID, "tenant id")
	cmd.Flags().StringVar(&vectorCSV, "vector", "", "comma-separated query vector")
	cmd.Flags().StringVar(&text, "text", "", "query text")
	cmd.Flags().IntVar(&topK, "top-k", 10, "number of results to return")

	return cmd
}
