package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/barqdb/barq/pkg/document"
)

func newInsertCmd() *cobra.Command {
	var tenant string
	var id string
	var vectorCSV string
	var text string
	var upsert bool

	cmd := &cobra.Command{
		Use:   "insert COLLECTION",
		Short: "Insert or upsert a document into a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]

			docID, err := parseID(id)
			if err != nil {
				return err
			}
			vector, err := parseVector(vectorCSV)
			if err != nil {
				return err
			}

			doc := document.Document{ID: docID, Vector: vector}
			if err := engine.Insert(tenant, name, doc, text, upsert); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "inserted %s into %q/%q\n", docID, tenant, name)
			return nil
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", document.DefaultTenantID, "tenant id")
	cmd.Flags().StringVar(&id, "id", "", "document id (parsed as uint64 if numeric, else a string id); a uuid is generated if omitted")
	cmd.Flags().StringVar(&vectorCSV, "vector", "", "comma-separated vector components, e.g. 0.1,0.2,0.3")
	cmd.Flags().StringVar(&text, "text", "", "text payload for the collection's indexed text field")
	cmd.Flags().BoolVar(&upsert, "upsert", false, "replace the document if its id already exists")
	_ = cmd.MarkFlagRequired("vector")

	return cmd
}

// parseID parses the --id flag, generating a fresh random id when the
// flag is omitted so a caller without a natural external key (e.g.
// ingesting freshly-computed embeddings) doesn't have to invent one.
func parseID(s string) (document.ID, error) {
	if s == "" {
		return document.NewIDString(uuid.NewString())
	}
	if n, err := strconv.ParseUint(s, 10, 64); err == nil {
		return document.NewIDUint64(n), nil
	}
	return document.NewIDString(s)
}

func parseVector(csv string) (document.Vector, error) {
	if csv == "" {
		return nil, fmt.Errorf("vector must not be empty")
	}
	parts := strings.Split(csv, ",")
	vec := make(document.Vector, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("invalid vector component %q: %w", p, err)
		}
		vec[i] = float32(f)
	}
	return vec, nil
}
