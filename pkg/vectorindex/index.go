// Package vectorindex implements the ANN (approximate nearest
// neighbor) index variants a collection's vector field can choose:
// Flat (exact linear scan), HNSW (graph-based), and IVF (inverted
// file, with optional product quantization).
package vectorindex

import (
	"fmt"
	"sort"

	"github.com/barqdb/barq/internal/errors"
	"github.com/barqdb/barq/pkg/distance"
	"github.com/barqdb/barq/pkg/document"
)

// SearchResult is one ranked hit: higher Score is better, regardless
// of the underlying metric.
type SearchResult struct {
	ID    document.ID
	Score float64
}

// Index is the capability every vector index variant implements.
// Implementations must be safe for concurrent Search calls; Insert and
// Remove are serialized by the owning Collection's write lock, so
// implementations do not need to provide their own mutex for those —
// but HNSW and IVF do anyway, to remain usable standalone in tests.
type Index interface {
	Insert(id document.ID, v document.Vector) error
	Remove(id document.ID) (removed bool, err error)
	Search(query document.Vector, topK int) ([]SearchResult, error)
	Len() int
	IterIDs() []document.ID
}

// ErrInvalidTopK is returned when a caller requests topK == 0.
var ErrInvalidTopK = errors.Validation(errors.ErrCodeInvalidTopK, "vectorindex: top_k must be greater than zero", nil)

// ErrDimensionMismatch re-exports distance's error under this
// package's name so callers of Index don't need to import
// pkg/distance directly just to type-switch on errors.
type ErrDimensionMismatch = distance.ErrDimensionMismatch

// sortResults orders by score descending, ties broken by id order —
// the deterministic tie-break every variant's contract requires.
func sortResults(results []SearchResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID.Less(results[j].ID)
	})
}

func truncateTopK(results []SearchResult, topK int) []SearchResult {
	if len(results) > topK {
		return results[:topK]
	}
	return results
}

// New constructs the Index variant named by field, using its embedded
// HNSW/IVF parameters.
func New(field document.FieldSchema) (Index, error) {
	switch field.IndexType {
	case document.IndexFlat, "":
		return NewFlat(field.Dimension, field.Metric), nil
	case document.IndexHNSW:
		return NewHNSW(field.Dimension, field.Metric, field.HNSW), nil
	case document.IndexIVF:
		return NewIVF(field.Dimension, field.Metric, field.IVF), nil
	default:
		return nil, fmt.Errorf("vectorindex: unknown index type %q", field.IndexType)
	}
}

// Rebuild builds a fresh index of newType from src's current contents
// on a side copy, leaving src untouched until the copy fully succeeds.
// This is the implementation behind Collection.RebuildIndex and
// resolves Open Question #1 (atomic index rebuild): partial failures
// never affect the live index, since the caller only swaps in the
// result after Rebuild returns without error.
func Rebuild(src Index, field document.FieldSchema, newType document.IndexType) (Index, error) {
	field.IndexType = newType
	fresh, err := New(field)
	if err != nil {
		return nil, err
	}
	for _, id := range src.IterIDs() {
		// Vector indexes don't expose a Get; callers of Rebuild (the
		// Collection layer) pass vectors back in via a snapshot taken
		// under the write lock rather than through this helper when a
		// direct id->vector lookup isn't available. This generic path
		// exists for variants (Flat) that do track vectors internally.
		v, ok := vectorOf(src, id)
		if !ok {
			continue
		}
		if err := fresh.Insert(id, v); err != nil {
			return nil, err
		}
	}
	return fresh, nil
}

// vectorLookup is an optional capability implemented by index variants
// that retain the raw vector alongside the id (Flat, IVF). HNSW does
// not implement it since coder/hnsw does not expose stored vectors by
// key; rebuilding an HNSW index therefore goes through the
// Collection-level snapshot path instead of this helper.
type vectorLookup interface {
	VectorOf(id document.ID) (document.Vector, bool)
}

func vectorOf(idx Index, id document.ID) (document.Vector, bool) {
	if vl, ok := idx.(vectorLookup); ok {
		return vl.VectorOf(id)
	}
	return nil, false
}
