// Package collection implements the unit that couples one vector
// index, an optional BM25 index, and a payload map behind a single
// write lock.
package collection

import (
	"context"
	"math"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/barqdb/barq/internal/errors"
	"github.com/barqdb/barq/pkg/bm25"
	"github.com/barqdb/barq/pkg/distance"
	"github.com/barqdb/barq/pkg/document"
	"github.com/barqdb/barq/pkg/filter"
	"github.com/barqdb/barq/pkg/vectorindex"
)

// ErrAlreadyExists is returned by Insert when upsert is false and the
// id is already present.
var ErrAlreadyExists = errors.Conflict(errors.ErrCodeDocumentExists, "collection: document already exists", nil)

// ErrNotFound is returned by operations addressing a missing document.
var ErrNotFound = errors.NotFound(errors.ErrCodeDocumentMissing, "collection: document not found", nil)

// defaultOverFetchAlpha is the vector/BM25 per-side over-fetch factor
// (top_k' = alpha * top_k) hybrid fusion applies before fusing, per
// spec.md §4.5.
const defaultOverFetchAlpha = 3

// SearchResult is one ranked single-source hit.
type SearchResult struct {
	ID    document.ID
	Score float64
}

// HybridWeights controls the fused score's per-side contribution.
// Defaults to (0.5, 0.5) per spec.md §4.5.
type HybridWeights struct {
	Vector float64
	BM25   float64
}

// DefaultHybridWeights returns the spec.md default (0.5, 0.5).
func DefaultHybridWeights() HybridWeights {
	return HybridWeights{Vector: 0.5, BM25: 0.5}
}

// HybridResult is the fused score breakdown for one document: the
// normalized per-side scores, the fused score, and whether each side
// contributed (vs. defaulting to 0 because the document only appeared
// in the other side's candidate set).
type HybridResult struct {
	ID            document.ID
	VectorScore   float64
	VectorPresent bool
	BM25Score     float64
	BM25Present   bool
	VectorNorm    float64
	BM25Norm      float64
	FusedScore    float64
}

// Collection couples a vector index, an optional text index, and a
// payload map, all guarded by one write lock — spec.md §5's "one write
// lock per collection, unbounded concurrent reads."
type Collection struct {
	mu     sync.RWMutex
	schema document.CollectionSchema

	vectorField document.FieldSchema
	vectorIndex vectorindex.Index

	textField document.FieldSchema
	textIndex *bm25.Index // nil if schema has no indexed text field

	payloads map[document.ID]*document.Value
	vectors  map[document.ID]document.Vector // retained for rebuild_index
	texts    map[document.ID]string          // retained for rebuild_index / reindex
}

// New constructs a Collection from a validated schema.
func New(schema document.CollectionSchema) (*Collection, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	vectorField, _ := schema.VectorField()
	vidx, err := vectorindex.New(vectorField)
	if err != nil {
		return nil, err
	}

	c := &Collection{
		schema:      schema,
		vectorField: vectorField,
		vectorIndex: vidx,
		payloads:    make(map[document.ID]*document.Value),
		vectors:     make(map[document.ID]document.Vector),
		texts:       make(map[document.ID]string),
	}

	if textField, ok := schema.TextField(); ok {
		c.textField = textField
		cfg := document.DefaultBM25Config()
		if schema.BM25Config != nil {
			cfg = *schema.BM25Config
		}
		c.textIndex = bm25.New(cfg)
	}

	return c, nil
}

// Schema returns the collection's immutable schema.
func (c *Collection) Schema() document.CollectionSchema { return c.schema }

// Insert adds doc. If upsert is false and doc.ID already exists,
// returns ErrAlreadyExists.
func (c *Collection) Insert(doc document.Document, text string, upsert bool) error {
	if err := doc.Vector.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	_, exists := c.vectors[doc.ID]
	if exists && !upsert {
		return ErrAlreadyExists
	}

	if err := c.vectorIndex.Insert(doc.ID, doc.Vector); err != nil {
		return err
	}
	c.vectors[doc.ID] = doc.Vector
	c.payloads[doc.ID] = doc.Payload

	if c.textIndex != nil {
		c.textIndex.Insert(doc.ID, text)
		c.texts[doc.ID] = text
	}

	return nil
}

// Delete removes id, reporting whether it was present.
func (c *Collection) Delete(id document.ID) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed, err := c.vectorIndex.Remove(id)
	if err != nil {
		return false, err
	}
	if !removed {
		return false, nil
	}
	delete(c.payloads, id)
	delete(c.vectors, id)
	if c.textIndex != nil {
		c.textIndex.Remove(id)
		delete(c.texts, id)
	}
	return true, nil
}

// Search runs a vector-only search, optionally applying f per the
// selectivity-chosen pre/post-filter strategy.
func (c *Collection) Search(query document.Vector, topK int, f *filter.Filter) ([]SearchResult, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if f == nil {
		results, err := c.vectorIndex.Search(query, topK)
		if err != nil {
			return nil, err
		}
		return toSearchResults(results), nil
	}

	strategy, overFetch := filter.ChooseStrategy(*f, nil, filter.DefaultThreshold)
	if strategy == filter.StrategyPreFilter {
		return c.preFilterSearch(c.vectorIndex.Search, query, topK, *f)
	}
	fetchK := int(math.Ceil(float64(topK) * overFetch))
	if fetchK < topK {
		fetchK = topK
	}
	results, err := c.vectorIndex.Search(query, fetchK)
	if err != nil {
		return nil, err
	}
	filtered := c.postFilter(toSearchResults(results), *f)
	if len(filtered) > topK {
		filtered = filtered[:topK]
	}
	return filtered, nil
}

// SearchText runs a BM25-only search. Returns an empty result set if
// the collection has no indexed text field.
func (c *Collection) SearchText(query string, topK int, f *filter.Filter) ([]SearchResult, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.textIndex == nil {
		return nil, nil
	}

	search := func(_ document.Vector, k int) ([]vectorindex.SearchResult, error) {
		hits, err := c.textIndex.Search(query, k)
		if err != nil {
			return nil, err
		}
		out := make([]vectorindex.SearchResult, len(hits))
		for i, h := range hits {
			out[i] = vectorindex.SearchResult{ID: h.ID, Score: h.Score}
		}
		return out, nil
	}

	if f == nil {
		results, err := search(nil, topK)
		if err != nil {
			return nil, err
		}
		return toSearchResults(results), nil
	}

	strategy, overFetch := filter.ChooseStrategy(*f, nil, filter.DefaultThreshold)
	if strategy == filter.StrategyPreFilter {
		return c.preFilterSearch(search, nil, topK, *f)
	}
	fetchK := int(math.Ceil(float64(topK) * overFetch))
	if fetchK < topK {
		fetchK = topK
	}
	results, err := search(nil, fetchK)
	if err != nil {
		return nil, err
	}
	filtered := c.postFilter(toSearchResults(results), *f)
	if len(filtered) > topK {
		filtered = filtered[:topK]
	}
	return filtered, nil
}

// preFilterSearch resolves candidate ids matching f first (a full
// payload scan, since no secondary payload index exists in this
// engine). For a vector query it then scores the candidate set
// directly via brute-force distance computation, for every index type
// (no variant supports an id-restricted search); searchFn is not
// called. For a text query (query nil) it runs searchFn over all
// documents and keeps only the matching results.
func (c *Collection) preFilterSearch(
	searchFn func(document.Vector, int) ([]vectorindex.SearchResult, error),
	query document.Vector,
	topK int,
	f filter.Filter,
) ([]SearchResult, error) {
	var candidates []document.ID
	for id, payload := range c.payloads {
		if filter.Evaluate(f, payload) {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	if query == nil {
		// Text search pre-filter: re-run searchFn over all candidates by
		// requesting enough results to cover them, then keep only
		// matches. BM25's Search has no id-restriction capability either.
		results, err := searchFn(nil, len(c.payloads))
		if err != nil {
			return nil, err
		}
		filtered := c.postFilter(toSearchResults(results), f)
		if len(filtered) > topK {
			filtered = filtered[:topK]
		}
		return filtered, nil
	}

	scored := make([]SearchResult, 0, len(candidates))
	for _, id := range candidates {
		v, ok := c.vectors[id]
		if !ok {
			continue
		}
		score, err := distance.Score(c.vectorField.Metric, query, v)
		if err != nil {
			return nil, err
		}
		scored = append(scored, SearchResult{ID: id, Score: score})
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].ID.Less(scored[j].ID)
	})
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// postFilter drops results whose payload does not satisfy f. Caller
// holds c.mu.
func (c *Collection) postFilter(results []SearchResult, f filter.Filter) []SearchResult {
	out := make([]SearchResult, 0, len(results))
	for _, r := range results {
		if filter.Evaluate(f, c.payloads[r.ID]) {
			out = append(out, r)
		}
	}
	return out
}

func toSearchResults(in []vectorindex.SearchResult) []SearchResult {
	out := make([]SearchResult, len(in))
	for i, r := range in {
		out[i] = SearchResult{ID: r.ID, Score: r.Score}
	}
	return out
}

// SearchHybrid fuses vector and BM25 search using spec.md §4.5's
// min-max-normalize-then-weighted-sum algorithm. Both sides are
// fetched concurrently, grounded on the teacher's pkg/searcher/
// fusion.go use of golang.org/x/sync/errgroup for parallel dual-source
// fan-out.
func (c *Collection) SearchHybrid(
	ctx context.Context,
	query document.Vector,
	text string,
	topK int,
	weights HybridWeights,
	f *filter.Filter,
) ([]HybridResult, error) {
	if weights == (HybridWeights{}) {
		weights = DefaultHybridWeights()
	}
	fetchK := topK * defaultOverFetchAlpha

	var vecResults, bm25Results []SearchResult
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		r, err := c.Search(query, fetchK, f)
		vecResults = r
		return err
	})
	g.Go(func() error {
		r, err := c.SearchText(text, fetchK, f)
		bm25Results = r
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fused := fuse(vecResults, bm25Results, weights)
	if len(fused) > topK {
		fused = fused[:topK]
	}
	return fused, nil
}

// ExplainHybrid runs the same fusion SearchHybrid does and returns the
// breakdown for id specifically, if id is among the top-k*alpha
// candidates on either side.
func (c *Collection) ExplainHybrid(
	ctx context.Context,
	query document.Vector,
	text string,
	topK int,
	weights HybridWeights,
	f *filter.Filter,
	id document.ID,
) (*HybridResult, error) {
	if weights == (HybridWeights{}) {
		weights = DefaultHybridWeights()
	}
	fetchK := topK * defaultOverFetchAlpha

	var vecResults, bm25Results []SearchResult
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		r, err := c.Search(query, fetchK, f)
		vecResults = r
		return err
	})
	g.Go(func() error {
		r, err := c.SearchText(text, fetchK, f)
		bm25Results = r
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, r := range fuse(vecResults, bm25Results, weights) {
		if r.ID == id {
			return &r, nil
		}
	}
	return nil, nil
}

// fuse implements spec.md §4.5's fusion exactly: min-max normalize
// each side's scores over the candidate union, then
// fused = w_vec*v_norm + w_bm25*b_norm, missing side treated as 0 but
// still recorded as absent for transparency.
func fuse(vecResults, bm25Results []SearchResult, weights HybridWeights) []HybridResult {
	vecByID := make(map[document.ID]float64, len(vecResults))
	for _, r := range vecResults {
		vecByID[r.ID] = r.Score
	}
	bm25ByID := make(map[document.ID]float64, len(bm25Results))
	for _, r := range bm25Results {
		bm25ByID[r.ID] = r.Score
	}

	vecMin, vecMax := minMax(vecResults)
	bm25Min, bm25Max := minMax(bm25Results)

	ids := make(map[document.ID]struct{}, len(vecByID)+len(bm25ByID))
	for id := range vecByID {
		ids[id] = struct{}{}
	}
	for id := range bm25ByID {
		ids[id] = struct{}{}
	}

	out := make([]HybridResult, 0, len(ids))
	for id := range ids {
		vScore, vPresent := vecByID[id]
		bScore, bPresent := bm25ByID[id]

		vNorm := 0.0
		if vPresent {
			vNorm = normalize(vScore, vecMin, vecMax)
		}
		bNorm := 0.0
		if bPresent {
			bNorm = normalize(bScore, bm25Min, bm25Max)
		}

		out = append(out, HybridResult{
			ID:            id,
			VectorScore:   vScore,
			VectorPresent: vPresent,
			BM25Score:     bScore,
			BM25Present:   bPresent,
			VectorNorm:    vNorm,
			BM25Norm:      bNorm,
			FusedScore:    weights.Vector*vNorm + weights.BM25*bNorm,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].FusedScore != out[j].FusedScore {
			return out[i].FusedScore > out[j].FusedScore
		}
		return out[i].ID.Less(out[j].ID)
	})
	return out
}

func minMax(results []SearchResult) (min, max float64) {
	if len(results) == 0 {
		return 0, 0
	}
	min, max = results[0].Score, results[0].Score
	for _, r := range results[1:] {
		if r.Score < min {
			min = r.Score
		}
		if r.Score > max {
			max = r.Score
		}
	}
	return min, max
}

func normalize(v, min, max float64) float64 {
	if max == min {
		return 1
	}
	return (v - min) / (max - min)
}

// RebuildIndex builds a replacement vector index of newType from a
// live snapshot of stored vectors on a side copy, then swaps it in
// under the write lock. This resolves Open Question #1: on build
// failure the existing index is left untouched.
func (c *Collection) RebuildIndex(newType document.IndexType) error {
	c.mu.Lock()
	field := c.vectorField
	field.IndexType = newType
	vectors := make(map[document.ID]document.Vector, len(c.vectors))
	for id, v := range c.vectors {
		vectors[id] = v
	}
	c.mu.Unlock()

	fresh, err := vectorindex.New(field)
	if err != nil {
		return err
	}
	for id, v := range vectors {
		if err := fresh.Insert(id, v); err != nil {
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.vectorField.IndexType = newType
	c.vectorIndex = fresh
	return nil
}

// Len reports the number of documents currently stored.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.vectors)
}

// Documents returns a snapshot of every stored document alongside its
// indexed text, if any. Used by the storage engine to flush the
// collection's current state into a segment.
func (c *Collection) Documents() ([]document.Document, map[document.ID]string) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	docs := make([]document.Document, 0, len(c.vectors))
	for id, v := range c.vectors {
		docs = append(docs, document.Document{ID: id, Vector: v, Payload: c.payloads[id]})
	}
	texts := make(map[document.ID]string, len(c.texts))
	for id, t := range c.texts {
		texts[id] = t
	}
	return docs, texts
}

// TextFieldName returns the name of the collection's indexed text
// field, if any.
func (c *Collection) TextFieldName() (string, bool) {
	if c.textIndex == nil {
		return "", false
	}
	return c.textField.Name, true
}
