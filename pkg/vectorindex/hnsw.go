package vectorindex

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"

	"github.com/barqdb/barq/pkg/distance"
	"github.com/barqdb/barq/pkg/document"
)

// HNSW wraps github.com/coder/hnsw, the pure-Go HNSW graph the teacher
// uses in internal/store/hnsw.go. Document ids are mapped to the
// graph's dense uint64 keys; deletes are lazy tombstones (coder/hnsw
// has a known issue deleting the last remaining node, so entries are
// only ever unmapped, never removed from the graph itself) and the
// index is rebuilt lazily once the tombstoned fraction crosses a
// threshold, per spec.md §4.2's "Remove" contract.
type HNSW struct {
	mu        sync.RWMutex
	graph     *hnsw.Graph[uint64]
	dimension int
	metric    document.Metric
	params    document.HNSWParams

	idMap   map[document.ID]uint64
	keyMap  map[uint64]document.ID
	vectors map[uint64]document.Vector // retained for lazy-rebuild re-insertion
	nextKey uint64

	// tombstoneRebuildFraction triggers a lazy rebuild once orphaned
	// graph nodes exceed this share of total graph nodes.
	tombstoneRebuildFraction float64
}

// hnswMetadata is the gob-encoded sidecar persisted alongside the
// graph's own binary export, mirroring the teacher's hnswMetadata.
type hnswMetadata struct {
	IDMap     map[document.ID]uint64
	Vectors   map[uint64]document.Vector
	NextKey   uint64
	Dimension int
	Metric    document.Metric
	Params    document.HNSWParams
}

// NewHNSW constructs an empty HNSW index.
func NewHNSW(dimension int, metric document.Metric, params document.HNSWParams) *HNSW {
	if params.M == 0 {
		params = document.DefaultHNSWParams()
	}
	if params.EfSearch == 0 {
		params.EfSearch = 20
	}

	graph := hnsw.NewGraph[uint64]()
	switch metric {
	case document.MetricL2:
		graph.Distance = hnsw.EuclideanDistance
	case document.MetricDot:
		graph.Distance = dotGraphDistance
	default:
		graph.Distance = hnsw.CosineDistance
	}
	graph.M = params.M
	graph.EfSearch = params.EfSearch
	graph.Ml = 1.0 / logM(params.M)

	return &HNSW{
		graph:                    graph,
		dimension:                dimension,
		metric:                   metric,
		params:                   params,
		idMap:                    make(map[document.ID]uint64),
		keyMap:                   make(map[uint64]document.ID),
		vectors:                  make(map[uint64]document.Vector),
		tombstoneRebuildFraction: 0.5,
	}
}

func logM(m int) float64 {
	// mL = 1 / ln(M); guard against M<=1.
	if m <= 1 {
		m = 2
	}
	return math.Log(float64(m))
}

// Insert adds or replaces id's vector. Cosine-metric vectors are
// normalized in place before insertion since coder/hnsw's
// CosineDistance assumes unit vectors for its fast path, matching the
// teacher's normalizeVectorInPlace usage.
func (h *HNSW) Insert(id document.ID, v document.Vector) error {
	if len(v) != h.dimension {
		return &distance.ErrDimensionMismatch{Expected: h.dimension, Got: len(v)}
	}
	vec := make(document.Vector, len(v))
	copy(vec, v)
	if h.metric == document.MetricCosine {
		distance.Normalize(vec)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if existingKey, exists := h.idMap[id]; exists {
		delete(h.keyMap, existingKey)
		delete(h.idMap, id)
		delete(h.vectors, existingKey)
	}

	key := h.nextKey
	h.nextKey++
	h.graph.Add(hnsw.MakeNode(key, []float32(vec)))
	h.idMap[id] = key
	h.keyMap[key] = id
	h.vectors[key] = vec

	if h.shouldRebuildLocked() {
		h.rebuildLocked()
	}
	return nil
}

// Remove marks id's entry as a tombstone (unmapped but still present
// in the graph) and reports whether it was present.
func (h *HNSW) Remove(id document.ID) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	key, ok := h.idMap[id]
	if !ok {
		return false, nil
	}
	delete(h.keyMap, key)
	delete(h.idMap, id)
	delete(h.vectors, key)

	if h.shouldRebuildLocked() {
		h.rebuildLocked()
	}
	return true, nil
}

// shouldRebuildLocked reports whether the tombstoned fraction of graph
// nodes exceeds tombstoneRebuildFraction. Caller holds h.mu.
func (h *HNSW) shouldRebuildLocked() bool {
	total := h.graph.Len()
	if total < 64 {
		return false
	}
	valid := len(h.idMap)
	orphans := total - valid
	return float64(orphans)/float64(total) > h.tombstoneRebuildFraction
}

// rebuildLocked replaces the graph with a fresh one containing only
// live entries, renumbering keys from zero. Caller holds h.mu.
func (h *HNSW) rebuildLocked() {
	fresh := hnsw.NewGraph[uint64]()
	fresh.Distance = h.graph.Distance
	fresh.M = h.params.M
	fresh.EfSearch = h.params.EfSearch
	fresh.Ml = h.graph.Ml

	newIDMap := make(map[document.ID]uint64, len(h.idMap))
	newKeyMap := make(map[uint64]document.ID, len(h.idMap))
	newVectors := make(map[uint64]document.Vector, len(h.idMap))
	var nextKey uint64

	for id, oldKey := range h.idMap {
		vec, ok := h.vectors[oldKey]
		if !ok {
			continue
		}
		newKey := nextKey
		nextKey++
		fresh.Add(hnsw.MakeNode(newKey, []float32(vec)))
		newIDMap[id] = newKey
		newKeyMap[newKey] = id
		newVectors[newKey] = vec
	}

	h.graph = fresh
	h.idMap = newIDMap
	h.keyMap = newKeyMap
	h.vectors = newVectors
	h.nextKey = nextKey
}

// Search runs a beam search with width ef_search and returns the top
// topK live results.
func (h *HNSW) Search(query document.Vector, topK int) ([]SearchResult, error) {
	if topK == 0 {
		return nil, ErrInvalidTopK
	}
	if len(query) != h.dimension {
		return nil, &distance.ErrDimensionMismatch{Expected: h.dimension, Got: len(query)}
	}

	q := make(document.Vector, len(query))
	copy(q, query)
	if h.metric == document.MetricCosine {
		distance.Normalize(q)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph.Len() == 0 {
		return nil, nil
	}

	// Over-fetch to absorb tombstoned nodes the graph may still return.
	fetch := topK * 4
	if fetch < topK+16 {
		fetch = topK + 16
	}
	nodes := h.graph.Search([]float32(q), fetch)

	results := make([]SearchResult, 0, len(nodes))
	for _, node := range nodes {
		id, ok := h.keyMap[node.Key]
		if !ok {
			continue // tombstoned
		}
		dist := h.graph.Distance([]float32(q), node.Value)
		results = append(results, SearchResult{ID: id, Score: graphDistanceToScore(h.metric, dist)})
	}

	sortResults(results)
	return truncateTopK(results, topK), nil
}

// dotGraphDistance adapts the raw dot product to coder/hnsw's
// lower-is-better Graph.Distance contract: negate it so the graph's
// nearest-neighbor search finds the maximum dot product. Unlike
// CosineDistance, vectors are not normalized first, so this stays
// magnitude-sensitive per pkg/distance.Dot.
func dotGraphDistance(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return -sum
}

func graphDistanceToScore(metric document.Metric, dist float32) float64 {
	switch metric {
	case document.MetricCosine:
		return 1.0 - float64(dist)/2.0
	case document.MetricDot:
		return -float64(dist)
	default:
		return 1.0 / (1.0 + float64(dist))
	}
}

// Len reports the number of live (non-tombstoned) entries.
func (h *HNSW) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.idMap)
}

// IterIDs returns every live id.
func (h *HNSW) IterIDs() []document.ID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]document.ID, 0, len(h.idMap))
	for id := range h.idMap {
		out = append(out, id)
	}
	return out
}

// Stats reports the graph's live/orphan node counts, used by
// background compaction to decide whether a lazy rebuild is due.
type Stats struct {
	ValidIDs   int
	GraphNodes int
	Orphans    int
}

func (h *HNSW) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	valid := len(h.idMap)
	total := h.graph.Len()
	return Stats{ValidIDs: valid, GraphNodes: total, Orphans: total - valid}
}

// Save persists the graph and its id-mapping sidecar via atomic
// temp-file-then-rename, matching the teacher's HNSWStore.Save.
func (h *HNSW) Save(path string) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("vectorindex: create directory: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("vectorindex: create index file: %w", err)
	}
	if err := h.graph.Export(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("vectorindex: export graph: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("vectorindex: close index file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("vectorindex: rename index file: %w", err)
	}

	return h.saveMetadata(path + ".meta")
}

func (h *HNSW) saveMetadata(path string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("vectorindex: create metadata file: %w", err)
	}
	meta := hnswMetadata{
		IDMap:     h.idMap,
		Vectors:   h.vectors,
		NextKey:   h.nextKey,
		Dimension: h.dimension,
		Metric:    h.metric,
		Params:    h.params,
	}
	if err := gob.NewEncoder(f).Encode(meta); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("vectorindex: encode metadata: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("vectorindex: close metadata file: %w", err)
	}
	return os.Rename(tmp, path)
}

// Load reads back a graph previously written by Save.
func (h *HNSW) Load(path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.loadMetadata(path + ".meta"); err != nil {
		return fmt.Errorf("vectorindex: load metadata: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("vectorindex: open index file: %w", err)
	}
	defer f.Close()

	graph := hnsw.NewGraph[uint64]()
	switch h.metric {
	case document.MetricL2:
		graph.Distance = hnsw.EuclideanDistance
	case document.MetricDot:
		graph.Distance = dotGraphDistance
	default:
		graph.Distance = hnsw.CosineDistance
	}
	graph.M = h.params.M
	graph.EfSearch = h.params.EfSearch

	reader := bufio.NewReader(f)
	if err := graph.Import(reader); err != nil {
		return fmt.Errorf("vectorindex: import graph: %w", err)
	}
	h.graph = graph
	return nil
}

func (h *HNSW) loadMetadata(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("vectorindex: open metadata file: %w", err)
	}
	defer f.Close()

	var meta hnswMetadata
	if err := gob.NewDecoder(f).Decode(&meta); err != nil {
		return fmt.Errorf("vectorindex: decode metadata: %w", err)
	}

	h.idMap = meta.IDMap
	h.vectors = meta.Vectors
	h.keyMap = make(map[uint64]document.ID, len(meta.IDMap))
	for id, key := range meta.IDMap {
		h.keyMap[key] = id
	}
	h.nextKey = meta.NextKey
	h.dimension = meta.Dimension
	h.metric = meta.Metric
	h.params = meta.Params
	return nil
}

var _ Index = (*HNSW)(nil)
