package vectorindex

import (
	"sort"
	"sync"

	"github.com/barqdb/barq/pkg/distance"
	"github.com/barqdb/barq/pkg/document"
)

// IVF is an inverted-file index: vectors are partitioned into NList
// clusters by k-means, and search probes only the NProbe clusters
// nearest the query. No k-means or product-quantization library
// appears anywhere in the retrieved example pack, so both are
// hand-rolled here per spec.md §4.2 (see DESIGN.md).
type IVF struct {
	mu        sync.RWMutex
	dimension int
	metric    document.Metric
	params    document.IVFParams

	centroids []document.Vector      // len == NList once trained
	postings  [][]ivfEntry           // len == NList, one posting list per cluster
	location  map[document.ID]ivfLoc // id -> (cluster, slot), for Remove/VectorOf

	pq *productQuantizer // non-nil when params.PQ

	trained bool
	// pending holds inserts that arrive before training accumulates
	// enough vectors; once len(pending) reaches trainThreshold, k-means
	// runs and pending drains into postings.
	pending       []document.Document
	trainThreshold int
}

type ivfEntry struct {
	id     document.ID
	vector document.Vector // nil once PQ-encoded
	code   []byte          // PQ code, set when pq != nil
}

type ivfLoc struct {
	cluster int
	slot    int
}

// NewIVF constructs an empty, untrained IVF index. Training happens
// lazily once enough vectors accumulate (spec.md §4.2: "sample
// training set... or use all inserts when size < threshold").
func NewIVF(dimension int, metric document.Metric, params document.IVFParams) *IVF {
	if params.NList == 0 {
		params = document.DefaultIVFParams()
	}
	idx := &IVF{
		dimension:      dimension,
		metric:         metric,
		params:         params,
		location:       make(map[document.ID]ivfLoc),
		trainThreshold: params.NList * 40,
	}
	if params.PQ {
		m := params.PQM
		if m == 0 {
			m = 8
		}
		idx.pq = newProductQuantizer(dimension, m)
	}
	if idx.trainThreshold < params.NList*2 {
		idx.trainThreshold = params.NList * 2
	}
	return idx
}

// Insert adds id's vector, training the index the first time enough
// vectors have accumulated and routing to the nearest centroid
// thereafter.
func (idx *IVF) Insert(id document.ID, v document.Vector) error {
	if len(v) != idx.dimension {
		return &distance.ErrDimensionMismatch{Expected: idx.dimension, Got: len(v)}
	}
	cp := make(document.Vector, len(v))
	copy(cp, v)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if loc, exists := idx.location[id]; exists {
		idx.removeLocked(id, loc)
	}

	if !idx.trained {
		for i, d := range idx.pending {
			if d.ID == id {
				idx.pending = append(idx.pending[:i], idx.pending[i+1:]...)
				break
			}
		}
		idx.pending = append(idx.pending, document.Document{ID: id, Vector: cp})
		if len(idx.pending) >= idx.trainThreshold || len(idx.pending) >= idx.totalCap() {
			idx.trainLocked()
		}
		return nil
	}

	idx.assignLocked(id, cp)
	return nil
}

// totalCap is a second training trigger in Insert. It is four times
// trainThreshold, so the trainThreshold check always fires first and
// this one never triggers training on its own.
func (idx *IVF) totalCap() int { return idx.trainThreshold * 4 }

// trainLocked runs k-means over the pending set (or all vectors once
// trained) and distributes every pending document into its nearest
// centroid's posting list. Caller holds idx.mu.
func (idx *IVF) trainLocked() {
	vectors := make([]document.Vector, len(idx.pending))
	for i, d := range idx.pending {
		vectors[i] = d.Vector
	}
	k := idx.params.NList
	if k > len(vectors) {
		k = len(vectors)
	}
	if k == 0 {
		return
	}
	idx.centroids = kmeans(vectors, k, 25)
	idx.postings = make([][]ivfEntry, len(idx.centroids))

	if idx.pq != nil {
		idx.pq.train(vectors)
	}

	for _, d := range idx.pending {
		idx.assignLocked(d.ID, d.Vector)
	}
	idx.pending = nil
	idx.trained = true
}

// assignLocked routes v to its nearest centroid's posting list.
// Caller holds idx.mu and requires idx.trained.
func (idx *IVF) assignLocked(id document.ID, v document.Vector) {
	cluster := idx.nearestCentroid(v)
	entry := ivfEntry{id: id, vector: v}
	if idx.pq != nil {
		entry.code = idx.pq.encode(v)
		entry.vector = nil
	}
	idx.postings[cluster] = append(idx.postings[cluster], entry)
	idx.location[id] = ivfLoc{cluster: cluster, slot: len(idx.postings[cluster]) - 1}
}

func (idx *IVF) nearestCentroid(v document.Vector) int {
	best, bestDist := 0, -1.0
	for i, c := range idx.centroids {
		d, _ := distance.L2Distance(v, c)
		if bestDist < 0 || d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// Remove deletes id, reporting whether it was present.
func (idx *IVF) Remove(id document.ID) (bool, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if loc, exists := idx.location[id]; exists {
		idx.removeLocked(id, loc)
		return true, nil
	}
	for i, d := range idx.pending {
		if d.ID == id {
			idx.pending = append(idx.pending[:i], idx.pending[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// removeLocked swap-removes id from its posting list. Caller holds
// idx.mu.
func (idx *IVF) removeLocked(id document.ID, loc ivfLoc) {
	list := idx.postings[loc.cluster]
	last := len(list) - 1
	if loc.slot != last {
		list[loc.slot] = list[last]
		idx.location[list[loc.slot].id] = ivfLoc{cluster: loc.cluster, slot: loc.slot}
	}
	idx.postings[loc.cluster] = list[:last]
	delete(idx.location, id)
}

// Search probes the NProbe clusters nearest the query and returns the
// top topK candidates across them.
func (idx *IVF) Search(query document.Vector, topK int) ([]SearchResult, error) {
	if topK == 0 {
		return nil, ErrInvalidTopK
	}
	if len(query) != idx.dimension {
		return nil, &distance.ErrDimensionMismatch{Expected: idx.dimension, Got: len(query)}
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if !idx.trained {
		// Fall back to exhaustive scan over the pending set: nothing has
		// been clustered yet, so there is no probing strategy to apply.
		results := make([]SearchResult, 0, len(idx.pending))
		for _, d := range idx.pending {
			score, err := distance.Score(idx.metric, query, d.Vector)
			if err != nil {
				return nil, err
			}
			results = append(results, SearchResult{ID: d.ID, Score: score})
		}
		sortResults(results)
		return truncateTopK(results, topK), nil
	}

	nprobe := idx.params.NProbe
	if nprobe <= 0 || nprobe > len(idx.centroids) {
		nprobe = len(idx.centroids)
	}

	type centroidDist struct {
		cluster int
		dist    float64
	}
	dists := make([]centroidDist, len(idx.centroids))
	for i, c := range idx.centroids {
		d, _ := distance.L2Distance(query, c)
		dists[i] = centroidDist{cluster: i, dist: d}
	}
	sort.Slice(dists, func(i, j int) bool { return dists[i].dist < dists[j].dist })

	var results []SearchResult
	for p := 0; p < nprobe; p++ {
		cluster := dists[p].cluster
		for _, entry := range idx.postings[cluster] {
			var score float64
			var err error
			if idx.pq != nil {
				score = -idx.pq.approximateDistance(query, entry.code)
			} else {
				score, err = distance.Score(idx.metric, query, entry.vector)
				if err != nil {
					return nil, err
				}
			}
			results = append(results, SearchResult{ID: entry.id, Score: score})
		}
	}

	sortResults(results)
	return truncateTopK(results, topK), nil
}

// Len reports the total number of indexed vectors, trained or pending.
func (idx *IVF) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if !idx.trained {
		return len(idx.pending)
	}
	total := 0
	for _, list := range idx.postings {
		total += len(list)
	}
	return total
}

// IterIDs returns every indexed id.
func (idx *IVF) IterIDs() []document.ID {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if !idx.trained {
		out := make([]document.ID, len(idx.pending))
		for i, d := range idx.pending {
			out[i] = d.ID
		}
		return out
	}
	out := make([]document.ID, 0, len(idx.location))
	for id := range idx.location {
		out = append(out, id)
	}
	return out
}

// VectorOf implements vectorLookup, used by Rebuild. Returns false for
// PQ-encoded entries, since the original vector is not retained once
// quantized.
func (idx *IVF) VectorOf(id document.ID) (document.Vector, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if !idx.trained {
		for _, d := range idx.pending {
			if d.ID == id {
				return d.Vector, true
			}
		}
		return nil, false
	}
	loc, ok := idx.location[id]
	if !ok {
		return nil, false
	}
	entry := idx.postings[loc.cluster][loc.slot]
	if entry.vector == nil {
		return nil, false
	}
	return entry.vector, true
}

var _ Index = (*IVF)(nil)

// kmeans runs Lloyd's algorithm for up to maxIters iterations,
// returning k centroids. Centroids are seeded by picking k distinct
// input vectors spread across the input (simple deterministic
// seeding, not k-means++, since the library is hand-rolled and the
// contract only requires convergence within bounded iterations, not a
// specific seeding strategy).
func kmeans(vectors []document.Vector, k int, maxIters int) []document.Vector {
	n := len(vectors)
	if k > n {
		k = n
	}
	centroids := make([]document.Vector, k)
	stride := n / k
	if stride == 0 {
		stride = 1
	}
	for i := 0; i < k; i++ {
		src := vectors[(i*stride)%n]
		cp := make(document.Vector, len(src))
		copy(cp, src)
		centroids[i] = cp
	}

	assignments := make([]int, n)
	dim := len(vectors[0])

	for iter := 0; iter < maxIters; iter++ {
		changed := false
		for i, v := range vectors {
			best, bestDist := 0, -1.0
			for c, centroid := range centroids {
				d, _ := distance.L2Distance(v, centroid)
				if bestDist < 0 || d < bestDist {
					best, bestDist = c, d
				}
			}
			if assignments[i] != best {
				assignments[i] = best
				changed = true
			}
		}

		sums := make([]document.Vector, k)
		counts := make([]int, k)
		for c := range sums {
			sums[c] = make(document.Vector, dim)
		}
		for i, v := range vectors {
			c := assignments[i]
			counts[c]++
			for d := 0; d < dim; d++ {
				sums[c][d] += v[d]
			}
		}
		for c := range centroids {
			if counts[c] == 0 {
				continue // keep previous centroid, avoids empty-cluster collapse
			}
			for d := 0; d < dim; d++ {
				centroids[c][d] = sums[c][d] / float32(counts[c])
			}
		}

		if !changed {
			break
		}
	}

	return centroids
}
