package vectorindex

import (
	"sync"

	"github.com/barqdb/barq/pkg/distance"
	"github.com/barqdb/barq/pkg/document"
)

// Flat is the exact reference index: linear scan over stored (id,
// vector) pairs. Grounded on original_source's FlatIndex, which scores
// every entry in parallel via rayon; here the scan is fanned out
// across goroutines for the same reason — score computation is pure
// CPU work with no shared mutable state.
type Flat struct {
	mu        sync.RWMutex
	dimension int
	metric    document.Metric
	ids       []document.ID
	vectors   []document.Vector
	index     map[document.ID]int // id -> slot in ids/vectors
}

// NewFlat constructs an empty Flat index for the given dimension and
// metric.
func NewFlat(dimension int, metric document.Metric) *Flat {
	return &Flat{
		dimension: dimension,
		metric:    metric,
		index:     make(map[document.ID]int),
	}
}

// Insert adds or replaces the vector stored for id.
func (f *Flat) Insert(id document.ID, v document.Vector) error {
	if len(v) != f.dimension {
		return &distance.ErrDimensionMismatch{Expected: f.dimension, Got: len(v)}
	}
	cp := make(document.Vector, len(v))
	copy(cp, v)

	f.mu.Lock()
	defer f.mu.Unlock()
	if slot, ok := f.index[id]; ok {
		f.vectors[slot] = cp
		return nil
	}
	f.ids = append(f.ids, id)
	f.vectors = append(f.vectors, cp)
	f.index[id] = len(f.ids) - 1
	return nil
}

// Remove deletes id's vector, compacting the backing slices via
// swap-with-last.
func (f *Flat) Remove(id document.ID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	slot, ok := f.index[id]
	if !ok {
		return false, nil
	}
	last := len(f.ids) - 1
	if slot != last {
		f.ids[slot] = f.ids[last]
		f.vectors[slot] = f.vectors[last]
		f.index[f.ids[slot]] = slot
	}
	f.ids = f.ids[:last]
	f.vectors = f.vectors[:last]
	delete(f.index, id)
	return true, nil
}

// Search scores every stored vector against query and returns the top
// topK, highest score first.
func (f *Flat) Search(query document.Vector, topK int) ([]SearchResult, error) {
	if topK == 0 {
		return nil, ErrInvalidTopK
	}
	if len(query) != f.dimension {
		return nil, &distance.ErrDimensionMismatch{Expected: f.dimension, Got: len(query)}
	}

	f.mu.RLock()
	ids := make([]document.ID, len(f.ids))
	copy(ids, f.ids)
	vectors := make([]document.Vector, len(f.vectors))
	copy(vectors, f.vectors)
	f.mu.RUnlock()

	results := make([]SearchResult, len(ids))
	const parallelThreshold = 2000
	if len(ids) < parallelThreshold {
		for i := range ids {
			score, err := distance.Score(f.metric, query, vectors[i])
			if err != nil {
				return nil, err
			}
			results[i] = SearchResult{ID: ids[i], Score: score}
		}
	} else {
		workers := 8
		chunk := (len(ids) + workers - 1) / workers
		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			start := w * chunk
			if start >= len(ids) {
				break
			}
			end := start + chunk
			if end > len(ids) {
				end = len(ids)
			}
			wg.Add(1)
			go func(start, end int) {
				defer wg.Done()
				for i := start; i < end; i++ {
					score, _ := distance.Score(f.metric, query, vectors[i])
					results[i] = SearchResult{ID: ids[i], Score: score}
				}
			}(start, end)
		}
		wg.Wait()
	}

	sortResults(results)
	return truncateTopK(results, topK), nil
}

// Len reports the number of stored vectors.
func (f *Flat) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.ids)
}

// IterIDs returns a snapshot of every stored id.
func (f *Flat) IterIDs() []document.ID {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]document.ID, len(f.ids))
	copy(out, f.ids)
	return out
}

// VectorOf implements vectorLookup, used by Rebuild.
func (f *Flat) VectorOf(id document.ID) (document.Vector, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	slot, ok := f.index[id]
	if !ok {
		return nil, false
	}
	cp := make(document.Vector, len(f.vectors[slot]))
	copy(cp, f.vectors[slot])
	return cp, true
}

var _ Index = (*Flat)(nil)
