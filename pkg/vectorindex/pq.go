package vectorindex

import "github.com/barqdb/barq/pkg/document"

// productQuantizer implements the PQ coding spec.md §4.2 describes
// (IVF encodes each vector as is, not as a residual from its cluster
// centroid): a D-dimensional vector is split into m subvectors, each
// compressed to a single byte codebook index via per-subspace k-means
// (256-way, since codes are bytes). Distance is then approximated by
// table lookup at search time rather than recomputed against the full
// vector. Hand-rolled: no PQ library appears anywhere in the retrieved
// pack.
type productQuantizer struct {
	dimension   int
	subvectors  int
	subDim      int
	codebooks   [][]document.Vector // [subvector][code] -> centroid (256 codes per subspace)
}

const pqCodes = 256

func newProductQuantizer(dimension, subvectors int) *productQuantizer {
	if subvectors <= 0 || dimension%subvectors != 0 {
		// Fall back to the largest divisor <= requested subvectors so the
		// split is always exact; 1 always divides evenly.
		for s := subvectors; s >= 1; s-- {
			if s > 0 && dimension%s == 0 {
				subvectors = s
				break
			}
		}
	}
	return &productQuantizer{
		dimension:  dimension,
		subvectors: subvectors,
		subDim:     dimension / subvectors,
	}
}

// train builds one codebook per subspace via k-means over the
// corresponding slice of every training vector.
func (pq *productQuantizer) train(vectors []document.Vector) {
	pq.codebooks = make([][]document.Vector, pq.subvectors)
	for s := 0; s < pq.subvectors; s++ {
		start := s * pq.subDim
		end := start + pq.subDim
		subset := make([]document.Vector, len(vectors))
		for i, v := range vectors {
			subset[i] = v[start:end]
		}
		k := pqCodes
		if k > len(subset) {
			k = len(subset)
		}
		if k == 0 {
			k = 1
		}
		pq.codebooks[s] = kmeans(subset, k, 15)
	}
}

// encode maps v to one byte per subspace: the index of its nearest
// centroid in that subspace's codebook.
func (pq *productQuantizer) encode(v document.Vector) []byte {
	code := make([]byte, pq.subvectors)
	for s := 0; s < pq.subvectors; s++ {
		start := s * pq.subDim
		end := start + pq.subDim
		sub := v[start:end]
		best, bestDist := 0, -1.0
		for c, centroid := range pq.codebooks[s] {
			d := sumSquaredDiff(sub, centroid)
			if bestDist < 0 || d < bestDist {
				best, bestDist = c, d
			}
		}
		code[s] = byte(best)
	}
	return code
}

// approximateDistance reconstructs the squared L2 distance between
// query and the vector code encodes by summing per-subspace distances
// against the query's corresponding slice and each code's centroid —
// the "table lookup" scoring spec.md describes, computed directly
// rather than via a precomputed table since query vectors vary.
func (pq *productQuantizer) approximateDistance(query document.Vector, code []byte) float64 {
	var total float64
	for s := 0; s < pq.subvectors; s++ {
		start := s * pq.subDim
		end := start + pq.subDim
		centroid := pq.codebooks[s][code[s]]
		total += sumSquaredDiff(query[start:end], centroid)
	}
	return total
}

func sumSquaredDiff(a, b document.Vector) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}
