// Package bm25 implements an Okapi BM25 inverted index over text
// fields, grounded exactly on original_source/barq-bm25/src/lib.rs's
// formula and state shape.
package bm25

import (
	"math"
	"sort"
	"sync"

	"github.com/barqdb/barq/internal/errors"
	"github.com/barqdb/barq/pkg/document"
)

// ErrInvalidTopK mirrors pkg/vectorindex's contract for a zero top_k.
var ErrInvalidTopK = errors.Validation(errors.ErrCodeInvalidTopK, "bm25: top_k must be greater than zero", nil)

// posting is one (doc, term_freq) entry in a term's postings list.
type posting struct {
	id  document.ID
	tf  int
}

// docTerms tracks a single document's length and per-term frequency,
// used to compute BM25's length-normalization factor.
type docTerms struct {
	length int
	freqs  map[string]int
}

// Index is a BM25 inverted index: postings map, per-document term
// frequencies, and running total document length — the exact state
// original_source's Bm25Index carries.
type Index struct {
	mu       sync.RWMutex
	analyzer Analyzer
	config   document.BM25Config

	postings       map[string][]posting
	docs           map[document.ID]*docTerms
	totalDocLength int
}

// New constructs an empty BM25 index using cfg's analyzer and k1/b
// parameters.
func New(cfg document.BM25Config) *Index {
	if cfg.K1 == 0 && cfg.B == 0 {
		cfg = document.DefaultBM25Config()
	}
	return &Index{
		analyzer: Resolve(cfg.Analyzer),
		config:   cfg,
		postings: make(map[string][]posting),
		docs:     make(map[document.ID]*docTerms),
	}
}

// Insert tokenizes text and indexes it under id, first removing any
// prior entry for id (original_source: "if doc_id already present,
// remove first").
func (idx *Index) Insert(id document.ID, text string) {
	tokens := idx.analyzer.Tokenize(text)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, exists := idx.docs[id]; exists {
		idx.removeLocked(id)
	}

	freqs := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		freqs[tok]++
	}

	idx.docs[id] = &docTerms{length: len(tokens), freqs: freqs}
	idx.totalDocLength += len(tokens)

	for term, tf := range freqs {
		idx.postings[term] = append(idx.postings[term], posting{id: id, tf: tf})
	}
}

// Remove drops id from the index, reporting whether it was present.
func (idx *Index) Remove(id document.ID) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, exists := idx.docs[id]; !exists {
		return false
	}
	idx.removeLocked(id)
	return true
}

// removeLocked drops id's postings entries (pruning now-empty posting
// lists) and decrements total_doc_length. Caller holds idx.mu.
func (idx *Index) removeLocked(id document.ID) {
	dt := idx.docs[id]
	for term := range dt.freqs {
		list := idx.postings[term]
		for i, p := range list {
			if p.id == id {
				list = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(list) == 0 {
			delete(idx.postings, term)
		} else {
			idx.postings[term] = list
		}
	}
	if idx.totalDocLength > dt.length {
		idx.totalDocLength -= dt.length
	} else {
		idx.totalDocLength = 0
	}
	delete(idx.docs, id)
}

// Hit is one scored search result.
type Hit struct {
	ID    document.ID
	Score float64
}

// Search tokenizes query with the same analyzer and returns the top
// topK documents by summed BM25 contribution across query terms.
func (idx *Index) Search(query string, topK int) ([]Hit, error) {
	if topK == 0 {
		return nil, ErrInvalidTopK
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	n := len(idx.docs)
	if n == 0 {
		return nil, nil
	}
	avgDocLen := float64(idx.totalDocLength) / float64(n)
	if avgDocLen == 0 {
		avgDocLen = 1
	}

	terms := idx.analyzer.Tokenize(query)
	scores := make(map[document.ID]float64)

	for _, term := range terms {
		list, ok := idx.postings[term]
		if !ok {
			continue
		}
		df := len(list)
		idf := math.Log((float64(n-df)+0.5)/(float64(df)+0.5) + 1)

		for _, p := range list {
			dl := float64(idx.docs[p.id].length)
			denom := float64(p.tf) + idx.config.K1*(1-idx.config.B+idx.config.B*(dl/avgDocLen))
			contribution := idf * float64(p.tf) * (idx.config.K1 + 1) / denom
			scores[p.id] += contribution
		}
	}

	hits := make([]Hit, 0, len(scores))
	for id, score := range scores {
		hits = append(hits, Hit{ID: id, Score: score})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID.Less(hits[j].ID)
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// DocumentCount reports the number of indexed documents.
func (idx *Index) DocumentCount() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.docs)
}

// DocumentFrequency reports how many documents contain term.
func (idx *Index) DocumentFrequency(term string) int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.postings[term])
}

// TermFrequency reports term's frequency within id, or 0 if absent.
func (idx *Index) TermFrequency(id document.ID, term string) int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	dt, ok := idx.docs[id]
	if !ok {
		return 0
	}
	return dt.freqs[term]
}

// DocumentLength reports id's token count, or 0 if absent.
func (idx *Index) DocumentLength(id document.ID) int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	dt, ok := idx.docs[id]
	if !ok {
		return 0
	}
	return dt.length
}

// Config returns the index's BM25 configuration.
func (idx *Index) Config() document.BM25Config {
	return idx.config
}

// AverageDocumentLength reports the current mean document length.
func (idx *Index) AverageDocumentLength() float64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	n := len(idx.docs)
	if n == 0 {
		return 0
	}
	return float64(idx.totalDocLength) / float64(n)
}
