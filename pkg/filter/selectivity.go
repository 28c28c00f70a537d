package filter

// Strategy is the Collection-level decision for how to combine a
// vector search with a filter: pre-filter resolves candidate ids first
// and scores only those; post-filter over-fetches from the vector
// index and drops non-matching results.
type Strategy int

const (
	StrategyPreFilter Strategy = iota
	StrategyPostFilter
)

// Cardinality reports the estimated number of distinct values a field
// takes, used by the Eq/In selectivity estimates. A caller may pass an
// Estimator with real per-field counts; Collection.Search and
// SearchText pass nil, so there DefaultCardinality (10) is used, matching
// spec.md §4.4's "default 1/10" for Eq.
const DefaultCardinality = 10

// Estimator resolves field cardinalities for selectivity estimation.
// A nil Estimator or an Estimator returning ok=false falls back to
// DefaultCardinality.
type Estimator interface {
	Cardinality(field string) (int, bool)
}

// Selectivity estimates the fraction of documents f is expected to
// match, per spec.md §4.4's per-predicate formulas.
func Selectivity(f Filter, est Estimator) float64 {
	switch f.Op {
	case OpAnd:
		s := 1.0
		for _, sub := range f.Filters {
			s *= Selectivity(sub, est)
		}
		return s
	case OpOr:
		product := 1.0
		for _, sub := range f.Filters {
			product *= (1 - Selectivity(sub, est))
		}
		return 1 - product
	case OpNot:
		return 1 - Selectivity(*f.Inner, est)
	case OpEq:
		return 1.0 / float64(cardinalityOf(f.Field, est))
	case OpIn:
		c := cardinalityOf(f.Field, est)
		s := float64(len(f.Values)) / float64(c)
		if s > 1 {
			s = 1
		}
		return s
	case OpGt, OpGte, OpLt, OpLte, OpNe:
		return 0.5
	case OpGeoWithin:
		return 0.1
	case OpExists:
		return 0.9
	default:
		return 1.0
	}
}

func cardinalityOf(field string, est Estimator) int {
	if est != nil {
		if c, ok := est.Cardinality(field); ok && c > 0 {
			return c
		}
	}
	return DefaultCardinality
}

// ChooseStrategy implements the Auto{threshold} strategy chooser: if
// estimated selectivity is below threshold, pre-filter; otherwise
// post-filter. Returns the chosen strategy and, for post-filter, the
// over-fetch multiplier min(20, 1/s) to apply to the requested top_k.
func ChooseStrategy(f Filter, est Estimator, threshold float64) (Strategy, float64) {
	s := Selectivity(f, est)
	if s <= 0 {
		s = 1e-9
	}
	if s < threshold {
		return StrategyPreFilter, 1
	}
	overFetch := 1 / s
	if overFetch > 20 {
		overFetch = 20
	}
	return StrategyPostFilter, overFetch
}

// DefaultThreshold is Auto's default threshold per spec.md §4.4.
const DefaultThreshold = 0.1
