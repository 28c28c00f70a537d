// Package filter implements the payload filter sum type and the
// selectivity-based strategy chooser Collection.Search uses to decide
// between pre- and post-filtering.
package filter

import (
	"strings"

	"github.com/barqdb/barq/pkg/document"
)

// Op discriminates the Filter sum type.
type Op uint8

const (
	OpAnd Op = iota
	OpOr
	OpNot
	OpEq
	OpNe
	OpGt
	OpGte
	OpLt
	OpLte
	OpIn
	OpGeoWithin
	OpExists
)

// Filter is the recursive predicate tree evaluated against a
// document's payload. Only the fields relevant to Op are meaningful;
// e.g. And/Or populate Filters, Not populates Inner, Eq/Gt/... populate
// Field+Value.
type Filter struct {
	Op          Op
	Filters     []Filter        // And, Or
	Inner       *Filter         // Not
	Field       string          // Eq, Ne, Gt, Gte, Lt, Lte, In, GeoWithin, Exists
	Value       document.Value  // Eq, Ne, Gt, Gte, Lt, Lte
	Values      []document.Value // In
	BoundingBox document.GeoBoundingBox // GeoWithin
}

func And(filters ...Filter) Filter { return Filter{Op: OpAnd, Filters: filters} }
func Or(filters ...Filter) Filter  { return Filter{Op: OpOr, Filters: filters} }
func Not(inner Filter) Filter      { return Filter{Op: OpNot, Inner: &inner} }
func Eq(field string, v document.Value) Filter {
	return Filter{Op: OpEq, Field: field, Value: v}
}
func Ne(field string, v document.Value) Filter {
	return Filter{Op: OpNe, Field: field, Value: v}
}
func Gt(field string, v document.Value) Filter {
	return Filter{Op: OpGt, Field: field, Value: v}
}
func Gte(field string, v document.Value) Filter {
	return Filter{Op: OpGte, Field: field, Value: v}
}
func Lt(field string, v document.Value) Filter {
	return Filter{Op: OpLt, Field: field, Value: v}
}
func Lte(field string, v document.Value) Filter {
	return Filter{Op: OpLte, Field: field, Value: v}
}
func In(field string, values []document.Value) Filter {
	return Filter{Op: OpIn, Field: field, Values: values}
}
func GeoWithin(field string, box document.GeoBoundingBox) Filter {
	return Filter{Op: OpGeoWithin, Field: field, BoundingBox: box}
}
func Exists(field string) Filter {
	return Filter{Op: OpExists, Field: field}
}

// lookup resolves a dot-separated field path against a payload value.
// A missing path reports ok=false.
func lookup(payload *document.Value, path string) (document.Value, bool) {
	if payload == nil {
		return document.Value{}, false
	}
	cur := *payload
	for _, segment := range strings.Split(path, ".") {
		if cur.Kind != document.ValueObject {
			return document.Value{}, false
		}
		next, ok := cur.Object[segment]
		if !ok {
			return document.Value{}, false
		}
		cur = next
	}
	return cur, true
}

// Evaluate reports whether payload satisfies f. A missing field makes
// any comparison false, except Not(Exists) which is true — exactly
// spec.md §4.4's rule.
func Evaluate(f Filter, payload *document.Value) bool {
	switch f.Op {
	case OpAnd:
		for _, sub := range f.Filters {
			if !Evaluate(sub, payload) {
				return false
			}
		}
		return true
	case OpOr:
		for _, sub := range f.Filters {
			if Evaluate(sub, payload) {
				return true
			}
		}
		return false
	case OpNot:
		return !Evaluate(*f.Inner, payload)
	case OpExists:
		_, ok := lookup(payload, f.Field)
		return ok
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte:
		actual, ok := lookup(payload, f.Field)
		if !ok {
			return false
		}
		return compareOp(f.Op, actual, f.Value)
	case OpIn:
		actual, ok := lookup(payload, f.Field)
		if !ok {
			return false
		}
		for _, v := range f.Values {
			if compareOp(OpEq, actual, v) {
				return true
			}
		}
		return false
	case OpGeoWithin:
		actual, ok := lookup(payload, f.Field)
		if !ok || actual.Kind != document.ValueGeoPoint {
			return false
		}
		return f.BoundingBox.Contains(actual.Geo)
	default:
		return false
	}
}

// compareOp applies op to (actual, want), coercing i64<->f64 for
// numeric comparisons and comparing strings lexicographically.
func compareOp(op Op, actual, want document.Value) bool {
	if an, aok := actual.AsFloat64(); aok {
		if wn, wok := want.AsFloat64(); wok {
			return numericCompare(op, an, wn)
		}
	}
	if actual.Kind == document.ValueString && want.Kind == document.ValueString {
		return stringCompare(op, actual.Str, want.Str)
	}
	if actual.Kind == document.ValueBool && want.Kind == document.ValueBool {
		switch op {
		case OpEq:
			return actual.Bool == want.Bool
		case OpNe:
			return actual.Bool != want.Bool
		}
		return false
	}
	if actual.Kind == document.ValueTimestamp && want.Kind == document.ValueTimestamp {
		return numericCompare(op, float64(actual.Timestamp), float64(want.Timestamp))
	}
	// Incomparable kinds: only equality/inequality are well-defined, and
	// only as a structural fallback.
	switch op {
	case OpEq:
		return actual.Kind == want.Kind
	case OpNe:
		return actual.Kind != want.Kind
	default:
		return false
	}
}

func numericCompare(op Op, a, b float64) bool {
	switch op {
	case OpEq:
		return a == b
	case OpNe:
		return a != b
	case OpGt:
		return a > b
	case OpGte:
		return a >= b
	case OpLt:
		return a < b
	case OpLte:
		return a <= b
	default:
		return false
	}
}

func stringCompare(op Op, a, b string) bool {
	switch op {
	case OpEq:
		return a == b
	case OpNe:
		return a != b
	case OpGt:
		return a > b
	case OpGte:
		return a >= b
	case OpLt:
		return a < b
	case OpLte:
		return a <= b
	default:
		return false
	}
}
