// Package document defines the core data model shared across the engine:
// document identifiers, vectors, payload values, and collection schemas.
package document

import (
	"encoding/json"
	"fmt"
	"math"
)

// IDKind discriminates the tagged DocumentId variant.
type IDKind uint8

const (
	IDKindU64 IDKind = iota
	IDKindString
)

// ID is a tagged, comparable document identifier: either a u64 or a
// non-empty string of at most 256 characters. It is safe to use as a
// map key.
type ID struct {
	kind IDKind
	u64  uint64
	str  string
}

// NewIDUint64 builds a u64-variant document id.
func NewIDUint64(v uint64) ID {
	return ID{kind: IDKindU64, u64: v}
}

// NewIDString builds a string-variant document id. Returns
// ErrInvalidDocumentID if s is empty or longer than 256 characters.
func NewIDString(s string) (ID, error) {
	if s == "" {
		return ID{}, fmt.Errorf("%w: string document id must be non-empty", ErrInvalidDocumentID)
	}
	if len(s) > 256 {
		return ID{}, fmt.Errorf("%w: string document id exceeds 256 characters", ErrInvalidDocumentID)
	}
	return ID{kind: IDKindString, str: s}, nil
}

// ErrInvalidDocumentID is returned for malformed document identifiers.
var ErrInvalidDocumentID = fmt.Errorf("invalid document id")

// Kind reports the identifier's tag.
func (id ID) Kind() IDKind { return id.kind }

// Uint64 returns the numeric value and true if this is a u64 id.
func (id ID) Uint64() (uint64, bool) {
	return id.u64, id.kind == IDKindU64
}

// String returns the identifier in display form, and implements the
// fmt.Stringer and json.Marshaler-adjacent text rendering the rest of
// the engine uses for logging and WAL keys.
func (id ID) String() string {
	switch id.kind {
	case IDKindU64:
		return fmt.Sprintf("%d", id.u64)
	default:
		return id.str
	}
}

// idJSON is the wire form for IDs: {"u64": n} or {"str": s}.
type idJSON struct {
	U64 *uint64 `json:"u64,omitempty"`
	Str *string `json:"str,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (id ID) MarshalJSON() ([]byte, error) {
	switch id.kind {
	case IDKindU64:
		v := id.u64
		return json.Marshal(idJSON{U64: &v})
	default:
		v := id.str
		return json.Marshal(idJSON{Str: &v})
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(data []byte) error {
	var wire idJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	switch {
	case wire.U64 != nil:
		*id = NewIDUint64(*wire.U64)
		return nil
	case wire.Str != nil:
		parsed, err := NewIDString(*wire.Str)
		if err != nil {
			return err
		}
		*id = parsed
		return nil
	default:
		return fmt.Errorf("%w: document id must set u64 or str", ErrInvalidDocumentID)
	}
}

// GobEncode implements gob.GobEncoder by delegating to the JSON form,
// since ID's fields are unexported and gob does not serialize those.
// Used when persisting HNSW id-mapping sidecars to disk.
func (id ID) GobEncode() ([]byte, error) {
	return id.MarshalJSON()
}

// GobDecode implements gob.GobDecoder.
func (id *ID) GobDecode(data []byte) error {
	return id.UnmarshalJSON(data)
}

// Less provides the deterministic tie-break ordering used by index
// search results: u64 ids sort before string ids, and within a kind by
// natural order.
func (id ID) Less(other ID) bool {
	if id.kind != other.kind {
		return id.kind < other.kind
	}
	if id.kind == IDKindU64 {
		return id.u64 < other.u64
	}
	return id.str < other.str
}

// Vector is a dense float32 embedding of fixed dimension.
type Vector []float32

// Validate rejects NaN components.
func (v Vector) Validate() error {
	for _, x := range v {
		if math.IsNaN(float64(x)) {
			return fmt.Errorf("%w: vector contains NaN", ErrInvalidVector)
		}
	}
	return nil
}

// ErrInvalidVector is returned when a vector fails validation.
var ErrInvalidVector = fmt.Errorf("invalid vector")

// GeoPoint is a latitude/longitude pair.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// GeoBoundingBox is an axis-aligned lat/lon rectangle.
type GeoBoundingBox struct {
	TopLeft     GeoPoint `json:"top_left"`
	BottomRight GeoPoint `json:"bottom_right"`
}

// Contains reports whether p falls within the box.
func (b GeoBoundingBox) Contains(p GeoPoint) bool {
	return p.Lat <= b.TopLeft.Lat && p.Lat >= b.BottomRight.Lat &&
		p.Lon >= b.TopLeft.Lon && p.Lon <= b.BottomRight.Lon
}

// ValueKind discriminates the recursive PayloadValue sum type.
type ValueKind uint8

const (
	ValueNull ValueKind = iota
	ValueBool
	ValueI64
	ValueF64
	ValueString
	ValueTimestamp
	ValueGeoPoint
	ValueArray
	ValueObject
)

// Value is the recursive payload value type: null, bool, i64, f64,
// string, timestamp, geopoint, array, or object(string->Value).
//
// Only one of the typed fields is meaningful, selected by Kind.
type Value struct {
	Kind      ValueKind
	Bool      bool
	I64       int64
	F64       float64
	Str       string
	Timestamp int64 // unix seconds, used when Kind == ValueTimestamp
	Geo       GeoPoint
	Array     []Value
	Object    map[string]Value
}

// Null is the canonical null payload value.
var Null = Value{Kind: ValueNull}

func NewBool(b bool) Value       { return Value{Kind: ValueBool, Bool: b} }
func NewI64(v int64) Value       { return Value{Kind: ValueI64, I64: v} }
func NewF64(v float64) Value     { return Value{Kind: ValueF64, F64: v} }
func NewString(s string) Value   { return Value{Kind: ValueString, Str: s} }
func NewTimestamp(t int64) Value { return Value{Kind: ValueTimestamp, Timestamp: t} }
func NewGeo(p GeoPoint) Value    { return Value{Kind: ValueGeoPoint, Geo: p} }
func NewArray(v []Value) Value   { return Value{Kind: ValueArray, Array: v} }
func NewObject(m map[string]Value) Value {
	return Value{Kind: ValueObject, Object: m}
}

// AsFloat64 coerces numeric payload kinds (i64/f64) to float64 for
// comparison purposes. The bool result reports whether coercion applied.
func (v Value) AsFloat64() (float64, bool) {
	switch v.Kind {
	case ValueI64:
		return float64(v.I64), true
	case ValueF64:
		return v.F64, true
	default:
		return 0, false
	}
}

// Document couples an id, vector, and optional payload.
type Document struct {
	ID      ID
	Vector  Vector
	Payload *Value
}

// FieldKind discriminates a FieldSchema's type.
type FieldKind uint8

const (
	FieldVector FieldKind = iota
	FieldText
	FieldJSON
)

// IndexType names the vector index implementation a Vector field uses.
type IndexType string

const (
	IndexFlat IndexType = "flat"
	IndexHNSW IndexType = "hnsw"
	IndexIVF  IndexType = "ivf"
)

// Metric names a distance kernel.
type Metric string

const (
	MetricL2     Metric = "l2"
	MetricCosine Metric = "cosine"
	MetricDot    Metric = "dot"
)

// HNSWParams configures an HNSW vector index.
type HNSWParams struct {
	M              int `json:"m" yaml:"m"`
	EfConstruction int `json:"ef_construction" yaml:"ef_construction"`
	EfSearch       int `json:"ef_search" yaml:"ef_search"`
}

// DefaultHNSWParams returns the spec.md defaults (M=16).
func DefaultHNSWParams() HNSWParams {
	return HNSWParams{M: 16, EfConstruction: 200, EfSearch: 64}
}

// IVFParams configures an IVF vector index, optionally with Product
// Quantization.
type IVFParams struct {
	NList  int  `json:"nlist" yaml:"nlist"`
	NProbe int  `json:"nprobe" yaml:"nprobe"`
	PQ     bool `json:"pq" yaml:"pq"`
	PQM    int  `json:"pq_m" yaml:"pq_m"` // number of subvectors
}

// DefaultIVFParams returns sensible defaults.
func DefaultIVFParams() IVFParams {
	return IVFParams{NList: 100, NProbe: 8}
}

// FieldSchema describes one field of a CollectionSchema.
type FieldSchema struct {
	Name      string     `json:"name"`
	Kind      FieldKind  `json:"kind"`
	Dimension int        `json:"dimension,omitempty"`
	Metric    Metric     `json:"metric,omitempty"`
	IndexType IndexType  `json:"index_type,omitempty"`
	HNSW      HNSWParams `json:"hnsw,omitempty"`
	IVF       IVFParams  `json:"ivf,omitempty"`
	Indexed   bool       `json:"indexed,omitempty"` // Text fields only
	Required  bool       `json:"required"`
}

// BM25Config configures the Okapi BM25 scorer for a collection's text
// index. Analyzer selects the tokenizer registered under that name in
// pkg/bm25 (e.g. "default", "english", "arabic").
type BM25Config struct {
	K1       float64 `json:"k1" yaml:"k1"`
	B        float64 `json:"b" yaml:"b"`
	Analyzer string  `json:"analyzer" yaml:"analyzer"`
}

// DefaultBM25Config returns spec.md's defaults (k1=1.2, b=0.75).
func DefaultBM25Config() BM25Config {
	return BM25Config{K1: 1.2, B: 0.75, Analyzer: "default"}
}

// CollectionSchema is immutable after creation.
type CollectionSchema struct {
	Name       string        `json:"name"`
	TenantID   string        `json:"tenant_id"`
	Fields     []FieldSchema `json:"fields"`
	BM25Config *BM25Config   `json:"bm25_config,omitempty"`
}

// VectorField returns the schema's (single, required) vector field.
func (s CollectionSchema) VectorField() (FieldSchema, bool) {
	for _, f := range s.Fields {
		if f.Kind == FieldVector {
			return f, true
		}
	}
	return FieldSchema{}, false
}

// TextField returns the first indexed text field, if any.
func (s CollectionSchema) TextField() (FieldSchema, bool) {
	for _, f := range s.Fields {
		if f.Kind == FieldText && f.Indexed {
			return f, true
		}
	}
	return FieldSchema{}, false
}

// Validate enforces invariant 1 (schema immutability starts from a
// valid schema): at least one vector field, positive dimension.
func (s CollectionSchema) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: collection schema missing name", ErrInvalidSchema)
	}
	vf, ok := s.VectorField()
	if !ok {
		return fmt.Errorf("%w: schema missing vector field", ErrInvalidSchema)
	}
	if vf.Dimension <= 0 {
		return fmt.Errorf("%w: vector dimension must be positive", ErrInvalidSchema)
	}
	return nil
}

// ErrInvalidSchema is returned by Validate.
var ErrInvalidSchema = fmt.Errorf("invalid schema")

// DefaultTenantID is used when no tenant is specified by a caller.
const DefaultTenantID = "default"
