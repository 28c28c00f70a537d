package document_test

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barqdb/barq/pkg/document"
)

func TestNewIDStringRejectsEmptyAndOverlong(t *testing.T) {
	_, err := document.NewIDString("")
	require.ErrorIs(t, err, document.ErrInvalidDocumentID)

	_, err = document.NewIDString(string(make([]byte, 257)))
	require.ErrorIs(t, err, document.ErrInvalidDocumentID)

	id, err := document.NewIDString("doc-1")
	require.NoError(t, err)
	assert.Equal(t, document.IDKindString, id.Kind())
}

func TestIDMarshalUnmarshalJSONRoundTrip(t *testing.T) {
	u64ID := document.NewIDUint64(42)
	raw, err := json.Marshal(u64ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"u64":42}`, string(raw))

	var decoded document.ID
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.True(t, decoded.Less(document.NewIDUint64(43)))
	v, ok := decoded.Uint64()
	require.True(t, ok)
	assert.Equal(t, uint64(42), v)

	strID, err := document.NewIDString("abc")
	require.NoError(t, err)
	raw, err = json.Marshal(strID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"str":"abc"}`, string(raw))

	var decodedStr document.ID
	require.NoError(t, json.Unmarshal(raw, &decodedStr))
	assert.Equal(t, "abc", decodedStr.String())
}

func TestIDUnmarshalJSONRejectsEmptyObject(t *testing.T) {
	var id document.ID
	err := json.Unmarshal([]byte(`{}`), &id)
	require.ErrorIs(t, err, document.ErrInvalidDocumentID)
}

func TestIDGobRoundTrip(t *testing.T) {
	id := document.NewIDUint64(7)
	raw, err := id.GobEncode()
	require.NoError(t, err)

	var decoded document.ID
	require.NoError(t, decoded.GobDecode(raw))
	assert.Equal(t, id, decoded)
}

func TestIDLessOrdersU64BeforeString(t *testing.T) {
	u64ID := document.NewIDUint64(1000)
	strID, err := document.NewIDString("a")
	require.NoError(t, err)

	assert.True(t, u64ID.Less(strID))
	assert.False(t, strID.Less(u64ID))
}

func TestVectorValidateRejectsNaN(t *testing.T) {
	v := document.Vector{1, 2, float32(math.NaN())}
	require.ErrorIs(t, v.Validate(), document.ErrInvalidVector)

	ok := document.Vector{1, 2, 3}
	require.NoError(t, ok.Validate())
}

func TestGeoBoundingBoxContains(t *testing.T) {
	box := document.GeoBoundingBox{
		TopLeft:     document.GeoPoint{Lat: 10, Lon: -5},
		BottomRight: document.GeoPoint{Lat: 0, Lon: 5},
	}
	assert.True(t, box.Contains(document.GeoPoint{Lat: 5, Lon: 0}))
	assert.False(t, box.Contains(document.GeoPoint{Lat: 20, Lon: 0}))
	assert.False(t, box.Contains(document.GeoPoint{Lat: 5, Lon: 10}))
}

func TestValueAsFloat64CoercesNumericKinds(t *testing.T) {
	f, ok := document.NewI64(5).AsFloat64()
	require.True(t, ok)
	assert.Equal(t, 5.0, f)

	f, ok = document.NewF64(2.5).AsFloat64()
	require.True(t, ok)
	assert.Equal(t, 2.5, f)

	_, ok = document.NewString("x").AsFloat64()
	assert.False(t, ok)
}

func TestCollectionSchemaValidate(t *testing.T) {
	valid := document.CollectionSchema{
		Name: "docs",
		Fields: []document.FieldSchema{
			{Name: "embedding", Kind: document.FieldVector, Dimension: 3},
		},
	}
	require.NoError(t, valid.Validate())

	missingName := valid
	missingName.Name = ""
	require.ErrorIs(t, missingName.Validate(), document.ErrInvalidSchema)

	missingVector := document.CollectionSchema{Name: "docs"}
	require.ErrorIs(t, missingVector.Validate(), document.ErrInvalidSchema)

	badDimension := document.CollectionSchema{
		Name: "docs",
		Fields: []document.FieldSchema{
			{Name: "embedding", Kind: document.FieldVector, Dimension: 0},
		},
	}
	require.ErrorIs(t, badDimension.Validate(), document.ErrInvalidSchema)
}

func TestCollectionSchemaVectorAndTextField(t *testing.T) {
	schema := document.CollectionSchema{
		Name: "docs",
		Fields: []document.FieldSchema{
			{Name: "embedding", Kind: document.FieldVector, Dimension: 3},
			{Name: "body", Kind: document.FieldText, Indexed: true},
			{Name: "notes", Kind: document.FieldText, Indexed: false},
		},
	}

	vf, ok := schema.VectorField()
	require.True(t, ok)
	assert.Equal(t, "embedding", vf.Name)

	tf, ok := schema.TextField()
	require.True(t, ok)
	assert.Equal(t, "body", tf.Name)

	empty := document.CollectionSchema{Name: "x"}
	_, ok = empty.TextField()
	assert.False(t, ok)
}
