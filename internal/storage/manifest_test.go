package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestManifestMissingFileReturnsZeroValue(t *testing.T) {
	m, err := LoadManifest(filepath.Join(t.TempDir(), "manifest.json"))
	require.NoError(t, err)
	require.Empty(t, m.Segments)
	require.Zero(t, m.TailLSN)
}

func TestManifestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")
	m := Manifest{
		SchemaHash: 7,
		TailLSN:    12,
		Segments: []ManifestSegment{
			{Seq: 0, Path: "segments/000000.seg", RecordCount: 3, MaxLSN: 5},
		},
	}
	require.NoError(t, SaveManifest(path, m))

	got, err := LoadManifest(path)
	require.NoError(t, err)
	require.Equal(t, m, got)
}
