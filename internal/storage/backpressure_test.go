package storage

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/barqdb/barq/pkg/document"
)

func TestEngineInsertEnforcesQPSQuota(t *testing.T) {
	root := t.TempDir()
	eng, err := Open(root)
	require.NoError(t, err)
	defer eng.Close()

	_, err = eng.CreateCollection(testSchema("docs"))
	require.NoError(t, err)
	require.NoError(t, eng.SetQuota("acme", Quota{MaxQPS: 2}))

	for i := uint64(0); i < 2; i++ {
		doc := document.Document{ID: document.NewIDUint64(i), Vector: document.Vector{1, 0, 0}}
		require.NoError(t, eng.Insert("acme", "docs", doc, "text", false))
	}

	doc := document.Document{ID: document.NewIDUint64(2), Vector: document.Vector{1, 0, 0}}
	err = eng.Insert("acme", "docs", doc, "text", false)
	require.ErrorIs(t, err, ErrQPSExceeded)
}

func TestEngineInsertStallsOnWalFlushLag(t *testing.T) {
	root := t.TempDir()
	eng, err := Open(root)
	require.NoError(t, err)
	defer eng.Close()

	eng.flushThreshold = 1 << 30 // disable size-triggered flush so the WAL keeps growing

	_, err = eng.CreateCollection(testSchema("docs"))
	require.NoError(t, err)

	wal, err := eng.walFor("acme", "docs")
	require.NoError(t, err)

	for i := uint64(0); i < 3; i++ {
		doc := document.Document{ID: document.NewIDUint64(i), Vector: document.Vector{1, 0, 0}}
		require.NoError(t, eng.Insert("acme", "docs", doc, "text", false))
	}

	size, err := wal.Size()
	require.NoError(t, err)
	eng.flushThreshold = size / 3 // now "2x flushThreshold" sits below the WAL's current size

	doc := document.Document{ID: document.NewIDUint64(3), Vector: document.Vector{1, 0, 0}}
	err = eng.Insert("acme", "docs", doc, "text", false)
	require.ErrorIs(t, err, ErrWriteStalled)

	require.NoError(t, eng.Flush("acme", "docs"))
	err = eng.Insert("acme", "docs", doc, "text", false)
	require.NoError(t, err, "after a flush drains the WAL tail, inserts resume")
}
