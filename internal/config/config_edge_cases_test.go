package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Config Merge Edge Cases
// =============================================================================

func TestLoad_ZeroValuesNotMerged(t *testing.T) {
	tmpDir := t.TempDir()
	configContent := `
version: 1
storage:
  flush_threshold_bytes: 0
cluster:
  shard_count: 0
`
	err := os.WriteFile(filepath.Join(tmpDir, "barq.yaml"), []byte(configContent), 0o644)
	require.NoError(t, err)

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, int64(16<<20), cfg.Storage.FlushThresholdBytes, "zero should not override the default flush threshold")
	assert.Equal(t, 1, cfg.Cluster.ShardCount, "zero should not override the default shard count")
}

func TestLoad_NegativeFlushThreshold_Rejected(t *testing.T) {
	tmpDir := t.TempDir()
	configContent := `
version: 1
storage:
  flush_threshold_bytes: -10
`
	err := os.WriteFile(filepath.Join(tmpDir, "barq.yaml"), []byte(configContent), 0o644)
	require.NoError(t, err)

	cfg, err := Load(tmpDir)

	require.Error(t, err)
	require.Nil(t, cfg)
}

// =============================================================================
// Config File Permission Edge Cases
// =============================================================================

func TestLoad_UnreadableConfigFile_ReturnsError(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("test requires non-root user")
	}

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "barq.yaml")
	err := os.WriteFile(configPath, []byte("version: 1"), 0o000)
	require.NoError(t, err)
	defer func() { _ = os.Chmod(configPath, 0o644) }()

	cfg, err := Load(tmpDir)

	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "read")
}

// =============================================================================
// Config JSON Marshaling Edge Cases
// =============================================================================

func TestConfig_JSON_RoundTrip(t *testing.T) {
	cfg := NewConfig()
	cfg.Storage.DataDir = "/data/barq"
	cfg.Hybrid.VectorWeight = 0.7
	cfg.Hybrid.BM25Weight = 0.3
	cfg.Cluster.NodeID = "node-a"

	data, err := json.Marshal(cfg)
	require.NoError(t, err)

	var parsed Config
	require.NoError(t, json.Unmarshal(data, &parsed))

	assert.Equal(t, "/data/barq", parsed.Storage.DataDir)
	assert.Equal(t, 0.7, parsed.Hybrid.VectorWeight)
	assert.Equal(t, 0.3, parsed.Hybrid.BM25Weight)
	assert.Equal(t, "node-a", parsed.Cluster.NodeID)
}

func TestConfig_UnmarshalJSON_InvalidJSON_ReturnsError(t *testing.T) {
	invalidJSON := []byte("{invalid json")

	var cfg Config
	err := json.Unmarshal(invalidJSON, &cfg)

	require.Error(t, err)
}

// =============================================================================
// Quota Config Edge Cases
// =============================================================================

func TestQuotaFor_FallsBackToDefaultWhenTenantUnlisted(t *testing.T) {
	cfg := NewConfig()

	q := cfg.QuotaFor("some-tenant-not-in-config")

	assert.Equal(t, cfg.Quotas["default"], q)
}

func TestQuotaFor_ReturnsTenantSpecificOverride(t *testing.T) {
	cfg := NewConfig()
	cfg.Quotas["acme"] = QuotaConfig{MaxCollections: 5}

	q := cfg.QuotaFor("acme")

	assert.Equal(t, 5, q.MaxCollections)
}
