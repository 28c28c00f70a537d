package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	engineerrors "github.com/barqdb/barq/internal/errors"
)

// newTestConfigDir writes a minimal barq.yaml pointing storage.data_dir
// at a fresh temp directory and returns the config dir to pass via
// --config-dir.
func newTestConfigDir(t *testing.T) string {
	t.Helper()
	configDir := t.TempDir()
	dataDir := t.TempDir()

	yaml := fmt.Sprintf("storage:\n  data_dir: %q\n", dataDir)
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "barq.yaml"), []byte(yaml), 0o644))
	return configDir
}

// runCLI executes the root command with args, prefixed with
// --config-dir, and returns combined stdout and the resulting error.
func runCLI(t *testing.T, configDir string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config-dir", configDir}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestCollectionLifecycle_CreateInsertSearchDrop(t *testing.T) {
	configDir := newTestConfigDir(t)

	_, err := runCLI(t, configDir, "collection", "create", "docs", "--dim", "3", "--metric", "cosine", "--index", "flat")
	require.NoError(t, err)

	out, err := runCLI(t, configDir, "collection", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "docs")

	_, err = runCLI(t, configDir, "insert", "docs", "--id", "1", "--vector", "1,0,0", "--text", "hello world")
	require.NoError(t, err)

	out, err = runCLI(t, configDir, "search", "docs", "--vector", "1,0,0", "--top-k", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "1")

	out, err = runCLI(t, configDir, "search", "docs", "--text", "hello", "--top-k", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "1")

	_, err = runCLI(t, configDir, "collection", "drop", "docs")
	require.NoError(t, err)

	out, err = runCLI(t, configDir, "collection", "list")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestInsertAndCompact(t *testing.T) {
	configDir := newTestConfigDir(t)

	_, err := runCLI(t, configDir, "collection", "create", "docs", "--dim", "2")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = runCLI(t, configDir, "insert", "docs", "--id", fmt.Sprintf("%d", i), "--vector", "0.1,0.2")
		require.NoError(t, err)
	}

	out, err := runCLI(t, configDir, "compact", "docs")
	require.NoError(t, err)
	assert.Contains(t, out, "compacted")
}

func TestInsertRejectsDuplicateWithoutUpsert(t *testing.T) {
	configDir := newTestConfigDir(t)

	_, err := runCLI(t, configDir, "collection", "create", "docs", "--dim", "2")
	require.NoError(t, err)

	_, err = runCLI(t, configDir, "insert", "docs", "--id", "1", "--vector", "0.1,0.2")
	require.NoError(t, err)

	_, err = runCLI(t, configDir, "insert", "docs", "--id", "1", "--vector", "0.3,0.4")
	require.Error(t, err)
}

func TestTenantUsage_ReportsDocumentCounts(t *testing.T) {
	configDir := newTestConfigDir(t)

	_, err := runCLI(t, configDir, "collection", "create", "docs", "--dim", "2", "--tenant", "acme")
	require.NoError(t, err)
	_, err = runCLI(t, configDir, "insert", "docs", "--id", "1", "--vector", "0.1,0.2", "--tenant", "acme")
	require.NoError(t, err)

	out, err := runCLI(t, configDir, "tenant", "usage", "acme")
	require.NoError(t, err)
	assert.Contains(t, out, "docs")
	assert.Contains(t, out, "total")

	out, err = runCLI(t, configDir, "tenant", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "acme")
}

func TestClusterRoute_SingleNodeDefault(t *testing.T) {
	configDir := newTestConfigDir(t)
	t.Setenv("BARQ_CLUSTER_CONFIG", "")

	out, err := runCLI(t, configDir, "cluster", "route", "some-key")
	require.NoError(t, err)
	assert.Contains(t, out, "shard=0")
	assert.Contains(t, out, "primary=local")
}

func TestVersionCmd_Short(t *testing.T) {
	configDir := newTestConfigDir(t)
	out, err := runCLI(t, configDir, "version", "--short")
	require.NoError(t, err)
	assert.NotEmpty(t, out)
}

func TestConfigBackupListRestore(t *testing.T) {
	configDir := newTestConfigDir(t)
	t.Setenv("HOME", t.TempDir())

	userConfigPath := filepath.Join(os.Getenv("HOME"), ".barq", "config.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(userConfigPath), 0o755))
	require.NoError(t, os.WriteFile(userConfigPath, []byte("storage:\n  data_dir: /data/barq\n"), 0o644))

	out, err := runCLI(t, configDir, "config", "backup")
	require.NoError(t, err)
	assert.Contains(t, out, "backed up config to")

	out, err = runCLI(t, configDir, "config", "list-backups")
	require.NoError(t, err)
	backups := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, backups, 1)

	require.NoError(t, os.WriteFile(userConfigPath, []byte("storage:\n  data_dir: /data/changed\n"), 0o644))

	_, err = runCLI(t, configDir, "config", "restore", backups[0])
	require.NoError(t, err)

	restored, err := os.ReadFile(userConfigPath)
	require.NoError(t, err)
	assert.Contains(t, string(restored), "/data/barq")
}

func TestLogsCmd_TailsDebugLog(t *testing.T) {
	configDir := newTestConfigDir(t)
	t.Setenv("HOME", t.TempDir())

	_, err := runCLI(t, configDir, "--quiet", "version", "--short")
	require.NoError(t, err)

	out, err := runCLI(t, configDir, "logs", "--n", "5")
	require.NoError(t, err)
	assert.NotEmpty(t, out)
}

func TestExecute_UsageErrorReturnsExitCodeOne(t *testing.T) {
	configDir := newTestConfigDir(t)

	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"--config-dir", configDir, "collection", "drop", "nonexistent"})
	err := cmd.Execute()
	require.Error(t, err)

	var ee *engineerrors.EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, 1, engineerrors.ExitCode(ee.Category))
}
