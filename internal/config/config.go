// Package config loads and validates the engine's configuration,
// layering hardcoded defaults, a project config file, and environment
// variable overrides, in order of increasing precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// StorageConfig configures the on-disk engine root and flush behavior.
type StorageConfig struct {
	DataDir            string `yaml:"data_dir" json:"data_dir"`
	FlushThresholdBytes int64  `yaml:"flush_threshold_bytes" json:"flush_threshold_bytes"`
}

// HybridConfig configures the default hybrid-search fusion parameters.
type HybridConfig struct {
	VectorWeight   float64 `yaml:"vector_weight" json:"vector_weight"`
	BM25Weight     float64 `yaml:"bm25_weight" json:"bm25_weight"`
	OverFetchAlpha int     `yaml:"over_fetch_alpha" json:"over_fetch_alpha"`
}

// FilterConfig configures the selectivity-based pre/post-filter chooser.
type FilterConfig struct {
	AutoThreshold float64 `yaml:"auto_threshold" json:"auto_threshold"`
}

// TierBudget holds a per-tier byte limit read from the config file.
// The tiering package does not read it: its enforcement pass demotes
// objects by age only, not by the bytes a tier holds.
type TierBudget struct {
	MaxBytes int64 `yaml:"max_bytes" json:"max_bytes"`
}

// TieringConfig configures the Hot/Warm/Cold object tiering policy.
type TieringConfig struct {
	Enabled bool       `yaml:"enabled" json:"enabled"`
	Hot     TierBudget `yaml:"hot" json:"hot"`
	Warm    TierBudget `yaml:"warm" json:"warm"`
}

// ClusterNode is one member of the cluster config file's node list.
type ClusterNode struct {
	ID      string `yaml:"id" json:"id"`
	Address string `yaml:"address" json:"address"`
}

// ClusterConfig mirrors the JSON cluster config file spec.md §6 names:
// `{node_id, nodes, shard_count, replication_factor, read_preference}`.
type ClusterConfig struct {
	NodeID             string        `yaml:"node_id" json:"node_id"`
	Nodes              []ClusterNode `yaml:"nodes" json:"nodes"`
	ShardCount         int           `yaml:"shard_count" json:"shard_count"`
	ReplicationFactor  int           `yaml:"replication_factor" json:"replication_factor"`
	ReadPreference     string        `yaml:"read_preference" json:"read_preference"`
}

// QuotaConfig mirrors storage.Quota for the config layer.
type QuotaConfig struct {
	MaxCollections int   `yaml:"max_collections" json:"max_collections"`
	MaxDiskBytes   int64 `yaml:"max_disk_bytes" json:"max_disk_bytes"`
	MaxMemoryBytes int64 `yaml:"max_memory_bytes" json:"max_memory_bytes"`
	MaxQPS         int   `yaml:"max_qps" json:"max_qps"`
}

// ServerConfig configures ambient logging/runtime behavior.
type ServerConfig struct {
	LogLevel  string `yaml:"log_level" json:"log_level"`
	LogFormat string `yaml:"log_format" json:"log_format"` // "json" or "text"
	Workers   int    `yaml:"workers" json:"workers"`
}

// Config is the engine's complete configuration.
type Config struct {
	Version int                    `yaml:"version" json:"version"`
	Storage StorageConfig          `yaml:"storage" json:"storage"`
	Hybrid  HybridConfig           `yaml:"hybrid" json:"hybrid"`
	Filter  FilterConfig           `yaml:"filter" json:"filter"`
	Tiering TieringConfig          `yaml:"tiering" json:"tiering"`
	Cluster ClusterConfig          `yaml:"cluster" json:"cluster"`
	Quotas  map[string]QuotaConfig `yaml:"quotas" json:"quotas"` // keyed by tenant id; "default" applies to unlisted tenants
	Server  ServerConfig           `yaml:"server" json:"server"`
}

// NewConfig returns a Config populated with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Storage: StorageConfig{
			DataDir:             defaultDataDir(),
			FlushThresholdBytes: 16 << 20,
		},
		Hybrid: HybridConfig{
			VectorWeight:   0.5,
			BM25Weight:     0.5,
			OverFetchAlpha: 3,
		},
		Filter: FilterConfig{
			AutoThreshold: 0.1,
		},
		Tiering: TieringConfig{
			Enabled: true,
			Hot:     TierBudget{MaxBytes: 1 << 30},
			Warm:    TierBudget{MaxBytes: 16 << 30},
		},
		Cluster: ClusterConfig{
			ShardCount:        1,
			ReplicationFactor: 1,
			ReadPreference:    "primary",
		},
		Quotas: map[string]QuotaConfig{
			"default": {MaxCollections: 100, MaxDiskBytes: 0, MaxMemoryBytes: 0, MaxQPS: 0},
		},
		Server: ServerConfig{
			LogLevel:  "info",
			LogFormat: "json",
			Workers:   runtime.NumCPU(),
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "barq", "data")
	}
	return filepath.Join(home, ".barq", "data")
}

// Load loads configuration from dir in order of increasing precedence:
//  1. hardcoded defaults
//  2. barq.yaml / barq.yml in dir
//  3. BARQ_* environment variable overrides
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFromFile(dir string) error {
	for _, name := range []string{"barq.yaml", "barq.yml"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return c.loadYAML(path)
		}
	}
	return nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}
	if other.Storage.DataDir != "" {
		c.Storage.DataDir = other.Storage.DataDir
	}
	if other.Storage.FlushThresholdBytes != 0 {
		c.Storage.FlushThresholdBytes = other.Storage.FlushThresholdBytes
	}
	if other.Hybrid.VectorWeight != 0 {
		c.Hybrid.VectorWeight = other.Hybrid.VectorWeight
	}
	if other.Hybrid.BM25Weight != 0 {
		c.Hybrid.BM25Weight = other.Hybrid.BM25Weight
	}
	if other.Hybrid.OverFetchAlpha != 0 {
		c.Hybrid.OverFetchAlpha = other.Hybrid.OverFetchAlpha
	}
	if other.Filter.AutoThreshold != 0 {
		c.Filter.AutoThreshold = other.Filter.AutoThreshold
	}
	if other.Tiering.Hot.MaxBytes != 0 {
		c.Tiering.Hot.MaxBytes = other.Tiering.Hot.MaxBytes
	}
	if other.Tiering.Warm.MaxBytes != 0 {
		c.Tiering.Warm.MaxBytes = other.Tiering.Warm.MaxBytes
	}
	if other.Cluster.NodeID != "" {
		c.Cluster.NodeID = other.Cluster.NodeID
	}
	if len(other.Cluster.Nodes) > 0 {
		c.Cluster.Nodes = other.Cluster.Nodes
	}
	if other.Cluster.ShardCount != 0 {
		c.Cluster.ShardCount = other.Cluster.ShardCount
	}
	if other.Cluster.ReplicationFactor != 0 {
		c.Cluster.ReplicationFactor = other.Cluster.ReplicationFactor
	}
	if other.Cluster.ReadPreference != "" {
		c.Cluster.ReadPreference = other.Cluster.ReadPreference
	}
	for tenant, q := range other.Quotas {
		if c.Quotas == nil {
			c.Quotas = make(map[string]QuotaConfig)
		}
		c.Quotas[tenant] = q
	}
	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}
	if other.Server.LogFormat != "" {
		c.Server.LogFormat = other.Server.LogFormat
	}
	if other.Server.Workers != 0 {
		c.Server.Workers = other.Server.Workers
	}
}

// applyEnvOverrides applies BARQ_* environment variable overrides,
// the highest-precedence layer.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("BARQ_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv("BARQ_FLUSH_THRESHOLD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			c.Storage.FlushThresholdBytes = n
		}
	}
	if v := os.Getenv("BARQ_VECTOR_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Hybrid.VectorWeight = f
		}
	}
	if v := os.Getenv("BARQ_BM25_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Hybrid.BM25Weight = f
		}
	}
	if v := os.Getenv("BARQ_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("BARQ_LOG_FORMAT"); v != "" {
		c.Server.LogFormat = strings.ToLower(v)
	}
	if v := os.Getenv("BARQ_NODE_ID"); v != "" {
		c.Cluster.NodeID = v
	}
}

// Validate checks the configuration for internally-inconsistent values.
func (c *Config) Validate() error {
	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir must be set")
	}
	if c.Storage.FlushThresholdBytes <= 0 {
		return fmt.Errorf("storage.flush_threshold_bytes must be positive, got %d", c.Storage.FlushThresholdBytes)
	}
	if c.Hybrid.VectorWeight < 0 || c.Hybrid.BM25Weight < 0 {
		return fmt.Errorf("hybrid weights must be non-negative")
	}
	if c.Filter.AutoThreshold <= 0 || c.Filter.AutoThreshold > 1 {
		return fmt.Errorf("filter.auto_threshold must be in (0, 1], got %f", c.Filter.AutoThreshold)
	}
	if c.Cluster.ShardCount <= 0 {
		return fmt.Errorf("cluster.shard_count must be positive, got %d", c.Cluster.ShardCount)
	}
	if c.Cluster.ReplicationFactor <= 0 {
		return fmt.Errorf("cluster.replication_factor must be positive, got %d", c.Cluster.ReplicationFactor)
	}
	validReadPref := map[string]bool{"primary": true, "followers": true, "any": true}
	if !validReadPref[c.Cluster.ReadPreference] {
		return fmt.Errorf("cluster.read_preference must be 'primary', 'followers', or 'any', got %s", c.Cluster.ReadPreference)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}
	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// QuotaFor returns the quota configured for tenant, falling back to
// the "default" entry if tenant has none of its own.
func (c *Config) QuotaFor(tenant string) QuotaConfig {
	if q, ok := c.Quotas[tenant]; ok {
		return q
	}
	return c.Quotas["default"]
}

// GetUserConfigDir returns the directory holding the user-level config
// file, ~/.barq.
func GetUserConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "barq")
	}
	return filepath.Join(home, ".barq")
}

// GetUserConfigPath returns the path to the user-level config file.
func GetUserConfigPath() string {
	return filepath.Join(GetUserConfigDir(), "config.yaml")
}

// UserConfigExists reports whether a user-level config file is present.
func UserConfigExists() bool {
	_, err := os.Stat(GetUserConfigPath())
	return err == nil
}
