// Package cluster assigns collection shards to nodes and routes keys
// to the node that owns them.
package cluster

import (
	"encoding/json"
	"os"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/barqdb/barq/internal/errors"
)

// NodeID identifies a node within the cluster.
type NodeID string

// ShardID identifies one shard of the keyspace.
type ShardID uint32

// NodeConfig describes a single cluster member.
type NodeConfig struct {
	ID      NodeID `json:"id"`
	Address string `json:"address"`
}

// ReadPreference controls which replica a read is routed to.
type ReadPreference string

const (
	ReadPrimary   ReadPreference = "primary"
	ReadFollowers ReadPreference = "followers"
	ReadAny       ReadPreference = "any"
)

// Config is the static cluster topology: membership, shard count, and
// replication factor.
type Config struct {
	NodeID            NodeID         `json:"node_id"`
	Nodes             []NodeConfig   `json:"nodes"`
	ShardCount        uint32         `json:"shard_count"`
	ReplicationFactor uint32         `json:"replication_factor"`
	ReadPreference    ReadPreference `json:"read_preference"`
}

// SingleNode returns the trivial single-node, single-shard topology
// used when no cluster config is supplied.
func SingleNode() Config {
	return Config{
		NodeID:            "local",
		Nodes:             []NodeConfig{{ID: "local", Address: "localhost"}},
		ShardCount:        1,
		ReplicationFactor: 1,
		ReadPreference:    ReadPrimary,
	}
}

// LoadConfig reads a Config from a JSON file at path.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.StorageError(errors.ErrCodeIO, "read cluster config: "+err.Error(), err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.StorageError(errors.ErrCodeSerialization, "parse cluster config: "+err.Error(), err)
	}
	return cfg, nil
}

// ConfigFromEnvOrDefault loads the cluster config named by
// BARQ_CLUSTER_CONFIG, or falls back to SingleNode if unset.
func ConfigFromEnvOrDefault() (Config, error) {
	if path := os.Getenv("BARQ_CLUSTER_CONFIG"); path != "" {
		return LoadConfig(path)
	}
	return SingleNode(), nil
}

// ToPath writes cfg to path as indented JSON.
func (c Config) ToPath(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.StorageError(errors.ErrCodeSerialization, "marshal cluster config: "+err.Error(), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.StorageError(errors.ErrCodeIO, "write cluster config: "+err.Error(), err)
	}
	return nil
}

// ShardPlacement records which node owns a shard and which nodes
// replicate it.
type ShardPlacement struct {
	Shard    ShardID  `json:"shard"`
	Primary  NodeID   `json:"primary"`
	Replicas []NodeID `json:"replicas"`
}

// ReplicaRole describes the local node's relationship to a routed key.
type ReplicaRole string

const (
	RolePrimary  ReplicaRole = "primary"
	RoleFollower ReplicaRole = "follower"
)

// ShardRouting is the outcome of routing a key: the owning shard, its
// placement, and which node a given read preference resolves to.
type ShardRouting struct {
	Shard    ShardID
	Primary  NodeID
	Replicas []NodeID
	Target   NodeID
	Role     ReplicaRole
}

// Router assigns keys to shards and shards to nodes, and answers
// whether the local node may serve a given key.
type Router struct {
	NodeID         NodeID
	Placements     map[ShardID]ShardPlacement
	ReadPreference ReadPreference
}

// NewRouter builds shard placements from cfg using round-robin
// assignment: shard i's primary is node (i mod len(nodes)), and its
// replicas are the next (replicationFactor-1) nodes in ring order.
func NewRouter(cfg Config) (*Router, error) {
	if len(cfg.Nodes) == 0 {
		return nil, errors.New(errors.ErrCodeEmptyCluster, "cluster has no nodes configured", nil)
	}
	if cfg.ReplicationFactor == 0 {
		return nil, errors.New(errors.ErrCodeInvalidReplication, "replication factor must be at least 1", nil)
	}

	shardCount := cfg.ShardCount
	if shardCount == 0 {
		shardCount = 1
	}
	nodeCount := uint32(len(cfg.Nodes))
	replication := cfg.ReplicationFactor
	if replication > nodeCount {
		replication = nodeCount
	}

	placements := make(map[ShardID]ShardPlacement, shardCount)
	for shardIdx := uint32(0); shardIdx < shardCount; shardIdx++ {
		primaryIdx := shardIdx % nodeCount
		replicas := make([]NodeID, 0, replication-1)
		for offset := uint32(1); offset < replication; offset++ {
			idx := (shardIdx + offset) % nodeCount
			replicas = append(replicas, cfg.Nodes[idx].ID)
		}
		placements[ShardID(shardIdx)] = ShardPlacement{
			Shard:    ShardID(shardIdx),
			Primary:  cfg.Nodes[primaryIdx].ID,
			Replicas: replicas,
		}
	}

	readPreference := cfg.ReadPreference
	if readPreference == "" {
		readPreference = ReadPrimary
	}

	return &Router{
		NodeID:         cfg.NodeID,
		Placements:     placements,
		ReadPreference: readPreference,
	}, nil
}

// ShardFor hashes key to its owning shard with xxhash, giving a
// stable, evenly distributed assignment without coordination.
func (r *Router) ShardFor(key string) ShardID {
	h := xxhash.Sum64String(key)
	return ShardID(h % uint64(len(r.Placements)))
}

// Route resolves key to its shard placement and the node a read
// should target under preference (falling back to the router's
// configured default when preference is empty).
func (r *Router) Route(key string, preference ReadPreference) ShardRouting {
	shard := r.ShardFor(key)
	placement := r.Placements[shard]

	if preference == "" {
		preference = r.ReadPreference
	}

	var target NodeID
	switch preference {
	case ReadFollowers, ReadAny:
		if len(placement.Replicas) > 0 {
			target = placement.Replicas[0]
		} else {
			target = placement.Primary
		}
	default:
		target = placement.Primary
	}

	role := RoleFollower
	if target == placement.Primary {
		role = RolePrimary
	}

	return ShardRouting{
		Shard:    placement.Shard,
		Primary:  placement.Primary,
		Replicas: placement.Replicas,
		Target:   target,
		Role:     role,
	}
}

// EnsurePrimary returns nil if the local node is the primary for key,
// or a NotLocal error naming the actual primary otherwise.
func (r *Router) EnsurePrimary(key string) error {
	routing := r.Route(key, ReadPrimary)
	if routing.Target == r.NodeID {
		return nil
	}
	return notLocalError(routing.Shard, r.NodeID, routing.Target)
}

// EnsureLocal returns nil if the local node hosts key as either
// primary or replica, or a NotLocal error otherwise.
func (r *Router) EnsureLocal(key string, preference ReadPreference) error {
	routing := r.Route(key, preference)
	if routing.Primary == r.NodeID {
		return nil
	}
	for _, replica := range routing.Replicas {
		if replica == r.NodeID {
			return nil
		}
	}
	return notLocalError(routing.Shard, r.NodeID, routing.Target)
}

func notLocalError(shard ShardID, node, target NodeID) error {
	return errors.New(errors.ErrCodeNotLocal, "shard is not hosted on this node", nil).
		WithDetail("shard", strconv.FormatUint(uint64(shard), 10)).
		WithDetail("node", string(node)).
		WithDetail("target", string(target))
}
