package cluster

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	engerrors "github.com/barqdb/barq/internal/errors"
)

func testConfig() Config {
	return Config{
		NodeID: "node-0",
		Nodes: []NodeConfig{
			{ID: "node-0", Address: "n0"},
			{ID: "node-1", Address: "n1"},
			{ID: "node-2", Address: "n2"},
		},
		ShardCount:        4,
		ReplicationFactor: 2,
		ReadPreference:    ReadPrimary,
	}
}

func TestNewRouter_BuildsPlacementsRoundRobin(t *testing.T) {
	router, err := NewRouter(testConfig())
	require.NoError(t, err)
	require.Len(t, router.Placements, 4)

	shard0 := router.Placements[ShardID(0)]
	assert.Equal(t, NodeID("node-0"), shard0.Primary)
	assert.Equal(t, NodeID("node-1"), shard0.Replicas[0])

	shard1 := router.Placements[ShardID(1)]
	assert.Equal(t, NodeID("node-1"), shard1.Primary)
	assert.Equal(t, NodeID("node-2"), shard1.Replicas[0])
}

func TestNewRouter_EmptyNodes_Errors(t *testing.T) {
	cfg := testConfig()
	cfg.Nodes = nil
	_, err := NewRouter(cfg)
	require.Error(t, err)
	assert.Equal(t, engerrors.ErrCodeEmptyCluster, engerrors.GetCode(err))
}

func TestNewRouter_ZeroReplicationFactor_Errors(t *testing.T) {
	cfg := testConfig()
	cfg.ReplicationFactor = 0
	_, err := NewRouter(cfg)
	require.Error(t, err)
	assert.Equal(t, engerrors.ErrCodeInvalidReplication, engerrors.GetCode(err))
}

func TestRouter_ShardFor_IsConsistent(t *testing.T) {
	router, err := NewRouter(testConfig())
	require.NoError(t, err)

	a := router.ShardFor("tenant-a")
	b := router.ShardFor("tenant-a")
	assert.Equal(t, a, b)
}

func TestRouter_EnsurePrimary_RejectsRemoteKeys(t *testing.T) {
	router, err := NewRouter(testConfig())
	require.NoError(t, err)

	// Scan keys until we find one whose primary is not this node, then
	// confirm EnsurePrimary rejects it with NotLocal.
	for i := 0; i < 100; i++ {
		key := "probe-" + strconv.Itoa(i)
		routing := router.Route(key, ReadPrimary)
		err := router.EnsurePrimary(key)
		if routing.Primary != router.NodeID {
			require.Error(t, err)
			assert.Equal(t, engerrors.ErrCodeNotLocal, engerrors.GetCode(err))
			return
		}
		assert.NoError(t, err)
	}
}

func TestRouter_EnsureLocal_AcceptsReplicaHost(t *testing.T) {
	cfg := testConfig()
	cfg.NodeID = "node-1"
	router, err := NewRouter(cfg)
	require.NoError(t, err)

	shard0 := router.Placements[ShardID(0)]
	require.Equal(t, NodeID("node-1"), shard0.Replicas[0])

	// node-1 is shard 0's replica, not its primary: EnsurePrimary must
	// reject, EnsureLocal must accept.
	for _, key := range []string{"a", "b", "c", "d", "e"} {
		if router.ShardFor(key) == ShardID(0) {
			assert.Error(t, router.EnsurePrimary(key))
			assert.NoError(t, router.EnsureLocal(key, ""))
		}
	}
}

func TestRouter_Route_FollowersPreference_FallsBackToPrimaryWithoutReplicas(t *testing.T) {
	cfg := Config{
		NodeID:            "solo",
		Nodes:             []NodeConfig{{ID: "solo", Address: "localhost"}},
		ShardCount:        1,
		ReplicationFactor: 1,
		ReadPreference:    ReadPrimary,
	}
	router, err := NewRouter(cfg)
	require.NoError(t, err)

	routing := router.Route("any-key", ReadFollowers)
	assert.Equal(t, NodeID("solo"), routing.Target)
	assert.Equal(t, RolePrimary, routing.Role)
}

func TestSingleNode_IsTriviallyRoutable(t *testing.T) {
	router, err := NewRouter(SingleNode())
	require.NoError(t, err)

	require.NoError(t, router.EnsurePrimary("anything"))
	require.NoError(t, router.EnsureLocal("anything", ""))
}

func TestConfig_ToPathAndLoadConfig_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/cluster.json"

	cfg := testConfig()
	require.NoError(t, cfg.ToPath(path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.NodeID, loaded.NodeID)
	assert.Equal(t, cfg.ShardCount, loaded.ShardCount)
	assert.Len(t, loaded.Nodes, 3)
}

func TestAdmin_AddNodeThenRebalance(t *testing.T) {
	admin := NewAdmin(testConfig())
	admin.AddNode(NodeConfig{ID: "node-3", Address: "n3"})

	router, err := admin.Rebalance()
	require.NoError(t, err)
	assert.Len(t, admin.Config.Nodes, 4)
	assert.Len(t, router.Placements, 4)
}

func TestAdmin_RemoveNode(t *testing.T) {
	admin := NewAdmin(testConfig())
	admin.RemoveNode("node-2")

	assert.Len(t, admin.Config.Nodes, 2)
	for _, n := range admin.Config.Nodes {
		assert.NotEqual(t, NodeID("node-2"), n.ID)
	}
}

func TestAdmin_MoveShard(t *testing.T) {
	admin := NewAdmin(testConfig())

	placements, err := admin.MoveShard(ShardID(0), "node-2", []NodeID{"node-1"})
	require.NoError(t, err)

	moved := placements[ShardID(0)]
	assert.Equal(t, NodeID("node-2"), moved.Primary)
	assert.Equal(t, []NodeID{"node-1"}, moved.Replicas)
}
