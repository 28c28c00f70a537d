package cluster

// Admin mutates a cluster's membership and shard placements, then
// hands back an immutable Router snapshot reflecting the change. The
// caller is responsible for persisting Admin.Config and distributing
// the new snapshot to every node.
type Admin struct {
	Config Config
}

// NewAdmin wraps cfg for administrative mutation.
func NewAdmin(cfg Config) *Admin {
	return &Admin{Config: cfg}
}

// AddNode appends node to the membership. Call Rebalance afterward to
// obtain updated placements.
func (a *Admin) AddNode(node NodeConfig) {
	for _, existing := range a.Config.Nodes {
		if existing.ID == node.ID {
			return
		}
	}
	a.Config.Nodes = append(a.Config.Nodes, node)
}

// RemoveNode drops the node with the given id from the membership.
func (a *Admin) RemoveNode(id NodeID) {
	kept := a.Config.Nodes[:0:0]
	for _, n := range a.Config.Nodes {
		if n.ID != id {
			kept = append(kept, n)
		}
	}
	a.Config.Nodes = kept
}

// Rebalance recomputes shard placements from the current membership,
// returning a fresh immutable Router snapshot.
func (a *Admin) Rebalance() (*Router, error) {
	return NewRouter(a.Config)
}

// MoveShard overrides a single shard's primary and replica set in a
// placement map freshly computed from Config, and returns that map.
// The override is not stored anywhere: Config has no placements
// field, so Config.ToPath does not write it and later NewRouter or
// Rebalance calls return the computed placement again.
func (a *Admin) MoveShard(shard ShardID, primary NodeID, replicas []NodeID) (map[ShardID]ShardPlacement, error) {
	router, err := NewRouter(a.Config)
	if err != nil {
		return nil, err
	}
	router.Placements[shard] = ShardPlacement{
		Shard:    shard,
		Primary:  primary,
		Replicas: replicas,
	}
	return router.Placements, nil
}
