// Package catalog implements the two-level tenant -> collection-name
// -> Collection map every tenant's collections live in, with
// copy-on-write snapshot semantics so readers never block writers.
package catalog

import (
	"sync/atomic"

	"github.com/barqdb/barq/internal/errors"
	"github.com/barqdb/barq/pkg/collection"
	"github.com/barqdb/barq/pkg/document"
)

// ErrCollectionExists is returned by CreateCollection when (tenant,
// name) is already taken.
var ErrCollectionExists = errors.Conflict(errors.ErrCodeCollectionExists, "catalog: collection already exists", nil)

// ErrCollectionMissing is returned by DropCollection/Collection when
// (tenant, name) is not present.
var ErrCollectionMissing = errors.NotFound(errors.ErrCodeCollectionMissing, "catalog: collection not found", nil)

type key struct {
	tenant string
	name   string
}

// snapshot is the immutable map value swapped atomically on every
// mutation — spec.md §5's "Catalog: copy-on-write map; readers never
// block writers", grounded on original_source's Catalog, generalized
// here from a single flat map to the spec's two-level tenant
// namespacing.
type snapshot map[key]*collection.Collection

// Catalog holds an atomically-swapped immutable snapshot of every
// tenant's collections.
type Catalog struct {
	state atomic.Pointer[snapshot]
}

// New constructs an empty catalog.
func New() *Catalog {
	c := &Catalog{}
	empty := make(snapshot)
	c.state.Store(&empty)
	return c
}

// CreateCollection constructs a new Collection from schema and
// publishes it under (schema.TenantID, schema.Name).
func (c *Catalog) CreateCollection(schema document.CollectionSchema) (*collection.Collection, error) {
	tenant := schema.TenantID
	if tenant == "" {
		tenant = document.DefaultTenantID
	}
	k := key{tenant: tenant, name: schema.Name}

	curPtr := c.state.Load()
	cur := *curPtr
	if _, exists := cur[k]; exists {
		return nil, ErrCollectionExists
	}

	coll, err := collection.New(schema)
	if err != nil {
		return nil, err
	}

	next := make(snapshot, len(cur)+1)
	for k2, v := range cur {
		next[k2] = v
	}
	next[k] = coll

	if !c.state.CompareAndSwap(curPtr, &next) {
		// A concurrent mutation raced us; retry against the fresh
		// snapshot. The retry repeats until a swap succeeds, which stays
		// cheap since collection creation is a low-frequency admin
		// operation.
		return c.CreateCollection(schema)
	}
	return coll, nil
}

// DropCollection removes (tenant, name) from the catalog.
func (c *Catalog) DropCollection(tenant, name string) error {
	if tenant == "" {
		tenant = document.DefaultTenantID
	}
	k := key{tenant: tenant, name: name}

	curPtr := c.state.Load()
	cur := *curPtr
	if _, exists := cur[k]; !exists {
		return ErrCollectionMissing
	}

	next := make(snapshot, len(cur))
	for k2, v := range cur {
		if k2 != k {
			next[k2] = v
		}
	}

	if !c.state.CompareAndSwap(curPtr, &next) {
		return c.DropCollection(tenant, name)
	}
	return nil
}

// Collection returns the live Collection for (tenant, name).
func (c *Catalog) Collection(tenant, name string) (*collection.Collection, error) {
	if tenant == "" {
		tenant = document.DefaultTenantID
	}
	cur := *c.state.Load()
	coll, ok := cur[key{tenant: tenant, name: name}]
	if !ok {
		return nil, ErrCollectionMissing
	}
	return coll, nil
}

// CollectionNames returns every collection name registered for tenant.
func (c *Catalog) CollectionNames(tenant string) []string {
	if tenant == "" {
		tenant = document.DefaultTenantID
	}
	cur := *c.state.Load()
	var names []string
	for k := range cur {
		if k.tenant == tenant {
			names = append(names, k.name)
		}
	}
	return names
}

// Tenants returns every distinct tenant id currently registered.
func (c *Catalog) Tenants() []string {
	cur := *c.state.Load()
	seen := make(map[string]struct{})
	var tenants []string
	for k := range cur {
		if _, ok := seen[k.tenant]; !ok {
			seen[k.tenant] = struct{}{}
			tenants = append(tenants, k.tenant)
		}
	}
	return tenants
}
