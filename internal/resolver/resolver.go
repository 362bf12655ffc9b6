// Package resolver answers which shard services a server right now.
//
// Every server has a durable home shard stored in the registry. While a
// server executes away from home, the override table maps its id to the
// shard it runs on:
//
//	┌──────────────┐   override?   ┌──────────────┐
//	│ CurrentShard │ ────yes─────▶ │ target shard │
//	└──────┬───────┘               └──────────────┘
//	       │ no
//	       ▼
//	┌──────────────┐
//	│  home shard  │ (registry, durable)
//	└──────────────┘
//
// Operational traffic (power, sync, console) follows CurrentShard, while
// data-ownership traffic (backups) always goes to HomeShard.
package resolver

import (
	"sort"

	"github.com/dreamware/shardmesh/internal/cluster"
	"github.com/dreamware/shardmesh/internal/errors"
	"github.com/dreamware/shardmesh/internal/registry"
	"github.com/dreamware/shardmesh/internal/storage"
)

// Resolver combines the registry with the transient override table.
//
// Concurrency Model:
//   - The override table guards itself; the resolver holds no lock
//   - Overrides are written only by the migration orchestrator
//   - Overrides are not durable and vanish on restart, which sends every
//     server back to its home shard
type Resolver struct {
	registry  *registry.Registry
	overrides storage.Table[int, cluster.Shard]
}

// New returns a resolver over reg. A nil table selects an in-memory one.
func New(reg *registry.Registry, overrides storage.Table[int, cluster.Shard]) *Resolver {
	if overrides == nil {
		overrides = storage.NewMemoryTable[int, cluster.Shard]()
	}
	return &Resolver{registry: reg, overrides: overrides}
}

// Registry exposes the underlying registry.
func (r *Resolver) Registry() *registry.Registry {
	return r.registry
}

// CurrentShard returns the override for the server if present, else its
// home shard. Unknown servers yield a NotFound error.
func (r *Resolver) CurrentShard(serverID int) (cluster.Shard, error) {
	if shard, ok := r.overrides.Get(serverID); ok {
		return shard, nil
	}
	return r.HomeShard(serverID)
}

// HomeShard returns the durable home shard, ignoring overrides.
func (r *Resolver) HomeShard(serverID int) (cluster.Shard, error) {
	return r.registry.HomeShard(serverID)
}

// Proxy returns the space containing the server's home shard and the proxy
// fronting it.
//
// Errors:
//   - NotFound: unknown server, or its home shard is in no space
//   - NoProxyConfigured: the space has no proxy assigned
func (r *Resolver) Proxy(serverID int) (cluster.ShardSpace, cluster.ShardProxy, error) {
	home, err := r.HomeShard(serverID)
	if err != nil {
		return cluster.ShardSpace{}, cluster.ShardProxy{}, err
	}
	space, err := r.registry.SpaceOfShard(home.ID)
	if err != nil {
		return cluster.ShardSpace{}, cluster.ShardProxy{}, err
	}
	if space.ProxyID == 0 {
		return space, cluster.ShardProxy{}, errors.New(errors.ErrNoProxyConfigured, "No shard proxy has been configured")
	}
	proxy, err := r.registry.Proxy(space.ProxyID)
	if errors.Is(err, errors.ErrNotFound) {
		return space, cluster.ShardProxy{}, errors.WrapCode(err, errors.ErrNoProxyConfigured, "No shard proxy has been configured")
	}
	return space, proxy, err
}

// SpaceShards returns the shards of the space containing the server's home
// shard, ordered by id.
func (r *Resolver) SpaceShards(serverID int) ([]cluster.Shard, error) {
	home, err := r.HomeShard(serverID)
	if err != nil {
		return nil, err
	}
	space, err := r.registry.SpaceOfShard(home.ID)
	if err != nil {
		return nil, err
	}
	shards := make([]cluster.Shard, 0, len(space.ShardIDs))
	for _, id := range space.ShardIDs {
		s, err := r.registry.Shard(id)
		if err != nil {
			return nil, err
		}
		shards = append(shards, s)
	}
	sort.Slice(shards, func(i, j int) bool { return shards[i].ID < shards[j].ID })
	return shards, nil
}

// SetOverride routes the server to shard until cleared.
func (r *Resolver) SetOverride(serverID int, shard cluster.Shard) {
	r.overrides.Put(serverID, shard)
}

// ClearOverride removes any override and reports whether one existed.
func (r *Resolver) ClearOverride(serverID int) bool {
	return r.overrides.Delete(serverID)
}

// Override returns the override for the server, if any.
func (r *Resolver) Override(serverID int) (cluster.Shard, bool) {
	return r.overrides.Get(serverID)
}

// Overrides returns a copy of the override table.
func (r *Resolver) Overrides() map[int]cluster.Shard {
	out := make(map[int]cluster.Shard)
	for _, id := range r.overrides.Keys() {
		if s, ok := r.overrides.Get(id); ok {
			out[id] = s
		}
	}
	return out
}
