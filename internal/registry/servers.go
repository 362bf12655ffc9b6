package registry

import (
	"github.com/google/uuid"

	"github.com/dreamware/shardmesh/internal/cluster"
	"github.com/dreamware/shardmesh/internal/errors"
)

func (r *Registry) Server(id int) (cluster.Server, error) {
	return get[cluster.Server](r, bucketServers, idKey(id), "server")
}

func (r *Registry) ServerByUUID(id uuid.UUID) (cluster.Server, error) {
	servers, err := list(r, bucketServers, func(s cluster.Server) bool { return s.UUID == id })
	if err != nil {
		return cluster.Server{}, err
	}
	if len(servers) == 0 {
		return cluster.Server{}, errors.Newf(errors.ErrNotFound, "server %s not found", id)
	}
	return servers[0], nil
}

func (r *Registry) Servers() ([]cluster.Server, error) {
	return list[cluster.Server](r, bucketServers, nil)
}

// ServersOnShard returns the servers whose home shard is shardID.
func (r *Registry) ServersOnShard(shardID int) ([]cluster.Server, error) {
	return list(r, bucketServers, func(s cluster.Server) bool { return s.ShardID == shardID })
}

// HomeShard returns the durable home shard of a server.
func (r *Registry) HomeShard(serverID int) (cluster.Shard, error) {
	s, err := r.Server(serverID)
	if err != nil {
		return cluster.Shard{}, err
	}
	return r.Shard(s.ShardID)
}

// PutServer stores a server. A server without id gets the next free one and
// a server without UUID a random one; the stored value is returned.
func (r *Registry) PutServer(s cluster.Server) (cluster.Server, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.ID == 0 {
		servers, err := list[cluster.Server](r, bucketServers, nil)
		if err != nil {
			return s, err
		}
		for _, o := range servers {
			if o.ID >= s.ID {
				s.ID = o.ID
			}
		}
		s.ID++
	}
	if s.UUID == uuid.Nil {
		s.UUID = uuid.New()
	}
	return s, put(r, bucketServers, idKey(s.ID), s)
}

// DeleteServer removes a server and releases its allocations.
func (r *Registry) DeleteServer(id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	allocs, err := list(r, bucketAllocations, func(a cluster.ShardAllocation) bool { return a.ServerID == id })
	if err != nil {
		return err
	}
	for _, a := range allocs {
		a.ServerID = 0
		if err := put(r, bucketAllocations, idKey(a.ID), a); err != nil {
			return err
		}
	}
	return errors.Wrap(r.backend.Delete(bucketServers, idKey(id)), "deleting server")
}

// Allocations

func (r *Registry) Allocation(id int) (cluster.ShardAllocation, error) {
	return get[cluster.ShardAllocation](r, bucketAllocations, idKey(id), "allocation")
}

// Allocations returns the allocations bound to a server.
func (r *Registry) Allocations(serverID int) ([]cluster.ShardAllocation, error) {
	return list(r, bucketAllocations, func(a cluster.ShardAllocation) bool { return a.ServerID == serverID })
}

func (r *Registry) PutAllocation(a cluster.ShardAllocation) error {
	if a.ID <= 0 {
		return errors.New(errors.ErrUncoded, "allocation id must be positive")
	}
	return put(r, bucketAllocations, idKey(a.ID), a)
}

// ClaimAllocations binds n free allocations of a shard to a server,
// atomically with respect to other claims.
func (r *Registry) ClaimAllocations(shardID, n, serverID int) ([]cluster.ShardAllocation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	free, err := list(r, bucketAllocations, func(a cluster.ShardAllocation) bool {
		return a.ShardID == shardID && a.ServerID == 0
	})
	if err != nil {
		return nil, err
	}
	if len(free) == 0 {
		return nil, errors.New(errors.ErrNoAllocation, "No allocation found")
	}
	if len(free) < n {
		return nil, errors.New(errors.ErrNoAllocation, "Not enough allocations found")
	}

	claimed := free[:n]
	for i := range claimed {
		claimed[i].ServerID = serverID
		if err := put(r, bucketAllocations, idKey(claimed[i].ID), claimed[i]); err != nil {
			return nil, err
		}
	}
	return claimed, nil
}
