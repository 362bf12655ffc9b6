// Package placement chooses the target shard of a relocation when the
// operator names none.
package placement

import (
	"github.com/dreamware/shardmesh/internal/cluster"
	"github.com/dreamware/shardmesh/internal/errors"
	"github.com/dreamware/shardmesh/internal/remote"
)

// Policy picks a shard among candidates, which are the shards of the
// server's space ordered by id.
type Policy interface {
	Pick(server cluster.Server, candidates []cluster.Shard) (cluster.Shard, error)
}

func noShard() error {
	return errors.New(errors.ErrNoShardAvailable, "No shard available")
}

// First picks the first candidate.
type First struct{}

func (First) Pick(_ cluster.Server, candidates []cluster.Shard) (cluster.Shard, error) {
	if len(candidates) == 0 {
		return cluster.Shard{}, noShard()
	}
	return candidates[0], nil
}

// StatusSource reports the last known liveness of a shard.
type StatusSource interface {
	ShardStatus(shardID int) remote.Status
}

// Healthy picks the first candidate reported Up. When PreferAway is set a
// healthy shard other than the server's home wins over the home shard.
type Healthy struct {
	Source     StatusSource
	PreferAway bool
}

func (h Healthy) Pick(server cluster.Server, candidates []cluster.Shard) (cluster.Shard, error) {
	var home *cluster.Shard
	for i, c := range candidates {
		if h.Source.ShardStatus(c.ID) != remote.StatusUp {
			continue
		}
		if h.PreferAway && c.ID == server.ShardID {
			home = &candidates[i]
			continue
		}
		return c, nil
	}
	if home != nil {
		return *home, nil
	}
	return cluster.Shard{}, noShard()
}

// ByName returns the policy registered under name.
func ByName(name string, source StatusSource) (Policy, error) {
	switch name {
	case "", "first":
		return First{}, nil
	case "healthy":
		return Healthy{Source: source}, nil
	case "healthy-away":
		return Healthy{Source: source, PreferAway: true}, nil
	}
	return nil, errors.Errorf("unknown placement policy %q", name)
}
