package registry

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dreamware/shardmesh/internal/cluster"
	"github.com/dreamware/shardmesh/internal/errors"
)

// Seed is the YAML document loaded with --seed. It describes the catalog the
// registry starts with:
//
//	shards:
//	  - {id: 1, name: node1, fqdn: node1.example.com, token_id: abc, token: s3cret}
//	proxies:
//	  - {id: 1, name: proxy-eu, fqdn: proxy.example.com, key: k3y}
//	spaces:
//	  - {id: 1, name: eu-1, proxy_id: 1, shard_ids: [1, 2]}
//	allocations:
//	  - {id: 1, shard_id: 1, ip: 0.0.0.0, port: 25565, server_id: 1}
type Seed struct {
	Shards      []cluster.Shard           `yaml:"shards"`
	Proxies     []cluster.ShardProxy      `yaml:"proxies"`
	Spaces      []cluster.ShardSpace      `yaml:"spaces"`
	Images      []cluster.Image           `yaml:"images"`
	Servers     []cluster.Server          `yaml:"servers"`
	Allocations []cluster.ShardAllocation `yaml:"allocations"`
}

// LoadSeed reads a seed file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading seed file %s", path)
	}
	seed := &Seed{}
	if err := yaml.Unmarshal(data, seed); err != nil {
		return nil, errors.Wrapf(err, "parsing seed file %s", path)
	}
	return seed, nil
}

// Apply writes every record of the seed, overwriting records with the same
// id.
func (r *Registry) Apply(seed *Seed) error {
	for _, s := range seed.Shards {
		if err := r.PutShard(s); err != nil {
			return errors.Wrapf(err, "seeding shard %d", s.ID)
		}
	}
	for _, p := range seed.Proxies {
		if err := r.PutProxy(p); err != nil {
			return errors.Wrapf(err, "seeding proxy %d", p.ID)
		}
	}
	for _, s := range seed.Spaces {
		if err := r.PutSpace(s); err != nil {
			return errors.Wrapf(err, "seeding shard space %d", s.ID)
		}
	}
	for _, i := range seed.Images {
		if err := r.PutImage(i); err != nil {
			return errors.Wrapf(err, "seeding image %d", i.ID)
		}
	}
	for _, s := range seed.Servers {
		if _, err := r.PutServer(s); err != nil {
			return errors.Wrapf(err, "seeding server %d", s.ID)
		}
	}
	for _, a := range seed.Allocations {
		if err := r.PutAllocation(a); err != nil {
			return errors.Wrapf(err, "seeding allocation %d", a.ID)
		}
	}
	return nil
}
