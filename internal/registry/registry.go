// Package registry is the durable catalog of shards, shard spaces, proxies,
// allocations, images, servers and backups. Records are stored as JSON in a
// storage.Backend (in memory or bbolt).
package registry

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/dreamware/shardmesh/internal/cluster"
	"github.com/dreamware/shardmesh/internal/errors"
	"github.com/dreamware/shardmesh/internal/storage"
)

const (
	bucketShards      = "shards"
	bucketSpaces      = "spaces"
	bucketProxies     = "proxies"
	bucketAllocations = "allocations"
	bucketImages      = "images"
	bucketServers     = "servers"
	bucketBackups     = "backups"
)

// Buckets lists every bucket the registry writes to.
func Buckets() []string {
	return []string{
		bucketShards, bucketSpaces, bucketProxies, bucketAllocations,
		bucketImages, bucketServers, bucketBackups,
	}
}

// Registry answers lookups by id, by token id and by relation. It is safe
// for concurrent use; read-modify-write sequences (allocation claims) are
// serialized by mu.
type Registry struct {
	backend storage.Backend
	mu      sync.Mutex
}

// New returns a Registry over the given backend.
func New(backend storage.Backend) *Registry {
	return &Registry{backend: backend}
}

// NewMemory returns a Registry over an empty in-memory backend.
func NewMemory() *Registry {
	return New(storage.NewMemoryBackend())
}

// Close closes the backend.
func (r *Registry) Close() error {
	return r.backend.Close()
}

func idKey(id int) string {
	return fmt.Sprintf("%010d", id)
}

func get[T any](r *Registry, bucket, key, what string) (T, error) {
	var out T
	data, err := r.backend.Get(bucket, key)
	if err == storage.ErrKeyNotFound {
		return out, errors.Newf(errors.ErrNotFound, "%s %s not found", what, key)
	} else if err != nil {
		return out, errors.Wrapf(err, "reading %s %s", what, key)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, errors.Wrapf(err, "decoding %s %s", what, key)
	}
	return out, nil
}

func list[T any](r *Registry, bucket string, keep func(T) bool) ([]T, error) {
	var out []T
	err := r.backend.ForEach(bucket, func(key string, value []byte) error {
		var v T
		if err := json.Unmarshal(value, &v); err != nil {
			return errors.Wrapf(err, "decoding %s %s", bucket, key)
		}
		if keep == nil || keep(v) {
			out = append(out, v)
		}
		return nil
	})
	return out, err
}

func put(r *Registry, bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encoding %s %s", bucket, key)
	}
	return errors.Wrapf(r.backend.Put(bucket, key, data), "writing %s %s", bucket, key)
}

// Shards

func (r *Registry) Shard(id int) (cluster.Shard, error) {
	s, err := get[shardRecord](r, bucketShards, idKey(id), "shard")
	return cluster.Shard(s), err
}

// ShardByTokenID finds the shard authenticating with the given token id.
func (r *Registry) ShardByTokenID(tokenID string) (cluster.Shard, error) {
	shards, err := r.Shards()
	if err != nil {
		return cluster.Shard{}, err
	}
	for _, s := range shards {
		if s.TokenID != "" && s.TokenID == tokenID {
			return s, nil
		}
	}
	return cluster.Shard{}, errors.Newf(errors.ErrNotFound, "no shard with token id %q", tokenID)
}

// Shards returns every registered shard ordered by id.
func (r *Registry) Shards() ([]cluster.Shard, error) {
	recs, err := list[shardRecord](r, bucketShards, nil)
	if err != nil {
		return nil, err
	}
	shards := make([]cluster.Shard, 0, len(recs))
	for _, rec := range recs {
		shards = append(shards, cluster.Shard(rec))
	}
	return shards, nil
}

func (r *Registry) PutShard(s cluster.Shard) error {
	if s.ID <= 0 {
		return errors.New(errors.ErrUncoded, "shard id must be positive")
	}
	return put(r, bucketShards, idKey(s.ID), shardRecord(s.WithDefaults()))
}

// shardRecord persists the token, which cluster.Shard hides from JSON.
type shardRecord struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	Fqdn      string `json:"fqdn"`
	TokenID   string `json:"token_id"`
	Token     string `json:"token"`
	HTTPPort  int    `json:"http_port"`
	SFTPPort  int    `json:"sftp_port"`
	ShardPort int    `json:"shard_port"`
	SSL       bool   `json:"ssl"`
}

// Spaces

func (r *Registry) Space(id int) (cluster.ShardSpace, error) {
	return get[cluster.ShardSpace](r, bucketSpaces, idKey(id), "shard space")
}

func (r *Registry) Spaces() ([]cluster.ShardSpace, error) {
	return list[cluster.ShardSpace](r, bucketSpaces, nil)
}

// SpaceOfShard returns the space the shard belongs to.
func (r *Registry) SpaceOfShard(shardID int) (cluster.ShardSpace, error) {
	spaces, err := list(r, bucketSpaces, func(s cluster.ShardSpace) bool { return s.HasShard(shardID) })
	if err != nil {
		return cluster.ShardSpace{}, err
	}
	if len(spaces) == 0 {
		return cluster.ShardSpace{}, errors.Newf(errors.ErrNotFound, "shard %d is not part of a shard space", shardID)
	}
	return spaces[0], nil
}

// PutSpace stores a space. A shard may belong to at most one space.
func (r *Registry) PutSpace(s cluster.ShardSpace) error {
	if s.ID <= 0 {
		return errors.New(errors.ErrUncoded, "shard space id must be positive")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	others, err := list(r, bucketSpaces, func(o cluster.ShardSpace) bool { return o.ID != s.ID })
	if err != nil {
		return err
	}
	for _, o := range others {
		for _, shardID := range s.ShardIDs {
			if o.HasShard(shardID) {
				return errors.Errorf("shard %d already belongs to shard space %d", shardID, o.ID)
			}
		}
	}
	return put(r, bucketSpaces, idKey(s.ID), s)
}

// Proxies

func (r *Registry) Proxy(id int) (cluster.ShardProxy, error) {
	p, err := get[proxyRecord](r, bucketProxies, idKey(id), "shard proxy")
	return cluster.ShardProxy(p), err
}

func (r *Registry) Proxies() ([]cluster.ShardProxy, error) {
	recs, err := list[proxyRecord](r, bucketProxies, nil)
	if err != nil {
		return nil, err
	}
	proxies := make([]cluster.ShardProxy, 0, len(recs))
	for _, rec := range recs {
		proxies = append(proxies, cluster.ShardProxy(rec))
	}
	return proxies, nil
}

func (r *Registry) PutProxy(p cluster.ShardProxy) error {
	if p.ID <= 0 {
		return errors.New(errors.ErrUncoded, "shard proxy id must be positive")
	}
	return put(r, bucketProxies, idKey(p.ID), proxyRecord(p))
}

type proxyRecord struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Fqdn string `json:"fqdn"`
	Key  string `json:"key"`
}

// Images

func (r *Registry) Image(id int) (cluster.Image, error) {
	return get[cluster.Image](r, bucketImages, idKey(id), "image")
}

func (r *Registry) PutImage(i cluster.Image) error {
	if i.ID <= 0 {
		return errors.New(errors.ErrUncoded, "image id must be positive")
	}
	return put(r, bucketImages, idKey(i.ID), i)
}

// Backups

func (r *Registry) Backup(id uuid.UUID) (cluster.Backup, error) {
	return get[cluster.Backup](r, bucketBackups, id.String(), "backup")
}

func (r *Registry) Backups(serverID int) ([]cluster.Backup, error) {
	return list(r, bucketBackups, func(b cluster.Backup) bool { return b.ServerID == serverID })
}

func (r *Registry) PutBackup(b cluster.Backup) error {
	return put(r, bucketBackups, b.UUID.String(), b)
}

func (r *Registry) DeleteBackup(id uuid.UUID) error {
	return errors.Wrap(r.backend.Delete(bucketBackups, id.String()), "deleting backup")
}
