package storage

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dreamware/shardmesh/internal/errors"
	bolt "go.etcd.io/bbolt"
)

// BoltBackend implements Backend on top of a bbolt file. Buckets are created
// lazily on first write.
type BoltBackend struct {
	db   *bolt.DB
	path string
}

// OpenBolt opens (creating if needed) the bbolt database named by dsn, which
// must start with "file:".
func OpenBolt(dsn string, buckets ...string) (*BoltBackend, error) {
	if !strings.HasPrefix(dsn, "file:") {
		return nil, errors.New(errors.ErrUncoded, "bolt backend only supports a DSN beginning with `file:`")
	}
	path := strings.TrimPrefix(dsn, "file:")

	if err := os.MkdirAll(filepath.Dir(path), 0o777); err != nil {
		return nil, errors.Wrapf(err, "mkdir %s", filepath.Dir(path))
	}
	db, err := bolt.Open(path, 0o666, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "open file: %s", path)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(bucket)); err != nil {
				return errors.Wrapf(err, "creating bucket: %s", bucket)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "initializing buckets")
	}

	return &BoltBackend{db: db, path: path}, nil
}

// Path returns the file path of the database.
func (b *BoltBackend) Path() string {
	return b.path
}

func (b *BoltBackend) Get(bucket, key string) ([]byte, error) {
	var out []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(bucket))
		if bkt == nil {
			return ErrKeyNotFound
		}
		v := bkt.Get([]byte(key))
		if v == nil {
			return ErrKeyNotFound
		}
		// bolt values are only valid inside the transaction
		out = append([]byte(nil), v...)
		return nil
	})
	return out, err
}

func (b *BoltBackend) Put(bucket, key string, value []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return errors.Wrapf(err, "creating bucket: %s", bucket)
		}
		return bkt.Put([]byte(key), value)
	})
}

func (b *BoltBackend) Delete(bucket, key string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(bucket))
		if bkt == nil {
			return nil
		}
		return bkt.Delete([]byte(key))
	})
}

// ForEach collects the bucket inside a read transaction and calls fn after
// it is closed, so fn may write to the backend.
func (b *BoltBackend) ForEach(bucket string, fn func(key string, value []byte) error) error {
	type entry struct {
		key   string
		value []byte
	}
	var entries []entry
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(bucket))
		if bkt == nil {
			return nil
		}
		return bkt.ForEach(func(k, v []byte) error {
			entries = append(entries, entry{key: string(k), value: append([]byte(nil), v...)})
			return nil
		})
	})
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := fn(e.key, e.value); err != nil {
			return err
		}
	}
	return nil
}

func (b *BoltBackend) Close() error {
	return b.db.Close()
}
