// Package manifestcache is the degraded-mode manifest snapshot cache
// described in SPEC_FULL.md §4.7: a single-bucket bbolt store keyed by
// a blake2b digest of the manifest URL, used only as a fallback when a
// fresh manifest.Backend.Load fails and a previous snapshot exists.
//
// It never changes the documented retry counts or error kinds in
// pkg/vsl/manifest or pkg/vsl/segment -- callers decide whether and
// when to consult it.
package manifestcache

import (
	"fmt"

	"go.etcd.io/bbolt"
	"golang.org/x/crypto/blake2b"
)

var bucketName = []byte("manifest_snapshots")

// Cache stores raw manifest snapshot bytes (format is opaque to this
// package -- typically a host-defined serialization of segment
// descriptors) keyed by KeyFor(url).
type Cache struct {
	db *bbolt.DB
}

// Open opens (creating if necessary) a bbolt database at path.
func Open(path string) (*Cache, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("manifestcache: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("manifestcache: create bucket: %w", err)
	}

	return &Cache{db: db}, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// KeyFor derives a fixed-size cache key from a manifest URL.
func KeyFor(url string) []byte {
	sum := blake2b.Sum256([]byte(url))
	return sum[:]
}

// Get returns the snapshot stored under key, if any.
func (c *Cache) Get(key []byte) ([]byte, bool, error) {
	var out []byte
	err := c.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketName).Get(key)
		if v == nil {
			return nil
		}
		out = make([]byte, len(v))
		copy(out, v)
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("manifestcache: get: %w", err)
	}
	return out, out != nil, nil
}

// Put stores snapshot under key, overwriting any previous value.
func (c *Cache) Put(key, snapshot []byte) error {
	err := c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Put(key, snapshot)
	})
	if err != nil {
		return fmt.Errorf("manifestcache: put: %w", err)
	}
	return nil
}
