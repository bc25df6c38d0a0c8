package cas

import (
	"context"
	"fmt"

	remoteexecution "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"github.com/dgraph-io/badger/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	"google.golang.org/protobuf/proto"

	"remoteclient/internal/digest"
)

// DiskCacheOptions configures the local cache layered in front of a
// remote fetch.
type DiskCacheOptions struct {
	// MemoryEntries bounds the in-memory LRU front.
	MemoryEntries int
}

// DefaultDiskCacheOptions provides sensible defaults.
func DefaultDiskCacheOptions() DiskCacheOptions {
	return DiskCacheOptions{MemoryEntries: 1024}
}

// DiskCache persists fetched blobs and trees in BadgerDB with an LRU
// front, so repeated inspections of the same action avoid the network.
// Content addressing makes entries immutable, so there is no
// invalidation.
type DiskCache struct {
	inner Cache
	db    *badger.DB
	mem   *lru.Cache[digest.Digest, []byte]
}

// NewDiskCache wraps a Cache with local persistence.
func NewDiskCache(inner Cache, db *badger.DB, opts DiskCacheOptions) (*DiskCache, error) {
	if opts.MemoryEntries <= 0 {
		opts.MemoryEntries = DefaultDiskCacheOptions().MemoryEntries
	}
	mem, err := lru.New[digest.Digest, []byte](opts.MemoryEntries)
	if err != nil {
		return nil, fmt.Errorf("creating memory cache: %w", err)
	}
	return &DiskCache{inner: inner, db: db, mem: mem}, nil
}

func blobKey(d digest.Digest) []byte {
	return []byte("blob:" + d.String())
}

func treeKey(d digest.Digest) []byte {
	return []byte("tree:" + d.String())
}

func (c *DiskCache) get(key []byte) ([]byte, error) {
	var data []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			data = append([]byte(nil), val...)
			return nil
		})
	})
	return data, err
}

func (c *DiskCache) put(key, data []byte) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// FetchBlob serves from memory, then disk, then the wrapped cache,
// writing back on miss.
func (c *DiskCache) FetchBlob(ctx context.Context, d digest.Digest) ([]byte, error) {
	if blob, ok := c.mem.Get(d); ok {
		return blob, nil
	}

	blob, err := c.get(blobKey(d))
	if err == nil {
		c.mem.Add(d, blob)
		return blob, nil
	}
	if err != badger.ErrKeyNotFound {
		return nil, fmt.Errorf("reading cached blob %s: %w", d, err)
	}

	blob, err = c.inner.FetchBlob(ctx, d)
	if err != nil {
		return nil, err
	}
	if err := c.put(blobKey(d), blob); err != nil {
		return nil, fmt.Errorf("caching blob %s: %w", d, err)
	}
	c.mem.Add(d, blob)
	return blob, nil
}

// FetchTree caches the marshaled Tree keyed by its root digest.
func (c *DiskCache) FetchTree(ctx context.Context, d digest.Digest) (*remoteexecution.Tree, error) {
	data, err := c.get(treeKey(d))
	if err == nil {
		var t remoteexecution.Tree
		if err := proto.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("decoding cached tree %s: %w", d, err)
		}
		return &t, nil
	}
	if err != badger.ErrKeyNotFound {
		return nil, fmt.Errorf("reading cached tree %s: %w", d, err)
	}

	t, err := c.inner.FetchTree(ctx, d)
	if err != nil {
		return nil, err
	}
	data, err = proto.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encoding tree %s: %w", d, err)
	}
	if err := c.put(treeKey(d), data); err != nil {
		return nil, fmt.Errorf("caching tree %s: %w", d, err)
	}
	return t, nil
}

// DownloadDirectory materializes through the local cache so repeated
// replays of the same action reuse already-fetched blobs.
func (c *DiskCache) DownloadDirectory(ctx context.Context, path string, d digest.Digest) error {
	t, err := c.FetchTree(ctx, d)
	if err != nil {
		return err
	}
	return MaterializeTree(ctx, c, path, t)
}
