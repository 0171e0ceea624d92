// Package dedup implements spec §4.C: a TTL-bounded content-addressed set
// of seen message uuids, backed by a pluggable KV Store.
//
// The Store interface shape is a direct port of omni/internal/kv.KVStore
// (SetWithTTL in particular); the metadata-record-on-first-use behavior and
// the contains-then-put dedup() operation are grounded on
// original_source/lib/cache.py / lib/utils/cache.py.
package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Store is the minimal KV contract the dedup cache needs. BadgerStore and
// RedisStore both satisfy it.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Len(ctx context.Context) (int64, error)
	Flush(ctx context.Context) error
	Close() error
}

const metadataKey = "cache_metadata"

// Cache is the dedup cache of spec §4.C.
type Cache struct {
	store      Store
	defaultTTL time.Duration
	mu         sync.Mutex
	metaOnce   bool
}

// New wires a Cache over store. defaultTTL is used by Put/Dedup when no
// explicit TTL is given; per spec §4.C this defaults to 24h unless
// config.redis.cache_ttl overrides it (resolved by the caller).
func New(store Store, defaultTTL time.Duration) *Cache {
	if defaultTTL <= 0 {
		defaultTTL = 24 * time.Hour
	}
	return &Cache{store: store, defaultTTL: defaultTTL}
}

// ensureMetadata writes a one-time created_at record under the
// cache_metadata key, as a plain JSON string value (not a hash), on the
// first Contains or Put (and again on the first use after Flush).
func (c *Cache) ensureMetadata(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.metaOnce {
		return nil
	}
	_, found, err := c.store.Get(ctx, metadataKey)
	if err != nil {
		return fmt.Errorf("dedup: check metadata: %w", err)
	}
	if !found {
		payload := []byte(fmt.Sprintf(`{"created_at":%q}`, time.Now().UTC().Format(time.RFC3339)))
		if err := c.store.SetWithTTL(ctx, metadataKey, payload, 0); err != nil {
			return fmt.Errorf("dedup: write metadata: %w", err)
		}
	}
	c.metaOnce = true
	return nil
}

// Contains reports whether uuid has been seen (and not yet expired).
func (c *Cache) Contains(ctx context.Context, uuid string) (bool, error) {
	if err := c.ensureMetadata(ctx); err != nil {
		return false, err
	}
	_, found, err := c.store.Get(ctx, key(uuid))
	if err != nil {
		return false, fmt.Errorf("dedup: contains: %w", err)
	}
	return found, nil
}

// Put records uuid as seen, arming (or re-arming) its TTL. ttl<=0 uses the
// cache's default.
func (c *Cache) Put(ctx context.Context, uuid string, ttl time.Duration) error {
	if err := c.ensureMetadata(ctx); err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	if err := c.store.SetWithTTL(ctx, key(uuid), []byte{1}, ttl); err != nil {
		return fmt.Errorf("dedup: put: %w", err)
	}
	return nil
}

// Len returns the number of live dedup entries, excluding the one-time
// metadata record ensureMetadata writes on first use.
func (c *Cache) Len(ctx context.Context) (int64, error) {
	n, err := c.store.Len(ctx)
	if err != nil {
		return 0, err
	}
	_, found, err := c.store.Get(ctx, metadataKey)
	if err != nil {
		return 0, fmt.Errorf("dedup: len: %w", err)
	}
	if found {
		n--
	}
	return n, nil
}

// Flush clears the backing store.
func (c *Cache) Flush(ctx context.Context) error {
	c.mu.Lock()
	c.metaOnce = false
	c.mu.Unlock()
	return c.store.Flush(ctx)
}

// Dedup implements spec §4.C's dedup(message) operation: if uuid has
// already been seen within TTL it returns (false, nil) — drop, ack only,
// no publish (spec §7 DedupSkip: not an error). Otherwise it records the
// uuid and returns (true, nil) — the message should proceed.
func (c *Cache) Dedup(ctx context.Context, uuid string, ttl time.Duration) (bool, error) {
	seen, err := c.Contains(ctx, uuid)
	if err != nil {
		return false, err
	}
	if seen {
		return false, nil
	}
	if err := c.Put(ctx, uuid, ttl); err != nil {
		return false, err
	}
	return true, nil
}

func key(uuid string) string {
	return "dedup:" + uuid
}
