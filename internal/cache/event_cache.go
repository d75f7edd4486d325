// Package cache implements the event-scoped cache.  Every entity in
// the system is owned, directly or transitively, by exactly one event;
// any write to such an entity must clear the owning event's cache as
// its last side effect.  The cache itself is opaque key-value storage.
//
// Invalidation is generation-based: each event has a generation
// counter that is part of every data key, so Clear only has to bump
// the counter and all prior entries become unreachable (and fall out
// via their TTL).  When no Redis client is configured the cache falls
// back to an in-process map, mirroring how the rest of the system
// degrades when Redis is away.
package cache

import (
	"context"
	"crypto/sha1"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/event-ticket-reservation/internal/config"
)

// Cache is the process-wide cache service.  Obtain per-event handles
// via ForEvent.
type Cache struct {
	cfg config.CacheConfig
	rdb *redis.Client // nil enables the in-process fallback

	mu   sync.Mutex
	gens map[string]uint64 // event identity -> generation (fallback)
	mem  map[string][]byte // full key -> value (fallback)
}

// New constructs a Cache.  rdb may be nil, in which case all entries
// live in process memory only.
func New(cfg config.CacheConfig, rdb *redis.Client) *Cache {
	return &Cache{
		cfg:  cfg,
		rdb:  rdb,
		gens: make(map[string]uint64),
		mem:  make(map[string][]byte),
	}
}

// Handle is the cache of a single event.  All keys set through a
// handle are invalidated together by Clear.
type Handle struct {
	c     *Cache
	event string
}

// ForEvent returns the cache handle for the given event identity.
func (c *Cache) ForEvent(eventIdentity string) *Handle {
	return &Handle{c: c, event: eventIdentity}
}

func (c *Cache) genKey(event string) string {
	return c.cfg.Prefix + ":event:" + event + ":gen"
}

// dataKey builds the full storage key for one entry.  The caller key
// is hashed so arbitrary strings stay within key length limits.
func (c *Cache) dataKey(event string, gen uint64, key string) string {
	sum := sha1.Sum([]byte(key))
	return fmt.Sprintf("%s:event:%s:%d:%x", c.cfg.Prefix, event, gen, sum[:])
}

func (c *Cache) generation(ctx context.Context, event string) uint64 {
	if c.rdb != nil {
		v, err := c.rdb.Get(ctx, c.genKey(event)).Result()
		if err != nil {
			return 0
		}
		n, _ := strconv.ParseUint(v, 10, 64)
		return n
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[event]
}

// Get returns the cached value for key, if present.
func (h *Handle) Get(ctx context.Context, key string) ([]byte, bool) {
	if !h.c.cfg.Enabled {
		return nil, false
	}
	full := h.c.dataKey(h.event, h.c.generation(ctx, h.event), key)
	if h.c.rdb != nil {
		bs, err := h.c.rdb.Get(ctx, full).Bytes()
		if err != nil {
			return nil, false
		}
		return bs, true
	}
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	bs, ok := h.c.mem[full]
	return bs, ok
}

// Set stores a value under key until the next Clear or TTL expiry.
// Errors are deliberately swallowed; the cache is an optimization and
// must never fail a write path.
func (h *Handle) Set(ctx context.Context, key string, val []byte) {
	if !h.c.cfg.Enabled {
		return
	}
	full := h.c.dataKey(h.event, h.c.generation(ctx, h.event), key)
	if h.c.rdb != nil {
		_ = h.c.rdb.SetEx(ctx, full, val, h.c.cfg.TTL).Err()
		return
	}
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	h.c.mem[full] = val
}

// Generation returns the event's current cache generation.  The
// counter only ever moves forward; each Clear advances it by one.
func (h *Handle) Generation(ctx context.Context) uint64 {
	return h.c.generation(ctx, h.event)
}

// Clear invalidates every entry of this event by bumping the event's
// generation counter.  Old entries become unreachable immediately and
// expire via TTL.
func (h *Handle) Clear(ctx context.Context) error {
	if h.c.rdb != nil {
		return h.c.rdb.Incr(ctx, h.c.genKey(h.event)).Err()
	}
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	h.c.gens[h.event]++
	// Drop orphaned fallback entries so the map does not grow without
	// bound in long-running processes.
	prefix := h.c.cfg.Prefix + ":event:" + h.event + ":"
	for k := range h.c.mem {
		if strings.HasPrefix(k, prefix) {
			delete(h.c.mem, k)
		}
	}
	return nil
}
