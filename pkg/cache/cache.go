// Package cache is a small in-process read-through cache with singleflight
// loading, LRU eviction and short-lived negative entries. Telegraph uses it
// for chat membership lookups, which gate every send, typing signal and
// subscribe.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Options tunes one cache instance.
type Options struct {
	// TTL bounds how long a positive entry is served. A revoked
	// membership becomes invisible within this window at the latest.
	TTL time.Duration
	// NegativeTTL bounds how long a confirmed absence is remembered.
	// Zero disables negative caching.
	NegativeTTL time.Duration
	// MaxEntries caps the cache size. The least recently used entry is
	// evicted first. Zero means unbounded.
	MaxEntries int
}

// Loader fetches the value for key on a miss. ok reports whether the value
// exists; false with a nil error is cached as a negative entry. Loader
// errors are returned to callers and never cached.
type Loader func(ctx context.Context, key string) (interface{}, bool, error)

// Entries are immutable once stored; lookup may hand them out past the lock.
type entry struct {
	val       interface{}
	negative  bool
	expiresAt time.Time
	elem      *list.Element
}

// Cache is safe for concurrent use.
type Cache struct {
	opts  Options
	mu    sync.Mutex
	items map[string]*entry
	order *list.List // front is most recently used
	sf    singleflight.Group
}

func New(opts Options) *Cache {
	return &Cache{
		opts:  opts,
		items: make(map[string]*entry),
		order: list.New(),
	}
}

type loadResult struct {
	val interface{}
	ok  bool
}

// Get returns the value for key, invoking loader on a miss. Concurrent
// misses for the same key share one loader call.
func (c *Cache) Get(ctx context.Context, key string, loader Loader) (interface{}, bool, error) {
	if e, ok := c.lookup(key); ok {
		if e.negative {
			return nil, false, nil
		}
		return e.val, true, nil
	}

	v, err, _ := c.sf.Do(key, func() (interface{}, error) {
		val, ok, err := loader(ctx, key)
		if err != nil {
			return nil, err
		}
		c.store(key, val, ok)
		return loadResult{val: val, ok: ok}, nil
	})
	if err != nil {
		return nil, false, err
	}
	res := v.(loadResult)
	return res.val, res.ok, nil
}

// lookup returns the live entry for key and promotes it. Expired entries
// are dropped on the way.
func (c *Cache) lookup(key string) (*entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		c.order.Remove(e.elem)
		delete(c.items, key)
		return nil, false
	}
	c.order.MoveToFront(e.elem)
	return e, true
}

func (c *Cache) store(key string, val interface{}, ok bool) {
	now := time.Now()
	e := &entry{}
	switch {
	case ok:
		e.val = val
		e.expiresAt = now.Add(c.opts.TTL)
	case c.opts.NegativeTTL > 0:
		e.negative = true
		e.expiresAt = now.Add(c.opts.NegativeTTL)
	default:
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, exists := c.items[key]; exists {
		c.order.Remove(prev.elem)
	}
	e.elem = c.order.PushFront(key)
	c.items[key] = e
	for c.opts.MaxEntries > 0 && len(c.items) > c.opts.MaxEntries {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(string))
	}
}

// Delete drops key so the next Get reloads it. The store calls this right
// after a join or leave to make the change visible immediately.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.items[key]; ok {
		c.order.Remove(e.elem)
		delete(c.items, key)
	}
}

// Len reports the number of entries currently held.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
