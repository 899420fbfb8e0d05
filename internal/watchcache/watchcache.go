// Package watchcache implements C9: the debounced watch cache that makes
// repeated property reads fast and subscription-economical. Ported from
// the Rust reference's WatchCache (watch_cache.rs), whose per-entry
// AbortHandle cancels a scheduled cleanup on reuse; Go has no equivalent
// handle for a time.AfterFunc timer, so a generation counter stands in —
// a cleanup fires only if the entry's generation hasn't moved on since it
// was scheduled.
package watchcache

import (
	"sync"
	"time"

	"github.com/avandenbos/sonos-reactive/internal/model"
)

// Factory ensures a subscription exists and returns the handle plus the
// property's current value. Invoked only on a cache miss.
type Factory func() (handle Handle, value model.PropertyValue)

// Handle is an opaque reference to whatever keeps a property's
// subscription alive; Release is called when the cache entry is evicted.
type Handle interface {
	Release()
}

type entry struct {
	handle     Handle
	value      model.PropertyValue
	generation int
	timer      *time.Timer
}

type cacheKey struct {
	Speaker  model.SpeakerId
	Property model.PropertyKey
}

// Cache is C9's get_or_watch table: one mutation lock, debounced eviction.
type Cache struct {
	mu             sync.Mutex
	entries        map[cacheKey]*entry
	cleanupTimeout time.Duration
	now            func() time.Time
	afterFunc      func(time.Duration, func()) *time.Timer
}

// New creates a Cache whose entries are evicted cleanupTimeout after the
// last access that didn't immediately reuse them.
func New(cleanupTimeout time.Duration) *Cache {
	return &Cache{
		entries:        make(map[cacheKey]*entry),
		cleanupTimeout: cleanupTimeout,
		now:            time.Now,
		afterFunc:      time.AfterFunc,
	}
}

// GetOrWatch returns the current value for (speaker, property). A cache
// hit cancels the pending eviction and returns synchronously with no I/O.
// A miss runs factory, which is expected to ensure a subscription exists.
func (c *Cache) GetOrWatch(speaker model.SpeakerId, property model.PropertyKey, factory Factory) model.PropertyValue {
	k := cacheKey{speaker, property}

	c.mu.Lock()
	if e, ok := c.entries[k]; ok {
		e.generation++ // invalidates any timer already scheduled for this entry
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
		c.scheduleCleanup(k, e)
		v := e.value
		c.mu.Unlock()
		return v
	}
	c.mu.Unlock()

	handle, value := factory()

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[k]; ok {
		// Lost the race to a concurrent miss; drop our handle, keep theirs.
		handle.Release()
		return existing.value
	}
	e := &entry{handle: handle, value: value}
	c.entries[k] = e
	c.scheduleCleanup(k, e)
	return value
}

// Touch updates a cached value in place (called when the store produces a
// fresher value than the one the cache is holding), without disturbing the
// entry's eviction schedule.
func (c *Cache) Touch(speaker model.SpeakerId, property model.PropertyKey, value model.PropertyValue) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[cacheKey{speaker, property}]; ok {
		e.value = value
	}
}

// scheduleCleanup arms a debounced eviction timer. Must be called with
// c.mu held.
func (c *Cache) scheduleCleanup(k cacheKey, e *entry) {
	gen := e.generation
	e.timer = c.afterFunc(c.cleanupTimeout, func() {
		c.fireCleanup(k, gen)
	})
}

func (c *Cache) fireCleanup(k cacheKey, gen int) {
	c.mu.Lock()
	e, ok := c.entries[k]
	if !ok || e.generation != gen {
		// Superseded by a reuse that bumped the generation; this fire is stale.
		c.mu.Unlock()
		return
	}
	delete(c.entries, k)
	c.mu.Unlock()
	e.handle.Release()
}

// Stats reports the number of live entries, for observability.
func (c *Cache) Stats() (entries int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear evicts every entry immediately, releasing all handles. Used at
// shutdown.
func (c *Cache) Clear() {
	c.mu.Lock()
	entries := c.entries
	c.entries = make(map[cacheKey]*entry)
	c.mu.Unlock()

	for _, e := range entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		e.handle.Release()
	}
}
