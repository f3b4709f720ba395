// Package cache provides the bounded TTL caches used for embeddings,
// search results and whole responses.
package cache

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/resumemate/backend/internal/metrics"
	"github.com/resumemate/backend/pkg/logger"
)

var ErrCacheFull = errors.New("cache is full")

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock reads the wall clock.
var SystemClock Clock = systemClock{}

type Options struct {
	Name     string
	TTL      time.Duration
	Capacity int
	Clock    Clock
	// SweepEvery triggers a full sweep after this many hits. Zero disables.
	SweepEvery int
}

type entry[V any] struct {
	key      string
	value    V
	storedAt time.Time
	elem     *list.Element
}

// Cache is a map of entries that are valid while now - storedAt < ttl.
// Entries are kept ordered by storedAt so the oldest one can be evicted
// under capacity pressure, including entries promoted with an earlier
// store time.
type Cache[V any] struct {
	name       string
	ttl        time.Duration
	capacity   int
	clock      Clock
	sweepEvery int

	mu             sync.Mutex
	entries        map[string]*entry[V]
	order          *list.List
	hits           uint64
	misses         uint64
	evictions      uint64
	hitsSinceSweep int
	generation     uint64
}

type Stats struct {
	Name      string  `json:"name"`
	Size      int     `json:"size"`
	Capacity  int     `json:"capacity"`
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Evictions uint64  `json:"evictions"`
	HitRate   float64 `json:"hit_rate"`
}

func New[V any](opts Options) *Cache[V] {
	if opts.Clock == nil {
		opts.Clock = SystemClock
	}
	if opts.Capacity <= 0 {
		opts.Capacity = 1
	}
	return &Cache[V]{
		name:       opts.Name,
		ttl:        opts.TTL,
		capacity:   opts.Capacity,
		clock:      opts.Clock,
		sweepEvery: opts.SweepEvery,
		entries:    make(map[string]*entry[V]),
		order:      list.New(),
	}
}

func (c *Cache[V]) Name() string { return c.name }

func (c *Cache[V]) TTL() time.Duration { return c.ttl }

func (c *Cache[V]) Now() time.Time { return c.clock.Now() }

func (c *Cache[V]) Capacity() int { return c.capacity }

// Fresh reports whether something stored at storedAt is still valid now.
func (c *Cache[V]) Fresh(storedAt time.Time) bool {
	return c.clock.Now().Sub(storedAt) < c.ttl
}

// Get returns the value for key if it is still fresh. Expired entries are
// removed on the way out.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	now := c.clock.Now()
	e, ok := c.entries[key]
	if !ok || now.Sub(e.storedAt) >= c.ttl {
		if ok {
			c.removeLocked(e, "expired")
		}
		c.misses++
		metrics.CacheMisses.WithLabelValues(c.name).Inc()
		return zero, false
	}

	c.hits++
	metrics.CacheHits.WithLabelValues(c.name).Inc()

	c.hitsSinceSweep++
	if c.sweepEvery > 0 && c.hitsSinceSweep >= c.sweepEvery {
		c.sweepLocked(now)
	}
	return e.value, true
}

// Insert stores value under key. A new key is rejected with ErrCacheFull
// once the cache holds capacity entries; an existing key is always
// overwritten.
func (c *Cache[V]) Insert(key string, value V) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.insertLocked(key, value, c.clock.Now())
}

// Set stores value under key, making room when full by sweeping expired
// entries and then evicting the oldest entry.
func (c *Cache[V]) Set(key string, value V) {
	c.SetAt(key, value, c.clock.Now())
}

// SetAt is Set with an explicit store time, used when promoting an entry
// from a slower tier so it keeps its original age. Already expired values
// are dropped.
func (c *Cache[V]) SetAt(key string, value V, storedAt time.Time) {
	c.setAt(0, false, key, value, storedAt)
}

func (c *Cache[V]) setAt(gen uint64, checkGen bool, key string, value V, storedAt time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if checkGen && c.generation != gen {
		return false
	}
	now := c.clock.Now()
	if now.Sub(storedAt) >= c.ttl {
		return false
	}

	err := c.insertLocked(key, value, storedAt)
	if !errors.Is(err, ErrCacheFull) {
		return true
	}
	if c.sweepLocked(now) == 0 {
		c.evictOldestLocked()
	}
	return c.insertLocked(key, value, storedAt) == nil
}

// Generation changes every time the cache is cleared.
func (c *Cache[V]) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// SetIfGeneration is SetAt that only writes while the cache has not been
// cleared since gen was read. It reports whether the value was stored.
func (c *Cache[V]) SetIfGeneration(gen uint64, key string, value V, storedAt time.Time) bool {
	return c.setAt(gen, true, key, value, storedAt)
}

func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.removeLocked(e, "deleted")
	}
}

// Sweep removes every expired entry and returns how many were dropped.
func (c *Cache[V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sweepLocked(c.clock.Now())
}

func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry[V])
	c.order.Init()
	c.generation++
}

func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	var rate float64
	if total := c.hits + c.misses; total > 0 {
		rate = float64(c.hits) / float64(total)
	}
	return Stats{
		Name:      c.name,
		Size:      len(c.entries),
		Capacity:  c.capacity,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		HitRate:   rate,
	}
}

// StartJanitor sweeps every interval until ctx is done.
func (c *Cache[V]) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := c.Sweep(); n > 0 {
					logger.Debug("Cache sweep",
						zap.String("cache", c.name),
						zap.Int("removed", n),
					)
				}
			}
		}
	}()
}

func (c *Cache[V]) insertLocked(key string, value V, storedAt time.Time) error {
	if e, ok := c.entries[key]; ok {
		e.value = value
		e.storedAt = storedAt
		c.order.Remove(e.elem)
		e.elem = c.placeLocked(e)
		return nil
	}
	if len(c.entries) >= c.capacity {
		return ErrCacheFull
	}
	e := &entry[V]{key: key, value: value, storedAt: storedAt}
	e.elem = c.placeLocked(e)
	c.entries[key] = e
	return nil
}

// placeLocked links e after the newest entry not stored later than it.
// Fresh writes land at the back in one step.
func (c *Cache[V]) placeLocked(e *entry[V]) *list.Element {
	for mark := c.order.Back(); mark != nil; mark = mark.Prev() {
		if !mark.Value.(*entry[V]).storedAt.After(e.storedAt) {
			return c.order.InsertAfter(e, mark)
		}
	}
	return c.order.PushFront(e)
}

func (c *Cache[V]) sweepLocked(now time.Time) int {
	c.hitsSinceSweep = 0
	removed := 0
	for _, e := range c.entries {
		if now.Sub(e.storedAt) >= c.ttl {
			c.removeLocked(e, "expired")
			removed++
		}
	}
	return removed
}

func (c *Cache[V]) evictOldestLocked() {
	front := c.order.Front()
	if front == nil {
		return
	}
	c.removeLocked(front.Value.(*entry[V]), "capacity")
}

func (c *Cache[V]) removeLocked(e *entry[V], reason string) {
	c.order.Remove(e.elem)
	delete(c.entries, e.key)
	if reason != "deleted" {
		c.evictions++
		metrics.CacheEvictions.WithLabelValues(c.name, reason).Inc()
	}
}
