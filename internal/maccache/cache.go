// Package maccache implements the cross-protocol MAC<->Option82 binding
// cache (C5): populated by the v4 handler on every successful transaction
// that carries both an Ethernet client MAC and Option 82, consulted by the v6 handler when a DUID/Option1837 lookup misses but a
// MAC recovered from the relay chain might still resolve via a previously
// observed Option 82 fingerprint.
package maccache

import (
	"container/list"
	"sync"
	"time"

	"github.com/shadowisp/dhcpreserved/internal/metrics"
	"github.com/shadowisp/dhcpreserved/internal/model"
)

// DefaultTTL matches the spec's 24-hour binding lifetime: long enough to
// survive a client's normal renew cadence, short enough that a relay
// port reassignment doesn't stick around indefinitely.
const DefaultTTL = 24 * time.Hour

// DefaultCapacity bounds memory use under an LRU policy; a 100,000-entry
// cache covers a mid-size ISP deployment without unbounded growth.
const DefaultCapacity = 100_000

// DefaultSweepInterval is how often expired entries are purged
// proactively, rather than only evicted lazily on lookup.
const DefaultSweepInterval = 60 * time.Second

type binding struct {
	mac        string
	option82   model.Option82Fields
	createdAt  time.Time
	lastSeenAt time.Time
	elem       *list.Element
}

// Cache is a bounded, TTL-expiring, LRU-evicted map between MAC addresses
// and Option82 fingerprints, safe for concurrent use.
type Cache struct {
	mu       sync.RWMutex
	ttl      time.Duration
	capacity int

	byMAC      map[string]*binding
	byOption82 map[string]*binding
	order      *list.List // most-recently-used at the front

	metrics *metrics.Metrics
}

// SetMetrics attaches the server's metric set so cache hit/miss/size are
// reported. Optional; a Cache with no metrics attached behaves exactly
// as before.
func (c *Cache) SetMetrics(m *metrics.Metrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics = m
}

// reportSize updates the cache-size gauge. Caller must hold mu.
func (c *Cache) reportSize() {
	if c.metrics != nil {
		c.metrics.CacheSize.Set(float64(len(c.byMAC)))
	}
}

// New constructs a Cache with the given TTL and capacity bounds.
func New(ttl time.Duration, capacity int) *Cache {
	return &Cache{
		ttl:        ttl,
		capacity:   capacity,
		byMAC:      make(map[string]*binding),
		byOption82: make(map[string]*binding),
		order:      list.New(),
	}
}

// Insert records (or refreshes) a MAC<->Option82 binding, touching it as
// most-recently-used and evicting the least-recently-used entry if the
// cache is over capacity.
func (c *Cache) Insert(mac string, o model.Option82Fields) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	key82 := model.Option82Key(o)

	if existing, ok := c.byMAC[mac]; ok {
		delete(c.byOption82, model.Option82Key(existing.option82))
		existing.option82 = o
		existing.lastSeenAt = now
		c.byOption82[key82] = existing
		c.order.MoveToFront(existing.elem)
		return
	}

	b := &binding{mac: mac, option82: o, createdAt: now, lastSeenAt: now}
	b.elem = c.order.PushFront(b)
	c.byMAC[mac] = b
	c.byOption82[key82] = b

	for len(c.byMAC) > c.capacity {
		c.evictOldest()
	}
	c.reportSize()
}

// evictOldest removes the least-recently-used entry. Caller must hold mu.
func (c *Cache) evictOldest() {
	back := c.order.Back()
	if back == nil {
		return
	}
	c.removeElement(back)
}

// removeElement unlinks a binding from all indexes. Caller must hold mu.
func (c *Cache) removeElement(e *list.Element) {
	b := e.Value.(*binding)
	delete(c.byMAC, b.mac)
	delete(c.byOption82, model.Option82Key(b.option82))
	c.order.Remove(e)
}

func (c *Cache) expired(b *binding, now time.Time) bool {
	return now.Sub(b.lastSeenAt) > c.ttl
}

// LookupByMAC returns the Option82 fingerprint bound to mac, if present
// and not expired.
func (c *Cache) LookupByMAC(mac string) (model.Option82Fields, bool) {
	c.mu.RLock()
	b, ok := c.byMAC[mac]
	if !ok {
		m := c.metrics
		c.mu.RUnlock()
		if m != nil {
			m.CacheMisses.Inc()
		}
		return model.Option82Fields{}, false
	}
	expired := c.expired(b, time.Now())
	o := b.option82
	m := c.metrics
	c.mu.RUnlock()
	if expired {
		if m != nil {
			m.CacheMisses.Inc()
		}
		return model.Option82Fields{}, false
	}
	if m != nil {
		m.CacheHits.Inc()
	}
	return o, true
}

// LookupByOption82 returns the MAC bound to an Option82 fingerprint, if
// present and not expired.
func (c *Cache) LookupByOption82(o model.Option82Fields) (string, bool) {
	c.mu.RLock()
	b, ok := c.byOption82[model.Option82Key(o)]
	if !ok {
		m := c.metrics
		c.mu.RUnlock()
		if m != nil {
			m.CacheMisses.Inc()
		}
		return "", false
	}
	expired := c.expired(b, time.Now())
	mac := b.mac
	m := c.metrics
	c.mu.RUnlock()
	if expired {
		if m != nil {
			m.CacheMisses.Inc()
		}
		return "", false
	}
	if m != nil {
		m.CacheHits.Inc()
	}
	return mac, true
}

// Len reports the current entry count, including any not-yet-swept
// expired entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byMAC)
}

// Sweep removes every expired entry. Intended to run on a periodic
// ticker (DefaultSweepInterval) alongside lazy expiry on lookup, so
// memory is reclaimed even for bindings nobody looks up again.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for e := c.order.Back(); e != nil; {
		prev := e.Prev()
		b := e.Value.(*binding)
		if c.expired(b, now) {
			c.removeElement(e)
			removed++
		}
		e = prev
	}
	if removed > 0 {
		c.reportSize()
	}
	return removed
}

// RunSweeper blocks, sweeping on interval until ctx-like stop channel
// closes. Call in its own goroutine.
func (c *Cache) RunSweeper(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}
