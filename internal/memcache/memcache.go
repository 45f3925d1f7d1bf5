// Package memcache implements MemoryCache: a per-model map of admission
// policies holding the hot set of (id, embedding) pairs that back fast
// similarity candidate lookup without hitting the scalar/vector tiers.
package memcache

import (
	"sync"

	"github.com/thebtf/semcache/internal/eviction"
)

// PolicyKind selects which eviction algorithm a model's cache uses.
type PolicyKind int

const (
	PolicyARC PolicyKind = iota
	PolicyWTinyLFU
)

// EvictFunc is invoked whenever a key leaves a model's live set. It must
// stay a pure in-memory notification — MemoryCache never reaches into
// durable storage itself.
type EvictFunc func(model string, ids []int64)

// entry holds one cached embedding; admission state lives in the policy.
type entry struct {
	embedding []float32
}

// Pair is one (id, embedding) tuple as stored in the hot set.
type Pair struct {
	ID        int64
	Embedding []float32
}

// modelCache owns one admission policy plus the embedding payloads it
// tracks, guarded by the concurrency discipline the policy requires:
// ARC is serialized by a plain mutex, W-TinyLFU by a sync.RWMutex. Every
// W-TinyLFU operation, Get included, updates the frequency sketch and
// segment recency, so each one takes the write lock.
type modelCache struct {
	kind PolicyKind

	arcMu sync.Mutex
	arc   *eviction.ARC

	wMu sync.RWMutex
	w   *eviction.WTinyLFU

	dataMu sync.RWMutex
	data   map[int64]entry
}

// Cache is the model -> policy map. Zero value is not usable; construct
// with New.
type Cache struct {
	mu        sync.RWMutex
	models    map[string]*modelCache
	capacity  int
	kind      PolicyKind
	onEvict   EvictFunc
	evictLock sync.Mutex // serializes onEvict callbacks across models
}

// New creates an empty MemoryCache. Each model's policy is created
// on first access (GetOrCreate), sized to capacity and using kind.
func New(capacity int, kind PolicyKind, onEvict EvictFunc) *Cache {
	return &Cache{
		models:   make(map[string]*modelCache),
		capacity: capacity,
		kind:     kind,
		onEvict:  onEvict,
	}
}

// GetOrCreate returns the policy-backed cache for model, creating it
// (and its eviction policy) on first access.
func (c *Cache) GetOrCreate(model string) *modelCache {
	c.mu.RLock()
	mc, ok := c.models[model]
	c.mu.RUnlock()
	if ok {
		return mc
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if mc, ok = c.models[model]; ok {
		return mc
	}

	mc = &modelCache{kind: c.kind, data: make(map[int64]entry)}
	cb := func(key int64) { c.fireEvict(model, key) }
	switch c.kind {
	case PolicyWTinyLFU:
		mc.w = eviction.NewWTinyLFU(c.capacity, cb)
	default:
		mc.arc = eviction.NewARC(c.capacity, cb)
	}
	c.models[model] = mc
	return mc
}

func (c *Cache) fireEvict(model string, id int64) {
	c.evictLock.Lock()
	defer c.evictLock.Unlock()

	mc := c.GetOrCreate(model)
	mc.dataMu.Lock()
	delete(mc.data, id)
	mc.dataMu.Unlock()

	if c.onEvict != nil {
		c.onEvict(model, []int64{id})
	}
}

// Get returns the embedding cached for id under model, or (nil, false) if
// absent. A hit refreshes recency/frequency per the underlying policy.
func (c *Cache) Get(id int64, model string) ([]float32, bool) {
	mc := c.GetOrCreate(model)

	var hit bool
	switch mc.kind {
	case PolicyWTinyLFU:
		mc.wMu.Lock()
		hit = mc.w.Access(id)
		mc.wMu.Unlock()
	default:
		mc.arcMu.Lock()
		hit = mc.arc.Access(id)
		mc.arcMu.Unlock()
	}
	if !hit {
		return nil, false
	}

	mc.dataMu.RLock()
	e, ok := mc.data[id]
	mc.dataMu.RUnlock()
	if !ok {
		return nil, false
	}
	return e.embedding, true
}

// BatchPut inserts (id, embedding) pairs into model's cache.
func (c *Cache) BatchPut(pairs []Pair, model string) {
	mc := c.GetOrCreate(model)

	for _, p := range pairs {
		mc.dataMu.Lock()
		mc.data[p.ID] = entry{embedding: p.Embedding}
		mc.dataMu.Unlock()

		switch mc.kind {
		case PolicyWTinyLFU:
			mc.wMu.Lock()
			mc.w.Access(p.ID)
			mc.wMu.Unlock()
		default:
			mc.arcMu.Lock()
			mc.arc.Access(p.ID)
			mc.arcMu.Unlock()
		}
	}
}

// Clear drops model's entire cache and policy state (used by truncate).
func (c *Cache) Clear(model string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.models, model)
}

// Pop removes id from model's cache without firing onEvict — used for
// explicit application-level deletes where the caller already knows the
// id is gone from durable storage.
func (c *Cache) Pop(id int64, model string) {
	mc := c.GetOrCreate(model)

	switch mc.kind {
	case PolicyWTinyLFU:
		mc.wMu.Lock()
		mc.w.Remove(id)
		mc.wMu.Unlock()
	default:
		mc.arcMu.Lock()
		mc.arc.Remove(id)
		mc.arcMu.Unlock()
	}

	mc.dataMu.Lock()
	delete(mc.data, id)
	mc.dataMu.Unlock()
}
