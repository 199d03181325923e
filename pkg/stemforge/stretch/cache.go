package stretch

import (
	"sync"
	"sync/atomic"
)

// DefaultCacheSize is the default maximum resident size of the stretch
// result cache (500 MB).
const DefaultCacheSize = 500 * 1024 * 1024

const bytesPerSample = 8 // float64

// Key identifies one stretched loop. Different target BPM values are
// distinct entries even for the same stem and loop.
type Key struct {
	Stem      string
	LoopIndex int
	TargetBPM float64
}

// cacheEntry is a doubly-linked list node for LRU tracking.
type cacheEntry struct {
	key  Key
	data [][]float64
	size int64
	prev *cacheEntry
	next *cacheEntry
}

// Cache is a thread-safe, byte-bounded store of stretched loop audio with
// least-recently-accessed eviction. It is pure in-memory state, rebuilt
// from scratch for every batch.
type Cache struct {
	mu          sync.Mutex
	entries     map[Key]*cacheEntry
	head        *cacheEntry // most recently used
	tail        *cacheEntry // least recently used
	maxBytes    int64
	currentSize int64

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCache creates a cache bounded to maxBytes resident audio data.
// A non-positive maxBytes selects DefaultCacheSize.
func NewCache(maxBytes int64) *Cache {
	if maxBytes <= 0 {
		maxBytes = DefaultCacheSize
	}
	return &Cache{
		entries:  make(map[Key]*cacheEntry),
		maxBytes: maxBytes,
	}
}

func audioSize(data [][]float64) int64 {
	var n int64
	for _, ch := range data {
		n += int64(len(ch)) * bytesPerSample
	}
	return n
}

// Get returns the stretched audio for key, bumping its recency.
// The second return is false when the key is not resident.
func (c *Cache) Get(key Key) ([][]float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}

	c.hits.Add(1)
	c.moveToFront(entry)
	return entry.data, true
}

// Put stores audio under key, evicting least-recently-used entries until
// the byte bound holds. Audio larger than the whole bound is not stored
// at all, since no amount of eviction could make room for it.
func (c *Cache) Put(key Key, data [][]float64) {
	size := audioSize(data)

	c.mu.Lock()
	defer c.mu.Unlock()

	if size > c.maxBytes {
		if existing, ok := c.entries[key]; ok {
			c.evict(existing)
		}
		return
	}

	if existing, ok := c.entries[key]; ok {
		c.currentSize += size - existing.size
		existing.data = data
		existing.size = size
		c.moveToFront(existing)
	} else {
		entry := &cacheEntry{key: key, data: data, size: size}
		c.entries[key] = entry
		c.pushFront(entry)
		c.currentSize += size
	}

	for c.currentSize > c.maxBytes && c.tail != nil && c.tail != c.head {
		c.evict(c.tail)
	}
}

// Delete removes a single entry if present.
func (c *Cache) Delete(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[key]; ok {
		c.evict(entry)
	}
}

// Purge drops every entry. Used when a new batch targets different
// source files or the manager is torn down.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[Key]*cacheEntry)
	c.head = nil
	c.tail = nil
	c.currentSize = 0
}

// Len returns the number of resident entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Bytes returns the current resident size in bytes.
func (c *Cache) Bytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentSize
}

// Stats returns cumulative hit and miss counts.
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// pushFront inserts entry at the head. Caller holds c.mu.
func (c *Cache) pushFront(entry *cacheEntry) {
	entry.prev = nil
	entry.next = c.head
	if c.head != nil {
		c.head.prev = entry
	}
	c.head = entry
	if c.tail == nil {
		c.tail = entry
	}
}

// unlink removes entry from the recency list. Caller holds c.mu.
func (c *Cache) unlink(entry *cacheEntry) {
	if entry.prev != nil {
		entry.prev.next = entry.next
	} else {
		c.head = entry.next
	}
	if entry.next != nil {
		entry.next.prev = entry.prev
	} else {
		c.tail = entry.prev
	}
	entry.prev = nil
	entry.next = nil
}

// moveToFront bumps entry to most-recently-used. Caller holds c.mu.
func (c *Cache) moveToFront(entry *cacheEntry) {
	if c.head == entry {
		return
	}
	c.unlink(entry)
	c.pushFront(entry)
}

// evict removes entry entirely. Caller holds c.mu.
func (c *Cache) evict(entry *cacheEntry) {
	c.unlink(entry)
	delete(c.entries, entry.key)
	c.currentSize -= entry.size
}
