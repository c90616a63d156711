// Package listingcache implements the directory listing cache (spec.md
// §4.3): a byte-capped map keyed on the full connection/path/protocol
// tuple, evicted LRU by access counter.
package listingcache

import (
	"sync"
	"time"

	"github.com/aalpar/deheap"
)

// Key is the exact-match lookup tuple spec.md §3/§4.3 requires. The
// TLS flag is part of the key so an FTPS listing is never served to a
// plaintext worker and vice versa (testable property #4).
type Key struct {
	User        string
	Host        string
	Port        int
	Path        string
	ListCommand string
	TLS         bool
}

// Entry is one cached listing.
type Entry struct {
	Bytes        []byte
	DateOfListing time.Time
	counter       uint64 // monotonically increasing "age"; lower = older
	heapIndex     int
}

// Cache is internally synchronised by a mutex so the workers of one
// operation can share it. coordinator.New builds a new Cache for each
// operation, so cached listings are not shared between operations.
type Cache struct {
	mu       sync.Mutex
	capBytes int64
	used     int64
	entries  map[Key]*Entry
	order    *entryHeap
	tick     uint64
}

// New creates a cache capped at capBytes total listing bytes.
func New(capBytes int64) *Cache {
	h := &entryHeap{}
	deheap.Init(h)
	return &Cache{
		capBytes: capBytes,
		entries:  map[Key]*Entry{},
		order:    h,
	}
}

// Lookup performs the exact 6-tuple match spec.md §4.3 describes,
// bumping the entry's recency counter on a hit.
func (c *Cache) Lookup(key Key) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return Entry{}, false
	}
	c.tick++
	e.counter = c.tick
	deheap.Fix(c.order, e.heapIndex)
	return *e, true
}

// InsertOrUpdate replaces any existing entry for key and evicts the
// oldest entries (by counter) until the total cached bytes fit within
// capBytes.
func (c *Cache) InsertOrUpdate(key Key, data []byte, dateOfListing time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.entries[key]; ok {
		c.used -= int64(len(old.Bytes))
		deheap.Remove(c.order, old.heapIndex)
		delete(c.entries, key)
	}
	c.tick++
	e := &Entry{Bytes: data, DateOfListing: dateOfListing, counter: c.tick}
	c.entries[key] = e
	c.used += int64(len(data))
	deheap.Push(c.order, &heapItem{key: key, entry: e})
	c.evictLocked()
}

func (c *Cache) evictLocked() {
	for c.capBytes > 0 && c.used > c.capBytes && c.order.Len() > 0 {
		item := deheap.Pop(c.order).(*heapItem)
		if e, ok := c.entries[item.key]; ok && e == item.entry {
			c.used -= int64(len(e.Bytes))
			delete(c.entries, item.key)
		}
	}
}

// InvalidatePath removes every cached entry whose Path equals path,
// and, when includeSubdirs is true, every entry whose Path is a
// descendant of path. No engine code calls it, so writes (STOR, DELE,
// MKD, RMD, RNTO) do not invalidate cached listings.
func (c *Cache) InvalidatePath(path string, includeSubdirs bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		if key.Path == path || (includeSubdirs && isSubPath(path, key.Path)) {
			c.used -= int64(len(e.Bytes))
			deheap.Remove(c.order, e.heapIndex)
			delete(c.entries, key)
		}
	}
}

func isSubPath(parent, candidate string) bool {
	if len(candidate) <= len(parent) {
		return false
	}
	if candidate[:len(parent)] != parent {
		return false
	}
	sep := candidate[len(parent)]
	return sep == '/' || sep == '\\'
}

// Len reports the number of cached entries (test/diagnostic use).
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// heapItem is the deheap payload; it carries the Key so eviction can
// find and delete the matching map entry.
type heapItem struct {
	key   Key
	entry *Entry
}

// entryHeap implements deheap.Interface (container/heap.Interface plus
// Push/Pop), ordering by ascending counter so the minimum (oldest) pops
// first during eviction.
type entryHeap []*heapItem

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	return h[i].entry.counter < h[j].entry.counter
}
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].entry.heapIndex = i
	h[j].entry.heapIndex = j
}

func (h *entryHeap) Push(x any) {
	item := x.(*heapItem)
	item.entry.heapIndex = len(*h)
	*h = append(*h, item)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	item.entry.heapIndex = -1
	return item
}
