/*
File Name:  Message Dedup.go
Copyright:  2025 Meshchat s.r.o.
Author:     Meshchat Developers

Time-bounded seen-message cache. The message key is sender : timestamp : type;
only a 16-byte hash of the key is stored. When the cache overflows, the oldest
20% of entries are evicted by arrival time.
*/

package core

import (
	"sort"
	"sync"
	"time"

	"github.com/meshchat/core/protocol"
)

// Deduplicator is the seen-message cache.
type Deduplicator struct {
	entries  map[[16]byte]time.Time
	capacity int
	maxAge   time.Duration
	sync.Mutex
}

// NewDeduplicator creates a cache with the given capacity and entry lifetime.
func NewDeduplicator(capacity int, maxAge time.Duration) *Deduplicator {
	return &Deduplicator{
		entries:  make(map[[16]byte]time.Time),
		capacity: capacity,
		maxAge:   maxAge,
	}
}

// IsDuplicate reports whether the key was seen before. A first sighting is
// recorded and reported as false.
func (d *Deduplicator) IsDuplicate(key string) bool {
	digest := protocol.HashDataShort([]byte(key))

	d.Lock()
	defer d.Unlock()

	if _, seen := d.entries[digest]; seen {
		return true
	}

	if len(d.entries) >= d.capacity {
		d.evictOldest()
	}

	d.entries[digest] = time.Now()
	return false
}

// evictOldest drops the oldest 20% of entries by arrival time. Caller holds the lock.
func (d *Deduplicator) evictOldest() {
	type aged struct {
		key  [16]byte
		when time.Time
	}

	all := make([]aged, 0, len(d.entries))
	for key, when := range d.entries {
		all = append(all, aged{key: key, when: when})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].when.Before(all[j].when) })

	evict := len(all) / 5
	if evict == 0 {
		evict = 1
	}
	for n := 0; n < evict; n++ {
		delete(d.entries, all[n].key)
	}
}

// Sweep drops all entries older than the max age. Called by the maintenance loop.
func (d *Deduplicator) Sweep() (removed int) {
	threshold := time.Now().Add(-d.maxAge)

	d.Lock()
	defer d.Unlock()

	for key, when := range d.entries {
		if when.Before(threshold) {
			delete(d.entries, key)
			removed++
		}
	}

	return removed
}

// Count returns the number of cached entries.
func (d *Deduplicator) Count() int {
	d.Lock()
	defer d.Unlock()

	return len(d.entries)
}
