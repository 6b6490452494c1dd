// Package filecache implements the content-addressed store of
// script-generated artifacts (spec.md §3 "Generated file", §4.7).
package filecache

import (
	"crypto/md5"
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// HighWaterMark and LowWaterMark are the size bounds from spec.md §3
// invariant (iv): total size never exceeds HighWaterMark at rest, and an
// eviction pass brings it down to at most LowWaterMark.
const (
	HighWaterMark = 32 * 1024 * 1024
	LowWaterMark  = 16 * 1024 * 1024
)

// Entry is one generated artifact.
type Entry struct {
	Hash      string
	MIME      string
	Bytes     []byte
	CreatedAt time.Time
}

// Cache is a mapping hash -> Entry plus a running total size, guarded by a
// single mutex never held across I/O (spec.md §5). Ported from the
// original implementation's GeneratedFilesCollection
// (original_source/server-core/src/lib.rs): purge runs before insertion,
// and eviction is oldest-by-creation-timestamp first, not FIFO insertion
// order (SPEC_FULL.md §C.3/§C.4).
type Cache struct {
	mu        sync.Mutex
	byHash    map[string]Entry
	totalSize atomic.Int64
}

// New returns an empty generated-file cache.
func New() *Cache {
	return &Cache{byHash: make(map[string]Entry)}
}

// Hash returns the content-addressing hash (hex md5) for a byte buffer,
// per spec.md §3 "Generated file" ({sha-like hash (md5 of content, hex)}).
func Hash(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

// Add inserts a generated file. Content-addressed: if hash is already
// present, this is a no-op (spec.md §4.7). Runs eviction first, matching
// the original's purge-before-add ordering.
func (c *Cache) Add(mime string, bytes []byte, createdAt time.Time) Entry {
	hash := Hash(bytes)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.evictIfTooBigLocked()

	if existing, ok := c.byHash[hash]; ok {
		return existing
	}

	entry := Entry{Hash: hash, MIME: mime, Bytes: bytes, CreatedAt: createdAt}
	c.byHash[hash] = entry
	c.totalSize.Add(int64(len(bytes)))
	return entry
}

// Get looks up an entry by hash in constant time.
func (c *Cache) Get(hash string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.byHash[hash]
	return e, ok
}

// TotalSize reports the cache's current total byte size.
func (c *Cache) TotalSize() int64 {
	return c.totalSize.Load()
}

// Len reports the number of entries currently cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byHash)
}

func (c *Cache) evictIfTooBigLocked() {
	if c.totalSize.Load() < HighWaterMark {
		return
	}

	entries := make([]Entry, 0, len(c.byHash))
	for _, e := range c.byHash {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].CreatedAt.Before(entries[j].CreatedAt) })

	for _, e := range entries {
		if c.totalSize.Load() <= LowWaterMark {
			break
		}
		delete(c.byHash, e.Hash)
		c.totalSize.Sub(int64(len(e.Bytes)))
	}
}
