// Package obscache caches the expensive part of block decode: turning
// a block's columnar bytes back into []block.DocOp (spec §4.5/§6.3).
// It is grounded on the teacher's pkg/cache/query_cache.go (an LRU
// keyed by a content digest, with hit/miss counters), adapted here to
// use github.com/hashicorp/golang-lru/v2 instead of the teacher's
// hand-rolled container/list LRU, since the pack already carries a
// maintained LRU library and the teacher's map+list is the thing
// being replaced, not a concern with no library available.
package obscache

import (
	"crypto/sha256"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"crdtdoc/pkg/block"
	"crdtdoc/pkg/opid"
)

// DefaultCapacity is used when New is given a non-positive capacity.
const DefaultCapacity = 256

type digest = [32]byte

// Cache memoizes block.DecodeCols by the sha256 digest of the encoded
// block bytes: a block is only ever rewritten (never mutated), so the
// same bytes always decode to the same ops and the digest is a valid
// cache key.
type Cache struct {
	mu     sync.Mutex
	lru    *lru.Cache[digest, []block.DocOp]
	hits   int64
	misses int64
}

// New creates a Cache holding up to capacity decoded blocks.
func New(capacity int) (*Cache, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	l, err := lru.New[digest, []block.DocOp](capacity)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: l}, nil
}

// Decode returns buf's decoded ops, consulting the cache first and
// populating it on a miss.
func (c *Cache) Decode(buf []byte, table []opid.Actor) ([]block.DocOp, error) {
	key := sha256.Sum256(buf)

	c.mu.Lock()
	if ops, ok := c.lru.Get(key); ok {
		c.hits++
		c.mu.Unlock()
		return ops, nil
	}
	c.mu.Unlock()

	ops, err := block.DecodeCols(buf, table)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.lru.Add(key, ops)
	c.misses++
	c.mu.Unlock()
	return ops, nil
}

// Stats reports cumulative hit/miss counts.
func (c *Cache) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// Purge evicts every cached entry.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}
