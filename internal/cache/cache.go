// Package cache is a bounded in-memory cache of recently-read property
// bags, consulted by get_properties and find before hitting the metadata
// store on disk.
package cache

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// PropertyCache caches one property bag per object id.
type PropertyCache struct {
	lru *lru.Cache[string, map[string][]byte]
}

// New creates a PropertyCache holding up to size entries.
func New(size int) (*PropertyCache, error) {
	c, err := lru.New[string, map[string][]byte](size)
	if err != nil {
		return nil, err
	}
	return &PropertyCache{lru: c}, nil
}

// Get returns id's cached property bag, if present.
func (c *PropertyCache) Get(id string) (map[string][]byte, bool) {
	return c.lru.Get(id)
}

// Set caches id's property bag, replacing any prior entry.
func (c *PropertyCache) Set(id string, bag map[string][]byte) {
	c.lru.Add(id, bag)
}

// Invalidate removes id's cached entry, called on every update/delete so
// a stale bag is never served after a write.
func (c *PropertyCache) Invalidate(id string) {
	c.lru.Remove(id)
}

// Len reports the number of cached entries.
func (c *PropertyCache) Len() int {
	return c.lru.Len()
}
