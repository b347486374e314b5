package cache

import (
	"strconv"
	"sync"
	"time"

	"saverino/pkg/models"
)

// DefaultTTL is the freshness window for remote responses
const DefaultTTL = 5 * time.Minute

// CacheEntry represents a cached item stamped with its store time
type CacheEntry struct {
	Value    interface{}
	StoredAt time.Time
}

// MemoryCache is an in-memory cache with lazy expiry: stale entries are
// dropped when a lookup finds them, never in the background.
type MemoryCache struct {
	items map[string]*CacheEntry
	mutex sync.Mutex
	ttl   time.Duration
	now   func() time.Time
}

// NewMemoryCache creates a new memory cache
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		items: make(map[string]*CacheEntry),
		ttl:   ttl,
		now:   time.Now,
	}
}

// SetClock replaces the time source. Intended for tests.
func (c *MemoryCache) SetClock(now func() time.Time) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.now = now
}

// Set stores a value in the cache
func (c *MemoryCache) Set(key string, value interface{}) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.items[key] = &CacheEntry{
		Value:    value,
		StoredAt: c.now(),
	}
}

// Get retrieves a value, deleting it if it has outlived the ttl
func (c *MemoryCache) Get(key string) (interface{}, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	entry, exists := c.items[key]
	if !exists {
		return nil, false
	}
	if c.now().Sub(entry.StoredAt) > c.ttl {
		delete(c.items, key)
		return nil, false
	}

	return entry.Value, true
}

// Delete removes a value from the cache
func (c *MemoryCache) Delete(key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	delete(c.items, key)
}

// Clear removes all items from the cache
func (c *MemoryCache) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.items = make(map[string]*CacheEntry)
}

// Size returns the number of items held, stale ones included
func (c *MemoryCache) Size() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return len(c.items)
}

// ResponseCache provides typed helpers for the two remote calls
type ResponseCache struct {
	*MemoryCache
}

// NewResponseCache creates a response cache with the given freshness window
func NewResponseCache(ttl time.Duration) *ResponseCache {
	return &ResponseCache{
		MemoryCache: NewMemoryCache(ttl),
	}
}

// keySep cannot appear in queries, ids or quality labels, so distinct
// argument tuples never share a key
const keySep = "\x00"

func searchKey(query string, page int) string {
	return "search" + keySep + query + keySep + strconv.Itoa(page)
}

func streamKey(trackID, quality string) string {
	return "download" + keySep + trackID + keySep + quality
}

// SetSearch caches a search envelope for (query, page)
func (rc *ResponseCache) SetSearch(query string, page int, resp *models.SearchResponse) {
	rc.Set(searchKey(query, page), resp)
}

// GetSearch retrieves a cached search envelope
func (rc *ResponseCache) GetSearch(query string, page int) (*models.SearchResponse, bool) {
	value, exists := rc.Get(searchKey(query, page))
	if !exists {
		return nil, false
	}

	resp, ok := value.(*models.SearchResponse)
	return resp, ok
}

// SetStreamURL caches a resolved stream URL for (trackID, quality)
func (rc *ResponseCache) SetStreamURL(trackID, quality, url string) {
	rc.Set(streamKey(trackID, quality), url)
}

// GetStreamURL retrieves a cached stream URL
func (rc *ResponseCache) GetStreamURL(trackID, quality string) (string, bool) {
	value, exists := rc.Get(streamKey(trackID, quality))
	if !exists {
		return "", false
	}

	url, ok := value.(string)
	return url, ok
}
