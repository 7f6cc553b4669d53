package playback

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/yldhj/daftmapler/pkg/audio"
)

// Cache maps locators to decoded buffers. Entries are immutable and never
// evicted; the key set is bounded by the sound-effect catalog. Concurrent
// first loads of one locator share a single decode. Failed loads are not
// cached, so a later request retries.
type Cache struct {
	loader Loader

	mu      sync.RWMutex
	entries map[string]*audio.Buffer
	group   singleflight.Group
}

// NewCache creates an empty [Cache] that fills itself from loader.
func NewCache(loader Loader) *Cache {
	return &Cache{
		loader:  loader,
		entries: make(map[string]*audio.Buffer),
	}
}

// Get returns the buffer for locator, loading it on first use. Every call
// after the first successful load returns the identical *audio.Buffer.
func (c *Cache) Get(ctx context.Context, locator string) (*audio.Buffer, error) {
	if buf, ok := c.lookup(locator); ok {
		return buf, nil
	}

	v, err, _ := c.group.Do(locator, func() (any, error) {
		if buf, ok := c.lookup(locator); ok {
			return buf, nil
		}
		buf, err := c.loader.Load(ctx, locator)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[locator] = buf
		c.mu.Unlock()
		return buf, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*audio.Buffer), nil
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) lookup(locator string) (*audio.Buffer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	buf, ok := c.entries[locator]
	return buf, ok
}
