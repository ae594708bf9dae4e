package cache

import (
	"container/list"
	"context"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultMemorySize bounds the number of entries a MemoryCache holds.
const DefaultMemorySize = 10000

// MemoryCache is an in-process Cache with TTLs and LRU eviction.
type MemoryCache struct {
	mu          sync.Mutex
	entries     map[string]*memoryEntry
	lru         *list.List
	maxSize     int
	now         func() time.Time
	stopCleanup chan struct{}
	cleanupDone chan struct{}
	closeOnce   sync.Once
}

type memoryEntry struct {
	key     string
	value   []byte
	expires time.Time // zero means no expiry
	element *list.Element
}

// NewMemoryCache creates a MemoryCache holding at most DefaultMemorySize entries.
func NewMemoryCache() *MemoryCache {
	return NewMemoryCacheWithSize(DefaultMemorySize, time.Minute)
}

// NewMemoryCacheWithSize creates a MemoryCache with a custom bound and sweep interval.
func NewMemoryCacheWithSize(maxSize int, sweepEvery time.Duration) *MemoryCache {
	if maxSize <= 0 {
		maxSize = DefaultMemorySize
	}
	c := &MemoryCache{
		entries:     make(map[string]*memoryEntry),
		lru:         list.New(),
		maxSize:     maxSize,
		now:         time.Now,
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}
	go c.cleanup(sweepEvery)
	return c
}

// live returns the entry for key unless it is missing or expired. Caller holds mu.
func (c *MemoryCache) live(key string, now time.Time) (*memoryEntry, bool) {
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !entry.expires.IsZero() && !now.Before(entry.expires) {
		c.removeLocked(entry)
		return nil, false
	}
	return entry, true
}

func (c *MemoryCache) removeLocked(entry *memoryEntry) {
	c.lru.Remove(entry.element)
	delete(c.entries, entry.key)
}

func (c *MemoryCache) putLocked(key string, value []byte, ttl time.Duration, now time.Time) {
	var expires time.Time
	if ttl > 0 {
		expires = now.Add(ttl)
	}
	stored := append([]byte(nil), value...)

	if entry, ok := c.entries[key]; ok {
		entry.value = stored
		entry.expires = expires
		c.lru.MoveToFront(entry.element)
		return
	}

	if len(c.entries) >= c.maxSize {
		if back := c.lru.Back(); back != nil {
			c.removeLocked(back.Value.(*memoryEntry))
		}
	}

	entry := &memoryEntry{key: key, value: stored, expires: expires}
	entry.element = c.lru.PushFront(entry)
	c.entries[key] = entry
}

// Get returns a copy of the stored value or ErrMiss.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.live(key, now)
	if !ok {
		return nil, ErrMiss
	}
	c.lru.MoveToFront(entry.element)
	return append([]byte(nil), entry.value...), nil
}

// Set stores value with ttl. A non-positive ttl never expires.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	c.putLocked(key, value, ttl, now)
	return nil
}

// SetNX stores value only when key is absent or expired.
func (c *MemoryCache) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.live(key, now); ok {
		return false, nil
	}
	c.putLocked(key, value, ttl, now)
	return true, nil
}

// Delete removes keys.
func (c *MemoryCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range keys {
		if entry, ok := c.entries[key]; ok {
			c.removeLocked(entry)
		}
	}
	return nil
}

// Incr increments a decimal counter, keeping its current expiry.
func (c *MemoryCache) Incr(_ context.Context, key string) (int64, error) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	var n int64
	if entry, ok := c.live(key, now); ok {
		current, err := strconv.ParseInt(string(entry.value), 10, 64)
		if err != nil {
			return 0, err
		}
		n = current + 1
		entry.value = []byte(strconv.FormatInt(n, 10))
		c.lru.MoveToFront(entry.element)
		return n, nil
	}
	n = 1
	c.putLocked(key, []byte("1"), 0, now)
	return n, nil
}

// ScanDelete removes every key beginning with prefix.
func (c *MemoryCache) ScanDelete(_ context.Context, prefix string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var deleted int64
	for key, entry := range c.entries {
		if strings.HasPrefix(key, prefix) {
			c.removeLocked(entry)
			deleted++
		}
	}
	return deleted, nil
}

// Ping always succeeds.
func (c *MemoryCache) Ping(context.Context) error { return nil }

// Len returns the number of stored entries, expired ones included until swept.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close stops the sweeper.
func (c *MemoryCache) Close() error {
	c.closeOnce.Do(func() {
		close(c.stopCleanup)
		<-c.cleanupDone
	})
	return nil
}

// cleanup periodically removes expired entries.
func (c *MemoryCache) cleanup(every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	defer close(c.cleanupDone)

	for {
		select {
		case <-c.stopCleanup:
			return
		case <-ticker.C:
			now := c.now()
			c.mu.Lock()
			for _, entry := range c.entries {
				if !entry.expires.IsZero() && !now.Before(entry.expires) {
					c.removeLocked(entry)
				}
			}
			c.mu.Unlock()
		}
	}
}
