// Package ttscache implements the bounded, time-expiring response cache for
// synthesized audio. Entries are keyed by normalized text and hold the final
// µ-law wire frames, so a cache hit skips the TTS vendor and the transcode
// entirely.
package ttscache

import (
	"strings"
	"sync"
	"time"
	"unicode"
)

const (
	// MaxTextLen bounds what gets cached: only short phrases recur often
	// enough to be worth the memory.
	MaxTextLen = 100

	// DefaultCapacity is the entry limit; the oldest entry by creation time
	// is evicted when exceeded.
	DefaultCapacity = 50

	// DefaultTTL is how long an entry stays valid.
	DefaultTTL = time.Hour
)

// WarmPhrases are short acknowledgements common in a sales call, synthesized
// in the background on first use so the hot path hits the cache.
var WarmPhrases = []string{
	"Could you give me 30 seconds?",
	"I totally understand.",
	"That makes sense.",
	"Great question.",
	"Absolutely.",
	"No problem at all.",
	"I appreciate your time.",
	"Fair enough.",
}

// Option is a functional option for configuring a [Cache].
type Option func(*Cache)

// WithCapacity overrides the entry limit. Default: 50.
func WithCapacity(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// WithTTL overrides the entry lifetime. Default: 1 hour.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock overrides the time source, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

type entry struct {
	frames    [][]byte
	createdAt time.Time
}

// Cache is the process-global audio cache. Writes are serialized; readers
// receive the stored frame slices, which are treated as immutable after
// insertion.
type Cache struct {
	capacity int
	ttl      time.Duration
	now      func() time.Time

	mu      sync.RWMutex
	entries map[string]entry
}

// New creates a cache with the supplied options applied.
func New(opts ...Option) *Cache {
	c := &Cache{
		capacity: DefaultCapacity,
		ttl:      DefaultTTL,
		now:      time.Now,
		entries:  make(map[string]entry),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Key normalizes text into a cache key: trimmed, lowercased, punctuation
// stripped, whitespace collapsed.
func Key(text string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(text)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			sb.WriteRune(r)
		case unicode.IsSpace(r):
			sb.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}

// Cacheable reports whether text is eligible for caching.
func Cacheable(text string) bool {
	t := strings.TrimSpace(text)
	return t != "" && len(text) < MaxTextLen
}

// Get returns the cached frames for text, if present and unexpired.
func (c *Cache) Get(text string) ([][]byte, bool) {
	key := Key(text)
	if key == "" {
		return nil, false
	}

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.createdAt) >= c.ttl {
		c.mu.Lock()
		// Re-check under the write lock: the entry may have been refreshed.
		if cur, still := c.entries[key]; still && c.now().Sub(cur.createdAt) >= c.ttl {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return e.frames, true
}

// Put stores frames under the normalized key. Ineligible text (empty or at
// least [MaxTextLen] characters) is silently skipped. When the cache is over
// capacity the entry with the smallest creation timestamp is evicted.
func (c *Cache) Put(text string, frames [][]byte) {
	if !Cacheable(text) || len(frames) == 0 {
		return
	}
	key := Key(text)
	if key == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{frames: frames, createdAt: c.now()}
	for len(c.entries) > c.capacity {
		c.evictOldestLocked()
	}
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	first := true
	for k, e := range c.entries {
		if first || e.createdAt.Before(oldest) {
			oldestKey, oldest = k, e.createdAt
			first = false
		}
	}
	if !first {
		delete(c.entries, oldestKey)
	}
}
