package auth

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// NonceCache remembers nonces seen inside the replay window. It is bounded:
// at capacity the least recently used entry is dropped, and entries older
// than the window expire on their own. Safe for concurrent use.
type NonceCache struct {
	entries *expirable.LRU[string, time.Time]
}

func NewNonceCache(capacity int, window time.Duration) *NonceCache {
	return &NonceCache{
		entries: expirable.NewLRU[string, time.Time](capacity, nil, window),
	}
}

// Used reports whether the nonce was already consumed within the window.
func (c *NonceCache) Used(nonce string) bool {
	_, used := c.entries.Get(nonce)
	return used
}

// Mark records the nonce as consumed, refreshing it if already present.
func (c *NonceCache) Mark(nonce string) {
	c.entries.Add(nonce, time.Now())
}

func (c *NonceCache) Len() int { return c.entries.Len() }
