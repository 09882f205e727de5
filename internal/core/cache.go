package core

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"
)

// parked wraps a cached session so reclamation can be told apart from
// eviction: the LRU runs its eviction callback on explicit Remove too.
type parked struct {
	session   *Session
	reclaimed atomic.Bool
}

// ReconnectCache parks authenticated sessions across connection drops,
// keyed by the prior connection identifier. Eviction by capacity pressure
// or TTL destroys the parked session before the reference is dropped.
type ReconnectCache struct {
	mu      sync.Mutex
	entries *expirable.LRU[SessionID, *parked]
}

func NewReconnectCache(capacity int, ttl time.Duration) *ReconnectCache {
	c := &ReconnectCache{}
	c.entries = expirable.NewLRU[SessionID, *parked](capacity, c.onEvict, ttl)
	return c
}

func (c *ReconnectCache) onEvict(sid SessionID, p *parked) {
	if p.reclaimed.Load() {
		return
	}
	log.Info().Str("module", "core.cache").Str("sid", string(sid)).Msg("evicting parked session")
	p.session.Destroy()
}

// Park stores a disconnected session for later recovery. Only authenticated
// sessions belong here; unauthenticated ones are destroyed at disconnect.
// A different session already parked under sid is destroyed first: the LRU's
// Add updates an existing key in place without running the eviction callback,
// so the displaced session would otherwise leak its transport.
func (c *ReconnectCache) Park(sid SessionID, s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.entries.Get(sid); ok && prev.session != s {
		log.Warn().Str("module", "core.cache").Str("sid", string(sid)).Msg("destroying displaced parked session")
		c.entries.Remove(sid)
	}
	c.entries.Add(sid, &parked{session: s})
	log.Info().Str("module", "core.cache").Str("sid", string(sid)).Msg("parked session")
}

// Reclaim removes and returns the parked session for sid, if still present
// and not expired. The reclaimed session is handed back intact.
func (c *ReconnectCache) Reclaim(sid SessionID) (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.entries.Get(sid)
	if !ok {
		return nil, false
	}
	p.reclaimed.Store(true)
	c.entries.Remove(sid)
	log.Info().Str("module", "core.cache").Str("sid", string(sid)).Msg("reclaimed session")
	return p.session, true
}

func (c *ReconnectCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}
