// Package app holds the connection bookkeeping shared by the signal
// handlers: which connections are live and which broadcast groups they
// joined.
package app

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/hiccup-im/media-signal/internal/core"
)

type connEntry struct {
	conn   core.SignalConnection
	groups map[string]struct{}
}

// Groups tracks live signal connections and their group membership. It is
// the scoped-broadcast primitive: join a connection to named groups (room,
// tenant), fan payloads out to a group minus the sender.
type Groups struct {
	mu      sync.RWMutex
	conns   map[core.SessionID]*connEntry
	members map[string]map[core.SessionID]struct{}
}

func NewGroups() *Groups {
	return &Groups{
		conns:   make(map[core.SessionID]*connEntry),
		members: make(map[string]map[core.SessionID]struct{}),
	}
}

// Bind registers a live connection for sid, replacing any previous one.
// Group membership carries over, so a recovered connection keeps its rooms.
func (g *Groups) Bind(sid core.SessionID, conn core.SignalConnection) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if e, ok := g.conns[sid]; ok {
		e.conn = conn
		return
	}
	g.conns[sid] = &connEntry{conn: conn, groups: make(map[string]struct{})}
	log.Info().Str("module", "app.groups").Str("sid", string(sid)).Msg("bound connection")
}

// Join adds sid to a named broadcast group.
func (g *Groups) Join(sid core.SessionID, group string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.conns[sid]
	if !ok {
		return
	}
	e.groups[group] = struct{}{}
	if g.members[group] == nil {
		g.members[group] = make(map[core.SessionID]struct{})
	}
	g.members[group][sid] = struct{}{}
	log.Info().Str("module", "app.groups").Str("sid", string(sid)).Str("group", group).Msg("joined group")
}

// Unbind drops the connection and all its group memberships.
func (g *Groups) Unbind(sid core.SessionID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.conns[sid]
	if !ok {
		return
	}
	for group := range e.groups {
		delete(g.members[group], sid)
		if len(g.members[group]) == 0 {
			delete(g.members, group)
		}
	}
	delete(g.conns, sid)
	log.Info().Str("module", "app.groups").Str("sid", string(sid)).Msg("unbound connection")
}

// Broadcast sends v to every member of group except exclude. Send failures
// (backpressure, closed connections) are logged and skipped; one slow peer
// never blocks the rest.
func (g *Groups) Broadcast(group string, exclude core.SessionID, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.groups").Str("group", group).Msg("broadcast marshal")
		return
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	sent := 0
	for sid := range g.members[group] {
		if sid == exclude {
			continue
		}
		e, ok := g.conns[sid]
		if !ok {
			continue
		}
		if err := e.conn.TrySend(core.Frame(b)); err != nil {
			log.Warn().Err(err).Str("module", "app.groups").Str("sid", string(sid)).Msg("broadcast drop")
			continue
		}
		sent++
	}
	log.Debug().Str("module", "app.groups").Str("group", group).Int("sent_to", sent).Msg("broadcast result")
}
