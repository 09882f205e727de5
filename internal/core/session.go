package core

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/hiccup-im/media-signal/internal/domain"
)

var ErrAlreadyAuthenticated = errors.New("session already authenticated")

// Session tracks one logical connection's negotiation state with the media
// engine: authentication, the current transport and its producers. The same
// instance survives brief disconnects via the reconnect cache.
//
// State mutates under the session mutex; events are emitted after the mutex
// is released, in transition order.
type Session struct {
	mu sync.Mutex

	sessionID SessionID
	userID    domain.UserID

	authenticated bool
	claims        *domain.TokenClaims
	displayName   string

	transport     Transport
	audioProducer Producer
	videoProducer Producer

	handlers  []EventHandler
	destroyed bool
}

func NewSession(sid SessionID) *Session {
	return &Session{
		sessionID:   sid,
		userID:      domain.NewUserID(),
		displayName: domain.AnonymousName,
	}
}

func (s *Session) ID() SessionID         { return s.sessionID }
func (s *Session) UserID() domain.UserID { return s.userID }

// Observe registers a handler for subsequent lifecycle events. Destroy
// detaches all handlers.
func (s *Session) Observe(fn EventHandler) {
	s.mu.Lock()
	s.handlers = append(s.handlers, fn)
	s.mu.Unlock()
}

func (s *Session) emit(ev Event) {
	s.mu.Lock()
	handlers := make([]EventHandler, len(s.handlers))
	copy(handlers, s.handlers)
	s.mu.Unlock()
	for _, fn := range handlers {
		fn(ev)
	}
}

// Authenticate records the verified claims and flips the session to
// authenticated. The transition is one-way and valid once per lifetime.
func (s *Session) Authenticate(claims *domain.TokenClaims) error {
	s.mu.Lock()
	if s.authenticated {
		s.mu.Unlock()
		return ErrAlreadyAuthenticated
	}
	s.authenticated = true
	s.claims = claims
	s.displayName = claims.DisplayName
	s.mu.Unlock()

	log.Info().Str("module", "core.session").Str("sid", string(s.sessionID)).Str("room", string(claims.RoomID)).Msg("session authenticated")
	s.emit(Event{Kind: EventAuthenticated})
	return nil
}

func (s *Session) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

// Claims returns the token claims, nil before authentication.
func (s *Session) Claims() *domain.TokenClaims {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.claims
}

func (s *Session) DisplayName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.displayName
}

// AttachTransport installs a freshly negotiated transport, replacing any
// previous one. Replacement is always explicit renegotiation: the old
// transport is closed, never silently dropped. Close and ICE callbacks are
// wired before the opened event fires.
func (s *Session) AttachTransport(t Transport) {
	s.mu.Lock()
	prev := s.transport
	s.transport = t
	bitrate := 0
	if s.claims != nil {
		bitrate = s.claims.MaxIncomingBitrate
	}
	s.mu.Unlock()

	if prev != nil {
		// Detach the old transport's callbacks before closing it, or its
		// teardown would surface as a live ICE-closed transition and announce
		// a bogus leave mid-renegotiation.
		prev.OnICEStateChange(nil)
		prev.OnClose(nil)
		if !prev.Closed() {
			prev.Close()
		}
	}
	if bitrate > 0 {
		t.SetMaxIncomingBitrate(bitrate)
	}
	t.OnClose(func() { s.emit(Event{Kind: EventTransportClosed}) })
	t.OnICEStateChange(s.onICEState)

	log.Info().Str("module", "core.session").Str("sid", string(s.sessionID)).Str("transport", t.ID()).Msg("transport attached")
	s.emit(Event{Kind: EventTransportOpened})
}

func (s *Session) onICEState(state ICEState) {
	switch state {
	case ICECompleted:
		s.emit(Event{Kind: EventTransportUserCompleted})
	case ICEDisconnected:
		s.emit(Event{Kind: EventTransportUserDisconnected})
	case ICEClosed:
		s.emit(Event{Kind: EventTransportUserClosed})
	}
}

// Transport returns the current transport, which may be nil or closed.
func (s *Session) Transport() Transport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transport
}

// TransportUsable reports whether a transport is attached and still open.
// The transport can close asynchronously at any point, so callers must
// re-check after every suspension, not only before.
func (s *Session) TransportUsable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transport != nil && !s.transport.Closed()
}

// SetAudioProducer installs a new audio producer, closing and discarding the
// previous one. Returns the replaced producer's id, empty if none.
func (s *Session) SetAudioProducer(p Producer) string {
	return s.setProducer(p, KindAudio)
}

// SetVideoProducer mirrors SetAudioProducer for the video kind.
func (s *Session) SetVideoProducer(p Producer) string {
	return s.setProducer(p, KindVideo)
}

func (s *Session) setProducer(p Producer, kind MediaKind) string {
	s.mu.Lock()
	var old Producer
	if kind == KindAudio {
		old = s.audioProducer
		s.audioProducer = p
	} else {
		old = s.videoProducer
		s.videoProducer = p
	}
	s.mu.Unlock()

	oldID := ""
	if old != nil {
		oldID = old.ID()
		if !old.Closed() {
			old.Close()
		}
	}
	newID := ""
	if p != nil {
		newID = p.ID()
	}
	ev := Event{Kind: EventAudioProducerUpdated, OldProducerID: oldID, NewProducerID: newID}
	if kind == KindVideo {
		ev.Kind = EventVideoProducerUpdated
	}
	s.emit(ev)
	return oldID
}

// AudioProducer returns the live audio producer, nil if none.
func (s *Session) AudioProducer() Producer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audioProducer
}

// Rename updates the display name and announces the change.
func (s *Session) Rename(name string) {
	s.mu.Lock()
	s.displayName = name
	s.mu.Unlock()
	s.emit(Event{Kind: EventDisplayNameChanged, DisplayName: name})
}

// Destroy releases the session's media resources and detaches observers.
// Safe to call repeatedly and from the reconnect cache's eviction path.
func (s *Session) Destroy() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	t := s.transport
	s.audioProducer = nil
	s.videoProducer = nil
	s.mu.Unlock()

	s.emit(Event{Kind: EventBeforeDestroy})
	if t != nil && !t.Closed() {
		t.Close()
	}
	s.emit(Event{Kind: EventDestroy})

	s.mu.Lock()
	s.handlers = nil
	s.mu.Unlock()
	log.Info().Str("module", "core.session").Str("sid", string(s.sessionID)).Msg("session destroyed")
}
