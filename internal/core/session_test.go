package core

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/hiccup-im/media-signal/internal/domain"
)

type fakeProducer struct {
	id   string
	kind MediaKind

	mu     sync.Mutex
	closed bool
}

func (p *fakeProducer) ID() string      { return p.id }
func (p *fakeProducer) Kind() MediaKind { return p.kind }

func (p *fakeProducer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakeProducer) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

type fakeTransport struct {
	id string

	mu         sync.Mutex
	closed     bool
	closeCount int
	bitrate    int
	onICE      func(ICEState)
	onClose    func()
}

func (t *fakeTransport) ID() string { return t.id }
func (t *fakeTransport) ICEParameters() ICEParameters {
	return ICEParameters{UsernameFragment: "uf", Password: "pw"}
}
func (t *fakeTransport) ICECandidates() []ICECandidate { return nil }
func (t *fakeTransport) DTLSParameters() DTLSParameters {
	return DTLSParameters{Role: "auto"}
}

func (t *fakeTransport) Connect(ctx context.Context, params ConnectParams) error { return nil }

func (t *fakeTransport) Produce(ctx context.Context, kind MediaKind, rtp RTPParameters) (Producer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, fmt.Errorf("transport closed")
	}
	return &fakeProducer{id: "p-" + t.id, kind: kind}, nil
}

func (t *fakeTransport) SetMaxIncomingBitrate(bps int) {
	t.mu.Lock()
	t.bitrate = bps
	t.mu.Unlock()
}

func (t *fakeTransport) OnICEStateChange(fn func(ICEState)) {
	t.mu.Lock()
	t.onICE = fn
	t.mu.Unlock()
}

func (t *fakeTransport) OnClose(fn func()) {
	t.mu.Lock()
	t.onClose = fn
	t.mu.Unlock()
}

func (t *fakeTransport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *fakeTransport) Close() {
	t.mu.Lock()
	t.closed = true
	t.closeCount++
	fn := t.onClose
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (t *fakeTransport) pushICEState(state ICEState) {
	t.mu.Lock()
	fn := t.onICE
	t.mu.Unlock()
	if fn != nil {
		fn(state)
	}
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) record(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *eventRecorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

func (r *eventRecorder) count(kind EventKind) int {
	n := 0
	for _, k := range r.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

func testClaims() *domain.TokenClaims {
	return &domain.TokenClaims{
		ServiceID:          "svc-1",
		RoomID:             "room-1",
		ServerID:           "tenant-1",
		DisplayName:        "alice",
		MaxIncomingBitrate: 96000,
		Nonce:              "n-1",
	}
}

func TestSessionAuthenticate(t *testing.T) {
	s := NewSession("sid-1")
	rec := &eventRecorder{}
	s.Observe(rec.record)

	if s.Authenticated() {
		t.Fatalf("fresh session authenticated")
	}
	if s.DisplayName() != domain.AnonymousName {
		t.Fatalf("displayName=%q, want %q", s.DisplayName(), domain.AnonymousName)
	}

	if err := s.Authenticate(testClaims()); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if !s.Authenticated() || s.DisplayName() != "alice" {
		t.Fatalf("authenticated=%v displayName=%q", s.Authenticated(), s.DisplayName())
	}
	if rec.count(EventAuthenticated) != 1 {
		t.Fatalf("authenticated events=%d, want 1", rec.count(EventAuthenticated))
	}

	if err := s.Authenticate(testClaims()); err != ErrAlreadyAuthenticated {
		t.Fatalf("second authenticate err=%v, want %v", err, ErrAlreadyAuthenticated)
	}
}

func TestSessionTransport(t *testing.T) {
	t.Run("attach wires ICE state mapping", func(t *testing.T) {
		s := NewSession("sid-1")
		rec := &eventRecorder{}
		s.Observe(rec.record)

		tr := &fakeTransport{id: "t-1"}
		s.AttachTransport(tr)
		if rec.count(EventTransportOpened) != 1 {
			t.Fatalf("opened events=%d", rec.count(EventTransportOpened))
		}

		tr.pushICEState(ICECompleted)
		tr.pushICEState(ICEDisconnected)
		tr.pushICEState(ICEClosed)
		if rec.count(EventTransportUserCompleted) != 1 ||
			rec.count(EventTransportUserDisconnected) != 1 ||
			rec.count(EventTransportUserClosed) != 1 {
			t.Fatalf("ICE events=%v", rec.kinds())
		}
	})

	t.Run("replacement closes the previous transport", func(t *testing.T) {
		s := NewSession("sid-1")
		first := &fakeTransport{id: "t-1"}
		second := &fakeTransport{id: "t-2"}
		s.AttachTransport(first)
		s.AttachTransport(second)
		if !first.Closed() {
			t.Fatalf("previous transport left open")
		}
		if s.Transport().ID() != "t-2" {
			t.Fatalf("transport=%s, want t-2", s.Transport().ID())
		}
	})

	t.Run("replacement detaches the old transport's callbacks", func(t *testing.T) {
		s := NewSession("sid-1")
		rec := &eventRecorder{}
		s.Observe(rec.record)

		first := &fakeTransport{id: "t-1"}
		s.AttachTransport(first)
		s.AttachTransport(&fakeTransport{id: "t-2"})

		// the old transport's teardown must not look like a live transition
		if rec.count(EventTransportClosed) != 0 {
			t.Fatalf("closed events from replaced transport: %v", rec.kinds())
		}
		first.pushICEState(ICEClosed)
		if rec.count(EventTransportUserClosed) != 0 {
			t.Fatalf("ICE events from replaced transport: %v", rec.kinds())
		}
	})

	t.Run("usable requires attached and open", func(t *testing.T) {
		s := NewSession("sid-1")
		if s.TransportUsable() {
			t.Fatalf("usable without transport")
		}
		tr := &fakeTransport{id: "t-1"}
		s.AttachTransport(tr)
		if !s.TransportUsable() {
			t.Fatalf("not usable after attach")
		}
		tr.Close()
		if s.TransportUsable() {
			t.Fatalf("usable after close")
		}
	})

	t.Run("bitrate ceiling applied from claims", func(t *testing.T) {
		s := NewSession("sid-1")
		if err := s.Authenticate(testClaims()); err != nil {
			t.Fatalf("authenticate: %v", err)
		}
		tr := &fakeTransport{id: "t-1"}
		s.AttachTransport(tr)
		tr.mu.Lock()
		defer tr.mu.Unlock()
		if tr.bitrate != 96000 {
			t.Fatalf("bitrate=%d, want 96000", tr.bitrate)
		}
	})
}

func TestSessionProducers(t *testing.T) {
	s := NewSession("sid-1")
	rec := &eventRecorder{}
	s.Observe(rec.record)

	first := &fakeProducer{id: "p-1", kind: KindAudio}
	second := &fakeProducer{id: "p-2", kind: KindAudio}

	if oldID := s.SetAudioProducer(first); oldID != "" {
		t.Fatalf("first set returned old id %q", oldID)
	}
	oldID := s.SetAudioProducer(second)
	if oldID != "p-1" {
		t.Fatalf("old id=%q, want p-1", oldID)
	}
	if !first.Closed() {
		t.Fatalf("replaced producer not closed")
	}
	if second.Closed() {
		t.Fatalf("new producer closed")
	}
	if s.AudioProducer().ID() != "p-2" {
		t.Fatalf("live producer=%s, want p-2", s.AudioProducer().ID())
	}

	if rec.count(EventAudioProducerUpdated) != 2 {
		t.Fatalf("update events=%d, want 2", rec.count(EventAudioProducerUpdated))
	}
	last := rec.events[len(rec.events)-1]
	if last.OldProducerID != "p-1" || last.NewProducerID != "p-2" {
		t.Fatalf("last event=%+v", last)
	}
}

func TestSessionRename(t *testing.T) {
	s := NewSession("sid-1")
	rec := &eventRecorder{}
	s.Observe(rec.record)

	s.Rename("bob")
	if s.DisplayName() != "bob" {
		t.Fatalf("displayName=%q", s.DisplayName())
	}
	if rec.count(EventDisplayNameChanged) != 1 {
		t.Fatalf("rename events=%d", rec.count(EventDisplayNameChanged))
	}
	if rec.events[len(rec.events)-1].DisplayName != "bob" {
		t.Fatalf("event name=%q", rec.events[len(rec.events)-1].DisplayName)
	}
}

func TestSessionDestroy(t *testing.T) {
	s := NewSession("sid-1")
	rec := &eventRecorder{}
	s.Observe(rec.record)

	tr := &fakeTransport{id: "t-1"}
	s.AttachTransport(tr)
	s.SetAudioProducer(&fakeProducer{id: "p-1", kind: KindAudio})

	s.Destroy()
	s.Destroy()

	tr.mu.Lock()
	closeCount := tr.closeCount
	tr.mu.Unlock()
	if closeCount != 1 {
		t.Fatalf("transport closed %d times, want 1", closeCount)
	}
	if rec.count(EventBeforeDestroy) != 1 || rec.count(EventDestroy) != 1 {
		t.Fatalf("destroy events=%v", rec.kinds())
	}
	if s.AudioProducer() != nil {
		t.Fatalf("producer reference survived destroy")
	}

	// listeners are detached; later transitions emit nothing
	before := len(rec.kinds())
	s.Rename("ghost")
	if len(rec.kinds()) != before {
		t.Fatalf("events after destroy: %v", rec.kinds())
	}
}
