package rtc

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/hiccup-im/media-signal/internal/core"
)

type transport struct {
	id      string
	roomKey string
	api     *webrtc.API

	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport

	iceParams  core.ICEParameters
	dtlsParams core.DTLSParameters
	candidates []core.ICECandidate

	mu         sync.Mutex
	closed     bool
	maxBitrate int
	onICE      func(core.ICEState)
	onClose    func()
}

func (t *transport) ID() string { return t.id }

func (t *transport) ICEParameters() core.ICEParameters { return t.iceParams }

func (t *transport) ICECandidates() []core.ICECandidate { return t.candidates }

func (t *transport) DTLSParameters() core.DTLSParameters { return t.dtlsParams }

// SetMaxIncomingBitrate records the receive ceiling from the token claims.
// pion has no transport-level cap; the value feeds REMB feedback upstream.
func (t *transport) SetMaxIncomingBitrate(bps int) {
	t.mu.Lock()
	t.maxBitrate = bps
	t.mu.Unlock()
	log.Debug().Str("module", "rtc").Str("transport", t.id).Int("bps", bps).Msg("max incoming bitrate set")
}

func (t *transport) OnICEStateChange(fn func(core.ICEState)) {
	t.mu.Lock()
	t.onICE = fn
	t.mu.Unlock()
}

func (t *transport) OnClose(fn func()) {
	t.mu.Lock()
	t.onClose = fn
	t.mu.Unlock()
}

func (t *transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Connect starts ICE and DTLS with the client's parameters. The server side
// is ICE-lite and always controlled.
func (t *transport) Connect(ctx context.Context, params core.ConnectParams) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTransportClosed
	}
	t.mu.Unlock()

	role := webrtc.ICERoleControlled
	remoteICE := webrtc.ICEParameters{
		UsernameFragment: params.ICE.UsernameFragment,
		Password:         params.ICE.Password,
	}
	if err := t.ice.Start(t.gatherer, remoteICE, &role); err != nil {
		return err
	}

	fps := make([]webrtc.DTLSFingerprint, 0, len(params.DTLS.Fingerprints))
	for _, fp := range params.DTLS.Fingerprints {
		fps = append(fps, webrtc.DTLSFingerprint{Algorithm: fp.Algorithm, Value: fp.Value})
	}
	return t.dtls.Start(webrtc.DTLSParameters{Role: webrtc.DTLSRoleAuto, Fingerprints: fps})
}

// Produce installs an RTP receiver for one incoming stream. Audio only.
func (t *transport) Produce(ctx context.Context, kind core.MediaKind, rtp core.RTPParameters) (core.Producer, error) {
	if kind != core.KindAudio {
		return nil, ErrUnsupportedKind
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrTransportClosed
	}
	t.mu.Unlock()

	recv, err := t.api.NewRTPReceiver(webrtc.RTPCodecTypeAudio, t.dtls)
	if err != nil {
		return nil, err
	}
	params := webrtc.RTPReceiveParameters{
		Encodings: []webrtc.RTPDecodingParameters{{
			RTPCodingParameters: webrtc.RTPCodingParameters{
				SSRC:        webrtc.SSRC(rtp.SSRC),
				PayloadType: webrtc.PayloadType(rtp.PayloadType),
			},
		}},
	}
	if err := recv.Receive(params); err != nil {
		return nil, err
	}

	p := &producer{id: uuid.NewString(), kind: kind, recv: recv}
	log.Info().Str("module", "rtc").Str("transport", t.id).Str("producer", p.id).Msg("producer created")
	return p, nil
}

func (t *transport) onICEState(state webrtc.ICETransportState) {
	var mapped core.ICEState
	switch state {
	// pion's lite agent settles in Connected where mediasoup-style servers
	// report completed.
	case webrtc.ICETransportStateConnected, webrtc.ICETransportStateCompleted:
		mapped = core.ICECompleted
	case webrtc.ICETransportStateDisconnected:
		mapped = core.ICEDisconnected
	case webrtc.ICETransportStateFailed, webrtc.ICETransportStateClosed:
		mapped = core.ICEClosed
	default:
		return
	}
	t.mu.Lock()
	fn := t.onICE
	t.mu.Unlock()
	if fn != nil {
		fn(mapped)
	}
}

func (t *transport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	onClose := t.onClose
	t.mu.Unlock()

	if err := t.dtls.Stop(); err != nil {
		log.Debug().Err(err).Str("module", "rtc").Str("transport", t.id).Msg("dtls stop")
	}
	if err := t.ice.Stop(); err != nil {
		log.Debug().Err(err).Str("module", "rtc").Str("transport", t.id).Msg("ice stop")
	}
	_ = t.gatherer.Close()
	if onClose != nil {
		onClose()
	}
	log.Info().Str("module", "rtc").Str("transport", t.id).Msg("transport closed")
}

type producer struct {
	id   string
	kind core.MediaKind
	recv *webrtc.RTPReceiver

	mu     sync.Mutex
	closed bool
}

func (p *producer) ID() string           { return p.id }
func (p *producer) Kind() core.MediaKind { return p.kind }

func (p *producer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *producer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	if err := p.recv.Stop(); err != nil {
		log.Debug().Err(err).Str("module", "rtc").Str("producer", p.id).Msg("receiver stop")
	}
}
