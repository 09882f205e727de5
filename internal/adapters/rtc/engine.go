// Package rtc implements the media engine on pion's ORTC-style API: one ICE
// gatherer/transport and one DTLS transport per negotiated endpoint, RTP
// receivers as producers. Opus audio only, matching the signaling plane.
package rtc

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/hiccup-im/media-signal/internal/core"
)

var (
	ErrTransportClosed = errors.New("transport closed")
	ErrUnsupportedKind = errors.New("unsupported media kind")
)

type EngineConfig struct {
	// PublicIP is announced in host candidates when set.
	PublicIP string
	MinPort  uint16
	MaxPort  uint16
}

type Engine struct {
	api    *webrtc.API
	codecs []core.RTPCodecCapability
}

func NewEngine(cfg EngineConfig) (*Engine, error) {
	se := webrtc.SettingEngine{}
	se.SetLite(true)
	if cfg.MinPort > 0 && cfg.MaxPort >= cfg.MinPort {
		if err := se.SetEphemeralUDPPortRange(cfg.MinPort, cfg.MaxPort); err != nil {
			return nil, err
		}
	}
	if cfg.PublicIP != "" {
		se.SetNAT1To1IPs([]string{cfg.PublicIP}, webrtc.ICECandidateTypeHost)
	}

	me := &webrtc.MediaEngine{}
	opus := webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: 111,
	}
	if err := me.RegisterCodec(opus, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, err
	}

	return &Engine{
		api: webrtc.NewAPI(webrtc.WithMediaEngine(me), webrtc.WithSettingEngine(se)),
		codecs: []core.RTPCodecCapability{
			{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		},
	}, nil
}

func (e *Engine) CodecCapabilities() []core.RTPCodecCapability { return e.codecs }

// CreateTransport builds a fully gathered endpoint for one participant.
// Gathering is bounded by ctx.
func (e *Engine) CreateTransport(ctx context.Context, roomKey string) (core.Transport, error) {
	gatherer, err := e.api.NewICEGatherer(webrtc.ICEGatherOptions{})
	if err != nil {
		return nil, err
	}
	ice := e.api.NewICETransport(gatherer)
	dtls, err := e.api.NewDTLSTransport(ice, nil)
	if err != nil {
		_ = gatherer.Close()
		return nil, err
	}

	done := make(chan struct{})
	gatherer.OnLocalCandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			close(done)
		}
	})
	if err := gatherer.Gather(); err != nil {
		_ = gatherer.Close()
		return nil, err
	}
	select {
	case <-done:
	case <-ctx.Done():
		_ = gatherer.Close()
		return nil, ctx.Err()
	}

	iceParams, err := gatherer.GetLocalParameters()
	if err != nil {
		_ = gatherer.Close()
		return nil, err
	}
	candidates, err := gatherer.GetLocalCandidates()
	if err != nil {
		_ = gatherer.Close()
		return nil, err
	}
	dtlsParams, err := dtls.GetLocalParameters()
	if err != nil {
		_ = gatherer.Close()
		return nil, err
	}

	t := &transport{
		id:         uuid.NewString(),
		roomKey:    roomKey,
		api:        e.api,
		gatherer:   gatherer,
		ice:        ice,
		dtls:       dtls,
		iceParams:  core.ICEParameters{UsernameFragment: iceParams.UsernameFragment, Password: iceParams.Password},
		dtlsParams: toDTLSParameters(dtlsParams),
		candidates: toCandidates(candidates),
	}
	ice.OnConnectionStateChange(t.onICEState)

	log.Info().Str("module", "rtc").Str("transport", t.id).Str("room", roomKey).Msg("transport created")
	return t, nil
}

func toDTLSParameters(p webrtc.DTLSParameters) core.DTLSParameters {
	out := core.DTLSParameters{Role: "auto"}
	for _, fp := range p.Fingerprints {
		out.Fingerprints = append(out.Fingerprints, core.DTLSFingerprint{Algorithm: fp.Algorithm, Value: fp.Value})
	}
	return out
}

func toCandidates(cands []webrtc.ICECandidate) []core.ICECandidate {
	out := make([]core.ICECandidate, 0, len(cands))
	for _, c := range cands {
		out = append(out, core.ICECandidate{
			Foundation: c.Foundation,
			Priority:   c.Priority,
			Address:    c.Address,
			Protocol:   c.Protocol.String(),
			Port:       c.Port,
			Type:       c.Typ.String(),
		})
	}
	return out
}
