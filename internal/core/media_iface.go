package core

import "context"

type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

// ICEState is the reduced ICE transport state the session reacts to.
type ICEState string

const (
	ICECompleted    ICEState = "completed"
	ICEDisconnected ICEState = "disconnected"
	ICEClosed       ICEState = "closed"
)

type ICEParameters struct {
	UsernameFragment string `json:"usernameFragment"`
	Password         string `json:"password"`
}

type ICECandidate struct {
	Foundation string `json:"foundation"`
	Priority   uint32 `json:"priority"`
	Address    string `json:"address"`
	Protocol   string `json:"protocol"`
	Port       uint16 `json:"port"`
	Type       string `json:"type"`
}

type DTLSFingerprint struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

type DTLSParameters struct {
	Role         string            `json:"role"`
	Fingerprints []DTLSFingerprint `json:"fingerprints"`
}

type RTPParameters struct {
	MimeType    string `json:"mimeType"`
	PayloadType uint8  `json:"payloadType"`
	SSRC        uint32 `json:"ssrc"`
	ClockRate   uint32 `json:"clockRate"`
	Channels    uint16 `json:"channels"`
}

type RTPCodecCapability struct {
	MimeType  string `json:"mimeType"`
	ClockRate uint32 `json:"clockRate"`
	Channels  uint16 `json:"channels"`
}

// ConnectParams carries the client's end of the transport negotiation.
type ConnectParams struct {
	ICE  ICEParameters  `json:"iceParameters"`
	DTLS DTLSParameters `json:"dtlsParameters"`
}

// Producer is one media stream source placed on a transport.
type Producer interface {
	ID() string
	Kind() MediaKind
	Closed() bool
	Close()
}

// Transport is a negotiated endpoint owned by exactly one session.
// Close and ICE-state callbacks may fire from engine goroutines; registering
// a nil callback detaches the previous one.
type Transport interface {
	ID() string
	ICEParameters() ICEParameters
	ICECandidates() []ICECandidate
	DTLSParameters() DTLSParameters
	Connect(ctx context.Context, params ConnectParams) error
	Produce(ctx context.Context, kind MediaKind, rtp RTPParameters) (Producer, error)
	SetMaxIncomingBitrate(bps int)
	OnICEStateChange(fn func(ICEState))
	OnClose(fn func())
	Closed() bool
	Close()
}

// MediaEngine hands out transports. ICE/DTLS/RTP handling stays behind it.
type MediaEngine interface {
	CodecCapabilities() []RTPCodecCapability
	CreateTransport(ctx context.Context, roomKey string) (Transport, error)
}
