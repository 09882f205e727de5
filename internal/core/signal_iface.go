package core

// Frame is a serialized signal payload.
type Frame []byte

// SessionID identifies one logical connection. It is reused when a dropped
// connection recovers.
type SessionID string

// SignalConnection abstracts the system messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// Broadcaster fans a payload out to every member of a named group, excluding
// one session (usually the sender).
type Broadcaster interface {
	Broadcast(group string, exclude SessionID, v any)
}
