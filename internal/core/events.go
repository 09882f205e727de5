package core

// EventKind enumerates the session lifecycle transitions observers can react
// to. Events are dispatched through callbacks registered with
// Session.Observe; there is no global bus.
type EventKind int

const (
	EventAuthenticated EventKind = iota
	EventTransportOpened
	EventTransportClosed
	EventTransportUserCompleted
	EventTransportUserDisconnected
	EventTransportUserClosed
	EventAudioProducerUpdated
	EventVideoProducerUpdated
	EventDisplayNameChanged
	EventBeforeDestroy
	EventDestroy
)

// Event carries the kind plus the payload fields that kind uses.
type Event struct {
	Kind          EventKind
	DisplayName   string
	OldProducerID string
	NewProducerID string
}

// EventHandler observes session events. Handlers run synchronously on the
// goroutine that triggered the transition and must not call back into the
// session's mutating methods.
type EventHandler func(Event)
