package core

import (
	"github.com/rs/zerolog/log"

	"github.com/hiccup-im/media-signal/internal/domain"
)

// RoomNotifier announces a session's presence transitions to its peers.
// Presence goes to the tenant group with the room in the payload; the sender
// never receives its own announcements.
type RoomNotifier struct {
	groups Broadcaster
}

func NewRoomNotifier(groups Broadcaster) *RoomNotifier {
	return &RoomNotifier{groups: groups}
}

type JoinAnnouncement struct {
	Type        string        `json:"type"`
	UserID      domain.UserID `json:"userId"`
	Channel     domain.RoomID `json:"channel"`
	DisplayName string        `json:"displayName"`
}

type LeaveAnnouncement struct {
	Type    string        `json:"type"`
	UserID  domain.UserID `json:"userId"`
	Channel domain.RoomID `json:"channel"`
}

type RenameAnnouncement struct {
	Type        string        `json:"type"`
	UserID      domain.UserID `json:"userId"`
	DisplayName string        `json:"displayName"`
}

// Wire subscribes to the session's presence events. Call only after the
// session is authenticated: the announcements read its claims, which exist
// from that point on.
func (n *RoomNotifier) Wire(s *Session) {
	claims := s.Claims()
	if claims == nil {
		log.Error().Str("module", "core.notifier").Str("sid", string(s.ID())).Msg("wire called on unauthenticated session")
		return
	}
	tenant := string(claims.ServerID)

	s.Observe(func(ev Event) {
		switch ev.Kind {
		case EventTransportUserCompleted:
			n.groups.Broadcast(tenant, s.ID(), JoinAnnouncement{
				Type:        "userJoin",
				UserID:      s.UserID(),
				Channel:     claims.RoomID,
				DisplayName: s.DisplayName(),
			})
		case EventTransportUserClosed:
			n.groups.Broadcast(tenant, s.ID(), LeaveAnnouncement{
				Type:    "userLeave",
				UserID:  s.UserID(),
				Channel: claims.RoomID,
			})
		case EventDisplayNameChanged:
			n.groups.Broadcast(tenant, s.ID(), RenameAnnouncement{
				Type:        "userNameChanged",
				UserID:      s.UserID(),
				DisplayName: ev.DisplayName,
			})
		}
	})
}
